package fetcher

import (
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// parsedPage is the result of running step 4 of §4.7 over a fetched
// HTML body.
type parsedPage struct {
	Title         string
	MetaDesc      string
	Text          string
	Language      string
	OutboundLinks []string
}

const maxTextChars = 100_000

var removedTags = "script,style,nav,header,footer,aside,iframe"

var whitespaceRun = regexp.MustCompile(`\s+`)

// parsePage implements §4.7 step 4: title/meta/text/language/outbound-link
// extraction from an HTML body, using the teacher's own goquery-based
// parser for document traversal instead of hand-rolled tokenizing.
func parsePage(baseURL string, body io.Reader) (parsedPage, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return parsedPage{}, err
	}

	return parsedPage{
		Title:         extractTitle(doc),
		MetaDesc:      extractMetaDescription(doc),
		Text:          extractText(doc),
		Language:      extractLanguage(doc),
		OutboundLinks: extractOutboundLinks(doc, baseURL),
	}, nil
}

func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return "Untitled"
}

func extractMetaDescription(doc *goquery.Document) string {
	if content, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	if content, ok := doc.Find(`meta[property="og:description"]`).First().Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	return ""
}

func extractText(doc *goquery.Document) string {
	clone := doc.Clone()
	clone.Find(removedTags).Remove()
	raw := clone.Find("body").Text()
	collapsed := whitespaceRun.ReplaceAllString(strings.TrimSpace(raw), " ")
	if len(collapsed) > maxTextChars {
		collapsed = collapsed[:maxTextChars]
	}
	return collapsed
}

func extractLanguage(doc *goquery.Document) string {
	if lang, ok := doc.Find("html").First().Attr("lang"); ok && lang != "" {
		return lang
	}
	if content, ok := doc.Find(`meta[http-equiv="content-language"]`).First().Attr("content"); ok && content != "" {
		return content
	}
	return "en"
}

func extractOutboundLinks(doc *goquery.Document, baseURL string) []string {
	seen := make(map[string]bool)
	var out []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		abs, ok := resolveAbsolute(baseURL, href)
		if !ok || seen[abs] {
			return
		}
		seen[abs] = true
		out = append(out, abs)
	})
	return out
}
