package fetcher

import "net/url"

// resolveAbsolute joins href against baseURL and filters to http(s),
// matching the teacher's resolveRelativeURL but restricted to the
// schemes §4.7 step 4 cares about ("filtered to http(s) only").
func resolveAbsolute(baseURL, href string) (string, bool) {
	rel, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(rel)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	return resolved.String(), true
}
