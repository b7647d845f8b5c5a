// Package urlnorm implements the pure, idempotent URL normalizer of §4.1:
// normalize, resolve and registrableDomain. None of these functions touch
// the network or any shared state.
package urlnorm

import (
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/crawlcore/ingestion/internal/errkind"
)

// defaultTrackingParams is the closed set of §4.1, used when a caller does
// not supply its own list (e.g. via config.Config.TrackingParams).
var defaultTrackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true,
	"fbclid": true, "gclid": true, "msclkid": true,
	"_ga": true, "mc_cid": true, "mc_eid": true,
}

// Normalizer applies §4.1's rules with a configurable tracking-parameter
// set. The zero value uses defaultTrackingParams.
type Normalizer struct {
	TrackingParams map[string]bool
}

// New builds a Normalizer from an explicit tracking-parameter list. A nil
// or empty list falls back to the closed default set.
func New(trackingParams []string) *Normalizer {
	if len(trackingParams) == 0 {
		return &Normalizer{TrackingParams: defaultTrackingParams}
	}
	set := make(map[string]bool, len(trackingParams))
	for _, p := range trackingParams {
		set[strings.ToLower(p)] = true
	}
	return &Normalizer{TrackingParams: set}
}

var defaultNormalizer = New(nil)

// Normalize is the package-level convenience wrapper over the default
// tracking-parameter set.
func Normalize(raw string) (string, error) { return defaultNormalizer.Normalize(raw) }

// Resolve is the package-level convenience wrapper over the default
// tracking-parameter set.
func Resolve(base, relative string) (string, error) { return defaultNormalizer.Resolve(base, relative) }

// Normalize maps a raw URL to its canonical form per §4.1: validated
// scheme, lowercase scheme/host, default port dropped, path dot-segments
// resolved, fragment dropped, tracking params removed, remaining params
// sorted lexicographically.
func (n *Normalizer) Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", errkind.New(errkind.InvalidUrl, "Normalize", raw, err)
	}
	return n.normalizeParsed(u, raw)
}

// Resolve joins relative against base, then normalizes the result.
func (n *Normalizer) Resolve(base, relative string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", errkind.New(errkind.InvalidUrl, "Resolve", base, err)
	}
	rel, err := url.Parse(strings.TrimSpace(relative))
	if err != nil {
		return "", errkind.New(errkind.InvalidUrl, "Resolve", relative, err)
	}
	resolved := baseURL.ResolveReference(rel)
	return n.normalizeParsed(resolved, relative)
}

func (n *Normalizer) normalizeParsed(u *url.URL, raw string) (string, error) {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", errkind.New(errkind.InvalidUrl, "Normalize", raw, nil)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", errkind.New(errkind.InvalidUrl, "Normalize", raw, nil)
	}

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	trailingSlash := strings.HasSuffix(u.Path, "/")
	cleaned := path.Clean(u.Path)
	if cleaned == "." || cleaned == "" {
		cleaned = "/"
	}
	if cleaned != "/" && trailingSlash && !strings.HasSuffix(cleaned, "/") {
		cleaned += "/"
	}

	query := n.filterQuery(u.RawQuery)

	out := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     cleaned,
		RawQuery: query,
	}
	if port != "" {
		out.Host = host + ":" + port
	}
	return out.String(), nil
}

// filterQuery drops tracking parameters, then re-emits the remainder
// sorted lexicographically by key as k=v&k=v..., or "" if nothing remains.
func (n *Normalizer) filterQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return ""
	}
	type kv struct{ k, v string }
	var kept []kv
	for key, vs := range values {
		if n.TrackingParams[strings.ToLower(key)] {
			continue
		}
		for _, v := range vs {
			kept = append(kept, kv{key, v})
		}
	}
	if len(kept) == 0 {
		return ""
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].k != kept[j].k {
			return kept[i].k < kept[j].k
		}
		return kept[i].v < kept[j].v
	})
	var b strings.Builder
	for i, p := range kept {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.v))
	}
	return b.String()
}

// RegistrableDomain returns the longest suffix of canonicalURL's host that
// a single party can register, e.g. "example.co.uk". Falls back to the
// plain hostname if the public suffix list has no opinion (private TLDs,
// IP literals, single-label hosts).
func RegistrableDomain(canonicalURL string) (string, error) {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return "", errkind.New(errkind.InvalidUrl, "RegistrableDomain", canonicalURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", errkind.New(errkind.InvalidUrl, "RegistrableDomain", canonicalURL, nil)
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// No eTLD+1 opinion (IP literal, localhost, single-label host): the
		// host itself is the finest-grained registrable unit we have.
		return host, nil
	}
	return domain, nil
}
