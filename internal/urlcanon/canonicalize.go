// Package urlcanon folds URL variants of the same item into one comparable
// string.
package urlcanon

import (
	"net/url"
	"sort"
	"strings"
)

const (
	PlatformCommon    = "common"
	PlatformYouTube   = "youtube"
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
	PlatformTwitter   = "twitter"
	PlatformReddit    = "reddit"
)

// DefaultTrackingParams returns the built-in query parameter denylists keyed
// by platform. The "common" list applies to every URL, and any utm_* key is
// dropped regardless of configuration.
func DefaultTrackingParams() map[string][]string {
	return map[string][]string{
		PlatformCommon:    {"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"},
		PlatformYouTube:   {"t", "feature", "app", "si"},
		PlatformFacebook:  {"fbclid", "ref", "source", "hash"},
		PlatformInstagram: {"igshid", "img_index"},
		PlatformTwitter:   {"s", "ref_src", "ref_url"},
		PlatformReddit:    {},
	}
}

type Canonicalizer struct {
	tracking map[string]map[string]struct{}
}

// New builds a Canonicalizer from per-platform denylists. A nil map selects
// DefaultTrackingParams.
func New(tracking map[string][]string) *Canonicalizer {
	if tracking == nil {
		tracking = DefaultTrackingParams()
	}
	sets := make(map[string]map[string]struct{}, len(tracking))
	for platform, keys := range tracking {
		name := normalizePlatform(platform)
		set, ok := sets[name]
		if !ok {
			set = make(map[string]struct{}, len(keys))
			sets[name] = set
		}
		for _, key := range keys {
			key = strings.ToLower(strings.TrimSpace(key))
			if key == "" {
				continue
			}
			set[key] = struct{}{}
		}
	}
	return &Canonicalizer{tracking: sets}
}

// Platforms lists the platforms that carry a denylist, sorted.
func (c *Canonicalizer) Platforms() []string {
	out := make([]string, 0, len(c.tracking))
	for platform := range c.tracking {
		out = append(out, platform)
	}
	sort.Strings(out)
	return out
}

// Canonicalize never fails: input that cannot be parsed as an absolute URL
// comes back lowercased and trimmed.
func (c *Canonicalizer) Canonicalize(raw, platform string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	parsed, ok := parseAbsolute(trimmed)
	if !ok {
		return strings.ToLower(trimmed)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "http" {
		scheme = "https"
	}
	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	port := parsed.Port()
	if port == "80" || port == "443" {
		port = ""
	}

	path := parsed.EscapedPath()
	rawQuery := parsed.RawQuery
	host, path, rawQuery = rewriteHost(host, path, rawQuery)
	path = cleanPath(path)

	denied := c.deniedKeys(normalizePlatform(platform), InferPlatform(host))
	query := filterQuery(rawQuery, denied)

	var b strings.Builder
	b.Grow(len(trimmed))
	b.WriteString(scheme)
	b.WriteString("://")
	if strings.Contains(host, ":") {
		b.WriteString("[" + host + "]")
	} else {
		b.WriteString(host)
	}
	if port != "" {
		b.WriteString(":" + port)
	}
	b.WriteString(path)
	if query != "" {
		b.WriteString("?" + query)
	}
	return strings.ToLower(b.String())
}

// InferPlatform maps a host to the platform whose rules apply to it, or ""
// for hosts without platform rules.
func InferPlatform(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	switch {
	case hostIn(host, "youtube.com", "youtu.be", "youtube-nocookie.com"):
		return PlatformYouTube
	case hostIn(host, "facebook.com", "fb.com", "fb.watch"):
		return PlatformFacebook
	case hostIn(host, "instagram.com", "instagr.am"):
		return PlatformInstagram
	case hostIn(host, "twitter.com", "x.com"):
		return PlatformTwitter
	case hostIn(host, "reddit.com", "redd.it"):
		return PlatformReddit
	default:
		return ""
	}
}

func (c *Canonicalizer) deniedKeys(platforms ...string) []map[string]struct{} {
	sets := make([]map[string]struct{}, 0, len(platforms)+1)
	if set, ok := c.tracking[PlatformCommon]; ok {
		sets = append(sets, set)
	}
	for _, platform := range platforms {
		if platform == "" || platform == PlatformCommon {
			continue
		}
		if set, ok := c.tracking[platform]; ok {
			sets = append(sets, set)
		}
	}
	return sets
}

func parseAbsolute(trimmed string) (*url.URL, bool) {
	candidate := trimmed
	if !strings.Contains(candidate, "://") && looksLikeHost(candidate) {
		candidate = "https://" + candidate
	}
	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Scheme == "" || parsed.Hostname() == "" {
		return nil, false
	}
	return parsed, true
}

func looksLikeHost(s string) bool {
	first := s
	if i := strings.IndexAny(first, "/?#"); i >= 0 {
		first = first[:i]
	}
	return strings.Contains(first, ".") && !strings.ContainsAny(first, " @:")
}

func rewriteHost(host, path, rawQuery string) (string, string, string) {
	switch {
	case host == "youtu.be" || host == "www.youtu.be":
		if id := firstSegment(path); id != "" {
			return "www.youtube.com", "/watch", prependQuery("v="+id, rawQuery)
		}
		return "www.youtube.com", path, rawQuery
	case hostIn(host, "youtube.com") && !strings.HasPrefix(host, "music."):
		host = "www.youtube.com"
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/"} {
			if strings.HasPrefix(path, prefix) {
				if id := firstSegment(strings.TrimPrefix(path, prefix)); id != "" {
					return host, "/watch", prependQuery("v="+id, rawQuery)
				}
			}
		}
		return host, path, rawQuery
	case hostIn(host, "facebook.com"):
		return "www.facebook.com", path, rawQuery
	case hostIn(host, "twitter.com", "x.com"):
		return "x.com", path, rawQuery
	case hostIn(host, "instagram.com"):
		return "www.instagram.com", path, rawQuery
	case host == "redd.it":
		if id := firstSegment(path); id != "" {
			return "www.reddit.com", "/comments/" + id, rawQuery
		}
		return "www.reddit.com", path, rawQuery
	case hostIn(host, "reddit.com"):
		return "www.reddit.com", path, rawQuery
	default:
		return host, path, rawQuery
	}
}

func cleanPath(path string) string {
	path = strings.TrimSpace(path)
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}

// filterQuery drops denied keys while keeping survivors in their original
// order and encoding.
func filterQuery(rawQuery string, denied []map[string]struct{}) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" {
			continue
		}
		key := part
		if i := strings.IndexByte(part, '='); i >= 0 {
			key = part[:i]
		}
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if isTracking(key, denied) {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}

func isTracking(key string, denied []map[string]struct{}) bool {
	if strings.HasPrefix(key, "utm_") {
		return true
	}
	for _, set := range denied {
		if _, ok := set[key]; ok {
			return true
		}
	}
	return false
}

func firstSegment(path string) string {
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			return segment
		}
	}
	return ""
}

func prependQuery(param, rawQuery string) string {
	if rawQuery == "" {
		return param
	}
	return param + "&" + rawQuery
}

func hostIn(host string, domains ...string) bool {
	for _, domain := range domains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func normalizePlatform(platform string) string {
	p := strings.ToLower(strings.TrimSpace(platform))
	switch p {
	case "x":
		return PlatformTwitter
	case "yt":
		return PlatformYouTube
	case "fb":
		return PlatformFacebook
	case "ig":
		return PlatformInstagram
	default:
		return p
	}
}
