// Package attribution classifies raw click requests into traffic categories.
//
// All functions are pure: no I/O, no failure modes. Unknown or malformed
// inputs degrade to default categories rather than erroring, since attribution
// runs on the redirect hot path and must never block or fail it.
package attribution

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/linkpulse/linkpulse/internal/model"
)

// Geo headers injected by edge proxies, checked in order. This system does
// not perform its own IP geolocation.
var geoHeaders = []string{"X-Vercel-IP-Country", "CF-IPCountry"}

// Known social platforms matched as substrings of the referer. Order matters
// only for the twitter/x pair, where the host aliases share a token.
var platformTokens = []struct {
	match string
	token string
}{
	{"instagram", "instagram"},
	{"whatsapp", "whatsapp"},
	{"facebook", "facebook"},
	{"twitter", "twitter"},
	{"//x.com", "twitter"},
	{"//t.co", "twitter"},
	{"linkedin", "linkedin"},
	{"tiktok", "tiktok"},
	{"youtube", "youtube"},
	{"telegram", "telegram"},
	{"//t.me", "telegram"},
	{"pinterest", "pinterest"},
	{"snapchat", "snapchat"},
	{"reddit", "reddit"},
}

var (
	nonWordRe = regexp.MustCompile(`[^a-z0-9_]+`)
	tabletRe  = regexp.MustCompile(`ipad|tablet`)
	mobileRe  = regexp.MustCompile(`mobile|iphone|android`)
)

// Attribution is the classification result for one request.
type Attribution struct {
	Source     string `json:"source"`
	Country    string `json:"country"`
	DeviceType string `json:"device_type"`
}

// Resolve classifies a request into source, country and device type.
func Resolve(r *http.Request) Attribution {
	ua := r.Header.Get("User-Agent")
	return Attribution{
		Source:     ResolveSource(r.URL.Query(), r.Referer(), ua, r.Host),
		Country:    ResolveCountry(r.Header),
		DeviceType: ResolveDevice(r.Header, ua),
	}
}

// ResolveSource determines the traffic source token.
//
// Resolution order: explicit query param, known-platform referer match,
// cross-host referer ("referral"), QR scanner user agent ("qr_scan"),
// default "direct".
func ResolveSource(query url.Values, referer, userAgent, selfHost string) string {
	for _, key := range []string{"src", "source", "utm_source"} {
		if v := query.Get(key); v != "" {
			return normalizeToken(v)
		}
	}

	if referer != "" {
		lowered := strings.ToLower(referer)
		for _, p := range platformTokens {
			if strings.Contains(lowered, p.match) {
				return p.token
			}
		}
		if host := refererHost(referer); host != "" && !strings.EqualFold(host, selfHost) {
			return "referral"
		}
	}

	lowered := strings.ToLower(userAgent)
	if strings.Contains(lowered, "qr") || strings.Contains(lowered, "scanner") {
		return "qr_scan"
	}

	return model.SourceDirect
}

// ResolveCountry reads the edge-injected geo header.
// Returns "UNKNOWN" when no valid ISO-2 code is present.
func ResolveCountry(header http.Header) string {
	for _, name := range geoHeaders {
		if code := header.Get(name); len(code) == 2 && isAlpha(code) {
			return strings.ToUpper(code)
		}
	}
	return model.CountryUnknown
}

// ResolveDevice determines the device category.
//
// Resolution order: explicit hint header, Sec-CH-UA-Mobile client hint,
// user-agent heuristics, default "desktop". Returns "unknown" only when
// no user agent is present at all.
func ResolveDevice(header http.Header, userAgent string) string {
	switch strings.ToLower(header.Get("X-Device-Type")) {
	case model.DeviceMobile:
		return model.DeviceMobile
	case model.DeviceTablet:
		return model.DeviceTablet
	case model.DeviceDesktop:
		return model.DeviceDesktop
	}

	if header.Get("Sec-CH-UA-Mobile") == "?1" {
		return model.DeviceMobile
	}

	if userAgent == "" {
		return model.DeviceUnknown
	}

	lowered := strings.ToLower(userAgent)
	if tabletRe.MatchString(lowered) {
		return model.DeviceTablet
	}
	// Android without "mobile" is a tablet per UA convention.
	if strings.Contains(lowered, "android") && !strings.Contains(lowered, "mobile") {
		return model.DeviceTablet
	}
	if mobileRe.MatchString(lowered) {
		return model.DeviceMobile
	}
	return model.DeviceDesktop
}

// normalizeToken lowercases a source token and collapses non-word runs to "_".
func normalizeToken(v string) string {
	token := nonWordRe.ReplaceAllString(strings.ToLower(v), "_")
	token = strings.Trim(token, "_")
	if token == "" {
		return model.SourceDirect
	}
	return token
}

// refererHost extracts the host from a referer URL, empty when unparseable.
func refererHost(referer string) string {
	parsed, err := url.Parse(referer)
	if err != nil {
		return ""
	}
	return parsed.Host
}

func isAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') {
			continue
		}
		return false
	}
	return true
}
