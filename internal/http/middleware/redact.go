package middleware

import (
	"net/http"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

var (
	secretParamRE = regexp.MustCompile(`(?i)(^|&)(token|access_token|api_key|x-amz-signature)=[^&]*`)
	uuidRE        = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-8][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE       = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so hex runs inside ids never look like phone numbers.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// scrubber removes credentials and personal data from request metadata
// before it is logged.
type scrubber struct {
	masked map[string]struct{}
}

func newScrubber(extraMasked []string) *scrubber {
	s := &scrubber{masked: map[string]struct{}{
		"authorization":       {},
		"cookie":              {},
		"set-cookie":          {},
		"proxy-authorization": {},
	}}
	for _, h := range extraMasked {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			s.masked[h] = struct{}{}
		}
	}
	return s
}

// text replaces secrets in query form first, then ids, emails and phone
// numbers. Ids go before phones or the phone pattern eats their digit groups.
func (s *scrubber) text(v string) string {
	if v == "" {
		return v
	}
	v = secretParamRE.ReplaceAllString(v, "${1}${2}="+redacted)
	v = uuidRE.ReplaceAllString(v, "[REDACTED:id]")
	v = emailRE.ReplaceAllString(v, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(v, "[REDACTED:phone]")
}

// headers flattens h with masked names blanked and the rest scrubbed.
func (s *scrubber) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := s.masked[strings.ToLower(k)]; ok {
			out[k] = redacted
			continue
		}
		out[k] = s.text(strings.Join(vv, ", "))
	}
	return out
}

// clip caps s at n bytes, marking the cut. n <= 0 disables it.
func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
