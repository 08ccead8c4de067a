package health

import (
	"regexp"
	"strings"
)

// Health reports end up on an HTTP endpoint and in log streams, so raw
// error text is scrubbed of anything that could identify hosts or leak
// secrets before it becomes a status message.
var (
	urlPattern        = regexp.MustCompile(`(?:https?|nats|wss?)://[^\s]+`)
	unixPathPattern   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPattern    = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipPattern         = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portPattern       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialPattern = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
	credentialWords   = []string{"password", "token", "key", "secret", "credential"}
)

// sanitizeMessage replaces URLs, filesystem paths, addresses and credential
// assignments with placeholder tokens. URLs go first since they contain
// path-shaped segments.
func sanitizeMessage(msg string) string {
	if msg == "" {
		return ""
	}

	out := urlPattern.ReplaceAllString(msg, "[URL]")
	out = unixPathPattern.ReplaceAllString(out, "[PATH]")
	out = windowsPattern.ReplaceAllString(out, "[PATH]")
	out = ipPattern.ReplaceAllString(out, "[IP]")
	out = portPattern.ReplaceAllString(out, "[PORT]")

	lower := strings.ToLower(out)
	for _, word := range credentialWords {
		if strings.Contains(lower, word) {
			out = credentialPattern.ReplaceAllString(out, "[REDACTED]")
			break
		}
	}
	return out
}
