package core

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const genericProviderMessage = "authorization with the broker failed"

// safeOAuthErrorCodes are standard RFC 6749 error codes. A provider message
// containing one of these is reduced to the code itself.
var safeOAuthErrorCodes = []string{
	"invalid_request",
	"invalid_client",
	"invalid_grant",
	"unauthorized_client",
	"unsupported_grant_type",
	"unsupported_response_type",
	"invalid_scope",
	"access_denied",
	"server_error",
	"temporarily_unavailable",
}

var (
	providerTextPolicy = bluemonday.StrictPolicy()

	ipv4Pattern     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	ipv6Pattern     = regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){2,7}[0-9a-fA-F]{1,4}\b`)
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	secretPattern   = regexp.MustCompile(`(?i)(secret|token|password|api[_-]?key|authorization|client_id|code)\s*[:=]\s*\S+|bearer\s+\S+`)
	longHexPattern  = regexp.MustCompile(`\b[0-9a-fA-F]{24,}\b`)
	uuidPattern     = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	userIDPattern   = regexp.MustCompile(`(?i)user[_ -]?id\s*[:=]?\s*\S+`)
	stackPattern    = regexp.MustCompile(`(?i)(goroutine \d+|\.go:\d+|panic:|stack trace|\bat [\w.$]+\()`)
	whitespaceChars = regexp.MustCompile(`\s+`)
)

// SanitizeProviderMessage reduces a provider or transport error message to
// something safe to show a caller. Known OAuth error codes survive; messages
// carrying secrets, addresses, identifiers or stack text are replaced with a
// generic message.
func SanitizeProviderMessage(message string) string {
	message = strings.TrimSpace(providerTextPolicy.Sanitize(message))
	if message == "" {
		return genericProviderMessage
	}
	lower := strings.ToLower(message)
	for _, code := range safeOAuthErrorCodes {
		if strings.Contains(lower, code) {
			return code
		}
	}
	if stackPattern.MatchString(message) {
		return genericProviderMessage
	}
	for _, pattern := range []*regexp.Regexp{
		secretPattern,
		ipv4Pattern,
		ipv6Pattern,
		emailPattern,
		uuidPattern,
		longHexPattern,
		userIDPattern,
	} {
		if pattern.MatchString(message) {
			return genericProviderMessage
		}
	}
	message = whitespaceChars.ReplaceAllString(message, " ")
	if len(message) > 200 {
		message = message[:200]
	}
	return message
}
