package core

import "strings"

const RedactedValue = "[REDACTED]"

// Key fragments that mark credential material or broker account numbers.
// The OAuth state nonce counts: a leaked state lets a callback be forged
// within its TTL.
var sensitiveKeyFragments = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"api_key",
	"apikey",
	"access_key",
	"refresh",
	"credential",
	"signature",
	"code_verifier",
	"state",
	"account_hash",
	"account_number",
}

// Identifiers that must stay visible so an audit trail can be followed,
// even when they contain a sensitive fragment.
var traceabilityKeys = map[string]bool{
	"broker_key":        true,
	"user_id":           true,
	"tenant_id":         true,
	"order_id":          true,
	"client_order_id":   true,
	"token_type":        true,
	"key_version":       true,
	"idempotency_key":   true,
	"trace_id":          true,
	"request_id":        true,
	"broker_request_id": true,
}

// RedactSensitiveMap copies metadata with credential values masked. Values
// are masked by key name, and sealed secrets or bearer strings are masked
// wherever they appear.
func RedactSensitiveMap(metadata map[string]any) map[string]any {
	redacted := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if sensitiveKey(key) {
			redacted[key] = RedactedValue
			continue
		}
		redacted[key] = redactValue(value)
	}
	return redacted
}

func redactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return RedactSensitiveMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactValue(typed[i])
		}
		return out
	case EncryptedValue, *EncryptedValue:
		return RedactedValue
	case string:
		if looksLikeBearer(typed) {
			return RedactedValue
		}
		return typed
	default:
		return value
	}
}

func sensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || traceabilityKeys[key] {
		return false
	}
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}

func looksLikeBearer(value string) bool {
	value = strings.TrimSpace(value)
	return len(value) > len("bearer ") && strings.EqualFold(value[:len("bearer ")], "bearer ")
}
