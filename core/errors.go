package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput               = "BROKER_BAD_INPUT"
	ErrorBrokerNotFound         = "BROKER_NOT_FOUND"
	ErrorBrokerConfiguration    = "BROKER_CONFIGURATION_ERROR"
	ErrorAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	ErrorCSRFStateMissing       = "CSRF_STATE_MISSING"
	ErrorCSRFStateMismatch      = "CSRF_STATE_MISMATCH"
	ErrorCSRFStateExpired       = "CSRF_STATE_EXPIRED"
	ErrorTokenExchangeFailed    = "TOKEN_EXCHANGE_FAILED"
	ErrorTokenNotFound          = "TOKEN_NOT_FOUND"
	ErrorTokenInvalid           = "TOKEN_INVALID"
	ErrorTokenRefreshExhausted  = "TOKEN_REFRESH_EXHAUSTED"
	ErrorAuthenticationExpired  = "AUTHENTICATION_EXPIRED"
	ErrorOrderRejected          = "ORDER_REJECTED"
	ErrorIntegrity              = "INTEGRITY_ERROR"
	ErrorRefreshLocked          = "REFRESH_LOCKED"
	ErrorRateLimited            = "BROKER_RATE_LIMITED"
	ErrorBrokerOperationFailed  = "BROKER_OPERATION_FAILED"
	ErrorInternal               = "INTERNAL_ERROR"
)

// NewConfigurationError reports a broker that is unknown, disabled or missing
// the settings an operation requires.
func NewConfigurationError(message string, metadata ...map[string]any) *goerrors.Error {
	return newServiceError(message, goerrors.CategoryInternal, ErrorBrokerConfiguration).
		WithMetadata(metadata...)
}

func NewAuthenticationRequired(message string) *goerrors.Error {
	if strings.TrimSpace(message) == "" {
		message = "an authenticated user is required"
	}
	return newServiceError(message, goerrors.CategoryAuth, ErrorAuthenticationRequired)
}

func NewCSRFValidationFailed(textCode string, message string) *goerrors.Error {
	return newServiceError(message, goerrors.CategoryAuth, textCode).
		WithSeverity(goerrors.SeverityCritical)
}

func NewTokenExchangeFailed(message string, metadata ...map[string]any) *goerrors.Error {
	return newServiceError(SanitizeProviderMessage(message), goerrors.CategoryExternal, ErrorTokenExchangeFailed).
		WithCode(http.StatusBadGateway).
		WithMetadata(metadata...)
}

func NewTokenNotFound(brokerKey string) *goerrors.Error {
	return newServiceError("no oauth token stored for broker "+brokerKey, goerrors.CategoryNotFound, ErrorTokenNotFound)
}

// NewTokenInvalid marks a token that must not be used until the user
// re-authorizes. The reason carries the provider error code, such as
// invalid_grant.
func NewTokenInvalid(reason string) *goerrors.Error {
	message := "oauth token is invalid; re-authorization required"
	if reason = strings.TrimSpace(reason); reason != "" {
		message += ": " + reason
	}
	return newServiceError(message, goerrors.CategoryAuth, ErrorTokenInvalid)
}

func NewTokenRefreshExhausted(attempts int, cause error) *goerrors.Error {
	message := "token refresh failed after retries"
	err := newServiceError(message, goerrors.CategoryExternal, ErrorTokenRefreshExhausted).
		WithCode(http.StatusServiceUnavailable).
		WithMetadata(map[string]any{"attempts": attempts})
	if cause != nil {
		err.Source = cause
	}
	return err
}

func NewAuthenticationExpired(brokerKey string) *goerrors.Error {
	return newServiceError("broker session expired for "+brokerKey, goerrors.CategoryAuth, ErrorAuthenticationExpired)
}

// NewOrderError keeps the broker's rejection message as-is.
func NewOrderError(brokerMessage string, metadata ...map[string]any) *goerrors.Error {
	if strings.TrimSpace(brokerMessage) == "" {
		brokerMessage = "order rejected by broker"
	}
	return newServiceError(brokerMessage, goerrors.CategoryOperation, ErrorOrderRejected).
		WithCode(http.StatusUnprocessableEntity).
		WithMetadata(metadata...)
}

func NewIntegrityError() *goerrors.Error {
	return newServiceError("encrypted value failed integrity verification", goerrors.CategoryInternal, ErrorIntegrity).
		WithSeverity(goerrors.SeverityCritical)
}

func IsConfigurationError(err error) bool     { return HasTextCode(err, ErrorBrokerConfiguration) }
func IsAuthenticationRequired(err error) bool { return HasTextCode(err, ErrorAuthenticationRequired) }
func IsTokenExchangeFailed(err error) bool    { return HasTextCode(err, ErrorTokenExchangeFailed) }
func IsTokenInvalid(err error) bool           { return HasTextCode(err, ErrorTokenInvalid) }
func IsTokenRefreshExhausted(err error) bool  { return HasTextCode(err, ErrorTokenRefreshExhausted) }
func IsAuthenticationExpired(err error) bool  { return HasTextCode(err, ErrorAuthenticationExpired) }
func IsOrderError(err error) bool             { return HasTextCode(err, ErrorOrderRejected) }
func IsIntegrityError(err error) bool         { return HasTextCode(err, ErrorIntegrity) }
func IsTokenNotFound(err error) bool          { return HasTextCode(err, ErrorTokenNotFound) }

func IsCSRFValidationFailed(err error) bool {
	return HasTextCode(err, ErrorCSRFStateMissing) ||
		HasTextCode(err, ErrorCSRFStateMismatch) ||
		HasTextCode(err, ErrorCSRFStateExpired)
}

func HasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(richErr.TextCode), textCode)
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "broker") && strings.Contains(msg, "not registered"):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ErrorBrokerNotFound)
	case strings.Contains(msg, "lock already held"), strings.Contains(msg, "refresh lock"):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ErrorRefreshLocked)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, ErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorBrokerNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorAuthenticationRequired
	case goerrors.CategoryConflict:
		return ErrorRefreshLocked
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryOperation, goerrors.CategoryExternal:
		return ErrorBrokerOperationFailed
	default:
		return ErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
