package brokers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"github.com/chendrizzy/discord-trade-exec-sub002/transport"
	goerrors "github.com/goliatone/go-errors"
)

const maxErrorMessageLength = 300

// AuthHeaders returns the headers that authenticate a broker call.
type AuthHeaders func(ctx context.Context) (map[string]string, error)

// Client issues JSON calls to one broker through the shared transport.
type Client struct {
	BrokerKey string
	BaseURL   string
	Transport core.TransportAdapter
	Auth      AuthHeaders
	Session   *Session
	Timeout   time.Duration
}

type Request struct {
	Method string
	// BaseURL overrides the client base, e.g. for a market data host.
	BaseURL     string
	Path        string
	Query       map[string]string
	Body        any
	Bucket      string
	Idempotency string
}

type Response struct {
	StatusCode int
	Headers    map[string]string
}

// Header looks up a response header case-insensitively.
func (r Response) Header(name string) string {
	for key, value := range r.Headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}

// APIError is a non-2xx broker answer other than 401.
type APIError struct {
	BrokerKey  string
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	message := e.Message
	if message == "" {
		message = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("brokers: %s returned %d: %s", e.BrokerKey, e.StatusCode, message)
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Do sends the request and decodes a 2xx body into out. A 401 clears the
// session and returns AuthenticationExpired.
func (c *Client) Do(ctx context.Context, req Request, out any) (Response, error) {
	if c == nil || c.Transport == nil {
		return Response{}, core.NewConfigurationError("brokers: transport is not configured")
	}
	headers := map[string]string{"Accept": "application/json"}
	if c.Auth != nil {
		authHeaders, err := c.Auth(ctx)
		if err != nil {
			return Response{}, err
		}
		for key, value := range authHeaders {
			headers[key] = value
		}
	}

	var body []byte
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return Response{}, goerrors.Wrap(err, goerrors.CategoryInternal, "brokers: encode request body").
				WithTextCode(core.ErrorInternal)
		}
		body = encoded
		headers["Content-Type"] = "application/json"
	}

	baseURL := req.BaseURL
	if baseURL == "" {
		baseURL = c.BaseURL
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	response, err := c.Transport.Do(ctx, core.TransportRequest{
		Method:      method,
		URL:         strings.TrimRight(baseURL, "/") + req.Path,
		Headers:     headers,
		Query:       req.Query,
		Body:        body,
		Timeout:     c.Timeout,
		Idempotency: req.Idempotency,
		Metadata: map[string]any{
			transport.MetadataBrokerKey: c.BrokerKey,
			transport.MetadataBucketKey: req.Bucket,
		},
	})
	if err != nil {
		return Response{}, err
	}

	result := Response{StatusCode: response.StatusCode, Headers: response.Headers}
	if response.StatusCode == http.StatusUnauthorized {
		if c.Session != nil {
			c.Session.Invalidate()
		}
		return result, core.NewAuthenticationExpired(c.BrokerKey)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return result, decodeAPIError(c.BrokerKey, response)
	}
	if out != nil && len(bytes.TrimSpace(response.Body)) > 0 {
		if err := json.Unmarshal(response.Body, out); err != nil {
			return result, goerrors.Wrap(err, goerrors.CategoryExternal, "brokers: decode "+c.BrokerKey+" response").
				WithCode(http.StatusBadGateway).
				WithTextCode(core.ErrorBrokerOperationFailed)
		}
	}
	return result, nil
}

func decodeAPIError(brokerKey string, response core.TransportResponse) *APIError {
	apiErr := &APIError{BrokerKey: brokerKey, StatusCode: response.StatusCode}
	apiErr.RequestID, _ = response.Metadata[transport.MetadataRequestID].(string)
	var payload map[string]any
	if err := json.Unmarshal(response.Body, &payload); err == nil {
		for _, key := range []string{"message", "error_description", "error", "msg"} {
			if text, ok := payload[key].(string); ok && strings.TrimSpace(text) != "" {
				apiErr.Message = strings.TrimSpace(text)
				break
			}
		}
		switch code := payload["code"].(type) {
		case string:
			apiErr.Code = code
		case float64:
			apiErr.Code = fmt.Sprintf("%.0f", code)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(response.Body))
	}
	if len(apiErr.Message) > maxErrorMessageLength {
		apiErr.Message = apiErr.Message[:maxErrorMessageLength]
	}
	return apiErr
}

// AsOrderError turns a client-side rejection into an OrderError carrying the
// broker's message. Other errors pass through.
func AsOrderError(err error, metadata map[string]any) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.StatusCode < 400 || apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusNotFound {
		return err
	}
	fields := map[string]any{
		"broker_key":  apiErr.BrokerKey,
		"status_code": apiErr.StatusCode,
	}
	if apiErr.Code != "" {
		fields["broker_code"] = apiErr.Code
	}
	if apiErr.RequestID != "" {
		fields[transport.MetadataRequestID] = apiErr.RequestID
	}
	for key, value := range metadata {
		fields[key] = value
	}
	return core.NewOrderError(apiErr.Message, fields)
}

// ResolveCancel interprets a cancel call's error. Orders that are gone or
// already cancelled count as cancelled. Any other refusal, such as an order
// that already filled, comes back as an OrderError with the broker message.
func ResolveCancel(err error) (bool, error) {
	if err == nil || IsNotFound(err) {
		return true, nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false, err
	}
	message := strings.ToLower(apiErr.Message)
	if strings.Contains(message, "already") && strings.Contains(message, "cancel") {
		return true, nil
	}
	return false, AsOrderError(err, map[string]any{"operation": "cancel"})
}
