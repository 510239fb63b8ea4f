package httpapi

import (
	"context"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

const (
	DefaultSessionCookie = "tradeexec_session"
	defaultSessionMaxAge = 24 * time.Hour
)

// AuthorizationService is the part of the credential service the redirect
// and callback routes need.
type AuthorizationService interface {
	GenerateAuthorizationURL(ctx context.Context, brokerKey string, userID string, session core.SessionContext, opts core.AuthorizationOptions) (core.AuthorizationURL, error)
	CompleteAuthorization(ctx context.Context, req core.CallbackRequest, session core.SessionContext) (core.OAuthToken, error)
}

// UserResolver returns the authenticated user for a request. Authentication
// itself happens upstream of these routes.
type UserResolver func(r *http.Request) (string, bool)

type Config struct {
	SessionCookie string
	SessionMaxAge time.Duration
	CookieDomain  string
	CookieSecure  bool
	// SuccessURL receives the browser after a completed callback. The
	// broker key is appended as the "broker" query parameter.
	SuccessURL string
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP.
	TrustProxyHeaders bool
	Users             UserResolver
	Logger            glog.Logger
	LoggerProvider    glog.LoggerProvider
}

type Handler struct {
	service AuthorizationService
	config  Config
	logger  glog.Logger
}

func NewHandler(service AuthorizationService, cfg Config) *Handler {
	if strings.TrimSpace(cfg.SessionCookie) == "" {
		cfg.SessionCookie = DefaultSessionCookie
	}
	if cfg.SessionMaxAge <= 0 {
		cfg.SessionMaxAge = defaultSessionMaxAge
	}
	if strings.TrimSpace(cfg.SuccessURL) == "" {
		cfg.SuccessURL = "/"
	}
	if cfg.Users == nil {
		cfg.Users = UserFromContext
	}
	_, logger := glog.Resolve("tradeexec.httpapi", cfg.LoggerProvider, cfg.Logger)
	return &Handler{service: service, config: cfg, logger: glog.Ensure(logger)}
}

// NewRouter mounts the authorization routes:
//
//	GET /oauth/{broker}/authorize
//	GET /oauth/{broker}/callback?code=&state=
func NewRouter(service AuthorizationService, cfg Config) http.Handler {
	h := NewHandler(service, cfg)
	r := chi.NewRouter()
	if h.config.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.NoCache)
	h.Mount(r)
	return r
}

func (h *Handler) Mount(r chi.Router) {
	r.Route("/oauth/{broker}", func(r chi.Router) {
		r.Get("/authorize", h.Authorize)
		r.Get("/callback", h.Callback)
	})
}

// Authorize binds a fresh state to the browser session and redirects to the
// broker consent page.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		h.renderFailure(w, r, http.StatusInternalServerError, core.NewConfigurationError("authorization service is not configured"))
		return
	}
	userID, ok := h.config.Users(r)
	if !ok || strings.TrimSpace(userID) == "" {
		h.renderFailure(w, r, http.StatusUnauthorized, core.NewAuthenticationRequired(""))
		return
	}

	session := h.sessionContext(r)
	if session.ID == "" {
		session.ID = uuid.NewString()
		h.setSessionCookie(w, session.ID)
	}

	// The redirect target always comes from configuration. A caller supplied
	// redirect_uri is ignored.
	result, err := h.service.GenerateAuthorizationURL(r.Context(), chi.URLParam(r, "broker"), userID, session, core.AuthorizationOptions{})
	if err != nil {
		h.renderFailure(w, r, statusFor(err), err)
		return
	}
	http.Redirect(w, r, result.URL, http.StatusFound)
}

// Callback completes the flow. Every rejection renders the same page so the
// response does not reveal which check failed.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		h.renderFailure(w, r, http.StatusInternalServerError, core.NewConfigurationError("authorization service is not configured"))
		return
	}
	params := r.URL.Query()
	req := core.CallbackRequest{
		BrokerKey:        chi.URLParam(r, "broker"),
		Code:             params.Get("code"),
		State:            params.Get("state"),
		Error:            params.Get("error"),
		ErrorDescription: params.Get("error_description"),
	}
	token, err := h.service.CompleteAuthorization(r.Context(), req, h.sessionContext(r))
	if err != nil {
		h.renderFailure(w, r, http.StatusBadRequest, err)
		return
	}
	h.logger.WithContext(r.Context()).Info("broker authorization completed",
		"broker_key", token.BrokerKey,
		"user_id", token.UserID,
	)
	http.Redirect(w, r, successLocation(h.config.SuccessURL, token.BrokerKey), http.StatusFound)
}

func (h *Handler) sessionContext(r *http.Request) core.SessionContext {
	session := core.SessionContext{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
	if cookie, err := r.Cookie(h.config.SessionCookie); err == nil {
		session.ID = strings.TrimSpace(cookie.Value)
	}
	return session
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.SessionCookie,
		Value:    id,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   int(h.config.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) renderFailure(w http.ResponseWriter, r *http.Request, status int, err error) {
	fields := []any{"status", status, "path", r.URL.Path}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		fields = append(fields, "text_code", richErr.TextCode, "category", string(richErr.Category))
	}
	if err != nil {
		fields = append(fields, "error", core.SanitizeProviderMessage(err.Error()))
	}
	h.logger.WithContext(r.Context()).Warn("broker authorization rejected", fields...)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = failurePage.Execute(w, nil)
}

// statusFor is only used before a flow has started; callback failures are
// always reported as 400.
func statusFor(err error) int {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return http.StatusInternalServerError
	}
	switch richErr.Category {
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return http.StatusUnauthorized
	case goerrors.CategoryValidation, goerrors.CategoryBadInput, goerrors.CategoryNotFound:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func successLocation(base string, brokerKey string) string {
	target, err := url.Parse(base)
	if err != nil {
		return "/"
	}
	query := target.Query()
	query.Set("broker", brokerKey)
	target.RawQuery = query.Encode()
	return target.String()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type userContextKey struct{}

// ContextWithUserID attaches the authenticated user for UserFromContext.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

func UserFromContext(r *http.Request) (string, bool) {
	userID, ok := r.Context().Value(userContextKey{}).(string)
	return userID, ok
}

// HeaderUser reads the user id from a header set by a trusted gateway in
// front of this service. It must not be used on a directly exposed listener.
func HeaderUser(name string) UserResolver {
	return func(r *http.Request) (string, bool) {
		userID := strings.TrimSpace(r.Header.Get(name))
		return userID, userID != ""
	}
}

var failurePage = template.Must(template.New("failure").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Connection failed</title></head>
<body>
<h1>We could not connect your brokerage account</h1>
<p>The authorization could not be completed. Please start the connection again from your dashboard.</p>
</body>
</html>
`))
