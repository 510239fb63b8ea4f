package core

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type AuditRisk string

const (
	AuditRiskLow      AuditRisk = "low"
	AuditRiskMedium   AuditRisk = "medium"
	AuditRiskHigh     AuditRisk = "high"
	AuditRiskCritical AuditRisk = "critical"
)

const (
	AuditActionAuthorizationStarted = "oauth.authorization_started"
	AuditActionStateValidation      = "oauth.state_validation"
	AuditActionTokenExchange        = "oauth.token_exchange"
	AuditActionTokenRefresh         = "oauth.token_refresh"
	AuditActionDisconnect           = "oauth.disconnect"
	AuditActionKeyRotation          = "vault.key_rotation"
)

const (
	AuditStatusSuccess = "success"
	AuditStatusFailure = "failure"
)

type AuditEvent struct {
	ID             string
	UserID         string
	BrokerKey      string
	Action         string
	Status         string
	Risk           AuditRisk
	RequiresReview bool
	IP             string
	UserAgent      string
	Message        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

var auditEntropy = struct {
	mu  sync.Mutex
	src *ulid.MonotonicEntropy
}{src: ulid.Monotonic(rand.Reader, 0)}

func newAuditEventID(at time.Time) string {
	auditEntropy.mu.Lock()
	defer auditEntropy.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), auditEntropy.src).String()
}

// LoggerAuditSink writes audit events to a structured logger. Critical and
// high risk events are logged at error level.
type LoggerAuditSink struct {
	Logger Logger
}

func (s LoggerAuditSink) Record(ctx context.Context, event AuditEvent) error {
	if s.Logger == nil {
		return nil
	}
	logger := s.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	fields := map[string]any{
		"audit_id":        event.ID,
		"user_id":         event.UserID,
		"broker_key":      event.BrokerKey,
		"action":          event.Action,
		"status":          event.Status,
		"risk":            string(event.Risk),
		"requires_review": event.RequiresReview,
		"ip":              event.IP,
		"user_agent":      event.UserAgent,
		"occurred_at":     event.OccurredAt,
	}
	for key, value := range RedactSensitiveMap(event.Metadata) {
		if _, exists := fields[key]; !exists {
			fields[key] = value
		}
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(fields)
	}
	switch event.Risk {
	case AuditRiskCritical, AuditRiskHigh:
		logger.Error(event.Message, flattenFields(fields)...)
	default:
		logger.Info(event.Message, flattenFields(fields)...)
	}
	return nil
}

// MultiAuditSink fans events out to every sink and returns the first error.
type MultiAuditSink []AuditSink

func (m MultiAuditSink) Record(ctx context.Context, event AuditEvent) error {
	var first error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *Service) audit(ctx context.Context, event AuditEvent) {
	if s == nil || s.auditSink == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = newAuditEventID(event.OccurredAt)
	}
	if event.Risk == AuditRiskCritical {
		event.RequiresReview = true
	}
	if err := s.auditSink.Record(ctx, event); err != nil {
		s.logError(ctx, "audit record failed", map[string]any{
			"action":     event.Action,
			"broker_key": event.BrokerKey,
			"error":      err.Error(),
		})
	}
}

var (
	_ AuditSink = LoggerAuditSink{}
	_ AuditSink = MultiAuditSink{}
)
