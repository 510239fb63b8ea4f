package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	JobIDTokenRefresh       = "tradeexec.token_refresh"
	tokenRefreshScriptPath  = "tradeexec/token_refresh"
	tokenRefreshDedupPolicy = "drop"
	refreshJobRetryDelay    = time.Minute
)

// ScheduleExpiringRefreshes enqueues one refresh job per valid token expiring
// within the window.
func (s *Service) ScheduleExpiringRefreshes(ctx context.Context, window time.Duration) (scheduled int, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"job_id": JobIDTokenRefresh}
	defer func() {
		fields["scheduled"] = scheduled
		s.observeOperation(ctx, startedAt, "schedule_refreshes", err, fields)
	}()

	if s.jobEnqueuer == nil {
		err = NewConfigurationError("job enqueuer is not configured")
		return 0, err
	}
	if s.tokenStore == nil {
		err = NewConfigurationError("token store is not configured")
		return 0, err
	}
	if window <= 0 {
		window = s.config.Refresh.ScheduleWindow
	}
	if window <= 0 {
		window = defaultRefreshScheduleWindow
	}

	tokens, err := s.tokenStore.ListExpiring(ctx, s.now().Add(window))
	if err != nil {
		err = s.mapError(err)
		return 0, err
	}
	for _, token := range tokens {
		if !token.IsValid || token.RefreshToken == nil {
			continue
		}
		if enqueueErr := s.jobEnqueuer.Enqueue(ctx, NewRefreshJobMessage(token)); enqueueErr != nil {
			err = s.mapError(enqueueErr)
			return scheduled, err
		}
		scheduled++
	}
	return scheduled, nil
}

func NewRefreshJobMessage(token OAuthToken) *JobExecutionMessage {
	expiresAt := int64(0)
	if token.ExpiresAt != nil {
		expiresAt = token.ExpiresAt.Unix()
	}
	return &JobExecutionMessage{
		JobID:      JobIDTokenRefresh,
		ScriptPath: tokenRefreshScriptPath,
		Parameters: map[string]any{
			"user_id":    token.UserID,
			"broker_key": token.BrokerKey,
		},
		IdempotencyKey: fmt.Sprintf("%s:%d", refreshKey(token.UserID, token.BrokerKey), expiresAt),
		DedupPolicy:    tokenRefreshDedupPolicy,
	}
}

// HandleRefreshJob runs a refresh job. Tokens that became invalid are not
// retried; transient failures are returned so the queue can redeliver.
func (s *Service) HandleRefreshJob(ctx context.Context, msg *JobExecutionMessage) error {
	if msg == nil {
		return s.mapError(fmt.Errorf("core: job message is required"))
	}
	if msg.JobID != JobIDTokenRefresh {
		return s.mapError(fmt.Errorf("core: unsupported job id %q", msg.JobID))
	}
	userID := strings.TrimSpace(fmt.Sprint(msg.Parameters["user_id"]))
	brokerKey := strings.TrimSpace(fmt.Sprint(msg.Parameters["broker_key"]))
	if userID == "" || userID == "<nil>" || brokerKey == "" || brokerKey == "<nil>" {
		return s.mapError(fmt.Errorf("core: refresh job requires user_id and broker_key"))
	}

	_, err := s.Refresh(ctx, brokerKey, userID)
	if err == nil || IsTokenInvalid(err) || IsTokenNotFound(err) {
		if err != nil {
			s.logInfo(ctx, "refresh job skipped", map[string]any{
				"broker_key": brokerKey,
				"user_id":    userID,
				"error":      err.Error(),
			})
		}
		return nil
	}
	return err
}

// ProcessRefreshDelivery handles one dequeued delivery and settles it.
func (s *Service) ProcessRefreshDelivery(ctx context.Context, delivery JobDelivery) error {
	if delivery == nil {
		return nil
	}
	if err := s.HandleRefreshJob(ctx, delivery.Message()); err != nil {
		return delivery.Nack(ctx, JobNackOptions{
			Delay:   refreshJobRetryDelay,
			Requeue: true,
			Reason:  SanitizeProviderMessage(err.Error()),
		})
	}
	return delivery.Ack(ctx)
}
