package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"github.com/chendrizzy/discord-trade-exec-sub002/ratelimit"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Fields of ratelimit.State without a dedicated column travel in metadata
// under these reserved keys.
const (
	stateMetaAttempts       = "_attempts"
	stateMetaLastStatus     = "_last_status"
	stateMetaThrottledUntil = "_throttled_until"
)

// RateLimitStateStore persists adaptive throttling state per broker bucket so
// that a restarted process keeps honoring a broker's Retry-After window.
type RateLimitStateStore struct {
	db   *bun.DB
	repo repository.Repository[*rateLimitStateRecord]
}

func NewRateLimitStateStore(db *bun.DB) (*RateLimitStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*rateLimitStateRecord](db, rateLimitStateHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid rate-limit state repository wiring: %w", err)
		}
	}
	return &RateLimitStateStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *RateLimitStateStore) Get(ctx context.Context, key core.RateLimitKey) (ratelimit.State, error) {
	if s == nil || s.db == nil {
		return ratelimit.State{}, fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	key = normalizeRateLimitKey(key)
	if err := validateRateLimitKey(key); err != nil {
		return ratelimit.State{}, err
	}

	record, err := findRateLimitState(ctx, s.db, key)
	if err != nil {
		return ratelimit.State{}, err
	}
	if record == nil {
		return ratelimit.State{}, ratelimit.ErrStateNotFound
	}
	return record.toDomain(), nil
}

func (s *RateLimitStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	state.Key = normalizeRateLimitKey(state.Key)
	if err := validateRateLimitKey(state.Key); err != nil {
		return err
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	state.Metadata = core.RedactSensitiveMap(state.Metadata)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findRateLimitState(ctx, tx, state.Key)
		if err != nil {
			return err
		}
		if record == nil {
			record = &rateLimitStateRecord{
				ID:        uuid.NewString(),
				BrokerKey: state.Key.BrokerKey,
				ScopeType: state.Key.ScopeType,
				ScopeID:   state.Key.ScopeID,
				BucketKey: state.Key.BucketKey,
				CreatedAt: state.UpdatedAt.UTC(),
			}
			applyRateLimitState(record, state)
			_, err = s.repo.CreateTx(ctx, tx, record)
			return err
		}

		applyRateLimitState(record, state)
		_, err = tx.NewUpdate().
			Model(record).
			WherePK().
			Exec(ctx)
		return err
	})
}

func applyRateLimitState(record *rateLimitStateRecord, state ratelimit.State) {
	record.Limit = state.Limit
	record.Remaining = state.Remaining
	record.Metadata = composeRateLimitMetadata(state)
	record.UpdatedAt = state.UpdatedAt.UTC()
	record.ResetAt = copyTimePointer(state.ResetAt)
	record.RetryAfter = durationToSecondsPointer(state.RetryAfter)
}

func (r *rateLimitStateRecord) toDomain() ratelimit.State {
	if r == nil {
		return ratelimit.State{}
	}
	state := ratelimit.State{
		Key: core.RateLimitKey{
			BrokerKey: r.BrokerKey,
			ScopeType: r.ScopeType,
			ScopeID:   r.ScopeID,
			BucketKey: r.BucketKey,
		},
		Limit:     r.Limit,
		Remaining: r.Remaining,
		ResetAt:   copyTimePointer(r.ResetAt),
		UpdatedAt: r.UpdatedAt.UTC(),
		Metadata:  copyAnyMap(r.Metadata),
	}
	if r.RetryAfter != nil && *r.RetryAfter > 0 {
		value := time.Duration(*r.RetryAfter) * time.Second
		state.RetryAfter = &value
	}

	if attempts, ok := readIntMetadata(state.Metadata, stateMetaAttempts); ok {
		state.Attempts = attempts
	}
	if status, ok := readIntMetadata(state.Metadata, stateMetaLastStatus); ok {
		state.LastStatus = status
	}
	if parsed, ok := parseTimeMetadata(state.Metadata[stateMetaThrottledUntil]); ok {
		state.ThrottledUntil = &parsed
	}
	delete(state.Metadata, stateMetaAttempts)
	delete(state.Metadata, stateMetaLastStatus)
	delete(state.Metadata, stateMetaThrottledUntil)

	return state
}

func findRateLimitState(ctx context.Context, db bun.IDB, key core.RateLimitKey) (*rateLimitStateRecord, error) {
	record := &rateLimitStateRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.broker_key = ?", key.BrokerKey).
		Where("?TableAlias.scope_type = ?", key.ScopeType).
		Where("?TableAlias.scope_id = ?", key.ScopeID).
		Where("?TableAlias.bucket_key = ?", key.BucketKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func composeRateLimitMetadata(state ratelimit.State) map[string]any {
	metadata := copyAnyMap(state.Metadata)
	delete(metadata, stateMetaAttempts)
	delete(metadata, stateMetaLastStatus)
	delete(metadata, stateMetaThrottledUntil)
	if state.Attempts > 0 {
		metadata[stateMetaAttempts] = state.Attempts
	}
	if state.LastStatus > 0 {
		metadata[stateMetaLastStatus] = state.LastStatus
	}
	if state.ThrottledUntil != nil {
		metadata[stateMetaThrottledUntil] = state.ThrottledUntil.UTC().Format(time.RFC3339Nano)
	}
	return metadata
}

func normalizeRateLimitKey(key core.RateLimitKey) core.RateLimitKey {
	return core.RateLimitKey{
		BrokerKey: normalizeBrokerKey(key.BrokerKey),
		ScopeType: strings.ToLower(strings.TrimSpace(key.ScopeType)),
		ScopeID:   strings.TrimSpace(key.ScopeID),
		BucketKey: strings.ToLower(strings.TrimSpace(key.BucketKey)),
	}
}

func validateRateLimitKey(key core.RateLimitKey) error {
	switch {
	case key.BrokerKey == "":
		return fmt.Errorf("sqlstore: rate-limit broker key is required")
	case key.ScopeType == "":
		return fmt.Errorf("sqlstore: rate-limit scope type is required")
	case key.ScopeID == "":
		return fmt.Errorf("sqlstore: rate-limit scope id is required")
	case key.BucketKey == "":
		return fmt.Errorf("sqlstore: rate-limit bucket key is required")
	}
	return nil
}

func durationToSecondsPointer(input *time.Duration) *int {
	if input == nil || *input <= 0 {
		return nil
	}
	seconds := max(int(input.Seconds()), 1)
	return &seconds
}

func parseTimeMetadata(input any) (time.Time, bool) {
	switch typed := input.(type) {
	case time.Time:
		return typed.UTC(), true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(typed))
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	default:
		return time.Time{}, false
	}
}

func readIntMetadata(metadata map[string]any, key string) (int, bool) {
	switch typed := metadata[key].(type) {
	case int:
		return typed, true
	case int64:
		return int(typed), true
	case float64:
		return int(typed), true
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(typed))
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
