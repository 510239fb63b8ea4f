package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"github.com/uptrace/bun"
)

// AuthorizationStateStore is the shared counterpart of the in-memory pending
// authorization store, for deployments running more than one instance.
type AuthorizationStateStore struct {
	db        *bun.DB
	retention time.Duration
	nowFn     func() time.Time
}

func NewAuthorizationStateStore(db *bun.DB, retention time.Duration) (*AuthorizationStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	if retention <= 0 {
		retention = 15 * time.Minute
	}
	return &AuthorizationStateStore{
		db:        db,
		retention: retention,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Save replaces any pending authorization held by the same session.
func (s *AuthorizationStateStore) Save(ctx context.Context, state core.AuthorizationState) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: authorization state store is not configured")
	}
	if strings.TrimSpace(state.SessionID) == "" {
		return fmt.Errorf("sqlstore: session id is required")
	}
	if strings.TrimSpace(state.State) == "" {
		return fmt.Errorf("sqlstore: authorization state is required")
	}
	now := s.nowFn()
	record := newAuthorizationStateRecord(state, now)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*authorizationStateRecord)(nil)).
			Where("session_id = ? OR created_at < ?", record.SessionID, now.Add(-s.retention)).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(record).Exec(ctx)
		return err
	})
}

// Take reads and removes the session's pending authorization in one
// transaction so a state value is consumed at most once.
func (s *AuthorizationStateStore) Take(ctx context.Context, sessionID string) (core.AuthorizationState, bool, error) {
	if s == nil || s.db == nil {
		return core.AuthorizationState{}, false, fmt.Errorf("sqlstore: authorization state store is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return core.AuthorizationState{}, false, nil
	}

	var (
		taken core.AuthorizationState
		found bool
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &authorizationStateRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.session_id = ?", sessionID).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		result, err := tx.NewDelete().
			Model((*authorizationStateRecord)(nil)).
			Where("session_id = ?", sessionID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return nil
		}
		if record.CreatedAt.Before(s.nowFn().Add(-s.retention)) {
			return nil
		}
		taken = record.toDomain()
		found = true
		return nil
	})
	if err != nil {
		return core.AuthorizationState{}, false, err
	}
	return taken, found, nil
}
