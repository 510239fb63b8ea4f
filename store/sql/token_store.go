package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// tokenListLimit caps a single listing. The refresh sweep runs on a
// schedule, so tokens past the cap are picked up on the next cycle.
const tokenListLimit = 5000

// TokenStore keeps one encrypted OAuth2 token row per user and broker.
type TokenStore struct {
	db   *bun.DB
	repo repository.Repository[*tokenRecord]
}

func NewTokenStore(db *bun.DB) (*TokenStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*tokenRecord](db, tokenHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid token repository wiring: %w", err)
		}
	}
	return &TokenStore{db: db, repo: repo}, nil
}

func (s *TokenStore) Get(ctx context.Context, userID string, brokerKey string) (core.OAuthToken, error) {
	if s == nil || s.db == nil {
		return core.OAuthToken{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	record, err := findToken(ctx, s.db, userID, brokerKey)
	if err != nil {
		return core.OAuthToken{}, err
	}
	if record == nil {
		return core.OAuthToken{}, core.ErrTokenNotFound
	}
	return record.toDomain(), nil
}

// Save inserts the token or replaces the existing row for the same user and
// broker, keeping its id and creation time.
func (s *TokenStore) Save(ctx context.Context, token core.OAuthToken) (core.OAuthToken, error) {
	if s == nil || s.db == nil {
		return core.OAuthToken{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	if strings.TrimSpace(token.UserID) == "" || strings.TrimSpace(token.BrokerKey) == "" {
		return core.OAuthToken{}, fmt.Errorf("sqlstore: token user id and broker key are required")
	}
	now := time.Now().UTC()
	record := newTokenRecord(token, now)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := findToken(ctx, tx, record.UserID, record.BrokerKey)
		if err != nil {
			return err
		}
		if existing == nil {
			record.ID = uuid.NewString()
			_, err = s.repo.CreateTx(ctx, tx, record)
			return err
		}
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		_, err = tx.NewUpdate().
			Model(record).
			WherePK().
			Exec(ctx)
		return err
	})
	if err != nil {
		return core.OAuthToken{}, err
	}
	return record.toDomain(), nil
}

func (s *TokenStore) Delete(ctx context.Context, userID string, brokerKey string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: token store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*tokenRecord)(nil)).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Where("broker_key = ?", normalizeBrokerKey(brokerKey)).
		Exec(ctx)
	return err
}

// ListExpiring returns valid tokens whose expiry falls before the cutoff.
func (s *TokenStore) ListExpiring(ctx context.Context, before time.Time) ([]core.OAuthToken, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: token store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.is_valid = ?", true)
		}),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.expires_at IS NOT NULL").
				Where("?TableAlias.expires_at < ?", before.UTC())
		}),
		repository.SelectRawProcessor(orderByOwner),
		repository.SelectPaginate(tokenListLimit, 0),
	)
	if err != nil {
		return nil, err
	}
	return tokensToDomain(records), nil
}

func (s *TokenStore) List(ctx context.Context) ([]core.OAuthToken, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: token store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(orderByOwner),
		repository.SelectPaginate(tokenListLimit, 0),
	)
	if err != nil {
		return nil, err
	}
	return tokensToDomain(records), nil
}

func findToken(ctx context.Context, db bun.IDB, userID string, brokerKey string) (*tokenRecord, error) {
	record := &tokenRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", strings.TrimSpace(userID)).
		Where("?TableAlias.broker_key = ?", normalizeBrokerKey(brokerKey)).
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

func orderByOwner(q *bun.SelectQuery) *bun.SelectQuery {
	return q.OrderExpr("?TableAlias.user_id ASC, ?TableAlias.broker_key ASC")
}

func tokensToDomain(records []*tokenRecord) []core.OAuthToken {
	out := make([]core.OAuthToken, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out
}
