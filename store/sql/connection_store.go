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

type ConnectionStore struct {
	db   *bun.DB
	repo repository.Repository[*connectionRecord]
}

func NewConnectionStore(db *bun.DB) (*ConnectionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*connectionRecord](db, connectionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid connection repository wiring: %w", err)
		}
	}
	return &ConnectionStore{db: db, repo: repo}, nil
}

// Save upserts the credential connection for a user and broker. A second save
// for the same pair reuses the stored id.
func (s *ConnectionStore) Save(ctx context.Context, conn core.CredentialConnection) (core.CredentialConnection, error) {
	if s == nil || s.db == nil {
		return core.CredentialConnection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if strings.TrimSpace(conn.UserID) == "" || strings.TrimSpace(conn.BrokerKey) == "" {
		return core.CredentialConnection{}, fmt.Errorf("sqlstore: connection user id and broker key are required")
	}
	record := newConnectionRecord(conn, time.Now().UTC())

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &connectionRecord{}
		err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.user_id = ?", record.UserID).
			Where("?TableAlias.broker_key = ?", record.BrokerKey).
			Limit(1).
			Scan(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if record.ID == "" {
				record.ID = uuid.NewString()
			}
			_, err = s.repo.CreateTx(ctx, tx, record)
			return err
		case err != nil:
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
		return core.CredentialConnection{}, err
	}
	return record.toDomain(), nil
}

func (s *ConnectionStore) Get(ctx context.Context, userID string, brokerKey string) (core.CredentialConnection, error) {
	if s == nil || s.repo == nil {
		return core.CredentialConnection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.SelectBy("broker_key", "=", normalizeBrokerKey(brokerKey)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.CredentialConnection{}, err
	}
	if len(records) == 0 {
		return core.CredentialConnection{}, core.ErrConnectionNotFound
	}
	return records[0].toDomain(), nil
}

func (s *ConnectionStore) UpdateStatus(ctx context.Context, id string, status core.ConnectionStatus, lastError string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*connectionRecord)(nil)).
		Set("status = ?", string(status)).
		Set("last_error = ?", strings.TrimSpace(lastError)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", trimmedID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(result, core.ErrConnectionNotFound)
}

// RecordUsage bumps the request counter, and the error counter when the call
// failed, in a single statement.
func (s *ConnectionStore) RecordUsage(ctx context.Context, id string, failed bool, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	errorIncrement := 0
	if failed {
		errorIncrement = 1
	}
	result, err := s.db.NewUpdate().
		Model((*connectionRecord)(nil)).
		Set("request_count = request_count + 1").
		Set("error_count = error_count + ?", errorIncrement).
		Set("last_used_at = ?", at.UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(result, core.ErrConnectionNotFound)
}

// UpdateSecrets rewrites only the sealed columns so concurrent usage counters
// are not lost.
func (s *ConnectionStore) UpdateSecrets(ctx context.Context, id string, apiKey core.EncryptedValue, apiSecret core.EncryptedValue) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	record := &connectionRecord{
		ID:        strings.TrimSpace(id),
		APIKey:    &apiKey,
		APISecret: &apiSecret,
		UpdatedAt: time.Now().UTC(),
	}
	if record.ID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	result, err := s.db.NewUpdate().
		Model(record).
		Column("api_key", "api_secret", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(result, core.ErrConnectionNotFound)
}

func (s *ConnectionStore) List(ctx context.Context) ([]core.CredentialConnection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(orderByOwner),
		repository.SelectPaginate(tokenListLimit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.CredentialConnection, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func requireAffected(result sql.Result, missing error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return missing
	}
	return nil
}
