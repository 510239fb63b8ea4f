package sqlstore

import (
	"fmt"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds the SQL backed stores from a persistence client or
// a bare bun.DB and serves them as a core.StoreProvider.
type RepositoryFactory struct {
	db             *bun.DB
	stateRetention time.Duration

	tokenStore          *TokenStore
	connectionStore     *ConnectionStore
	stateStore          *AuthorizationStateStore
	rateLimitStateStore *RateLimitStateStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

// WithStateRetention sets how long pending authorizations are kept before
// they are purged.
func (f *RepositoryFactory) WithStateRetention(retention time.Duration) *RepositoryFactory {
	if f != nil {
		f.stateRetention = retention
	}
	return f
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.tokenStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) TokenStore() core.TokenStore {
	if f == nil || f.tokenStore == nil {
		return nil
	}
	return f.tokenStore
}

func (f *RepositoryFactory) CredentialConnectionStore() core.CredentialConnectionStore {
	if f == nil || f.connectionStore == nil {
		return nil
	}
	return f.connectionStore
}

func (f *RepositoryFactory) AuthorizationStateStore() core.AuthorizationStateStore {
	if f == nil || f.stateStore == nil {
		return nil
	}
	return f.stateStore
}

func (f *RepositoryFactory) RateLimitStateStore() *RateLimitStateStore {
	if f == nil {
		return nil
	}
	return f.rateLimitStateStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	tokenStore, err := NewTokenStore(f.db)
	if err != nil {
		return err
	}
	connectionStore, err := NewConnectionStore(f.db)
	if err != nil {
		return err
	}
	stateStore, err := NewAuthorizationStateStore(f.db, f.stateRetention)
	if err != nil {
		return err
	}
	rateLimitStateStore, err := NewRateLimitStateStore(f.db)
	if err != nil {
		return err
	}

	f.tokenStore = tokenStore
	f.connectionStore = connectionStore
	f.stateStore = stateStore
	f.rateLimitStateStore = rateLimitStateStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
