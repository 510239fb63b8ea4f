package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"github.com/chendrizzy/discord-trade-exec-sub002/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

type persistenceConfig struct {
	cfg core.DatabaseConfig
}

func (c persistenceConfig) GetDebug() bool {
	return c.cfg.Debug
}

func (c persistenceConfig) GetDriver() string {
	return c.cfg.Driver
}

func (c persistenceConfig) GetServer() string {
	return c.cfg.DSN
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	if c.cfg.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.cfg.PingTimeout
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "tradeexec"
}

// Open connects to the configured database, registers the embedded broker
// credential migrations for its dialect and applies them.
func Open(ctx context.Context, cfg core.DatabaseConfig) (*persistence.Client, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, core.NewConfigurationError("database dsn is required", map[string]any{"driver": driver})
	}

	migrationDialect, driver, err := migrations.DialectForDriver(cfg.Driver)
	if err != nil {
		return nil, core.NewConfigurationError("unsupported database driver: "+cfg.Driver, map[string]any{"driver": cfg.Driver})
	}
	var dialect schema.Dialect = pgdialect.New()
	if migrationDialect == migrations.SQLite {
		dialect = sqlitedialect.New()
	}
	set, err := migrations.Load(migrationDialect, nil)
	if err != nil {
		return nil, err
	}
	cfg.Driver = driver

	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{cfg: cfg}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: persistence client: %w", err)
	}

	client.RegisterSQLMigrations(set.FS)
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return client, nil
}
