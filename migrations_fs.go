package tradeexec

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the broker credential schema for Postgres, with the
// SQLite variant under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetCoreMigrationsFS returns the embedded migration tree rooted above
// data/sql/migrations.
func GetCoreMigrationsFS() fs.FS {
	return migrationsFS
}
