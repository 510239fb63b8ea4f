// Package migrations locates the embedded broker credential schema for a SQL
// dialect and checks it is complete before it is applied.
package migrations

import (
	"fmt"
	"io/fs"
	"slices"
	"strings"

	tradeexec "github.com/chendrizzy/discord-trade-exec-sub002"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const rootPath = "data/sql/migrations"

// Set is the ordered migration files one dialect applies.
type Set struct {
	Dialect Dialect
	Path    string
	FS      fs.FS
	// Versions lists migration names without the direction suffix, in order.
	Versions []string
}

// DialectForDriver maps a database/sql driver name onto its migration
// dialect and the canonical driver name to open.
func DialectForDriver(driver string) (Dialect, string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return Postgres, "postgres", nil
	case "sqlite", "sqlite3":
		return SQLite, "sqlite3", nil
	default:
		return "", "", fmt.Errorf("migrations: unsupported database driver %q", driver)
	}
}

// Load returns the migrations for dialect. Every up file must have a down
// file, and the dialect must ship the same versions as every other dialect
// so the schemas cannot drift. root defaults to the embedded tree.
func Load(dialect Dialect, root fs.FS) (Set, error) {
	if root == nil {
		root = tradeexec.GetCoreMigrationsFS()
	}
	sets := make(map[Dialect]Set, 2)
	for _, d := range []Dialect{Postgres, SQLite} {
		set, err := loadDialect(root, d)
		if err != nil {
			return Set{}, err
		}
		sets[d] = set
	}
	want, ok := sets[dialect]
	if !ok {
		return Set{}, fmt.Errorf("migrations: unknown dialect %q", dialect)
	}
	for d, other := range sets {
		if !slices.Equal(other.Versions, want.Versions) {
			return Set{}, fmt.Errorf("migrations: %s and %s ship different versions: %v vs %v", dialect, d, want.Versions, other.Versions)
		}
	}
	return want, nil
}

func loadDialect(root fs.FS, dialect Dialect) (Set, error) {
	path := rootPath
	if dialect == SQLite {
		path = rootPath + "/sqlite"
	}
	sub, err := fs.Sub(root, path)
	if err != nil {
		return Set{}, fmt.Errorf("migrations: resolve %s: %w", path, err)
	}
	ups, err := fs.Glob(sub, "*.up.sql")
	if err != nil {
		return Set{}, fmt.Errorf("migrations: glob %s: %w", path, err)
	}
	if len(ups) == 0 {
		return Set{}, fmt.Errorf("migrations: %s has no *.up.sql files", path)
	}
	versions := make([]string, 0, len(ups))
	for _, up := range ups {
		version := strings.TrimSuffix(up, ".up.sql")
		if _, err := fs.Stat(sub, version+".down.sql"); err != nil {
			return Set{}, fmt.Errorf("migrations: %s/%s has no down migration", path, up)
		}
		versions = append(versions, version)
	}
	slices.Sort(versions)
	return Set{Dialect: dialect, Path: path, FS: sub, Versions: versions}, nil
}
