// Package migrations exposes the embedded relay schema per SQL dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	botrelay "github.com/goliatone/go-botrelay"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	basePath = "data/sql/migrations"
)

// Tables owned by the relay schema, in creation order.
var Tables = []string{"bots", "conversation_members", "bot_events"}

// Source is the migration tree for one dialect.
type Source struct {
	Dialect  string
	Path     string
	FS       fs.FS
	Versions []string
}

type RegisterFunc func(ctx context.Context, source Source) error

type Option func(*options)

type options struct {
	root fs.FS
}

// WithRoot replaces the embedded tree. root must contain data/sql/migrations
// or hold the postgres files at its top level.
func WithRoot(root fs.FS) Option {
	return func(o *options) {
		if root != nil {
			o.root = root
		}
	}
}

// DialectForDriver maps a database/sql driver name to its schema dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "pgx", "pq":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("migrations: no schema dialect for driver %q", driver)
	}
}

// Sources returns the postgres and sqlite trees. Each must hold at least one
// version and every up file needs a matching down file.
func Sources(opts ...Option) ([]Source, error) {
	cfg := options{root: botrelay.GetMigrationsFS()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	base, path, err := locate(cfg.root)
	if err != nil {
		return nil, err
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: sqlite tree: %w", err)
	}

	sources := []Source{
		{Dialect: DialectPostgres, Path: path, FS: base},
		{Dialect: DialectSQLite, Path: joinPath(path, "sqlite"), FS: sqliteFS},
	}
	for i := range sources {
		versions, err := pairedVersions(sources[i])
		if err != nil {
			return nil, err
		}
		sources[i].Versions = versions
	}
	return sources, nil
}

// Register hands the tree for dialect to registerFn.
func Register(ctx context.Context, dialect string, registerFn RegisterFunc, opts ...Option) (Source, error) {
	if registerFn == nil {
		return Source{}, fmt.Errorf("migrations: register function is required")
	}
	dialect = strings.ToLower(strings.TrimSpace(dialect))
	sources, err := Sources(opts...)
	if err != nil {
		return Source{}, err
	}
	for _, source := range sources {
		if source.Dialect != dialect {
			continue
		}
		if err := registerFn(ctx, source); err != nil {
			return source, fmt.Errorf("migrations: register %s (%s): %w", source.Dialect, source.Path, err)
		}
		return source, nil
	}
	return Source{}, fmt.Errorf("migrations: unknown dialect %q", dialect)
}

func locate(root fs.FS) (fs.FS, string, error) {
	if root == nil {
		return nil, "", fmt.Errorf("migrations: root filesystem is required")
	}
	if _, err := fs.Stat(root, basePath); err == nil {
		sub, err := fs.Sub(root, basePath)
		if err != nil {
			return nil, "", fmt.Errorf("migrations: %s: %w", basePath, err)
		}
		return sub, basePath, nil
	}
	if matches, _ := fs.Glob(root, "*.up.sql"); len(matches) > 0 {
		return root, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found", basePath)
}

func pairedVersions(source Source) ([]string, error) {
	ups, err := fs.Glob(source.FS, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", source.Path, err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: %s tree %q has no *.up.sql files", source.Dialect, source.Path)
	}
	versions := make([]string, 0, len(ups))
	for _, up := range ups {
		version := strings.TrimSuffix(up, ".up.sql")
		if _, err := fs.Stat(source.FS, version+".down.sql"); err != nil {
			return nil, fmt.Errorf("migrations: %s %s has no down migration", source.Dialect, version)
		}
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions, nil
}

func joinPath(base string, suffix string) string {
	if base == "." {
		return suffix
	}
	return strings.TrimSuffix(base, "/") + "/" + suffix
}
