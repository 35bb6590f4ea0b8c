package db

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/sectorhub/wagateway/internal/config"
)

//go:embed migrations
var migrationsFS embed.FS

// Schema names one of the embedded migration sets.
type Schema string

const (
	SchemaMessages Schema = "messages"
	SchemaSaaS     Schema = "saas"
)

// Migrator applies an embedded schema to one database.
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator prepares migrations of schema against cfg. Each schema keeps its
// own version table so both stores may share one database.
func NewMigrator(cfg config.PostgresConfig, schema Schema) (*Migrator, error) {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(sub, string(schema))
	if err != nil {
		return nil, fmt.Errorf("open %s migrations: %w", schema, err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(cfg, schema))
	if err != nil {
		return nil, fmt.Errorf("init %s migrations: %w", schema, err)
	}
	return &Migrator{m: m}, nil
}

// Up applies all pending migrations. No change is not an error.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Down rolls back every migration.
func (m *Migrator) Down() error {
	if err := m.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Version returns the applied version and dirty flag.
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

func migrateURL(cfg config.PostgresConfig, schema Schema) string {
	u := url.URL{
		Scheme: "pgx5",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + strings.TrimPrefix(cfg.Database, "/"),
	}
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	q.Set("x-migrations-table", "schema_migrations_"+string(schema))
	u.RawQuery = q.Encode()
	return u.String()
}
