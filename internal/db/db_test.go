package db

import (
	"errors"
	"net/url"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sectorhub/wagateway/internal/config"
)

func TestTextHelpers(t *testing.T) {
	t.Parallel()

	if got := ToText("  "); got.Valid {
		t.Fatalf("blank string should map to NULL")
	}
	if got := ToText("x"); !got.Valid || got.String != "x" {
		t.Fatalf("unexpected text: %+v", got)
	}
	if TextToPtr(pgtype.Text{}) != nil {
		t.Fatalf("NULL should map to nil pointer")
	}
	if p := TextToPtr(pgtype.Text{String: "a", Valid: true}); p == nil || *p != "a" {
		t.Fatalf("unexpected pointer: %v", p)
	}
	empty := ""
	if got := PtrToText(&empty); !got.Valid {
		t.Fatalf("non-nil empty pointer keeps an empty value")
	}
	if TextToString(pgtype.Text{}) != "" {
		t.Fatalf("NULL should map to empty string")
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	if !IsNoRows(WrapWrite("x", pgx.ErrNoRows)) {
		t.Fatalf("expected wrapped ErrNoRows to be detected")
	}
	unique := &pgconn.PgError{Code: "23505"}
	if !IsUniqueViolation(WrapWrite("insert", unique)) {
		t.Fatalf("expected unique violation")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Fatalf("plain error is not a unique violation")
	}
}

func TestWrapWrite(t *testing.T) {
	t.Parallel()

	if WrapWrite("noop", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
	cause := errors.New("conn reset")
	err := WrapWrite("insert message", cause)
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %T", err)
	}
	if perr.Op != "insert message" || !errors.Is(err, cause) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMigrateURL(t *testing.T) {
	t.Parallel()

	raw := migrateURL(config.PostgresConfig{
		Host: "db", Port: 5433, User: "u", Password: "p@ss", Database: "gw", SSLMode: "disable",
	}, SchemaSaaS)
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Scheme != "pgx5" || u.Host != "db:5433" || u.Path != "/gw" {
		t.Fatalf("unexpected url: %s", raw)
	}
	if pw, _ := u.User.Password(); pw != "p@ss" {
		t.Fatalf("password not preserved: %s", raw)
	}
	if got := u.Query().Get("x-migrations-table"); got != "schema_migrations_saas" {
		t.Fatalf("unexpected migrations table: %q", got)
	}
}
