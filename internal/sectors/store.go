// Package sectors reads and writes tenant accounts in the SaaS store.
package sectors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	dbpkg "github.com/sectorhub/wagateway/internal/db"
)

// ErrNotFound indicates no sector matched the lookup.
var ErrNotFound = errors.New("sector not found")

// Sector is one messaging-provider account.
type Sector struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	PhoneNumberID string    `json:"phoneNumberId"`
	AccessToken   string    `json:"accessToken,omitempty"`
	IsActive      bool      `json:"isActive"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Credentials are the provider credentials of a sector.
type Credentials struct {
	PhoneNumberID string `json:"phoneNumberId" validate:"required"`
	AccessToken   string `json:"accessToken" validate:"required"`
}

// CreateInput is the payload for a new sector.
type CreateInput struct {
	Name string `json:"name" validate:"required"`
	Credentials
}

// Lookup resolves sectors during message processing.
type Lookup interface {
	Get(ctx context.Context, id int64) (Sector, error)
	GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (Sector, error)
}

// Store persists sectors.
type Store struct {
	db     dbpkg.DBTX
	logger *slog.Logger
}

func NewStore(log *slog.Logger, conn dbpkg.DBTX) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: conn, logger: log.With(slog.String("service", "sectors"))}
}

const sectorColumns = `id, name, phone_number_id, access_token, is_active, updated_at`

func (s *Store) Get(ctx context.Context, id int64) (Sector, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sectorColumns+` FROM sectors WHERE id = $1`, id)
	return scanSector(row)
}

// GetByPhoneNumberID returns the active sector owning the provider phone number id.
func (s *Store) GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (Sector, error) {
	phoneNumberID = strings.TrimSpace(phoneNumberID)
	if phoneNumberID == "" {
		return Sector{}, ErrNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+sectorColumns+` FROM sectors WHERE phone_number_id = $1 AND is_active`, phoneNumberID)
	return scanSector(row)
}

func (s *Store) List(ctx context.Context) ([]Sector, error) {
	rows, err := s.db.Query(ctx, `SELECT `+sectorColumns+` FROM sectors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sectors: %w", err)
	}
	defer rows.Close()
	items := make([]Sector, 0)
	for rows.Next() {
		item, err := scanSector(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) Create(ctx context.Context, input CreateInput) (Sector, error) {
	row := s.db.QueryRow(ctx, `
INSERT INTO sectors (name, phone_number_id, access_token)
VALUES ($1, $2, $3)
RETURNING `+sectorColumns,
		strings.TrimSpace(input.Name), strings.TrimSpace(input.PhoneNumberID), strings.TrimSpace(input.AccessToken))
	sector, err := scanSector(row)
	if err != nil {
		return Sector{}, dbpkg.WrapWrite("create sector", err)
	}
	s.logger.Info("sector created", slog.Int64("sector_id", sector.ID))
	return sector, nil
}

// UpdateCredentials replaces the provider credentials of a sector.
func (s *Store) UpdateCredentials(ctx context.Context, id int64, creds Credentials) (Sector, error) {
	row := s.db.QueryRow(ctx, `
UPDATE sectors
SET phone_number_id = $2, access_token = $3, updated_at = now()
WHERE id = $1
RETURNING `+sectorColumns,
		id, strings.TrimSpace(creds.PhoneNumberID), strings.TrimSpace(creds.AccessToken))
	sector, err := scanSector(row)
	if errors.Is(err, ErrNotFound) {
		return Sector{}, err
	}
	if err != nil {
		return Sector{}, dbpkg.WrapWrite("update sector credentials", err)
	}
	return sector, nil
}

func scanSector(row pgx.Row) (Sector, error) {
	var s Sector
	if err := row.Scan(&s.ID, &s.Name, &s.PhoneNumberID, &s.AccessToken, &s.IsActive, &s.UpdatedAt); err != nil {
		if dbpkg.IsNoRows(err) {
			return Sector{}, ErrNotFound
		}
		return Sector{}, err
	}
	return s, nil
}
