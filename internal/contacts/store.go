// Package contacts stores the remote parties a sector talks to.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/sectorhub/wagateway/internal/db"
)

// DefaultName is used when the provider does not send a profile name.
const DefaultName = "Unknown"

// ErrNotFound indicates the contact does not exist.
var ErrNotFound = errors.New("contact not found")

// Contact is a remote conversational party, unique per (sector, phone number).
type Contact struct {
	ID                int64     `json:"id"`
	SectorID          int64     `json:"sectorId"`
	PhoneNumber       string    `json:"phoneNumber"`
	Name              string    `json:"name"`
	Email             *string   `json:"email,omitempty"`
	Address           *string   `json:"address,omitempty"`
	Annotations       *string   `json:"annotations,omitempty"`
	ProfilePictureURL *string   `json:"profilePictureUrl,omitempty"`
	Tags              []string  `json:"tags"`
	Status            *string   `json:"status,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// SaveInput is the add-or-update payload used by the management API.
type SaveInput struct {
	ID                int64    `json:"id"`
	SectorID          int64    `json:"sectorId" validate:"required"`
	PhoneNumber       string   `json:"phoneNumber" validate:"required"`
	Name              string   `json:"name"`
	Email             *string  `json:"email" validate:"omitempty,email"`
	Address           *string  `json:"address"`
	Annotations       *string  `json:"annotations"`
	ProfilePictureURL *string  `json:"profilePictureUrl"`
	Tags              []string `json:"tags"`
	Status            *string  `json:"status"`
}

// NormalizeName trims name and falls back to DefaultName.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultName
	}
	return name
}

// Store persists contacts in the messages store.
type Store struct {
	db     dbpkg.DBTX
	logger *slog.Logger
}

func NewStore(log *slog.Logger, conn dbpkg.DBTX) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: conn, logger: log.With(slog.String("service", "contacts"))}
}

const contactColumns = `id, sector_id, phone_number, name, email, address, annotations, profile_picture_url, tags, status, created_at, updated_at`

// Upsert creates the contact or overwrites its name. Last write wins.
func (s *Store) Upsert(ctx context.Context, sectorID int64, phoneNumber, name string) (Contact, error) {
	row := s.db.QueryRow(ctx, `
INSERT INTO contacts (sector_id, phone_number, name)
VALUES ($1, $2, $3)
ON CONFLICT (sector_id, phone_number)
DO UPDATE SET name = EXCLUDED.name, updated_at = now()
RETURNING `+contactColumns,
		sectorID, strings.TrimSpace(phoneNumber), NormalizeName(name))
	c, err := scanContact(row)
	if err != nil {
		return Contact{}, dbpkg.WrapWrite("upsert contact", err)
	}
	return c, nil
}

// Ensure returns the contact for the phone number, creating it with the
// default name when absent. An existing name is left untouched.
func (s *Store) Ensure(ctx context.Context, sectorID int64, phoneNumber string) (Contact, error) {
	row := s.db.QueryRow(ctx, `
INSERT INTO contacts (sector_id, phone_number, name)
VALUES ($1, $2, $3)
ON CONFLICT (sector_id, phone_number)
DO UPDATE SET phone_number = EXCLUDED.phone_number
RETURNING `+contactColumns,
		sectorID, strings.TrimSpace(phoneNumber), DefaultName)
	c, err := scanContact(row)
	if err != nil {
		return Contact{}, dbpkg.WrapWrite("ensure contact", err)
	}
	return c, nil
}

func (s *Store) Get(ctx context.Context, id int64) (Contact, error) {
	row := s.db.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if err != nil {
		return Contact{}, err
	}
	return c, nil
}

func (s *Store) ListBySector(ctx context.Context, sectorID int64) ([]Contact, error) {
	return s.list(ctx, `SELECT `+contactColumns+` FROM contacts WHERE sector_id = $1 ORDER BY name, id`, sectorID)
}

// ListByTags returns contacts of the sector carrying any of tagIDs. No tags means every contact.
func (s *Store) ListByTags(ctx context.Context, sectorID int64, tagIDs []string) ([]Contact, error) {
	tagIDs = cleanTags(tagIDs)
	if len(tagIDs) == 0 {
		return s.ListBySector(ctx, sectorID)
	}
	return s.list(ctx, `SELECT `+contactColumns+` FROM contacts WHERE sector_id = $1 AND tags && $2 ORDER BY name, id`, sectorID, tagIDs)
}

// Save adds a contact (ID == 0, upserting on phone number) or updates an existing one.
func (s *Store) Save(ctx context.Context, input SaveInput) (Contact, error) {
	tags := cleanTags(input.Tags)
	var row pgx.Row
	if input.ID == 0 {
		row = s.db.QueryRow(ctx, `
INSERT INTO contacts (sector_id, phone_number, name, email, address, annotations, profile_picture_url, tags, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (sector_id, phone_number)
DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, address = EXCLUDED.address,
  annotations = EXCLUDED.annotations, profile_picture_url = EXCLUDED.profile_picture_url,
  tags = EXCLUDED.tags, status = EXCLUDED.status, updated_at = now()
RETURNING `+contactColumns,
			input.SectorID, strings.TrimSpace(input.PhoneNumber), NormalizeName(input.Name),
			dbpkg.PtrToText(input.Email), dbpkg.PtrToText(input.Address), dbpkg.PtrToText(input.Annotations),
			dbpkg.PtrToText(input.ProfilePictureURL), tags, dbpkg.PtrToText(input.Status))
	} else {
		row = s.db.QueryRow(ctx, `
UPDATE contacts
SET sector_id = $2, phone_number = $3, name = $4, email = $5, address = $6, annotations = $7,
  profile_picture_url = $8, tags = $9, status = $10, updated_at = now()
WHERE id = $1
RETURNING `+contactColumns,
			input.ID, input.SectorID, strings.TrimSpace(input.PhoneNumber), NormalizeName(input.Name),
			dbpkg.PtrToText(input.Email), dbpkg.PtrToText(input.Address), dbpkg.PtrToText(input.Annotations),
			dbpkg.PtrToText(input.ProfilePictureURL), tags, dbpkg.PtrToText(input.Status))
	}
	c, err := scanContact(row)
	if errors.Is(err, ErrNotFound) {
		return Contact{}, err
	}
	if err != nil {
		return Contact{}, dbpkg.WrapWrite("save contact", err)
	}
	return c, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return dbpkg.WrapWrite("delete contact", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Contact, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()
	items := make([]Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func scanContact(row pgx.Row) (Contact, error) {
	var (
		c                                       Contact
		email, address, annotations, pic, state pgtype.Text
	)
	err := row.Scan(&c.ID, &c.SectorID, &c.PhoneNumber, &c.Name, &email, &address, &annotations, &pic, &c.Tags, &state, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if dbpkg.IsNoRows(err) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	c.Email = dbpkg.TextToPtr(email)
	c.Address = dbpkg.TextToPtr(address)
	c.Annotations = dbpkg.TextToPtr(annotations)
	c.ProfilePictureURL = dbpkg.TextToPtr(pic)
	c.Status = dbpkg.TextToPtr(state)
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return c, nil
}

// ParseTagIDs splits a comma separated tag id list.
func ParseTagIDs(raw string) []string {
	return cleanTags(strings.Split(raw, ","))
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
