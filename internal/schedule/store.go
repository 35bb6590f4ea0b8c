package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/sectorhub/wagateway/internal/db"
)

// Schedule is a text broadcast to the tagged contacts of a sector.
type Schedule struct {
	ID          int64      `json:"id"`
	SectorID    int64      `json:"sectorId"`
	Name        string     `json:"name"`
	MessageText string     `json:"messageText"`
	TagIDs      []string   `json:"tagIds"`
	SendAt      time.Time  `json:"sendAt"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type CreateInput struct {
	SectorID    int64     `json:"sectorId" validate:"required"`
	Name        string    `json:"name" validate:"required"`
	MessageText string    `json:"messageText" validate:"required"`
	TagIDs      []string  `json:"tagIds"`
	SendAt      time.Time `json:"sendAt" validate:"required"`
}

// Store persists schedules in the SaaS database.
type Store struct {
	db     dbpkg.DBTX
	logger *slog.Logger
}

func NewStore(log *slog.Logger, conn dbpkg.DBTX) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: conn, logger: log.With(slog.String("service", "schedule_store"))}
}

const scheduleColumns = `id, sector_id, name, message_text, tag_ids, send_at, sent_at, created_at`

func (s *Store) Create(ctx context.Context, input CreateInput) (Schedule, error) {
	tags := make([]string, 0, len(input.TagIDs))
	for _, tag := range input.TagIDs {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	row := s.db.QueryRow(ctx, `
INSERT INTO message_schedules (sector_id, name, message_text, tag_ids, send_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+scheduleColumns,
		input.SectorID, strings.TrimSpace(input.Name), input.MessageText, tags, input.SendAt.UTC())
	sch, err := scanSchedule(row)
	if err != nil {
		return Schedule{}, dbpkg.WrapWrite("insert schedule", err)
	}
	return sch, nil
}

// ListBySector returns a sector's schedules, latest first.
func (s *Store) ListBySector(ctx context.Context, sectorID int64) ([]Schedule, error) {
	return s.list(ctx, `SELECT `+scheduleColumns+` FROM message_schedules WHERE sector_id = $1 ORDER BY send_at DESC, id DESC`, sectorID)
}

// Due returns unsent schedules whose send time has passed, oldest first.
func (s *Store) Due(ctx context.Context, now time.Time, limit int) ([]Schedule, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx, `SELECT `+scheduleColumns+` FROM message_schedules WHERE sent_at IS NULL AND send_at <= $1 ORDER BY send_at, id LIMIT $2`, now.UTC(), limit)
}

// Claim marks a schedule sent. It reports false when another worker got it first.
func (s *Store) Claim(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE message_schedules SET sent_at = $2 WHERE id = $1 AND sent_at IS NULL`, id, at.UTC())
	if err != nil {
		return false, dbpkg.WrapWrite("claim schedule", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	items := make([]Schedule, 0)
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, sch)
	}
	return items, rows.Err()
}

func scanSchedule(row pgx.Row) (Schedule, error) {
	var (
		sch    Schedule
		sentAt pgtype.Timestamptz
	)
	if err := row.Scan(&sch.ID, &sch.SectorID, &sch.Name, &sch.MessageText, &sch.TagIDs, &sch.SendAt, &sentAt, &sch.CreatedAt); err != nil {
		return Schedule{}, err
	}
	if sentAt.Valid {
		t := sentAt.Time
		sch.SentAt = &t
	}
	if sch.TagIDs == nil {
		sch.TagIDs = []string{}
	}
	return sch, nil
}
