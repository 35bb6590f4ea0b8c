package message

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/sectorhub/wagateway/internal/db"
	"github.com/sectorhub/wagateway/internal/media"
)

// DBService persists and reads sector messages.
type DBService struct {
	db        dbpkg.DBTX
	logger    *slog.Logger
	publisher Publisher
}

// NewService creates a message service. The publisher is optional.
func NewService(log *slog.Logger, conn dbpkg.DBTX, publishers ...Publisher) *DBService {
	if log == nil {
		log = slog.Default()
	}
	var publisher Publisher
	if len(publishers) > 0 {
		publisher = publishers[0]
	}
	return &DBService{
		db:        conn,
		logger:    log.With(slog.String("service", "message")),
		publisher: publisher,
	}
}

const messageColumns = `id, sector_id, contact_id, content, media_type, media_url, file_name, mime_type, provider_message_id, sent_at, is_sent, is_read`

// Persist writes a message. A provider message id that already exists yields ErrDuplicate.
func (s *DBService) Persist(ctx context.Context, input PersistInput) (Message, error) {
	mediaType := input.MediaType
	if !mediaType.Valid() {
		mediaType = media.TypeDocument
	}
	mediaURL := input.MediaURL
	if mediaType == media.TypeText {
		mediaURL = ""
	}
	sentAt := input.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	row := s.db.QueryRow(ctx, `
INSERT INTO messages (sector_id, contact_id, content, media_type, media_url, file_name, mime_type, provider_message_id, sent_at, is_sent)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (provider_message_id) DO NOTHING
RETURNING `+messageColumns,
		input.SectorID,
		input.ContactID,
		dbpkg.ToText(input.Content),
		string(mediaType),
		dbpkg.ToText(mediaURL),
		dbpkg.ToText(input.FileName),
		dbpkg.ToText(input.MimeType),
		dbpkg.ToText(input.ProviderMessageID),
		sentAt,
		input.IsSent,
	)
	msg, err := scanMessage(row)
	if err != nil {
		if dbpkg.IsNoRows(err) {
			return Message{}, ErrDuplicate
		}
		return Message{}, dbpkg.WrapWrite("insert message", err)
	}
	return msg, nil
}

// Publish broadcasts the message to its sector. Delivery is best effort.
func (s *DBService) Publish(msg Message) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Broadcast(msg.SectorID, msg.Payload()); err != nil {
		s.logger.Warn("broadcast message failed",
			slog.Int64("message_id", msg.ID),
			slog.Int64("sector_id", msg.SectorID),
			slog.Any("error", err),
		)
	}
}

// RecordStatus stores a delivery status and applies it to the matching
// message. The bool reports whether a message matched.
func (s *DBService) RecordStatus(ctx context.Context, input StatusInput) (Message, bool, error) {
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	errorCode := pgtype.Int4{}
	if input.ErrorCode != 0 {
		errorCode = pgtype.Int4{Int32: int32(input.ErrorCode), Valid: true}
	}
	if _, err := s.db.Exec(ctx, `
INSERT INTO message_statuses (provider_message_id, recipient_id, status, error_code, error_title, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		input.ProviderMessageID, input.RecipientID, input.Status, errorCode, dbpkg.ToText(input.ErrorTitle), occurredAt,
	); err != nil {
		return Message{}, false, dbpkg.WrapWrite("insert message status", err)
	}

	sent, read := statusFlags(input.Status)
	if !sent && !read {
		return Message{}, false, nil
	}
	row := s.db.QueryRow(ctx, `
UPDATE messages
SET is_sent = is_sent OR $2, is_read = is_read OR $3
WHERE provider_message_id = $1
RETURNING `+messageColumns,
		input.ProviderMessageID, sent, read)
	msg, err := scanMessage(row)
	if err != nil {
		if dbpkg.IsNoRows(err) {
			return Message{}, false, nil
		}
		return Message{}, false, dbpkg.WrapWrite("apply message status", err)
	}
	return msg, true, nil
}

// ListByContact returns a contact's messages, oldest first.
func (s *DBService) ListByContact(ctx context.Context, contactID int64) ([]Message, error) {
	rows, err := s.db.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE contact_id = $1 ORDER BY sent_at, id`, contactID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	items := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, msg)
	}
	return items, rows.Err()
}

// MarkContactRead flags every unread inbound message of the contact as read.
func (s *DBService) MarkContactRead(ctx context.Context, contactID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE messages SET is_read = true WHERE contact_id = $1 AND NOT is_read AND NOT is_sent`, contactID)
	if err != nil {
		return 0, dbpkg.WrapWrite("mark messages read", err)
	}
	return tag.RowsAffected(), nil
}

// statusFlags maps a provider status to the sent/read transitions it implies.
func statusFlags(status string) (sent, read bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "sent", "delivered":
		return true, false
	case "read":
		return true, true
	default:
		return false, false
	}
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m                                               Message
		content, mediaURL, fileName, mimeType, provider pgtype.Text
		mediaType                                       string
	)
	if err := row.Scan(&m.ID, &m.SectorID, &m.ContactID, &content, &mediaType, &mediaURL, &fileName, &mimeType, &provider, &m.SentAt, &m.IsSent, &m.IsRead); err != nil {
		return Message{}, err
	}
	m.Content = dbpkg.TextToPtr(content)
	m.MediaType = media.Type(mediaType)
	m.MediaURL = dbpkg.TextToPtr(mediaURL)
	m.FileName = dbpkg.TextToPtr(fileName)
	m.MimeType = dbpkg.TextToPtr(mimeType)
	m.ProviderMessageID = dbpkg.TextToString(provider)
	return m, nil
}
