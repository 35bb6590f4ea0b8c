package message

import (
	"context"
	"errors"
	"time"

	"github.com/sectorhub/wagateway/internal/media"
)

// ErrDuplicate indicates the provider message id was already persisted.
var ErrDuplicate = errors.New("message already persisted")

// Message is an inbound or outbound communication unit.
type Message struct {
	ID                int64
	SectorID          int64
	ContactID         int64
	Content           *string
	MediaType         media.Type
	MediaURL          *string
	FileName          *string
	MimeType          *string
	ProviderMessageID string
	SentAt            time.Time
	IsSent            bool
	IsRead            bool
}

// Attachment is the media part of a broadcast payload. Its fields render
// explicit nulls when unknown.
type Attachment struct {
	URL  *string    `json:"url"`
	Type media.Type `json:"type"`
	Name *string    `json:"name"`
}

// Payload is the canonical JSON shape pushed to real-time clients and
// returned by the API. Null fields are omitted; attachment is present only
// for media messages.
type Payload struct {
	ID         int64       `json:"id"`
	Content    *string     `json:"content,omitempty"`
	MediaType  media.Type  `json:"mediaType"`
	MediaURL   *string     `json:"mediaUrl,omitempty"`
	FileName   *string     `json:"fileName,omitempty"`
	MimeType   *string     `json:"mimeType,omitempty"`
	SectorID   int64       `json:"sectorId"`
	ContactID  int64       `json:"contactId"`
	SentAt     time.Time   `json:"sentAt"`
	IsSent     bool        `json:"isSent"`
	IsRead     bool        `json:"isRead"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Payload renders the message in its broadcast shape.
func (m Message) Payload() Payload {
	p := Payload{
		ID:        m.ID,
		Content:   m.Content,
		MediaType: m.MediaType,
		MediaURL:  m.MediaURL,
		FileName:  m.FileName,
		MimeType:  m.MimeType,
		SectorID:  m.SectorID,
		ContactID: m.ContactID,
		SentAt:    m.SentAt,
		IsSent:    m.IsSent,
		IsRead:    m.IsRead,
	}
	if m.MediaType != "" && m.MediaType != media.TypeText {
		p.Attachment = &Attachment{URL: m.MediaURL, Type: m.MediaType, Name: m.FileName}
	}
	return p
}

// PersistInput is the input for persisting a message.
type PersistInput struct {
	SectorID          int64
	ContactID         int64
	Content           string
	MediaType         media.Type
	MediaURL          string
	FileName          string
	MimeType          string
	ProviderMessageID string
	SentAt            time.Time
	IsSent            bool
}

// StatusInput is one delivery status reported by the provider.
type StatusInput struct {
	ProviderMessageID string
	RecipientID       string
	Status            string
	ErrorCode         int
	ErrorTitle        string
	OccurredAt        time.Time
}

// Publisher delivers payloads to a sector's real-time clients.
type Publisher interface {
	Broadcast(sectorID int64, v any) error
}

// Writer defines write behavior needed by the inbound and outbound pipelines.
type Writer interface {
	Persist(ctx context.Context, input PersistInput) (Message, error)
	Publish(msg Message)
}

// Service defines message read/write behavior.
type Service interface {
	Writer
	RecordStatus(ctx context.Context, input StatusInput) (Message, bool, error)
	ListByContact(ctx context.Context, contactID int64) ([]Message, error)
	MarkContactRead(ctx context.Context, contactID int64) (int64, error)
}
