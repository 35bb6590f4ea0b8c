// Package outbound sends provider messages on behalf of a sector and records
// them like inbound traffic.
package outbound

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/sectorhub/wagateway/internal/contacts"
	"github.com/sectorhub/wagateway/internal/media"
	"github.com/sectorhub/wagateway/internal/message"
	"github.com/sectorhub/wagateway/internal/sectors"
	"github.com/sectorhub/wagateway/internal/whatsapp"
)

// Sender posts a message body to the provider.
type Sender interface {
	SendMessage(ctx context.Context, accessToken, phoneNumberID string, msg whatsapp.OutboundMessage) (whatsapp.SendResult, error)
}

// Uploader stores media bytes and returns their public location.
type Uploader interface {
	UploadToStore(ctx context.Context, input media.UploadInput) (media.Asset, error)
}

// ContactResolver finds the contact an outbound message belongs to.
type ContactResolver interface {
	Get(ctx context.Context, id int64) (contacts.Contact, error)
	Ensure(ctx context.Context, sectorID int64, phoneNumber string) (contacts.Contact, error)
}

// TextRequest sends a text message.
type TextRequest struct {
	SectorID  int64  `json:"sectorId" validate:"required"`
	ContactID int64  `json:"contactId"`
	Recipient string `json:"recipient" validate:"required"`
	Text      string `json:"text" validate:"required"`
}

// MediaRequest sends media that already has a public URL.
type MediaRequest struct {
	SectorID  int64      `json:"sectorId" validate:"required"`
	ContactID int64      `json:"contactId"`
	Recipient string     `json:"recipient" validate:"required"`
	MediaType media.Type `json:"mediaType" validate:"required,oneof=image audio video document"`
	URL       string     `json:"url" validate:"required,url"`
	Caption   string     `json:"caption"`
	FileName  string     `json:"fileName"`
	MimeType  string     `json:"mimeType"`
}

// FileRequest uploads a base64 payload and sends it as media.
type FileRequest struct {
	SectorID   int64  `json:"sectorId" validate:"required"`
	ContactID  int64  `json:"contactId"`
	Recipient  string `json:"recipient" validate:"required"`
	Base64File string `json:"base64File" validate:"required"`
	// MediaType is a MIME type; anything else is ignored and the bytes are sniffed.
	MediaType  string `json:"mediaType"`
	FileName   string `json:"fileName"`
	Caption    string `json:"caption"`
}

// Dispatcher is the outbound send path. Sends are throttled per sector.
type Dispatcher struct {
	sectors    sectors.Lookup
	contacts   ContactResolver
	sender     Sender
	messages   message.Writer
	uploader   Uploader
	transcoder media.Transcoder
	limit      rate.Limit
	burst      int
	limiters   sync.Map // int64 -> *rate.Limiter
	logger     *slog.Logger
}

// Options configures optional Dispatcher collaborators.
type Options struct {
	Uploader      Uploader
	Transcoder    media.Transcoder
	RatePerSecond float64
	RateBurst     int
}

func NewDispatcher(log *slog.Logger, lookup sectors.Lookup, contactResolver ContactResolver, sender Sender, messages message.Writer, opts Options) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Dispatcher{
		sectors:    lookup,
		contacts:   contactResolver,
		sender:     sender,
		messages:   messages,
		uploader:   opts.Uploader,
		transcoder: opts.Transcoder,
		limit:      limit,
		burst:      burst,
		logger:     log.With(slog.String("service", "outbound")),
	}
}

// SendText sends a text message and records it as sent.
func (d *Dispatcher) SendText(ctx context.Context, req TextRequest) (message.Message, error) {
	if strings.TrimSpace(req.Text) == "" {
		return message.Message{}, fmt.Errorf("text is required")
	}
	return d.dispatch(ctx, req.SectorID, req.ContactID, req.Recipient,
		whatsapp.NewTextMessage(req.Recipient, req.Text),
		message.PersistInput{Content: req.Text, MediaType: media.TypeText},
	)
}

// SendMedia sends a media message by link and records it as sent.
func (d *Dispatcher) SendMedia(ctx context.Context, req MediaRequest) (message.Message, error) {
	body, err := whatsapp.NewMediaMessage(req.Recipient, req.MediaType, req.URL, req.Caption, req.FileName)
	if err != nil {
		return message.Message{}, err
	}
	return d.dispatch(ctx, req.SectorID, req.ContactID, req.Recipient, body, message.PersistInput{
		Content:   req.Caption,
		MediaType: req.MediaType,
		MediaURL:  req.URL,
		FileName:  req.FileName,
		MimeType:  req.MimeType,
	})
}

// SendFile decodes a base64 payload, converts unsupported audio, uploads it
// and sends it as media.
func (d *Dispatcher) SendFile(ctx context.Context, req FileRequest) (message.Message, media.Asset, error) {
	if d.uploader == nil {
		return message.Message{}, media.Asset{}, media.ErrProviderUnavailable
	}
	data, err := decodeBase64(req.Base64File)
	if err != nil {
		return message.Message{}, media.Asset{}, fmt.Errorf("decode file: %w", err)
	}
	declared := req.MediaType
	if !strings.Contains(declared, "/") {
		declared = ""
	}
	mimeType := media.DetectMimeType(data, declared)
	data, mimeType, err = media.PrepareAudio(ctx, d.transcoder, data, mimeType)
	if err != nil {
		return message.Message{}, media.Asset{}, fmt.Errorf("prepare audio: %w", err)
	}
	kind := media.ClassifyMediaType(mimeType)
	if err := media.CheckSendSize(kind, int64(len(data))); err != nil {
		return message.Message{}, media.Asset{}, err
	}
	fileName := req.FileName
	if mimeType == "audio/ogg" && fileName != "" && !strings.HasSuffix(strings.ToLower(fileName), ".ogg") {
		fileName = strings.TrimSuffix(fileName, extOf(fileName)) + ".ogg"
	}

	asset, err := d.uploader.UploadToStore(ctx, media.UploadInput{
		SectorID:  req.SectorID,
		Data:      data,
		MediaType: kind,
		MimeType:  mimeType,
		FileName:  fileName,
	})
	if err != nil {
		return message.Message{}, media.Asset{}, err
	}
	msg, err := d.SendMedia(ctx, MediaRequest{
		SectorID:  req.SectorID,
		ContactID: req.ContactID,
		Recipient: req.Recipient,
		MediaType: asset.Type,
		URL:       asset.URL,
		Caption:   req.Caption,
		FileName:  asset.FileName,
		MimeType:  asset.MimeType,
	})
	if err != nil {
		return message.Message{}, asset, err
	}
	return msg, asset, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, sectorID, contactID int64, recipient string, body whatsapp.OutboundMessage, record message.PersistInput) (message.Message, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return message.Message{}, fmt.Errorf("recipient is required")
	}
	sector, err := d.sectors.Get(ctx, sectorID)
	if err != nil {
		return message.Message{}, fmt.Errorf("resolve sector %d: %w", sectorID, err)
	}
	contact, err := d.resolveContact(ctx, sectorID, contactID, recipient)
	if err != nil {
		return message.Message{}, err
	}

	if err := d.limiter(sectorID).Wait(ctx); err != nil {
		return message.Message{}, fmt.Errorf("rate limit: %w", err)
	}
	result, err := d.sender.SendMessage(ctx, sector.AccessToken, sector.PhoneNumberID, body)
	if err != nil {
		return message.Message{}, err
	}

	record.SectorID = sectorID
	record.ContactID = contact.ID
	record.ProviderMessageID = result.MessageID
	record.IsSent = true
	msg, err := d.messages.Persist(ctx, record)
	if err != nil {
		return message.Message{}, err
	}
	d.messages.Publish(msg)
	d.logger.Debug("message dispatched",
		slog.Int64("sector_id", sectorID),
		slog.Int64("contact_id", contact.ID),
		slog.String("type", body.Type),
		slog.String("provider_message_id", result.MessageID),
	)
	return msg, nil
}

func (d *Dispatcher) resolveContact(ctx context.Context, sectorID, contactID int64, recipient string) (contacts.Contact, error) {
	if contactID > 0 {
		contact, err := d.contacts.Get(ctx, contactID)
		if err != nil {
			return contacts.Contact{}, fmt.Errorf("resolve contact %d: %w", contactID, err)
		}
		if contact.SectorID != sectorID {
			return contacts.Contact{}, fmt.Errorf("contact %d does not belong to sector %d: %w", contactID, sectorID, contacts.ErrNotFound)
		}
		return contact, nil
	}
	contact, err := d.contacts.Ensure(ctx, sectorID, recipient)
	if err != nil {
		return contacts.Contact{}, fmt.Errorf("ensure contact: %w", err)
	}
	return contact, nil
}

func (d *Dispatcher) limiter(sectorID int64) *rate.Limiter {
	if v, ok := d.limiters.Load(sectorID); ok {
		return v.(*rate.Limiter)
	}
	v, _ := d.limiters.LoadOrStore(sectorID, rate.NewLimiter(d.limit, d.burst))
	return v.(*rate.Limiter)
}

// decodeBase64 accepts plain base64 or a data URL.
func decodeBase64(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		if idx := strings.Index(raw, ","); idx >= 0 {
			raw = raw[idx+1:]
		}
	}
	if raw == "" {
		return nil, fmt.Errorf("empty payload")
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return base64.RawStdEncoding.DecodeString(strings.TrimRight(raw, "="))
	}
	return data, nil
}

func extOf(name string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return name[idx:]
	}
	return ""
}
