// Package webhook turns provider webhook deliveries into persisted contacts,
// messages and delivery statuses, runs the sector flow and fans the result
// out to real-time clients.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sectorhub/wagateway/internal/contacts"
	"github.com/sectorhub/wagateway/internal/flow"
	"github.com/sectorhub/wagateway/internal/media"
	"github.com/sectorhub/wagateway/internal/message"
	"github.com/sectorhub/wagateway/internal/sectors"
	"github.com/sectorhub/wagateway/internal/whatsapp"
)

// UnknownTenantError means no active sector owns the phone number id.
type UnknownTenantError struct {
	PhoneNumberID string
}

func (e *UnknownTenantError) Error() string {
	return fmt.Sprintf("no sector for phone number id %q", e.PhoneNumberID)
}

type SectorResolver interface {
	GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (sectors.Sector, error)
}

type ContactStore interface {
	Upsert(ctx context.Context, sectorID int64, phoneNumber, name string) (contacts.Contact, error)
	Ensure(ctx context.Context, sectorID int64, phoneNumber string) (contacts.Contact, error)
}

type MediaResolver interface {
	Resolve(ctx context.Context, input media.ResolveInput) (media.Asset, error)
}

type MessageStore interface {
	message.Writer
	RecordStatus(ctx context.Context, input message.StatusInput) (message.Message, bool, error)
}

type FlowRunner interface {
	Handle(ctx context.Context, in flow.Inbound) error
}

// Processor is the inbound pipeline.
type Processor struct {
	sectors  SectorResolver
	contacts ContactStore
	media    MediaResolver
	messages MessageStore
	flows    FlowRunner
	logger   *slog.Logger
}

// NewProcessor wires the pipeline. flows may be nil to disable flow execution.
func NewProcessor(log *slog.Logger, sectorResolver SectorResolver, contactStore ContactStore, mediaResolver MediaResolver, messages MessageStore, flows FlowRunner) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		sectors:  sectorResolver,
		contacts: contactStore,
		media:    mediaResolver,
		messages: messages,
		flows:    flows,
		logger:   log.With(slog.String("service", "webhook")),
	}
}

// Process handles one raw webhook body. Parse and tenant errors happen before
// any write. When a payload carries messages its statuses are ignored.
func (p *Processor) Process(ctx context.Context, body []byte) error {
	event, err := whatsapp.DecodeWebhook(body)
	if err != nil {
		return err
	}
	sector, err := p.sectors.GetByPhoneNumberID(ctx, event.PhoneNumberID)
	if err != nil {
		if errors.Is(err, sectors.ErrNotFound) {
			return &UnknownTenantError{PhoneNumberID: event.PhoneNumberID}
		}
		return fmt.Errorf("resolve sector: %w", err)
	}
	log := p.logger.With(slog.Int64("sector_id", sector.ID))

	known := make(map[string]contacts.Contact, len(event.Contacts))
	for _, info := range event.Contacts {
		contact, err := p.contacts.Upsert(ctx, sector.ID, info.WaID, contacts.NormalizeName(info.Name))
		if err != nil {
			return fmt.Errorf("upsert contact: %w", err)
		}
		known[info.WaID] = contact
	}

	switch {
	case len(event.Messages) > 0:
		if len(event.Statuses) > 0 {
			log.Debug("payload carries messages and statuses, statuses ignored", slog.Int("statuses", len(event.Statuses)))
		}
		var errs []error
		for _, msg := range event.Messages {
			if err := p.handleMessage(ctx, log, sector, known, msg); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	case len(event.Statuses) > 0:
		for _, st := range event.Statuses {
			if err := p.handleStatus(ctx, log, st); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Processor) handleMessage(ctx context.Context, log *slog.Logger, sector sectors.Sector, known map[string]contacts.Contact, msg whatsapp.InboundMessage) error {
	env := msg.Meta()
	contact, ok := known[env.From]
	if !ok {
		var err error
		contact, err = p.contacts.Ensure(ctx, sector.ID, env.From)
		if err != nil {
			return fmt.Errorf("ensure contact: %w", err)
		}
		known[env.From] = contact
	}

	input := message.PersistInput{
		SectorID:          sector.ID,
		ContactID:         contact.ID,
		ProviderMessageID: env.ID,
		SentAt:            env.Timestamp,
	}
	switch m := msg.(type) {
	case whatsapp.TextMessage:
		input.Content = m.Body
		input.MediaType = media.TypeText
	case whatsapp.MediaMessage:
		kind := media.ClassifyMediaType(m.Kind)
		asset, err := p.media.Resolve(ctx, media.ResolveInput{
			SectorID:    sector.ID,
			AccessToken: sector.AccessToken,
			MediaID:     m.MediaID,
			MediaType:   kind,
			MimeType:    m.MimeType,
			FileName:    m.FileName,
		})
		if err != nil {
			return fmt.Errorf("resolve media %s: %w", m.MediaID, err)
		}
		input.Content = m.Caption
		input.MediaType = kind
		input.MediaURL = asset.URL
		input.MimeType = asset.MimeType
		input.FileName = m.FileName
		if input.FileName == "" && kind == media.TypeDocument {
			input.FileName = asset.FileName
		}
	case whatsapp.UnsupportedMessage:
		log.Info("unsupported message type stored as document", slog.String("type", m.Type), slog.String("message_id", m.ID))
		input.MediaType = media.TypeDocument
	default:
		return fmt.Errorf("unexpected message %T", msg)
	}

	saved, err := p.messages.Persist(ctx, input)
	if err != nil {
		if errors.Is(err, message.ErrDuplicate) {
			log.Debug("duplicate message ignored", slog.String("message_id", env.ID))
			return nil
		}
		return fmt.Errorf("persist message: %w", err)
	}

	var flowErr error
	if p.flows != nil {
		flowErr = p.flows.Handle(ctx, flow.Inbound{
			SectorID:  sector.ID,
			ContactID: contact.ID,
			Recipient: contact.PhoneNumber,
			Content:   input.Content,
		})
		if flowErr != nil {
			log.Error("flow step failed", slog.Int64("contact_id", contact.ID), slog.Any("error", flowErr))
			flowErr = fmt.Errorf("run flow: %w", flowErr)
		}
	}
	p.messages.Publish(saved)
	return flowErr
}

func (p *Processor) handleStatus(ctx context.Context, log *slog.Logger, st whatsapp.StatusUpdate) error {
	input := message.StatusInput{
		ProviderMessageID: st.MessageID,
		RecipientID:       st.RecipientID,
		Status:            st.Status,
		OccurredAt:        st.Timestamp,
	}
	for i, e := range st.Errors {
		log.Warn("message status error",
			slog.String("message_id", st.MessageID),
			slog.String("status", st.Status),
			slog.Int("code", e.Code),
			slog.String("title", e.Title),
		)
		if i == 0 {
			input.ErrorCode = e.Code
			input.ErrorTitle = e.Title
		}
	}
	updated, found, err := p.messages.RecordStatus(ctx, input)
	if err != nil {
		return fmt.Errorf("record status: %w", err)
	}
	if found {
		p.messages.Publish(updated)
	}
	return nil
}
