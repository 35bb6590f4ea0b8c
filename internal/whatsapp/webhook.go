package whatsapp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event is one decoded webhook delivery, taken from entry[0].changes[0].value.
type Event struct {
	PhoneNumberID      string
	DisplayPhoneNumber string
	Contacts           []ContactInfo
	Messages           []InboundMessage
	Statuses           []StatusUpdate
}

// ContactInfo is a profile entry of the contacts block.
type ContactInfo struct {
	WaID string
	Name string
}

// InboundMessage is one of TextMessage, MediaMessage or UnsupportedMessage.
type InboundMessage interface {
	Meta() Envelope
}

// Envelope holds the fields shared by every inbound message.
type Envelope struct {
	ID        string
	From      string
	Type      string
	Timestamp time.Time
}

type TextMessage struct {
	Envelope
	Body string
}

// MediaMessage references provider-hosted media by id.
type MediaMessage struct {
	Envelope
	Kind     string
	MediaID  string
	MimeType string
	Caption  string
	FileName string
	Voice    bool
}

// UnsupportedMessage is any message type without a dedicated decoder
// (location, reaction, contacts, interactive...).
type UnsupportedMessage struct {
	Envelope
}

func (m TextMessage) Meta() Envelope        { return m.Envelope }
func (m MediaMessage) Meta() Envelope       { return m.Envelope }
func (m UnsupportedMessage) Meta() Envelope { return m.Envelope }

// StatusUpdate is a delivery receipt for an outbound message.
type StatusUpdate struct {
	MessageID   string
	Status      string
	RecipientID string
	Timestamp   time.Time
	Errors      []StatusError
}

type StatusError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

type webhookPayload struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID      string          `json:"id"`
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Field string        `json:"field"`
	Value *webhookValue `json:"value"`
}

type webhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         *webhookMetadata `json:"metadata"`
	Contacts         []webhookContact `json:"contacts"`
	Messages         []webhookMessage `json:"messages"`
	Statuses         []webhookStatus  `json:"statuses"`
}

type webhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type webhookContact struct {
	WaID    string `json:"wa_id"`
	Profile *struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type webhookMessage struct {
	ID        string        `json:"id"`
	From      string        `json:"from"`
	Timestamp string        `json:"timestamp"`
	Type      string        `json:"type"`
	Text      *webhookText  `json:"text"`
	Image     *webhookMedia `json:"image"`
	Video     *webhookMedia `json:"video"`
	Audio     *webhookMedia `json:"audio"`
	Voice     *webhookMedia `json:"voice"`
	Document  *webhookMedia `json:"document"`
	Sticker   *webhookMedia `json:"sticker"`
}

type webhookText struct {
	Body string `json:"body"`
}

type webhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
	Voice    bool   `json:"voice"`
}

type webhookStatus struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Timestamp   string        `json:"timestamp"`
	RecipientID string        `json:"recipient_id"`
	Errors      []StatusError `json:"errors"`
}

// DecodeWebhook parses a raw webhook body. Missing layers down to
// metadata.phone_number_id yield *ParseError; unknown message types decode as
// UnsupportedMessage.
func DecodeWebhook(body []byte) (Event, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Event{}, &ParseError{Reason: "malformed json", Err: err}
	}
	if len(payload.Entry) == 0 {
		return Event{}, &ParseError{Path: "entry", Reason: "empty"}
	}
	if len(payload.Entry[0].Changes) == 0 {
		return Event{}, &ParseError{Path: "entry[0].changes", Reason: "empty"}
	}
	value := payload.Entry[0].Changes[0].Value
	if value == nil {
		return Event{}, &ParseError{Path: "entry[0].changes[0].value", Reason: "missing"}
	}
	if value.Metadata == nil || strings.TrimSpace(value.Metadata.PhoneNumberID) == "" {
		return Event{}, &ParseError{Path: "value.metadata.phone_number_id", Reason: "missing"}
	}

	event := Event{
		PhoneNumberID:      strings.TrimSpace(value.Metadata.PhoneNumberID),
		DisplayPhoneNumber: value.Metadata.DisplayPhoneNumber,
	}
	for _, c := range value.Contacts {
		if strings.TrimSpace(c.WaID) == "" {
			continue
		}
		info := ContactInfo{WaID: strings.TrimSpace(c.WaID)}
		if c.Profile != nil {
			info.Name = c.Profile.Name
		}
		event.Contacts = append(event.Contacts, info)
	}
	for i, m := range value.Messages {
		msg, err := decodeMessage(i, m)
		if err != nil {
			return Event{}, err
		}
		event.Messages = append(event.Messages, msg)
	}
	for i, s := range value.Statuses {
		if strings.TrimSpace(s.ID) == "" {
			return Event{}, &ParseError{Path: fmt.Sprintf("statuses[%d].id", i), Reason: "missing"}
		}
		event.Statuses = append(event.Statuses, StatusUpdate{
			MessageID:   s.ID,
			Status:      s.Status,
			RecipientID: s.RecipientID,
			Timestamp:   parseUnix(s.Timestamp),
			Errors:      s.Errors,
		})
	}
	return event, nil
}

func decodeMessage(i int, m webhookMessage) (InboundMessage, error) {
	env := Envelope{
		ID:        strings.TrimSpace(m.ID),
		From:      strings.TrimSpace(m.From),
		Type:      strings.ToLower(strings.TrimSpace(m.Type)),
		Timestamp: parseUnix(m.Timestamp),
	}
	if env.From == "" {
		return nil, &ParseError{Path: fmt.Sprintf("messages[%d].from", i), Reason: "missing"}
	}

	switch env.Type {
	case "text":
		if m.Text == nil {
			return nil, &ParseError{Path: fmt.Sprintf("messages[%d].text", i), Reason: "missing"}
		}
		return TextMessage{Envelope: env, Body: m.Text.Body}, nil
	case "image", "video", "audio", "voice", "document", "sticker":
		ref := m.mediaRef(env.Type)
		if ref == nil || strings.TrimSpace(ref.ID) == "" {
			return nil, &ParseError{Path: fmt.Sprintf("messages[%d].%s.id", i, env.Type), Reason: "missing"}
		}
		return MediaMessage{
			Envelope: env,
			Kind:     env.Type,
			MediaID:  strings.TrimSpace(ref.ID),
			MimeType: ref.MimeType,
			Caption:  ref.Caption,
			FileName: ref.Filename,
			Voice:    ref.Voice || env.Type == "voice",
		}, nil
	default:
		return UnsupportedMessage{Envelope: env}, nil
	}
}

func (m webhookMessage) mediaRef(kind string) *webhookMedia {
	switch kind {
	case "image":
		return m.Image
	case "video":
		return m.Video
	case "audio":
		return m.Audio
	case "voice":
		if m.Voice != nil {
			return m.Voice
		}
		return m.Audio
	case "document":
		return m.Document
	case "sticker":
		return m.Sticker
	}
	return nil
}

func parseUnix(raw string) time.Time {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
