package message

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sectorhub/wagateway/internal/media"
)

func strPtr(s string) *string { return &s }

func TestPayload_TextOmitsAttachmentAndNulls(t *testing.T) {
	t.Parallel()

	msg := Message{
		ID:        1,
		SectorID:  2,
		ContactID: 3,
		Content:   strPtr("hi"),
		MediaType: media.TypeText,
		SentAt:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	raw, err := json.Marshal(msg.Payload())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(raw)
	want := `{"id":1,"content":"hi","mediaType":"text","sectorId":2,"contactId":3,"sentAt":"2025-01-02T03:04:05Z","isSent":false,"isRead":false}`
	if got != want {
		t.Fatalf("unexpected payload:\n got %s\nwant %s", got, want)
	}
}

func TestPayload_ImageCarriesAttachment(t *testing.T) {
	t.Parallel()

	msg := Message{
		ID:        9,
		SectorID:  2,
		ContactID: 3,
		MediaType: media.TypeImage,
		MediaURL:  strPtr("https://cdn/x.jpg"),
		FileName:  strPtr("x.jpg"),
		MimeType:  strPtr("image/jpeg"),
	}
	raw, _ := json.Marshal(msg.Payload())
	if !strings.Contains(string(raw), `"attachment":{"url":"https://cdn/x.jpg","type":"image","name":"x.jpg"}`) {
		t.Fatalf("missing attachment: %s", raw)
	}
	if !strings.Contains(string(raw), `"mediaUrl":"https://cdn/x.jpg"`) {
		t.Fatalf("missing mediaUrl: %s", raw)
	}
	if strings.Contains(string(raw), `"content"`) {
		t.Fatalf("null content must be omitted: %s", raw)
	}
}

func TestPayload_DocumentWithoutURLRendersNulls(t *testing.T) {
	t.Parallel()

	msg := Message{ID: 4, MediaType: media.TypeDocument}
	raw, _ := json.Marshal(msg.Payload())
	if !strings.Contains(string(raw), `"attachment":{"url":null,"type":"document","name":null}`) {
		t.Fatalf("expected explicit nulls in attachment: %s", raw)
	}
}

func TestStatusFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status     string
		sent, read bool
	}{
		{status: "sent", sent: true},
		{status: "delivered", sent: true},
		{status: "READ", sent: true, read: true},
		{status: "failed"},
		{status: ""},
	}
	for _, tt := range tests {
		sent, read := statusFlags(tt.status)
		if sent != tt.sent || read != tt.read {
			t.Errorf("statusFlags(%q) = %v,%v want %v,%v", tt.status, sent, read, tt.sent, tt.read)
		}
	}
}

type recordingPublisher struct {
	sectorID int64
	payload  any
	err      error
}

func (p *recordingPublisher) Broadcast(sectorID int64, v any) error {
	p.sectorID = sectorID
	p.payload = v
	return p.err
}

func TestPublish(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	svc := NewService(nil, nil, pub)
	svc.Publish(Message{ID: 5, SectorID: 8, MediaType: media.TypeText})
	if pub.sectorID != 8 {
		t.Fatalf("unexpected sector: %d", pub.sectorID)
	}
	payload, ok := pub.payload.(Payload)
	if !ok || payload.ID != 5 {
		t.Fatalf("unexpected payload: %#v", pub.payload)
	}

	// broadcast errors are logged, never surfaced
	pub.err = errors.New("encode")
	svc.Publish(Message{ID: 6, SectorID: 8})

	NewService(nil, nil).Publish(Message{ID: 7})
}
