package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorhub/wagateway/internal/contacts"
	"github.com/sectorhub/wagateway/internal/flow"
	"github.com/sectorhub/wagateway/internal/media"
	"github.com/sectorhub/wagateway/internal/message"
	"github.com/sectorhub/wagateway/internal/sectors"
	"github.com/sectorhub/wagateway/internal/whatsapp"
)

type fakeSectors struct{}

func (fakeSectors) GetByPhoneNumberID(_ context.Context, id string) (sectors.Sector, error) {
	if id == "PNID" {
		return sectors.Sector{ID: 4, PhoneNumberID: id, AccessToken: "tok", IsActive: true}, nil
	}
	return sectors.Sector{}, sectors.ErrNotFound
}

type memContacts struct {
	byPhone map[string]contacts.Contact
	writes  int
}

func newMemContacts() *memContacts {
	return &memContacts{byPhone: map[string]contacts.Contact{}}
}

func (m *memContacts) Upsert(_ context.Context, sectorID int64, phone, name string) (contacts.Contact, error) {
	m.writes++
	c, ok := m.byPhone[phone]
	if !ok {
		c = contacts.Contact{ID: int64(len(m.byPhone) + 1), SectorID: sectorID, PhoneNumber: phone}
	}
	c.Name = name
	m.byPhone[phone] = c
	return c, nil
}

func (m *memContacts) Ensure(ctx context.Context, sectorID int64, phone string) (contacts.Contact, error) {
	if c, ok := m.byPhone[phone]; ok {
		return c, nil
	}
	return m.Upsert(ctx, sectorID, phone, contacts.DefaultName)
}

type fakeMedia struct {
	input media.ResolveInput
	err   error
}

func (f *fakeMedia) Resolve(_ context.Context, in media.ResolveInput) (media.Asset, error) {
	f.input = in
	if f.err != nil {
		return media.Asset{}, f.err
	}
	return media.Asset{URL: "https://cdn/4/image/abc/x.jpg", Type: in.MediaType, MimeType: "image/jpeg", FileName: "abc.jpg"}, nil
}

type memMessages struct {
	saved     []message.Message
	seen      map[string]bool
	broadcast []string
	statuses  []message.StatusInput
}

func newMemMessages() *memMessages {
	return &memMessages{seen: map[string]bool{}}
}

func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (m *memMessages) Persist(_ context.Context, in message.PersistInput) (message.Message, error) {
	if in.ProviderMessageID != "" && m.seen[in.ProviderMessageID] {
		return message.Message{}, message.ErrDuplicate
	}
	m.seen[in.ProviderMessageID] = true
	mediaURL := in.MediaURL
	if in.MediaType == media.TypeText {
		mediaURL = ""
	}
	msg := message.Message{
		ID:                int64(len(m.saved) + 1),
		SectorID:          in.SectorID,
		ContactID:         in.ContactID,
		Content:           strOrNil(in.Content),
		MediaType:         in.MediaType,
		MediaURL:          strOrNil(mediaURL),
		FileName:          strOrNil(in.FileName),
		MimeType:          strOrNil(in.MimeType),
		ProviderMessageID: in.ProviderMessageID,
		SentAt:            in.SentAt,
	}
	m.saved = append(m.saved, msg)
	return msg, nil
}

func (m *memMessages) Publish(msg message.Message) {
	raw, _ := json.Marshal(msg.Payload())
	m.broadcast = append(m.broadcast, string(raw))
}

func (m *memMessages) RecordStatus(_ context.Context, in message.StatusInput) (message.Message, bool, error) {
	m.statuses = append(m.statuses, in)
	for i, msg := range m.saved {
		if msg.ProviderMessageID == in.ProviderMessageID {
			m.saved[i].IsSent = true
			m.saved[i].IsRead = in.Status == "read"
			return m.saved[i], true, nil
		}
	}
	return message.Message{}, false, nil
}

type fakeFlows struct {
	calls []flow.Inbound
	err   error
}

func (f *fakeFlows) Handle(_ context.Context, in flow.Inbound) error {
	f.calls = append(f.calls, in)
	return f.err
}

type fixture struct {
	contacts *memContacts
	media    *fakeMedia
	messages *memMessages
	flows    *fakeFlows
	proc     *Processor
}

func newFixture() *fixture {
	f := &fixture{
		contacts: newMemContacts(),
		media:    &fakeMedia{},
		messages: newMemMessages(),
		flows:    &fakeFlows{},
	}
	f.proc = NewProcessor(nil, fakeSectors{}, f.contacts, f.media, f.messages, f.flows)
	return f
}

func payload(value string) []byte {
	return []byte(`{"object":"whatsapp_business_account","entry":[{"id":"W","changes":[{"field":"messages","value":` + value + `}]}]}`)
}

func TestProcess_TextMessageWithoutContactsBlock(t *testing.T) {
	t.Parallel()

	f := newFixture()
	body := payload(`{"metadata":{"phone_number_id":"PNID"},"messages":[{"from":"5511999999999","id":"wamid.A","timestamp":"1700000000","type":"text","text":{"body":"hi"}}]}`)

	require.NoError(t, f.proc.Process(context.Background(), body))

	require.Len(t, f.contacts.byPhone, 1)
	contact := f.contacts.byPhone["5511999999999"]
	assert.Equal(t, "Unknown", contact.Name)

	require.Len(t, f.messages.saved, 1)
	msg := f.messages.saved[0]
	assert.Equal(t, media.TypeText, msg.MediaType)
	require.NotNil(t, msg.Content)
	assert.Equal(t, "hi", *msg.Content)
	assert.Nil(t, msg.MediaURL)

	require.Len(t, f.messages.broadcast, 1)
	assert.Contains(t, f.messages.broadcast[0], `"mediaType":"text"`)
	assert.NotContains(t, f.messages.broadcast[0], `"attachment"`)

	require.Len(t, f.flows.calls, 1)
	assert.Equal(t, flow.Inbound{SectorID: 4, ContactID: contact.ID, Recipient: "5511999999999", Content: "hi"}, f.flows.calls[0])
}

func TestProcess_ContactsBlockUpdatesName(t *testing.T) {
	t.Parallel()

	f := newFixture()
	first := payload(`{"metadata":{"phone_number_id":"PNID"},"contacts":[{"profile":{"name":"Ana"},"wa_id":"55"}],"messages":[{"from":"55","id":"w1","type":"text","text":{"body":"a"}}]}`)
	second := payload(`{"metadata":{"phone_number_id":"PNID"},"contacts":[{"profile":{"name":"Ana Maria"},"wa_id":"55"}],"messages":[{"from":"55","id":"w2","type":"text","text":{"body":"b"}}]}`)
	noProfile := payload(`{"metadata":{"phone_number_id":"PNID"},"contacts":[{"wa_id":"66"}],"messages":[{"from":"66","id":"w3","type":"text","text":{"body":"c"}}]}`)

	require.NoError(t, f.proc.Process(context.Background(), first))
	require.NoError(t, f.proc.Process(context.Background(), second))
	require.NoError(t, f.proc.Process(context.Background(), noProfile))

	assert.Equal(t, "Ana Maria", f.contacts.byPhone["55"].Name)
	assert.Equal(t, "Unknown", f.contacts.byPhone["66"].Name)
	assert.Len(t, f.contacts.byPhone, 2)
	assert.Equal(t, f.messages.saved[0].ContactID, f.messages.saved[1].ContactID)
}

func TestProcess_ImageMessage(t *testing.T) {
	t.Parallel()

	f := newFixture()
	body := payload(`{"metadata":{"phone_number_id":"PNID"},"messages":[{"from":"55","id":"wi","type":"image","image":{"id":"MEDIA","mime_type":"image/jpeg","caption":"look"}}]}`)

	require.NoError(t, f.proc.Process(context.Background(), body))

	assert.Equal(t, media.ResolveInput{SectorID: 4, AccessToken: "tok", MediaID: "MEDIA", MediaType: media.TypeImage, MimeType: "image/jpeg"}, f.media.input)
	require.Len(t, f.messages.saved, 1)
	assert.Equal(t, media.TypeImage, f.messages.saved[0].MediaType)
	require.Len(t, f.messages.broadcast, 1)
	assert.Contains(t, f.messages.broadcast[0], `"attachment":{"url":"https://cdn/4/image/abc/x.jpg","type":"image","name":null}`)
	assert.Contains(t, f.messages.broadcast[0], `"content":"look"`)
}

func TestProcess_UnsupportedTypeIsDocumentWithNulls(t *testing.T) {
	t.Parallel()

	f := newFixture()
	body := payload(`{"metadata":{"phone_number_id":"PNID"},"messages":[{"from":"55","id":"wl","type":"location","location":{"latitude":1,"longitude":2}}]}`)

	require.NoError(t, f.proc.Process(context.Background(), body))
	require.Len(t, f.messages.saved, 1)
	assert.Equal(t, media.TypeDocument, f.messages.saved[0].MediaType)
	assert.Contains(t, f.messages.broadcast[0], `"attachment":{"url":null,"type":"document","name":null}`)
}

func TestProcess_MediaFailureAbortsMessage(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.media.err = &media.MetadataError{MediaID: "MEDIA"}
	body := payload(`{"metadata":{"phone_number_id":"PNID"},"messages":[{"from":"55","id":"wi","type":"audio","audio":{"id":"MEDIA"}}]}`)

	err := f.proc.Process(context.Background(), body)
	var metaErr *media.MetadataError
	require.True(t, errors.As(err, &metaErr))
	assert.Empty(t, f.messages.saved)
	assert.Empty(t, f.messages.broadcast)
	assert.Empty(t, f.flows.calls)
}

func TestProcess_EmptyEntryWritesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture()
	err := f.proc.Process(context.Background(), []byte(`{"entry":[]}`))
	var parseErr *whatsapp.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Zero(t, f.contacts.writes)
	assert.Empty(t, f.messages.saved)
	assert.Empty(t, f.messages.broadcast)
}

func TestProcess_UnknownTenant(t *testing.T) {
	t.Parallel()

	f := newFixture()
	body := payload(`{"metadata":{"phone_number_id":"OTHER"},"contacts":[{"wa_id":"55"}],"messages":[{"from":"55","id":"w","type":"text","text":{"body":"x"}}]}`)
	err := f.proc.Process(context.Background(), body)
	var tenantErr *UnknownTenantError
	require.True(t, errors.As(err, &tenantErr))
	assert.Equal(t, "OTHER", tenantErr.PhoneNumberID)
	assert.Zero(t, f.contacts.writes)
	assert.Empty(t, f.messages.saved)
}

func TestProcess_MessagesTakePrecedenceOverStatuses(t *testing.T) {
	t.Parallel()

	f := newFixture()
	body := payload(`{"metadata":{"phone_number_id":"PNID"},
	  "messages":[{"from":"55","id":"wm","type":"text","text":{"body":"x"}}],
	  "statuses":[{"id":"wm","status":"read","recipient_id":"55"}]}`)

	require.NoError(t, f.proc.Process(context.Background(), body))
	assert.Len(t, f.messages.saved, 1)
	assert.Empty(t, f.messages.statuses)
	assert.Len(t, f.messages.broadcast, 1)
}

func TestProcess_StatusWithErrorsIsRecorded(t *testing.T) {
	t.Parallel()

	f := newFixture()
	require.NoError(t, f.proc.Process(context.Background(),
		payload(`{"metadata":{"phone_number_id":"PNID"},"messages":[{"from":"55","id":"wamid.S","type":"text","text":{"body":"x"}}]}`)))

	status := payload(`{"metadata":{"phone_number_id":"PNID"},"statuses":[{"id":"wamid.S","status":"failed","recipient_id":"55",
	  "errors":[{"code":131047,"title":"Re-engagement message"},{"code":1,"title":"second"}]}]}`)
	require.NoError(t, f.proc.Process(context.Background(), status))

	require.Len(t, f.messages.statuses, 1)
	assert.Equal(t, 131047, f.messages.statuses[0].ErrorCode)
	assert.Equal(t, "Re-engagement message", f.messages.statuses[0].ErrorTitle)
	assert.Len(t, f.messages.broadcast, 2, "matched status is rebroadcast")

	unmatched := payload(`{"metadata":{"phone_number_id":"PNID"},"statuses":[{"id":"wamid.unknown","status":"delivered"}]}`)
	require.NoError(t, f.proc.Process(context.Background(), unmatched))
	assert.Len(t, f.messages.statuses, 2)
	assert.Len(t, f.messages.broadcast, 2)
}

func TestProcess_DuplicateDeliveryIsAcknowledged(t *testing.T) {
	t.Parallel()

	f := newFixture()
	body := payload(`{"metadata":{"phone_number_id":"PNID"},"messages":[{"from":"55","id":"wamid.D","type":"text","text":{"body":"x"}}]}`)
	require.NoError(t, f.proc.Process(context.Background(), body))
	require.NoError(t, f.proc.Process(context.Background(), body))
	assert.Len(t, f.messages.saved, 1)
	assert.Len(t, f.messages.broadcast, 1)
	assert.Len(t, f.flows.calls, 1)
}

func TestProcess_FlowErrorStillBroadcasts(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.flows.err = &whatsapp.ProviderAPIError{Op: "send message", StatusCode: 500}
	body := payload(`{"metadata":{"phone_number_id":"PNID"},"messages":[{"from":"55","id":"wf","type":"text","text":{"body":"x"}}]}`)

	err := f.proc.Process(context.Background(), body)
	var apiErr *whatsapp.ProviderAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Len(t, f.messages.saved, 1)
	assert.Len(t, f.messages.broadcast, 1)
}
