package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorhub/wagateway/internal/contacts"
	"github.com/sectorhub/wagateway/internal/message"
	"github.com/sectorhub/wagateway/internal/outbound"
)

type memRepo struct {
	due     []Schedule
	claimed map[int64]time.Time
	lost    map[int64]bool
}

func (r *memRepo) Due(_ context.Context, now time.Time, _ int) ([]Schedule, error) {
	var out []Schedule
	for _, s := range r.due {
		if _, done := r.claimed[s.ID]; !done && !s.SendAt.After(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRepo) Claim(_ context.Context, id int64, at time.Time) (bool, error) {
	if r.lost[id] {
		return false, nil
	}
	r.claimed[id] = at
	return true, nil
}

type memContacts struct {
	byTag map[string][]contacts.Contact
	all   []contacts.Contact
	tags  [][]string
}

func (m *memContacts) ListByTags(_ context.Context, _ int64, tagIDs []string) ([]contacts.Contact, error) {
	m.tags = append(m.tags, tagIDs)
	if len(tagIDs) == 0 {
		return m.all, nil
	}
	var out []contacts.Contact
	for _, tag := range tagIDs {
		out = append(out, m.byTag[tag]...)
	}
	return out, nil
}

type recordingSender struct {
	sent   []outbound.TextRequest
	failOn string
}

func (s *recordingSender) SendText(_ context.Context, req outbound.TextRequest) (message.Message, error) {
	if req.Recipient == s.failOn {
		return message.Message{}, errors.New("rejected")
	}
	s.sent = append(s.sent, req)
	return message.Message{}, nil
}

func TestRunDue_SendsToTaggedContacts(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &memRepo{
		claimed: map[int64]time.Time{},
		lost:    map[int64]bool{3: true},
		due: []Schedule{
			{ID: 1, SectorID: 5, MessageText: "promo", TagIDs: []string{"vip"}, SendAt: now.Add(-time.Minute)},
			{ID: 2, SectorID: 5, MessageText: "later", SendAt: now.Add(time.Hour)},
			{ID: 3, SectorID: 5, MessageText: "taken", SendAt: now.Add(-time.Minute)},
		},
	}
	lister := &memContacts{byTag: map[string][]contacts.Contact{
		"vip": {{ID: 10, PhoneNumber: "551"}, {ID: 11, PhoneNumber: "552"}, {ID: 12, PhoneNumber: "553"}},
	}}
	sender := &recordingSender{failOn: "552"}
	svc := NewService(nil, repo, lister, sender, "@every 1m")
	svc.now = func() time.Time { return now }

	n, err := svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, now, repo.claimed[1])
	assert.NotContains(t, repo.claimed, int64(2))

	require.Len(t, sender.sent, 2, "a failed recipient does not stop the batch")
	assert.Equal(t, outbound.TextRequest{SectorID: 5, ContactID: 10, Recipient: "551", Text: "promo"}, sender.sent[0])
	assert.Equal(t, "553", sender.sent[1].Recipient)

	n, err = svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunDue_NoTagsMeansAllContacts(t *testing.T) {
	t.Parallel()

	repo := &memRepo{
		claimed: map[int64]time.Time{},
		due:     []Schedule{{ID: 1, SectorID: 5, MessageText: "hello all", SendAt: time.Now().Add(-time.Second)}},
	}
	lister := &memContacts{all: []contacts.Contact{{ID: 1, PhoneNumber: "1"}, {ID: 2, PhoneNumber: "2"}}}
	sender := &recordingSender{}
	svc := NewService(nil, repo, lister, sender, "@every 1m")

	_, err := svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Len(t, sender.sent, 2)
	require.Len(t, lister.tags, 1)
	assert.Empty(t, lister.tags[0])
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, &memRepo{claimed: map[int64]time.Time{}}, &memContacts{}, &recordingSender{}, "not a spec")
	require.Error(t, svc.Start())
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, &memRepo{claimed: map[int64]time.Time{}}, &memContacts{}, &recordingSender{}, "@every 1h")
	require.NoError(t, svc.Start())
	require.NoError(t, svc.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))
	require.NoError(t, svc.Stop(ctx))
}
