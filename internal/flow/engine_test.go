package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorhub/wagateway/internal/media"
	"github.com/sectorhub/wagateway/internal/message"
	"github.com/sectorhub/wagateway/internal/outbound"
)

type memRepo struct {
	mu      sync.Mutex
	flow    *Flow
	states  map[int64]State
	updates []string
}

func newMemRepo(t *testing.T, def Definition) *memRepo {
	t.Helper()
	g, err := Compile(def, "start")
	require.NoError(t, err)
	return &memRepo{flow: &Flow{ID: 1, SectorID: 1, Definition: def, Graph: g}, states: map[int64]State{}}
}

func (r *memRepo) ActiveFlow(_ context.Context, sectorID int64) (Flow, error) {
	if r.flow == nil || r.flow.SectorID != sectorID {
		return Flow{}, ErrNotFound
	}
	return *r.flow, nil
}

func (r *memRepo) GetOrCreateState(_ context.Context, contactID, flowID int64, start string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[contactID]
	if !ok {
		st = State{ID: contactID, ContactID: contactID, FlowID: flowID, CurrentNodeID: start}
		r.states[contactID] = st
	}
	return st, nil
}

func (r *memRepo) UpdateState(_ context.Context, stateID int64, nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.states[stateID]
	st.CurrentNodeID = nodeID
	r.states[stateID] = st
	r.updates = append(r.updates, nodeID)
	return nil
}

func (r *memRepo) node(contactID int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[contactID].CurrentNodeID
}

type sent struct {
	contactID int64
	body      string
	kind      media.Type
}

type recordingDispatcher struct {
	mu     sync.Mutex
	sent   []sent
	failOn string
}

func (d *recordingDispatcher) SendText(_ context.Context, req outbound.TextRequest) (message.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn != "" && req.Text == d.failOn {
		return message.Message{}, errors.New("provider down")
	}
	d.sent = append(d.sent, sent{contactID: req.ContactID, body: req.Text, kind: media.TypeText})
	return message.Message{}, nil
}

func (d *recordingDispatcher) SendMedia(_ context.Context, req outbound.MediaRequest) (message.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sent{contactID: req.ContactID, body: req.URL, kind: req.MediaType})
	return message.Message{}, nil
}

func (d *recordingDispatcher) bodies(contactID int64) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, s := range d.sent {
		if s.contactID == contactID {
			out = append(out, s.body)
		}
	}
	return out
}

type manualScheduler struct {
	mu      sync.Mutex
	pending []*scheduled
}

type scheduled struct {
	delay     time.Duration
	fn        func()
	cancelled bool
}

func (s *manualScheduler) After(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := &scheduled{delay: d, fn: fn}
	s.pending = append(s.pending, entry)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		entry.cancelled = true
	}
}

// fire runs the oldest pending continuation.
func (s *manualScheduler) fire(t *testing.T) time.Duration {
	t.Helper()
	s.mu.Lock()
	require.NotEmpty(t, s.pending, "no pending continuation")
	next := s.pending[0]
	s.pending = s.pending[1:]
	cancelled := next.cancelled
	s.mu.Unlock()
	if !cancelled {
		next.fn()
	}
	return next.delay
}

func (s *manualScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.pending {
		if !p.cancelled {
			n++
		}
	}
	return n
}

func branchingFlow() Definition {
	return Definition{
		Nodes: []NodeDef{
			{ID: "start", Blocks: []BlockDef{{Type: "text", Content: "menu"}}, Condition: &ConditionDef{Type: "contains", Value: "1"}},
			{ID: "sales", Blocks: []BlockDef{{Type: "text", Content: "sales"}, {Type: "image", URL: "https://cdn/p.png"}}},
			{ID: "other", Blocks: []BlockDef{{Type: "attachment", URL: "https://cdn/m.pdf", MimeType: "application/pdf"}}},
		},
		Edges: []EdgeDef{
			{Source: "start", Target: "sales", SourceHandle: "true"},
			{Source: "start", Target: "other", SourceHandle: "false"},
		},
	}
}

func TestEngine_SingleHopPerMessage(t *testing.T) {
	t.Parallel()

	repo := newMemRepo(t, branchingFlow())
	disp := &recordingDispatcher{}
	engine := NewEngine(nil, repo, disp, &manualScheduler{})
	ctx := context.Background()

	require.NoError(t, engine.Handle(ctx, Inbound{SectorID: 1, ContactID: 7, Recipient: "55", Content: "I want 1"}))
	assert.Equal(t, []string{"menu", "sales", "https://cdn/p.png"}, disp.bodies(7))
	assert.Equal(t, "sales", repo.node(7))

	// sales has no outgoing edge: its blocks run again, state stays.
	require.NoError(t, engine.Handle(ctx, Inbound{SectorID: 1, ContactID: 7, Recipient: "55", Content: "1"}))
	assert.Equal(t, []string{"menu", "sales", "https://cdn/p.png", "sales", "https://cdn/p.png"}, disp.bodies(7))
	assert.Equal(t, []string{"sales"}, repo.updates)
}

func TestEngine_IsDeterministic(t *testing.T) {
	t.Parallel()

	run := func() []string {
		repo := newMemRepo(t, branchingFlow())
		disp := &recordingDispatcher{}
		engine := NewEngine(nil, repo, disp, &manualScheduler{})
		require.NoError(t, engine.Handle(context.Background(), Inbound{SectorID: 1, ContactID: 3, Recipient: "55", Content: "no"}))
		return disp.bodies(3)
	}
	first := run()
	assert.Equal(t, []string{"menu", "https://cdn/m.pdf"}, first)
	assert.Equal(t, first, run())
}

func TestEngine_AttachmentKindFromMime(t *testing.T) {
	t.Parallel()

	repo := newMemRepo(t, branchingFlow())
	disp := &recordingDispatcher{}
	engine := NewEngine(nil, repo, disp, &manualScheduler{})
	require.NoError(t, engine.Handle(context.Background(), Inbound{SectorID: 1, ContactID: 3, Recipient: "55", Content: "no"}))
	require.Len(t, disp.sent, 2)
	assert.Equal(t, media.TypeDocument, disp.sent[1].kind)
}

func TestEngine_SendFailureAbortsAndKeepsState(t *testing.T) {
	t.Parallel()

	repo := newMemRepo(t, branchingFlow())
	disp := &recordingDispatcher{failOn: "menu"}
	engine := NewEngine(nil, repo, disp, &manualScheduler{})

	err := engine.Handle(context.Background(), Inbound{SectorID: 1, ContactID: 7, Recipient: "55", Content: "1"})
	require.Error(t, err)
	assert.Empty(t, disp.bodies(7))
	assert.Equal(t, "start", repo.node(7))
	assert.Empty(t, repo.updates)

	// lane was released
	disp.failOn = ""
	require.NoError(t, engine.Handle(context.Background(), Inbound{SectorID: 1, ContactID: 7, Recipient: "55", Content: "1"}))
	assert.Equal(t, "sales", repo.node(7))
}

func TestEngine_MissingNodeOrFlowIsNoop(t *testing.T) {
	t.Parallel()

	repo := newMemRepo(t, branchingFlow())
	repo.states[9] = State{ID: 9, ContactID: 9, FlowID: 1, CurrentNodeID: "deleted"}
	disp := &recordingDispatcher{}
	engine := NewEngine(nil, repo, disp, &manualScheduler{})

	require.NoError(t, engine.Handle(context.Background(), Inbound{SectorID: 1, ContactID: 9, Content: "1"}))
	assert.Empty(t, disp.sent)
	assert.Equal(t, "deleted", repo.node(9))

	require.NoError(t, engine.Handle(context.Background(), Inbound{SectorID: 2, ContactID: 9, Content: "1"}))
	assert.Empty(t, disp.sent)
}

func timerFlow() Definition {
	return Definition{
		Nodes: []NodeDef{
			{ID: "start", Blocks: []BlockDef{
				{Type: "text", Content: "hi"},
				{Type: "timer", Seconds: 5},
				{Type: "text", Content: "still there?"},
			}},
			{ID: "next", Blocks: []BlockDef{{Type: "text", Content: "next"}}},
		},
		Edges: []EdgeDef{{Source: "start", Target: "next"}},
	}
}

func TestEngine_TimerSuspendsOnlyTheContact(t *testing.T) {
	t.Parallel()

	repo := newMemRepo(t, timerFlow())
	disp := &recordingDispatcher{}
	sched := &manualScheduler{}
	engine := NewEngine(nil, repo, disp, sched)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, engine.Handle(ctx, Inbound{SectorID: 1, ContactID: 1, Recipient: "a", Content: "x"}))
	assert.Equal(t, []string{"hi"}, disp.bodies(1))
	assert.Equal(t, 1, sched.count())
	// request context ends while the continuation is pending
	cancel()

	// same contact queues, another contact proceeds
	require.NoError(t, engine.Handle(context.Background(), Inbound{SectorID: 1, ContactID: 1, Recipient: "a", Content: "y"}))
	assert.Equal(t, []string{"hi"}, disp.bodies(1))
	require.NoError(t, engine.Handle(context.Background(), Inbound{SectorID: 1, ContactID: 2, Recipient: "b", Content: "x"}))
	assert.Equal(t, []string{"hi"}, disp.bodies(2))
	assert.Equal(t, 2, sched.count())

	delay := sched.fire(t)
	assert.Equal(t, 5*time.Second, delay)
	assert.Equal(t, []string{"hi", "still there?", "next"}, disp.bodies(1))
	assert.Equal(t, "next", repo.node(1))

	// the queued message runs on the drained lane at node "next"
	assert.Eventually(t, func() bool {
		return len(disp.bodies(1)) == 4
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "next", disp.bodies(1)[3])
}

func TestEngine_CloseCancelsContinuations(t *testing.T) {
	t.Parallel()

	repo := newMemRepo(t, timerFlow())
	disp := &recordingDispatcher{}
	sched := &manualScheduler{}
	engine := NewEngine(nil, repo, disp, sched)

	require.NoError(t, engine.Handle(context.Background(), Inbound{SectorID: 1, ContactID: 1, Recipient: "a"}))
	engine.Close()
	assert.Equal(t, 0, sched.count())
	require.NoError(t, engine.Handle(context.Background(), Inbound{SectorID: 1, ContactID: 1, Recipient: "a"}))
	assert.Equal(t, []string{"hi"}, disp.bodies(1))
}
