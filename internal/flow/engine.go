package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sectorhub/wagateway/internal/media"
	"github.com/sectorhub/wagateway/internal/message"
	"github.com/sectorhub/wagateway/internal/outbound"
)

// Dispatcher sends the messages produced by action blocks.
type Dispatcher interface {
	SendText(ctx context.Context, req outbound.TextRequest) (message.Message, error)
	SendMedia(ctx context.Context, req outbound.MediaRequest) (message.Message, error)
}

// Scheduler runs fn after d. The returned func cancels a pending run.
type Scheduler interface {
	After(d time.Duration, fn func()) (cancel func())
}

type timeScheduler struct{}

func (timeScheduler) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Inbound is the message that triggers a flow step.
type Inbound struct {
	SectorID  int64
	ContactID int64
	Recipient string
	Content   string
}

// Engine evaluates flows. Work for one contact runs on that contact's lane:
// while a timer has the lane suspended, later messages for the same contact
// wait in its backlog. Other contacts are never blocked.
type Engine struct {
	repo       Repository
	dispatcher Dispatcher
	scheduler  Scheduler
	logger     *slog.Logger

	mu     sync.Mutex
	lanes  map[int64]*lane
	timers map[uint64]func()
	seq    uint64
	closed bool
}

type lane struct {
	backlog []Inbound
}

// step is a resumable position inside the execution of one inbound message.
type step struct {
	in       Inbound
	flow     Flow
	state    State
	node     *Node
	blockIdx int
	// advance is set while executing the current node, cleared once the
	// transition has been taken.
	advance bool
}

func NewEngine(log *slog.Logger, repo Repository, dispatcher Dispatcher, scheduler Scheduler) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if scheduler == nil {
		scheduler = timeScheduler{}
	}
	return &Engine{
		repo:       repo,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		logger:     log.With(slog.String("service", "flow")),
		lanes:      make(map[int64]*lane),
		timers:     make(map[uint64]func()),
	}
}

// Handle runs one flow step for an inbound message: the current node's
// blocks, then at most one transition and the blocks of the node it leads to.
// A timer block suspends the rest of the step; Handle then returns and the
// remainder runs later. Errors of the synchronous part are returned; errors
// after a timer are logged.
func (e *Engine) Handle(ctx context.Context, in Inbound) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	if l, busy := e.lanes[in.ContactID]; busy {
		l.backlog = append(l.backlog, in)
		e.mu.Unlock()
		e.logger.Debug("contact lane busy, message queued",
			slog.Int64("contact_id", in.ContactID),
			slog.Int("backlog", len(l.backlog)),
		)
		return nil
	}
	e.lanes[in.ContactID] = &lane{}
	e.mu.Unlock()

	suspended, err := e.start(ctx, in)
	if !suspended {
		e.release(in.ContactID)
	}
	return err
}

// Close cancels pending continuations. Queued messages are dropped.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, cancel := range e.timers {
		cancel()
		delete(e.timers, id)
	}
	e.lanes = make(map[int64]*lane)
}

func (e *Engine) start(ctx context.Context, in Inbound) (bool, error) {
	f, err := e.repo.ActiveFlow(ctx, in.SectorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load flow: %w", err)
	}
	state, err := e.repo.GetOrCreateState(ctx, in.ContactID, f.ID, f.Graph.StartNodeID)
	if err != nil {
		return false, fmt.Errorf("load flow state: %w", err)
	}
	node, ok := f.Graph.Node(state.CurrentNodeID)
	if !ok {
		e.logger.Warn("flow node not found",
			slog.Int64("flow_id", f.ID),
			slog.Int64("contact_id", in.ContactID),
			slog.String("node_id", state.CurrentNodeID),
		)
		return false, nil
	}
	return e.run(ctx, step{in: in, flow: f, state: state, node: node, advance: true})
}

func (e *Engine) run(ctx context.Context, s step) (bool, error) {
	for {
		for i := s.blockIdx; i < len(s.node.Blocks); i++ {
			block := s.node.Blocks[i]
			if block.Type == BlockTimer {
				next := s
				next.blockIdx = i + 1
				return e.suspend(ctx, block.Delay, next), nil
			}
			if err := e.execute(ctx, s.in, block); err != nil {
				return false, fmt.Errorf("node %q block %d: %w", s.node.ID, i, err)
			}
		}
		if !s.advance {
			return false, nil
		}

		target, ok := s.node.Next(s.in.Content)
		if !ok {
			return false, nil
		}
		nextNode, ok := s.flow.Graph.Node(target)
		if !ok {
			e.logger.Warn("flow edge target not found", slog.Int64("flow_id", s.flow.ID), slog.String("node_id", target))
			return false, nil
		}
		if err := e.repo.UpdateState(ctx, s.state.ID, target); err != nil {
			return false, fmt.Errorf("advance flow state: %w", err)
		}
		s.state.CurrentNodeID = target
		s.node = nextNode
		s.blockIdx = 0
		s.advance = false
	}
}

// suspend schedules the remainder of s. It reports false when the engine is
// closed and nothing was scheduled.
func (e *Engine) suspend(ctx context.Context, d time.Duration, s step) bool {
	bg := context.WithoutCancel(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.seq++
	id := e.seq
	e.timers[id] = e.scheduler.After(d, func() {
		e.mu.Lock()
		delete(e.timers, id)
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return
		}
		e.resume(bg, s)
	})
	return true
}

func (e *Engine) resume(ctx context.Context, s step) {
	suspended, err := e.run(ctx, s)
	if err != nil {
		e.logger.Error("flow continuation failed",
			slog.Int64("contact_id", s.in.ContactID),
			slog.Int64("flow_id", s.flow.ID),
			slog.Any("error", err),
		)
	}
	if !suspended {
		e.release(s.in.ContactID)
	}
}

// release frees the lane or hands its backlog to a drain goroutine.
func (e *Engine) release(contactID int64) {
	e.mu.Lock()
	l, ok := e.lanes[contactID]
	if !ok {
		e.mu.Unlock()
		return
	}
	if len(l.backlog) == 0 || e.closed {
		delete(e.lanes, contactID)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	go e.drain(contactID)
}

func (e *Engine) drain(contactID int64) {
	for {
		e.mu.Lock()
		l, ok := e.lanes[contactID]
		if !ok || e.closed {
			e.mu.Unlock()
			return
		}
		if len(l.backlog) == 0 {
			delete(e.lanes, contactID)
			e.mu.Unlock()
			return
		}
		next := l.backlog[0]
		l.backlog = l.backlog[1:]
		e.mu.Unlock()

		suspended, err := e.start(context.Background(), next)
		if err != nil {
			e.logger.Error("queued flow step failed", slog.Int64("contact_id", contactID), slog.Any("error", err))
		}
		if suspended {
			return
		}
	}
}

func (e *Engine) execute(ctx context.Context, in Inbound, block Block) error {
	switch block.Type {
	case BlockText:
		_, err := e.dispatcher.SendText(ctx, outbound.TextRequest{
			SectorID:  in.SectorID,
			ContactID: in.ContactID,
			Recipient: in.Recipient,
			Text:      block.Content,
		})
		return err
	case BlockImage:
		_, err := e.dispatcher.SendMedia(ctx, outbound.MediaRequest{
			SectorID:  in.SectorID,
			ContactID: in.ContactID,
			Recipient: in.Recipient,
			MediaType: media.TypeImage,
			URL:       block.URL,
			Caption:   block.Caption,
			MimeType:  block.MimeType,
		})
		return err
	case BlockAttachment:
		kind := media.ClassifyMediaType(block.MimeType)
		if kind == media.TypeText {
			kind = media.TypeDocument
		}
		_, err := e.dispatcher.SendMedia(ctx, outbound.MediaRequest{
			SectorID:  in.SectorID,
			ContactID: in.ContactID,
			Recipient: in.Recipient,
			MediaType: kind,
			URL:       block.URL,
			Caption:   block.Caption,
			FileName:  block.FileName,
			MimeType:  block.MimeType,
		})
		return err
	default:
		return fmt.Errorf("unsupported block type %q", block.Type)
	}
}
