// Package schedule sends scheduled text broadcasts on a cron tick.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sectorhub/wagateway/internal/contacts"
	"github.com/sectorhub/wagateway/internal/message"
	"github.com/sectorhub/wagateway/internal/outbound"
)

// Repository is the schedule persistence the runner needs.
type Repository interface {
	Due(ctx context.Context, now time.Time, limit int) ([]Schedule, error)
	Claim(ctx context.Context, id int64, at time.Time) (bool, error)
}

type ContactLister interface {
	ListByTags(ctx context.Context, sectorID int64, tagIDs []string) ([]contacts.Contact, error)
}

type Sender interface {
	SendText(ctx context.Context, req outbound.TextRequest) (message.Message, error)
}

// Service runs due schedules every tick of spec.
type Service struct {
	repo     Repository
	contacts ContactLister
	sender   Sender
	spec     string
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func NewService(log *slog.Logger, repo Repository, contactLister ContactLister, sender Sender, spec string) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:     repo,
		contacts: contactLister,
		sender:   sender,
		spec:     spec,
		logger:   log.With(slog.String("service", "schedule")),
		now:      time.Now,
	}
}

// Start registers the tick and starts the cron runner.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	cl := cronLogger{logger: s.logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(s.spec, func() {
		if _, err := s.RunDue(context.Background()); err != nil {
			s.logger.Error("scheduled run failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("invalid schedule spec %q: %w", s.spec, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("scheduler started", slog.String("spec", s.spec))
	return nil
}

// Stop waits for a running tick to finish or ctx to end.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunDue sends every due schedule and returns how many were processed.
// Per-contact send failures are logged and do not stop the batch.
func (s *Service) RunDue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.repo.Due(ctx, now, 100)
	if err != nil {
		return 0, fmt.Errorf("list due schedules: %w", err)
	}
	processed := 0
	for _, sch := range due {
		claimed, err := s.repo.Claim(ctx, sch.ID, now)
		if err != nil {
			return processed, err
		}
		if !claimed {
			continue
		}
		processed++
		s.send(ctx, sch)
	}
	return processed, nil
}

func (s *Service) send(ctx context.Context, sch Schedule) {
	log := s.logger.With(slog.Int64("schedule_id", sch.ID), slog.Int64("sector_id", sch.SectorID))
	recipients, err := s.contacts.ListByTags(ctx, sch.SectorID, sch.TagIDs)
	if err != nil {
		log.Error("list schedule recipients failed", slog.Any("error", err))
		return
	}
	failed := 0
	for _, contact := range recipients {
		_, err := s.sender.SendText(ctx, outbound.TextRequest{
			SectorID:  sch.SectorID,
			ContactID: contact.ID,
			Recipient: contact.PhoneNumber,
			Text:      sch.MessageText,
		})
		if err != nil {
			failed++
			log.Warn("scheduled send failed", slog.Int64("contact_id", contact.ID), slog.Any("error", err))
		}
	}
	log.Info("schedule sent", slog.Int("recipients", len(recipients)), slog.Int("failed", failed))
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
