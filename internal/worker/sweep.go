package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-capacity-engine/internal/conflict"
	"github.com/hackgods/clinic-capacity-engine/internal/notify"
	redisclient "github.com/hackgods/clinic-capacity-engine/internal/redis"
)

const (
	lockKey = "conflict-worker"

	EventConflictsFound = "conflicts.detected"
)

type Detector interface {
	Detect(ctx context.Context, req conflict.DetectRequest) (*conflict.Report, error)
}

type Escalator interface {
	Escalate(ctx context.Context) (int, error)
}

// Sweeper runs the periodic maintenance pass: conflict detection (with
// optional auto-fix) and queue escalation. Only one instance sweeps at a time.
type Sweeper struct {
	conflicts Detector
	queue     Escalator
	locker    redisclient.Locker
	sink      notify.Sink
	autoFix   bool
	timeout   time.Duration
	log       zerolog.Logger
}

func NewSweeper(conflicts Detector, queue Escalator, locker redisclient.Locker, sink notify.Sink, autoFix bool, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		conflicts: conflicts,
		queue:     queue,
		locker:    locker,
		sink:      sink,
		autoFix:   autoFix,
		timeout:   20 * time.Second,
		log:       log,
	}
}

type Outcome struct {
	Skipped   bool
	Conflicts int
	High      int
	AutoFixed int
	Escalated int
}

// RunOnce sweeps once. Losing the lock to another instance is not an error.
func (s *Sweeper) RunOnce(ctx context.Context) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out Outcome
	err := s.locker.WithLock(ctx, lockKey, func(ctx context.Context) error {
		report, err := s.conflicts.Detect(ctx, conflict.DetectRequest{AutoFix: s.autoFix})
		if err != nil {
			return err
		}
		out.Conflicts = report.Summary.Total
		out.High = report.Summary.BySeverity[conflict.SeverityHigh]
		out.AutoFixed = len(report.AutoResolutions)
		s.alert(ctx, report)

		n, err := s.queue.Escalate(ctx)
		if err != nil {
			return err
		}
		out.Escalated = n
		return nil
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return Outcome{Skipped: true}, nil
	}
	return out, err
}

// alert publishes a summary when high-severity conflicts remain unfixed.
func (s *Sweeper) alert(ctx context.Context, report *conflict.Report) {
	open := report.Summary.BySeverity[conflict.SeverityHigh] - len(report.AutoResolutions)
	if open <= 0 {
		return
	}
	ev := notify.Event{
		Channel: notify.ChannelAlerts,
		Type:    EventConflictsFound,
		Payload: map[string]any{
			"date_from":     report.From,
			"date_to":       report.To,
			"high_severity": open,
			"by_type":       report.Summary.ByType,
		},
		OccurredAt: time.Now().UTC(),
	}
	if err := s.sink.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Msg("publish conflict alert")
	}
}

// Run sweeps at startup and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	s.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("shutdown signal received, stopping conflict worker")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	start := time.Now()
	out, err := s.RunOnce(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("sweep failed")
		return
	}
	if out.Skipped {
		s.log.Debug().Msg("another instance holds the sweep lock")
		return
	}
	s.log.Info().
		Int("conflicts", out.Conflicts).
		Int("high", out.High).
		Int("auto_fixed", out.AutoFixed).
		Int("escalated", out.Escalated).
		Dur("took", time.Since(start)).
		Msg("sweep complete")
}
