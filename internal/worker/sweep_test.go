package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-capacity-engine/internal/conflict"
	"github.com/hackgods/clinic-capacity-engine/internal/notify"
	redisclient "github.com/hackgods/clinic-capacity-engine/internal/redis"
)

type fakeDetector struct {
	report *conflict.Report
	err    error
	got    []conflict.DetectRequest
}

func (f *fakeDetector) Detect(_ context.Context, req conflict.DetectRequest) (*conflict.Report, error) {
	f.got = append(f.got, req)
	return f.report, f.err
}

type fakeEscalator struct {
	n     int
	calls int
}

func (f *fakeEscalator) Escalate(context.Context) (int, error) {
	f.calls++
	return f.n, nil
}

func report(high, autoFixed int) *conflict.Report {
	r := &conflict.Report{From: "2025-06-02", To: "2026-06-02"}
	for i := 0; i < high; i++ {
		r.Conflicts = append(r.Conflicts, conflict.Conflict{Type: conflict.Overbooking, Severity: conflict.SeverityHigh})
	}
	for i := 0; i < autoFixed; i++ {
		r.AutoResolutions = append(r.AutoResolutions, conflict.AutoResolution{Action: "increased_capacity"})
	}
	r.Summary = conflict.Summarize(r.Conflicts)
	return r
}

func TestRunOnce_DetectsEscalatesAndAlerts(t *testing.T) {
	det := &fakeDetector{report: report(3, 1)}
	esc := &fakeEscalator{n: 2}
	rec := &notify.Recorder{}
	s := NewSweeper(det, esc, redisclient.NewLocalLocker(), rec, true, zerolog.Nop())

	out, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Outcome{Conflicts: 3, High: 3, AutoFixed: 1, Escalated: 2}, out)
	require.Len(t, det.got, 1)
	assert.True(t, det.got[0].AutoFix)

	alerts := rec.OfType(EventConflictsFound)
	require.Len(t, alerts, 1)
	assert.Equal(t, notify.ChannelAlerts, alerts[0].Channel)
	assert.Equal(t, 2, alerts[0].Payload["high_severity"])
}

func TestRunOnce_NoAlertWhenEverythingWasFixed(t *testing.T) {
	rec := &notify.Recorder{}
	s := NewSweeper(&fakeDetector{report: report(2, 2)}, &fakeEscalator{}, redisclient.NewLocalLocker(), rec, true, zerolog.Nop())

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rec.OfType(EventConflictsFound))
}

func TestRunOnce_SkipsWhenLockHeld(t *testing.T) {
	locker := redisclient.NewLocalLocker()
	det := &fakeDetector{report: report(0, 0)}
	s := NewSweeper(det, &fakeEscalator{}, locker, notify.Nop{}, false, zerolog.Nop())

	var inner Outcome
	err := locker.WithLock(context.Background(), lockKey, func(ctx context.Context) error {
		var err error
		inner, err = s.RunOnce(ctx)
		return err
	})
	require.NoError(t, err)
	assert.True(t, inner.Skipped)
	assert.Empty(t, det.got)
}

func TestRunOnce_DetectionFailureStopsBeforeEscalation(t *testing.T) {
	esc := &fakeEscalator{}
	s := NewSweeper(&fakeDetector{err: errors.New("db down")}, esc, redisclient.NewLocalLocker(), notify.Nop{}, false, zerolog.Nop())

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Zero(t, esc.calls)
}
