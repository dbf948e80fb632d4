// Package scheduler tests for background retry scheduling.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kimhsiao/fieldcount/backend/internal/connectivity"
	apperrors "github.com/kimhsiao/fieldcount/backend/internal/errors"
	"github.com/kimhsiao/fieldcount/backend/internal/models"
	syncpkg "github.com/kimhsiao/fieldcount/backend/internal/sync"
)

// =====================================================
// Test Helpers
// =====================================================

// fakeDrainer counts drains and can block them until released.
type fakeDrainer struct {
	drains   atomic.Int32
	draining atomic.Bool
	block    chan struct{}
	triggers chan string
}

func newFakeDrainer() *fakeDrainer {
	return &fakeDrainer{triggers: make(chan string, 16)}
}

func (d *fakeDrainer) Drain(ctx context.Context, trigger string) (*models.SyncReport, error) {
	if !d.draining.CompareAndSwap(false, true) {
		return nil, apperrors.New(apperrors.ErrDrainInProgress, "busy")
	}
	defer d.draining.Store(false)

	d.drains.Add(1)
	select {
	case d.triggers <- trigger:
	default:
	}
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return &models.SyncReport{Trigger: trigger, Skipped: 1, FinishedAt: time.Now()}, nil
		}
	}
	return &models.SyncReport{Trigger: trigger, Succeeded: 1, FinishedAt: time.Now()}, nil
}

func (d *fakeDrainer) TryDrain(ctx context.Context, trigger string) (*models.SyncReport, bool) {
	r, err := d.Drain(ctx, trigger)
	if err != nil {
		return nil, false
	}
	return r, true
}

func (d *fakeDrainer) Status() syncpkg.Status {
	if d.draining.Load() {
		return syncpkg.StatusDraining
	}
	return syncpkg.StatusIdle
}

type fixedSizer struct {
	n    atomic.Int32
	fail atomic.Bool
}

func (s *fixedSizer) Size(context.Context) (int, error) {
	if s.fail.Load() {
		return 0, errors.New("db closed")
	}
	return int(s.n.Load()), nil
}

func createTestScheduler(t *testing.T, pending int) (*fakeDrainer, *fixedSizer, *Scheduler) {
	t.Helper()
	d := newFakeDrainer()
	sz := &fixedSizer{}
	sz.n.Store(int32(pending))
	s := NewScheduler(d, sz, &SchedulerConfig{RetryInterval: 10 * time.Millisecond})
	t.Cleanup(s.Stop)
	return d, sz, s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// =====================================================
// Construction Tests
// =====================================================

// TestDefaultSchedulerConfig verifies default configuration.
func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()
	if config.RetryInterval != time.Minute {
		t.Errorf("RetryInterval = %v, want 1m", config.RetryInterval)
	}
}

// TestNewScheduler_nilConfig verifies defaults apply without a config.
func TestNewScheduler_nilConfig(t *testing.T) {
	s := NewScheduler(newFakeDrainer(), &fixedSizer{}, nil)
	if s.retryInterval != time.Minute {
		t.Errorf("retryInterval = %v, want 1m", s.retryInterval)
	}
	if s.IsOnline() {
		t.Error("new scheduler should start offline")
	}
	if s.IsRunning() {
		t.Error("new scheduler should not be running")
	}
}

// =====================================================
// Lifecycle Tests
// =====================================================

// TestScheduler_StartStop verifies Start and Stop are idempotent.
func TestScheduler_StartStop(t *testing.T) {
	_, _, s := createTestScheduler(t, 0)

	s.Stop() // before Start
	s.Start(context.Background())
	s.Start(context.Background())
	if !s.IsRunning() {
		t.Fatal("scheduler not running after Start")
	}

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("scheduler still running after Stop")
	}

	// Restart after stop.
	s.Start(context.Background())
	if !s.IsRunning() {
		t.Error("scheduler did not restart")
	}
}

// =====================================================
// Retry Loop Tests
// =====================================================

// TestScheduler_retriesWhileOnline verifies periodic drains run with pending actions.
func TestScheduler_retriesWhileOnline(t *testing.T) {
	d, _, s := createTestScheduler(t, 2)
	s.SetOnlineStatus(true)
	s.Start(context.Background())

	waitFor(t, func() bool { return d.drains.Load() >= 2 })
	if got := <-d.triggers; got != syncpkg.TriggerPeriodic {
		t.Errorf("trigger = %q, want %q", got, syncpkg.TriggerPeriodic)
	}

	status := s.GetStatus(context.Background())
	if status.LastReport == nil || status.LastSyncTime == nil {
		t.Error("status missing last report")
	}
	if status.PendingItems != 2 {
		t.Errorf("PendingItems = %d, want 2", status.PendingItems)
	}
}

// TestScheduler_idleWhenOffline verifies nothing drains while offline.
func TestScheduler_idleWhenOffline(t *testing.T) {
	d, _, s := createTestScheduler(t, 3)
	s.Start(context.Background())

	time.Sleep(60 * time.Millisecond)
	if n := d.drains.Load(); n != 0 {
		t.Errorf("drains = %d while offline, want 0", n)
	}
}

// TestScheduler_idleWhenNothingPending verifies an empty log is not drained.
func TestScheduler_idleWhenNothingPending(t *testing.T) {
	d, sz, s := createTestScheduler(t, 0)
	s.SetOnlineStatus(true)
	s.Start(context.Background())

	time.Sleep(60 * time.Millisecond)
	if n := d.drains.Load(); n != 0 {
		t.Errorf("drains = %d with empty log, want 0", n)
	}

	sz.n.Store(1)
	sz.fail.Store(true)
	time.Sleep(30 * time.Millisecond)
	if n := d.drains.Load(); n != 0 {
		t.Errorf("drains = %d after size error, want 0", n)
	}
}

// TestScheduler_Watch verifies the monitor drives the online state.
func TestScheduler_Watch(t *testing.T) {
	d, _, s := createTestScheduler(t, 1)
	monitor := connectivity.NewMonitor(false)
	s.Watch(monitor)
	s.Start(context.Background())

	time.Sleep(30 * time.Millisecond)
	if d.drains.Load() != 0 {
		t.Fatal("drained while monitor offline")
	}

	monitor.BecameOnline()
	waitFor(t, func() bool { return d.drains.Load() >= 1 })

	s.Stop()
	if monitor.Listeners() != 0 {
		t.Errorf("listeners = %d after Stop, want 0", monitor.Listeners())
	}
}

// TestScheduler_StopCancelsDrain verifies Stop does not hang on a blocked drain.
func TestScheduler_StopCancelsDrain(t *testing.T) {
	d, _, s := createTestScheduler(t, 1)
	d.block = make(chan struct{})
	s.SetOnlineStatus(true)
	s.Start(context.Background())

	waitFor(t, func() bool { return d.Status() == syncpkg.StatusDraining })

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on running drain")
	}
}

// =====================================================
// Manual Trigger Tests
// =====================================================

// TestScheduler_TriggerSync verifies manual triggers and their refusal rules.
func TestScheduler_TriggerSync(t *testing.T) {
	d, _, s := createTestScheduler(t, 0)
	if s.TriggerSync(context.Background()) {
		t.Error("TriggerSync on stopped scheduler should return false")
	}

	d.block = make(chan struct{})
	s.Start(context.Background())
	if !s.TriggerSync(context.Background()) {
		t.Fatal("TriggerSync returned false on idle scheduler")
	}
	waitFor(t, func() bool { return d.Status() == syncpkg.StatusDraining })

	if s.TriggerSync(context.Background()) {
		t.Error("TriggerSync during drain should return false")
	}
	if got := <-d.triggers; got != syncpkg.TriggerManual {
		t.Errorf("trigger = %q, want %q", got, syncpkg.TriggerManual)
	}
	close(d.block)
}

// TestScheduler_TriggerSync_concurrent verifies only one of many triggers drains at a time.
func TestScheduler_TriggerSync_concurrent(t *testing.T) {
	d, _, s := createTestScheduler(t, 0)
	d.block = make(chan struct{})
	s.Start(context.Background())

	var started atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TriggerSync(context.Background()) {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	close(d.block)
	s.Stop()

	if started.Load() < 1 {
		t.Error("no trigger started a drain")
	}
	if d.drains.Load() != 1 {
		t.Errorf("drains = %d, want 1", d.drains.Load())
	}
}

// TestScheduler_SyncNow verifies synchronous drains and the in-progress error.
func TestScheduler_SyncNow(t *testing.T) {
	d, _, s := createTestScheduler(t, 1)

	report, err := s.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow() error = %v", err)
	}
	if report.Trigger != syncpkg.TriggerManual {
		t.Errorf("trigger = %q", report.Trigger)
	}
	if s.GetStatus(context.Background()).LastReport == nil {
		t.Error("SyncNow did not record report")
	}

	d.draining.Store(true)
	if _, err := s.SyncNow(context.Background()); !apperrors.Is(err, apperrors.ErrDrainInProgress) {
		t.Errorf("SyncNow during drain error = %v, want DRAIN_IN_PROGRESS", err)
	}
	d.draining.Store(false)
}
