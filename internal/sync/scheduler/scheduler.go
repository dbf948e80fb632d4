// Package scheduler retries pending actions in the background while the Remote API is reachable.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/fieldcount/backend/internal/connectivity"
	"github.com/kimhsiao/fieldcount/backend/internal/errors"
	"github.com/kimhsiao/fieldcount/backend/internal/logging"
	"github.com/kimhsiao/fieldcount/backend/internal/models"
	syncpkg "github.com/kimhsiao/fieldcount/backend/internal/sync"
)

// Sizer reports how many actions are pending.
type Sizer interface {
	Size(ctx context.Context) (int, error)
}

// Scheduler periodically drains the action log so actions that failed during a
// reconnect drain are retried without waiting for the next connectivity change.
type Scheduler struct {
	drainer        syncpkg.Drainer
	pending        Sizer
	retryInterval  time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
	mu             sync.RWMutex
	isRunning      bool
	isOnline       bool
	lastSyncTime   time.Time
	lastReport     *models.SyncReport
	syncInProgress bool
	unsubscribe    func()
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	RetryInterval time.Duration // How often to retry while online (default: 1 minute)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		RetryInterval: 1 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(drainer syncpkg.Drainer, pending Sizer, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultSchedulerConfig().RetryInterval
	}

	return &Scheduler{
		drainer:       drainer,
		pending:       pending,
		retryInterval: config.RetryInterval,
		isOnline:      false,
	}
}

// Watch follows monitor for the online state. Returns a function that stops watching.
func (s *Scheduler) Watch(monitor *connectivity.Monitor) func() {
	s.SetOnlineStatus(monitor.CurrentStatus())
	unsubscribe := monitor.Subscribe(s.SetOnlineStatus)

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
	return unsubscribe
}

// Start starts the background retry loop. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.retryLoop(ctx, stopCh)

	logging.Info("Background sync scheduler started",
		map[string]interface{}{"retry_interval": s.retryInterval.String()})
}

// Stop stops the scheduler and waits for running drains it started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// SetOnlineStatus changes the online status of the scheduler.
// Retries only run while online.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasOnline := s.isOnline
	s.isOnline = isOnline

	if wasOnline != isOnline {
		logging.Debug("Scheduler online status changed",
			map[string]interface{}{
				"was_online": wasOnline,
				"is_online":  isOnline,
			})
	}
}

// retryLoop drains on every tick while online and something is pending.
func (s *Scheduler) retryLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}

			n, err := s.pending.Size(ctx)
			if err != nil {
				logging.ErrorWithCode("Failed to read pending count", string(errors.ErrStorage), err, nil)
				continue
			}
			if n == 0 {
				continue
			}

			if !s.claim() {
				logging.Debug("Sync already in progress, skipping", nil)
				continue
			}
			s.runSync(ctx, stopCh, syncpkg.TriggerPeriodic)
		}
	}
}

// claim marks a scheduler-started drain as in progress.
func (s *Scheduler) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncInProgress {
		return false
	}
	s.syncInProgress = true
	return true
}

// runSync runs one claimed drain, cancelling it if the scheduler stops.
func (s *Scheduler) runSync(ctx context.Context, stopCh <-chan struct{}, trigger string) {
	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	drainCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-drainCtx.Done():
		}
	}()

	report, started := s.drainer.TryDrain(drainCtx, trigger)
	if !started {
		logging.Debug("Drain already running, retry skipped", nil)
		return
	}
	if report == nil {
		return
	}

	s.mu.Lock()
	s.lastSyncTime = report.FinishedAt
	s.lastReport = report
	s.mu.Unlock()
}

// TriggerSync starts a drain in the background.
// Returns true if the drain was started, false if one is already in progress or the scheduler is stopped.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	s.mu.Lock()
	if !s.isRunning || s.syncInProgress || s.drainer.Status() == syncpkg.StatusDraining {
		s.mu.Unlock()
		return false
	}
	s.syncInProgress = true
	stopCh := s.stopCh
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.runSync(ctx, stopCh, syncpkg.TriggerManual)
	}()
	return true
}

// SchedulerStatus is a snapshot of the scheduler state.
type SchedulerStatus struct {
	IsRunning      bool               `json:"is_running"`
	IsOnline       bool               `json:"is_online"`
	LastSyncTime   *time.Time         `json:"last_sync_time,omitempty"`
	LastReport     *models.SyncReport `json:"last_report,omitempty"`
	SyncInProgress bool               `json:"sync_in_progress"`
	PendingItems   int                `json:"pending_items"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus(ctx context.Context) SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.isOnline,
		SyncInProgress: s.syncInProgress || s.drainer.Status() == syncpkg.StatusDraining,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if s.lastReport != nil {
		r := *s.lastReport
		status.LastReport = &r
	}
	s.mu.RUnlock()

	if n, err := s.pending.Size(ctx); err == nil {
		status.PendingItems = n
	}
	return status
}

// SyncNow drains immediately and waits for the report.
// Fails with DRAIN_IN_PROGRESS when another drain is running.
func (s *Scheduler) SyncNow(ctx context.Context) (*models.SyncReport, error) {
	report, err := s.drainer.Drain(ctx, syncpkg.TriggerManual)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lastSyncTime = report.FinishedAt
	s.lastReport = report
	s.mu.Unlock()

	logging.Info("Manual sync completed",
		map[string]interface{}{
			"succeeded": report.Succeeded,
			"failed":    report.Failed,
			"skipped":   report.Skipped,
		})

	return report, nil
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
