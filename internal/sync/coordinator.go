package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kimhsiao/fieldcount/backend/internal/connectivity"
	apperrors "github.com/kimhsiao/fieldcount/backend/internal/errors"
	"github.com/kimhsiao/fieldcount/backend/internal/logging"
	"github.com/kimhsiao/fieldcount/backend/internal/models"
	"github.com/kimhsiao/fieldcount/backend/internal/remote"
)

// Status represents the coordinator state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusDraining Status = "draining"
)

// Drain triggers recorded in SyncReport.Trigger.
const (
	TriggerReconnect = "reconnect"
	TriggerManual    = "manual"
	TriggerPeriodic  = "periodic"
)

// ReportHandler receives the report of every completed drain.
type ReportHandler func(report models.SyncReport)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDispatchTimeout bounds each Remote API call made during a drain. Zero leaves
// calls bounded only by the transport and the drain context.
func WithDispatchTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.dispatchTimeout = d
	}
}

// WithClock sets the clock used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

type reportSubscription struct {
	id uint64
	fn ReportHandler
}

// Coordinator drains the action log against the Remote API.
// At most one drain runs at a time; a removal failure after a successful dispatch
// leaves the action in the log, so delivery is at-least-once.
type Coordinator struct {
	log             ActionLog
	api             remote.API
	dispatchTimeout time.Duration
	now             func() time.Time

	draining atomic.Bool

	mu       sync.RWMutex
	handlers []reportSubscription
	nextID   uint64
	last     *models.SyncReport

	// attachMu guards the connectivity subscription and the background drains it starts.
	attachMu    sync.Mutex
	attached    bool
	unsubscribe func()
	bgCtx       context.Context
	bgCancel    context.CancelFunc
	bg          sync.WaitGroup
}

// NewCoordinator creates a Coordinator draining log into api.
func NewCoordinator(log ActionLog, api remote.API, opts ...Option) *Coordinator {
	c := &Coordinator{
		log: log,
		api: api,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach subscribes to monitor. Every online event starts a drain in the background.
// Attaching an attached coordinator moves it to the new monitor.
func (c *Coordinator) Attach(monitor *connectivity.Monitor) {
	c.Detach()

	c.attachMu.Lock()
	defer c.attachMu.Unlock()

	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	c.attached = true
	c.unsubscribe = monitor.Subscribe(c.onConnectivity)
}

// Detach removes the connectivity subscription, cancels background drains and waits for them.
// Safe to call when not attached.
func (c *Coordinator) Detach() {
	c.attachMu.Lock()
	if !c.attached {
		c.attachMu.Unlock()
		return
	}
	c.attached = false
	c.unsubscribe()
	c.unsubscribe = nil
	c.bgCancel()
	c.attachMu.Unlock()

	c.bg.Wait()
}

func (c *Coordinator) onConnectivity(online bool) {
	if !online {
		return
	}

	c.attachMu.Lock()
	defer c.attachMu.Unlock()
	if !c.attached {
		return
	}

	ctx := c.bgCtx
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if _, started := c.TryDrain(ctx, TriggerReconnect); !started {
			logging.Debug("Reconnect drain skipped, drain already running", nil)
		}
	}()
}

// Status returns StatusDraining while a drain runs.
func (c *Coordinator) Status() Status {
	if c.draining.Load() {
		return StatusDraining
	}
	return StatusIdle
}

// OnReport registers handler for drain reports and returns a function removing it.
func (c *Coordinator) OnReport(handler ReportHandler) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.handlers = append(c.handlers, reportSubscription{id: id, fn: handler})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, h := range c.handlers {
				if h.id == id {
					c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// LastReport returns the report of the most recent drain, or nil.
func (c *Coordinator) LastReport() *models.SyncReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return nil
	}
	r := *c.last
	return &r
}

// TryDrain runs a drain unless one is already running. A storage failure is logged
// and reported as started with a nil report.
func (c *Coordinator) TryDrain(ctx context.Context, trigger string) (*models.SyncReport, bool) {
	report, err := c.Drain(ctx, trigger)
	if apperrors.Is(err, apperrors.ErrDrainInProgress) {
		return nil, false
	}
	if err != nil {
		logging.ErrorWithCode("Drain failed", string(apperrors.CodeOf(err)), err,
			map[string]interface{}{"trigger": trigger})
	}
	return report, true
}

// Drain replays a snapshot of the action log in FIFO order.
//
// Each action is dispatched by kind. On success it is removed; on failure it stays
// for the next drain and the loop moves on. Actions appended after the snapshot wait
// for the next drain. Cancelling ctx stops the loop between actions and counts the
// rest as skipped.
func (c *Coordinator) Drain(ctx context.Context, trigger string) (*models.SyncReport, error) {
	if !c.draining.CompareAndSwap(false, true) {
		return nil, apperrors.New(apperrors.ErrDrainInProgress, "a drain is already running")
	}
	defer c.draining.Store(false)

	report := &models.SyncReport{Trigger: trigger, StartedAt: c.now()}

	actions, err := c.log.List(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to read pending actions", err)
	}

	logging.Info("Drain started",
		map[string]interface{}{"trigger": trigger, "pending": len(actions)})

	for i, action := range actions {
		if ctx.Err() != nil {
			report.Skipped = len(actions) - i
			break
		}

		if err := c.dispatch(ctx, action); err != nil {
			if ctx.Err() != nil {
				report.Skipped = len(actions) - i
				break
			}
			report.Failed++
			logging.Warn("Dispatch failed, action kept",
				map[string]interface{}{
					"action_id": string(action.ID),
					"kind":      string(action.Kind),
					"endpoint":  action.Endpoint,
					"error":     err.Error(),
				})
			continue
		}

		report.Succeeded++
		// The remote accepted the action; removal must not be undone by a cancelled drain.
		if err := c.log.Remove(context.WithoutCancel(ctx), action.ID); err != nil {
			logging.ErrorWithCode("Failed to remove dispatched action", string(apperrors.ErrStorage), err,
				map[string]interface{}{"action_id": string(action.ID)})
		}
	}

	report.FinishedAt = c.now()

	logging.Info("Drain finished",
		map[string]interface{}{
			"trigger":     trigger,
			"succeeded":   report.Succeeded,
			"failed":      report.Failed,
			"skipped":     report.Skipped,
			"duration_ms": report.Duration().Milliseconds(),
		})

	c.publish(*report)
	return report, nil
}

func (c *Coordinator) dispatch(ctx context.Context, action *models.PendingAction) error {
	if c.dispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.dispatchTimeout)
		defer cancel()
	}
	_, err := remote.Dispatch(ctx, c.api, action.Kind, action.Endpoint, action.Payload, string(action.ID))
	return err
}

func (c *Coordinator) publish(report models.SyncReport) {
	c.mu.Lock()
	c.last = &report
	handlers := make([]reportSubscription, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, h := range handlers {
		c.deliver(h.fn, report)
	}
}

func (c *Coordinator) deliver(fn ReportHandler, report models.SyncReport) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("Report handler panicked", map[string]interface{}{"panic": r})
		}
	}()
	fn(report)
}
