// Package offline is the single entry point UI code uses to talk to the Remote API.
// Reads fall back to cached responses and writes are queued while offline; queued
// writes are replayed when connectivity returns.
package offline

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/fieldcount/backend/internal/cache"
	"github.com/kimhsiao/fieldcount/backend/internal/capture"
	"github.com/kimhsiao/fieldcount/backend/internal/connectivity"
	apperrors "github.com/kimhsiao/fieldcount/backend/internal/errors"
	"github.com/kimhsiao/fieldcount/backend/internal/logging"
	"github.com/kimhsiao/fieldcount/backend/internal/models"
	"github.com/kimhsiao/fieldcount/backend/internal/remote"
	syncpkg "github.com/kimhsiao/fieldcount/backend/internal/sync"
	"github.com/kimhsiao/fieldcount/backend/internal/telemetry"
	"github.com/kimhsiao/fieldcount/backend/internal/uuid"
)

// ActionLog is the persistent log of queued mutations.
type ActionLog interface {
	AppendWithID(ctx context.Context, id models.UUID, kind models.ActionKind, endpoint string, payload json.RawMessage) (*models.PendingAction, error)
	List(ctx context.Context) ([]*models.PendingAction, error)
	Size(ctx context.Context) (int, error)
}

// ResponseCache stores successful read bodies.
type ResponseCache interface {
	Put(ctx context.Context, key, endpoint string, body json.RawMessage) error
	Get(ctx context.Context, key string) (*models.CacheEntry, bool, error)
}

// Coordinator drains the action log when connectivity returns.
type Coordinator interface {
	syncpkg.Drainer
	Attach(monitor *connectivity.Monitor)
	Detach()
	OnReport(handler syncpkg.ReportHandler) func()
}

// Scheduler retries drains in the background.
type Scheduler interface {
	Watch(monitor *connectivity.Monitor) func()
	Start(ctx context.Context)
	Stop()
}

// Deps are the collaborators a Facade is built from. Scheduler and Metrics are optional.
type Deps struct {
	Monitor     *connectivity.Monitor
	Log         ActionLog
	Cache       ResponseCache
	Coordinator Coordinator
	API         remote.API
	Scheduler   Scheduler
	Metrics     *telemetry.Metrics
}

// Request describes one call. An empty Method is a read.
type Request struct {
	Method    string          `json:"method"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Params    url.Values      `json:"params,omitempty"`
	Cacheable bool            `json:"cacheable"`
}

// Result describes how a call was satisfied. Exactly one of Online, FromCache and Pending is set.
type Result struct {
	Online    bool            `json:"online"`
	FromCache bool            `json:"from_cache"`
	Pending   bool            `json:"pending"`
	ActionID  models.UUID     `json:"action_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	CachedAt  *time.Time      `json:"cached_at,omitempty"`
}

// Facade owns the offline data layer's lifecycle and routes every call.
type Facade struct {
	deps Deps

	mu       sync.Mutex
	started  bool
	unsubs   []func()
	engines  []*capture.Engine
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// New creates a Facade. Call Init before use and Dispose when done.
func New(deps Deps) *Facade {
	return &Facade{deps: deps}
}

// Init attaches the coordinator to connectivity and starts background retries.
// If the device is already online and actions are pending, a drain starts right away.
// Calling Init on an initialized Facade is a no-op.
func (f *Facade) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}
	if f.deps.Monitor == nil || f.deps.Log == nil || f.deps.Cache == nil || f.deps.Coordinator == nil || f.deps.API == nil {
		return apperrors.New(apperrors.ErrInvalid, "offline facade is missing dependencies")
	}

	f.deps.Coordinator.Attach(f.deps.Monitor)

	if m := f.deps.Metrics; m != nil {
		m.SetOnline(f.deps.Monitor.CurrentStatus())
		f.unsubs = append(f.unsubs,
			f.deps.Monitor.Subscribe(m.SetOnline),
			f.deps.Coordinator.OnReport(m.ObserveReport),
		)
	}

	if s := f.deps.Scheduler; s != nil {
		s.Watch(f.deps.Monitor)
		s.Start(ctx)
	}

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f.bgCancel = cancel
	f.started = true

	if f.deps.Monitor.CurrentStatus() {
		f.bg.Add(1)
		go func() {
			defer f.bg.Done()
			if n, err := f.deps.Log.Size(bgCtx); err == nil && n > 0 {
				f.deps.Coordinator.TryDrain(bgCtx, syncpkg.TriggerReconnect)
			}
		}()
	}

	logging.Info("Offline facade initialized",
		map[string]interface{}{"online": f.deps.Monitor.CurrentStatus()})
	return nil
}

// Dispose releases every subscription, stops the scheduler and any attached capture engines.
// Safe to call more than once and before Init.
func (f *Facade) Dispose() {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.started = false
	unsubs := f.unsubs
	engines := f.engines
	f.unsubs = nil
	f.engines = nil
	cancel := f.bgCancel
	f.mu.Unlock()

	cancel()
	for _, unsub := range unsubs {
		unsub()
	}
	for _, e := range engines {
		e.Stop()
	}
	if f.deps.Scheduler != nil {
		f.deps.Scheduler.Stop()
	}
	f.deps.Coordinator.Detach()
	f.bg.Wait()

	logging.Info("Offline facade disposed", nil)
}

// Online reports the current connectivity state.
func (f *Facade) Online() bool {
	return f.deps.Monitor.CurrentStatus()
}

// ExecuteAction performs req against endpoint.
//
// Online, the Remote API is called directly; successful cacheable reads refresh the cache.
// When offline, or when the direct call fails, reads are served from the cache
// (NO_CACHED_DATA on a miss) and mutations are appended to the action log.
// A failed append is returned as STORAGE_ERROR and is never reported as success.
func (f *Facade) ExecuteAction(ctx context.Context, endpoint string, req Request) (*Result, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "endpoint is required")
	}

	read := models.IsRead(req.Method)
	var kind models.ActionKind
	var id models.UUID
	if !read {
		var ok bool
		if kind, ok = models.ParseActionKind(req.Method); !ok {
			return nil, apperrors.New(apperrors.ErrInvalid, "unsupported method "+req.Method)
		}
		if len(req.Payload) > 0 && !json.Valid(req.Payload) {
			return nil, apperrors.New(apperrors.ErrInvalid, "payload is not valid JSON")
		}
		id = models.UUID(uuid.New())
	}

	if f.deps.Monitor.CurrentStatus() {
		res, err := f.executeOnline(ctx, endpoint, req, read, kind, id)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.Warn("Direct call failed, falling back to offline path",
			map[string]interface{}{"endpoint": endpoint, "method": req.Method, "error": err.Error()})
	}

	if read {
		return f.readCached(ctx, endpoint, req.Params)
	}
	return f.enqueue(ctx, id, endpoint, kind, req.Payload)
}

// executeOnline sends a write under id so a queued retry of it reuses the same idempotency key.
func (f *Facade) executeOnline(ctx context.Context, endpoint string, req Request, read bool, kind models.ActionKind, id models.UUID) (*Result, error) {
	if !read {
		data, err := remote.Dispatch(ctx, f.deps.API, kind, endpoint, req.Payload, string(id))
		if err != nil {
			return nil, err
		}
		return &Result{Online: true, Data: data}, nil
	}

	data, err := f.deps.API.Get(ctx, endpoint, req.Params)
	if err != nil {
		return nil, err
	}
	if req.Cacheable {
		if err := f.deps.Cache.Put(ctx, cache.Key(endpoint, req.Params), endpoint, data); err != nil {
			logging.Warn("Failed to cache response",
				map[string]interface{}{"endpoint": endpoint, "error": err.Error()})
		}
	}
	return &Result{Online: true, Data: data}, nil
}

func (f *Facade) readCached(ctx context.Context, endpoint string, params url.Values) (*Result, error) {
	entry, ok, err := f.deps.Cache.Get(ctx, cache.Key(endpoint, params))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.New(apperrors.ErrNoCachedData, "no cached data for "+endpoint)
	}
	storedAt := entry.StoredAtTime()
	return &Result{FromCache: true, Data: entry.Body, CachedAt: &storedAt}, nil
}

func (f *Facade) enqueue(ctx context.Context, id models.UUID, endpoint string, kind models.ActionKind, payload json.RawMessage) (*Result, error) {
	action, err := f.deps.Log.AppendWithID(ctx, id, kind, endpoint, payload)
	if err != nil {
		logging.ErrorWithCode("Failed to queue action", string(apperrors.CodeOf(err)), err,
			map[string]interface{}{"endpoint": endpoint, "kind": string(kind)})
		return nil, err
	}
	if f.deps.Metrics != nil {
		f.deps.Metrics.ObserveQueued(kind)
	}
	return &Result{Pending: true, ActionID: action.ID}, nil
}

// SyncNow drains the action log immediately and returns the report.
func (f *Facade) SyncNow(ctx context.Context) (*models.SyncReport, error) {
	return f.deps.Coordinator.Drain(ctx, syncpkg.TriggerManual)
}

// PendingActions lists queued actions in delivery order.
func (f *Facade) PendingActions(ctx context.Context) ([]*models.PendingAction, error) {
	actions, err := f.deps.Log.List(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list pending actions", err)
	}
	return actions, nil
}

// OnSyncReport registers handler for drain reports. The returned function removes it;
// Dispose removes it too.
func (f *Facade) OnSyncReport(handler syncpkg.ReportHandler) func() {
	unsub := f.deps.Coordinator.OnReport(handler)
	f.mu.Lock()
	f.unsubs = append(f.unsubs, unsub)
	f.mu.Unlock()
	return unsub
}

// AttachCapture routes engine scans to handler and stops the engine on Dispose.
func (f *Facade) AttachCapture(engine *capture.Engine, handler capture.ScanHandler) func() {
	unsub := engine.OnScan(func(ev models.ScanEvent) {
		if f.deps.Metrics != nil {
			f.deps.Metrics.ObserveScan(ev)
		}
		if handler != nil {
			handler(ev)
		}
	})

	f.mu.Lock()
	f.unsubs = append(f.unsubs, unsub)
	f.engines = append(f.engines, engine)
	f.mu.Unlock()
	return unsub
}
