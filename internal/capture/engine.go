package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/fieldcount/backend/internal/errors"
	"github.com/kimhsiao/fieldcount/backend/internal/logging"
	"github.com/kimhsiao/fieldcount/backend/internal/models"
)

const (
	// DefaultFrameInterval polls at roughly one display frame.
	DefaultFrameInterval = time.Second / 30
	// DefaultCooldown keeps continuous mode from reporting the same label repeatedly.
	DefaultCooldown = 1500 * time.Millisecond

	eventBuffer = 16
)

// Option configures an Engine.
type Option func(*Engine)

// WithFrameInterval sets how often a frame is read and decoded.
func WithFrameInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.frameInterval = d
		}
	}
}

// WithCooldown sets the pause after a match in continuous mode.
func WithCooldown(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.cooldown = d
		}
	}
}

// WithContinuous keeps the session running after a match.
func WithContinuous(continuous bool) Option {
	return func(e *Engine) {
		e.continuous = continuous
	}
}

// WithFeedback sets the feedback played on every camera match.
func WithFeedback(fb Feedback) Option {
	return func(e *Engine) {
		if fb != nil {
			e.feedback = fb
		}
	}
}

// WithMaxFrameWidth sets the preprocessing width limit.
func WithMaxFrameWidth(w int) Option {
	return func(e *Engine) {
		e.maxFrameWidth = w
	}
}

// WithClock sets the clock stamping scan events.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// ScanHandler receives scan events.
type ScanHandler func(event models.ScanEvent)

type scanSubscription struct {
	id uint64
	fn ScanHandler
}

// session binds one open stream to one decode loop.
type session struct {
	stream Stream
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine runs at most one capture session at a time on one camera.
type Engine struct {
	camera        Camera
	detector      Detector
	feedback      Feedback
	frameInterval time.Duration
	cooldown      time.Duration
	continuous    bool
	maxFrameWidth int
	now           func() time.Time

	events chan models.ScanEvent

	// lifecycleMu serializes Start and Stop; it is held while a stopping loop is joined.
	lifecycleMu sync.Mutex

	mu       sync.RWMutex
	session  *session
	handlers []scanSubscription
	nextID   uint64
}

// NewEngine creates an idle engine. Use Probe to build one only where capture is supported.
func NewEngine(camera Camera, detector Detector, opts ...Option) *Engine {
	e := &Engine{
		camera:        camera,
		detector:      detector,
		feedback:      NopFeedback{},
		frameInterval: DefaultFrameInterval,
		cooldown:      DefaultCooldown,
		maxFrameWidth: DefaultMaxFrameWidth,
		now:           time.Now,
		events:        make(chan models.ScanEvent, eventBuffer),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Events returns a buffered channel of scan events. Events are dropped when the buffer is full.
func (e *Engine) Events() <-chan models.ScanEvent {
	return e.events
}

// OnScan registers a handler called for every scan and returns a function removing it.
// Handlers run on the decode loop goroutine and must not call Stop or Start.
func (e *Engine) OnScan(handler ScanHandler) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.handlers = append(e.handlers, scanSubscription{id: id, fn: handler})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, h := range e.handlers {
				if h.id == id {
					e.handlers = append(e.handlers[:i:i], e.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Active reports whether a capture session is running.
func (e *Engine) Active() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session != nil && e.session.ctx.Err() == nil
}

// Start opens the camera, preferring the environment-facing one, and starts decoding.
// A running session is stopped first. Camera failures are DEVICE_ERROR.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	e.stopLocked()

	stream, err := e.open(ctx)
	if err != nil {
		logging.ErrorWithCode("Failed to start capture", string(apperrors.ErrDevice), err, nil)
		return apperrors.Wrap(apperrors.ErrDevice, "camera unavailable", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		stream: stream,
		ctx:    loopCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	e.session = s
	e.mu.Unlock()

	go e.run(s)

	logging.Info("Capture started",
		map[string]interface{}{"continuous": e.continuous, "frame_interval": e.frameInterval.String()})
	return nil
}

func (e *Engine) open(ctx context.Context) (Stream, error) {
	stream, err := e.camera.Open(ctx, FacingEnvironment)
	if err == nil {
		return stream, nil
	}
	if errors.Is(err, ErrPermissionDenied) || ctx.Err() != nil {
		return nil, err
	}
	logging.Debug("Environment camera unavailable, trying any camera",
		map[string]interface{}{"error": err.Error()})
	return e.camera.Open(ctx, FacingAny)
}

// Stop ends the current session and waits for its loop to exit.
// Safe to call at any time, any number of times.
func (e *Engine) Stop() {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	e.mu.Lock()
	s := e.session
	e.session = nil
	e.mu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	<-s.done
	logging.Info("Capture stopped", nil)
}

// ManualInput emits a typed code with the same contract as a camera scan.
func (e *Engine) ManualInput(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return apperrors.New(apperrors.ErrInvalid, "empty barcode")
	}
	e.emit(models.ScanEvent{Code: code, Source: models.ScanSourceManual, CapturedAt: e.now()})
	return nil
}

// run is the decode loop. It owns the stream and closes it on every exit path.
func (e *Engine) run(s *session) {
	defer close(s.done)
	defer func() {
		if err := s.stream.Close(); err != nil {
			logging.Warn("Failed to close camera stream", map[string]interface{}{"error": err.Error()})
		}
	}()
	defer s.cancel()

	ticker := time.NewTicker(e.frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		frame, err := s.stream.ReadFrame(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			logging.ErrorWithCode("Camera stream failed, capture ended", string(apperrors.ErrDevice), err, nil)
			return
		}

		code, ok, err := e.detector.Detect(Preprocess(frame, e.maxFrameWidth))
		if err != nil {
			logging.Debug("Frame not decodable", map[string]interface{}{"error": err.Error()})
			continue
		}
		if !ok {
			continue
		}

		e.emit(models.ScanEvent{Code: code, Source: models.ScanSourceCamera, CapturedAt: e.now()})
		signal(e.feedback)

		if !e.continuous {
			return
		}

		cooldown := time.NewTimer(e.cooldown)
		select {
		case <-s.ctx.Done():
			cooldown.Stop()
			return
		case <-cooldown.C:
		}
	}
}

func (e *Engine) emit(event models.ScanEvent) {
	e.mu.RLock()
	handlers := make([]scanSubscription, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	for _, h := range handlers {
		h.fn(event)
	}

	select {
	case e.events <- event:
	default:
		logging.Debug("Scan event buffer full, event dropped", map[string]interface{}{"code": event.Code})
	}
}
