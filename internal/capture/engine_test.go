package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "github.com/kimhsiao/fieldcount/backend/internal/errors"
	"github.com/kimhsiao/fieldcount/backend/internal/models"
)

// =====================================================
// Fakes
// =====================================================

type fakeStream struct {
	readErr error
	closed  atomic.Bool
	reads   atomic.Int32
}

func (s *fakeStream) ReadFrame(ctx context.Context) (image.Image, error) {
	if s.closed.Load() {
		return nil, ErrStreamClosed
	}
	s.reads.Add(1)
	if s.readErr != nil {
		return nil, s.readErr
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.White)
	return img, nil
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeCamera struct {
	mu        sync.Mutex
	errs      map[Facing]error
	facings   []Facing
	streams   []*fakeStream
	streamErr error
}

func (c *fakeCamera) Open(ctx context.Context, facing Facing) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.facings = append(c.facings, facing)
	if err := c.errs[facing]; err != nil {
		return nil, err
	}
	s := &fakeStream{readErr: c.streamErr}
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *fakeCamera) opened() []*fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeStream(nil), c.streams...)
}

// fakeDetector reports code after skip empty frames, then on every frame.
type fakeDetector struct {
	code  string
	skip  int32
	calls atomic.Int32
}

func (d *fakeDetector) Detect(image.Image) (string, bool, error) {
	n := d.calls.Add(1)
	if d.code == "" || n <= d.skip {
		return "", false, nil
	}
	return d.code, true, nil
}

type countingFeedback struct {
	beeps    atomic.Int32
	vibrates atomic.Int32
}

func (f *countingFeedback) Beep()    { f.beeps.Add(1) }
func (f *countingFeedback) Vibrate() { f.vibrates.Add(1) }

type panickyFeedback struct {
	vibrates atomic.Int32
}

func (*panickyFeedback) Beep()      { panic("no audio device") }
func (f *panickyFeedback) Vibrate() { f.vibrates.Add(1) }

func collect(e *Engine) (func() []models.ScanEvent, func()) {
	var mu sync.Mutex
	var events []models.ScanEvent
	remove := e.OnScan(func(ev models.ScanEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	return func() []models.ScanEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]models.ScanEvent(nil), events...)
	}, remove
}

// =====================================================
// Session Tests
// =====================================================

// TestEngineSingleShot covers a camera scan that ends the session after one match.
func TestEngineSingleShot(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cam := &fakeCamera{}
	fb := &countingFeedback{}
	e := NewEngine(cam, &fakeDetector{code: "123456", skip: 3},
		WithFrameInterval(time.Millisecond), WithFeedback(fb))
	events, _ := collect(e)

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, []Facing{FacingEnvironment}, cam.facings)

	require.Eventually(t, func() bool { return !e.Active() }, time.Second, time.Millisecond)

	got := events()
	require.Len(t, got, 1)
	assert.Equal(t, "123456", got[0].Code)
	assert.Equal(t, models.ScanSourceCamera, got[0].Source)
	assert.Equal(t, int32(1), fb.beeps.Load())
	assert.Equal(t, int32(1), fb.vibrates.Load())

	e.Stop()
	assert.True(t, cam.opened()[0].closed.Load(), "stream left open")

	select {
	case ev := <-e.Events():
		assert.Equal(t, "123456", ev.Code)
	default:
		t.Fatal("event missing from channel")
	}
}

// TestEnginePermissionDenied covers a refused camera: Start fails, Stop is a no-op, nothing is left open.
func TestEnginePermissionDenied(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cam := &fakeCamera{errs: map[Facing]error{FacingEnvironment: ErrPermissionDenied}}
	e := NewEngine(cam, &fakeDetector{code: "x"})

	err := e.Start(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrDevice))
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, []Facing{FacingEnvironment}, cam.facings, "permission denial must not fall back")

	assert.NotPanics(t, e.Stop)
	assert.NotPanics(t, e.Stop)
	assert.False(t, e.Active())
	assert.Empty(t, cam.opened())
}

// TestEngineFallsBackToAnyFacing verifies a device without a rear camera still opens.
func TestEngineFallsBackToAnyFacing(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cam := &fakeCamera{errs: map[Facing]error{FacingEnvironment: ErrNoCamera}}
	e := NewEngine(cam, &fakeDetector{}, WithFrameInterval(time.Millisecond))

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, []Facing{FacingEnvironment, FacingAny}, cam.facings)
	assert.True(t, e.Active())

	e.Stop()
	assert.False(t, e.Active())
	assert.True(t, cam.opened()[0].closed.Load())
}

// TestEngineNoCamera verifies both attempts failing is a device error.
func TestEngineNoCamera(t *testing.T) {
	cam := &fakeCamera{errs: map[Facing]error{FacingEnvironment: ErrNoCamera, FacingAny: ErrNoCamera}}
	err := NewEngine(cam, &fakeDetector{}).Start(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrDevice))
}

// TestEngineRestart verifies Start on a live session stops it first.
func TestEngineRestart(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cam := &fakeCamera{}
	e := NewEngine(cam, &fakeDetector{}, WithFrameInterval(time.Millisecond))

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Start(context.Background()))

	streams := cam.opened()
	require.Len(t, streams, 2)
	assert.True(t, streams[0].closed.Load(), "first stream not released")
	assert.False(t, streams[1].closed.Load())
	assert.True(t, e.Active())

	e.Stop()
	assert.True(t, streams[1].closed.Load())
}

// TestEngineContinuousCooldown verifies continuous mode keeps scanning with a pause between matches.
func TestEngineContinuousCooldown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cooldown := 30 * time.Millisecond
	e := NewEngine(&fakeCamera{}, &fakeDetector{code: "SKU-1"},
		WithFrameInterval(time.Millisecond), WithCooldown(cooldown), WithContinuous(true))
	events, _ := collect(e)

	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool { return len(events()) >= 3 }, 2*time.Second, time.Millisecond)
	assert.True(t, e.Active())
	e.Stop()

	got := events()
	for i := 1; i < len(got); i++ {
		gap := got[i].CapturedAt.Sub(got[i-1].CapturedAt)
		assert.GreaterOrEqual(t, gap, cooldown, "event %d came %v after the previous one", i, gap)
	}
}

// TestEngineReadErrorEndsSession verifies a failing stream is closed and the session ends.
func TestEngineReadErrorEndsSession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cam := &fakeCamera{streamErr: errors.New("device unplugged")}
	e := NewEngine(cam, &fakeDetector{code: "x"}, WithFrameInterval(time.Millisecond))

	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool { return !e.Active() }, time.Second, time.Millisecond)
	e.Stop()

	assert.True(t, cam.opened()[0].closed.Load())
	assert.Equal(t, int32(1), cam.opened()[0].reads.Load())
}

// TestEngineFeedbackPanicContained verifies a broken tone device breaks neither scanning nor vibration.
func TestEngineFeedbackPanicContained(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fb := &panickyFeedback{}
	e := NewEngine(&fakeCamera{}, &fakeDetector{code: "x"},
		WithFrameInterval(time.Millisecond), WithFeedback(fb))
	events, _ := collect(e)

	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool { return len(events()) == 1 && !e.Active() }, time.Second, time.Millisecond)
	e.Stop()
	assert.Equal(t, int32(1), fb.vibrates.Load())
}

// TestEngineStopConcurrent verifies concurrent Stop calls are safe.
func TestEngineStopConcurrent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := NewEngine(&fakeCamera{}, &fakeDetector{}, WithFrameInterval(time.Millisecond))
	require.NoError(t, e.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Stop()
		}()
	}
	wg.Wait()
	assert.False(t, e.Active())
}

// =====================================================
// Manual Input Tests
// =====================================================

// TestManualInput verifies typed codes share the scan event contract.
func TestManualInput(t *testing.T) {
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	e := NewEngine(&fakeCamera{}, &fakeDetector{}, WithClock(func() time.Time { return at }))
	events, remove := collect(e)

	require.NoError(t, e.ManualInput("  SKU-42 "))
	err := e.ManualInput("   ")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	remove()
	require.NoError(t, e.ManualInput("SKU-43"))

	got := events()
	require.Len(t, got, 1)
	assert.Equal(t, models.ScanEvent{Code: "SKU-42", Source: models.ScanSourceManual, CapturedAt: at}, got[0])
	assert.False(t, e.Active(), "manual input must not open the camera")
}

// =====================================================
// Probe Tests
// =====================================================

type failingChecker struct{ fakeCamera }

func (*failingChecker) Check(context.Context) error { return ErrNoCamera }

// TestProbe verifies the capability variants.
func TestProbe(t *testing.T) {
	ctx := context.Background()

	c := Probe(ctx, nil, &fakeDetector{})
	u, ok := c.(Unsupported)
	require.True(t, ok)
	assert.Contains(t, u.Reason, "no camera")

	_, ok = Probe(ctx, &fakeCamera{}, nil).(Unsupported)
	assert.True(t, ok)

	u, ok = Probe(ctx, &failingChecker{}, &fakeDetector{}).(Unsupported)
	require.True(t, ok)
	assert.Contains(t, u.Reason, ErrNoCamera.Error())

	switch c := Probe(ctx, &fakeCamera{}, &fakeDetector{}, WithContinuous(true)).(type) {
	case Supported:
		require.NotNil(t, c.Engine)
		assert.True(t, c.Engine.continuous)
	default:
		t.Fatalf("Probe() = %T, want Supported", c)
	}
}
