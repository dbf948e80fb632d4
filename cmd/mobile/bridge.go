package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kimhsiao/fieldcount/backend/internal/app"
	"github.com/kimhsiao/fieldcount/backend/internal/config"
	apperrors "github.com/kimhsiao/fieldcount/backend/internal/errors"
	"github.com/kimhsiao/fieldcount/backend/internal/offline"
)

// bridge holds the runtime behind the exported C functions.
// The mobile platform owns connectivity detection and reports it through setOnline.
type bridge struct {
	mu  sync.Mutex
	app *app.App

	errMu   sync.RWMutex
	lastErr string
}

var core = &bridge{}

// errorResponse is returned in place of a result when a call fails.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (b *bridge) setLastError(err error) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	if err == nil {
		b.lastErr = ""
		return
	}
	b.lastErr = err.Error()
}

func (b *bridge) lastError() string {
	b.errMu.RLock()
	defer b.errMu.RUnlock()
	return b.lastErr
}

func (b *bridge) current() (*app.App, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "core not initialized")
	}
	return b.app, nil
}

// init builds and starts the runtime. A second call without dispose is a no-op.
func (b *bridge) init(configPath, dataDir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app != nil {
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := app.SetupLogging(cfg.Logging); err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := a.Start(ctx, false); err != nil {
		a.Close()
		return err
	}
	a.Capture(ctx, nil)
	b.app = a
	return nil
}

func (b *bridge) dispose() error {
	b.mu.Lock()
	a := b.app
	b.app = nil
	b.mu.Unlock()

	if a == nil {
		return nil
	}
	return a.Close()
}

// executeAction runs a request encoded as JSON ({"method","payload","params","cacheable"})
// and returns the JSON result.
func (b *bridge) executeAction(endpoint, requestJSON string) (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}

	var req offline.Request
	if requestJSON != "" {
		if err := json.Unmarshal([]byte(requestJSON), &req); err != nil {
			return "", apperrors.Wrap(apperrors.ErrInvalid, "invalid request JSON", err)
		}
	}

	res, err := a.Facade.ExecuteAction(context.Background(), endpoint, req)
	if err != nil {
		return "", err
	}
	return marshal(res)
}

func (b *bridge) setOnline(online bool) error {
	a, err := b.current()
	if err != nil {
		return err
	}
	a.Monitor.Set(online)
	return nil
}

func (b *bridge) syncNow() (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	report, err := a.Facade.SyncNow(context.Background())
	if err != nil {
		return "", err
	}
	return marshal(report)
}

func (b *bridge) manualScan(code string) error {
	a, err := b.current()
	if err != nil {
		return err
	}
	return a.ManualScan(code)
}

// pollScan returns the next buffered scan as JSON, or "" when none is waiting.
func (b *bridge) pollScan() (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	select {
	case ev := <-a.ScanEvents():
		return marshal(ev)
	default:
		return "", nil
	}
}

func (b *bridge) pendingCount() (int, error) {
	a, err := b.current()
	if err != nil {
		return 0, err
	}
	return a.Log.Size(context.Background())
}

func marshal(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize: %w", err)
	}
	return string(data), nil
}

// errorJSON encodes err with its application code for the platform side.
func errorJSON(err error) string {
	data, _ := json.Marshal(errorResponse{Error: string(apperrors.CodeOf(err)), Message: err.Error()})
	return string(data)
}

func main() {
	// Main function is required for c-shared build mode
	// but is not actually executed when used as shared library
}
