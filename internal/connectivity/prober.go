package connectivity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kimhsiao/fieldcount/backend/internal/logging"
)

// Prober turns a health endpoint into platform connectivity events for a Monitor.
// It is the connectivity source on builds without an OS network signal.
type Prober struct {
	monitor  *Monitor
	url      string
	client   *http.Client
	interval time.Duration
}

// NewProber probes baseURL + "/health" every interval. A nil client uses http.DefaultClient.
func NewProber(monitor *Monitor, baseURL string, interval time.Duration, client *http.Client) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Prober{
		monitor:  monitor,
		url:      strings.TrimRight(baseURL, "/") + "/health",
		client:   client,
		interval: interval,
	}
}

// Probe performs one health check and reports the result to the monitor.
// A check interrupted by ctx is not reported.
func (p *Prober) Probe(ctx context.Context) bool {
	err := p.check(ctx)
	if ctx.Err() != nil {
		return p.monitor.CurrentStatus()
	}
	if err != nil {
		logging.Debug("Health check failed", map[string]interface{}{"url": p.url, "error": err.Error()})
	}
	online := err == nil
	p.monitor.Set(online)
	return online
}

func (p *Prober) check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// Run probes immediately and then on every tick until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	logging.Info("Connectivity prober started",
		map[string]interface{}{"url": p.url, "interval": p.interval.String()})

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			logging.Info("Connectivity prober stopped", nil)
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
