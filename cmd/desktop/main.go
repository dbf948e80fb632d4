// Package main provides the local bridge server for desktop platforms.
// Desktop clients communicate via REST/WebSocket on localhost:8090.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/fieldcount/backend/cmd/desktop/handlers"
	"github.com/kimhsiao/fieldcount/backend/internal/app"
	"github.com/kimhsiao/fieldcount/backend/internal/config"
	"github.com/kimhsiao/fieldcount/backend/internal/logging"
)

const serviceName = "fieldcount-desktop"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:          "fieldcount-desktop",
		Short:        "Local bridge server for the desktop shell",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Desktop.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides desktop.addr)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := app.SetupLogging(cfg.Logging); err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	hub := NewWSHub()
	defer hub.Close()

	wire(ctx, a, hub)
	if err := a.Start(ctx, true); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Desktop.Addr,
		Handler:           newRouter(a, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Desktop bridge listening", map[string]interface{}{"addr": cfg.Desktop.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logging.Info("Desktop bridge shutting down", nil)
	return srv.Shutdown(shutdownCtx)
}

// wire forwards facade events to WebSocket clients.
func wire(ctx context.Context, a *app.App, hub *WSHub) {
	a.Capture(ctx, hub.BroadcastScan)
	a.Facade.OnSyncReport(hub.BroadcastSyncCompleted)
	a.Monitor.Subscribe(hub.BroadcastConnectivity)
}

func newRouter(a *app.App, hub *WSHub) *mux.Router {
	actionHandler := handlers.NewActionHandler(a.Facade)
	actionHandler.SetWebSocketHub(hub)
	syncHandler := handlers.NewSyncHandler(a.Facade, a.Scheduler)
	syncHandler.SetWebSocketHub(hub)
	scanHandler := handlers.NewScanHandler(a)

	r := mux.NewRouter()
	r.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":%q,"online":%t}`, serviceName, a.Facade.Online())
	}).Methods("GET")

	r.HandleFunc("/api/actions", actionHandler.Execute).Methods("POST")
	r.HandleFunc("/api/pending", actionHandler.ListPending).Methods("GET")
	r.HandleFunc("/api/pending/{id}", actionHandler.GetPending).Methods("GET")

	r.HandleFunc("/api/sync", syncHandler.TriggerSync).Methods("POST")
	r.HandleFunc("/api/sync/status", syncHandler.GetStatus).Methods("GET")

	r.HandleFunc("/api/scan/manual", scanHandler.Manual).Methods("POST")
	r.HandleFunc("/api/scan/start", scanHandler.Start).Methods("POST")
	r.HandleFunc("/api/scan/stop", scanHandler.Stop).Methods("POST")

	telemetryHandler := handlers.NewTelemetryHandler(a.Metrics)
	r.HandleFunc("/api/telemetry", telemetryHandler.Get).Methods("GET")
	r.HandleFunc("/api/telemetry", telemetryHandler.Set).Methods("PUT")
	r.Handle("/metrics", a.Metrics.Handler()).Methods("GET")
	r.HandleFunc("/ws", HandleWebSocket(hub)).Methods("GET")
	return r
}
