// Package main provides the fieldcount command line tool.
// It runs the offline data layer against a local data directory: queue and inspect
// actions, force a sync, and scan barcodes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fieldcount/backend/internal/app"
	"github.com/kimhsiao/fieldcount/backend/internal/config"
	"github.com/kimhsiao/fieldcount/backend/internal/models"
	"github.com/kimhsiao/fieldcount/backend/internal/offline"
)

// Version is set at build time
var Version = "0.1.0"

const appName = "fieldcount"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	dataDir    string
	logLevel   string
}

func rootCmd() *cobra.Command {
	var g globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Offline-first field data client",
		Long: `fieldcount keeps field writes safe while the network is down.

Mutations made offline are stored in a durable action log and replayed
against the remote API in order once connectivity returns. Reads fall
back to the last cached response.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&g.dataDir, "data-dir", "", "Override the data directory")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		pendingCmd(&g),
		syncCmd(&g),
		execCmd(&g),
		scanCmd(&g),
		cacheCmd(&g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	// Command output goes to stdout; keep logs out of it.
	cfg.Logging.Output = "stderr"
	if err := app.SetupLogging(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withApp builds the runtime, probes connectivity once and runs fn.
func withApp(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// One-shot commands probe once instead of running the prober and scheduler.
	a.Prober.Probe(ctx)
	return fn(ctx, a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func pendingCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List queued actions in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			actions, err := a.Facade.PendingActions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(actions) == 0 {
				fmt.Fprintln(out, "No pending actions")
				return nil
			}
			for _, act := range actions {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", act.ID, act.Kind, act.Endpoint, act.EnqueuedAtTime().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func syncCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued actions against the remote API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				if !a.Facade.Online() {
					return fmt.Errorf("remote API at %s is unreachable", a.Config.Remote.BaseURL)
				}
				report, err := a.Facade.SyncNow(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Synced: %d succeeded, %d failed, %d skipped in %s\n",
					report.Succeeded, report.Failed, report.Skipped, report.Duration())
				return nil
			})
		},
	}
}

func execCmd(g *globalFlags) *cobra.Command {
	var (
		method    string
		data      string
		params    []string
		cacheable bool
	)

	cmd := &cobra.Command{
		Use:   "exec <endpoint>",
		Short: "Execute one request, queueing it when offline",
		Example: `  fieldcount exec /counts --method POST --data '{"sku":"A-1","qty":4}'
  fieldcount exec /counts --param site=north --cacheable`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(method, data, params, cacheable)
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				res, err := a.Facade.ExecuteAction(ctx, args[0], req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON payload for mutations")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Query parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&cacheable, "cacheable", true, "Cache successful reads for offline use")
	return cmd
}

// buildRequest turns exec flags into a facade request.
func buildRequest(method, data string, params []string, cacheable bool) (offline.Request, error) {
	req := offline.Request{Method: strings.ToUpper(method), Cacheable: cacheable}
	if data != "" {
		if !json.Valid([]byte(data)) {
			return req, fmt.Errorf("--data is not valid JSON")
		}
		req.Payload = json.RawMessage(data)
	}
	if len(params) > 0 {
		req.Params = url.Values{}
		for _, p := range params {
			k, v, ok := strings.Cut(p, "=")
			if !ok || k == "" {
				return req, fmt.Errorf("invalid --param %q, want key=value", p)
			}
			req.Params.Add(k, v)
		}
	}
	return req, nil
}

func scanCmd(g *globalFlags) *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan one barcode from the configured camera, or enter it with --code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				scanned := make(chan models.ScanEvent, 1)
				a.Capture(ctx, func(ev models.ScanEvent) {
					select {
					case scanned <- ev:
					default:
					}
				})

				if code != "" {
					if err := a.ManualScan(code); err != nil {
						return err
					}
				} else {
					if err := a.StartScan(ctx); err != nil {
						return err
					}
					defer a.StopScan()
					fmt.Fprintln(cmd.ErrOrStderr(), "Point the camera at a barcode (Ctrl+C to cancel)")
				}

				select {
				case ev := <-scanned:
					return printJSON(cmd.OutOrStdout(), ev)
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "Enter a barcode manually instead of using the camera")
	return cmd
}

func cacheCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached responses",
	}

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete cached responses stored before now minus --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Cache.Purge(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d cached responses\n", n)
			return nil
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 0, "Keep responses newer than this age (0 purges everything)")

	cmd.AddCommand(purge)
	return cmd
}
