// bookingsync pushes photo-session bookings to each photographer's Google
// Calendar and removes events for bookings that no longer exist.
//
// Usage:
//
//	bookingsync daemon [--config <path>]                 # scheduled sync + HTTP API
//	bookingsync sync-once [--user <id>] [--config ...]   # single reconcile pass then exit
//	bookingsync import-token --user <id> --file <json>   # store a user's OAuth token
//	bookingsync status                                   # show config and database state
//	bookingsync version                                  # print version
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/log/global"
	"golang.org/x/oauth2"

	"github.com/fotostudio/bookingsync/internal/api"
	"github.com/fotostudio/bookingsync/internal/config"
	"github.com/fotostudio/bookingsync/internal/gcal"
	"github.com/fotostudio/bookingsync/internal/model"
	"github.com/fotostudio/bookingsync/internal/store"
	syncp "github.com/fotostudio/bookingsync/internal/sync"
	"github.com/fotostudio/bookingsync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch cmd := os.Args[1]; cmd {
	case "daemon":
		return runDaemon(os.Args[2:])
	case "sync-once":
		return runSyncOnce(os.Args[2:])
	case "import-token":
		return runImportToken(os.Args[2:])
	case "status":
		return runStatus(os.Args[2:])
	case "version":
		fmt.Println("bookingsync", version)
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		return fmt.Errorf("unknown command %q, run 'bookingsync help' for usage", cmd)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "bookingsync: sync bookings to Google Calendar")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  bookingsync daemon [--config ...]                  Scheduled sync and HTTP API")
	fmt.Fprintln(os.Stderr, "  bookingsync sync-once [--user <id>] [--config ...] Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  bookingsync import-token --user <id> --file <json> Store a user's OAuth token")
	fmt.Fprintln(os.Stderr, "  bookingsync status [--config ...]                  Show config and database state")
	fmt.Fprintln(os.Stderr, "  bookingsync version                                Print version")
}

// --- Shared wiring -----------------------------------------------------------

// commonFlags registers the flags every subcommand accepts.
func commonFlags(fs *flag.FlagSet) (cfgPath *string, verbose *bool) {
	defaultCfg, _ := config.DefaultPath()
	cfgPath = fs.String("config", defaultCfg, "path to config.yaml")
	verbose = fs.Bool("verbose", false, "enable debug logging")
	return cfgPath, verbose
}

// app holds the wired components for one process.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *store.Store
	engine *syncp.Engine
	close  func()
}

// bootstrap loads the config and wires logger, telemetry, store, calendar
// client and engine. The caller must call app.close.
func bootstrap(cfgPath string, verbose bool) (*app, error) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(base)
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		shutdownTel, err := telemetry.Setup(context.Background(), telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			closers = append(closers, func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			})
		}
	}
	logger = slog.New(telemetry.NewLogHandler(base, global.GetLoggerProvider()))
	slog.SetDefault(logger)

	// --- Database ------------------------------------------------------------

	dbPath := cfg.DBPath
	if dbPath == "" {
		if dbPath, err = store.DefaultDBPath(); err != nil {
			closeAll()
			return nil, fmt.Errorf("resolving database path: %w", err)
		}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("opening database at %q: %w", dbPath, err)
	}
	closers = append(closers, func() {
		if err := st.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	})
	logger.Debug("database opened", "path", dbPath)

	// --- Calendar client and engine ------------------------------------------

	client := gcal.NewClient(gcal.Options{
		CalendarID:     cfg.Calendar.CalendarID,
		TimeZone:       cfg.Calendar.TimeZone,
		MaxResults:     cfg.Calendar.MaxResults,
		RequestTimeout: cfg.Calendar.RequestTimeout,
		Endpoint:       cfg.Calendar.Endpoint,
		OAuth:          cfg.OAuth2(),
	}, logger)

	loc, err := time.LoadLocation(cfg.Calendar.TimeZone)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("loading time zone %q: %w", cfg.Calendar.TimeZone, err)
	}
	reconciler := syncp.NewReconciler(st, st, client, loc, logger)
	engine := syncp.NewEngine(reconciler, st, cfg.Sync.Users, cfg.Sync.Schedule, logger)

	return &app{cfg: cfg, log: logger, store: st, engine: engine, close: closeAll}, nil
}

// --- Subcommands -------------------------------------------------------------

func runDaemon(args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := bootstrap(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	errCh := make(chan error, 2)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           api.NewServer(a.store, a.engine, a.log).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.log.Info("HTTP API listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("HTTP API: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.Error("HTTP API shutdown", "error", err)
			}
		}()
	}

	go func() {
		if err := a.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("sync engine: %w", err)
			return
		}
		errCh <- nil
	}()

	a.log.Info("daemon started", "schedule", a.cfg.Sync.Schedule)
	err = <-errCh
	stop()
	if err == nil {
		a.log.Info("shutdown complete")
	}
	return err
}

func runSyncOnce(args []string) error {
	fs := flag.NewFlagSet("sync-once", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	userID := fs.String("user", "", "user to sync (default: every scheduled user)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := bootstrap(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if *userID == "" {
		return a.engine.RunAll(ctx)
	}

	result, err := a.engine.RunOnce(ctx, *userID)
	if errors.Is(err, gcal.ErrUnauthenticated) {
		return fmt.Errorf("%w\n\nUser %q must reconnect their Google Calendar", err, *userID)
	}
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func printResult(r *model.DetailedSyncResult) {
	fmt.Println(r.Summary())
	for _, b := range r.Added {
		fmt.Printf("  + %s  %s  %s\n", b.ID, b.StartDateTime, b.Summary)
	}
	for _, b := range r.Updated {
		fmt.Printf("  ~ %s  %s  %s\n", b.ID, b.StartDateTime, b.Summary)
	}
	for _, b := range r.Deleted {
		fmt.Printf("  - %s  %s  %s\n", b.EventID, b.StartDateTime, b.Summary)
	}
}

func runImportToken(args []string) error {
	fs := flag.NewFlagSet("import-token", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	userID := fs.String("user", "", "user the token belongs to (required)")
	file := fs.String("file", "", "path to an OAuth token JSON file (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" || *file == "" {
		return fmt.Errorf("import-token requires --user and --file")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("reading token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return fmt.Errorf("parsing token file %q: %w", *file, err)
	}

	a, err := bootstrap(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.SaveToken(context.Background(), *userID, &tok); err != nil {
		return err
	}
	fmt.Printf("Token stored for %s (expires %s)\n", *userID, tok.Expiry.Format(time.RFC3339))
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath, _ := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println("bookingsync status")
	fmt.Println("──────────────────")

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Printf("  Config:    %s (%v)\n", *cfgPath, err)
		return nil
	}
	fmt.Printf("  Config:    %s\n", *cfgPath)
	fmt.Printf("  Calendar:  %s (%s)\n", cfg.Calendar.CalendarID, cfg.Calendar.TimeZone)
	fmt.Printf("  Schedule:  %s\n", cfg.Sync.Schedule)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("  HTTP API:  %s\n", cfg.Server.ListenAddr)
	} else {
		fmt.Println("  HTTP API:  disabled")
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath, _ = store.DefaultDBPath()
	}
	info, err := os.Stat(dbPath)
	if err != nil {
		fmt.Println("  Database:  not found")
		return nil
	}
	fmt.Printf("  Database:  %s (%s)\n", dbPath, humanSize(info.Size()))

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening database at %q: %w", dbPath, err)
	}
	defer func() { _ = st.Close() }()

	bookings, unsynced, users, err := st.Stats(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("  Bookings:  %d active, %d pending push\n", bookings, unsynced)
	fmt.Printf("  Users:     %d connected\n", users)
	return nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
