package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/crmpilot/internal/api"
	"github.com/kalambet/crmpilot/internal/assist"
	"github.com/kalambet/crmpilot/internal/auth"
	"github.com/kalambet/crmpilot/internal/config"
	"github.com/kalambet/crmpilot/internal/events"
	"github.com/kalambet/crmpilot/internal/jobs"
	"github.com/kalambet/crmpilot/internal/metrics"
	"github.com/kalambet/crmpilot/internal/pgstore"
	"github.com/kalambet/crmpilot/internal/proxy"
	"github.com/kalambet/crmpilot/internal/storage"
	"github.com/kalambet/crmpilot/internal/transcribe"
	"github.com/kalambet/crmpilot/internal/transcribe/google"
)

const (
	shutdownTimeout    = 5 * time.Second
	sessionSweepPeriod = time.Hour
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the crmpilot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running crmpilot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show crmpilot server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

// serverStore is everything the server process needs from the record store.
// Both storage.Store and pgstore.Store implement it.
type serverStore interface {
	api.Store
	jobs.Store
	auth.SessionLookup
	auth.SessionCreator
	JobCounts(ctx context.Context) (map[string]int, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	Ping() error
	Close() error
}

var openStore = func(ctx context.Context, cfg config.Config) (serverStore, error) {
	if cfg.Storage.Driver == "postgres" {
		return pgstore.New(ctx, cfg.Storage.DatabaseURL)
	}
	return storage.Open(cfg.Storage.DataDir)
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "crmpilot.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	// stdout belongs to the MCP transport, so logs always go to stderr.
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newPublisher(cfg config.EventsConfig, logger *slog.Logger) (events.Publisher, error) {
	switch cfg.Backend {
	case "nats":
		return events.NewNATS(cfg.NATSURL, cfg.NATSToken, cfg.Prefix, logger)
	case "kafka":
		return events.NewKafka(cfg.Brokers(), cfg.Prefix, logger)
	default:
		return events.Nop{}, nil
	}
}

func newVerifier(cfg config.AuthConfig, store auth.SessionLookup) auth.Verifier {
	if cfg.Mode == "remote" {
		return auth.NewRemoteVerifier(cfg.URL, cfg.AnonKey)
	}
	return auth.NewStoreVerifier(store)
}

// newTranscriptionBackend picks the speech-to-text backend. It returns a nil
// backend when the selected one cannot be used; the closer is never nil.
func newTranscriptionBackend(ctx context.Context, cfg config.TranscriptionConfig, client *proxy.Client, logger *slog.Logger) (transcribe.Backend, func()) {
	switch cfg.Backend {
	case "google":
		a, err := google.New(ctx, cfg.Language)
		if err != nil {
			logger.Warn("google speech client unavailable, transcription disabled", "error", err)
			return nil, func() {}
		}
		return a, func() {
			if err := a.Close(); err != nil {
				logger.Warn("closing speech client", "error", err)
			}
		}
	default:
		if client == nil {
			return nil, func() {}
		}
		return proxy.NewTranscriber(client, cfg.Model, cfg.Language), func() {}
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "crmpilot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	// Refuse to start a second instance on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("crmpilot is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("crmpilot is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}()

	publisher, err := newPublisher(cfg.Events, logger)
	if err != nil {
		return fmt.Errorf("connecting event publisher: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("closing event publisher", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Interface values stay nil unless configured so handlers answer 503.
	var (
		assistant   *assist.Assistant
		apiAssist   api.Assistant
		client      *proxy.Client
		transcriber api.Transcriber
	)
	if cfg.AI.APIKey != "" {
		client = proxy.NewClient(cfg.AI.APIKey, cfg.AI.BaseURL)
		assistant = assist.New(client, store, assist.Config{
			Model:            cfg.AI.Model,
			Temperature:      cfg.AI.Temperature,
			Timeout:          cfg.AI.Timeout,
			InteractionLimit: cfg.AI.InteractionLimit,
		}, assist.WithLogger(logger), assist.WithMetrics(m), assist.WithPublisher(publisher))
		apiAssist = assistant
	} else {
		logger.Warn("ai.api_key not set, AI routes will answer 503")
	}

	backend, closeBackend := newTranscriptionBackend(ctx, cfg.Transcription, client, logger)
	defer closeBackend()
	if backend != nil {
		transcriber = transcribe.New(backend, transcribe.Config{
			TempDir: cfg.Transcription.TempDir,
			Timeout: cfg.Transcription.Timeout,
		}, transcribe.WithLogger(logger), transcribe.WithMetrics(m))
	} else {
		logger.Warn("no transcription backend available, /transcribe will answer 503", "backend", cfg.Transcription.Backend)
	}

	handler := api.NewHandler(api.Deps{
		Store:          store,
		Verifier:       newVerifier(cfg.Auth, store),
		CookieName:     cfg.Auth.CookieName,
		Assistant:      apiAssist,
		Transcriber:    transcriber,
		Publisher:      publisher,
		Metrics:        m,
		Gatherer:       reg,
		Logger:         logger,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("crmpilot listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if assistant != nil {
		worker := jobs.NewWorker(store, assistant, 0, jobs.WithLogger(logger), jobs.WithMetrics(m))
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	}

	if cfg.Auth.Mode == "local" {
		g.Go(func() error {
			sweepSessions(gctx, store, logger)
			return nil
		})
	}

	if cfg.MCP.UserID != "" {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:     store,
			Assistant: apiAssist,
			UserID:    cfg.MCP.UserID,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			// stdin closing ends the MCP session but not the server.
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		logger.Info("MCP server started (stdio transport)", "user_id", cfg.MCP.UserID)
	}

	return g.Wait()
}

type sessionSweeper interface {
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// sweepSessions removes expired local sessions until ctx is cancelled.
func sweepSessions(ctx context.Context, s sessionSweeper, logger *slog.Logger) {
	ticker := time.NewTicker(sessionSweepPeriod)
	defer ticker.Stop()
	for {
		n, err := s.DeleteExpiredSessions(ctx, time.Now())
		if err != nil && ctx.Err() == nil {
			logger.Error("sweeping expired sessions", "error", err)
		} else if n > 0 {
			logger.Debug("expired sessions removed", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("crmpilot is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop crmpilot (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to crmpilot (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Auth", "%s", cfg.Auth.Mode)
	printStatus("AI model", "%s", modelStatus(ctx, cfg.AI))
	printStatus("Transcription", "%s", cfg.Transcription.Backend)
	printStatus("Events", "%s", cfg.Events.Backend)

	// SQLite allows a second connection alongside the running server.
	store, err := openStore(ctx, cfg)
	if err != nil {
		printStatus("Storage", "%s (unavailable: %v)", cfg.Storage.Driver, err)
	} else {
		defer store.Close()
		if err := store.Ping(); err != nil {
			printStatus("Storage", "%s (unreachable: %v)", cfg.Storage.Driver, err)
		} else {
			printStatus("Storage", "%s (reachable)", cfg.Storage.Driver)
			if counts, err := store.JobCounts(ctx); err == nil {
				printStatus("Jobs", "%s", jobSummary(counts))
			}
		}
	}

	if cfg.Storage.Driver == "sqlite" {
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
	}
	return nil
}

// modelStatus reports whether ai.model is listed for the configured key.
func modelStatus(ctx context.Context, ai config.AIConfig) string {
	if ai.APIKey == "" {
		return ai.Model + " (no API key)"
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	models, err := proxy.NewClient(ai.APIKey, ai.BaseURL).ListModels(ctx)
	if err != nil {
		return fmt.Sprintf("%s (could not list models: %v)", ai.Model, err)
	}
	for _, m := range models {
		if m.ID == ai.Model {
			return ai.Model + " (available)"
		}
	}
	return ai.Model + " (not listed for this key)"
}

// jobSummary renders job counts in a fixed status order, e.g.
// "pending 2, running 0, completed 10, failed 1".
func jobSummary(counts map[string]int) string {
	order := []string{"pending", "running", "completed", "failed"}
	parts := make([]string, 0, len(order))
	for _, s := range order {
		parts = append(parts, fmt.Sprintf("%s %d", s, counts[s]))
	}
	return strings.Join(parts, ", ")
}
