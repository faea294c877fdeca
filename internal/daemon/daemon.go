package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/mnemo/internal/config"
	"github.com/harun/mnemo/internal/logger"
	"github.com/harun/mnemo/internal/tracing"
)

// Version is reported to tracing and the CLI; overridden at build time.
var Version = "0.1.0"

// shutdownTimeout bounds the HTTP drain on Stop.
const shutdownTimeout = 5 * time.Second

// Status describes a daemon
type Status struct {
	Running   bool          `json:"running"`
	StartTime time.Time     `json:"start_time,omitempty"`
	Uptime    time.Duration `json:"uptime"`
	Addr      string        `json:"addr"`
}

// Daemon runs the HTTP surface and the maintenance scheduler over one App.
type Daemon struct {
	config    *config.Config
	logger    zerolog.Logger
	app       *App
	server    *Server
	lifecycle *LifecycleManager

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	zl := log.GetZerolog()

	d := &Daemon{
		config:    cfg,
		logger:    zl,
		lifecycle: NewLifecycleManager(cfg.DataDir, zl),
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry("mnemo", Version, cfg.Tracing.SampleRatio); err != nil {
			zl.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
		} else {
			d.tracingEnabled = true
		}
	}

	app, err := NewApp(ctx, cfg, zl)
	if err != nil {
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	d.app = app
	d.server = NewServer(app, zl.With().Str("component", "http").Logger())

	return d, nil
}

// App returns the application context.
func (d *Daemon) App() *App {
	return d.app
}

// Start writes the PID file, starts maintenance and begins serving HTTP.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon is already running")
	}

	ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
	logger := tracing.LoggerFromContext(ctx, d.logger)
	logger.Info().Str("version", Version).Msg("Starting mnemo daemon")

	if err := d.lifecycle.Start(); err != nil {
		return err
	}

	if d.config.Maintenance.Enabled {
		if err := d.app.Scheduler().Start(context.Background()); err != nil {
			_ = d.lifecycle.Stop()
			return fmt.Errorf("failed to start maintenance scheduler: %w", err)
		}
	}

	if err := d.server.Start(); err != nil {
		d.app.Scheduler().Stop()
		_ = d.lifecycle.Stop()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	d.running = true
	d.startTime = time.Now()
	logger.Info().Msg("Daemon started")
	return nil
}

// Stop shuts down in order: HTTP, scheduler, cache, store. It is safe to call
// on a daemon that never started.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	logger := d.logger.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping mnemo daemon")

	if d.running {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.server.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop HTTP server")
		}
		cancel()
	}

	var firstErr error
	if err := d.app.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close application")
		firstErr = err
	}

	if d.running {
		if err := d.lifecycle.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
		}
	}

	d.shutdownTracing()
	d.running = false

	logger.Info().Msg("Daemon stopped")
	return firstErr
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to flush traces")
	}
	d.tracingEnabled = false
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := Status{
		Running: d.running,
		Addr:    d.config.Server.Addr(),
	}
	if d.running {
		st.StartTime = d.startTime
		st.Uptime = time.Since(d.startTime)
	}
	return st
}

// Wait blocks until ctx is done, SIGINT or SIGTERM arrives, or the HTTP server
// fails. A server failure is returned.
func (d *Daemon) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		return nil
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		return nil
	case err := <-d.server.Errors():
		return err
	}
}
