package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/mnemo/internal/config"
	"github.com/harun/mnemo/internal/daemon"
	"github.com/harun/mnemo/internal/logger"
	"github.com/harun/mnemo/pkg/toolexecutor"
)

// loadConfig reads the config file named by --config and applies the global
// flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. One-shot commands log to stderr only so
// stdout stays machine readable.
func newLogger(cfg *config.Config, toFile bool) (*logger.Logger, error) {
	lc := logger.Config{
		Level:     cfg.Logging.Level,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	}
	if toFile {
		lc.File = cfg.Logging.File
	}
	return logger.New(lc)
}

// withApp loads the configuration, opens the application and runs fn with it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *daemon.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := daemon.NewApp(ctx, cfg, log.GetZerolog())
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(ctx, app)
}

// callTool runs a memory tool through the executor, so command line calls get
// the same validation, retries and metrics as HTTP calls.
func callTool(ctx context.Context, app *daemon.App, name string, params map[string]interface{}) (interface{}, error) {
	if userID != "" {
		params["user_id"] = userID
	}
	result := app.ExecuteTool(ctx, name, params, &toolexecutor.ExecutionContext{
		Timeout: app.Config().Server.RequestTimeoutDuration(),
	})
	if !result.Success {
		return nil, result.Err
	}
	return result.Output, nil
}

// printJSON writes v to the command's output as indented JSON.
func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
