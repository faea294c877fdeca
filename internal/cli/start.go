package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/mnemo/internal/daemon"
)

var startCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"serve"},
	Short:   "Start the Mnemo daemon service",
	Long: `Start the Mnemo daemon service in the foreground.
The daemon serves the memory tools over HTTP and runs the maintenance jobs
until it receives SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lm := daemon.NewLifecycleManager(cfg.DataDir, noopLogger())
	if lm.IsRunning() {
		return fmt.Errorf("%w (PID file: %s)", daemon.ErrAlreadyRunning, lm.PIDFile())
	}

	log, err := newLogger(cfg, true)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	ctx := cmd.Context()
	d, err := daemon.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	if err := d.Start(ctx); err != nil {
		_ = d.Stop()
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Mnemo listening on %s\n", cfg.Server.Addr())

	waitErr := d.Wait(ctx)
	stopErr := d.Stop()
	return errors.Join(waitErr, stopErr)
}
