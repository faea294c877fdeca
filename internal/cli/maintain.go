package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/mnemo/internal/daemon"
)

var maintainCmd = &cobra.Command{
	Use:   "maintain [job...]",
	Short: "Run maintenance jobs once",
	Long: `Run maintenance jobs once and report how many records each touched.
Jobs: ttl_sweep, dedup_sweep, vacuum. With no arguments every job runs.`,
	RunE: runMaintain,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the lexical index and repair the vector index",
	Args:  cobra.NoArgs,
	RunE:  runReindex,
}

func init() {
	rootCmd.AddCommand(maintainCmd, reindexCmd)
}

type jobReport struct {
	Job      string `json:"job"`
	Affected int    `json:"affected"`
	Error    string `json:"error,omitempty"`
}

func runMaintain(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *daemon.App) error {
		sched := app.Scheduler()
		jobs := args
		if len(jobs) == 0 {
			jobs = sched.Jobs()
		}

		reports := make([]jobReport, 0, len(jobs))
		failed := 0
		for _, name := range jobs {
			n, err := sched.RunOnce(ctx, name)
			r := jobReport{Job: name, Affected: n}
			if err != nil {
				r.Error = err.Error()
				failed++
			}
			reports = append(reports, r)
		}

		if err := printJSON(cmd, reports); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d maintenance jobs failed", failed, len(jobs))
		}
		return nil
	})
}

type reindexReport struct {
	LexicalRows   int `json:"lexical_rows"`
	MissingVector int `json:"missing_vector_repaired"`
	OrphanLexical int `json:"orphan_lexical_dropped"`
	OrphanVector  int `json:"orphan_vector_dropped"`
}

func runReindex(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *daemon.App) error {
		store := app.Store()

		rows, err := store.RebuildLexical(ctx)
		if err != nil {
			return err
		}
		repaired, err := store.RepairIndexes(ctx, app.Service().Embed)
		if err != nil {
			return err
		}

		report := reindexReport{LexicalRows: rows}
		if repaired != nil {
			report.MissingVector = len(repaired.MissingVector)
			report.OrphanLexical = len(repaired.OrphanLexical)
			report.OrphanVector = len(repaired.OrphanVector)
		}
		return printJSON(cmd, report)
	})
}
