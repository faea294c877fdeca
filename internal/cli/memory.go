package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/mnemo/internal/daemon"
	"github.com/harun/mnemo/pkg/memory"
)

var (
	storeCategory   string
	storeImportance float64
	storeTTL        int64

	recallLimit    int
	recallCategory string

	updateCategory string

	forgetID      string
	forgetQuery   string
	forgetConfirm bool
)

var storeCmd = &cobra.Command{
	Use:   "store <content>",
	Short: "Store a memory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]interface{}{
			"content": strings.Join(args, " "),
		}
		if storeCategory != "" {
			params["category"] = storeCategory
		}
		if cmd.Flags().Changed("importance") {
			params["importance"] = storeImportance
		}
		if storeTTL > 0 {
			params["ttl_seconds"] = storeTTL
		}
		return runTool(cmd, memory.ToolStore, params)
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Recall the memories most relevant to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]interface{}{
			"query": strings.Join(args, " "),
			"limit": recallLimit,
		}
		if recallCategory != "" {
			params["category_filter"] = recallCategory
		}
		return runTool(cmd, memory.ToolRecall, params)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <memory-id> <content>",
	Short: "Replace the content of a memory",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]interface{}{
			"memory_id": args[0],
			"content":   strings.Join(args[1:], " "),
		}
		if updateCategory != "" {
			params["category"] = updateCategory
		}
		return runTool(cmd, memory.ToolUpdate, params)
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Forget a memory by id, or preview and delete the memories matching a query",
	Long: `Forget a memory by id, or the memories matching a query.
Query deletes only preview the matching ids unless --confirm is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]interface{}{
			"confirm": forgetConfirm,
		}
		if forgetID != "" {
			params["memory_id"] = forgetID
		}
		if forgetQuery != "" {
			params["query"] = forgetQuery
		}
		return runTool(cmd, memory.ToolForget, params)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report memory store and cache status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTool(cmd, memory.ToolHealth, map[string]interface{}{})
	},
}

func init() {
	storeCmd.Flags().StringVar(&storeCategory, "category", "", "category; inferred from the content when omitted")
	storeCmd.Flags().Float64Var(&storeImportance, "importance", memory.DefaultImportance, "importance weight used in ranking")
	storeCmd.Flags().Int64Var(&storeTTL, "ttl", 0, "expire the memory after this many seconds")

	recallCmd.Flags().IntVar(&recallLimit, "limit", memory.DefaultRecallLimit, "maximum number of answers")
	recallCmd.Flags().StringVar(&recallCategory, "category", "", "only return memories of this category")

	updateCmd.Flags().StringVar(&updateCategory, "category", "", "category; inferred from the content when omitted")

	forgetCmd.Flags().StringVar(&forgetID, "id", "", "id of the memory to forget")
	forgetCmd.Flags().StringVar(&forgetQuery, "query", "", "forget the memories matching this query")
	forgetCmd.Flags().BoolVar(&forgetConfirm, "confirm", false, "delete query matches instead of previewing them")
	forgetCmd.MarkFlagsOneRequired("id", "query")
	forgetCmd.MarkFlagsMutuallyExclusive("id", "query")

	rootCmd.AddCommand(storeCmd, recallCmd, updateCmd, forgetCmd, healthCmd)
}

func runTool(cmd *cobra.Command, name string, params map[string]interface{}) error {
	return withApp(cmd, func(ctx context.Context, app *daemon.App) error {
		out, err := callTool(ctx, app, name, params)
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	})
}
