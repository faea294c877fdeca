package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/mnemo/internal/config"
)

var (
	configureUser      string
	configureCacheURL  string
	configureProvider  string
	configureModel     string
	configureDimension int
	configurePort      int
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a configuration file",
	Long: `Write a configuration file from the current settings and the given flags.
Existing values are kept unless a flag overrides them. API keys are read from
MNEMO_EMBEDDING_API_KEY or OPENAI_API_KEY and are never written by this command.`,
	Args: cobra.NoArgs,
	RunE: runConfigure,
}

func init() {
	f := configureCmd.Flags()
	f.StringVar(&configureUser, "user-id", "", "default owner of memories")
	f.StringVar(&configureCacheURL, "cache-url", "", `cache backend: "local", "disabled" or a redis:// URL`)
	f.StringVar(&configureProvider, "embedding-provider", "", `embedding provider: "hash" or "openai"`)
	f.StringVar(&configureModel, "embedding-model", "", "embedding model name")
	f.IntVar(&configureDimension, "dimension", 0, "embedding dimension")
	f.IntVar(&configurePort, "port", 0, "HTTP port")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("user-id") {
		cfg.UserID = configureUser
	}
	if flags.Changed("cache-url") {
		cfg.Cache.URL = configureCacheURL
	}
	if flags.Changed("embedding-provider") {
		cfg.Embedding.Provider = configureProvider
	}
	if flags.Changed("embedding-model") {
		cfg.Embedding.Model = configureModel
	}
	if flags.Changed("dimension") {
		cfg.Embedding.Dimension = configureDimension
	}
	if flags.Changed("port") {
		cfg.Server.Port = configurePort
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	apiKey := cfg.Embedding.APIKey
	cfg.Embedding.APIKey = ""
	err = loader.Save(cfg)
	cfg.Embedding.APIKey = apiKey
	if err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintln(cmd.OutOrStdout(), "You can now start Mnemo with: mnemo start")
	return nil
}
