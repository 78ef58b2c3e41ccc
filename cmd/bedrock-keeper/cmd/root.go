package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ghwns9652/bedrock-keeper/internal/config"
	"github.com/ghwns9652/bedrock-keeper/internal/logger"
	"github.com/ghwns9652/bedrock-keeper/internal/service/keeper"
	"github.com/ghwns9652/bedrock-keeper/internal/version"
)

var (
	// configPath to the settings YAML file.
	configPath string

	// assumeYes answers the first-install prompt without asking.
	assumeYes bool

	// logLevel is the minimum level for console output.
	logLevel string

	// rootCmd represents the base command running the full update workflow.
	rootCmd = &cobra.Command{
		Use:   "bedrock-keeper",
		Short: "Update a local Bedrock dedicated server, with deduplicated backups",
		Long: "bedrock-keeper resolves the latest Bedrock dedicated server build, backs up " +
			"the current installation (skipping backups identical to the previous one), " +
			"downloads and installs the new build, and preserves server configuration " +
			"across updates.",
		Args: cobra.NoArgs,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &keeper.Options{
				ConfigPath: configPath,
				AssumeYes:  assumeYes,
			}

			return keeper.Run(ctx, options)
		},
	}
)

// Execute runs the bedrock-keeper CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "install without asking when no server is present")
}
