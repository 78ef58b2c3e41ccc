package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ghwns9652/bedrock-keeper/internal/service/keeper"
)

// backupCmd runs only the deduplicated backup step.
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the server installation unless an identical backup exists",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		return keeper.RunBackup(ctx, &keeper.Options{ConfigPath: configPath})
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(backupCmd)
}
