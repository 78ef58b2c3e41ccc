package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ghwns9652/bedrock-keeper/internal/service/keeper"
)

// checkCmd reports whether an update is available without changing anything.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Resolve the latest build and report whether an update is needed",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		return keeper.RunCheck(ctx, &keeper.Options{ConfigPath: configPath})
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(checkCmd)
}
