package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/observability"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "nexoledger",
		Short:         "Options treasury and insurance vault ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultPath := os.Getenv("NEXO_CONFIG")
	if defaultPath == "" {
		defaultPath = "configs/config.yaml"
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", defaultPath, "path to the YAML config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logger := observability.NewLogger("main")
		logger.Error().Err(err).Msg("nexoledger exited")
		os.Exit(1)
	}
}
