package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"fleettrack/internal/config"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "fleettrack",
		Short:        "Vehicle fleet tracking server",
		SilenceUsage: true,
	}
	config.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCommand(), newPurgeCommand(), newMigrateCommand())
	return cmd
}
