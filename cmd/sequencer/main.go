// Command sequencer drives recall recyclings without a soundcard.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dudk/sequencer/config"
	"github.com/dudk/sequencer/log"
)

// app is shared by subcommands. Settings are loaded before any of them
// runs.
type app struct {
	configPath string
	settings   *config.Settings
	logger     log.Logger
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "sequencer",
		Short:         "Recall recycling simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to yaml settings")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		s, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.settings = s
		if a.logger == nil {
			a.logger = log.GetLogger()
		}
		return nil
	}
	root.AddCommand(
		newSimulateCommand(a),
		newRenderCommand(a),
	)
	return root
}

func main() {
	if err := newRootCommand(&app{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Command failed:", err)
		os.Exit(1)
	}
}
