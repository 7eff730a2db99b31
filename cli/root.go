// Package cli wires the sshdeck commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sshdeck/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
	}()

	err := NewRootCmd().ExecuteContext(ctx)
	_ = logging.Sync()
	if err != nil {
		return 1
	}
	return 0
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "sshdeck",
		Short: "sshdeck - manage SSH servers, files and services",
		Long: `sshdeck keeps a small inventory of SSH servers and works with them:
browse and edit remote files over SFTP, transfer files, and control
systemd services.

Examples:
  sshdeck server add web1 --host 10.0.0.5 --user ops
  sshdeck -s web1 ls /etc
  sshdeck -s web1 svc restart nginx
  sshdeck -s web1 shell`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (default $SSHDECK_HOME/config.toml, or sshdeck/config.toml under the user config dir)")
	root.PersistentFlags().StringVarP(&a.serverName, "server", "s", "", "Stored server to work with")
	root.PersistentFlags().BoolVarP(&a.debug, "debug", "d", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		newServerCmd(a),
		newServicesCmd(a),
		newLsCmd(a),
		newGetCmd(a),
		newPutCmd(a),
		newCatCmd(a),
		newEditCmd(a),
		newChmodCmd(a),
		newChownCmd(a),
		newRmCmd(a),
		newSvcCmd(a),
		newWatchCmd(a),
		newJSONCmd(a),
		newDiffCmd(a),
		newHistoryCmd(a),
		newShellCmd(a),
		newConfigCmd(a),
	)

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w\nRun '%s --help' for usage", err, cmd.CommandPath())
	})
	return root
}
