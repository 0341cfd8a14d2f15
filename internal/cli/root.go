// Package cli wires the treeflow command tree.
package cli

import (
	"os"

	"github.com/MaciWP/treeflow/internal/config"
	"github.com/spf13/cobra"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:          "treeflow",
		Short:        "Treeflow — isolated worktrees and agent workflow execution for git repos",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override Treeflow home directory (default: ~/.treeflow, env: TREEFLOW_HOME)")

	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newWorkflowCmd())
	cmd.AddCommand(newWorktreeCmd())
	cmd.AddCommand(newMergeCmd())
	cmd.AddCommand(newIdentityCmd())

	// Hidden internal subcommand used by `treeflow start` for background mode.
	cmd.AddCommand(newServeCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
