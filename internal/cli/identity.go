package cli

import (
	"fmt"

	"github.com/MaciWP/treeflow/internal/config"
	"github.com/MaciWP/treeflow/internal/identity"
	"github.com/spf13/cobra"
)

func newIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage the committer identity used for merge commits",
	}
	cmd.AddCommand(newIdentityDetectCmd())
	cmd.AddCommand(newIdentityShowCmd())
	return cmd
}

func newIdentityDetectCmd() *cobra.Command {
	var repoDir string
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect committer identity from git config and save it",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			c := identity.DetectFromGit(repoDir)
			if err := identity.Save(home, &c); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Detected: %s <%s> (source: %s)\n", c.Name, c.Email, c.Source)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Saved to %s\n", identity.Path(home))
			return nil
		},
	}
	cmd.Flags().StringVar(&repoDir, "repo", "", "Git repo path (default: global git config)")
	return cmd
}

func newIdentityShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the saved committer identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			c, err := identity.Load(home)
			if err != nil {
				return err
			}
			if c == nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No identity saved (run 'treeflow identity detect')")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s <%s> (source: %s)\n", c.Name, c.Email, c.Source)
			return nil
		},
	}
	return cmd
}
