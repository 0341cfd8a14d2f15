package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newWorktreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worktree",
		Short: "Manage isolated worktrees",
	}
	cmd.AddCommand(newWorktreeListCmd())
	cmd.AddCommand(newWorktreeCreateCmd())
	cmd.AddCommand(newWorktreeRemoveCmd())
	return cmd
}

func newWorktreeListCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered worktrees",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd, addr)
			if err != nil {
				return err
			}
			wts, err := c.ListWorktrees(cmd.Context())
			if err != nil {
				return err
			}
			if len(wts) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No worktrees.")
				return nil
			}
			for _, wt := range wts {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s branch=%s base=%s status=%s\n", wt.Path, wt.Branch, wt.BaseRef, wt.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Daemon address (default: from running daemon)")
	return cmd
}

func newWorktreeCreateCmd() *cobra.Command {
	var (
		addr    string
		branch  string
		baseRef string
		path    string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an isolated checkout for a branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if branch == "" {
				return errors.New("--branch is required")
			}
			c, err := apiClient(cmd, addr)
			if err != nil {
				return err
			}
			wt, err := c.CreateWorktree(cmd.Context(), branch, baseRef, path)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created %s (branch %s, base %s)\n", wt.Path, wt.Branch, wt.BaseSHA)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Daemon address (default: from running daemon)")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch to check out (created from --base if missing)")
	cmd.Flags().StringVar(&baseRef, "base", "", "Base ref for new branches (default: repository HEAD)")
	cmd.Flags().StringVar(&path, "path", "", "Checkout directory (default: under the daemon's worktree root)")
	return cmd
}

func newWorktreeRemoveCmd() *cobra.Command {
	var (
		addr  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "remove <path>",
		Short: "Remove a worktree checkout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd, addr)
			if err != nil {
				return err
			}
			if err := c.RemoveWorktree(cmd.Context(), args[0], force); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Daemon address (default: from running daemon)")
	cmd.Flags().BoolVar(&force, "force", false, "Remove even if the worktree has uncommitted changes")
	return cmd
}
