package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/MaciWP/treeflow/pkg/models"
	"github.com/spf13/cobra"
)

func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Integrate worktree branches back into the repository",
	}
	cmd.AddCommand(newMergeDetectCmd())
	cmd.AddCommand(newMergeResolveCmd())
	cmd.AddCommand(newMergeAbortCmd())
	return cmd
}

func newMergeDetectCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "detect <worktree-path>",
		Short: "Dry-run the merge and list conflicts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd, addr)
			if err != nil {
				return err
			}
			res, err := c.DetectConflicts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(res.Conflicts) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No conflicts; merge would be clean.")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d conflict(s):\n", len(res.Conflicts))
			for _, cf := range res.Conflicts {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s (%s region %d)\n", cf.ID, cf.Path, cf.Index)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Daemon address (default: from running daemon)")
	return cmd
}

func newMergeResolveCmd() *cobra.Command {
	var (
		addr        string
		takeSource  []string
		takeTarget  []string
		customPairs []string
	)
	cmd := &cobra.Command{
		Use:   "resolve <worktree-path>",
		Short: "Resolve detected conflicts and commit the merge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolutions := map[string]models.Resolution{}
			for _, id := range takeSource {
				resolutions[id] = models.Resolution{Strategy: models.ResolveTakeSource}
			}
			for _, id := range takeTarget {
				resolutions[id] = models.Resolution{Strategy: models.ResolveTakeTarget}
			}
			for _, pair := range customPairs {
				id, file, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("invalid --custom %q (want CONFLICT_ID=FILE)", pair)
				}
				content, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				resolutions[id] = models.Resolution{Strategy: models.ResolveCustom, Content: string(content)}
			}
			c, err := apiClient(cmd, addr)
			if err != nil {
				return err
			}
			res, err := c.ResolveMerge(cmd.Context(), models.MergeRequest{
				WorktreePath: args[0],
				Resolutions:  resolutions,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Merged: %s (commit %s)\n", res.Status, res.Commit)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Daemon address (default: from running daemon)")
	cmd.Flags().StringArrayVar(&takeSource, "take-source", nil, "Conflict ID to resolve with the branch side (repeatable)")
	cmd.Flags().StringArrayVar(&takeTarget, "take-target", nil, "Conflict ID to resolve with the target side (repeatable)")
	cmd.Flags().StringArrayVar(&customPairs, "custom", nil, "CONFLICT_ID=FILE: resolve with the file's content (repeatable)")
	return cmd
}

func newMergeAbortCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "abort <worktree-path>",
		Short: "Abort any in-progress merge for the worktree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd, addr)
			if err != nil {
				return err
			}
			if err := c.AbortMerge(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Daemon address (default: from running daemon)")
	return cmd
}
