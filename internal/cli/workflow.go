package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
	}
	cmd.AddCommand(newWorkflowListCmd())
	cmd.AddCommand(newWorkflowShowCmd())
	cmd.AddCommand(newWorkflowCancelCmd())
	return cmd
}

func newWorkflowListCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd, addr)
			if err != nil {
				return err
			}
			wfs, err := c.ListWorkflows(cmd.Context())
			if err != nil {
				return err
			}
			if len(wfs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No workflows.")
				return nil
			}
			for _, wf := range wfs {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s %s branch=%s status=%s\n", wf.ID, wf.Name, wf.Branch, wf.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Daemon address (default: from running daemon)")
	return cmd
}

func newWorkflowShowCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a workflow and its step states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd, addr)
			if err != nil {
				return err
			}
			wf, err := c.GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s branch=%s status=%s\n", wf.ID, wf.Name, wf.Branch, wf.Status)
			for _, st := range wf.Steps {
				line := fmt.Sprintf("  step %-20s %s attempts=%d", st.ID, st.Status, st.Attempts)
				if st.LastError != "" {
					line += " error=" + st.LastError
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Daemon address (default: from running daemon)")
	return cmd
}

func newWorkflowCancelCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a running workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "" {
				return errors.New("workflow id required")
			}
			c, err := apiClient(cmd, addr)
			if err != nil {
				return err
			}
			if err := c.CancelWorkflow(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Daemon address (default: from running daemon)")
	return cmd
}
