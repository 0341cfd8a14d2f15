package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/MaciWP/treeflow/internal/workflow"
	"github.com/MaciWP/treeflow/pkg/models"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		file  string
		addr  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a workflow file to the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			spec, err := workflow.LoadSpecFile(file)
			if err != nil {
				return err
			}
			c, err := apiClient(cmd, addr)
			if err != nil {
				return err
			}
			wf, err := c.SubmitWorkflow(cmd.Context(), *spec)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Submitted workflow %s (%s) on branch %s\n", wf.ID, wf.Name, spec.Branch)

			if !watch {
				return nil
			}
			return watchWorkflow(cmd, addr, wf.ID)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Workflow YAML file")
	cmd.Flags().StringVar(&addr, "addr", "", "Daemon address (default: from running daemon)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Poll until the workflow reaches a terminal state")
	return cmd
}

func watchWorkflow(cmd *cobra.Command, addr, id string) error {
	c, err := apiClient(cmd, addr)
	if err != nil {
		return err
	}
	last := map[string]string{}
	for {
		wf, err := c.GetWorkflow(cmd.Context(), id)
		if err != nil {
			return err
		}
		for _, st := range wf.Steps {
			if last[st.ID] != st.Status {
				last[st.ID] = st.Status
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  step %-20s %s\n", st.ID, st.Status)
			}
		}
		switch wf.Status {
		case models.WorkflowCompleted, models.WorkflowFailed, models.WorkflowCancelled:
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s: %s\n", wf.ID, wf.Status)
			if wf.Status != models.WorkflowCompleted {
				return fmt.Errorf("workflow %s", wf.Status)
			}
			return nil
		}
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}
