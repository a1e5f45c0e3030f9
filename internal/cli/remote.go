package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/apiflow/internal/engine"
)

// NewRemoteCmd создаёт группу команд для работы с сервером apiflow.
func NewRemoteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage workflows and runs on an apiflow server",
	}

	cmd.AddCommand(
		newWorkflowsCmd(clientFn, outputFn),
		newRemoteRunCmd(clientFn, outputFn),
		newRemoteRunsCmd(clientFn, outputFn),
		newRemoteShowCmd(clientFn, outputFn),
		newRemoteCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func newWorkflowsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflows",
		Aliases: []string{"wf"},
		Short:   "Manage stored workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listWorkflows(cmd, clientFn(), outputFn())
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored workflows",
			RunE: func(cmd *cobra.Command, args []string) error {
				return listWorkflows(cmd, clientFn(), outputFn())
			},
		},
		newWorkflowShowCmd(clientFn, outputFn),
		newWorkflowPushCmd(clientFn, outputFn),
		newWorkflowDeleteCmd(clientFn, outputFn),
		newWorkflowExportCmd(clientFn, outputFn),
		newWorkflowImportCmd(clientFn, outputFn),
	)

	return cmd
}

func listWorkflows(cmd *cobra.Command, client *Client, out *Output) error {
	workflows, err := client.ListWorkflows(cmd.Context())
	if err != nil {
		return err
	}

	headers := []string{"ID", "NAME", "NODES", "SCHEDULE", "UPDATED"}
	rows := make([][]string, len(workflows))
	for i, wf := range workflows {
		rows[i] = []string{wf.ID, wf.Name, strconv.Itoa(wf.Nodes), wf.Schedule, wf.UpdatedAt}
	}
	return out.Print(headers, rows, workflows)
}

func newWorkflowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print a stored workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := clientFn().GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return outputFn().JSON(wf)
		},
	}
}

func newWorkflowPushCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "push FILE",
		Short: "Create or replace a workflow from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			wf, err := engine.LoadWorkflowFile(args[0])
			if err != nil {
				return err
			}

			if wf.ID != "" {
				updated, err := client.UpdateWorkflow(cmd.Context(), wf)
				if err == nil {
					out.Success(fmt.Sprintf("Workflow updated: %s", updated.ID))
					return nil
				}
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Code != "NOT_FOUND" {
					return err
				}
			}

			created, err := client.CreateWorkflow(cmd.Context(), wf)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Workflow created: %s", created.ID))
			return nil
		},
	}
}

func newWorkflowDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a stored workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteWorkflow(cmd.Context(), args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Workflow deleted: %s", args[0]))
			return nil
		},
	}
}

func newWorkflowExportCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export ID",
		Short: "Download the published configuration of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			doc, err := clientFn().ExportWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if outPath == "" {
				return out.Raw(doc)
			}
			if err := os.WriteFile(outPath, doc, 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			out.Success(fmt.Sprintf("Exported %q to %s", args[0], outPath))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Write the document to a file instead of stdout")
	return cmd
}

func newWorkflowImportCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Store a workflow from a published configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}

			wf, err := clientFn().ImportWorkflow(cmd.Context(), data)
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Workflow imported: %s", wf.ID))
			return nil
		},
	}
}

func newRemoteRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var inputs string
	var async bool

	cmd := &cobra.Command{
		Use:   "run WORKFLOW_ID",
		Short: "Run a stored workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			parsed, err := parseInputs(inputs)
			if err != nil {
				return err
			}

			run, err := clientFn().CreateRun(cmd.Context(), args[0], CreateRunRequest{Inputs: parsed}, async)
			if err != nil {
				return err
			}

			if async {
				out.Success(fmt.Sprintf("Run queued: %s", run.ID))
				return printRun(out, run)
			}

			out.Success(fmt.Sprintf("Run finished: %s", run.ID))
			if run.Report != nil {
				if err := out.Report(run.Report); err != nil {
					return err
				}
			}
			if run.Status != "SUCCEEDED" {
				return fmt.Errorf("%w: %s", ErrRunFailed, run.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inputs, "inputs", "", "Initial inputs as JSON, or @FILE")
	cmd.Flags().BoolVar(&async, "async", false, "Queue the run for a worker instead of waiting")

	return cmd
}

func newRemoteRunsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "runs WORKFLOW_ID",
		Short: "List runs of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}

			headers := []string{"ID", "STATUS", "TRIGGER", "DURATION_MS", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID, r.Status, r.Trigger, strconv.FormatInt(r.DurationMs, 10), r.CreatedAt}
			}
			return outputFn().Print(headers, rows, runs)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRemoteShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show a run with its report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			run, err := clientFn().GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if out.JSONMode() {
				return out.JSON(run)
			}
			if err := printRun(out, run); err != nil {
				return err
			}
			if run.Report == nil {
				return nil
			}
			fmt.Fprintln(out.w)
			return out.Report(run.Report)
		},
	}
}

func newRemoteCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel RUN_ID",
		Short: "Cancel a pending or running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := clientFn().CancelRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Cancel requested: %s (%s)", run.ID, run.Status))
			return nil
		},
	}
}

func printRun(out *Output, run *RunResponse) error {
	return out.Print(
		[]string{"ID", "WORKFLOW_ID", "STATUS", "TRIGGER", "ERROR", "CREATED"},
		[][]string{{run.ID, run.WorkflowID, run.Status, run.Trigger, run.Error, run.CreatedAt}},
		run,
	)
}
