package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/apiflow/internal/config"
	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/engine"
	"github.com/shaiso/apiflow/internal/export"
	"github.com/shaiso/apiflow/internal/orchestrator"
	"github.com/shaiso/apiflow/internal/steps"
)

// ErrRunFailed — локальный run завершился не со статусом success.
var ErrRunFailed = errors.New("run did not succeed")

// NewLocalCmds создаёт команды, работающие с файлами workflow без сервера.
func NewLocalCmds(outputFn func() *Output) []*cobra.Command {
	return []*cobra.Command{
		newValidateCmd(outputFn),
		newRunCmd(outputFn),
		newExportCmd(outputFn),
		newImportCmd(outputFn),
	}
}

func newValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a workflow file (JSON or YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			wf, err := engine.LoadWorkflowFile(args[0])
			if err != nil {
				return err
			}

			vw, err := orchestrator.New(orchestrator.Config{}).Lint(wf)
			if err != nil {
				return err
			}

			if out.JSONMode() {
				return out.JSON(map[string]any{
					"valid":  true,
					"order":  vw.Order,
					"levels": vw.Levels,
					"start":  vw.StartID,
					"ends":   vw.EndIDs,
				})
			}

			rows := make([][]string, 0, len(vw.Levels))
			for i, level := range vw.Levels {
				rows = append(rows, []string{fmt.Sprint(i), strings.Join(level, ", ")})
			}
			out.Success(fmt.Sprintf("Workflow %q is valid: %d nodes", wf.ID, vw.Size()))
			return out.Table([]string{"LEVEL", "NODES"}, rows)
		},
	}
}

// runOptions — флаги локального запуска.
type runOptions struct {
	inputs      string
	env         []string
	simulate    bool
	failureRate float64
	latency     time.Duration
	seed        uint64
	parallel    int
	timeout     time.Duration
	varPrefix   string
	verbose     bool
}

func newRunCmd(outputFn func() *Output) *cobra.Command {
	defaults := config.Default()
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Execute a workflow file locally",
		Long: "Execute a workflow file locally and print the execution report.\n" +
			"External calls go to the real APIs unless --simulate is set.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			wf, err := engine.LoadWorkflowFile(args[0])
			if err != nil {
				return err
			}
			if err := applyEnv(wf, opts.env); err != nil {
				return err
			}

			inputs, err := parseInputs(opts.inputs)
			if err != nil {
				return err
			}

			report, err := runLocal(cmd.Context(), wf, inputs, opts, out)
			if err != nil {
				return err
			}

			if err := out.Report(report); err != nil {
				return err
			}
			if report.OverallStatus != domain.ReportSuccess {
				return fmt.Errorf("%w: %s", ErrRunFailed, report.OverallStatus)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.inputs, "inputs", "", "Initial inputs as JSON, or @FILE")
	cmd.Flags().StringArrayVar(&opts.env, "env", nil, "Workflow environment variable as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&opts.simulate, "simulate", false, "Simulate external calls instead of sending them")
	cmd.Flags().Float64Var(&opts.failureRate, "failure-rate", defaults.Simulation.FailureRate, "Share of failed calls in simulation mode")
	cmd.Flags().DurationVar(&opts.latency, "latency", defaults.Simulation.Latency(), "Latency of simulated calls")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "Seed for simulation (0 = random)")
	cmd.Flags().IntVar(&opts.parallel, "parallel", defaults.Engine.MaxParallel, "Nodes of one level to run concurrently")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", defaults.Engine.DefaultTimeout(), "Default timeout of external calls")
	cmd.Flags().StringVar(&opts.varPrefix, "var-prefix", defaults.Engine.VarPrefix, "Prefix of process variables available as {{VAR}}")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print node status changes to stderr")

	return cmd
}

// runLocal выполняет workflow в процессе CLI.
func runLocal(ctx context.Context, wf *domain.Workflow, inputs any, opts runOptions, out *Output) (*domain.ExecutionReport, error) {
	var transport steps.Transport
	if opts.simulate {
		transport = steps.NewSimulatedTransport(opts.failureRate, opts.latency, opts.seed)
		out.Info("simulation mode: failure rate %.2f, latency %s", opts.failureRate, opts.latency)
	}

	orch := orchestrator.New(orchestrator.Config{
		Registry: steps.DefaultRegistry(steps.Deps{
			Transport:      transport,
			DefaultTimeout: opts.timeout,
		}),
		MaxParallel: opts.parallel,
		VarPrefix:   opts.varPrefix,
	})

	var runOpts []orchestrator.RunOption
	if opts.verbose {
		runOpts = append(runOpts, orchestrator.WithObserver(progressObserver(out)))
	}

	return orch.ExecuteWorkflow(ctx, wf, inputs, runOpts...)
}

// progressObserver печатает переходы узлов в stderr.
func progressObserver(out *Output) orchestrator.Observer {
	var mu sync.Mutex
	return orchestrator.ObserverFuncs{
		OnNodeStatus: func(_ context.Context, event domain.StatusEvent) {
			mu.Lock()
			defer mu.Unlock()
			line := fmt.Sprintf("%-20s %s -> %s", event.NodeID, event.From, event.To)
			if event.Error != "" {
				line += ": " + event.Error
			}
			out.Info("%s", line)
		},
	}
}

// parseInputs разбирает --inputs: JSON-значение или @путь к JSON-файлу.
func parseInputs(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	data := []byte(raw)
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read inputs: %w", err)
		}
		data = b
	}

	var inputs any
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("invalid inputs: %w", err)
	}
	return inputs, nil
}

// applyEnv добавляет пары KEY=VALUE в Environment workflow поверх файла.
func applyEnv(wf *domain.Workflow, pairs []string) error {
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid env format %q, expected KEY=VALUE", kv)
		}
		if wf.Environment == nil {
			wf.Environment = make(map[string]string)
		}
		wf.Environment[key] = value
	}
	return nil
}

func newExportCmd(outputFn func() *Output) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Publish a workflow file as a deployable configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			wf, err := engine.LoadWorkflowFile(args[0])
			if err != nil {
				return err
			}

			doc, err := export.Marshal(wf)
			if err != nil {
				return err
			}

			if outPath == "" {
				return out.Raw(doc)
			}
			if err := os.WriteFile(outPath, append(doc, '\n'), 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			out.Success(fmt.Sprintf("Exported %q to %s", wf.ID, outPath))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Write the document to a file instead of stdout")
	return cmd
}

func newImportCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Convert a published configuration back to a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}

			wf, err := export.Import(data)
			if err != nil {
				return err
			}
			return outputFn().JSON(wf)
		},
	}
}
