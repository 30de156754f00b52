// File: cmd/evolve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/toolforge/internal/config"
	"github.com/xkilldash9x/toolforge/internal/engine"
	"github.com/xkilldash9x/toolforge/internal/history"
	"github.com/xkilldash9x/toolforge/internal/judge"
	"github.com/xkilldash9x/toolforge/internal/llmclient"
	"github.com/xkilldash9x/toolforge/internal/observability"
	"github.com/xkilldash9x/toolforge/internal/runner"
)

// evolveFlags are the command-line overrides for the evolution run. Zero
// values mean "keep whatever the config file says".
type evolveFlags struct {
	outputDir     string
	instancesFile string
	maxIterations int
	resume        bool
	resumeSet     bool
}

// applyEvolveFlags folds the command-line overrides into the loaded config.
func applyEvolveFlags(cfg *config.Config, flags evolveFlags) {
	if flags.outputDir != "" {
		cfg.Evolution.OutputDir = flags.outputDir
	}
	if flags.instancesFile != "" {
		cfg.Evolution.InstancesFile = flags.instancesFile
	}
	if flags.maxIterations > 0 {
		cfg.Evolution.MaxIterations = flags.maxIterations
	}
	if flags.resumeSet {
		cfg.Evolution.Resume = flags.resume
	}
}

// newEvolveCmd creates the 'evolve' command, which runs the full tool
// evolution loop against the configured coding-agent harness.
func newEvolveCmd() *cobra.Command {
	var flags evolveFlags

	cmd := &cobra.Command{
		Use:   "evolve",
		Short: "Runs the tool evolution loop.",
		Long: `The evolve command iteratively creates, warms up, and evaluates subagent
and code tools for the configured coding agent, keeping the best performers
in a persistent archive.
WARNING: a non-resumed run wipes the output directory first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			flags.resumeSet = cmd.Flags().Changed("resume")
			applyEvolveFlags(cfg, flags)

			if cfg.Evolution.InstancesFile == "" {
				return fmt.Errorf("an instances file is required (set --instances or evolution.instances_file)")
			}

			router, err := llmclient.NewRouterFromConfig(cfg.LLM, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize LLM router: %w", err)
			}
			defer router.Close()

			helpfulnessJudge, err := judge.NewLLMJudge(cfg.Judge, cfg.Evolution.PromptDir, router, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize helpfulness judge: %w", err)
			}

			deps := engine.Deps{
				Client:    router,
				Runner:    runner.NewSubprocessAgentRunner(cfg.Runner, logger),
				Evaluator: runner.NewSubprocessPatchEvaluator(cfg.Evaluator, logger),
				Judge:     helpfulnessJudge,
				Logger:    logger,
			}

			if cfg.History.Enabled {
				pool, err := history.NewPool(ctx, cfg.History.Postgres)
				if err != nil {
					return fmt.Errorf("failed to connect to history database: %w", err)
				}
				defer pool.Close()
				store, err := history.New(ctx, pool, logger)
				if err != nil {
					return fmt.Errorf("failed to initialize history store: %w", err)
				}
				deps.History = store
			}

			e, err := engine.NewEngine(cfg, deps)
			if err != nil {
				return fmt.Errorf("failed to initialize evolution engine: %w", err)
			}
			return e.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&flags.outputDir, "output-dir", "o", "", "Directory for archives, experiments, and logs.")
	cmd.Flags().StringVarP(&flags.instancesFile, "instances", "i", "", "YAML or JSON file with the task instance pool.")
	cmd.Flags().IntVarP(&flags.maxIterations, "max-iterations", "n", 0, "Number of evolution iterations to run.")
	cmd.Flags().BoolVar(&flags.resume, "resume", false, "Resume from the last completed experiment instead of starting fresh.")

	return cmd
}
