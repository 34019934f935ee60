package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/terrapin-dev/terrapin/internal/engine"
	"github.com/terrapin-dev/terrapin/internal/eval"
	"github.com/terrapin-dev/terrapin/internal/ir"
	"github.com/terrapin-dev/terrapin/internal/provider"
	"github.com/terrapin-dev/terrapin/internal/state"
)

var (
	applyAutoApprove     bool
	applyContinueOnError bool
	applyParallelism     int
	applyProperties      map[string]string
)

var applyCmd = &cobra.Command{
	Use:   "apply [path]",
	Short: "Apply a configuration",
	Long:  `Builds or changes infrastructure according to Terrapin configuration files.`,
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().BoolVar(&applyContinueOnError, "continue-on-error", false, "Keep applying independent resources after a failure")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", 0, "Bound concurrent resource operations (0 = default)")
	applyCmd.Flags().StringToStringVarP(&applyProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runApply(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveTarget(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	stateMgr := state.NewManager(statePath(wd), evaluator)
	registry := provider.NewRegistry()

	eng := engine.NewEngine(registry)
	eng.ContinueOnError = applyContinueOnError
	eng.Parallelism = applyParallelism
	eng.Checkpoint = func(ctx context.Context, s *ir.State) error {
		return stateMgr.Write(ctx, s)
	}

	// The lock covers the whole plan+apply cycle.
	if err := stateMgr.Lock("apply"); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	fmt.Print("Loading configuration... ")
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, applyProperties)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println("OK")

	if err := loadRequiredProviders(registry, cfg); err != nil {
		return err
	}

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if err := loadStateProviders(registry, currentState); err != nil {
		return err
	}

	fmt.Print("Calculating plan... ")
	plan, err := eng.CreatePlan(ctx, cfg, currentState)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	actionable := 0
	for _, c := range plan.Changes {
		if c.Action != "NOOP" {
			actionable++
		}
	}
	if actionable == 0 {
		fmt.Println("No changes. Infrastructure is up-to-date.")
		// An output-only configuration change (a new output referencing an
		// already-applied resource) still needs materializing into state.
		if _, err := eng.ApplyPlan(ctx, plan, currentState); err != nil {
			return err
		}
		if err := stateMgr.Write(ctx, currentState); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
		return nil
	}

	fmt.Println("\nTerrapin will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove && !confirm("Do you want to perform these actions?") {
		fmt.Println("Apply cancelled.")
		return nil
	}

	fmt.Printf("\nApplying %d changes...\n", actionable)

	result, applyErr := eng.ApplyPlanWithCallback(ctx, plan, currentState, func(event engine.ApplyEvent) {
		switch event.Status {
		case "completed":
			fmt.Printf("  %s: %s complete (%s)\n", event.Address, event.Action, event.Duration.Round(10*time.Millisecond))
		case "failed":
			fmt.Printf("  %s: %s FAILED: %v\n", event.Address, event.Action, event.Error)
		case "skipped":
			fmt.Printf("  %s: skipped (dependency failed)\n", event.Address)
		}
	})

	// Final write regardless of outcome; checkpoints already persisted
	// partial progress.
	if err := stateMgr.Write(ctx, currentState); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	if applyErr != nil {
		renderApplyResult(result)
		return fmt.Errorf("apply failed: %w", applyErr)
	}

	fmt.Printf("\nApply complete! Resources: %d added, %d changed, %d destroyed.\n",
		plan.Summary.Create, plan.Summary.Update+plan.Summary.Replace, plan.Summary.Delete)

	if len(currentState.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		for k, v := range currentState.Outputs {
			fmt.Printf("  %s = %v\n", k, formatValue(v))
		}
	}

	return nil
}

// renderApplyResult lists what was applied, what failed, and what was never
// attempted because a dependency failed.
func renderApplyResult(result *engine.ApplyResult) {
	if result == nil {
		return
	}
	if len(result.Applied) > 0 {
		fmt.Printf("\nApplied: %d resource(s)\n", len(result.Applied))
	}
	for addr, err := range result.Failed {
		fmt.Printf("Failed:  %s: %v\n", addr, err)
	}
	for _, addr := range result.NotAttempted {
		fmt.Printf("Not attempted: %s\n", addr)
	}
}
