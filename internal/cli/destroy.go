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
	destroyAutoApprove bool
	destroyParallelism int
)

var destroyCmd = &cobra.Command{
	Use:   "destroy [path]",
	Short: "Destroy all managed infrastructure",
	Long:  `Deletes every resource tracked in the state, in reverse dependency order.`,
	RunE:  runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
	destroyCmd.Flags().IntVar(&destroyParallelism, "parallelism", 0, "Bound concurrent resource operations (0 = default)")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveTarget(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	stateMgr := state.NewManager(statePath(wd), evaluator)
	registry := provider.NewRegistry()

	eng := engine.NewEngine(registry)
	eng.Parallelism = destroyParallelism
	eng.Checkpoint = func(ctx context.Context, s *ir.State) error {
		return stateMgr.Write(ctx, s)
	}

	if err := stateMgr.Lock("destroy"); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if len(currentState.Resources) == 0 {
		fmt.Println("Nothing to destroy. State is empty.")
		return nil
	}
	if err := loadStateProviders(registry, currentState); err != nil {
		return err
	}

	plan, err := eng.CreateDestroyPlan(ctx, currentState)
	if err != nil {
		return fmt.Errorf("destroy plan generation failed: %w", err)
	}

	// Lifecycle rules live in the configuration, not the state, so the
	// preventDestroy check needs the config when one is present.
	if cfg, cfgErr := evaluator.LoadConfig(ctx, entryPoint, nil); cfgErr == nil {
		if err := checkPreventDestroy(cfg, plan); err != nil {
			return err
		}
	}

	fmt.Println("Terrapin will destroy the following resources:")
	renderPlanChanges(plan)
	fmt.Printf("\nPlan: %d to destroy.\n", plan.Summary.Delete)

	if !destroyAutoApprove && !confirm("Do you really want to destroy all resources?") {
		fmt.Println("Destroy cancelled.")
		return nil
	}

	fmt.Printf("\nDestroying %d resources...\n", plan.Summary.Delete)

	result, applyErr := eng.ApplyPlanWithCallback(ctx, plan, currentState, func(event engine.ApplyEvent) {
		switch event.Status {
		case "completed":
			fmt.Printf("  %s: destroyed (%s)\n", event.Address, event.Duration.Round(10*time.Millisecond))
		case "failed":
			fmt.Printf("  %s: destroy FAILED: %v\n", event.Address, event.Error)
		case "skipped":
			fmt.Printf("  %s: skipped (dependent destroy failed)\n", event.Address)
		}
	})

	if err := stateMgr.Write(ctx, currentState); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	if applyErr != nil {
		renderApplyResult(result)
		return fmt.Errorf("destroy failed: %w", applyErr)
	}

	fmt.Printf("\nDestroy complete! Resources: %d destroyed.\n", len(result.Applied))
	return nil
}

// checkPreventDestroy rejects the plan if any resource slated for deletion
// has preventDestroy set in the configuration.
func checkPreventDestroy(cfg *ir.Config, plan *ir.Plan) error {
	protected := make(map[string]bool)
	for _, res := range engine.ExpandResources(cfg.Resources) {
		if res.Lifecycle != nil && res.Lifecycle.PreventDestroy {
			protected[engine.ResourceAddr(res)] = true
		}
	}
	for _, change := range plan.Changes {
		if protected[change.Address] {
			return fmt.Errorf("resource %s has preventDestroy set but plan requires destruction", change.Address)
		}
	}
	return nil
}
