package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrapin-dev/terrapin/internal/eval"
	"github.com/terrapin-dev/terrapin/internal/ir"
	"github.com/terrapin-dev/terrapin/internal/provider"
	"github.com/terrapin-dev/terrapin/internal/state"
	"github.com/terrapin-dev/terrapin/pkg/plugin"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [path]",
	Short: "Reconcile the state with real infrastructure",
	Long: `Reads the actual remote configuration of every tracked resource and updates
the state to match. Resources that no longer exist remotely are dropped from
the state so the next plan recreates them.`,
	RunE: runRefresh,
}

func runRefresh(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveTarget(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	stateMgr := state.NewManager(statePath(wd), evaluator)
	registry := provider.NewRegistry()

	if err := stateMgr.Lock("refresh"); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if len(currentState.Resources) == 0 {
		fmt.Println("State is empty. Nothing to refresh.")
		return nil
	}
	if err := loadStateProviders(registry, currentState); err != nil {
		return err
	}

	var kept []*ir.ResourceState
	drifted := 0
	for _, res := range currentState.Resources {
		prov, err := registry.Get(res.Provider)
		if err != nil {
			return err
		}

		id, _ := res.Outputs["id"].(string)
		currentJSON, _ := json.Marshal(res.Outputs)

		resp, err := prov.Read(ctx, &plugin.ReadRequest{
			Type:        res.Type,
			ID:          id,
			CurrentJSON: currentJSON,
		})
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", res.Addr(), err)
		}

		if !resp.Exists {
			fmt.Printf("  %s: gone remotely, removed from state\n", res.Addr())
			drifted++
			continue
		}

		var remote map[string]any
		if len(resp.StateJSON) > 0 {
			if err := json.Unmarshal(resp.StateJSON, &remote); err != nil {
				return fmt.Errorf("failed to decode remote state for %s: %w", res.Addr(), err)
			}
		}
		if remote != nil && !equalJSON(remote, res.Outputs) {
			fmt.Printf("  %s: drift detected, state updated\n", res.Addr())
			res.Outputs = remote
			drifted++
		} else {
			fmt.Printf("  %s: in sync\n", res.Addr())
		}
		kept = append(kept, res)
	}
	currentState.Resources = kept

	if err := stateMgr.Write(ctx, currentState); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	if drifted == 0 {
		fmt.Println("\nRefresh complete. No drift detected.")
	} else {
		fmt.Printf("\nRefresh complete. %d resource(s) updated.\n", drifted)
	}
	return nil
}

// equalJSON compares two values through a JSON round trip, normalizing
// number types so a freshly decoded map compares equal to a stored one.
func equalJSON(a, b any) bool {
	aj, err1 := json.Marshal(a)
	bj, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(aj) == string(bj)
}
