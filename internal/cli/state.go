package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/terrapin-dev/terrapin/internal/eval"
	"github.com/terrapin-dev/terrapin/internal/ir"
	"github.com/terrapin-dev/terrapin/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and modify the state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resource addresses tracked in the state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show a single resource from the state",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Remove a resource from the state without destroying it",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd, stateShowCmd, stateRmCmd)
}

func openStateManager() (*state.Manager, error) {
	wd, _, err := resolveTarget(nil)
	if err != nil {
		return nil, err
	}
	return state.NewManager(statePath(wd), eval.NewEvaluator(wd)), nil
}

func runStateList(cmd *cobra.Command, args []string) error {
	stateMgr, err := openStateManager()
	if err != nil {
		return err
	}
	currentState, err := stateMgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	addrs := make([]string, 0, len(currentState.Resources))
	for _, res := range currentState.Resources {
		addrs = append(addrs, res.Addr())
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		fmt.Println(addr)
	}
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	stateMgr, err := openStateManager()
	if err != nil {
		return err
	}
	currentState, err := stateMgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	res := findStateResource(currentState, args[0])
	if res == nil {
		return fmt.Errorf("resource %q not found in state", args[0])
	}

	fmt.Printf("# %s\n", res.Addr())
	fmt.Printf("provider = %s\n", res.Provider)
	printSortedKV("inputs", res.Inputs)
	printSortedKV("outputs", res.Outputs)
	if len(res.Dependencies) > 0 {
		fmt.Println("dependencies:")
		for _, dep := range res.Dependencies {
			fmt.Printf("    %s\n", dep)
		}
	}
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	stateMgr, err := openStateManager()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if err := stateMgr.Lock("state rm"); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	var kept []*ir.ResourceState
	removed := false
	for _, res := range currentState.Resources {
		if res.Addr() == args[0] {
			removed = true
			continue
		}
		kept = append(kept, res)
	}
	if !removed {
		return fmt.Errorf("resource %q not found in state", args[0])
	}
	currentState.Resources = kept

	if err := stateMgr.Write(ctx, currentState); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	fmt.Printf("Removed %s from state. The remote object still exists.\n", args[0])
	return nil
}

func findStateResource(s *ir.State, addr string) *ir.ResourceState {
	for _, res := range s.Resources {
		if res.Addr() == addr {
			return res
		}
	}
	return nil
}

func printSortedKV(label string, m map[string]any) {
	if len(m) == 0 {
		return
	}
	fmt.Printf("%s:\n", label)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("    %s = %v\n", k, formatValue(m[k]))
	}
}
