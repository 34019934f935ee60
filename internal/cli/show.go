package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/terrapin-dev/terrapin/internal/eval"
	"github.com/terrapin-dev/terrapin/internal/state"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current state",
	RunE:  runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the state as JSON")
}

func runShow(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveTarget(nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	stateMgr := state.NewManager(statePath(wd), evaluator)

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if showJSON {
		data, err := json.MarshalIndent(currentState, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(currentState.Resources) == 0 {
		fmt.Println("The state contains no resources.")
		return nil
	}

	fmt.Printf("State version %d, serial %d\n\n", currentState.Version, currentState.Serial)
	for _, res := range currentState.Resources {
		fmt.Printf("# %s\n", res.Addr())
		keys := make([]string, 0, len(res.Outputs))
		for k := range res.Outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("    %s = %v\n", k, formatValue(res.Outputs[k]))
		}
		fmt.Println()
	}
	return nil
}
