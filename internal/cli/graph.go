package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terrapin-dev/terrapin/internal/engine"
	"github.com/terrapin-dev/terrapin/internal/eval"
)

var graphCmd = &cobra.Command{
	Use:   "graph [path]",
	Short: "Render the dependency graph in DOT format",
	Long:  `Prints the resource dependency graph in Graphviz DOT format. Pipe the output to dot to render an image: terrapin graph | dot -Tpng -o graph.png`,
	RunE:  runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveTarget(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	resources := engine.ExpandResources(cfg.Resources)
	g, err := engine.BuildGraph(resources)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("digraph terrapin {\n")
	b.WriteString("  rankdir = \"TB\";\n")

	addrs := make([]string, 0, len(resources))
	for _, res := range resources {
		addrs = append(addrs, engine.ResourceAddr(res))
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		fmt.Fprintf(&b, "  %q;\n", addr)
	}
	for _, addr := range addrs {
		deps := append([]string(nil), g.Dependencies(addr)...)
		sort.Strings(deps)
		for _, dep := range deps {
			fmt.Fprintf(&b, "  %q -> %q;\n", addr, dep)
		}
	}
	b.WriteString("}\n")

	fmt.Print(b.String())
	return nil
}
