package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/terrapin-dev/terrapin/internal/ir"
)

// RefScheme prefixes a cross-resource reference inside an attribute value,
// e.g. "ref://aws:EC2.Vpc/main/id".
const RefScheme = "ref://"

// Graph is the directed acyclic dependency graph over declared resources.
type Graph struct {
	nodes    map[string]*graphNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type graphNode struct {
	addr     string
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildGraph constructs a dependency graph from declared resources. It
// resolves both explicit dependsOn entries and implicit ref:// references.
// A reference to an undeclared resource is an UnknownReferenceError; a
// dependency cycle is a CycleError. Both are detected before any remote
// call is made.
func BuildGraph(resources []*ir.Resource) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*graphNode)}

	for _, res := range resources {
		addr := resourceAddr(res)
		g.nodes[addr] = &graphNode{addr: addr}
	}

	for _, res := range resources {
		addr := resourceAddr(res)
		node := g.nodes[addr]

		for _, dep := range res.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &UnknownReferenceError{Referrer: addr, Reference: dep}
			}
			node.edges = append(node.edges, dep)
		}

		for _, ref := range extractRefs(res.Properties) {
			depAddr := refToAddr(ref)
			if depAddr == "" {
				return nil, &UnknownReferenceError{Referrer: addr, Reference: ref}
			}
			if _, ok := g.nodes[depAddr]; !ok {
				return nil, &UnknownReferenceError{Referrer: addr, Reference: ref}
			}
			node.edges = append(node.edges, depAddr)
		}
	}

	return g, g.finish()
}

// BuildGraphFromState constructs a dependency graph from state records,
// using the dependencies captured at apply time. Used for destroy, where
// no configuration is available.
func BuildGraphFromState(resources []*ir.ResourceState) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*graphNode)}

	for _, res := range resources {
		g.nodes[res.Addr()] = &graphNode{addr: res.Addr()}
	}
	for _, res := range resources {
		node := g.nodes[res.Addr()]
		for _, dep := range res.Dependencies {
			if _, ok := g.nodes[dep]; ok {
				node.edges = append(node.edges, dep)
			}
		}
	}

	return g, g.finish()
}

// finish builds reverse edges and the two topological orders.
func (g *Graph) finish() error {
	for addr, node := range g.nodes {
		for _, dep := range node.edges {
			g.nodes[dep].revEdges = append(g.nodes[dep].revEdges, addr)
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return err
	}
	g.order = order

	g.revOrder = make([]string, len(order))
	for i, addr := range order {
		g.revOrder[len(order)-1-i] = addr
	}
	return nil
}

// CreationOrder returns resources in dependency-respecting creation order.
func (g *Graph) CreationOrder() []string {
	return g.order
}

// DestructionOrder returns resources in reverse dependency order (safe for
// deletion: dependents before their dependencies).
func (g *Graph) DestructionOrder() []string {
	return g.revOrder
}

// Dependencies returns the direct dependencies of a given address.
func (g *Graph) Dependencies(addr string) []string {
	if node, ok := g.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// Waves partitions the creation order into dependency levels: every
// resource in wave i depends only on resources in waves < i, so the
// members of one wave are safe to execute concurrently.
func (g *Graph) Waves() [][]string {
	level := make(map[string]int, len(g.nodes))
	maxLevel := 0
	for _, addr := range g.order {
		l := 0
		for _, dep := range g.nodes[addr].edges {
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[addr] = l
		if l > maxLevel {
			maxLevel = l
		}
	}

	waves := make([][]string, maxLevel+1)
	for _, addr := range g.order {
		waves[level[addr]] = append(waves[level[addr]], addr)
	}
	return waves
}

// topoSort performs Kahn's algorithm. On a cycle it returns a CycleError
// naming the unsortable remainder.
func (g *Graph) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for addr, node := range g.nodes {
		inDegree[addr] = len(node.edges)
	}

	var queue []string
	for addr, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, addr)
		}
	}
	sort.Strings(queue) // deterministic order among roots

	var sorted []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		var released []string
		for _, dependent := range g.nodes[node].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		sort.Strings(released)
		queue = append(queue, released...)
	}

	if len(sorted) != len(g.nodes) {
		var members []string
		for addr, deg := range inDegree {
			if deg > 0 {
				members = append(members, addr)
			}
		}
		sort.Strings(members)
		return nil, &CycleError{Members: members}
	}

	return sorted, nil
}

// ResourceAddr returns the address of a resource (type.name).
func ResourceAddr(res *ir.Resource) string {
	return resourceAddr(res)
}

func resourceAddr(res *ir.Resource) string {
	t := res.Type
	if t == "" {
		t = "null_resource"
	}
	return fmt.Sprintf("%s.%s", t, res.Name)
}

// extractRefs extracts all ref:// references from a property value.
func extractRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, RefScheme) {
			refs = append(refs, val)
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, extractRefs(v)...)
		}
	case map[any]any:
		for _, v := range val {
			refs = append(refs, extractRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, extractRefs(v)...)
		}
	}
	return refs
}

// refToAddr converts a ref:// reference to a resource address.
// ref://aws:EC2.Vpc/main/id -> aws:EC2.Vpc.main
func refToAddr(ref string) string {
	if !strings.HasPrefix(ref, RefScheme) {
		return ""
	}
	path := ref[len(RefScheme):]
	// Format: provider:Type/name/attribute
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 {
		return ""
	}
	return fmt.Sprintf("%s.%s", parts[0], parts[1])
}
