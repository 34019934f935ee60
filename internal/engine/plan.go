package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/terrapin-dev/terrapin/internal/ir"
	"github.com/terrapin-dev/terrapin/internal/logging"
	"github.com/terrapin-dev/terrapin/internal/provider"
	"github.com/terrapin-dev/terrapin/pkg/plugin"
)

// Engine orchestrates planning and applying resource changes.
type Engine struct {
	registry *provider.Registry

	// ContinueOnError lets apply run past individual resource failures
	// instead of stopping at the end of the failing wave.
	ContinueOnError bool

	// Checkpoint, when set, is invoked with the updated state after every
	// successful resource apply so partial progress is durable.
	Checkpoint func(ctx context.Context, state *ir.State) error

	// Parallelism bounds concurrent applies within one wave.
	Parallelism int
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{registry: registry}
}

// CreatePlan generates an execution plan by comparing desired configuration
// with the last-applied state. Creates and updates are ordered by the
// dependency graph; deletions of resources no longer declared are appended
// in reverse dependency order.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(state.Resources))

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{Timestamp: time.Now().UTC().Format(time.RFC3339)},
		Changes:  []*ir.ResourceChange{},
		Summary:  &ir.PlanSummary{},
		Outputs:  cfg.Outputs,
	}

	for _, res := range cfg.Resources {
		if err := e.registry.LoadProvider(res.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}

	resources := ExpandResources(cfg.Resources)

	graph, err := BuildGraph(resources)
	if err != nil {
		return nil, err
	}

	stateMap := make(map[string]*ir.ResourceState)
	for _, res := range state.Resources {
		stateMap[res.Addr()] = res
	}
	configByAddr := make(map[string]*ir.Resource)
	for _, res := range resources {
		configByAddr[resourceAddr(res)] = res
	}

	for _, addr := range graph.CreationOrder() {
		res := configByAddr[addr]

		prov, err := e.registry.Get(res.Provider)
		if err != nil {
			return nil, err
		}

		desiredJSON, err := json.Marshal(normalizeValue(res.Properties))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal properties for %s: %w", res.Name, err)
		}

		var priorInputsJSON, priorOutputsJSON []byte
		prior := stateMap[addr]
		if prior != nil {
			priorInputsJSON, _ = json.Marshal(prior.Inputs)
			priorOutputsJSON, _ = json.Marshal(prior.Outputs)
		}

		resp, err := prov.Plan(ctx, &plugin.PlanRequest{
			Type:             res.Type,
			Name:             res.Name,
			DesiredJSON:      desiredJSON,
			PriorInputsJSON:  priorInputsJSON,
			PriorOutputsJSON: priorOutputsJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("plan failed for %s: %w", addr, err)
		}

		action := resp.Action
		if action != plugin.ActionNoop {
			if err := enforceLifecycle(res, action, addr); err != nil {
				return nil, err
			}
			if res.Lifecycle != nil && len(res.Lifecycle.IgnoreChanges) > 0 && action == plugin.ActionUpdate {
				action = filterIgnoredChanges(res, resp)
			}
		}

		if action == plugin.ActionNoop {
			plan.Summary.NoOp++
			continue
		}

		change := &ir.ResourceChange{
			Address: addr,
			Action:  string(action),
			Desired: res,
		}
		if prior != nil {
			change.Prior = &ir.Resource{
				Type:       prior.Type,
				Name:       prior.Name,
				Provider:   prior.Provider,
				Properties: prior.Inputs,
			}
			change.Diff = buildPropertyDiff(prior.Inputs, res.Properties)
		} else {
			change.Diff = buildCreateDiff(res.Properties)
		}
		plan.Changes = append(plan.Changes, change)

		switch action {
		case plugin.ActionCreate:
			plan.Summary.Create++
		case plugin.ActionUpdate:
			plan.Summary.Update++
		case plugin.ActionReplace:
			plan.Summary.Replace++
		}
	}

	// Resources in state but no longer declared are deleted, dependents
	// before their dependencies.
	var orphans []*ir.ResourceState
	for _, res := range state.Resources {
		if _, ok := configByAddr[res.Addr()]; !ok {
			orphans = append(orphans, res)
		}
	}
	if len(orphans) > 0 {
		deletes, err := orderDeletes(orphans)
		if err != nil {
			return nil, err
		}
		plan.Changes = append(plan.Changes, deletes...)
		plan.Summary.Delete += len(deletes)
	}

	return plan, nil
}

// CreateDestroyPlan produces a plan that deletes every tracked resource in
// reverse dependency order.
func (e *Engine) CreateDestroyPlan(ctx context.Context, state *ir.State) (*ir.Plan, error) {
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{Timestamp: time.Now().UTC().Format(time.RFC3339)},
		Changes:  []*ir.ResourceChange{},
		Summary:  &ir.PlanSummary{},
	}

	for _, res := range state.Resources {
		if res.Provider != "" {
			if err := e.registry.LoadProvider(res.Provider); err != nil {
				return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
			}
		}
	}

	deletes, err := orderDeletes(state.Resources)
	if err != nil {
		return nil, err
	}
	plan.Changes = deletes
	plan.Summary.Delete = len(deletes)
	return plan, nil
}

// orderDeletes returns DELETE changes for the given state records in
// reverse dependency order.
func orderDeletes(resources []*ir.ResourceState) ([]*ir.ResourceChange, error) {
	graph, err := BuildGraphFromState(resources)
	if err != nil {
		return nil, err
	}
	byAddr := make(map[string]*ir.ResourceState, len(resources))
	for _, res := range resources {
		byAddr[res.Addr()] = res
	}

	var changes []*ir.ResourceChange
	for _, addr := range graph.DestructionOrder() {
		res := byAddr[addr]
		changes = append(changes, &ir.ResourceChange{
			Address: addr,
			Action:  string(plugin.ActionDelete),
			Prior: &ir.Resource{
				Type:       res.Type,
				Name:       res.Name,
				Provider:   res.Provider,
				Properties: res.Inputs,
			},
			Diff: buildDeleteDiff(res.Inputs),
		})
	}
	return changes, nil
}

// enforceLifecycle checks lifecycle rules and returns an error if violated.
func enforceLifecycle(res *ir.Resource, action plugin.Action, addr string) error {
	if res.Lifecycle == nil {
		return nil
	}
	if res.Lifecycle.PreventDestroy && (action == plugin.ActionDelete || action == plugin.ActionReplace) {
		return fmt.Errorf("resource %s has preventDestroy set but plan requires destruction", addr)
	}
	return nil
}

// filterIgnoredChanges downgrades an update to a no-op when every changed
// attribute is listed in ignoreChanges.
func filterIgnoredChanges(res *ir.Resource, resp *plugin.PlanResponse) plugin.Action {
	if len(resp.ChangedAttributes) == 0 {
		return resp.Action
	}
	ignoreSet := make(map[string]bool)
	for _, attr := range res.Lifecycle.IgnoreChanges {
		ignoreSet[attr] = true
	}
	for _, attr := range resp.ChangedAttributes {
		if !ignoreSet[attr] {
			return resp.Action
		}
	}
	return plugin.ActionNoop
}

// buildPropertyDiff compares prior and desired properties.
func buildPropertyDiff(prior, desired map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		switch {
		case !inPrior:
			diff[k] = &ir.PropertyDiff{After: desiredVal, Action: "create"}
		case !inDesired:
			diff[k] = &ir.PropertyDiff{Before: priorVal, Action: "delete"}
		case fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", desiredVal):
			diff[k] = &ir.PropertyDiff{Before: priorVal, After: desiredVal, Action: "update"}
		}
	}

	return diff
}

func buildCreateDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{After: v, Action: "create"}
	}
	return diff
}

func buildDeleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{Before: v, Action: "delete"}
	}
	return diff
}

// normalizeValue converts map[any]any trees (as produced by some decoders)
// into map[string]any for JSON marshalling.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		newMap := make(map[string]any, len(val))
		for k, v := range val {
			newMap[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return newMap
	case map[string]any:
		newMap := make(map[string]any, len(val))
		for k, v := range val {
			newMap[k] = normalizeValue(v)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(val))
		for i, v := range val {
			newSlice[i] = normalizeValue(v)
		}
		return newSlice
	default:
		return val
	}
}
