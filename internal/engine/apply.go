package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/terrapin-dev/terrapin/internal/ir"
	"github.com/terrapin-dev/terrapin/internal/logging"
	"github.com/terrapin-dev/terrapin/pkg/plugin"
)

const defaultParallelism = 10

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Action   string
	Status   string // "started", "completed", "failed", "skipped"
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// ApplyResult reports exactly what happened to every change in the plan.
type ApplyResult struct {
	Applied      []string
	Failed       map[string]error
	NotAttempted []string
}

func newApplyResult() *ApplyResult {
	return &ApplyResult{Failed: make(map[string]error)}
}

// ApplyPlan executes a plan and updates the state in place.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, state *ir.State) (*ApplyResult, error) {
	return e.ApplyPlanWithCallback(ctx, plan, state, nil)
}

// ApplyPlanWithCallback executes a plan wave by wave. Changes within one
// wave have no dependency on each other and run concurrently; the next wave
// does not start until the current one has fully settled. A failed change
// marks its transitive dependents not-attempted. Cancelling the context
// stops dispatch of further waves but lets in-flight calls finish.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, state *ir.State, callback ApplyCallback) (*ApplyResult, error) {
	result := newApplyResult()

	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	var mu sync.Mutex
	stateIndex := make(map[string]int)
	for i, res := range state.Resources {
		stateIndex[res.Addr()] = i
	}

	var createUpdates, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == string(plugin.ActionDelete) {
			deletes = append(deletes, change)
		} else {
			createUpdates = append(createUpdates, change)
		}
	}

	// Creates and updates run first, then deletes of undeclared resources.
	phases := []struct {
		changes []*ir.ResourceChange
		deps    map[string][]string
	}{
		{createUpdates, createDependencies(createUpdates)},
		{deletes, deleteDependencies(deletes, state)},
	}

	cancelled := false
	for _, phase := range phases {
		if len(phase.changes) == 0 {
			continue
		}
		waves := changeWaves(phase.changes, phase.deps)
		for _, wave := range waves {
			if cancelled || (!e.ContinueOnError && len(result.Failed) > 0) {
				for _, c := range wave {
					result.NotAttempted = append(result.NotAttempted, c.Address)
				}
				continue
			}
			if err := ctx.Err(); err != nil {
				cancelled = true
				for _, c := range wave {
					result.NotAttempted = append(result.NotAttempted, c.Address)
				}
				continue
			}
			e.runWave(ctx, wave, phase.deps, state, stateIndex, &mu, result, emit)
		}
	}

	state.Serial++
	mu.Lock()
	state.Outputs = mergeOutputs(plan.Outputs, state)
	mu.Unlock()

	sort.Strings(result.Applied)
	sort.Strings(result.NotAttempted)

	if cancelled {
		return result, fmt.Errorf("apply cancelled: %w", ctx.Err())
	}
	if len(result.Failed) > 0 {
		var errs []error
		for _, err := range result.Failed {
			errs = append(errs, err)
		}
		return result, fmt.Errorf("%d resource(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return result, nil
}

// runWave executes the members of one wave concurrently under the
// parallelism bound. In-flight provider calls are shielded from context
// cancellation so a remote mutation is never abandoned half way; the
// per-resource timeout still applies.
func (e *Engine) runWave(ctx context.Context, wave []*ir.ResourceChange, deps map[string][]string, state *ir.State, stateIndex map[string]int, mu *sync.Mutex, result *ApplyResult, emit func(ApplyEvent)) {
	parallelism := e.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	sem := make(chan struct{}, parallelism)

	var resultMu sync.Mutex
	var wg sync.WaitGroup
	for _, change := range wave {
		// A change whose dependency failed (or was itself skipped) is
		// not attempted. Dependencies live in strictly earlier waves, so
		// their outcome is already recorded.
		resultMu.Lock()
		blocked := false
		for _, dep := range deps[change.Address] {
			if _, failed := result.Failed[dep]; failed || contains(result.NotAttempted, dep) {
				blocked = true
				break
			}
		}
		if blocked {
			result.NotAttempted = append(result.NotAttempted, change.Address)
			resultMu.Unlock()
			emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "skipped"})
			continue
		}
		resultMu.Unlock()

		wg.Add(1)
		go func(c *ir.ResourceChange) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})

			err := e.applyChange(context.WithoutCancel(ctx), c, state, stateIndex, mu)

			resultMu.Lock()
			if err != nil {
				result.Failed[c.Address] = err
			} else {
				result.Applied = append(result.Applied, c.Address)
			}
			resultMu.Unlock()

			if err != nil {
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed", Duration: time.Since(start), Error: err})
			} else {
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "completed", Duration: time.Since(start)})
			}
		}(change)
	}
	wg.Wait()
}

func (e *Engine) applyChange(ctx context.Context, change *ir.ResourceChange, state *ir.State, stateIndex map[string]int, mu *sync.Mutex) error {
	addr := change.Address
	logging.Debug("applying change", "address", addr, "action", change.Action)

	var timeout time.Duration
	if change.Desired != nil && change.Desired.Timeout != "" {
		if d, err := time.ParseDuration(change.Desired.Timeout); err == nil {
			timeout = d
		}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var desiredJSON, priorJSON []byte
	var name, typ string

	if change.Desired != nil {
		name = change.Desired.Name
		typ = change.Desired.Type
		mu.Lock()
		resolved := resolveReferences(normalizeValue(change.Desired.Properties), state)
		mu.Unlock()
		desiredJSON, _ = json.Marshal(resolved)
	} else if change.Prior != nil {
		name = change.Prior.Name
		typ = change.Prior.Type
	}

	mu.Lock()
	if idx, ok := stateIndex[addr]; ok {
		if outputs := state.Resources[idx].Outputs; outputs != nil {
			priorJSON, _ = json.Marshal(outputs)
		}
	}
	mu.Unlock()

	provName := "null"
	if change.Desired != nil {
		provName = change.Desired.Provider
	} else if change.Prior != nil {
		provName = change.Prior.Provider
	}
	prov, err := e.registry.Get(provName)
	if err != nil {
		return fmt.Errorf("provider not found: %s", provName)
	}

	retryPolicy := DefaultRetryPolicy()

	switch change.Action {
	case string(plugin.ActionCreate), string(plugin.ActionUpdate), string(plugin.ActionReplace):
		// A replace destroys the old remote object. Unless the resource
		// opts into create-before-destroy, the delete happens first.
		replaceDeleteFirst := change.Action == string(plugin.ActionReplace) &&
			(change.Desired == nil || change.Desired.Lifecycle == nil || !change.Desired.Lifecycle.CreateBeforeDestroy)
		if replaceDeleteFirst {
			if err := e.deletePrior(ctx, prov, typ, addr, priorJSON, state, stateIndex, mu, retryPolicy); err != nil {
				return err
			}
		}

		var resp *plugin.ApplyResponse
		err := RetryWithBackoff(ctx, retryPolicy, func() error {
			var applyErr error
			resp, applyErr = prov.Apply(ctx, &plugin.ApplyRequest{
				Type:        typ,
				Name:        name,
				DesiredJSON: desiredJSON,
				PriorJSON:   priorJSON,
			})
			return applyErr
		}, IsTransientError)
		if err != nil {
			return fmt.Errorf("apply failed for %s: %w", addr, err)
		}

		var outputs map[string]any
		if len(resp.StateJSON) > 0 {
			if err := json.Unmarshal(resp.StateJSON, &outputs); err != nil {
				return fmt.Errorf("failed to unmarshal new state for %s: %w", addr, err)
			}
		}

		newRes := &ir.ResourceState{
			Type:         typ,
			Name:         name,
			Provider:     provName,
			Inputs:       change.Desired.Properties,
			Outputs:      outputs,
			Dependencies: dependencyAddrs(change.Desired),
		}

		mu.Lock()
		if idx, ok := stateIndex[addr]; ok {
			state.Resources[idx] = newRes
		} else {
			stateIndex[addr] = len(state.Resources)
			state.Resources = append(state.Resources, newRes)
		}
		mu.Unlock()

		// Create-before-destroy: the replacement exists, remove the old
		// remote object it superseded.
		if change.Action == string(plugin.ActionReplace) && !replaceDeleteFirst && len(priorJSON) > 0 {
			if err := e.deleteRemote(ctx, prov, typ, addr, priorJSON, retryPolicy); err != nil {
				return err
			}
		}

	case string(plugin.ActionDelete):
		var resourceID string
		mu.Lock()
		if idx, ok := stateIndex[addr]; ok {
			if id, exists := state.Resources[idx].Outputs["id"]; exists {
				resourceID = fmt.Sprintf("%v", id)
			}
		}
		mu.Unlock()

		err := RetryWithBackoff(ctx, retryPolicy, func() error {
			_, deleteErr := prov.Delete(ctx, &plugin.DeleteRequest{
				Type:        typ,
				ID:          resourceID,
				CurrentJSON: priorJSON,
			})
			return deleteErr
		}, IsTransientError)
		if err != nil {
			return fmt.Errorf("delete failed for %s: %w", addr, err)
		}

		mu.Lock()
		if idx, ok := stateIndex[addr]; ok {
			state.Resources = append(state.Resources[:idx], state.Resources[idx+1:]...)
			for k := range stateIndex {
				delete(stateIndex, k)
			}
			for i, res := range state.Resources {
				stateIndex[res.Addr()] = i
			}
		}
		mu.Unlock()
	}

	// Checkpoint immediately so a crash mid-apply leaves the recorded state
	// consistent with what actually exists remotely.
	if e.Checkpoint != nil {
		mu.Lock()
		err := e.Checkpoint(ctx, state)
		mu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to checkpoint state after %s: %w", addr, err)
		}
	}

	return nil
}

// deleteRemote asks the provider to remove the remote object recorded in
// priorJSON.
func (e *Engine) deleteRemote(ctx context.Context, prov plugin.Provider, typ, addr string, priorJSON []byte, policy *RetryPolicy) error {
	var outputs map[string]any
	_ = json.Unmarshal(priorJSON, &outputs)
	var resourceID string
	if id, ok := outputs["id"]; ok {
		resourceID = fmt.Sprintf("%v", id)
	}

	err := RetryWithBackoff(ctx, policy, func() error {
		_, deleteErr := prov.Delete(ctx, &plugin.DeleteRequest{
			Type:        typ,
			ID:          resourceID,
			CurrentJSON: priorJSON,
		})
		return deleteErr
	}, IsTransientError)
	if err != nil {
		return fmt.Errorf("replace failed for %s: could not delete prior object: %w", addr, err)
	}
	return nil
}

// deletePrior removes the old remote object ahead of a replace and clears
// its recorded outputs, so a crash before the replacement is created does
// not leave state pointing at a deleted object.
func (e *Engine) deletePrior(ctx context.Context, prov plugin.Provider, typ, addr string, priorJSON []byte, state *ir.State, stateIndex map[string]int, mu *sync.Mutex, policy *RetryPolicy) error {
	if len(priorJSON) == 0 {
		return nil
	}
	if err := e.deleteRemote(ctx, prov, typ, addr, priorJSON, policy); err != nil {
		return err
	}

	mu.Lock()
	if idx, ok := stateIndex[addr]; ok {
		state.Resources[idx].Outputs = nil
	}
	mu.Unlock()

	if e.Checkpoint != nil {
		mu.Lock()
		err := e.Checkpoint(ctx, state)
		mu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to checkpoint state after deleting prior %s: %w", addr, err)
		}
	}
	return nil
}

// mergeOutputs resolves declared outputs against applied state. An output
// whose references did not resolve (the resource it names failed, was never
// attempted, or was deleted) keeps its previously recorded value rather than
// persisting a raw reference as if it were a value; an output with no prior
// value is omitted. Callers must hold the state mutex.
func mergeOutputs(declared map[string]any, state *ir.State) map[string]any {
	if declared == nil {
		return nil
	}
	outputs := make(map[string]any, len(declared))
	for name, val := range declared {
		resolved := resolveReferences(val, state)
		if len(extractRefs(resolved)) > 0 {
			if prior, ok := state.Outputs[name]; ok {
				outputs[name] = prior
			}
			continue
		}
		outputs[name] = resolved
	}
	return outputs
}

// createDependencies maps each create/update change to the other changes in
// the set it depends on.
func createDependencies(changes []*ir.ResourceChange) map[string][]string {
	inSet := make(map[string]bool, len(changes))
	for _, c := range changes {
		inSet[c.Address] = true
	}

	deps := make(map[string][]string, len(changes))
	for _, c := range changes {
		if c.Desired == nil {
			continue
		}
		seen := make(map[string]bool)
		for _, d := range dependencyAddrs(c.Desired) {
			if inSet[d] && !seen[d] {
				deps[c.Address] = append(deps[c.Address], d)
				seen[d] = true
			}
		}
	}
	return deps
}

// deleteDependencies inverts the recorded state dependencies: a resource's
// delete waits for the deletes of everything that depends on it.
func deleteDependencies(changes []*ir.ResourceChange, state *ir.State) map[string][]string {
	inSet := make(map[string]bool, len(changes))
	for _, c := range changes {
		inSet[c.Address] = true
	}

	deps := make(map[string][]string, len(changes))
	for _, res := range state.Resources {
		if !inSet[res.Addr()] {
			continue
		}
		for _, dep := range res.Dependencies {
			if inSet[dep] {
				deps[dep] = append(deps[dep], res.Addr())
			}
		}
	}
	return deps
}

// changeWaves levels changes by their dependency depth within the set.
// Wave i members depend only on members of waves < i.
func changeWaves(changes []*ir.ResourceChange, deps map[string][]string) [][]*ir.ResourceChange {
	byAddr := make(map[string]*ir.ResourceChange, len(changes))
	for _, c := range changes {
		byAddr[c.Address] = c
	}

	level := make(map[string]int, len(changes))
	var assign func(addr string) int
	assign = func(addr string) int {
		if l, ok := level[addr]; ok {
			return l
		}
		level[addr] = 0 // break accidental cycles; graph build already rejected real ones
		l := 0
		for _, dep := range deps[addr] {
			if _, ok := byAddr[dep]; !ok {
				continue
			}
			if dl := assign(dep) + 1; dl > l {
				l = dl
			}
		}
		level[addr] = l
		return l
	}

	maxLevel := 0
	for _, c := range changes {
		if l := assign(c.Address); l > maxLevel {
			maxLevel = l
		}
	}

	waves := make([][]*ir.ResourceChange, maxLevel+1)
	for _, c := range changes {
		waves[level[c.Address]] = append(waves[level[c.Address]], c)
	}
	return waves
}

// dependencyAddrs lists the addresses a resource depends on, from both
// explicit dependsOn and implicit ref:// references.
func dependencyAddrs(res *ir.Resource) []string {
	addrs := append([]string{}, res.DependsOn...)
	for _, ref := range extractRefs(res.Properties) {
		if addr := refToAddr(ref); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// resolveReferences substitutes ref:// values with applied output values
// from state. Unresolvable references are left as-is.
func resolveReferences(val any, state *ir.State) any {
	switch v := val.(type) {
	case string:
		if strings.HasPrefix(v, RefScheme) {
			for _, res := range state.Resources {
				matchPrefix := fmt.Sprintf("%s%s/%s/", RefScheme, res.Type, res.Name)
				if strings.HasPrefix(v, matchPrefix) {
					attr := v[len(matchPrefix):]
					if out, ok := res.Outputs[attr]; ok {
						return out
					}
					if in, ok := res.Inputs[attr]; ok {
						return in
					}
					return v
				}
			}
		}
		return v
	case map[string]any:
		newMap := make(map[string]any, len(v))
		for k, item := range v {
			newMap[k] = resolveReferences(item, state)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(v))
		for i, item := range v {
			newSlice[i] = resolveReferences(item, state)
		}
		return newSlice
	default:
		return v
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
