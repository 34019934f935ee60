// Package null implements a resource provider with no remote side effects.
// Its resources exist only in state and are replaced when their triggers
// change, which makes it useful for wiring arbitrary ordering into a graph
// and for exercising the engine in tests.
package null

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/terrapin-dev/terrapin/pkg/plugin"
)

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

// Config is the user-facing shape of a null resource.
type Config struct {
	Triggers map[string]string `json:"triggers"`
}

// State is what the provider records after an apply.
type State struct {
	ID       string            `json:"id"`
	Triggers map[string]string `json:"triggers"`
}

func (p *Provider) Plan(ctx context.Context, req *plugin.PlanRequest) (*plugin.PlanResponse, error) {
	var desired Config
	if len(req.DesiredJSON) > 0 {
		if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
			return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
		}
	}

	if req.PriorInputsJSON == nil {
		return &plugin.PlanResponse{Action: plugin.ActionCreate}, nil
	}

	var prior Config
	if err := json.Unmarshal(req.PriorInputsJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	if !equal(desired.Triggers, prior.Triggers) {
		return &plugin.PlanResponse{
			Action:            plugin.ActionReplace,
			ChangedAttributes: []string{"triggers"},
		}, nil
	}

	return &plugin.PlanResponse{Action: plugin.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired Config
	if len(req.DesiredJSON) > 0 {
		if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	state := State{
		ID:       fmt.Sprintf("null-%s", req.Name),
		Triggers: desired.Triggers,
	}
	stateBytes, _ := json.Marshal(state)

	return &plugin.ApplyResponse{StateJSON: stateBytes}, nil
}

func (p *Provider) Read(ctx context.Context, req *plugin.ReadRequest) (*plugin.ReadResponse, error) {
	// Null resources have no remote side, so the recorded state is
	// authoritative.
	return &plugin.ReadResponse{
		Exists:    true,
		StateJSON: req.CurrentJSON,
	}, nil
}

func (p *Provider) Delete(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	return &plugin.DeleteResponse{}, nil
}

func equal(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
