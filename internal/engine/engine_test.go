package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrapin-dev/terrapin/internal/ir"
	"github.com/terrapin-dev/terrapin/internal/provider"
)

func TestEngine_CreatePlan(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	// 1. Plan creation (new resource)
	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{
				Type:     "null_resource",
				Name:     "test1",
				Provider: "null",
				Properties: map[string]any{
					"triggers": map[string]any{"a": "b"},
				},
			},
		},
	}

	state := &ir.State{}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "CREATE", plan.Changes[0].Action)
	assert.Equal(t, "null_resource.test1", plan.Changes[0].Address)
	assert.Equal(t, 1, plan.Summary.Create)

	// Diff is populated for CREATE
	assert.Contains(t, plan.Changes[0].Diff, "triggers")

	// 2. Same inputs already applied -> no-op, excluded from changes
	state = &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type:     "null_resource",
				Name:     "test1",
				Provider: "null",
				Inputs: map[string]any{
					"triggers": map[string]any{"a": "b"},
				},
				Outputs: map[string]any{"id": "null-test1"},
			},
		},
	}

	plan, err = eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	assert.Len(t, plan.Changes, 0)
	assert.Equal(t, 1, plan.Summary.NoOp)

	// 3. Changed trigger -> REPLACE
	cfg.Resources[0].Properties["triggers"] = map[string]any{"a": "c"}

	plan, err = eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "REPLACE", plan.Changes[0].Action)
	assert.Equal(t, 1, plan.Summary.Replace)
}

func TestEngine_CreatePlan_Delete(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	// Empty config, resource in state -> DELETE
	cfg := &ir.Config{Resources: []*ir.Resource{}}

	state := &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type:     "null_resource",
				Name:     "old_resource",
				Provider: "null",
				Outputs:  map[string]any{"id": "null-old"},
			},
		},
	}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "DELETE", plan.Changes[0].Action)
	assert.Equal(t, "null_resource.old_resource", plan.Changes[0].Address)
	assert.Equal(t, 1, plan.Summary.Delete)
}

func TestEngine_CreatePlan_DeleteOrder(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	cfg := &ir.Config{Resources: []*ir.Resource{}}

	// subnet recorded as depending on vpc: subnet deletes first
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{Type: "aws:EC2.Vpc", Name: "main", Provider: "null", Outputs: map[string]any{"id": "vpc-1"}},
			{
				Type: "aws:EC2.Subnet", Name: "a", Provider: "null",
				Outputs:      map[string]any{"id": "subnet-1"},
				Dependencies: []string{"aws:EC2.Vpc.main"},
			},
		},
	}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "aws:EC2.Subnet.a", plan.Changes[0].Address)
	assert.Equal(t, "aws:EC2.Vpc.main", plan.Changes[1].Address)
}

func TestEngine_CreatePlan_PreventDestroy(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{
				Type:     "null_resource",
				Name:     "protected",
				Provider: "null",
				Lifecycle: &ir.Lifecycle{
					PreventDestroy: true,
				},
				Properties: map[string]any{
					"triggers": map[string]any{"a": "new_value"},
				},
			},
		},
	}

	state := &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type:     "null_resource",
				Name:     "protected",
				Provider: "null",
				Inputs: map[string]any{
					"triggers": map[string]any{"a": "old_value"},
				},
				Outputs: map[string]any{"id": "null-protected"},
			},
		},
	}

	// REPLACE of a protected resource fails the plan
	_, err := eng.CreatePlan(ctx, cfg, state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preventDestroy")
}

func TestEngine_CreatePlan_IgnoreChanges(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register("fake", &fakeProvider{planAction: "UPDATE", changed: []string{"tags"}})

	eng := NewEngine(reg)
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{
				Type:     "fake:Thing",
				Name:     "t",
				Provider: "fake",
				Lifecycle: &ir.Lifecycle{
					IgnoreChanges: []string{"tags"},
				},
				Properties: map[string]any{"tags": map[string]any{"env": "prod"}},
			},
		},
	}
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type: "fake:Thing", Name: "t", Provider: "fake",
				Inputs:  map[string]any{"tags": map[string]any{"env": "dev"}},
				Outputs: map[string]any{"id": "thing-1"},
			},
		},
	}

	// Every changed attribute is ignored, so the update collapses to a no-op.
	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	assert.Len(t, plan.Changes, 0)
	assert.Equal(t, 1, plan.Summary.NoOp)
}

func TestEngine_CreateDestroyPlan(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	state := &ir.State{
		Resources: []*ir.ResourceState{
			{Type: "null_resource", Name: "base", Provider: "null", Outputs: map[string]any{"id": "null-base"}},
			{
				Type: "null_resource", Name: "top", Provider: "null",
				Outputs:      map[string]any{"id": "null-top"},
				Dependencies: []string{"null_resource.base"},
			},
		},
	}

	plan, err := eng.CreateDestroyPlan(ctx, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, 2, plan.Summary.Delete)
	assert.Equal(t, "null_resource.top", plan.Changes[0].Address)
	assert.Equal(t, "null_resource.base", plan.Changes[1].Address)
	for _, c := range plan.Changes {
		assert.Equal(t, "DELETE", c.Action)
	}
}
