package docker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrapin-dev/terrapin/pkg/plugin"
)

func TestPlan_CreateWhenNoPrior(t *testing.T) {
	p := New()
	resp, err := p.Plan(context.Background(), &plugin.PlanRequest{
		Type:        "docker:Image",
		Name:        "app",
		DesiredJSON: []byte(`{"name":"webapp:latest","buildContext":"./app"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, plugin.ActionCreate, resp.Action)
}

func TestPlan_NoopWhenUnchanged(t *testing.T) {
	p := New()
	config := []byte(`{"name":"webapp:latest","buildContext":"./app","dockerfile":"Dockerfile"}`)
	resp, err := p.Plan(context.Background(), &plugin.PlanRequest{
		Type:            "docker:Image",
		Name:            "app",
		DesiredJSON:     config,
		PriorInputsJSON: config,
	})
	require.NoError(t, err)
	assert.Equal(t, plugin.ActionNoop, resp.Action)
}

func TestPlan_ReplaceOnChange(t *testing.T) {
	p := New()
	resp, err := p.Plan(context.Background(), &plugin.PlanRequest{
		Type:            "docker:Image",
		Name:            "app",
		DesiredJSON:     []byte(`{"name":"webapp:v2","buildContext":"./app"}`),
		PriorInputsJSON: []byte(`{"name":"webapp:v1","buildContext":"./app"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, plugin.ActionReplace, resp.Action)
	assert.Contains(t, resp.ChangedAttributes, "name")
}
