package null

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrapin-dev/terrapin/pkg/plugin"
)

func TestPlan_Create(t *testing.T) {
	p := New()
	resp, err := p.Plan(context.Background(), &plugin.PlanRequest{
		Type:        "null_resource",
		Name:        "a",
		DesiredJSON: []byte(`{"triggers":{"rev":"1"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, plugin.ActionCreate, resp.Action)
}

func TestPlan_NoopWhenTriggersUnchanged(t *testing.T) {
	p := New()
	resp, err := p.Plan(context.Background(), &plugin.PlanRequest{
		Type:            "null_resource",
		Name:            "a",
		DesiredJSON:     []byte(`{"triggers":{"rev":"1"}}`),
		PriorInputsJSON: []byte(`{"triggers":{"rev":"1"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, plugin.ActionNoop, resp.Action)
}

func TestPlan_ReplaceWhenTriggersChange(t *testing.T) {
	p := New()
	resp, err := p.Plan(context.Background(), &plugin.PlanRequest{
		Type:            "null_resource",
		Name:            "a",
		DesiredJSON:     []byte(`{"triggers":{"rev":"2"}}`),
		PriorInputsJSON: []byte(`{"triggers":{"rev":"1"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, plugin.ActionReplace, resp.Action)
	assert.Contains(t, resp.ChangedAttributes, "triggers")
}

func TestApply_RecordsTriggers(t *testing.T) {
	p := New()
	resp, err := p.Apply(context.Background(), &plugin.ApplyRequest{
		Type:        "null_resource",
		Name:        "a",
		DesiredJSON: []byte(`{"triggers":{"rev":"1"}}`),
	})
	require.NoError(t, err)

	var st State
	require.NoError(t, json.Unmarshal(resp.StateJSON, &st))
	assert.Equal(t, "null-a", st.ID)
	assert.Equal(t, map[string]string{"rev": "1"}, st.Triggers)
}

func TestDelete(t *testing.T) {
	p := New()
	_, err := p.Delete(context.Background(), &plugin.DeleteRequest{Type: "null_resource", ID: "null-a"})
	assert.NoError(t, err)
}
