package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrapin-dev/terrapin/internal/ir"
	"github.com/terrapin-dev/terrapin/internal/provider"
	"github.com/terrapin-dev/terrapin/pkg/plugin"
)

// fakeProvider records provider calls in order and fails on demand.
type fakeProvider struct {
	mu         sync.Mutex
	planAction string
	changed    []string
	applyErr   map[string]error // keyed by resource name
	calls      []string
}

func (f *fakeProvider) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeProvider) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeProvider) Plan(ctx context.Context, req *plugin.PlanRequest) (*plugin.PlanResponse, error) {
	action := plugin.Action(f.planAction)
	if action == "" {
		if req.PriorInputsJSON == nil {
			action = plugin.ActionCreate
		} else {
			action = plugin.ActionNoop
		}
	}
	return &plugin.PlanResponse{Action: action, ChangedAttributes: f.changed}, nil
}

func (f *fakeProvider) Apply(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	f.record("apply:" + req.Name)
	if err, ok := f.applyErr[req.Name]; ok {
		return nil, err
	}
	stateJSON := fmt.Sprintf(`{"id":"fake-%s"}`, req.Name)
	return &plugin.ApplyResponse{StateJSON: []byte(stateJSON)}, nil
}

func (f *fakeProvider) Read(ctx context.Context, req *plugin.ReadRequest) (*plugin.ReadResponse, error) {
	return &plugin.ReadResponse{Exists: true, StateJSON: req.CurrentJSON}, nil
}

func (f *fakeProvider) Delete(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	f.record("delete:" + req.ID)
	return &plugin.DeleteResponse{}, nil
}

func fakeEngine(f *fakeProvider) *Engine {
	reg := provider.NewRegistry()
	reg.Register("fake", f)
	return NewEngine(reg)
}

func createChange(name string, deps ...string) *ir.ResourceChange {
	return &ir.ResourceChange{
		Address: "fake:Thing." + name,
		Action:  "CREATE",
		Desired: &ir.Resource{
			Type:      "fake:Thing",
			Name:      name,
			Provider:  "fake",
			DependsOn: deps,
		},
	}
}

func TestApplyPlan_CreatesAndRecordsState(t *testing.T) {
	fake := &fakeProvider{}
	eng := fakeEngine(fake)

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			createChange("a"),
			createChange("b", "fake:Thing.a"),
		},
		Outputs: map[string]any{"aID": "ref://fake:Thing/a/id"},
	}
	state := &ir.State{}

	result, err := eng.ApplyPlan(context.Background(), plan, state)
	require.NoError(t, err)

	assert.Equal(t, []string{"fake:Thing.a", "fake:Thing.b"}, result.Applied)
	assert.Empty(t, result.Failed)
	assert.Empty(t, result.NotAttempted)

	require.Len(t, state.Resources, 2)
	assert.Equal(t, 1, state.Serial)
	assert.Equal(t, "fake-a", state.Outputs["aID"])

	// a's apply strictly precedes b's
	calls := fake.callLog()
	assert.Equal(t, []string{"apply:a", "apply:b"}, calls)
}

func TestApplyPlan_FailureMarksDependentsNotAttempted(t *testing.T) {
	fake := &fakeProvider{
		applyErr: map[string]error{"a": errors.New("InvalidParameterValue: boom")},
	}
	eng := fakeEngine(fake)

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			createChange("a"),
			createChange("b", "fake:Thing.a"),
			createChange("c", "fake:Thing.b"),
		},
	}
	state := &ir.State{}

	result, err := eng.ApplyPlan(context.Background(), plan, state)
	require.Error(t, err)

	assert.Empty(t, result.Applied)
	require.Contains(t, result.Failed, "fake:Thing.a")
	assert.Equal(t, []string{"fake:Thing.b", "fake:Thing.c"}, result.NotAttempted)

	// a non-retryable failure is reported as fatal
	var fatal *RemoteFatalError
	assert.ErrorAs(t, result.Failed["fake:Thing.a"], &fatal)
}

func TestApplyPlan_ContinueOnError(t *testing.T) {
	fake := &fakeProvider{
		applyErr: map[string]error{"a": errors.New("AccessDenied")},
	}
	eng := fakeEngine(fake)
	eng.ContinueOnError = true

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			createChange("a"),
			createChange("b", "fake:Thing.a"),
			createChange("c"), // independent of a
		},
	}
	state := &ir.State{}

	result, err := eng.ApplyPlan(context.Background(), plan, state)
	require.Error(t, err)

	assert.Equal(t, []string{"fake:Thing.c"}, result.Applied)
	assert.Contains(t, result.Failed, "fake:Thing.a")
	assert.Equal(t, []string{"fake:Thing.b"}, result.NotAttempted)

	// only the applied resource is recorded
	require.Len(t, state.Resources, 1)
	assert.Equal(t, "fake:Thing.c", state.Resources[0].Addr())
}

func TestApplyPlan_CheckpointAfterEveryResource(t *testing.T) {
	fake := &fakeProvider{}
	eng := fakeEngine(fake)

	var checkpoints int
	eng.Checkpoint = func(ctx context.Context, s *ir.State) error {
		checkpoints++
		return nil
	}

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			createChange("a"),
			createChange("b", "fake:Thing.a"),
		},
	}
	state := &ir.State{}

	_, err := eng.ApplyPlan(context.Background(), plan, state)
	require.NoError(t, err)
	assert.Equal(t, 2, checkpoints)
}

func TestApplyPlan_ReplaceDeletesOldObjectFirst(t *testing.T) {
	fake := &fakeProvider{}
	eng := fakeEngine(fake)

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "fake:Thing.a",
				Action:  "REPLACE",
				Desired: &ir.Resource{Type: "fake:Thing", Name: "a", Provider: "fake"},
				Prior:   &ir.Resource{Type: "fake:Thing", Name: "a", Provider: "fake"},
			},
		},
	}
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{Type: "fake:Thing", Name: "a", Provider: "fake", Outputs: map[string]any{"id": "old-a"}},
		},
	}

	result, err := eng.ApplyPlan(context.Background(), plan, state)
	require.NoError(t, err)
	assert.Equal(t, []string{"fake:Thing.a"}, result.Applied)

	assert.Equal(t, []string{"delete:old-a", "apply:a"}, fake.callLog())
	require.Len(t, state.Resources, 1)
	assert.Equal(t, "fake-a", state.Resources[0].Outputs["id"])
}

func TestApplyPlan_ReplaceCreateBeforeDestroy(t *testing.T) {
	fake := &fakeProvider{}
	eng := fakeEngine(fake)

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "fake:Thing.a",
				Action:  "REPLACE",
				Desired: &ir.Resource{
					Type: "fake:Thing", Name: "a", Provider: "fake",
					Lifecycle: &ir.Lifecycle{CreateBeforeDestroy: true},
				},
				Prior: &ir.Resource{Type: "fake:Thing", Name: "a", Provider: "fake"},
			},
		},
	}
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{Type: "fake:Thing", Name: "a", Provider: "fake", Outputs: map[string]any{"id": "old-a"}},
		},
	}

	_, err := eng.ApplyPlan(context.Background(), plan, state)
	require.NoError(t, err)

	// replacement created before the old object is removed
	assert.Equal(t, []string{"apply:a", "delete:old-a"}, fake.callLog())
}

func TestApplyPlan_FailedApplyDoesNotPersistRawReferences(t *testing.T) {
	fake := &fakeProvider{
		applyErr: map[string]error{"a": errors.New("AccessDenied")},
	}
	eng := fakeEngine(fake)

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{createChange("a")},
		Outputs: map[string]any{"addr": "ref://fake:Thing/a/id"},
	}
	state := &ir.State{}

	_, err := eng.ApplyPlan(context.Background(), plan, state)
	require.Error(t, err)

	// the output's resource never applied: no raw ref:// string may leak
	// into state as if it were a value
	assert.NotContains(t, state.Outputs, "addr")
}

func TestApplyPlan_FailedApplyKeepsPriorOutputValue(t *testing.T) {
	fake := &fakeProvider{
		applyErr: map[string]error{"a": errors.New("AccessDenied")},
	}
	eng := fakeEngine(fake)

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "fake:Thing.a",
				Action:  "REPLACE",
				Desired: &ir.Resource{Type: "fake:Thing", Name: "a", Provider: "fake"},
				Prior:   &ir.Resource{Type: "fake:Thing", Name: "a", Provider: "fake"},
			},
		},
		Outputs: map[string]any{"addr": "ref://fake:Thing/a/id"},
	}
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{Type: "fake:Thing", Name: "a", Provider: "fake", Outputs: map[string]any{"id": "old-a"}},
		},
		Outputs: map[string]any{"addr": "old-a"},
	}

	// delete-first replace: the old object is gone, the replacement failed,
	// so the reference cannot resolve against anything
	_, err := eng.ApplyPlan(context.Background(), plan, state)
	require.Error(t, err)

	// the previously recorded value survives instead of a raw ref:// string
	assert.Equal(t, "old-a", state.Outputs["addr"])
}

func TestApplyPlan_OutputOnlyPlanRefreshesOutputs(t *testing.T) {
	fake := &fakeProvider{}
	eng := fakeEngine(fake)

	// no changes, but a newly declared output referencing an
	// already-applied resource must still materialize
	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{},
		Outputs: map[string]any{"addr": "ref://fake:Thing/a/id"},
	}
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{Type: "fake:Thing", Name: "a", Provider: "fake", Outputs: map[string]any{"id": "fake-a"}},
		},
	}

	result, err := eng.ApplyPlan(context.Background(), plan, state)
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	assert.Equal(t, "fake-a", state.Outputs["addr"])
	assert.Empty(t, fake.callLog())
}

func TestApplyPlan_Delete(t *testing.T) {
	fake := &fakeProvider{}
	eng := fakeEngine(fake)

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "fake:Thing.a",
				Action:  "DELETE",
				Prior:   &ir.Resource{Type: "fake:Thing", Name: "a", Provider: "fake"},
			},
		},
	}
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{Type: "fake:Thing", Name: "a", Provider: "fake", Outputs: map[string]any{"id": "fake-a"}},
		},
	}

	result, err := eng.ApplyPlan(context.Background(), plan, state)
	require.NoError(t, err)

	assert.Equal(t, []string{"fake:Thing.a"}, result.Applied)
	assert.Empty(t, state.Resources)
	assert.Equal(t, []string{"delete:fake-a"}, fake.callLog())
}

func TestApplyPlan_CancelledContext(t *testing.T) {
	fake := &fakeProvider{}
	eng := fakeEngine(fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{createChange("a")},
	}
	state := &ir.State{}

	result, err := eng.ApplyPlan(ctx, plan, state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
	assert.Equal(t, []string{"fake:Thing.a"}, result.NotAttempted)
	assert.Empty(t, fake.callLog())
}

func TestApplyPlan_Events(t *testing.T) {
	fake := &fakeProvider{
		applyErr: map[string]error{"bad": errors.New("ValidationError")},
	}
	eng := fakeEngine(fake)

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			createChange("bad"),
			createChange("child", "fake:Thing.bad"),
		},
	}
	state := &ir.State{}

	statuses := make(map[string][]string)
	_, err := eng.ApplyPlanWithCallback(context.Background(), plan, state, func(e ApplyEvent) {
		statuses[e.Address] = append(statuses[e.Address], e.Status)
	})
	require.Error(t, err)

	assert.Equal(t, []string{"started", "failed"}, statuses["fake:Thing.bad"])
	assert.Equal(t, []string{"skipped"}, statuses["fake:Thing.child"])
}
