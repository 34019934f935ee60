// Package plugin defines the boundary between the engine and resource
// providers. Providers are compiled in and called in process today; the
// request/response shapes are kept wire-friendly (JSON payloads, no engine
// types) so they can move behind an RPC transport later without touching
// provider code.
package plugin

import "context"

// Action is the change a provider decided on for a single resource.
type Action string

const (
	ActionNoop    Action = "NOOP"
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionReplace Action = "REPLACE"
	ActionDelete  Action = "DELETE"
)

// PlanRequest asks a provider to diff desired configuration against the
// last-applied record for one resource.
type PlanRequest struct {
	Type             string
	Name             string
	DesiredJSON      []byte // desired properties, references unresolved
	PriorInputsJSON  []byte // last-applied inputs, nil if not in state
	PriorOutputsJSON []byte // last-applied provider outputs, nil if not in state
}

type PlanResponse struct {
	Action            Action
	ChangedAttributes []string
}

// ApplyRequest asks a provider to converge one resource. DesiredJSON has all
// references substituted with applied output values. A nil DesiredJSON means
// the resource is being destroyed.
type ApplyRequest struct {
	Type        string
	Name        string
	DesiredJSON []byte
	PriorJSON   []byte // last-applied outputs
}

type ApplyResponse struct {
	StateJSON []byte // provider-assigned outputs to persist
}

// ReadRequest asks a provider for the actual remote configuration of a
// tracked resource, for drift detection.
type ReadRequest struct {
	Type        string
	ID          string
	CurrentJSON []byte
}

type ReadResponse struct {
	Exists    bool
	StateJSON []byte
}

type DeleteRequest struct {
	Type        string
	ID          string
	CurrentJSON []byte
}

type DeleteResponse struct{}

// Provider is implemented by every resource provider.
type Provider interface {
	Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)
	Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error)
}
