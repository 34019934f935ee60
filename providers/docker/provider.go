// Package docker implements the Docker resource provider. It builds local
// images and pushes them to a remote registry, which is how application
// artifacts reach ECR before an ECS service can run them.
package docker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"

	"github.com/terrapin-dev/terrapin/pkg/plugin"
)

type Provider struct {
	client *client.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) ensureClient() error {
	if p.client != nil {
		return nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return err
	}
	p.client = cli
	return nil
}

// ImageConfig describes an image to build from a local context and
// optionally push to a registry.
type ImageConfig struct {
	Name         string            `json:"name"` // full reference, e.g. <account>.dkr.ecr.../app:v1
	BuildContext string            `json:"buildContext"`
	Dockerfile   string            `json:"dockerfile"`
	BuildArgs    map[string]string `json:"buildArgs"`
	Push         bool              `json:"push"`
	RegistryUser string            `json:"registryUser"`
	RegistryPass string            `json:"registryPass"`
}

type ImageState struct {
	ID     string `json:"id"` // image digest/ID
	Name   string `json:"name"`
	Pushed bool   `json:"pushed"`
}

func (p *Provider) Plan(ctx context.Context, req *plugin.PlanRequest) (*plugin.PlanResponse, error) {
	if req.PriorInputsJSON == nil {
		return &plugin.PlanResponse{Action: plugin.ActionCreate}, nil
	}

	var desired, prior map[string]any
	if len(req.DesiredJSON) > 0 {
		if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
			return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
		}
	}
	if err := json.Unmarshal(req.PriorInputsJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior: %w", err)
	}

	if reflect.DeepEqual(desired, prior) {
		return &plugin.PlanResponse{Action: plugin.ActionNoop}, nil
	}

	var changed []string
	for k, v := range desired {
		if pv, ok := prior[k]; !ok || !reflect.DeepEqual(v, pv) {
			changed = append(changed, k)
		}
	}
	return &plugin.PlanResponse{
		Action:            plugin.ActionReplace,
		ChangedAttributes: changed,
	}, nil
}

func (p *Provider) Apply(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch req.Type {
	case "docker:Image":
		return p.applyImage(ctx, req)
	}
	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}

func (p *Provider) applyImage(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired ImageConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if desired.BuildContext != "" {
		tar, err := archive.TarWithOptions(desired.BuildContext, &archive.TarOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create build context tar: %w", err)
		}

		buildArgs := make(map[string]*string, len(desired.BuildArgs))
		for k, v := range desired.BuildArgs {
			v := v
			buildArgs[k] = &v
		}

		resp, err := p.client.ImageBuild(ctx, tar, types.ImageBuildOptions{
			Tags:       []string{desired.Name},
			Dockerfile: desired.Dockerfile,
			BuildArgs:  buildArgs,
			Remove:     true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build image: %w", err)
		}
		// Drain output so the build is not blocked on the pipe.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	} else {
		reader, err := p.client.ImagePull(ctx, desired.Name, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image: %w", err)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	if desired.Push {
		auth, err := registryAuth(desired.RegistryUser, desired.RegistryPass)
		if err != nil {
			return nil, err
		}
		reader, err := p.client.ImagePush(ctx, desired.Name, image.PushOptions{RegistryAuth: auth})
		if err != nil {
			return nil, fmt.Errorf("failed to push image %s: %w", desired.Name, err)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	inspect, _, err := p.client.ImageInspectWithRaw(ctx, desired.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect built image: %w", err)
	}

	newState := ImageState{
		ID:     inspect.ID,
		Name:   desired.Name,
		Pushed: desired.Push,
	}
	stateJSON, _ := json.Marshal(newState)
	return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) Read(ctx context.Context, req *plugin.ReadRequest) (*plugin.ReadResponse, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	var prior ImageState
	if len(req.CurrentJSON) > 0 {
		_ = json.Unmarshal(req.CurrentJSON, &prior)
	}
	ref := prior.Name
	if ref == "" {
		ref = req.ID
	}

	inspect, _, err := p.client.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return &plugin.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}

	state := ImageState{ID: inspect.ID, Name: ref, Pushed: prior.Pushed}
	stateJSON, _ := json.Marshal(state)
	return &plugin.ReadResponse{Exists: true, StateJSON: stateJSON}, nil
}

func (p *Provider) Delete(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return &plugin.DeleteResponse{}, nil
	}

	if _, err := p.client.ImageRemove(ctx, req.ID, image.RemoveOptions{Force: true}); err != nil {
		if !client.IsErrNotFound(err) {
			return nil, fmt.Errorf("failed to remove image: %w", err)
		}
	}
	return &plugin.DeleteResponse{}, nil
}

func registryAuth(user, pass string) (string, error) {
	if user == "" {
		return "", nil
	}
	authConfig := registry.AuthConfig{Username: user, Password: pass}
	encoded, err := json.Marshal(authConfig)
	if err != nil {
		return "", fmt.Errorf("failed to encode registry auth: %w", err)
	}
	return base64.URLEncoding.EncodeToString(encoded), nil
}
