package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"

	"github.com/terrapin-dev/terrapin/pkg/plugin"
)

type RepositoryConfig struct {
	RepositoryName     string `json:"repositoryName"`
	ImageTagMutability string `json:"imageTagMutability"`
	ScanOnPush         bool   `json:"scanOnPush"`
}

type RepositoryState struct {
	ID             string `json:"id"` // repository name
	RepositoryName string `json:"repositoryName"`
	ARN            string `json:"arn"`
	RepositoryURI  string `json:"repositoryUri"`
}

func (p *Provider) applyRepository(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired RepositoryConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	input := &ecr.CreateRepositoryInput{
		RepositoryName: &desired.RepositoryName,
	}
	if desired.ImageTagMutability != "" {
		input.ImageTagMutability = types.ImageTagMutability(desired.ImageTagMutability)
	}
	if desired.ScanOnPush {
		input.ImageScanningConfiguration = &types.ImageScanningConfiguration{ScanOnPush: true}
	}

	resp, err := p.ecrClient.CreateRepository(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}

	newState := RepositoryState{
		ID:             *resp.Repository.RepositoryName,
		RepositoryName: *resp.Repository.RepositoryName,
		ARN:            *resp.Repository.RepositoryArn,
		RepositoryURI:  aws.ToString(resp.Repository.RepositoryUri),
	}
	stateJSON, _ := json.Marshal(newState)
	return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) deleteRepository(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	if req.ID == "" {
		return &plugin.DeleteResponse{}, nil
	}
	if _, err := p.ecrClient.DeleteRepository(ctx, &ecr.DeleteRepositoryInput{
		RepositoryName: &req.ID,
		Force:          true,
	}); err != nil {
		if isNotFound(err) {
			return &plugin.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete repository %s: %w", req.ID, err)
	}
	return &plugin.DeleteResponse{}, nil
}

func (p *Provider) readRepository(ctx context.Context, req *plugin.ReadRequest) (*plugin.ReadResponse, error) {
	resp, err := p.ecrClient.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{req.ID},
	})
	if err != nil {
		if isNotFound(err) {
			return &plugin.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to describe repository %s: %w", req.ID, err)
	}
	if len(resp.Repositories) == 0 {
		return &plugin.ReadResponse{Exists: false}, nil
	}

	repo := resp.Repositories[0]
	state := RepositoryState{
		ID:             *repo.RepositoryName,
		RepositoryName: *repo.RepositoryName,
		ARN:            *repo.RepositoryArn,
		RepositoryURI:  aws.ToString(repo.RepositoryUri),
	}
	stateJSON, _ := json.Marshal(state)
	return &plugin.ReadResponse{Exists: true, StateJSON: stateJSON}, nil
}
