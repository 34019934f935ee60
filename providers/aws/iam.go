package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/terrapin-dev/terrapin/pkg/plugin"
)

type RoleConfig struct {
	Name             string            `json:"name"`
	AssumeRolePolicy string            `json:"assumeRolePolicy"`
	Tags             map[string]string `json:"tags"`
}

type RoleState struct {
	ID   string `json:"id"` // role name
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

func (p *Provider) applyRole(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired RoleConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &iam.CreateRoleInput{
		RoleName:                 &desired.Name,
		AssumeRolePolicyDocument: &desired.AssumeRolePolicy,
	}
	for k, v := range desired.Tags {
		input.Tags = append(input.Tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	resp, err := p.iamClient.CreateRole(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	newState := RoleState{
		ID:   *resp.Role.RoleName,
		Name: *resp.Role.RoleName,
		ARN:  *resp.Role.Arn,
	}
	stateJSON, _ := json.Marshal(newState)
	return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) deleteRole(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	if req.ID == "" {
		return &plugin.DeleteResponse{}, nil
	}
	if _, err := p.iamClient.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: &req.ID}); err != nil {
		if isNotFound(err) {
			return &plugin.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete role %s: %w", req.ID, err)
	}
	return &plugin.DeleteResponse{}, nil
}

type RolePolicyAttachmentConfig struct {
	RoleName  string `json:"roleName"`
	PolicyArn string `json:"policyArn"`
}

type RolePolicyAttachmentState struct {
	ID        string `json:"id"` // roleName/policyArn
	RoleName  string `json:"roleName"`
	PolicyArn string `json:"policyArn"`
}

func (p *Provider) applyRolePolicyAttachment(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired RolePolicyAttachmentConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	_, err := p.iamClient.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  &desired.RoleName,
		PolicyArn: &desired.PolicyArn,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach policy to role: %w", err)
	}

	newState := RolePolicyAttachmentState{
		ID:        desired.RoleName + "/" + desired.PolicyArn,
		RoleName:  desired.RoleName,
		PolicyArn: desired.PolicyArn,
	}
	stateJSON, _ := json.Marshal(newState)
	return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) deleteRolePolicyAttachment(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	var prior RolePolicyAttachmentState
	if len(req.CurrentJSON) > 0 {
		_ = json.Unmarshal(req.CurrentJSON, &prior)
	}
	if prior.RoleName == "" && req.ID != "" {
		// Recover role and policy from the composite ID.
		if role, arn, ok := strings.Cut(req.ID, "/"); ok {
			prior.RoleName, prior.PolicyArn = role, arn
		}
	}
	if prior.RoleName == "" {
		return &plugin.DeleteResponse{}, nil
	}

	if _, err := p.iamClient.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
		RoleName:  &prior.RoleName,
		PolicyArn: &prior.PolicyArn,
	}); err != nil {
		if isNotFound(err) {
			return &plugin.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to detach policy from role %s: %w", prior.RoleName, err)
	}
	return &plugin.DeleteResponse{}, nil
}
