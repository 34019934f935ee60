package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"github.com/terrapin-dev/terrapin/pkg/plugin"
)

type LogGroupConfig struct {
	LogGroupName    string            `json:"logGroupName"`
	RetentionInDays int               `json:"retentionInDays"`
	Tags            map[string]string `json:"tags"`
}

type LogGroupState struct {
	ID           string `json:"id"` // log group name
	LogGroupName string `json:"logGroupName"`
	ARN          string `json:"arn"`
}

func (p *Provider) applyLogGroup(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired LogGroupConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	// Retention changes arrive as updates against an existing group, so
	// only create when there is no prior record.
	if req.PriorJSON == nil {
		_, err := p.logsClient.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
			LogGroupName: &desired.LogGroupName,
			Tags:         desired.Tags,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create log group: %w", err)
		}
	}

	if desired.RetentionInDays > 0 {
		_, err := p.logsClient.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
			LogGroupName:    &desired.LogGroupName,
			RetentionInDays: aws.Int32(int32(desired.RetentionInDays)),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to put retention policy: %w", err)
		}
	}

	describe, err := p.logsClient.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: &desired.LogGroupName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe log group: %w", err)
	}

	newState := LogGroupState{
		ID:           desired.LogGroupName,
		LogGroupName: desired.LogGroupName,
	}
	for _, g := range describe.LogGroups {
		if aws.ToString(g.LogGroupName) == desired.LogGroupName {
			newState.ARN = aws.ToString(g.Arn)
			break
		}
	}

	stateJSON, _ := json.Marshal(newState)
	return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) deleteLogGroup(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	if req.ID == "" {
		return &plugin.DeleteResponse{}, nil
	}
	if _, err := p.logsClient.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{LogGroupName: &req.ID}); err != nil {
		if isNotFound(err) {
			return &plugin.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete log group %s: %w", req.ID, err)
	}
	return &plugin.DeleteResponse{}, nil
}

func (p *Provider) readLogGroup(ctx context.Context, req *plugin.ReadRequest) (*plugin.ReadResponse, error) {
	resp, err := p.logsClient.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: &req.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe log group %s: %w", req.ID, err)
	}

	for _, g := range resp.LogGroups {
		if aws.ToString(g.LogGroupName) == req.ID {
			state := LogGroupState{
				ID:           req.ID,
				LogGroupName: req.ID,
				ARN:          aws.ToString(g.Arn),
			}
			stateJSON, _ := json.Marshal(state)
			return &plugin.ReadResponse{Exists: true, StateJSON: stateJSON}, nil
		}
	}
	return &plugin.ReadResponse{Exists: false}, nil
}
