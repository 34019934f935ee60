package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/terrapin-dev/terrapin/pkg/plugin"
)

type LoadBalancerConfig struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Scheme         string   `json:"scheme"`
	Subnets        []string `json:"subnets"`
	SecurityGroups []string `json:"securityGroups"`
}

type LoadBalancerState struct {
	ID   string `json:"id"` // load balancer ARN
	Name string `json:"name"`
	ARN  string `json:"arn"`
	DNS  string `json:"dnsName"`
}

func (p *Provider) applyLoadBalancer(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired LoadBalancerConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	resp, err := p.elbv2Client.CreateLoadBalancer(ctx, &elasticloadbalancingv2.CreateLoadBalancerInput{
		Name:           &desired.Name,
		Subnets:        desired.Subnets,
		SecurityGroups: desired.SecurityGroups,
		Scheme:         types.LoadBalancerSchemeEnum(desired.Scheme),
		Type:           types.LoadBalancerTypeEnum(desired.Type),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create load balancer: %w", err)
	}

	lb := resp.LoadBalancers[0]
	newState := LoadBalancerState{
		ID:   *lb.LoadBalancerArn,
		Name: *lb.LoadBalancerName,
		ARN:  *lb.LoadBalancerArn,
		DNS:  aws.ToString(lb.DNSName),
	}
	stateJSON, _ := json.Marshal(newState)
	return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) deleteLoadBalancer(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	if req.ID == "" {
		return &plugin.DeleteResponse{}, nil
	}
	if _, err := p.elbv2Client.DeleteLoadBalancer(ctx, &elasticloadbalancingv2.DeleteLoadBalancerInput{
		LoadBalancerArn: &req.ID,
	}); err != nil {
		if isNotFound(err) {
			return &plugin.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete load balancer %s: %w", req.ID, err)
	}
	return &plugin.DeleteResponse{}, nil
}

type TargetGroupConfig struct {
	Name                string `json:"name"`
	Port                int    `json:"port"`
	Protocol            string `json:"protocol"`
	VpcID               string `json:"vpcId"`
	TargetType          string `json:"targetType"`
	HealthCheckPath     string `json:"healthCheckPath"`
	HealthCheckProtocol string `json:"healthCheckProtocol"`
}

type TargetGroupState struct {
	ID   string `json:"id"` // target group ARN
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

func (p *Provider) applyTargetGroup(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired TargetGroupConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	input := &elasticloadbalancingv2.CreateTargetGroupInput{
		Name:       &desired.Name,
		Port:       aws.Int32(int32(desired.Port)),
		Protocol:   types.ProtocolEnum(desired.Protocol),
		VpcId:      &desired.VpcID,
		TargetType: types.TargetTypeEnum(desired.TargetType),
	}
	if desired.HealthCheckPath != "" {
		input.HealthCheckPath = &desired.HealthCheckPath
	}
	if desired.HealthCheckProtocol != "" {
		input.HealthCheckProtocol = types.ProtocolEnum(desired.HealthCheckProtocol)
	}

	resp, err := p.elbv2Client.CreateTargetGroup(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create target group: %w", err)
	}

	tg := resp.TargetGroups[0]
	newState := TargetGroupState{
		ID:   *tg.TargetGroupArn,
		Name: *tg.TargetGroupName,
		ARN:  *tg.TargetGroupArn,
	}
	stateJSON, _ := json.Marshal(newState)
	return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) deleteTargetGroup(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	if req.ID == "" {
		return &plugin.DeleteResponse{}, nil
	}
	if _, err := p.elbv2Client.DeleteTargetGroup(ctx, &elasticloadbalancingv2.DeleteTargetGroupInput{
		TargetGroupArn: &req.ID,
	}); err != nil {
		if isNotFound(err) {
			return &plugin.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete target group %s: %w", req.ID, err)
	}
	return &plugin.DeleteResponse{}, nil
}

type ListenerConfig struct {
	LoadBalancerArn string           `json:"loadBalancerArn"`
	Port            int              `json:"port"`
	Protocol        string           `json:"protocol"`
	DefaultActions  []ListenerAction `json:"defaultActions"`
}

type ListenerAction struct {
	Type           string `json:"type"`
	TargetGroupArn string `json:"targetGroupArn"`
}

type ListenerState struct {
	ID  string `json:"id"` // listener ARN
	ARN string `json:"arn"`
}

func (p *Provider) applyListener(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired ListenerConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	var actions []types.Action
	for _, a := range desired.DefaultActions {
		actions = append(actions, types.Action{
			Type:           types.ActionTypeEnum(a.Type),
			TargetGroupArn: aws.String(a.TargetGroupArn),
		})
	}

	resp, err := p.elbv2Client.CreateListener(ctx, &elasticloadbalancingv2.CreateListenerInput{
		LoadBalancerArn: &desired.LoadBalancerArn,
		Port:            aws.Int32(int32(desired.Port)),
		Protocol:        types.ProtocolEnum(desired.Protocol),
		DefaultActions:  actions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	newState := ListenerState{
		ID:  *resp.Listeners[0].ListenerArn,
		ARN: *resp.Listeners[0].ListenerArn,
	}
	stateJSON, _ := json.Marshal(newState)
	return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) deleteListener(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	if req.ID == "" {
		return &plugin.DeleteResponse{}, nil
	}
	if _, err := p.elbv2Client.DeleteListener(ctx, &elasticloadbalancingv2.DeleteListenerInput{
		ListenerArn: &req.ID,
	}); err != nil {
		if isNotFound(err) {
			return &plugin.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete listener %s: %w", req.ID, err)
	}
	return &plugin.DeleteResponse{}, nil
}
