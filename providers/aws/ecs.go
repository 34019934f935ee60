package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/terrapin-dev/terrapin/pkg/plugin"
)

type ClusterConfig struct {
	ClusterName string            `json:"clusterName"`
	Tags        map[string]string `json:"tags"`
}

type ClusterState struct {
	ID   string `json:"id"` // cluster name, used for deletion
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

func (p *Provider) applyCluster(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired ClusterConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	resp, err := p.ecsClient.CreateCluster(ctx, &ecs.CreateClusterInput{
		ClusterName: &desired.ClusterName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster: %w", err)
	}

	newState := ClusterState{
		ID:   *resp.Cluster.ClusterName,
		Name: *resp.Cluster.ClusterName,
		ARN:  *resp.Cluster.ClusterArn,
	}
	stateJSON, _ := json.Marshal(newState)
	return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) deleteCluster(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	if req.ID == "" {
		return &plugin.DeleteResponse{}, nil
	}
	if _, err := p.ecsClient.DeleteCluster(ctx, &ecs.DeleteClusterInput{Cluster: &req.ID}); err != nil {
		if isNotFound(err) {
			return &plugin.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete cluster %s: %w", req.ID, err)
	}
	return &plugin.DeleteResponse{}, nil
}

func (p *Provider) readCluster(ctx context.Context, req *plugin.ReadRequest) (*plugin.ReadResponse, error) {
	resp, err := p.ecsClient.DescribeClusters(ctx, &ecs.DescribeClustersInput{Clusters: []string{req.ID}})
	if err != nil {
		return nil, fmt.Errorf("failed to describe cluster %s: %w", req.ID, err)
	}
	if len(resp.Clusters) == 0 || aws.ToString(resp.Clusters[0].Status) == "INACTIVE" {
		return &plugin.ReadResponse{Exists: false}, nil
	}

	state := ClusterState{
		ID:   *resp.Clusters[0].ClusterName,
		Name: *resp.Clusters[0].ClusterName,
		ARN:  *resp.Clusters[0].ClusterArn,
	}
	stateJSON, _ := json.Marshal(state)
	return &plugin.ReadResponse{Exists: true, StateJSON: stateJSON}, nil
}

type TaskDefinitionConfig struct {
	Family                  string                `json:"family"`
	NetworkMode             string                `json:"networkMode"`
	Cpu                     string                `json:"cpu"`
	Memory                  string                `json:"memory"`
	ExecutionRoleArn        string                `json:"executionRoleArn"`
	TaskRoleArn             string                `json:"taskRoleArn"`
	RequiresCompatibilities []string              `json:"requiresCompatibilities"`
	ContainerDefinitions    []ContainerDefinition `json:"containerDefinitions"`
}

type ContainerDefinition struct {
	Name             string            `json:"name"`
	Image            string            `json:"image"`
	Cpu              int               `json:"cpu"`
	Memory           int               `json:"memory"`
	Essential        bool              `json:"essential"`
	PortMappings     []PortMapping     `json:"portMappings"`
	Environment      map[string]string `json:"environment"`
	LogConfiguration *LogConfiguration `json:"logConfiguration"`
}

type PortMapping struct {
	ContainerPort int    `json:"containerPort"`
	HostPort      int    `json:"hostPort"`
	Protocol      string `json:"protocol"`
}

type LogConfiguration struct {
	LogDriver string            `json:"logDriver"`
	Options   map[string]string `json:"options"`
}

type TaskDefinitionState struct {
	ID       string `json:"id"` // task definition ARN
	ARN      string `json:"arn"`
	Family   string `json:"family"`
	Revision int    `json:"revision"`
}

func (p *Provider) applyTaskDefinition(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired TaskDefinitionConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	var containerDefs []types.ContainerDefinition
	for _, c := range desired.ContainerDefinitions {
		var mappings []types.PortMapping
		for _, m := range c.PortMappings {
			mappings = append(mappings, types.PortMapping{
				ContainerPort: aws.Int32(int32(m.ContainerPort)),
				HostPort:      aws.Int32(int32(m.HostPort)),
				Protocol:      types.TransportProtocol(m.Protocol),
			})
		}

		var env []types.KeyValuePair
		for k, v := range c.Environment {
			env = append(env, types.KeyValuePair{Name: aws.String(k), Value: aws.String(v)})
		}

		def := types.ContainerDefinition{
			Name:         aws.String(c.Name),
			Image:        aws.String(c.Image),
			Cpu:          int32(c.Cpu),
			Essential:    aws.Bool(c.Essential),
			PortMappings: mappings,
			Environment:  env,
		}
		if c.Memory > 0 {
			def.Memory = aws.Int32(int32(c.Memory))
		}
		if c.LogConfiguration != nil {
			def.LogConfiguration = &types.LogConfiguration{
				LogDriver: types.LogDriver(c.LogConfiguration.LogDriver),
				Options:   c.LogConfiguration.Options,
			}
		}
		containerDefs = append(containerDefs, def)
	}

	compatibilities := []types.Compatibility{types.CompatibilityFargate}
	if len(desired.RequiresCompatibilities) > 0 {
		compatibilities = nil
		for _, c := range desired.RequiresCompatibilities {
			compatibilities = append(compatibilities, types.Compatibility(c))
		}
	}

	input := &ecs.RegisterTaskDefinitionInput{
		Family:                  &desired.Family,
		ContainerDefinitions:    containerDefs,
		NetworkMode:             types.NetworkMode(desired.NetworkMode),
		RequiresCompatibilities: compatibilities,
	}
	if desired.Cpu != "" {
		input.Cpu = &desired.Cpu
	}
	if desired.Memory != "" {
		input.Memory = &desired.Memory
	}
	if desired.ExecutionRoleArn != "" {
		input.ExecutionRoleArn = &desired.ExecutionRoleArn
	}
	if desired.TaskRoleArn != "" {
		input.TaskRoleArn = &desired.TaskRoleArn
	}

	resp, err := p.ecsClient.RegisterTaskDefinition(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to register task definition: %w", err)
	}

	newState := TaskDefinitionState{
		ID:       *resp.TaskDefinition.TaskDefinitionArn,
		ARN:      *resp.TaskDefinition.TaskDefinitionArn,
		Family:   *resp.TaskDefinition.Family,
		Revision: int(resp.TaskDefinition.Revision),
	}
	stateJSON, _ := json.Marshal(newState)
	return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) deleteTaskDefinition(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	if req.ID == "" {
		return &plugin.DeleteResponse{}, nil
	}
	if _, err := p.ecsClient.DeregisterTaskDefinition(ctx, &ecs.DeregisterTaskDefinitionInput{TaskDefinition: &req.ID}); err != nil {
		if isNotFound(err) {
			return &plugin.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to deregister task definition %s: %w", req.ID, err)
	}
	return &plugin.DeleteResponse{}, nil
}

type ServiceConfig struct {
	ServiceName          string                `json:"serviceName"`
	Cluster              string                `json:"cluster"`
	TaskDefinition       string                `json:"taskDefinition"`
	DesiredCount         int                   `json:"desiredCount"`
	LaunchType           string                `json:"launchType"`
	NetworkConfiguration *NetworkConfiguration `json:"networkConfiguration"`
	LoadBalancers        []ServiceLoadBalancer `json:"loadBalancers"`
}

type NetworkConfiguration struct {
	Subnets        []string `json:"subnets"`
	SecurityGroups []string `json:"securityGroups"`
	AssignPublicIp bool     `json:"assignPublicIp"`
}

type ServiceLoadBalancer struct {
	TargetGroupArn string `json:"targetGroupArn"`
	ContainerName  string `json:"containerName"`
	ContainerPort  int    `json:"containerPort"`
}

type ServiceState struct {
	ID      string `json:"id"` // service name
	Name    string `json:"name"`
	ARN     string `json:"arn"`
	Cluster string `json:"cluster"`
}

func (p *Provider) applyService(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired ServiceConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	// A recorded prior means this is an in-place update of desiredCount
	// or taskDefinition.
	var prior ServiceState
	if len(req.PriorJSON) > 0 {
		_ = json.Unmarshal(req.PriorJSON, &prior)
	}
	if prior.Name != "" {
		resp, err := p.ecsClient.UpdateService(ctx, &ecs.UpdateServiceInput{
			Service:        &prior.Name,
			Cluster:        &prior.Cluster,
			TaskDefinition: &desired.TaskDefinition,
			DesiredCount:   aws.Int32(int32(desired.DesiredCount)),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update service: %w", err)
		}
		newState := ServiceState{
			ID:      *resp.Service.ServiceName,
			Name:    *resp.Service.ServiceName,
			ARN:     *resp.Service.ServiceArn,
			Cluster: prior.Cluster,
		}
		stateJSON, _ := json.Marshal(newState)
		return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
	}

	input := &ecs.CreateServiceInput{
		ServiceName:    &desired.ServiceName,
		Cluster:        &desired.Cluster,
		TaskDefinition: &desired.TaskDefinition,
		DesiredCount:   aws.Int32(int32(desired.DesiredCount)),
		LaunchType:     types.LaunchType(desired.LaunchType),
	}

	if desired.NetworkConfiguration != nil {
		assignPublic := types.AssignPublicIpDisabled
		if desired.NetworkConfiguration.AssignPublicIp {
			assignPublic = types.AssignPublicIpEnabled
		}
		input.NetworkConfiguration = &types.NetworkConfiguration{
			AwsvpcConfiguration: &types.AwsVpcConfiguration{
				Subnets:        desired.NetworkConfiguration.Subnets,
				SecurityGroups: desired.NetworkConfiguration.SecurityGroups,
				AssignPublicIp: assignPublic,
			},
		}
	}

	for _, lb := range desired.LoadBalancers {
		input.LoadBalancers = append(input.LoadBalancers, types.LoadBalancer{
			TargetGroupArn: aws.String(lb.TargetGroupArn),
			ContainerName:  aws.String(lb.ContainerName),
			ContainerPort:  aws.Int32(int32(lb.ContainerPort)),
		})
	}

	resp, err := p.ecsClient.CreateService(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	newState := ServiceState{
		ID:      *resp.Service.ServiceName,
		Name:    *resp.Service.ServiceName,
		ARN:     *resp.Service.ServiceArn,
		Cluster: desired.Cluster,
	}
	stateJSON, _ := json.Marshal(newState)
	return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) deleteService(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	if req.ID == "" {
		return &plugin.DeleteResponse{}, nil
	}

	var prior ServiceState
	if len(req.CurrentJSON) > 0 {
		_ = json.Unmarshal(req.CurrentJSON, &prior)
	}

	input := &ecs.DeleteServiceInput{
		Service: &req.ID,
		Force:   aws.Bool(true),
	}
	if prior.Cluster != "" {
		input.Cluster = &prior.Cluster
	}

	if _, err := p.ecsClient.DeleteService(ctx, input); err != nil {
		if isNotFound(err) {
			return &plugin.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete service %s: %w", req.ID, err)
	}
	return &plugin.DeleteResponse{}, nil
}

func (p *Provider) readService(ctx context.Context, req *plugin.ReadRequest) (*plugin.ReadResponse, error) {
	var prior ServiceState
	if len(req.CurrentJSON) > 0 {
		_ = json.Unmarshal(req.CurrentJSON, &prior)
	}

	input := &ecs.DescribeServicesInput{Services: []string{req.ID}}
	if prior.Cluster != "" {
		input.Cluster = &prior.Cluster
	}

	resp, err := p.ecsClient.DescribeServices(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to describe service %s: %w", req.ID, err)
	}
	if len(resp.Services) == 0 || aws.ToString(resp.Services[0].Status) == "INACTIVE" {
		return &plugin.ReadResponse{Exists: false}, nil
	}

	svc := resp.Services[0]
	state := ServiceState{
		ID:      *svc.ServiceName,
		Name:    *svc.ServiceName,
		ARN:     *svc.ServiceArn,
		Cluster: prior.Cluster,
	}
	stateJSON, _ := json.Marshal(state)
	return &plugin.ReadResponse{Exists: true, StateJSON: stateJSON}, nil
}
