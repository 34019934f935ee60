// Package aws implements the AWS resource provider. Each supported resource
// type maps to a handler that drives the corresponding service client; the
// engine is responsible for ordering, retries and state recording.
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/terrapin-dev/terrapin/pkg/plugin"
)

type Provider struct {
	mu     sync.Mutex
	region string

	ec2Client   *ec2.Client
	ecrClient   *ecr.Client
	ecsClient   *ecs.Client
	elbv2Client *elasticloadbalancingv2.Client
	iamClient   *iam.Client
	logsClient  *cloudwatchlogs.Client
}

func New() *Provider {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	return &Provider{region: region}
}

func (p *Provider) ensureClients(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ec2Client != nil {
		return nil
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(p.region))
	if err != nil {
		return fmt.Errorf("unable to load SDK config: %w", err)
	}

	p.ec2Client = ec2.NewFromConfig(cfg)
	p.ecrClient = ecr.NewFromConfig(cfg)
	p.ecsClient = ecs.NewFromConfig(cfg)
	p.elbv2Client = elasticloadbalancingv2.NewFromConfig(cfg)
	p.iamClient = iam.NewFromConfig(cfg)
	p.logsClient = cloudwatchlogs.NewFromConfig(cfg)

	return nil
}

// updatableAttributes lists, per resource type, the attributes that can be
// changed in place. A changed attribute outside this set forces a replace.
var updatableAttributes = map[string]map[string]bool{
	"aws:ECS.Service": {
		"desiredCount":   true,
		"taskDefinition": true,
	},
	"aws:CloudWatch.LogGroup": {
		"retentionInDays": true,
	},
	"aws:EC2.SecurityGroup": {
		"ingress": true,
		"egress":  true,
		"tags":    true,
	},
}

// Plan diffs desired configuration against the last-applied inputs. The
// decision is attribute-driven: unchanged means NOOP, changes confined to
// in-place updatable attributes mean UPDATE, anything else means REPLACE.
func (p *Provider) Plan(ctx context.Context, req *plugin.PlanRequest) (*plugin.PlanResponse, error) {
	if req.PriorInputsJSON == nil {
		return &plugin.PlanResponse{Action: plugin.ActionCreate}, nil
	}

	var desired, prior map[string]any
	if len(req.DesiredJSON) > 0 {
		if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
			return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
		}
	}
	if err := json.Unmarshal(req.PriorInputsJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior inputs: %w", err)
	}

	changed := changedAttributes(desired, prior)
	if len(changed) == 0 {
		return &plugin.PlanResponse{Action: plugin.ActionNoop}, nil
	}

	action := plugin.ActionReplace
	if updatable := updatableAttributes[req.Type]; updatable != nil {
		inPlace := true
		for _, attr := range changed {
			if !updatable[attr] {
				inPlace = false
				break
			}
		}
		if inPlace {
			action = plugin.ActionUpdate
		}
	}

	return &plugin.PlanResponse{
		Action:            action,
		ChangedAttributes: changed,
	}, nil
}

func (p *Provider) Apply(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "aws:EC2.Vpc":
		return p.applyVpc(ctx, req)
	case "aws:EC2.Subnet":
		return p.applySubnet(ctx, req)
	case "aws:EC2.InternetGateway":
		return p.applyInternetGateway(ctx, req)
	case "aws:EC2.RouteTable":
		return p.applyRouteTable(ctx, req)
	case "aws:EC2.RouteTableAssociation":
		return p.applyRouteTableAssociation(ctx, req)
	case "aws:EC2.SecurityGroup":
		return p.applySecurityGroup(ctx, req)
	case "aws:ECR.Repository":
		return p.applyRepository(ctx, req)
	case "aws:ECS.Cluster":
		return p.applyCluster(ctx, req)
	case "aws:ECS.TaskDefinition":
		return p.applyTaskDefinition(ctx, req)
	case "aws:ECS.Service":
		return p.applyService(ctx, req)
	case "aws:ELBv2.LoadBalancer":
		return p.applyLoadBalancer(ctx, req)
	case "aws:ELBv2.TargetGroup":
		return p.applyTargetGroup(ctx, req)
	case "aws:ELBv2.Listener":
		return p.applyListener(ctx, req)
	case "aws:IAM.Role":
		return p.applyRole(ctx, req)
	case "aws:IAM.RolePolicyAttachment":
		return p.applyRolePolicyAttachment(ctx, req)
	case "aws:CloudWatch.LogGroup":
		return p.applyLogGroup(ctx, req)
	}

	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}

func (p *Provider) Read(ctx context.Context, req *plugin.ReadRequest) (*plugin.ReadResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "aws:EC2.Vpc":
		return p.readVpc(ctx, req)
	case "aws:EC2.Subnet":
		return p.readSubnet(ctx, req)
	case "aws:EC2.SecurityGroup":
		return p.readSecurityGroup(ctx, req)
	case "aws:ECR.Repository":
		return p.readRepository(ctx, req)
	case "aws:ECS.Cluster":
		return p.readCluster(ctx, req)
	case "aws:ECS.Service":
		return p.readService(ctx, req)
	case "aws:CloudWatch.LogGroup":
		return p.readLogGroup(ctx, req)
	}

	// Types without a read handler are assumed unchanged.
	return &plugin.ReadResponse{Exists: true, StateJSON: req.CurrentJSON}, nil
}

func (p *Provider) Delete(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "aws:EC2.Vpc":
		return p.deleteVpc(ctx, req)
	case "aws:EC2.Subnet":
		return p.deleteSubnet(ctx, req)
	case "aws:EC2.InternetGateway":
		return p.deleteInternetGateway(ctx, req)
	case "aws:EC2.RouteTable":
		return p.deleteRouteTable(ctx, req)
	case "aws:EC2.RouteTableAssociation":
		return p.deleteRouteTableAssociation(ctx, req)
	case "aws:EC2.SecurityGroup":
		return p.deleteSecurityGroup(ctx, req)
	case "aws:ECR.Repository":
		return p.deleteRepository(ctx, req)
	case "aws:ECS.Cluster":
		return p.deleteCluster(ctx, req)
	case "aws:ECS.TaskDefinition":
		return p.deleteTaskDefinition(ctx, req)
	case "aws:ECS.Service":
		return p.deleteService(ctx, req)
	case "aws:ELBv2.LoadBalancer":
		return p.deleteLoadBalancer(ctx, req)
	case "aws:ELBv2.TargetGroup":
		return p.deleteTargetGroup(ctx, req)
	case "aws:ELBv2.Listener":
		return p.deleteListener(ctx, req)
	case "aws:IAM.Role":
		return p.deleteRole(ctx, req)
	case "aws:IAM.RolePolicyAttachment":
		return p.deleteRolePolicyAttachment(ctx, req)
	case "aws:CloudWatch.LogGroup":
		return p.deleteLogGroup(ctx, req)
	}

	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}

// changedAttributes returns the sorted top-level keys whose values differ
// between desired and prior.
func changedAttributes(desired, prior map[string]any) []string {
	seen := make(map[string]bool)
	var changed []string

	for k, v := range desired {
		if pv, ok := prior[k]; !ok || !reflect.DeepEqual(v, pv) {
			changed = append(changed, k)
			seen[k] = true
		}
	}
	for k := range prior {
		if _, ok := desired[k]; !ok && !seen[k] {
			changed = append(changed, k)
		}
	}

	sort.Strings(changed)
	return changed
}
