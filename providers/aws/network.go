package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/terrapin-dev/terrapin/pkg/plugin"
)

type VpcConfig struct {
	CidrBlock          string            `json:"cidrBlock"`
	EnableDnsSupport   bool              `json:"enableDnsSupport"`
	EnableDnsHostnames bool              `json:"enableDnsHostnames"`
	Tags               map[string]string `json:"tags"`
}

type VpcState struct {
	ID        string `json:"id"`
	CidrBlock string `json:"cidrBlock"`
}

func (p *Provider) applyVpc(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired VpcConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	resp, err := p.ec2Client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: &desired.CidrBlock,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create VPC: %w", err)
	}
	vpcID := *resp.Vpc.VpcId

	if desired.EnableDnsSupport {
		_, _ = p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:            &vpcID,
			EnableDnsSupport: &types.AttributeBooleanValue{Value: aws.Bool(true)},
		})
	}
	if desired.EnableDnsHostnames {
		_, _ = p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:              &vpcID,
			EnableDnsHostnames: &types.AttributeBooleanValue{Value: aws.Bool(true)},
		})
	}

	p.tagResource(ctx, vpcID, desired.Tags)

	newState := VpcState{
		ID:        vpcID,
		CidrBlock: *resp.Vpc.CidrBlock,
	}
	stateJSON, _ := json.Marshal(newState)
	return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) deleteVpc(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	if req.ID == "" {
		return &plugin.DeleteResponse{}, nil
	}
	if _, err := p.ec2Client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: &req.ID}); err != nil {
		if isNotFound(err) {
			return &plugin.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete VPC %s: %w", req.ID, err)
	}
	return &plugin.DeleteResponse{}, nil
}

func (p *Provider) readVpc(ctx context.Context, req *plugin.ReadRequest) (*plugin.ReadResponse, error) {
	resp, err := p.ec2Client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{req.ID}})
	if err != nil {
		if isNotFound(err) {
			return &plugin.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to describe VPC %s: %w", req.ID, err)
	}
	if len(resp.Vpcs) == 0 {
		return &plugin.ReadResponse{Exists: false}, nil
	}

	state := VpcState{
		ID:        *resp.Vpcs[0].VpcId,
		CidrBlock: *resp.Vpcs[0].CidrBlock,
	}
	stateJSON, _ := json.Marshal(state)
	return &plugin.ReadResponse{Exists: true, StateJSON: stateJSON}, nil
}

type SubnetConfig struct {
	VpcID               string            `json:"vpcId"`
	CidrBlock           string            `json:"cidrBlock"`
	AvailabilityZone    string            `json:"availabilityZone"`
	MapPublicIpOnLaunch bool              `json:"mapPublicIpOnLaunch"`
	Tags                map[string]string `json:"tags"`
}

type SubnetState struct {
	ID               string `json:"id"`
	VpcID            string `json:"vpcId"`
	AvailabilityZone string `json:"availabilityZone"`
}

func (p *Provider) applySubnet(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired SubnetConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	input := &ec2.CreateSubnetInput{
		VpcId:     &desired.VpcID,
		CidrBlock: &desired.CidrBlock,
	}
	if desired.AvailabilityZone != "" {
		input.AvailabilityZone = &desired.AvailabilityZone
	}

	resp, err := p.ec2Client.CreateSubnet(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create subnet: %w", err)
	}
	subnetID := *resp.Subnet.SubnetId

	if desired.MapPublicIpOnLaunch {
		_, _ = p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            &subnetID,
			MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: aws.Bool(true)},
		})
	}

	p.tagResource(ctx, subnetID, desired.Tags)

	newState := SubnetState{
		ID:               subnetID,
		VpcID:            *resp.Subnet.VpcId,
		AvailabilityZone: aws.ToString(resp.Subnet.AvailabilityZone),
	}
	stateJSON, _ := json.Marshal(newState)
	return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) deleteSubnet(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	if req.ID == "" {
		return &plugin.DeleteResponse{}, nil
	}
	if _, err := p.ec2Client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: &req.ID}); err != nil {
		if isNotFound(err) {
			return &plugin.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete subnet %s: %w", req.ID, err)
	}
	return &plugin.DeleteResponse{}, nil
}

func (p *Provider) readSubnet(ctx context.Context, req *plugin.ReadRequest) (*plugin.ReadResponse, error) {
	resp, err := p.ec2Client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: []string{req.ID}})
	if err != nil {
		if isNotFound(err) {
			return &plugin.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to describe subnet %s: %w", req.ID, err)
	}
	if len(resp.Subnets) == 0 {
		return &plugin.ReadResponse{Exists: false}, nil
	}

	state := SubnetState{
		ID:               *resp.Subnets[0].SubnetId,
		VpcID:            *resp.Subnets[0].VpcId,
		AvailabilityZone: aws.ToString(resp.Subnets[0].AvailabilityZone),
	}
	stateJSON, _ := json.Marshal(state)
	return &plugin.ReadResponse{Exists: true, StateJSON: stateJSON}, nil
}

type InternetGatewayConfig struct {
	VpcID string            `json:"vpcId"`
	Tags  map[string]string `json:"tags"`
}

type InternetGatewayState struct {
	ID    string `json:"id"`
	VpcID string `json:"vpcId"`
}

func (p *Provider) applyInternetGateway(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired InternetGatewayConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	resp, err := p.ec2Client.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to create internet gateway: %w", err)
	}
	igwID := *resp.InternetGateway.InternetGatewayId

	if desired.VpcID != "" {
		_, err := p.ec2Client.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
			InternetGatewayId: &igwID,
			VpcId:             &desired.VpcID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to attach internet gateway: %w", err)
		}
	}

	p.tagResource(ctx, igwID, desired.Tags)

	newState := InternetGatewayState{ID: igwID, VpcID: desired.VpcID}
	stateJSON, _ := json.Marshal(newState)
	return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) deleteInternetGateway(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	if req.ID == "" {
		return &plugin.DeleteResponse{}, nil
	}

	// Detach from the VPC first; AWS refuses to delete an attached gateway.
	var prior InternetGatewayState
	if len(req.CurrentJSON) > 0 {
		_ = json.Unmarshal(req.CurrentJSON, &prior)
	}
	if prior.VpcID != "" {
		_, _ = p.ec2Client.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
			InternetGatewayId: &req.ID,
			VpcId:             &prior.VpcID,
		})
	}

	if _, err := p.ec2Client.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{InternetGatewayId: &req.ID}); err != nil {
		if isNotFound(err) {
			return &plugin.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete internet gateway %s: %w", req.ID, err)
	}
	return &plugin.DeleteResponse{}, nil
}

type RouteConfig struct {
	DestinationCidrBlock string  `json:"destinationCidrBlock"`
	GatewayID            *string `json:"gatewayId"`
	NatGatewayID         *string `json:"natGatewayId"`
}

type RouteTableConfig struct {
	VpcID  string            `json:"vpcId"`
	Routes []RouteConfig     `json:"routes"`
	Tags   map[string]string `json:"tags"`
}

type RouteTableState struct {
	ID    string `json:"id"`
	VpcID string `json:"vpcId"`
}

func (p *Provider) applyRouteTable(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired RouteTableConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	resp, err := p.ec2Client.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{VpcId: &desired.VpcID})
	if err != nil {
		return nil, fmt.Errorf("failed to create route table: %w", err)
	}
	rtID := *resp.RouteTable.RouteTableId

	for _, route := range desired.Routes {
		input := &ec2.CreateRouteInput{
			RouteTableId:         &rtID,
			DestinationCidrBlock: &route.DestinationCidrBlock,
		}
		if route.GatewayID != nil {
			input.GatewayId = route.GatewayID
		}
		if route.NatGatewayID != nil {
			input.NatGatewayId = route.NatGatewayID
		}
		if _, err := p.ec2Client.CreateRoute(ctx, input); err != nil {
			return nil, fmt.Errorf("failed to create route %s: %w", route.DestinationCidrBlock, err)
		}
	}

	p.tagResource(ctx, rtID, desired.Tags)

	newState := RouteTableState{ID: rtID, VpcID: desired.VpcID}
	stateJSON, _ := json.Marshal(newState)
	return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) deleteRouteTable(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	if req.ID == "" {
		return &plugin.DeleteResponse{}, nil
	}
	if _, err := p.ec2Client.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: &req.ID}); err != nil {
		if isNotFound(err) {
			return &plugin.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete route table %s: %w", req.ID, err)
	}
	return &plugin.DeleteResponse{}, nil
}

type RouteTableAssociationConfig struct {
	RouteTableID string `json:"routeTableId"`
	SubnetID     string `json:"subnetId"`
}

type RouteTableAssociationState struct {
	ID           string `json:"id"`
	RouteTableID string `json:"routeTableId"`
	SubnetID     string `json:"subnetId"`
}

func (p *Provider) applyRouteTableAssociation(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired RouteTableAssociationConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	resp, err := p.ec2Client.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
		RouteTableId: &desired.RouteTableID,
		SubnetId:     &desired.SubnetID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to associate route table: %w", err)
	}

	newState := RouteTableAssociationState{
		ID:           *resp.AssociationId,
		RouteTableID: desired.RouteTableID,
		SubnetID:     desired.SubnetID,
	}
	stateJSON, _ := json.Marshal(newState)
	return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) deleteRouteTableAssociation(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	if req.ID == "" {
		return &plugin.DeleteResponse{}, nil
	}
	if _, err := p.ec2Client.DisassociateRouteTable(ctx, &ec2.DisassociateRouteTableInput{AssociationId: &req.ID}); err != nil {
		if isNotFound(err) {
			return &plugin.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to disassociate route table %s: %w", req.ID, err)
	}
	return &plugin.DeleteResponse{}, nil
}

type SecurityGroupConfig struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	VpcID       string              `json:"vpcId"`
	Ingress     []SecurityGroupRule `json:"ingress"`
	Egress      []SecurityGroupRule `json:"egress"`
	Tags        map[string]string   `json:"tags"`
}

type SecurityGroupRule struct {
	FromPort   int      `json:"fromPort"`
	ToPort     int      `json:"toPort"`
	Protocol   string   `json:"protocol"`
	CidrBlocks []string `json:"cidrBlocks"`
}

type SecurityGroupState struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	VpcID string `json:"vpcId"`
}

func (p *Provider) applySecurityGroup(ctx context.Context, req *plugin.ApplyRequest) (*plugin.ApplyResponse, error) {
	var desired SecurityGroupConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	// In-place rule update for an existing group.
	var prior SecurityGroupState
	if len(req.PriorJSON) > 0 {
		_ = json.Unmarshal(req.PriorJSON, &prior)
	}
	groupID := prior.ID

	if groupID == "" {
		input := &ec2.CreateSecurityGroupInput{
			GroupName:   &desired.Name,
			Description: &desired.Description,
		}
		if desired.VpcID != "" {
			input.VpcId = &desired.VpcID
		}

		resp, err := p.ec2Client.CreateSecurityGroup(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to create security group: %w", err)
		}
		groupID = *resp.GroupId
	} else {
		// Flush existing rules so the desired set is authoritative.
		if err := p.revokeAllRules(ctx, groupID); err != nil {
			return nil, err
		}
	}

	if len(desired.Ingress) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       &groupID,
			IpPermissions: toIPPermissions(desired.Ingress),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to authorize ingress: %w", err)
		}
	}
	if len(desired.Egress) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       &groupID,
			IpPermissions: toIPPermissions(desired.Egress),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to authorize egress: %w", err)
		}
	}

	p.tagResource(ctx, groupID, desired.Tags)

	newState := SecurityGroupState{ID: groupID, Name: desired.Name, VpcID: desired.VpcID}
	stateJSON, _ := json.Marshal(newState)
	return &plugin.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) revokeAllRules(ctx context.Context, groupID string) error {
	resp, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{groupID}})
	if err != nil {
		return fmt.Errorf("failed to describe security group %s: %w", groupID, err)
	}
	if len(resp.SecurityGroups) == 0 {
		return nil
	}
	group := resp.SecurityGroups[0]

	if len(group.IpPermissions) > 0 {
		_, err := p.ec2Client.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
			GroupId:       &groupID,
			IpPermissions: group.IpPermissions,
		})
		if err != nil {
			return fmt.Errorf("failed to revoke ingress: %w", err)
		}
	}
	if len(group.IpPermissionsEgress) > 0 {
		_, err := p.ec2Client.RevokeSecurityGroupEgress(ctx, &ec2.RevokeSecurityGroupEgressInput{
			GroupId:       &groupID,
			IpPermissions: group.IpPermissionsEgress,
		})
		if err != nil {
			return fmt.Errorf("failed to revoke egress: %w", err)
		}
	}
	return nil
}

func (p *Provider) deleteSecurityGroup(ctx context.Context, req *plugin.DeleteRequest) (*plugin.DeleteResponse, error) {
	if req.ID == "" {
		return &plugin.DeleteResponse{}, nil
	}
	if _, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: &req.ID}); err != nil {
		if isNotFound(err) {
			return &plugin.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete security group %s: %w", req.ID, err)
	}
	return &plugin.DeleteResponse{}, nil
}

func (p *Provider) readSecurityGroup(ctx context.Context, req *plugin.ReadRequest) (*plugin.ReadResponse, error) {
	resp, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{req.ID}})
	if err != nil {
		if isNotFound(err) {
			return &plugin.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to describe security group %s: %w", req.ID, err)
	}
	if len(resp.SecurityGroups) == 0 {
		return &plugin.ReadResponse{Exists: false}, nil
	}

	group := resp.SecurityGroups[0]
	state := SecurityGroupState{
		ID:    *group.GroupId,
		Name:  aws.ToString(group.GroupName),
		VpcID: aws.ToString(group.VpcId),
	}
	stateJSON, _ := json.Marshal(state)
	return &plugin.ReadResponse{Exists: true, StateJSON: stateJSON}, nil
}

func toIPPermissions(rules []SecurityGroupRule) []types.IpPermission {
	var perms []types.IpPermission
	for _, rule := range rules {
		var ipRanges []types.IpRange
		for _, cidr := range rule.CidrBlocks {
			ipRanges = append(ipRanges, types.IpRange{CidrIp: aws.String(cidr)})
		}
		perms = append(perms, types.IpPermission{
			IpProtocol: aws.String(rule.Protocol),
			FromPort:   aws.Int32(int32(rule.FromPort)),
			ToPort:     aws.Int32(int32(rule.ToPort)),
			IpRanges:   ipRanges,
		})
	}
	return perms
}

func (p *Provider) tagResource(ctx context.Context, id string, tags map[string]string) {
	if len(tags) == 0 {
		return
	}
	var ec2Tags []types.Tag
	for k, v := range tags {
		ec2Tags = append(ec2Tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	_, _ = p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{id},
		Tags:      ec2Tags,
	})
}

// isNotFound reports whether an API error indicates the resource is already
// gone. Deletes treat these as success.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "InvalidVpcID.NotFound", "InvalidSubnetID.NotFound", "InvalidGroup.NotFound",
		"InvalidInternetGatewayID.NotFound", "InvalidRouteTableID.NotFound",
		"InvalidAssociationID.NotFound", "RepositoryNotFoundException",
		"ClusterNotFoundException", "ServiceNotFoundException",
		"ResourceNotFoundException", "NoSuchEntity", "NoSuchEntityException",
		"LoadBalancerNotFound", "TargetGroupNotFound", "ListenerNotFound":
		return true
	}
	return false
}
