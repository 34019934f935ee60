package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrapin-dev/terrapin/internal/ir"
)

func TestBuildGraph_NoDependencies(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null"},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null"},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	order := g.CreationOrder()
	assert.Len(t, order, 3)

	waves := g.Waves()
	require.Len(t, waves, 1)
	assert.Len(t, waves[0], 3)
}

func TestBuildGraph_ExplicitDependsOn(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null", DependsOn: []string{"null_resource.a"}},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	order := g.CreationOrder()
	require.Len(t, order, 3)

	// b must come before a, a must come before c
	posB := indexOf(order, "null_resource.b")
	posA := indexOf(order, "null_resource.a")
	posC := indexOf(order, "null_resource.c")

	assert.Less(t, posB, posA, "b should come before a")
	assert.Less(t, posA, posC, "a should come before c")
}

func TestBuildGraph_ImplicitRef(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "aws:EC2.Subnet",
			Name:     "my-subnet",
			Provider: "aws",
			Properties: map[string]any{
				"vpcId": "ref://aws:EC2.Vpc/my-vpc/id",
			},
		},
		{Type: "aws:EC2.Vpc", Name: "my-vpc", Provider: "aws"},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	order := g.CreationOrder()
	require.Len(t, order, 2)

	posVpc := indexOf(order, "aws:EC2.Vpc.my-vpc")
	posSubnet := indexOf(order, "aws:EC2.Subnet.my-subnet")

	assert.Less(t, posVpc, posSubnet, "VPC should be created before subnet")
}

func TestBuildGraph_CycleDetection(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null", DependsOn: []string{"null_resource.c"}},
		{Type: "null_resource", Name: "c", Provider: "null", DependsOn: []string{"null_resource.a"}},
		{Type: "null_resource", Name: "standalone", Provider: "null"},
	}

	_, err := BuildGraph(resources)
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	// Only the cycle members are reported, not the sortable remainder.
	assert.ElementsMatch(t, []string{
		"null_resource.a", "null_resource.b", "null_resource.c",
	}, cycleErr.Members)
}

func TestBuildGraph_UnknownReference(t *testing.T) {
	t.Run("dependsOn", func(t *testing.T) {
		resources := []*ir.Resource{
			{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.ghost"}},
		}
		_, err := BuildGraph(resources)
		var refErr *UnknownReferenceError
		require.ErrorAs(t, err, &refErr)
		assert.Equal(t, "null_resource.a", refErr.Referrer)
		assert.Equal(t, "null_resource.ghost", refErr.Reference)
	})

	t.Run("property ref", func(t *testing.T) {
		resources := []*ir.Resource{
			{
				Type:     "aws:EC2.Subnet",
				Name:     "orphan",
				Provider: "aws",
				Properties: map[string]any{
					"vpcId": "ref://aws:EC2.Vpc/missing/id",
				},
			},
		}
		_, err := BuildGraph(resources)
		var refErr *UnknownReferenceError
		require.ErrorAs(t, err, &refErr)
		assert.Equal(t, "ref://aws:EC2.Vpc/missing/id", refErr.Reference)
	})
}

func TestBuildGraph_DestructionOrder(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	revOrder := g.DestructionOrder()
	require.Len(t, revOrder, 2)

	// a depends on b, so a must be destroyed first
	posA := indexOf(revOrder, "null_resource.a")
	posB := indexOf(revOrder, "null_resource.b")

	assert.Less(t, posA, posB, "a should be destroyed before b")
}

func TestWaves_Levels(t *testing.T) {
	// vpc <- {subnet-a, subnet-b} <- service
	resources := []*ir.Resource{
		{Type: "aws:EC2.Vpc", Name: "vpc", Provider: "aws"},
		{
			Type: "aws:EC2.Subnet", Name: "a", Provider: "aws",
			Properties: map[string]any{"vpcId": "ref://aws:EC2.Vpc/vpc/id"},
		},
		{
			Type: "aws:EC2.Subnet", Name: "b", Provider: "aws",
			Properties: map[string]any{"vpcId": "ref://aws:EC2.Vpc/vpc/id"},
		},
		{
			Type: "null_resource", Name: "svc", Provider: "null",
			DependsOn: []string{"aws:EC2.Subnet.a", "aws:EC2.Subnet.b"},
		},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	waves := g.Waves()
	require.Len(t, waves, 3)
	assert.Equal(t, []string{"aws:EC2.Vpc.vpc"}, waves[0])
	assert.ElementsMatch(t, []string{"aws:EC2.Subnet.a", "aws:EC2.Subnet.b"}, waves[1])
	assert.Equal(t, []string{"null_resource.svc"}, waves[2])
}

func TestBuildGraphFromState(t *testing.T) {
	resources := []*ir.ResourceState{
		{Type: "aws:EC2.Vpc", Name: "vpc", Provider: "aws"},
		{Type: "aws:EC2.Subnet", Name: "a", Provider: "aws", Dependencies: []string{"aws:EC2.Vpc.vpc"}},
	}

	g, err := BuildGraphFromState(resources)
	require.NoError(t, err)

	rev := g.DestructionOrder()
	assert.Equal(t, []string{"aws:EC2.Subnet.a", "aws:EC2.Vpc.vpc"}, rev)
}

func TestRefToAddr(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"ref://aws:EC2.Vpc/my-vpc/id", "aws:EC2.Vpc.my-vpc"},
		{"ref://aws:ECR.Repository/app/repositoryUri", "aws:ECR.Repository.app"},
		{"ref://docker:Image/app/name", "docker:Image.app"},
		{"not-a-ref", ""},
		{"ref://short", ""},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.want, refToAddr(tt.ref))
		})
	}
}

func TestExtractRefs(t *testing.T) {
	props := map[string]any{
		"vpcId": "ref://aws:EC2.Vpc/my-vpc/id",
		"name":  "my-subnet",
		"tags": map[string]any{
			"ref": "ref://aws:IAM.Role/role1/arn",
		},
		"list": []any{
			"ref://aws:ECS.Cluster/main/id",
			"plain-string",
		},
	}

	refs := extractRefs(props)
	assert.Len(t, refs, 3)
	assert.Contains(t, refs, "ref://aws:EC2.Vpc/my-vpc/id")
	assert.Contains(t, refs, "ref://aws:IAM.Role/role1/arn")
	assert.Contains(t, refs, "ref://aws:ECS.Cluster/main/id")
}

func TestDependencies(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b", "null_resource.c"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null"},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	deps := g.Dependencies("null_resource.a")
	assert.Len(t, deps, 2)
	assert.Contains(t, deps, "null_resource.b")
	assert.Contains(t, deps, "null_resource.c")
}

func indexOf(slice []string, item string) int {
	for i, s := range slice {
		if s == item {
			return i
		}
	}
	return -1
}
