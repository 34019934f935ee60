package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrapin-dev/terrapin/internal/ir"
)

func TestExpandResources_Count(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "aws:EC2.Subnet",
			Name:     "private",
			Provider: "aws",
			Count:    3,
			Properties: map[string]any{
				"cidrBlock": "10.0.${count.index}.0/24",
			},
		},
	}

	expanded := ExpandResources(resources)
	require.Len(t, expanded, 3)

	assert.Equal(t, "private[0]", expanded[0].Name)
	assert.Equal(t, "private[2]", expanded[2].Name)
	assert.Equal(t, "10.0.1.0/24", expanded[1].Properties["cidrBlock"])
}

func TestExpandResources_ForEach(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "aws:ECR.Repository",
			Name:     "repo",
			Provider: "aws",
			ForEach: map[string]any{
				"api": "api-service",
				"web": "web-service",
			},
			Properties: map[string]any{
				"name": "${each.value}",
			},
		},
	}

	expanded := ExpandResources(resources)
	require.Len(t, expanded, 2)

	names := map[string]string{}
	for _, res := range expanded {
		names[res.Name] = res.Properties["name"].(string)
	}
	assert.Equal(t, "api-service", names[`repo["api"]`])
	assert.Equal(t, "web-service", names[`repo["web"]`])
}

func TestExpandResources_PlainResourceUntouched(t *testing.T) {
	res := &ir.Resource{
		Type:       "aws:EC2.Vpc",
		Name:       "main",
		Provider:   "aws",
		Properties: map[string]any{"cidrBlock": "10.0.0.0/16"},
	}

	expanded := ExpandResources([]*ir.Resource{res})
	require.Len(t, expanded, 1)
	assert.Same(t, res, expanded[0])
}

func TestExpandResources_ClonesAreIndependent(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "null_resource",
			Name:     "n",
			Provider: "null",
			Count:    2,
			Properties: map[string]any{
				"triggers": map[string]any{"idx": "${count.index}"},
			},
		},
	}

	expanded := ExpandResources(resources)
	require.Len(t, expanded, 2)

	// Mutating one clone's nested property must not leak into the other.
	expanded[0].Properties["triggers"].(map[string]any)["idx"] = "mutated"
	assert.Equal(t, "1", expanded[1].Properties["triggers"].(map[string]any)["idx"])
}
