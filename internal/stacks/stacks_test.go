package stacks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(
		Descriptor{ID: Bootstrap, Project: "aws-bootstrap"},
		Descriptor{ID: Vpc, Project: "aws-vpc"},
		Descriptor{ID: Eks, Project: "aws-eks", DependsOn: []ID{Vpc}},
		Descriptor{ID: K8s, Project: "k8s", DependsOn: []ID{Eks}, Environments: []string{"prod", "Staging"}},
	)
	require.NoError(t, err)
	return r
}

func TestParseID(t *testing.T) {
	tests := []struct {
		input    string
		expected ID
	}{
		{"", All},
		{"all", All},
		{"ALL", All},
		{"aws", Aws},
		{"bootstrap", Bootstrap},
		{"aws-bootstrap", Bootstrap},
		{"vpc", Vpc},
		{"aws-vpc", Vpc},
		{"Eks", Eks},
		{"aws-eks", Eks},
		{"k8s", K8s},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			id, err := ParseID(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, id)
		})
	}

	_, err := ParseID("database")
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	assert.Equal(t, []ID{Vpc, Eks, K8s}, Expand(All))
	assert.Equal(t, []ID{Vpc, Eks}, Expand(Aws))
	assert.Equal(t, []ID{Bootstrap}, Expand(Bootstrap))
	assert.Panics(t, func() { Expand(ID(99)) })
}

func TestExpand_ReturnsCopy(t *testing.T) {
	ids := Expand(All)
	ids[0] = K8s
	assert.Equal(t, []ID{Vpc, Eks, K8s}, Expand(All))
}

func TestOrder_ReverseIsExactInverse(t *testing.T) {
	r := testRegistry(t)

	for _, id := range []ID{All, Aws, Bootstrap, Vpc, Eks, K8s} {
		t.Run(id.Name(), func(t *testing.T) {
			forward, err := r.Order(id, false)
			require.NoError(t, err)
			backward, err := r.Order(id, true)
			require.NoError(t, err)

			require.NotEmpty(t, forward)
			require.Len(t, backward, len(forward))
			for i := range forward {
				assert.Equal(t, forward[i], backward[len(backward)-1-i])
			}

			seen := make(map[ID]bool)
			for _, sid := range forward {
				assert.False(t, seen[sid], "duplicate %s", sid)
				seen[sid] = true
			}
		})
	}
}

func TestOrder_RespectsDependencies(t *testing.T) {
	// Registration order deliberately disagrees with dependency order.
	r, err := NewRegistry(
		Descriptor{ID: K8s, Project: "k8s", DependsOn: []ID{Eks}},
		Descriptor{ID: Eks, Project: "aws-eks", DependsOn: []ID{Vpc}},
		Descriptor{ID: Vpc, Project: "aws-vpc"},
	)
	require.NoError(t, err)

	order, err := r.Order(All, false)
	require.NoError(t, err)
	assert.Equal(t, []ID{Vpc, Eks, K8s}, order)
}

func TestOrder_UnregisteredStack(t *testing.T) {
	r, err := NewRegistry(Descriptor{ID: Vpc, Project: "aws-vpc"})
	require.NoError(t, err)

	_, err = r.Order(All, false)
	assert.Error(t, err)
}

func TestNewRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name        string
		descriptors []Descriptor
	}{
		{"duplicate id", []Descriptor{{ID: Vpc, Project: "a"}, {ID: Vpc, Project: "b"}}},
		{"duplicate project", []Descriptor{{ID: Vpc, Project: "a"}, {ID: Eks, Project: "a"}}},
		{"composite", []Descriptor{{ID: All, Project: "all"}}},
		{"missing project", []Descriptor{{ID: Vpc}}},
		{"unknown dependency", []Descriptor{{ID: Eks, Project: "aws-eks", DependsOn: []ID{Vpc}}}},
		{"cycle", []Descriptor{
			{ID: Vpc, Project: "aws-vpc", DependsOn: []ID{Eks}},
			{ID: Eks, Project: "aws-eks", DependsOn: []ID{Vpc}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.descriptors...)
			assert.Error(t, err)
		})
	}
}

func TestSelect_FiltersByEnvironment(t *testing.T) {
	r := testRegistry(t)

	prod, err := r.Select(All, false, "PROD")
	require.NoError(t, err)
	assert.Equal(t, []string{"aws-vpc", "aws-eks", "k8s"}, projects(prod))

	staging, err := r.Select(All, true, "staging")
	require.NoError(t, err)
	assert.Equal(t, []string{"k8s", "aws-eks", "aws-vpc"}, projects(staging))

	dev, err := r.Select(All, false, "dev")
	require.NoError(t, err)
	assert.Equal(t, []string{"aws-vpc", "aws-eks"}, projects(dev))
}

func TestAppliesTo(t *testing.T) {
	assert.True(t, Descriptor{}.AppliesTo("anything"))
	assert.True(t, Descriptor{Environments: []string{"Prod"}}.AppliesTo("prod"))
	assert.False(t, Descriptor{Environments: []string{"prod"}}.AppliesTo("dev"))
}

func TestGet(t *testing.T) {
	r := testRegistry(t)

	d, err := r.Get(Eks)
	require.NoError(t, err)
	assert.Equal(t, "aws-eks", d.Project)

	_, err = r.Get(All)
	assert.Error(t, err)
}

func projects(ds []Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Project
	}
	return out
}
