package stacks

import (
	"fmt"
	"strings"
)

// ID identifies a stack or a composite set of stacks.
type ID int

const (
	All ID = iota
	Aws
	Bootstrap
	Vpc
	Eks
	K8s
)

var names = map[ID]string{
	All:       "all",
	Aws:       "aws",
	Bootstrap: "aws-bootstrap",
	Vpc:       "aws-vpc",
	Eks:       "aws-eks",
	K8s:       "k8s",
}

// expansions lists composite identifiers in forward (creation) order.
var expansions = map[ID][]ID{
	All: {Vpc, Eks, K8s},
	Aws: {Vpc, Eks},
}

// Name returns the project-style name of the identifier.
func (id ID) Name() string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("stack(%d)", int(id))
}

func (id ID) String() string { return id.Name() }

// Composite reports whether id expands to more than itself.
func (id ID) Composite() bool {
	_, ok := expansions[id]
	return ok
}

// ParseID parses a stack token. Both short (vpc) and project (aws-vpc) names are accepted.
func ParseID(s string) (ID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return All, nil
	case "aws":
		return Aws, nil
	case "bootstrap", "aws-bootstrap":
		return Bootstrap, nil
	case "vpc", "aws-vpc":
		return Vpc, nil
	case "eks", "aws-eks":
		return Eks, nil
	case "k8s":
		return K8s, nil
	default:
		return 0, fmt.Errorf("unknown stack %q (expected all, aws, bootstrap, vpc, eks or k8s)", s)
	}
}

// Expand resolves id to its concrete identifiers in forward order.
// It panics on identifiers outside the known set.
func Expand(id ID) []ID {
	if ids, ok := expansions[id]; ok {
		return append([]ID(nil), ids...)
	}
	if _, ok := names[id]; !ok {
		panic(fmt.Sprintf("stacks: unknown identifier %d", int(id)))
	}
	return []ID{id}
}
