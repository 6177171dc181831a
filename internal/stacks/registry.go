package stacks

import (
	"fmt"
	"strings"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dungeon-io/dungeon/internal/config"
)

// ProgramFunc builds the inline Pulumi program of a stack from the loaded configuration.
type ProgramFunc func(cfg *config.Config) pulumi.RunFunc

// Descriptor describes one concrete stack.
type Descriptor struct {
	ID      ID
	Project string
	// Environments restricts the stack to the named environments; nil applies everywhere.
	Environments []string
	DependsOn    []ID
	Program      ProgramFunc
}

// AppliesTo reports whether the stack is deployed to env.
func (d Descriptor) AppliesTo(env string) bool {
	if d.Environments == nil {
		return true
	}
	for _, e := range d.Environments {
		if strings.EqualFold(e, env) {
			return true
		}
	}
	return false
}

// Registry holds the immutable set of stack descriptors.
type Registry struct {
	descriptors []Descriptor
	byID        map[ID]int
}

// NewRegistry validates and indexes descriptors. Registration order breaks
// ordering ties.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byID: make(map[ID]int, len(descriptors))}
	projects := make(map[string]ID, len(descriptors))

	for _, d := range descriptors {
		if d.ID.Composite() {
			return nil, fmt.Errorf("stack %s: composite identifiers cannot be registered", d.ID)
		}
		if _, exists := r.byID[d.ID]; exists {
			return nil, fmt.Errorf("stack %s: already registered", d.ID)
		}
		if d.Project == "" {
			return nil, fmt.Errorf("stack %s: project name is required", d.ID)
		}
		if other, exists := projects[d.Project]; exists {
			return nil, fmt.Errorf("stack %s: project %q already used by %s", d.ID, d.Project, other)
		}
		d.Environments = append([]string(nil), d.Environments...)
		if len(d.Environments) == 0 {
			d.Environments = nil
		}
		d.DependsOn = append([]ID(nil), d.DependsOn...)

		projects[d.Project] = d.ID
		r.byID[d.ID] = len(r.descriptors)
		r.descriptors = append(r.descriptors, d)
	}

	for _, d := range r.descriptors {
		for _, dep := range d.DependsOn {
			if _, ok := r.byID[dep]; !ok {
				return nil, fmt.Errorf("stack %s: depends on unregistered stack %s", d.ID, dep)
			}
		}
	}
	if _, err := r.sort(r.ids()); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the descriptor of a concrete stack.
func (r *Registry) Get(id ID) (Descriptor, error) {
	i, ok := r.byID[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("stack not registered: %s", id)
	}
	return r.descriptors[i], nil
}

// Descriptors returns every registered descriptor in registration order.
func (r *Registry) Descriptors() []Descriptor {
	return append([]Descriptor(nil), r.descriptors...)
}

// Select returns the descriptors for id in processing order, dropping stacks
// that do not apply to env.
func (r *Registry) Select(id ID, reverse bool, env string) ([]Descriptor, error) {
	ids, err := r.Order(id, reverse)
	if err != nil {
		return nil, err
	}
	selected := make([]Descriptor, 0, len(ids))
	for _, sid := range ids {
		d, err := r.Get(sid)
		if err != nil {
			return nil, err
		}
		if d.AppliesTo(env) {
			selected = append(selected, d)
		}
	}
	return selected, nil
}

func (r *Registry) ids() []ID {
	ids := make([]ID, len(r.descriptors))
	for i, d := range r.descriptors {
		ids[i] = d.ID
	}
	return ids
}
