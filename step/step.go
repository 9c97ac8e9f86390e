// Package step executes the steps of a scenario.
//
// Steps run strictly in order. A failed step stops its remaining siblings unless the
// enclosing group is in multi-assert mode, a bypassed step never stops them, and an
// ignored step always does. Composite steps run their own children under the same
// rules inside a step-group scope and roll the children's statuses and details up.
package step

import (
	"context"

	"github.com/ethereum-optimism/infra/op-scenario/decorator"
	"github.com/ethereum-optimism/infra/op-scenario/scope"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

// Func is the body of a leaf step.
type Func func(ctx context.Context) error

// ContextFactory creates the value shared by the children of a step group.
// It runs inside the group's own scope, right before the first child.
type ContextFactory func(ctx context.Context, s *scope.Scope) (interface{}, error)

// Definition describes one step. Exactly one of Run and Group is set.
type Definition struct {
	Name       string
	Parameters []types.Argument
	Run        Func
	Group      *Group
	Decorators []decorator.Step
}

// Group is the body of a composite step.
type Group struct {
	Context     ContextFactory
	Steps       []Definition
	MultiAssert bool
}

// Do defines a leaf step.
func Do(name string, fn Func) Definition {
	return Definition{Name: name, Run: fn}
}

// Composite defines a step made of the given children.
func Composite(name string, children ...Definition) Definition {
	return Definition{Name: name, Group: &Group{Steps: children}}
}

// Of defines a composite step from a prepared group.
func Of(name string, g Group) Definition {
	return Definition{Name: name, Group: &g}
}

// WithParameters returns a copy of d carrying the given parameters.
func (d Definition) WithParameters(params ...types.Argument) Definition {
	d.Parameters = append(append([]types.Argument(nil), d.Parameters...), params...)
	return d
}

// WithDecorators returns a copy of d with additional local decorators.
func (d Definition) WithDecorators(decorators ...decorator.Step) Definition {
	d.Decorators = append(append([]decorator.Step(nil), d.Decorators...), decorators...)
	return d
}

// MultiAssert returns a copy of a composite definition whose children all run
// regardless of failures.
func (d Definition) MultiAssert() Definition {
	if d.Group != nil {
		g := *d.Group
		g.MultiAssert = true
		d.Group = &g
	}
	return d
}

// WithContext returns a copy of a composite definition resolving its shared context with f.
func (d Definition) WithContext(f ContextFactory) Definition {
	if d.Group != nil {
		g := *d.Group
		g.Context = f
		d.Group = &g
	}
	return d
}
