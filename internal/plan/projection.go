package plan

import (
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
)

var _ LogicalPlan = (*Projection)(nil)

// Projection is the host engine's generic projection node.
type Projection struct {
	schema *arrow.Schema
	Exprs  []Expr
	Input  LogicalPlan
}

// NewProjection creates a projection of exprs over input.
func NewProjection(schema *arrow.Schema, exprs []Expr, input LogicalPlan) *Projection {
	return &Projection{schema: schema, Exprs: exprs, Input: input}
}

// Schema implements LogicalPlan.
func (p *Projection) Schema() *arrow.Schema { return p.schema }

// Inputs implements LogicalPlan.
func (p *Projection) Inputs() []LogicalPlan { return []LogicalPlan{p.Input} }

// Expressions implements LogicalPlan.
func (p *Projection) Expressions() []Expr { return p.Exprs }

// WithNewExprs implements LogicalPlan.
func (p *Projection) WithNewExprs(exprs []Expr, inputs []LogicalPlan) (LogicalPlan, error) {
	if err := checkArity("Projection", exprs, len(p.Exprs), inputs, 1); err != nil {
		return nil, err
	}
	return &Projection{schema: p.schema, Exprs: slices.Clone(exprs), Input: inputs[0]}, nil
}

// Explain implements LogicalPlan.
func (p *Projection) Explain() string { return "Projection: " + joinExprs(p.Exprs) }

// FindCubeScans returns every CubeScanNode under p in depth-first pre-order,
// descending into wrapped plans of wrapper nodes.
func FindCubeScans(p LogicalPlan) []*CubeScanNode {
	var out []*CubeScanNode
	var walk func(LogicalPlan)
	walk = func(n LogicalPlan) {
		if n == nil {
			return
		}
		switch node := n.(type) {
		case *CubeScanNode:
			out = append(out, node)
		case *CubeScanWrapperNode:
			walk(node.WrappedPlan)
		}
		for _, in := range n.Inputs() {
			walk(in)
		}
	}
	walk(p)
	return out
}
