// Package plan defines the logical plan contract shared with the host query
// engine and the cube-specific logical nodes inserted into it.
package plan

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"cube-sql/internal/domain"
)

// LogicalPlan is a node of the host engine's logical plan tree. Rewrite
// passes treat every node uniformly through this contract.
type LogicalPlan interface {
	// Schema is the output schema of the node.
	Schema() *arrow.Schema
	// Inputs are the child plans, in a stable order.
	Inputs() []LogicalPlan
	// Expressions are all expressions the node evaluates, in a stable order.
	Expressions() []Expr
	// WithNewExprs rebuilds the node from rewritten expressions and inputs.
	// Both lists must match Expressions and Inputs in length.
	WithNewExprs(exprs []Expr, inputs []LogicalPlan) (LogicalPlan, error)
	// Explain renders the node (without its inputs) for EXPLAIN output.
	Explain() string
}

// Extension is the closed set of cube nodes the extension planner lowers.
// It is implemented by *CubeScanNode, *WrappedSelectNode and
// *CubeScanWrapperNode only.
type Extension interface {
	LogicalPlan
	extension()
}

// Expr is an expression of the host engine.
type Expr interface {
	String() string
}

// Column references a column of an input, optionally qualified.
type Column struct {
	Relation string
	Name     string
}

func (c Column) String() string {
	if c.Relation == "" {
		return c.Name
	}
	return c.Relation + "." + c.Name
}

// LiteralExpr is a constant.
type LiteralExpr struct {
	Value domain.Scalar
}

// String renders the value the way it would appear in SQL: NULL, a
// single-quoted string or the bare value.
func (l LiteralExpr) String() string {
	switch v := l.Value.Value.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	default:
		return fmt.Sprint(v)
	}
}

// BinaryExpr applies an infix operator.
type BinaryExpr struct {
	Left  Expr
	Op    string
	Right Expr
}

func (b BinaryExpr) String() string { return fmt.Sprintf("%s %s %s", b.Left, b.Op, b.Right) }

// AggregateExpr applies an aggregate function.
type AggregateExpr struct {
	Func     string
	Args     []Expr
	Distinct bool
}

func (a AggregateExpr) String() string {
	distinct := ""
	if a.Distinct {
		distinct = "DISTINCT "
	}
	return fmt.Sprintf("%s(%s%s)", strings.ToUpper(a.Func), distinct, joinExprs(a.Args))
}

// AliasExpr names an expression.
type AliasExpr struct {
	Expr Expr
	Name string
}

func (a AliasExpr) String() string { return fmt.Sprintf("%s AS %s", a.Expr, a.Name) }

// SortExpr orders by an expression.
type SortExpr struct {
	Expr       Expr
	Asc        bool
	NullsFirst bool
}

func (s SortExpr) String() string {
	dir, nulls := "DESC", "NULLS LAST"
	if s.Asc {
		dir = "ASC"
	}
	if s.NullsFirst {
		nulls = "NULLS FIRST"
	}
	return fmt.Sprintf("%s %s %s", s.Expr, dir, nulls)
}

func joinExprs(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

func checkArity(node string, exprs []Expr, wantExprs int, inputs []LogicalPlan, wantInputs int) error {
	if len(inputs) != wantInputs {
		return domain.ErrInternal("%s: input size inconsistent: got %d, want %d", node, len(inputs), wantInputs)
	}
	if len(exprs) != wantExprs {
		return domain.ErrInternal("%s: expression size inconsistent: got %d, want %d", node, len(exprs), wantExprs)
	}
	return nil
}

// Format renders plan and its inputs as an indented tree.
func Format(p LogicalPlan) string {
	var b strings.Builder
	format(&b, p, 0)
	return b.String()
}

func format(b *strings.Builder, p LogicalPlan, depth int) {
	if p == nil {
		return
	}
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(p.Explain())
	b.WriteByte('\n')
	for _, in := range p.Inputs() {
		format(b, in, depth+1)
	}
}
