package plan

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

var _ Extension = (*WrappedSelectNode)(nil)

// WrappedSelectType is the relational shape of a wrapped select.
type WrappedSelectType int

const (
	WrappedSelectProjection WrappedSelectType = iota
	WrappedSelectAggregate
)

func (t WrappedSelectType) String() string {
	if t == WrappedSelectAggregate {
		return "Aggregate"
	}
	return "Projection"
}

// JoinType is the kind of a wrapped join.
type JoinType int

const (
	JoinInner JoinType = iota
	JoinLeft
	JoinRight
	JoinFull
)

func (t JoinType) String() string {
	switch t {
	case JoinLeft:
		return "Left"
	case JoinRight:
		return "Right"
	case JoinFull:
		return "Full"
	default:
		return "Inner"
	}
}

// WrappedJoin is one joined input of a wrapped select.
type WrappedJoin struct {
	Input LogicalPlan
	On    Expr
	Type  JoinType
}

// WrappedSelectNode is a select over cube scans intended for push-down to
// the remote service as native SQL. All of its expressions and inputs are
// exposed so host rewrite passes can operate on it.
type WrappedSelectNode struct {
	schema     *arrow.Schema
	SelectType WrappedSelectType
	Projection []Expr
	GroupBy    []Expr
	Aggregates []Expr
	Windows    []Expr
	From       LogicalPlan
	Joins      []WrappedJoin
	Filters    []Expr
	Having     []Expr
	Limit      *int
	Offset     *int
	OrderBy    []Expr
	Alias      *string
	Ungrouped  bool
}

// NewWrappedSelectNode creates a WrappedSelectNode over from.
func NewWrappedSelectNode(schema *arrow.Schema, selectType WrappedSelectType, from LogicalPlan) *WrappedSelectNode {
	return &WrappedSelectNode{schema: schema, SelectType: selectType, From: from}
}

func (n *WrappedSelectNode) extension() {}

// Schema implements LogicalPlan.
func (n *WrappedSelectNode) Schema() *arrow.Schema { return n.schema }

// Inputs implements LogicalPlan: From first, then every join input.
func (n *WrappedSelectNode) Inputs() []LogicalPlan {
	inputs := make([]LogicalPlan, 0, 1+len(n.Joins))
	inputs = append(inputs, n.From)
	for _, j := range n.Joins {
		inputs = append(inputs, j.Input)
	}
	return inputs
}

// Expressions implements LogicalPlan. The order is projection, group by,
// aggregates, windows, join conditions, filters, having, order by.
func (n *WrappedSelectNode) Expressions() []Expr {
	exprs := make([]Expr, 0, n.exprCount())
	exprs = append(exprs, n.Projection...)
	exprs = append(exprs, n.GroupBy...)
	exprs = append(exprs, n.Aggregates...)
	exprs = append(exprs, n.Windows...)
	for _, j := range n.Joins {
		exprs = append(exprs, j.On)
	}
	exprs = append(exprs, n.Filters...)
	exprs = append(exprs, n.Having...)
	exprs = append(exprs, n.OrderBy...)
	return exprs
}

func (n *WrappedSelectNode) exprCount() int {
	return len(n.Projection) + len(n.GroupBy) + len(n.Aggregates) + len(n.Windows) +
		len(n.Joins) + len(n.Filters) + len(n.Having) + len(n.OrderBy)
}

// WithNewExprs implements LogicalPlan.
//
// Limit, Offset and Alias are not expressions of the node and come back
// unset on the rebuilt node. Rewrite passes that go through WithNewExprs
// therefore drop them; see DESIGN.md.
func (n *WrappedSelectNode) WithNewExprs(exprs []Expr, inputs []LogicalPlan) (LogicalPlan, error) {
	if err := checkArity("WrappedSelect", exprs, n.exprCount(), inputs, 1+len(n.Joins)); err != nil {
		return nil, err
	}

	rest := exprs
	take := func(k int) []Expr {
		out := make([]Expr, k)
		copy(out, rest[:k])
		rest = rest[k:]
		return out
	}

	out := &WrappedSelectNode{
		schema:     n.schema,
		SelectType: n.SelectType,
		From:       inputs[0],
		Ungrouped:  n.Ungrouped,
	}
	out.Projection = take(len(n.Projection))
	out.GroupBy = take(len(n.GroupBy))
	out.Aggregates = take(len(n.Aggregates))
	out.Windows = take(len(n.Windows))
	joinOn := take(len(n.Joins))
	out.Filters = take(len(n.Filters))
	out.Having = take(len(n.Having))
	out.OrderBy = take(len(n.OrderBy))

	if len(n.Joins) > 0 {
		out.Joins = make([]WrappedJoin, len(n.Joins))
		for i, j := range n.Joins {
			out.Joins[i] = WrappedJoin{Input: inputs[i+1], On: joinOn[i], Type: j.Type}
		}
	}
	return out, nil
}

// Explain implements LogicalPlan.
func (n *WrappedSelectNode) Explain() string {
	from := "None"
	if n.From != nil {
		from = n.From.Explain()
	}
	joins := make([]string, len(n.Joins))
	for i, j := range n.Joins {
		joins[i] = fmt.Sprintf("(%s, %s, %s)", j.Input.Explain(), j.On, j.Type)
	}
	return fmt.Sprintf(
		"WrappedSelect: select_type=%s, projection_expr=[%s], group_expr=[%s], aggregate_expr=[%s], window_expr=[%s], from=%s, joins=[%s], filter_expr=[%s], having_expr=[%s], limit=%s, offset=%s, order_expr=[%s], alias=%s",
		n.SelectType,
		joinExprs(n.Projection),
		joinExprs(n.GroupBy),
		joinExprs(n.Aggregates),
		joinExprs(n.Windows),
		from,
		strings.Join(joins, ", "),
		joinExprs(n.Filters),
		joinExprs(n.Having),
		optionString(n.Limit),
		optionString(n.Offset),
		joinExprs(n.OrderBy),
		optionString(n.Alias),
	)
}

func optionString[T any](v *T) string {
	if v == nil {
		return "None"
	}
	return fmt.Sprintf("Some(%v)", *v)
}
