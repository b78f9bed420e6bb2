package plan

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"cube-sql/internal/domain"
)

var _ Extension = (*CubeScanWrapperNode)(nil)

// CubeScanWrapperNode wraps a subtree over cube scans that the push-down
// rewriter translates into a single remote query. Until the rewriter runs,
// MemberFields and WrappedSQL are unset and the node cannot be executed.
//
// The wrapped plan is opaque to host rewrite passes: the node has no inputs
// and no expressions of its own.
type CubeScanWrapperNode struct {
	WrappedPlan  LogicalPlan
	MemberFields []domain.MemberField
	WrappedSQL   *domain.SQLQuery
	Request      *domain.RemoteQuery
}

// NewCubeScanWrapperNode wraps plan, unresolved.
func NewCubeScanWrapperNode(wrapped LogicalPlan) *CubeScanWrapperNode {
	return &CubeScanWrapperNode{WrappedPlan: wrapped}
}

// Resolve returns a copy carrying the rewriter's output.
func (n *CubeScanWrapperNode) Resolve(fields []domain.MemberField, sql domain.SQLQuery, request *domain.RemoteQuery) *CubeScanWrapperNode {
	out := *n
	out.MemberFields = fields
	out.WrappedSQL = &sql
	out.Request = request
	return &out
}

// Resolved reports whether the rewriter has attached member fields and SQL.
func (n *CubeScanWrapperNode) Resolved() bool {
	return n.MemberFields != nil && n.WrappedSQL != nil
}

func (n *CubeScanWrapperNode) extension() {}

// Schema implements LogicalPlan.
func (n *CubeScanWrapperNode) Schema() *arrow.Schema { return n.WrappedPlan.Schema() }

// Inputs implements LogicalPlan.
func (n *CubeScanWrapperNode) Inputs() []LogicalPlan { return nil }

// Expressions implements LogicalPlan.
func (n *CubeScanWrapperNode) Expressions() []Expr { return nil }

// WithNewExprs implements LogicalPlan.
func (n *CubeScanWrapperNode) WithNewExprs(exprs []Expr, inputs []LogicalPlan) (LogicalPlan, error) {
	if err := checkArity("CubeScanWrapper", exprs, 0, inputs, 0); err != nil {
		return nil, err
	}
	out := *n
	return &out, nil
}

// Explain implements LogicalPlan.
func (n *CubeScanWrapperNode) Explain() string {
	if !n.Resolved() {
		return fmt.Sprintf("CubeScanWrapper [unresolved]: wrapped_plan=%s", n.WrappedPlan.Explain())
	}
	return fmt.Sprintf("CubeScanWrapper: member_fields=%v, sql=%s", n.MemberFields, n.WrappedSQL.SQL)
}
