package plan

import (
	"fmt"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	jsoniter "github.com/json-iterator/go"

	"cube-sql/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var _ Extension = (*CubeScanNode)(nil)

// CubeScanNode is a leaf that loads a fully specified query from the cube
// service. It has no inputs and no expressions.
type CubeScanNode struct {
	schema       *arrow.Schema
	MemberFields []domain.MemberField
	Request      domain.RemoteQuery
	AuthContext  domain.AuthContext
	Options      domain.ScanOptions
	UsedCubes    []string
	SpanID       *domain.SpanID
}

// NewCubeScanNode creates a CubeScanNode.
func NewCubeScanNode(
	schema *arrow.Schema,
	memberFields []domain.MemberField,
	request domain.RemoteQuery,
	auth domain.AuthContext,
	options domain.ScanOptions,
	usedCubes []string,
	span *domain.SpanID,
) *CubeScanNode {
	return &CubeScanNode{
		schema:       schema,
		MemberFields: memberFields,
		Request:      request,
		AuthContext:  auth,
		Options:      options,
		UsedCubes:    usedCubes,
		SpanID:       span,
	}
}

func (n *CubeScanNode) extension() {}

// Schema implements LogicalPlan.
func (n *CubeScanNode) Schema() *arrow.Schema { return n.schema }

// Inputs implements LogicalPlan.
func (n *CubeScanNode) Inputs() []LogicalPlan { return nil }

// Expressions implements LogicalPlan.
func (n *CubeScanNode) Expressions() []Expr { return nil }

// WithNewExprs implements LogicalPlan. The node is a leaf, so both lists
// must be empty.
func (n *CubeScanNode) WithNewExprs(exprs []Expr, inputs []LogicalPlan) (LogicalPlan, error) {
	if err := checkArity("CubeScan", exprs, 0, inputs, 0); err != nil {
		return nil, err
	}
	return &CubeScanNode{
		schema:       n.schema,
		MemberFields: slices.Clone(n.MemberFields),
		Request:      n.Request.Clone(),
		AuthContext:  n.AuthContext,
		Options:      n.Options,
		UsedCubes:    slices.Clone(n.UsedCubes),
		SpanID:       n.SpanID,
	}, nil
}

// Explain implements LogicalPlan.
func (n *CubeScanNode) Explain() string {
	request, err := json.MarshalIndent(n.Request, "", "  ")
	if err != nil {
		return fmt.Sprintf("CubeScan: request=<%v>", err)
	}
	return "CubeScan: request=" + string(request)
}
