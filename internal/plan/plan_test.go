package plan

import (
	"errors"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cube-sql/internal/domain"
)

var testSchema = arrow.NewSchema([]arrow.Field{
	{Name: "count", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
}, nil)

func testScan(measure string) *CubeScanNode {
	limit := 10
	return NewCubeScanNode(
		testSchema,
		[]domain.MemberField{domain.Member(measure)},
		domain.RemoteQuery{Measures: []string{measure}, Limit: &limit},
		&domain.HTTPAuthContext{Token: "t"},
		domain.ScanOptions{},
		[]string{"Orders"},
		&domain.SpanID{ID: "span"},
	)
}

func requireInternal(t *testing.T, err error, contains string) {
	t.Helper()
	var internalErr *domain.InternalError
	require.True(t, errors.As(err, &internalErr), "want InternalError, got %v", err)
	assert.Contains(t, err.Error(), contains)
}

func TestCubeScanNode_WithNewExprs(t *testing.T) {
	scan := testScan("Orders.count")

	rebuilt, err := scan.WithNewExprs(nil, nil)
	require.NoError(t, err)
	clone := rebuilt.(*CubeScanNode)
	assert.Equal(t, scan.Request, clone.Request)
	assert.Equal(t, scan.UsedCubes, clone.UsedCubes)

	// The clone does not share request state with the original.
	*clone.Request.Limit = 99
	clone.Request.Measures[0] = "Orders.total"
	assert.Equal(t, 10, *scan.Request.Limit)
	assert.Equal(t, "Orders.count", scan.Request.Measures[0])

	_, err = scan.WithNewExprs([]Expr{Column{Name: "x"}}, nil)
	requireInternal(t, err, "expression size inconsistent")

	_, err = scan.WithNewExprs(nil, []LogicalPlan{scan})
	requireInternal(t, err, "input size inconsistent")
}

func TestCubeScanNode_Explain(t *testing.T) {
	s := testScan("Orders.count").Explain()
	assert.True(t, strings.HasPrefix(s, "CubeScan: request="), s)
	assert.Contains(t, s, `"Orders.count"`)
}

func wrappedSelect() *WrappedSelectNode {
	limit, offset, alias := 5, 2, "t"
	ws := NewWrappedSelectNode(testSchema, WrappedSelectAggregate, testScan("Orders.count"))
	ws.Projection = []Expr{Column{Name: "status"}}
	ws.GroupBy = []Expr{Column{Name: "status"}}
	ws.Aggregates = []Expr{AggregateExpr{Func: "sum", Args: []Expr{Column{Name: "count"}}}}
	ws.Joins = []WrappedJoin{{
		Input: testScan("Users.count"),
		On:    BinaryExpr{Left: Column{Relation: "o", Name: "user_id"}, Op: "=", Right: Column{Relation: "u", Name: "id"}},
		Type:  JoinLeft,
	}}
	ws.Filters = []Expr{BinaryExpr{Left: Column{Name: "count"}, Op: ">", Right: LiteralExpr{Value: domain.Int64Scalar(1)}}}
	ws.OrderBy = []Expr{SortExpr{Expr: Column{Name: "status"}, Asc: true}}
	ws.Limit, ws.Offset, ws.Alias = &limit, &offset, &alias
	ws.Ungrouped = true
	return ws
}

func TestWrappedSelectNode_InputsAndExpressions(t *testing.T) {
	ws := wrappedSelect()

	require.Len(t, ws.Inputs(), 2)
	exprs := ws.Expressions()
	require.Len(t, exprs, 6)
	assert.Equal(t, "status", exprs[0].String())
	assert.Equal(t, "SUM(count)", exprs[2].String())
	assert.Equal(t, "o.user_id = u.id", exprs[3].String())
	assert.Equal(t, "count > 1", exprs[4].String())
	assert.Equal(t, "status ASC NULLS LAST", exprs[5].String())
}

func TestWrappedSelectNode_WithNewExprs(t *testing.T) {
	ws := wrappedSelect()

	exprs := ws.Expressions()
	exprs[4] = BinaryExpr{Left: Column{Name: "count"}, Op: ">", Right: LiteralExpr{Value: domain.Int64Scalar(2)}}
	newJoin := testScan("Accounts.count")

	rebuilt, err := ws.WithNewExprs(exprs, []LogicalPlan{ws.From, newJoin})
	require.NoError(t, err)
	out := rebuilt.(*WrappedSelectNode)

	assert.Equal(t, "count > 2", out.Filters[0].String())
	assert.Same(t, newJoin, out.Joins[0].Input)
	assert.Equal(t, JoinLeft, out.Joins[0].Type)
	assert.Equal(t, WrappedSelectAggregate, out.SelectType)
	assert.True(t, out.Ungrouped)
	assert.Equal(t, ws.Expressions()[:4], out.Expressions()[:4])

	// Limit, offset and alias are not carried through reconstruction.
	assert.Nil(t, out.Limit)
	assert.Nil(t, out.Offset)
	assert.Nil(t, out.Alias)

	_, err = ws.WithNewExprs(exprs[:5], []LogicalPlan{ws.From, newJoin})
	requireInternal(t, err, "expression size inconsistent")
	_, err = ws.WithNewExprs(exprs, []LogicalPlan{ws.From})
	requireInternal(t, err, "input size inconsistent")
}

func TestWrappedSelectNode_Explain(t *testing.T) {
	s := wrappedSelect().Explain()
	assert.True(t, strings.HasPrefix(s, "WrappedSelect: select_type=Aggregate, projection_expr=[status]"), s)
	assert.Contains(t, s, "limit=Some(5), offset=Some(2)")
	assert.Contains(t, s, "alias=Some(t)")

	empty := NewWrappedSelectNode(testSchema, WrappedSelectProjection, nil)
	assert.Contains(t, empty.Explain(), "from=None")
	assert.Contains(t, empty.Explain(), "limit=None")
}

func TestCubeScanWrapperNode(t *testing.T) {
	inner := NewProjection(testSchema, []Expr{Column{Name: "count"}}, testScan("Orders.count"))
	wrapper := NewCubeScanWrapperNode(inner)

	assert.False(t, wrapper.Resolved())
	assert.Empty(t, wrapper.Inputs())
	assert.Empty(t, wrapper.Expressions())
	assert.Same(t, testSchema, wrapper.Schema())
	assert.Contains(t, wrapper.Explain(), "[unresolved]")

	resolved := wrapper.Resolve([]domain.MemberField{domain.Member("Orders.count")}, domain.SQLQuery{SQL: "SELECT 1"}, nil)
	assert.True(t, resolved.Resolved())
	assert.False(t, wrapper.Resolved(), "Resolve returns a copy")
	assert.Contains(t, resolved.Explain(), "sql=SELECT 1")

	_, err := wrapper.WithNewExprs(nil, []LogicalPlan{inner})
	requireInternal(t, err, "input size inconsistent")
	rebuilt, err := resolved.WithNewExprs(nil, nil)
	require.NoError(t, err)
	assert.True(t, rebuilt.(*CubeScanWrapperNode).Resolved())
}

func TestFindCubeScans(t *testing.T) {
	orders, users, accounts := testScan("Orders.count"), testScan("Users.count"), testScan("Accounts.count")

	ws := NewWrappedSelectNode(testSchema, WrappedSelectProjection, orders)
	ws.Joins = []WrappedJoin{{Input: users, On: Column{Name: "id"}}}
	wrapper := NewCubeScanWrapperNode(ws)
	root := NewProjection(testSchema, nil, wrapper)

	assert.Equal(t, []*CubeScanNode{orders, users}, FindCubeScans(root))

	nested := NewProjection(testSchema, nil, NewProjection(testSchema, nil, accounts))
	assert.Equal(t, []*CubeScanNode{accounts}, FindCubeScans(nested))

	assert.Empty(t, FindCubeScans(NewCubeScanWrapperNode(NewWrappedSelectNode(testSchema, WrappedSelectProjection, nil))))
}

func TestProjection_WithNewExprs(t *testing.T) {
	scan := testScan("Orders.count")
	p := NewProjection(testSchema, []Expr{Column{Name: "count"}}, scan)

	rebuilt, err := p.WithNewExprs([]Expr{AliasExpr{Expr: Column{Name: "count"}, Name: "c"}}, []LogicalPlan{scan})
	require.NoError(t, err)
	assert.Equal(t, "Projection: count AS c", rebuilt.Explain())

	_, err = p.WithNewExprs(nil, []LogicalPlan{scan})
	requireInternal(t, err, "expression size inconsistent")
}

func TestLiteralExpr_String(t *testing.T) {
	tests := []struct {
		value domain.Scalar
		want  string
	}{
		{domain.Int64Scalar(2), "2"},
		{domain.Float64Scalar(1.5), "1.5"},
		{domain.BoolScalar(true), "true"},
		{domain.StringScalar("it's"), "'it''s'"},
		{domain.NullScalar(arrow.BinaryTypes.String), "NULL"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, LiteralExpr{Value: tt.value}.String())
		})
	}

	filter := BinaryExpr{Left: Column{Name: "status"}, Op: "=", Right: LiteralExpr{Value: domain.StringScalar("new")}}
	assert.Equal(t, "status = 'new'", filter.String())
}

func TestFormat(t *testing.T) {
	p := NewProjection(testSchema, []Expr{Column{Name: "count"}}, testScan("Orders.count"))
	lines := strings.Split(strings.TrimRight(Format(p), "\n"), "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, "Projection: count", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "  CubeScan: request="))
}

func TestExtensionIsClosed(t *testing.T) {
	nodes := []LogicalPlan{
		testScan("Orders.count"),
		NewWrappedSelectNode(testSchema, WrappedSelectProjection, nil),
		NewCubeScanWrapperNode(testScan("Orders.count")),
		NewProjection(testSchema, nil, nil),
	}
	var extensions int
	for _, n := range nodes {
		if _, ok := n.(Extension); ok {
			extensions++
		}
	}
	assert.Equal(t, 3, extensions)
}
