package scan

import (
	"log/slog"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"cube-sql/internal/domain"
	"cube-sql/internal/metrics"
	"cube-sql/internal/plan"
)

// PlannerOptions configures the ExtensionPlanner. Zero values fall back to
// defaults.
type PlannerOptions struct {
	Config    Config
	Pool      *FallbackPool
	Logger    *slog.Logger
	Metrics   *metrics.ScanMetrics
	Allocator memory.Allocator
}

// ExtensionPlanner lowers cube logical nodes into ExecutionPlans. It holds
// the collaborators shared by every plan it builds.
type ExtensionPlanner struct {
	transport domain.Transport
	meta      domain.LoadRequestMeta
	opts      PlannerOptions
}

// NewExtensionPlanner creates a planner issuing requests through transport
// with meta attached.
func NewExtensionPlanner(transport domain.Transport, meta domain.LoadRequestMeta, opts PlannerOptions) *ExtensionPlanner {
	if opts.Pool == nil {
		opts.Pool = NewFallbackPool(DefaultFallbackWorkers)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Allocator == nil {
		opts.Allocator = memory.DefaultAllocator
	}
	return &ExtensionPlanner{transport: transport, meta: meta, opts: opts}
}

// PlanExtension lowers node. It returns (nil, nil) when node is not a cube
// node so the host engine can try other planners.
func (p *ExtensionPlanner) PlanExtension(node plan.LogicalPlan, logicalInputs []plan.LogicalPlan, physicalInputs []PhysicalPlan) (*ExecutionPlan, error) {
	ext, ok := node.(plan.Extension)
	if !ok {
		return nil, nil
	}

	switch n := ext.(type) {
	case *plan.CubeScanNode:
		if len(logicalInputs) != 0 || len(physicalInputs) != 0 {
			return nil, domain.ErrInternal("CubeScanNode has no inputs, got %d logical and %d physical", len(logicalInputs), len(physicalInputs))
		}
		return p.newPlan(n.Schema(), n.MemberFields, n.Request, nil, n.AuthContext, n.Options, n.SpanID), nil

	case *plan.CubeScanWrapperNode:
		scans := plan.FindCubeScans(n.WrappedPlan)
		if len(scans) == 0 {
			return nil, domain.ErrInternal("No cube scans found in wrapper node: %s", n.WrappedPlan.Explain())
		}
		if !n.Resolved() {
			return nil, domain.ErrInternal("Wrapped node is not resolved, member fields or SQL are missing. Optimization wasn't performed: %s", n.Explain())
		}
		scan := scans[0]
		request := scan.Request
		if n.Request != nil {
			request = *n.Request
		}
		sql := *n.WrappedSQL
		return p.newPlan(n.Schema(), n.MemberFields, request, &sql, scan.AuthContext, scan.Options, scan.SpanID), nil

	case *plan.WrappedSelectNode:
		return nil, domain.ErrInternal("WrappedSelect must be wrapped by CubeScanWrapper before planning. Optimization wasn't performed: %s", n.Explain())

	default:
		return nil, domain.ErrInternal("unknown cube extension node %T", ext)
	}
}

func (p *ExtensionPlanner) newPlan(
	schema *arrow.Schema,
	fields []domain.MemberField,
	request domain.RemoteQuery,
	wrappedSQL *domain.SQLQuery,
	auth domain.AuthContext,
	options domain.ScanOptions,
	span *domain.SpanID,
) *ExecutionPlan {
	return &ExecutionPlan{
		schema:       schema,
		memberFields: slices.Clone(fields),
		request:      request.Clone(),
		wrappedSQL:   wrappedSQL,
		auth:         auth,
		options:      options,
		transport:    p.transport,
		meta:         p.meta,
		span:         span,
		config:       p.opts.Config,
		pool:         p.opts.Pool,
		mem:          p.opts.Allocator,
		logger:       p.opts.Logger,
		metrics:      p.opts.Metrics,
	}
}
