// Package scan lowers cube logical nodes into an executable scan, loads data
// from the cube service and materializes it into Arrow record batches.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"cube-sql/internal/domain"
	"cube-sql/internal/metrics"
)

// DefaultQueryLimit is the row limit applied to remote requests when none is
// configured.
const DefaultQueryLimit = 50000

// Config holds the scan execution knobs.
type Config struct {
	// StreamMode enables streaming loads for queries without a limit or with
	// a limit above QueryLimit.
	StreamMode bool
	// QueryLimit caps the limit of every outgoing request.
	QueryLimit int
}

func (c Config) queryLimit() int {
	if c.QueryLimit <= 0 {
		return DefaultQueryLimit
	}
	return c.QueryLimit
}

// PhysicalPlan is an executable node of the host engine's physical plan.
type PhysicalPlan interface {
	Schema() *arrow.Schema
	Children() []PhysicalPlan
	WithNewChildren(children []PhysicalPlan) (PhysicalPlan, error)
	OutputPartitions() int
	Execute(ctx context.Context, partition int) (RecordBatchStream, error)
	String() string
}

// Statistics describes what is known about a plan's output ahead of time.
type Statistics struct {
	NumRows *int64
	IsExact bool
}

var _ PhysicalPlan = (*ExecutionPlan)(nil)

// ExecutionPlan executes one cube scan. It is built by the ExtensionPlanner
// and is immutable afterwards; Execute may be called more than once.
type ExecutionPlan struct {
	schema       *arrow.Schema
	memberFields []domain.MemberField
	request      domain.RemoteQuery
	wrappedSQL   *domain.SQLQuery
	auth         domain.AuthContext
	options      domain.ScanOptions

	transport domain.Transport
	meta      domain.LoadRequestMeta
	span      *domain.SpanID

	config  Config
	pool    *FallbackPool
	mem     memory.Allocator
	logger  *slog.Logger
	metrics *metrics.ScanMetrics
}

// Schema implements PhysicalPlan.
func (p *ExecutionPlan) Schema() *arrow.Schema { return p.schema }

// MemberFields returns the column bindings of the scan.
func (p *ExecutionPlan) MemberFields() []domain.MemberField { return slices.Clone(p.memberFields) }

// Request returns a copy of the remote query.
func (p *ExecutionPlan) Request() domain.RemoteQuery { return p.request.Clone() }

// WrappedSQL returns the pushed-down SQL, or nil for plain scans.
func (p *ExecutionPlan) WrappedSQL() *domain.SQLQuery { return p.wrappedSQL }

// Children implements PhysicalPlan.
func (p *ExecutionPlan) Children() []PhysicalPlan { return nil }

// WithNewChildren implements PhysicalPlan. The scan is a leaf.
func (p *ExecutionPlan) WithNewChildren(children []PhysicalPlan) (PhysicalPlan, error) {
	if len(children) > 0 {
		return nil, domain.ErrInternal("Children cannot be replaced in CubeScanExecutionPlan")
	}
	return p, nil
}

// OutputPartitions implements PhysicalPlan.
func (p *ExecutionPlan) OutputPartitions() int { return 1 }

// Statistics returns unknown statistics; the row count is only known after
// the remote call.
func (p *ExecutionPlan) Statistics() Statistics { return Statistics{} }

// String implements PhysicalPlan.
func (p *ExecutionPlan) String() string {
	if p.wrappedSQL != nil {
		return "CubeScanExecutionPlan, SQL:\n" + p.wrappedSQL.SQL
	}
	request, err := json.Marshal(p.request)
	if err != nil {
		return fmt.Sprintf("CubeScanExecutionPlan, Request: <%v>", err)
	}
	return "CubeScanExecutionPlan, Request:\n" + string(request)
}

// Execute implements PhysicalPlan. The scan has a single partition.
func (p *ExecutionPlan) Execute(ctx context.Context, partition int) (RecordBatchStream, error) {
	if partition != 0 {
		return nil, domain.ErrInternal("CubeScanExecutionPlan has a single partition, got partition %d", partition)
	}

	limit := p.config.queryLimit()
	streamMode := p.config.StreamMode && (p.request.Limit == nil || *p.request.Limit > limit)

	request := p.request.Clone()
	if request.Limit == nil || *request.Limit > limit {
		request.Limit = &limit
	}

	fetch := &oneShotFetch{
		plan:    p,
		request: request,
		meta:    p.meta.WithChangeUser(p.options.ChangeUser),
	}

	if !request.HasMembers() {
		fetch.syntheticRows = 1
		if p.request.Limit != nil {
			fetch.syntheticRows = max(*request.Limit, 0)
		}
		streamMode = false
		p.metrics.ObserveScan(metrics.ModeNoMember)
	}

	if streamMode {
		p.metrics.ObserveScan(metrics.ModeStream)
		streamCtx, cancel := context.WithCancel(ctx)
		ch, err := p.transport.LoadStream(streamCtx, p.span, request, p.wrappedSQL, p.auth, fetch.meta, p.schema, p.memberFields)
		if err != nil {
			cancel()
			p.metrics.ObserveTransportError("load_stream")
			return nil, fmt.Errorf("load stream: %w", err)
		}
		live := &liveStream{ch: ch, cancel: cancel}
		return newStreamingRouter(p.schema, live, fetch, p.pool, p.logger, p.metrics), nil
	}

	if request.HasMembers() {
		p.metrics.ObserveScan(metrics.ModeOneShot)
	}
	batch, err := fetch.run(ctx)
	if err != nil {
		return nil, err
	}
	return newOneShotRouter(p.schema, batch), nil
}

// oneShotFetch loads the whole result in one request and materializes it.
type oneShotFetch struct {
	plan    *ExecutionPlan
	request domain.RemoteQuery
	meta    domain.LoadRequestMeta
	// syntheticRows is the number of null rows produced locally for queries
	// without members.
	syntheticRows int
}

func (f *oneShotFetch) run(ctx context.Context) (arrow.Record, error) {
	rows, err := f.load(ctx)
	if err != nil {
		return nil, err
	}
	m := NewMaterializer(f.plan.mem, f.plan.logger)
	batch, err := m.Materialize(NewJSONRowSource(rows), f.plan.schema, f.plan.memberFields)
	if err != nil {
		return nil, err
	}
	f.plan.metrics.ObserveRows(batch.NumRows())
	return batch, nil
}

func (f *oneShotFetch) load(ctx context.Context) ([]any, error) {
	if !f.request.HasMembers() {
		return make([]any, f.syntheticRows), nil
	}

	p := f.plan
	response, err := p.transport.Load(ctx, p.span, f.request, p.wrappedSQL, p.auth, f.meta)
	if err != nil {
		p.metrics.ObserveTransportError("load")
		return nil, fmt.Errorf("load: %w", err)
	}
	if response == nil || len(response.Results) == 0 {
		return nil, domain.ErrUser("Unable to extract result from Cube.js response")
	}

	data := response.Results[len(response.Results)-1].Data
	if maxRecords := p.options.MaxRecords; maxRecords != nil && len(data) >= *maxRecords {
		p.metrics.ObserveMaxRecordsExceeded()
		return nil, domain.ErrUser("One of the Cube queries exceeded the maximum row limit (%d). "+
			"JOIN/UNION is not possible as it will produce incorrect results. "+
			"Try filtering the results more precisely or moving post-processing functions to an outer query.", *maxRecords)
	}
	return data, nil
}
