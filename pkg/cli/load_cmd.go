package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	"cube-sql/internal/domain"
	"cube-sql/internal/metrics"
	"cube-sql/internal/plan"
	"cube-sql/internal/scan"
	"cube-sql/internal/transport"
)

const appName = "cubescan"

// scanFlags are shared by load and explain.
type scanFlags struct {
	query      string
	queryFile  string
	measures   []string
	dimensions []string
	segments   []string
	limit      int
	offset     int
	ungrouped  bool
	columns    columnsFlag
	sql        string
	maxRecords int
	changeUser string
	stream     bool
	metrics    bool
}

func (f *scanFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.query, "query", "", "Remote query as JSON")
	cmd.Flags().StringVar(&f.queryFile, "query-file", "", "File holding the remote query as JSON")
	cmd.Flags().StringSliceVar(&f.measures, "measure", nil, "Measure to select (repeatable)")
	cmd.Flags().StringSliceVar(&f.dimensions, "dimension", nil, "Dimension to select (repeatable)")
	cmd.Flags().StringSliceVar(&f.segments, "segment", nil, "Segment to apply (repeatable)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Row limit of the remote query")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "Row offset of the remote query")
	cmd.Flags().BoolVar(&f.ungrouped, "ungrouped", false, "Request ungrouped results")
	cmd.Flags().Var(&f.columns, "column", "Output column as name:type[=member|=null|='literal'] (repeatable)")
	cmd.Flags().StringVar(&f.sql, "sql", "", "Push the given SQL down instead of the structured query")
	cmd.Flags().IntVar(&f.maxRecords, "max-records", 0, "Fail when a one-shot load returns this many rows")
	cmd.Flags().StringVar(&f.changeUser, "change-user", "", "Impersonate this user")
	cmd.Flags().BoolVar(&f.stream, "stream", false, "Enable stream mode (overrides CUBESQL_STREAM_MODE)")
	cmd.Flags().BoolVar(&f.metrics, "metrics", false, "Print scan metrics after execution")
}

func (f *scanFlags) remoteQuery() (domain.RemoteQuery, error) {
	var q domain.RemoteQuery
	raw := []byte(f.query)
	if f.queryFile != "" {
		data, err := os.ReadFile(f.queryFile)
		if err != nil {
			return q, fmt.Errorf("read query file: %w", err)
		}
		raw = data
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &q); err != nil {
			return q, fmt.Errorf("parse query: %w", err)
		}
	}
	q.Measures = append(q.Measures, f.measures...)
	q.Dimensions = append(q.Dimensions, f.dimensions...)
	q.Segments = append(q.Segments, f.segments...)
	if f.limit > 0 {
		q.Limit = &f.limit
	}
	if f.offset > 0 {
		q.Offset = &f.offset
	}
	if f.ungrouped {
		q.Ungrouped = &f.ungrouped
	}
	return q, nil
}

// defaultColumns maps every selected member to a column. Measures default to
// float64 and dimensions to string.
func defaultColumns(q domain.RemoteQuery) columnsFlag {
	var cols columnsFlag
	for _, m := range q.Measures {
		cols.specs = append(cols.specs, columnSpec{Name: m, Type: arrow.PrimitiveTypes.Float64, Field: domain.Member(m)})
	}
	for _, d := range q.Dimensions {
		cols.specs = append(cols.specs, columnSpec{Name: d, Type: arrow.BinaryTypes.String, Field: domain.Member(d)})
	}
	for _, td := range q.TimeDimensions {
		if td.Granularity == nil {
			continue
		}
		name := td.Dimension + "." + *td.Granularity
		cols.specs = append(cols.specs, columnSpec{Name: name, Type: &arrow.TimestampType{Unit: arrow.Millisecond}, Field: domain.Member(name)})
	}
	return cols
}

func usedCubes(q domain.RemoteQuery) []string {
	seen := map[string]bool{}
	add := func(member string) {
		if cube, _, ok := strings.Cut(member, "."); ok {
			seen[cube] = true
		}
	}
	for _, m := range q.Measures {
		add(m)
	}
	for _, d := range q.Dimensions {
		add(d)
	}
	for _, s := range q.Segments {
		add(s)
	}
	for _, td := range q.TimeDimensions {
		add(td.Dimension)
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// scanRun is a planned scan plus the registry its metrics land in.
type scanRun struct {
	plan     *scan.ExecutionPlan
	registry *prometheus.Registry
}

func (a *app) planScan(cmd *cobra.Command, f *scanFlags) (*scanRun, error) {
	q, err := f.remoteQuery()
	if err != nil {
		return nil, err
	}
	cols := f.columns
	if len(cols.specs) == 0 {
		cols = defaultColumns(q)
	}
	schema, fields := cols.schemaAndFields()

	var options domain.ScanOptions
	if f.maxRecords > 0 {
		options.MaxRecords = &f.maxRecords
	}
	if f.changeUser != "" {
		options.ChangeUser = &f.changeUser
	}

	scanCfg := a.cfg.ScanConfig()
	if cmd.Flags().Changed("stream") {
		scanCfg.StreamMode = f.stream
	}

	registry := prometheus.NewRegistry()
	tr := transport.NewHTTPTransport(a.cfg.API.URL, transport.Options{
		Token:   a.cfg.API.Token,
		Timeout: a.cfg.API.Timeout,
		RPS:     a.cfg.API.RPS,
		Burst:   a.cfg.API.Burst,
		Logger:  a.logger,
	})
	name := appName
	planner := scan.NewExtensionPlanner(tr, domain.NewLoadRequestMeta("cli", "sql", &name), scan.PlannerOptions{
		Config:  scanCfg,
		Pool:    scan.NewFallbackPool(a.cfg.FallbackWorkers),
		Logger:  a.logger,
		Metrics: metrics.NewScanMetrics(registry),
	})

	auth := &domain.HTTPAuthContext{Token: a.cfg.API.Token}
	var node plan.LogicalPlan = plan.NewCubeScanNode(schema, fields, q, auth, options, usedCubes(q), domain.NewSpanID(nil))
	if f.sql != "" {
		node = plan.NewCubeScanWrapperNode(node).Resolve(fields, domain.SQLQuery{SQL: f.sql}, nil)
	}

	ep, err := planner.PlanExtension(node, nil, nil)
	if err != nil {
		return nil, err
	}
	if ep == nil {
		return nil, fmt.Errorf("no planner for %T", node)
	}
	return &scanRun{plan: ep, registry: registry}, nil
}

func newLoadCmd(a *app) *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Execute a cube scan and print the result",
		Example: `  cubescan load --measure Orders.count --dimension Orders.status
  cubescan load --query-file q.json --column count:int64=Orders.count --column status:string=Orders.status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			run, err := a.planScan(cmd, &f)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			stream, err := run.plan.Execute(ctx, 0)
			if err != nil {
				return err
			}
			batches, err := scan.Collect(ctx, stream)
			if err != nil {
				return err
			}
			defer func() {
				for _, b := range batches {
					b.Release()
				}
			}()

			schema := run.plan.Schema()
			if getOutputFormat(cmd) == "json" {
				if err := printJSON(a.stdout, recordObjects(schema, batches)); err != nil {
					return err
				}
			} else {
				columns, rows := recordTable(schema, batches)
				printTable(a.stdout, columns, rows)
			}
			if f.metrics {
				return printMetrics(a, cmd, run.registry)
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newExplainCmd(a *app) *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Print the physical scan plan without executing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			run, err := a.planScan(cmd, &f)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(a.stdout, map[string]interface{}{
					"plan":   run.plan.String(),
					"schema": run.plan.Schema().String(),
				})
			}
			_, _ = fmt.Fprintln(a.stdout, run.plan.String())
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newMetaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "meta",
		Short: "List cubes and their members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tr := transport.NewHTTPTransport(a.cfg.API.URL, transport.Options{
				Token:   a.cfg.API.Token,
				Timeout: a.cfg.API.Timeout,
				Logger:  a.logger,
			})
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			meta, err := tr.Meta(ctx, &domain.HTTPAuthContext{Token: a.cfg.API.Token})
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(a.stdout, meta)
			}
			var rows [][]string
			for _, c := range meta.Cubes {
				for _, m := range c.Measures {
					rows = append(rows, []string{c.Name, "measure", m.Name, m.Type})
				}
				for _, d := range c.Dimensions {
					rows = append(rows, []string{c.Name, "dimension", d.Name, d.Type})
				}
				for _, s := range c.Segments {
					rows = append(rows, []string{c.Name, "segment", s.Name, s.Type})
				}
			}
			printTable(a.stdout, []string{"cube", "kind", "member", "type"}, rows)
			return nil
		},
	}
}

func printMetrics(a *app, cmd *cobra.Command, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	var rows [][]string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			rows = append(rows, []string{mf.GetName(), labelString(m.GetLabel()), fmt.Sprintf("%g", m.GetCounter().GetValue())})
		}
	}
	if getOutputFormat(cmd) == "json" {
		return printJSON(a.stdout, map[string]interface{}{"metrics": rows})
	}
	printTable(a.stdout, []string{"metric", "labels", "value"}, rows)
	return nil
}

func labelString(labels []*dto.LabelPair) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = l.GetName() + "=" + l.GetValue()
	}
	return strings.Join(parts, ",")
}
