package domain

import "slices"

// RemoteQuery is the structured request sent to the cube service load API.
// It is built by the SQL compiler; the executor only ever adjusts Limit on a
// cloned copy.
type RemoteQuery struct {
	Measures       []string        `json:"measures,omitempty"`
	Dimensions     []string        `json:"dimensions,omitempty"`
	Segments       []string        `json:"segments,omitempty"`
	TimeDimensions []TimeDimension `json:"timeDimensions,omitempty"`
	Order          [][]string      `json:"order,omitempty"`
	Limit          *int            `json:"limit,omitempty"`
	Offset         *int            `json:"offset,omitempty"`
	Filters        []QueryFilter   `json:"filters,omitempty"`
	Ungrouped      *bool           `json:"ungrouped,omitempty"`
}

// TimeDimension selects a time member, optionally bucketed by granularity.
type TimeDimension struct {
	Dimension   string   `json:"dimension"`
	Granularity *string  `json:"granularity,omitempty"`
	DateRange   []string `json:"dateRange,omitempty"`
}

// QueryFilter is a member filter or a boolean combination of filters.
type QueryFilter struct {
	Member    *string       `json:"member,omitempty"`
	Dimension *string       `json:"dimension,omitempty"`
	Operator  *string       `json:"operator,omitempty"`
	Values    []string      `json:"values,omitempty"`
	Or        []QueryFilter `json:"or,omitempty"`
	And       []QueryFilter `json:"and,omitempty"`
}

// HasMembers reports whether the query selects anything from the remote
// service. A query with no measures, no dimensions and no time dimension with
// a granularity can be answered locally.
func (q *RemoteQuery) HasMembers() bool {
	if len(q.Measures) > 0 || len(q.Dimensions) > 0 {
		return true
	}
	for _, td := range q.TimeDimensions {
		if td.Granularity != nil {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the query.
func (q RemoteQuery) Clone() RemoteQuery {
	out := RemoteQuery{
		Measures:   slices.Clone(q.Measures),
		Dimensions: slices.Clone(q.Dimensions),
		Segments:   slices.Clone(q.Segments),
		Limit:      clonePtr(q.Limit),
		Offset:     clonePtr(q.Offset),
		Ungrouped:  clonePtr(q.Ungrouped),
	}
	if q.TimeDimensions != nil {
		out.TimeDimensions = make([]TimeDimension, len(q.TimeDimensions))
		for i, td := range q.TimeDimensions {
			out.TimeDimensions[i] = TimeDimension{
				Dimension:   td.Dimension,
				Granularity: clonePtr(td.Granularity),
				DateRange:   slices.Clone(td.DateRange),
			}
		}
	}
	if q.Order != nil {
		out.Order = make([][]string, len(q.Order))
		for i, o := range q.Order {
			out.Order[i] = slices.Clone(o)
		}
	}
	out.Filters = cloneFilters(q.Filters)
	return out
}

func cloneFilters(filters []QueryFilter) []QueryFilter {
	if filters == nil {
		return nil
	}
	out := make([]QueryFilter, len(filters))
	for i, f := range filters {
		out[i] = QueryFilter{
			Member:    clonePtr(f.Member),
			Dimension: clonePtr(f.Dimension),
			Operator:  clonePtr(f.Operator),
			Values:    slices.Clone(f.Values),
			Or:        cloneFilters(f.Or),
			And:       cloneFilters(f.And),
		}
	}
	return out
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// SQLQuery is remote-native SQL produced by the push-down rewriter, with
// positional parameter values.
type SQLQuery struct {
	SQL    string    `json:"sql"`
	Values []*string `json:"values"`
}

// ScanOptions carries per-scan execution options.
type ScanOptions struct {
	// ChangeUser requests impersonation of another user for this query.
	ChangeUser *string
	// MaxRecords caps the rows a single one-shot fetch may return. Reaching
	// it fails the scan since JOIN/UNION over truncated input is wrong.
	MaxRecords *int
}
