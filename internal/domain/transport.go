package domain

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"
)

// AuthContext is the authenticated session identity forwarded to the remote
// service. Implementations are shared read-only across concurrent scans.
type AuthContext interface {
	// AccessToken is the credential sent with every remote request.
	AccessToken() string
}

// HTTPAuthContext authenticates against the cube REST API.
type HTTPAuthContext struct {
	Token string
	// BasePath overrides the transport's configured API base URL when set.
	BasePath string
}

// AccessToken implements AuthContext.
func (c *HTTPAuthContext) AccessToken() string { return c.Token }

// LoadRequestMeta describes the client request for remote logging and
// impersonation.
type LoadRequestMeta struct {
	Protocol   string
	APIType    string
	AppName    *string
	ChangeUser *string
}

// NewLoadRequestMeta creates metadata for requests issued by a protocol
// front-end.
func NewLoadRequestMeta(protocol, apiType string, appName *string) LoadRequestMeta {
	return LoadRequestMeta{Protocol: protocol, APIType: apiType, AppName: appName}
}

// WithChangeUser returns a copy of the metadata with impersonation set.
func (m LoadRequestMeta) WithChangeUser(user *string) LoadRequestMeta {
	m.ChangeUser = clonePtr(user)
	return m
}

// SpanID is the tracing handle that correlates remote requests of one query.
type SpanID struct {
	ID       string
	QueryKey map[string]any
}

// NewSpanID creates a span with a random id.
func NewSpanID(queryKey map[string]any) *SpanID {
	return &SpanID{ID: uuid.NewString(), QueryKey: queryKey}
}

// LoadResultAnnotation describes the members present in a load result.
type LoadResultAnnotation struct {
	Measures       map[string]any `json:"measures"`
	Dimensions     map[string]any `json:"dimensions"`
	Segments       map[string]any `json:"segments"`
	TimeDimensions map[string]any `json:"timeDimensions"`
}

// LoadResult is one result set of a load response. Data holds JSON row
// objects keyed by member name.
type LoadResult struct {
	Annotation LoadResultAnnotation `json:"annotation"`
	Data       []any                `json:"data"`
}

// LoadResponse is the body returned by the load API.
type LoadResponse struct {
	QueryType  string       `json:"queryType,omitempty"`
	Results    []LoadResult `json:"results"`
	PivotQuery any          `json:"pivotQuery,omitempty"`
	SlowQuery  bool         `json:"slowQuery,omitempty"`
}

// StreamChunk is one element of a streaming load. Exactly one of Batch and
// Err is set.
type StreamChunk struct {
	Batch arrow.Record
	Err   error
}

// MemberMeta describes a single cube member.
type MemberMeta struct {
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
	Type  string `json:"type,omitempty"`
}

// CubeMeta describes one cube of the data model.
type CubeMeta struct {
	Name       string       `json:"name"`
	Title      string       `json:"title,omitempty"`
	Measures   []MemberMeta `json:"measures"`
	Dimensions []MemberMeta `json:"dimensions"`
	Segments   []MemberMeta `json:"segments"`
}

// MetaContext is the data model exposed by the remote service.
type MetaContext struct {
	Cubes []CubeMeta `json:"cubes"`
}

// SQLResponse carries the SQL the remote service would run for a query.
type SQLResponse struct {
	SQL SQLQuery
}

// Transport is the capability this core consumes to talk to the remote cube
// service. Implemented by transport.HTTPTransport.
//
// The channel returned by LoadStream is closed by the transport once the
// stream ends or ctx is cancelled.
type Transport interface {
	Meta(ctx context.Context, auth AuthContext) (*MetaContext, error)
	SQL(ctx context.Context, span *SpanID, query RemoteQuery, auth AuthContext, meta LoadRequestMeta,
		memberToAlias map[string]string, expressionParams []*string) (*SQLResponse, error)
	Load(ctx context.Context, span *SpanID, query RemoteQuery, sqlQuery *SQLQuery, auth AuthContext,
		meta LoadRequestMeta) (*LoadResponse, error)
	LoadStream(ctx context.Context, span *SpanID, query RemoteQuery, sqlQuery *SQLQuery, auth AuthContext,
		meta LoadRequestMeta, schema *arrow.Schema, fields []MemberField) (<-chan StreamChunk, error)
	CanSwitchUserForSession(ctx context.Context, auth AuthContext, toUser string) (bool, error)
	LogLoadState(ctx context.Context, span *SpanID, auth AuthContext, meta LoadRequestMeta,
		event string, properties map[string]any) error
}
