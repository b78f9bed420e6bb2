// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"

	"cube-sql/internal/domain"
)

// === Transport Mock ===

// LoadCall records the arguments of one Load or LoadStream call.
type LoadCall struct {
	Query    domain.RemoteQuery
	SQLQuery *domain.SQLQuery
	Meta     domain.LoadRequestMeta
	Stream   bool
}

// MockTransport implements domain.Transport for testing. Calls without a
// matching Fn panic. Load and LoadStream calls are recorded.
type MockTransport struct {
	MetaFn       func(ctx context.Context, auth domain.AuthContext) (*domain.MetaContext, error)
	SQLFn        func(ctx context.Context, span *domain.SpanID, query domain.RemoteQuery, auth domain.AuthContext, meta domain.LoadRequestMeta, memberToAlias map[string]string, expressionParams []*string) (*domain.SQLResponse, error)
	LoadFn       func(ctx context.Context, span *domain.SpanID, query domain.RemoteQuery, sqlQuery *domain.SQLQuery, auth domain.AuthContext, meta domain.LoadRequestMeta) (*domain.LoadResponse, error)
	LoadStreamFn func(ctx context.Context, span *domain.SpanID, query domain.RemoteQuery, sqlQuery *domain.SQLQuery, auth domain.AuthContext, meta domain.LoadRequestMeta, schema *arrow.Schema, fields []domain.MemberField) (<-chan domain.StreamChunk, error)
	CanSwitchFn  func(ctx context.Context, auth domain.AuthContext, toUser string) (bool, error)
	LogLoadFn    func(ctx context.Context, span *domain.SpanID, auth domain.AuthContext, meta domain.LoadRequestMeta, event string, properties map[string]any) error

	mu    sync.Mutex
	calls []LoadCall
}

// Meta implements the interface method for testing.
func (m *MockTransport) Meta(ctx context.Context, auth domain.AuthContext) (*domain.MetaContext, error) {
	if m.MetaFn != nil {
		return m.MetaFn(ctx, auth)
	}
	panic("unexpected call to MockTransport.Meta")
}

// SQL implements the interface method for testing.
func (m *MockTransport) SQL(ctx context.Context, span *domain.SpanID, query domain.RemoteQuery, auth domain.AuthContext, meta domain.LoadRequestMeta, memberToAlias map[string]string, expressionParams []*string) (*domain.SQLResponse, error) {
	if m.SQLFn != nil {
		return m.SQLFn(ctx, span, query, auth, meta, memberToAlias, expressionParams)
	}
	panic("unexpected call to MockTransport.SQL")
}

// Load implements the interface method for testing.
func (m *MockTransport) Load(ctx context.Context, span *domain.SpanID, query domain.RemoteQuery, sqlQuery *domain.SQLQuery, auth domain.AuthContext, meta domain.LoadRequestMeta) (*domain.LoadResponse, error) {
	m.record(LoadCall{Query: query, SQLQuery: sqlQuery, Meta: meta})
	if m.LoadFn != nil {
		return m.LoadFn(ctx, span, query, sqlQuery, auth, meta)
	}
	panic("unexpected call to MockTransport.Load")
}

// LoadStream implements the interface method for testing.
func (m *MockTransport) LoadStream(ctx context.Context, span *domain.SpanID, query domain.RemoteQuery, sqlQuery *domain.SQLQuery, auth domain.AuthContext, meta domain.LoadRequestMeta, schema *arrow.Schema, fields []domain.MemberField) (<-chan domain.StreamChunk, error) {
	m.record(LoadCall{Query: query, SQLQuery: sqlQuery, Meta: meta, Stream: true})
	if m.LoadStreamFn != nil {
		return m.LoadStreamFn(ctx, span, query, sqlQuery, auth, meta, schema, fields)
	}
	panic("unexpected call to MockTransport.LoadStream")
}

// CanSwitchUserForSession implements the interface method for testing.
func (m *MockTransport) CanSwitchUserForSession(ctx context.Context, auth domain.AuthContext, toUser string) (bool, error) {
	if m.CanSwitchFn != nil {
		return m.CanSwitchFn(ctx, auth, toUser)
	}
	panic("unexpected call to MockTransport.CanSwitchUserForSession")
}

// LogLoadState implements the interface method for testing.
func (m *MockTransport) LogLoadState(ctx context.Context, span *domain.SpanID, auth domain.AuthContext, meta domain.LoadRequestMeta, event string, properties map[string]any) error {
	if m.LogLoadFn != nil {
		return m.LogLoadFn(ctx, span, auth, meta, event, properties)
	}
	panic("unexpected call to MockTransport.LogLoadState")
}

func (m *MockTransport) record(c LoadCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

// Calls returns the recorded Load and LoadStream calls in order.
func (m *MockTransport) Calls() []LoadCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LoadCall(nil), m.calls...)
}

// LoadCount returns the number of one-shot Load calls.
func (m *MockTransport) LoadCount() int {
	n := 0
	for _, c := range m.Calls() {
		if !c.Stream {
			n++
		}
	}
	return n
}

// StreamCount returns the number of LoadStream calls.
func (m *MockTransport) StreamCount() int {
	return len(m.Calls()) - m.LoadCount()
}

var _ domain.Transport = (*MockTransport)(nil)

// === Fixtures ===

// RowsResponse wraps rows into a single-result load response.
func RowsResponse(rows ...map[string]any) *domain.LoadResponse {
	data := make([]any, len(rows))
	for i, r := range rows {
		data[i] = r
	}
	return &domain.LoadResponse{QueryType: "regularQuery", Results: []domain.LoadResult{{Data: data}}}
}

// StreamOf returns a closed channel holding chunks.
func StreamOf(chunks ...domain.StreamChunk) <-chan domain.StreamChunk {
	ch := make(chan domain.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string { return &s }

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }
