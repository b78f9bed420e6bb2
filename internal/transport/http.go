// Package transport implements domain.Transport against the cube REST API.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"cube-sql/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// continueWait is the error body the API returns while a query is still
// being processed. The same request must be repeated.
const continueWait = "Continue wait"

var errContinueWait = errors.New("cube api: continue wait")

// Options configures an HTTPTransport. Zero values fall back to defaults.
type Options struct {
	Token   string        // default token when the auth context carries none
	Timeout time.Duration // per-request timeout (default 30s)
	RPS     float64       // sustained requests per second, 0 disables limiting
	Burst   int

	// MaxWait bounds the total time spent retrying "Continue wait" answers
	// (default 5m).
	MaxWait time.Duration

	Client *http.Client
	Logger *slog.Logger
}

var _ domain.Transport = (*HTTPTransport)(nil)

// HTTPTransport talks to the cube REST API. It is safe for concurrent use.
type HTTPTransport struct {
	baseURL string
	token   string
	maxWait time.Duration
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHTTPTransport creates a transport for the API rooted at baseURL, e.g.
// http://localhost:4000/cubejs-api.
func NewHTTPTransport(baseURL string, opts Options) *HTTPTransport {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 5 * time.Minute
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   opts.Token,
		maxWait: opts.MaxWait,
		client:  opts.Client,
		limiter: limiter,
		logger:  opts.Logger,
	}
}

type loadRequest struct {
	Query     domain.RemoteQuery `json:"query"`
	QueryType string             `json:"queryType"`
	SQLQuery  *domain.SQLQuery   `json:"sqlQuery,omitempty"`
}

// Load implements domain.Transport. It posts the query to /v1/load and
// repeats the request while the API answers "Continue wait".
func (t *HTTPTransport) Load(ctx context.Context, span *domain.SpanID, query domain.RemoteQuery, sqlQuery *domain.SQLQuery,
	auth domain.AuthContext, meta domain.LoadRequestMeta) (*domain.LoadResponse, error) {
	body := loadRequest{Query: query, QueryType: "multi", SQLQuery: sqlQuery}
	var out domain.LoadResponse
	if err := t.do(ctx, http.MethodPost, "/v1/load", span, auth, &meta, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoadStream implements domain.Transport. The REST API has no streaming
// endpoint, so the returned channel yields a single "not implemented" error
// and the caller falls back to Load.
func (t *HTTPTransport) LoadStream(_ context.Context, _ *domain.SpanID, _ domain.RemoteQuery, _ *domain.SQLQuery,
	_ domain.AuthContext, _ domain.LoadRequestMeta, _ *arrow.Schema, _ []domain.MemberField) (<-chan domain.StreamChunk, error) {
	ch := make(chan domain.StreamChunk, 1)
	ch <- domain.StreamChunk{Err: domain.ErrNotImplemented(domain.StreamNotImplementedMessage)}
	close(ch)
	return ch, nil
}

// Meta implements domain.Transport.
func (t *HTTPTransport) Meta(ctx context.Context, auth domain.AuthContext) (*domain.MetaContext, error) {
	var out domain.MetaContext
	if err := t.do(ctx, http.MethodGet, "/v1/meta", nil, auth, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type sqlRequest struct {
	Query            domain.RemoteQuery `json:"query"`
	MemberToAlias    map[string]string  `json:"memberToAlias,omitempty"`
	ExpressionParams []*string          `json:"expressionParams,omitempty"`
}

// sqlResponse mirrors {"sql": {"sql": ["SELECT ...", [params]]}}.
type sqlResponse struct {
	SQL struct {
		SQL []jsoniter.RawMessage `json:"sql"`
	} `json:"sql"`
}

// SQL implements domain.Transport.
func (t *HTTPTransport) SQL(ctx context.Context, span *domain.SpanID, query domain.RemoteQuery, auth domain.AuthContext,
	meta domain.LoadRequestMeta, memberToAlias map[string]string, expressionParams []*string) (*domain.SQLResponse, error) {
	body := sqlRequest{Query: query, MemberToAlias: memberToAlias, ExpressionParams: expressionParams}
	var raw sqlResponse
	if err := t.do(ctx, http.MethodPost, "/v1/sql", span, auth, &meta, body, &raw); err != nil {
		return nil, err
	}
	if len(raw.SQL.SQL) == 0 {
		return nil, domain.ErrUser("Unexpected response from Cube, sql is missing")
	}
	var out domain.SQLResponse
	if err := json.Unmarshal(raw.SQL.SQL[0], &out.SQL.SQL); err != nil {
		return nil, fmt.Errorf("decode sql text: %w", err)
	}
	if len(raw.SQL.SQL) > 1 {
		if err := json.Unmarshal(raw.SQL.SQL[1], &out.SQL.Values); err != nil {
			return nil, fmt.Errorf("decode sql params: %w", err)
		}
	}
	return &out, nil
}

// CanSwitchUserForSession implements domain.Transport. The REST API decides
// impersonation per request, so sessions never switch user up front.
func (t *HTTPTransport) CanSwitchUserForSession(context.Context, domain.AuthContext, string) (bool, error) {
	return false, nil
}

// LogLoadState implements domain.Transport by writing the event to the
// local log.
func (t *HTTPTransport) LogLoadState(ctx context.Context, span *domain.SpanID, _ domain.AuthContext, meta domain.LoadRequestMeta,
	event string, properties map[string]any) error {
	attrs := []any{"event", event, "protocol", meta.Protocol, "api_type", meta.APIType}
	if span != nil {
		attrs = append(attrs, "span_id", span.ID)
	}
	if len(properties) > 0 {
		attrs = append(attrs, "properties", properties)
	}
	t.logger.InfoContext(ctx, "load state", attrs...)
	return nil
}

type apiError struct {
	Error string `json:"error"`
}

// do sends one API call, retrying "Continue wait" answers with exponential
// backoff, and decodes the JSON body into out.
func (t *HTTPTransport) do(ctx context.Context, method, path string, span *domain.SpanID, auth domain.AuthContext,
	meta *domain.LoadRequestMeta, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
	}

	requestID := uuid.NewString()
	if span != nil && span.ID != "" {
		requestID = span.ID
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = t.maxWait

	attempt := 0
	data, err := backoff.RetryWithData(func() ([]byte, error) {
		attempt++
		data, err := t.send(ctx, method, t.url(auth, path), requestID, auth, meta, payload)
		if errors.Is(err, errContinueWait) {
			t.logger.DebugContext(ctx, "cube api asked to continue wait", "path", path, "request_id", requestID, "attempt", attempt)
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return data, nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (t *HTTPTransport) url(auth domain.AuthContext, path string) string {
	base := t.baseURL
	if a, ok := auth.(*domain.HTTPAuthContext); ok && a != nil && a.BasePath != "" {
		base = strings.TrimRight(a.BasePath, "/")
	}
	return base + path
}

func (t *HTTPTransport) send(ctx context.Context, method, url, requestID string, auth domain.AuthContext,
	meta *domain.LoadRequestMeta, payload []byte) ([]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token := t.token
	if auth != nil && auth.AccessToken() != "" {
		token = auth.AccessToken()
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	req.Header.Set("x-request-id", requestID)
	if meta != nil {
		setMetaHeaders(req.Header, *meta)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var apiErr apiError
	_ = json.Unmarshal(data, &apiErr)
	if apiErr.Error == continueWait {
		return nil, errContinueWait
	}
	if resp.StatusCode != http.StatusOK {
		msg := apiErr.Error
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return nil, domain.ErrUser("Cube API error (status %d): %s", resp.StatusCode, msg)
	}
	if apiErr.Error != "" {
		return nil, domain.ErrUser("Cube API error: %s", apiErr.Error)
	}
	return data, nil
}

func setMetaHeaders(h http.Header, meta domain.LoadRequestMeta) {
	if meta.Protocol != "" {
		h.Set("x-cube-protocol", meta.Protocol)
	}
	if meta.APIType != "" {
		h.Set("x-cube-api-type", meta.APIType)
	}
	if meta.AppName != nil {
		h.Set("x-cube-app-name", *meta.AppName)
	}
	if meta.ChangeUser != nil {
		h.Set("x-cube-change-user", *meta.ChangeUser)
	}
}
