package scan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"cube-sql/internal/domain"
	"cube-sql/internal/metrics"
)

// RecordBatchStream yields record batches of a fixed schema. Next returns
// io.EOF once the stream is exhausted. Callers own returned batches and must
// Close the stream when done, including on early exit.
type RecordBatchStream interface {
	Schema() *arrow.Schema
	Next(ctx context.Context) (arrow.Record, error)
	Close()
}

// Collect drains stream into a slice and closes it.
func Collect(ctx context.Context, stream RecordBatchStream) ([]arrow.Record, error) {
	defer stream.Close()
	var out []arrow.Record
	for {
		batch, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			for _, b := range out {
				b.Release()
			}
			return nil, err
		}
		out = append(out, batch)
	}
}

// liveStream is a remote streaming channel plus the cancel func that
// releases it.
type liveStream struct {
	ch     <-chan domain.StreamChunk
	cancel context.CancelFunc
}

// recv returns the next batch. Chunks carrying neither a batch nor an error
// are skipped.
func (s *liveStream) recv(ctx context.Context) (arrow.Record, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-s.ch:
			if !ok {
				return nil, io.EOF
			}
			if chunk.Err != nil {
				if chunk.Batch != nil {
					chunk.Batch.Release()
				}
				return nil, chunk.Err
			}
			if chunk.Batch != nil {
				return chunk.Batch, nil
			}
		}
	}
}

// close cancels the remote stream and releases batches already buffered.
func (s *liveStream) close() {
	s.cancel()
	for {
		select {
		case chunk, ok := <-s.ch:
			if !ok {
				return
			}
			if chunk.Batch != nil {
				chunk.Batch.Release()
			}
		default:
			return
		}
	}
}

func isStreamNotImplemented(err error) bool {
	return strings.Contains(err.Error(), domain.StreamNotImplementedMessage)
}

var _ RecordBatchStream = (*streamRouter)(nil)

// streamRouter serves a live remote stream, or a single one-shot batch.
// While streaming, a "not implemented" error from the remote side triggers a
// one-time downgrade: the stream is dropped and the one-shot load runs on
// the fallback pool. The router never streams again after that.
type streamRouter struct {
	schema  *arrow.Schema
	live    *liveStream
	pending arrow.Record
	fetch   *oneShotFetch
	pool    *FallbackPool
	logger  *slog.Logger
	metrics *metrics.ScanMetrics
}

func newOneShotRouter(schema *arrow.Schema, batch arrow.Record) *streamRouter {
	return &streamRouter{schema: schema, pending: batch}
}

func newStreamingRouter(schema *arrow.Schema, live *liveStream, fetch *oneShotFetch, pool *FallbackPool, logger *slog.Logger, m *metrics.ScanMetrics) *streamRouter {
	return &streamRouter{schema: schema, live: live, fetch: fetch, pool: pool, logger: logger, metrics: m}
}

// Schema implements RecordBatchStream.
func (r *streamRouter) Schema() *arrow.Schema { return r.schema }

// Next implements RecordBatchStream.
func (r *streamRouter) Next(ctx context.Context) (arrow.Record, error) {
	if r.live == nil {
		if r.pending == nil {
			return nil, io.EOF
		}
		batch := r.pending
		r.pending = nil
		return batch, nil
	}

	batch, err := r.live.recv(ctx)
	if err == nil {
		return batch, nil
	}
	if errors.Is(err, io.EOF) {
		r.live.close()
		r.live = nil
		return nil, io.EOF
	}
	if !isStreamNotImplemented(err) {
		return nil, err
	}

	r.logger.Warn("streaming is not available for query, falling back to one-shot load", "error", err)
	r.live.close()
	r.live = nil
	r.metrics.ObserveDowngrade()

	batch, err = r.pool.Wait(ctx, r.pool.Submit(ctx, r.fetch.run))
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// Close implements RecordBatchStream.
func (r *streamRouter) Close() {
	if r.live != nil {
		r.live.close()
		r.live = nil
	}
	if r.pending != nil {
		r.pending.Release()
		r.pending = nil
	}
}
