package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/federated/internal/apperr"
	"github.com/fyrsmithlabs/federated/internal/logging"
	"github.com/fyrsmithlabs/federated/internal/metrics"
	"github.com/fyrsmithlabs/federated/internal/router"
)

const defaultShardTimeout = 5 * time.Second

var tracer = otel.Tracer("federated.search")

type shardState struct {
	Shard
	queries  atomic.Int64
	failures atomic.Int64
}

// Index is the sharded search index.
type Index struct {
	shards  []*shardState
	timeout time.Duration
	logger  *logging.Logger

	queries atomic.Int64
	partial atomic.Int64
}

// Option configures an Index.
type Option func(*indexOptions)

type indexOptions struct {
	timeout time.Duration
	shards  []Shard
	logger  *logging.Logger
}

// WithShardTimeout bounds each shard's part of a search.
func WithShardTimeout(d time.Duration) Option {
	return func(o *indexOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithShards supplies the shard implementations. Their count must equal n.
func WithShards(shards ...Shard) Option {
	return func(o *indexOptions) { o.shards = shards }
}

// WithLogger sets the index logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *indexOptions) { o.logger = l }
}

// New creates an index with n shards, in-memory unless WithShards is given.
func New(n int, opts ...Option) (*Index, error) {
	if n <= 0 {
		return nil, apperr.Errorf("search.New", apperr.ErrInvalidInput, "shard count must be positive, got %d", n)
	}
	o := indexOptions{timeout: defaultShardTimeout, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.shards == nil {
		for i := 0; i < n; i++ {
			o.shards = append(o.shards, NewMemoryShard(fmt.Sprintf("shard_%d", i)))
		}
	}
	if len(o.shards) != n {
		return nil, apperr.Errorf("search.New", apperr.ErrInvalidInput, "got %d shards for n=%d", len(o.shards), n)
	}

	idx := &Index{timeout: o.timeout, logger: o.logger}
	for _, s := range o.shards {
		idx.shards = append(idx.shards, &shardState{Shard: s})
	}
	return idx, nil
}

// ShardFor returns fnv32a(id) mod n.
func ShardFor(id string, n int) int {
	return router.Shard(id, n)
}

// NumShards returns the shard count.
func (x *Index) NumShards() int { return len(x.shards) }

// Index inserts or replaces doc on its shard.
func (x *Index) Index(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return apperr.Errorf("search.Index", apperr.ErrInvalidInput, "document id is required")
	}
	s := x.shards[ShardFor(doc.ID, len(x.shards))]
	if err := s.Index(ctx, doc); err != nil {
		return fmt.Errorf("index %s on %s: %w", doc.ID, s.Name(), err)
	}
	metrics.SetIndexedDocuments(x.documents())
	return nil
}

// Delete removes id from its shard.
func (x *Index) Delete(ctx context.Context, id string) error {
	s := x.shards[ShardFor(id, len(x.shards))]
	if err := s.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete %s on %s: %w", id, s.Name(), err)
	}
	metrics.SetIndexedDocuments(x.documents())
	return nil
}

type shardOutcome struct {
	results []Result
	err     error
}

// Search fans q out to every shard and merges the ranked lists.
func (x *Index) Search(ctx context.Context, q Query) (Response, error) {
	ctx, span := tracer.Start(ctx, "search.Search")
	defer span.End()
	span.SetAttributes(
		attribute.Int("search.shards", len(x.shards)),
		attribute.Int("search.limit", q.limit()),
	)

	start := time.Now()
	x.queries.Add(1)

	outcomes := make([]shardOutcome, len(x.shards))
	var wg sync.WaitGroup
	for i, s := range x.shards {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = x.searchShard(ctx, s, q)
		}()
	}
	wg.Wait()

	var (
		merged []Result
		failed []string
		errs   []error
	)
	for i, o := range outcomes {
		s := x.shards[i]
		if o.err != nil {
			s.failures.Add(1)
			failed = append(failed, s.Name())
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), o.err))
			metrics.ObserveShardFailure(s.Name())
			x.logger.Warn(ctx, "search shard failed", zap.String("shard", s.Name()), zap.Error(o.err))
			continue
		}
		merged = append(merged, o.results...)
	}

	if len(failed) == len(x.shards) {
		err := apperr.E("search.Search", apperr.ErrPartialDegradation, errors.Join(errs...))
		span.RecordError(err)
		span.SetStatus(codes.Error, "all shards failed")
		metrics.ObserveSearch(metrics.ResultError, time.Since(start))
		return Response{}, err
	}

	sortResults(merged)
	if limit := q.limit(); len(merged) > limit {
		merged = merged[:limit]
	}
	if merged == nil {
		merged = []Result{}
	}

	resp := Response{Results: merged, FailedShards: failed, Partial: len(failed) > 0}
	result := metrics.ResultSuccess
	if resp.Partial {
		x.partial.Add(1)
		result = metrics.ResultPartial
	}
	metrics.ObserveSearch(result, time.Since(start))
	span.SetAttributes(
		attribute.Int("search.results", len(merged)),
		attribute.Int("search.failed_shards", len(failed)),
	)
	x.logger.Debug(ctx, "search completed",
		zap.Int("results", len(merged)),
		zap.Strings("failed_shards", failed),
		zap.Duration("elapsed", time.Since(start)))
	return resp, nil
}

// searchShard runs one shard under the shard timeout. A shard that ignores
// its context is abandoned once the timeout fires.
func (x *Index) searchShard(ctx context.Context, s *shardState, q Query) shardOutcome {
	s.queries.Add(1)
	sctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	done := make(chan shardOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- shardOutcome{err: fmt.Errorf("shard panicked: %v", p)}
			}
		}()
		rs, err := s.Search(sctx, q)
		done <- shardOutcome{results: rs, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
			o.err = apperr.E("search.Shard", apperr.ErrTimeout, o.err)
		}
		return o
	case <-sctx.Done():
		return shardOutcome{err: apperr.E("search.Shard", apperr.ErrTimeout, sctx.Err())}
	}
}

// Stats returns per-shard and total counters.
func (x *Index) Stats() Stats {
	st := Stats{
		TotalQueries:   x.queries.Load(),
		PartialQueries: x.partial.Load(),
	}
	for _, s := range x.shards {
		n := s.Len()
		st.Shards = append(st.Shards, ShardStats{
			Name:      s.Name(),
			Documents: n,
			Queries:   s.queries.Load(),
			Failures:  s.failures.Load(),
		})
		st.TotalDocuments += n
	}
	return st
}

func (x *Index) documents() int {
	total := 0
	for _, s := range x.shards {
		total += s.Len()
	}
	return total
}
