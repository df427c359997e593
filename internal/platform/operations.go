package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/federated/internal/apperr"
	"github.com/fyrsmithlabs/federated/internal/metrics"
	"github.com/fyrsmithlabs/federated/internal/rules"
	"github.com/fyrsmithlabs/federated/internal/search"
	"github.com/fyrsmithlabs/federated/internal/store"
)

// Params keys consumed by FederatedQuery routing.
const (
	ParamCollection = "collection"
	ParamRoutingKey = "routing_key"
)

// Search runs text against the sharded index. Shards that fail are left out
// of the result.
func (p *Platform) Search(ctx context.Context, text string, filters map[string]string) ([]search.Result, error) {
	const op = "platform.Search"
	if err := p.requireReady(op); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Errorf(op, apperr.ErrInvalidInput, "query text is required")
	}

	resp, err := p.deps.Index.Search(ctx, search.Query{Text: text, Filters: filters, Limit: p.opts.SearchLimit})
	p.queries.Add(1)
	if err != nil {
		return nil, apperr.E(op, nil, err)
	}
	if resp.Partial {
		p.logger.Warn(ctx, "search returned partial results", zap.Strings("failed_shards", resp.FailedShards))
	}
	if resp.Results == nil {
		resp.Results = []search.Result{}
	}
	return resp.Results, nil
}

// EnforceRules scans path, or the whole root when path is empty, and fixes
// every violation that carries a fix. Relative paths are resolved against
// the root; paths outside it are rejected.
func (p *Platform) EnforceRules(ctx context.Context, path string) (rules.FixOutcome, error) {
	const op = "platform.EnforceRules"
	if err := p.requireReady(op); err != nil {
		return rules.FixOutcome{}, err
	}
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	var violations []rules.Violation
	if path != "" {
		abs, err := p.resolvePath(op, path)
		if err != nil {
			return rules.FixOutcome{}, err
		}
		span.SetAttributes(attribute.String("enforce.path", abs))
		violations, err = p.deps.Engine.ScanFile(ctx, abs)
		if err != nil {
			return rules.FixOutcome{}, apperr.E(op, nil, err)
		}
	} else {
		found, err := p.deps.Engine.ScanDirectory(ctx, p.opts.Root, p.opts.ScanPatterns)
		if err != nil {
			return rules.FixOutcome{}, apperr.E(op, nil, err)
		}
		violations = rules.Flatten(found)
	}

	outcome := p.deps.Engine.AutoFix(ctx, violations)
	p.fixed.Add(int64(outcome.Fixed))
	p.reindexFixed(ctx, outcome)

	if len(violations) > 0 {
		if err := p.deps.Events.Violations(ctx, outcome); err != nil {
			p.logger.Warn(ctx, "publishing violations failed", zap.Error(err))
		}
	}
	span.SetAttributes(
		attribute.Int("enforce.fixed", outcome.Fixed),
		attribute.Int("enforce.failed", outcome.Failed),
		attribute.Int("enforce.skipped", outcome.Skipped),
	)
	return outcome, nil
}

func (p *Platform) resolvePath(op, path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.opts.Root, path)
	}
	path = filepath.Clean(path)
	if _, ok := p.docID(path); !ok {
		return "", apperr.Errorf(op, apperr.ErrInvalidInput, "path %q is outside %s", path, p.opts.Root)
	}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", apperr.Errorf(op, apperr.ErrNotFound, "file %q", path)
	case err != nil:
		return "", apperr.E(op, nil, err)
	case info.IsDir():
		return "", apperr.Errorf(op, apperr.ErrInvalidInput, "path %q is a directory", path)
	}
	return path, nil
}

// FederatedQuery runs query against the federation. When params name a
// collection and carry a routing key (routing_key or doc_id), the query goes
// to the single store the router resolves; the collection and routing_key
// entries are not forwarded. Otherwise the query fans out to every online
// store and the rows are concatenated in store name order. Stores failing
// during a fan-out are left out; the call fails only when all of them do.
func (p *Platform) FederatedQuery(ctx context.Context, query string, params map[string]any) ([]store.Row, error) {
	const op = "platform.FederatedQuery"
	if err := p.requireReady(op); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Errorf(op, apperr.ErrInvalidInput, "query is required")
	}
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	if collection, ok := routed(params); ok {
		span.SetAttributes(attribute.String("query.mode", "routed"), attribute.String("query.collection", collection))
		rows, err := p.routedQuery(ctx, op, collection, query, params)
		metrics.ObserveFederatedQuery("routed", resultLabel(err, false))
		return rows, err
	}
	span.SetAttributes(attribute.String("query.mode", "fanout"))
	rows, partial, err := p.fanOutQuery(ctx, op, query, params)
	metrics.ObserveFederatedQuery("fanout", resultLabel(err, partial))
	return rows, err
}

func routed(params map[string]any) (string, bool) {
	collection, _ := params[ParamCollection].(string)
	if collection == "" {
		return "", false
	}
	_, hasKey := params[ParamRoutingKey]
	_, hasDoc := params[RoutingKey]
	return collection, hasKey || hasDoc
}

func (p *Platform) routedQuery(ctx context.Context, op, collection, query string, params map[string]any) ([]store.Row, error) {
	routeParams := params
	if key, ok := params[ParamRoutingKey]; ok {
		if _, hasDoc := params[RoutingKey]; !hasDoc {
			routeParams = copyParams(params)
			routeParams[RoutingKey] = key
		}
	}
	name, err := p.deps.Router.Resolve(collection, routeParams)
	if err != nil {
		return nil, apperr.E(op, nil, err)
	}
	desc, err := p.deps.Registry.Get(name)
	if err != nil {
		return nil, apperr.E(op, nil, err)
	}
	if !desc.Online {
		return nil, apperr.Errorf(op, apperr.ErrRouting, "store %q is offline", name)
	}
	s, err := p.deps.Registry.Store(name)
	if err != nil {
		return nil, apperr.E(op, nil, err)
	}

	forward := copyParams(params)
	delete(forward, ParamCollection)
	delete(forward, ParamRoutingKey)
	rows, err := p.queryStore(ctx, s, query, forward)
	if err != nil {
		return nil, apperr.Errorf(op, nil, "store %s: %w", name, err)
	}
	return nonNil(rows), nil
}

func (p *Platform) fanOutQuery(ctx context.Context, op, query string, params map[string]any) ([]store.Row, bool, error) {
	names := p.deps.Registry.Online()
	if len(names) == 0 {
		return nil, false, apperr.Errorf(op, apperr.ErrPartialDegradation, "no stores online")
	}

	results := make([][]store.Row, len(names))
	errs := make([]error, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			s, err := p.deps.Registry.Store(name)
			if err != nil {
				errs[i] = err
				return nil
			}
			rows, err := p.queryStore(gctx, s, query, params)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = rows
			return nil
		})
	}
	_ = g.Wait()

	out := []store.Row{}
	var failed []string
	var failures []error
	for i, name := range names {
		if errs[i] != nil {
			failed = append(failed, name)
			failures = append(failures, errs[i])
			p.logger.Warn(ctx, "store query failed, excluding it",
				zap.String("store", name), zap.Error(errs[i]))
			continue
		}
		out = append(out, results[i]...)
	}
	if len(failed) == len(names) {
		return nil, false, apperr.E(op, apperr.ErrPartialDegradation, errors.Join(failures...))
	}
	return out, len(failed) > 0, nil
}

// queryStore runs one store query under the per-store timeout. A store that
// ignores its context is abandoned when the deadline passes.
func (p *Platform) queryStore(ctx context.Context, s store.Store, query string, params map[string]any) ([]store.Row, error) {
	qctx, cancel := context.WithTimeout(ctx, p.opts.QueryTimeout)
	defer cancel()

	type result struct {
		rows []store.Row
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("query panicked: %v", r)}
			}
		}()
		rows, err := s.Query(qctx, query, params)
		done <- result{rows: rows, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(qctx.Err(), context.DeadlineExceeded) {
			return nil, apperr.E("store.Query", apperr.ErrTimeout, r.err)
		}
		return r.rows, r.err
	case <-qctx.Done():
		if errors.Is(qctx.Err(), context.DeadlineExceeded) {
			return nil, apperr.E("store.Query", apperr.ErrTimeout, qctx.Err())
		}
		return nil, qctx.Err()
	}
}

func resultLabel(err error, partial bool) string {
	switch {
	case err != nil:
		return metrics.ResultError
	case partial:
		return metrics.ResultPartial
	default:
		return metrics.ResultSuccess
	}
}

func copyParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func nonNil(rows []store.Row) []store.Row {
	if rows == nil {
		return []store.Row{}
	}
	return rows
}

// Status is the platform status served by the control API.
type Status struct {
	Status           string             `json:"status"`
	State            string             `json:"state"`
	Root             string             `json:"root"`
	UptimeSeconds    int64              `json:"uptime_seconds"`
	DatabasesOnline  int                `json:"databases_online"`
	DatabasesTotal   int                `json:"databases_total"`
	Stores           []store.Descriptor `json:"stores"`
	QueriesProcessed int64              `json:"queries_processed"`
	ViolationsFixed  int64              `json:"violations_fixed"`
	SearchStats      search.Stats       `json:"search_stats"`
	RuleReport       rules.Report       `json:"rule_report"`
	MonitorSkipped   int64              `json:"monitor_skipped"`
	CheckErrors      map[string]string  `json:"check_errors,omitempty"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Status reports the platform state in any lifecycle phase. Store health,
// search stats and the rule report come from the latest monitor snapshot;
// counters are read live.
func (p *Platform) Status(ctx context.Context) Status {
	state := p.State()
	st := Status{
		Status:           state.String(),
		State:            state.String(),
		Root:             p.opts.Root,
		UptimeSeconds:    int64(time.Since(p.started).Seconds()),
		Stores:           p.deps.Registry.Descriptors(),
		QueriesProcessed: p.queries.Load(),
		ViolationsFixed:  p.fixed.Load(),
		MonitorSkipped:   p.monitor.Skipped(),
	}
	if state == StateReady {
		st.Status = "online"
	}
	st.DatabasesTotal = len(st.Stores)

	if snap := p.monitor.Snapshot(); snap != nil {
		st.DatabasesOnline = snap.Online()
		st.SearchStats = snap.Search
		st.RuleReport = snap.Rules
		st.CheckErrors = snap.Errors
		st.UpdatedAt = snap.At
		return st
	}

	for _, d := range st.Stores {
		if d.Online {
			st.DatabasesOnline++
		}
	}
	st.SearchStats = p.deps.Index.Stats()
	st.RuleReport = p.deps.Engine.Report()
	st.UpdatedAt = time.Now().UTC()
	return st
}
