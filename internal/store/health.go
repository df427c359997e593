package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/federated/internal/apperr"
	"github.com/fyrsmithlabs/federated/internal/metrics"
)

type probeResult struct {
	online  bool
	err     error
	checked time.Time
}

// HealthCheckAll probes every registered store concurrently and returns a
// name to online map with an entry for every store.
//
// It never fails as a whole. A probe error or timeout is logged and recorded
// as false, and each descriptor's online flag is updated to the result.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]bool {
	r.mu.RLock()
	targets := make(map[string]Store, len(r.entries))
	for name, e := range r.entries {
		targets[name] = e.store
	}
	r.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]probeResult, len(targets))
	)

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for name, s := range targets {
		g.Go(func() error {
			res := r.probe(ctx, name, s)
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	health := make(map[string]bool, len(results))
	r.mu.Lock()
	for name, res := range results {
		health[name] = res.online
		e, ok := r.entries[name]
		// Skip stores replaced while the sweep was running.
		if !ok || e.store != targets[name] {
			continue
		}
		e.desc.Online = res.online
		e.desc.LastChecked = res.checked.Unix()
		e.desc.LastError = ""
		if res.err != nil {
			e.desc.LastError = res.err.Error()
		}
	}
	r.mu.Unlock()

	return health
}

func (r *Registry) probe(ctx context.Context, name string, s Store) probeResult {
	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	// A store that ignores its context must not stall the sweep.
	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("probe panicked: %v", p)
			}
		}()
		done <- s.Ping(pctx)
	}()

	var err error
	select {
	case err = <-done:
		if err != nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
			err = apperr.E("store.Ping", apperr.ErrTimeout, err)
		}
	case <-pctx.Done():
		err = apperr.E("store.Ping", apperr.ErrTimeout, pctx.Err())
	}

	online := err == nil
	metrics.ObserveProbe(name, online, time.Since(start))
	if err != nil {
		r.logger.Warn(ctx, "store health probe failed",
			zap.String("store", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	}
	return probeResult{online: online, err: err, checked: time.Now()}
}
