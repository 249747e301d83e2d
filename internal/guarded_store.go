package internal

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lychee-technology/modepress"
)

// GuardedStore decorates a store with the circuit breaker and latency
// telemetry. While the breaker is open every call fails fast with a store
// unavailable error.
type GuardedStore struct {
	inner   modepress.Store
	breaker *CircuitBreaker
}

// NewGuardedStore wraps inner. A nil breaker only records telemetry.
func NewGuardedStore(inner modepress.Store, breaker *CircuitBreaker) *GuardedStore {
	return &GuardedStore{inner: inner, breaker: breaker}
}

func (s *GuardedStore) Inner() modepress.Store { return s.inner }

func (s *GuardedStore) Collection(name string) modepress.Collection {
	return &guardedCollection{inner: s.inner.Collection(name), name: name, breaker: s.breaker}
}

func (s *GuardedStore) Close(ctx context.Context) error {
	return s.inner.Close(ctx)
}

func (s *GuardedStore) EnsureIndexes(ctx context.Context, collection string, unique, indexable []string) error {
	indexer, ok := s.inner.(modepress.Indexer)
	if !ok {
		return nil
	}
	return indexer.EnsureIndexes(ctx, collection, unique, indexable)
}

func (s *GuardedStore) Ping(ctx context.Context) error {
	checker, ok := s.inner.(modepress.HealthChecker)
	if !ok {
		return nil
	}
	return checker.Ping(ctx)
}

type guardedCollection struct {
	inner   modepress.Collection
	name    string
	breaker *CircuitBreaker
}

func (c *guardedCollection) run(ctx context.Context, op string, fn func() error) error {
	if !c.breaker.Allow() {
		EmitBreakerRejection(ctx, c.name, op)
		zap.S().Warnw("store call rejected by open circuit breaker", "collection", c.name, "op", op)
		return modepress.NewStoreUnavailableError(op).WithCollection(c.name)
	}

	start := time.Now()
	err := fn()
	EmitStoreLatency(ctx, c.name, op, time.Since(start).Milliseconds())

	if err != nil && countsAsFailure(err) {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess()
	}
	return err
}

// countsAsFailure separates infrastructure failures from typed outcomes
// such as duplicates, which prove the backend is reachable.
func countsAsFailure(err error) bool {
	var me *modepress.ModepressError
	if errors.As(err, &me) {
		return me.Type == modepress.ErrorTypeStore
	}
	return true
}

func (c *guardedCollection) Find(ctx context.Context, cond modepress.Condition, opts modepress.FindOptions) (*modepress.FindPage, error) {
	var page *modepress.FindPage
	err := c.run(ctx, "find", func() error {
		var err error
		page, err = c.inner.Find(ctx, cond, opts)
		return err
	})
	return page, err
}

func (c *guardedCollection) InsertOne(ctx context.Context, doc modepress.Document) (modepress.Document, error) {
	var stored modepress.Document
	err := c.run(ctx, "insert", func() error {
		var err error
		stored, err = c.inner.InsertOne(ctx, doc)
		return err
	})
	return stored, err
}

func (c *guardedCollection) UpdateOne(ctx context.Context, cond modepress.Condition, patch modepress.Patch) error {
	return c.run(ctx, "update", func() error {
		return c.inner.UpdateOne(ctx, cond, patch)
	})
}

func (c *guardedCollection) DeleteMany(ctx context.Context, cond modepress.Condition) (int64, error) {
	var removed int64
	err := c.run(ctx, "delete", func() error {
		var err error
		removed, err = c.inner.DeleteMany(ctx, cond)
		return err
	})
	return removed, err
}
