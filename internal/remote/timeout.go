package remote

import (
	"context"
	"time"
)

// WithCallTimeout bounds every call to s by d. A non-positive d returns s.
func WithCallTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{next: s, timeout: d}
}

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

func (t *timeoutStore) Create(ctx context.Context, collection string, doc Document) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Create(ctx, collection, doc)
}

func (t *timeoutStore) Get(ctx context.Context, collection, id string) (Document, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Get(ctx, collection, id)
}

func (t *timeoutStore) Update(ctx context.Context, collection, id string, patch Document) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Update(ctx, collection, id, patch)
}

func (t *timeoutStore) Delete(ctx context.Context, collection, id string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Delete(ctx, collection, id)
}

func (t *timeoutStore) Query(ctx context.Context, collection string, where Filter) ([]Document, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Query(ctx, collection, where)
}

func (t *timeoutStore) BatchWrite(ctx context.Context, ops []Op) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.BatchWrite(ctx, ops)
}

func (t *timeoutStore) MaxBatchSize() int { return t.next.MaxBatchSize() }

func (t *timeoutStore) Close() error { return t.next.Close() }
