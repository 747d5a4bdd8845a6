package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/talkincode/keyshop/internal/domain"
	"github.com/talkincode/keyshop/internal/repository"
)

// Recorder wraps a Store and logs the row locks and row writes made through
// it, including those made by transactions it opens. Lock entries list ids
// in the order the store locks them.
type Recorder struct {
	repository.Store
	log *callLog
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

// NewRecorder wraps inner.
func NewRecorder(inner repository.Store) *Recorder {
	return &Recorder{Store: inner, log: &callLog{}}
}

// Calls returns the recorded entries and clears the log.
func (r *Recorder) Calls() []string {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	out := r.log.calls
	r.log.calls = nil
	return out
}

func ascending(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Recorder) WithTransaction(ctx context.Context, fn func(tx repository.Store) error) error {
	return r.Store.WithTransaction(ctx, func(tx repository.Store) error {
		return fn(&Recorder{Store: tx, log: r.log})
	})
}

func (r *Recorder) LockProducts(ctx context.Context, ids []int64) ([]domain.Product, error) {
	r.log.add("lock products %v", ascending(ids))
	return r.Store.LockProducts(ctx, ids)
}

func (r *Recorder) LockVariants(ctx context.Context, ids []int64) ([]domain.ProductVariant, error) {
	r.log.add("lock variants %v", ascending(ids))
	return r.Store.LockVariants(ctx, ids)
}

func (r *Recorder) UpdateProductFields(ctx context.Context, p *domain.Product) error {
	r.log.add("update product %d", p.ID)
	return r.Store.UpdateProductFields(ctx, p)
}

func (r *Recorder) IncrementBoughtCount(ctx context.Context, productID int64, qty int) error {
	r.log.add("bought product %d +%d", productID, qty)
	return r.Store.IncrementBoughtCount(ctx, productID, qty)
}

func (r *Recorder) UpdateVariant(ctx context.Context, v *domain.ProductVariant) error {
	r.log.add("update variant %d", v.ID)
	return r.Store.UpdateVariant(ctx, v)
}
