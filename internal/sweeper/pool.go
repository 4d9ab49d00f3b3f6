package sweeper

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// closeBatch fans the run closes of one sweep out over a fixed number of
// goroutines and gathers their outcomes.
type closeBatch struct {
	sem chan struct{}
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed []string
	errs   []error
}

func newCloseBatch(workers int) *closeBatch {
	if workers < 1 {
		workers = 1
	}
	return &closeBatch{sem: make(chan struct{}, workers)}
}

// Go runs fn once a worker slot frees up, or fails when ctx is done first.
// fn returns the id of the run it closed.
func (b *closeBatch) Go(ctx context.Context, fn func() (string, error)) error {
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		b.record("", ctx.Err())
		return ctx.Err()
	}

	b.wg.Add(1)
	go func() {
		defer func() {
			<-b.sem
			b.wg.Done()
		}()
		b.record(fn())
	}()
	return nil
}

func (b *closeBatch) record(runID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.errs = append(b.errs, err)
		return
	}
	b.closed = append(b.closed, runID)
}

// Wait blocks until every started close finishes and returns the closed run
// ids in sorted order.
func (b *closeBatch) Wait() ([]string, error) {
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()

	closed := append([]string{}, b.closed...)
	sort.Strings(closed)
	return closed, errors.Join(b.errs...)
}
