// Package trigger schedules the engine's periodic housekeeping.
package trigger

import (
	"context"
	"sync"

	"github.com/fia-cloud/fia/pkg/log"
)

// Action is the work a trigger fires.
type Action func(ctx context.Context) error

// Trigger fires an action on its own schedule until its context ends.
type Trigger interface {
	Listen(ctx context.Context)
	Fire(ctx context.Context) error
	Name() string
}

// ListenAll runs every trigger until ctx is done and returns once all of
// them have stopped.
func ListenAll(ctx context.Context, triggers ...Trigger) {
	var wg sync.WaitGroup
	for _, t := range triggers {
		if t == nil {
			continue
		}
		wg.Add(1)
		go func(t Trigger) {
			defer wg.Done()
			t.Listen(ctx)
			log.Info("trigger stopped", "name", t.Name())
		}(t)
	}
	wg.Wait()
}
