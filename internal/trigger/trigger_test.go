package trigger

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingTrigger struct {
	name    string
	listens int32
}

func (c *countingTrigger) Listen(ctx context.Context) {
	atomic.AddInt32(&c.listens, 1)
	<-ctx.Done()
}

func (c *countingTrigger) Fire(context.Context) error { return nil }

func (c *countingTrigger) Name() string { return c.name }

func TestListenAllWaitsForEveryTrigger(t *testing.T) {
	a := &countingTrigger{name: "a"}
	b := &countingTrigger{name: "b"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ListenAll(ctx, a, nil, b)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&a.listens) == 1 && atomic.LoadInt32(&b.listens) == 1
	}, time.Second, 5*time.Millisecond)

	select {
	case <-done:
		t.Fatal("ListenAll returned before cancel")
	default:
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ListenAll did not return after cancel")
	}
}
