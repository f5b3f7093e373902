package kafka

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errControllerClosed = errors.New("kafka: backpressure controller closed")

// Controller caps the number of records handed out but not yet settled.
// Tokens are returned on ack; the periodic refill bounds how long tokens lost
// to a rebalance can starve the consumer.
type Controller struct {
	capacity int64
	refill   int64

	mu     sync.Mutex
	tokens int64
	cond   *sync.Cond
	closed bool
}

func NewController(cap, refill int64, tick time.Duration) *Controller {
	c := &Controller{
		capacity: cap,
		refill:   refill,
		tokens:   cap,
	}
	c.cond = sync.NewCond(&c.mu)

	if refill > 0 && tick > 0 {
		go func() {
			t := time.NewTicker(tick)
			defer t.Stop()
			for range t.C {
				c.mu.Lock()
				if c.closed {
					c.mu.Unlock()
					return
				}
				c.tokens = min(c.tokens+c.refill, c.capacity)
				c.mu.Unlock()
				c.cond.Broadcast()
			}
		}()
	}
	return c
}

// Acquire blocks until a token is available, ctx is done or the controller
// is closed.
func (c *Controller) Acquire(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.tokens == 0 && !c.closed && ctx.Err() == nil {
		c.cond.Wait()
	}
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case c.closed:
		return errControllerClosed
	}
	c.tokens--
	return nil
}

func (c *Controller) TryAcquire(n int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens < n {
		return false
	}
	c.tokens -= n
	return true
}

func (c *Controller) Release(n int64) {
	c.mu.Lock()
	c.tokens = min(c.tokens+n, c.capacity)
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Available is the number of free tokens.
func (c *Controller) Available() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
}
