package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	errspkg "github.com/drblury/subserver/internal/runtime/errors"
	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
)

// deliveryFunc processes one message. A nil result acknowledges it, anything
// else rejects it for redelivery.
type deliveryFunc func(msg *message.Message) error

type connectionOptions struct {
	Subscription string
	Streams      int
	Concurrency  Concurrency
}

// connection is a streaming pull over a watermill subscriber. Each stream is a
// Subscribe call drained by its own goroutine; messages are handed to a
// callback pool and settled on a push pool while an inventory semaphore bounds
// how many are held at once.
type connection struct {
	subscriber message.Subscriber
	opts       connectionOptions
	deliver    deliveryFunc
	logger     loggingpkg.ServiceLogger

	// cancel ends the Subscribe calls. stopPulling only ends the pull loops,
	// so messages still in flight can settle while the subscription is open.
	cancel      context.CancelFunc
	stopPulling context.CancelFunc

	callbacks *ants.Pool
	pushes    *ants.Pool
	inventory *semaphore.Weighted
	inflight  sync.WaitGroup

	stopped chan struct{}
	settled chan struct{}
}

func openConnection(parent context.Context, sub message.Subscriber, opts connectionOptions, deliver deliveryFunc, logger loggingpkg.ServiceLogger) (*connection, error) {
	if sub == nil {
		return nil, errspkg.ErrTransportRequired
	}
	if deliver == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	opts.Concurrency = opts.Concurrency.withDefaults()
	if opts.Streams < 1 {
		opts.Streams = 1
	}

	callbacks, err := ants.NewPool(opts.Concurrency.CallbackThreads, ants.WithDisablePurge(true))
	if err != nil {
		return nil, fmt.Errorf("callback pool: %w", err)
	}
	pushes, err := ants.NewPool(opts.Concurrency.PushThreads, ants.WithDisablePurge(true))
	if err != nil {
		callbacks.Release()
		return nil, fmt.Errorf("push pool: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	pullCtx, stopPulling := context.WithCancel(ctx)
	c := &connection{
		subscriber:  sub,
		opts:        opts,
		deliver:     deliver,
		logger:      logger,
		cancel:      cancel,
		stopPulling: stopPulling,
		callbacks:   callbacks,
		pushes:      pushes,
		inventory:   semaphore.NewWeighted(int64(opts.Concurrency.Inventory)),
		stopped:     make(chan struct{}),
		settled:     make(chan struct{}),
	}

	channels := make([]<-chan *message.Message, 0, opts.Streams)
	for i := 0; i < opts.Streams; i++ {
		ch, err := sub.Subscribe(ctx, opts.Subscription)
		if err != nil {
			stopPulling()
			cancel()
			callbacks.Release()
			pushes.Release()
			return nil, fmt.Errorf("subscribe %s: %w", opts.Subscription, err)
		}
		channels = append(channels, ch)
	}

	group, gctx := errgroup.WithContext(pullCtx)
	for i, ch := range channels {
		stream := i
		group.Go(func() error {
			return c.pull(gctx, stream, ch)
		})
	}
	go func() {
		_ = group.Wait()
		close(c.stopped)

		c.inflight.Wait()
		c.stopPulling()
		c.cancel()
		c.callbacks.Release()
		c.pushes.Release()
		close(c.settled)
	}()
	return c, nil
}

func (c *connection) pull(ctx context.Context, stream int, ch <-chan *message.Message) error {
	c.logger.Trace("Stream open", loggingpkg.LogFields{"stream": stream})
	defer c.logger.Trace("Stream closed", loggingpkg.LogFields{"stream": stream})

	for {
		select {
		case <-ctx.Done():
			rejectBuffered(ch)
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c.dispatch(ctx, msg)
		}
	}
}

// rejectBuffered nacks the messages already queued on ch without waiting for
// more.
func rejectBuffered(ch <-chan *message.Message) {
	for n := len(ch); n > 0; n-- {
		msg, ok := <-ch
		if !ok {
			return
		}
		msg.Nack()
	}
}

func (c *connection) dispatch(ctx context.Context, msg *message.Message) {
	if ctx.Err() != nil {
		msg.Nack()
		return
	}
	if err := c.inventory.Acquire(ctx, 1); err != nil {
		msg.Nack()
		return
	}

	c.inflight.Add(1)
	err := c.callbacks.Submit(func() {
		err := c.deliver(msg)
		c.settle(msg, err)
	})
	if err != nil {
		c.inventory.Release(1)
		c.inflight.Done()
		msg.Nack()
	}
}

func (c *connection) settle(msg *message.Message, result error) {
	push := func() {
		defer c.inflight.Done()
		defer c.inventory.Release(1)
		if result == nil {
			msg.Ack()
			return
		}
		msg.Nack()
	}
	if err := c.pushes.Submit(push); err != nil {
		push()
	}
}

// Stopped is closed once every stream has stopped pulling.
func (c *connection) Stopped() <-chan struct{} {
	return c.stopped
}

// Stop stops pulling, waits for in-flight messages to be processed and
// settled, and only then closes the subscription. Acks sent during the drain
// still reach the broker.
func (c *connection) Stop() {
	c.stopPulling()
	<-c.settled
}

// StopNow closes the subscription without waiting. Messages still being
// processed are left to the broker for redelivery.
func (c *connection) StopNow() {
	c.cancel()
}

// isShutdown reports whether err is the cooperative shutdown signal.
func isShutdown(err error) bool {
	return errors.Is(err, errspkg.ErrShutdown)
}
