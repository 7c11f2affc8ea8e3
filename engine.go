// Package blockring implements a crash-safe, at-least-once journal engine
// on top of a shared block-device ring buffer. Multiple operations pushed
// concurrently are framed, made durable, and handed to a client-supplied
// handler in order; a crash between a handler success and the durable
// advance of the consumer pointer is recovered by replaying the
// not-yet-advanced items on the next Start.
package blockring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avsm/shared-block-ring/internal/interfaces"
	"github.com/avsm/shared-block-ring/internal/ringbuf"
)

// engineConfig collects the options applied before a Ring is attached, since
// the logger must be known before Create/AttachProducer/AttachConsumer run.
type engineConfig struct {
	logger   interfaces.Logger
	observer Observer
}

// Option configures a call to Start.
type Option func(*engineConfig)

// WithLogger sets the logger the engine reports replay decode failures
// through. The ring layer is handed the same logger but does not log.
func WithLogger(l interfaces.Logger) Option {
	return func(c *engineConfig) { c.logger = l }
}

// WithObserver sets the Observer that receives journal events. The default
// is NoOpObserver.
func WithObserver(o Observer) Option {
	return func(c *engineConfig) { c.observer = o }
}

// Engine is the journal: it owns a Producer and Consumer attached to the
// same Ring, serializes Push framing through a single mutex, and runs a
// background drain loop that replays newly-visible frames through the
// client's Handler.
//
// The mutex also backs the condition variable used for all three of the
// events described by the source design: space freed by a drain (wakes a
// Push blocked on Retry), a new item pushed (wakes the drain loop), and
// shutdown requested (wakes the drain loop and every waiter).
type Engine struct {
	producer *ringbuf.Producer
	consumer *ringbuf.Consumer
	codec    Codec
	handler  Handler
	logger   interfaces.Logger
	observer Observer

	mu   sync.Mutex
	cond *sync.Cond

	cDone             uint64 // highest position the handler has successfully processed and C has durably passed
	failed            bool
	failErr           error
	shutdownRequested bool
	shutdownComplete  bool

	wg sync.WaitGroup
}

// Start attaches to dev, creating a fresh ring if it has never been
// formatted, runs replay synchronously to recover any items left over from
// a prior crash, and spawns the background drain loop before returning.
func Start(ctx context.Context, dev interfaces.BlockDevice, handler Handler, codec Codec, opts ...Option) (*Engine, error) {
	cfg := engineConfig{observer: NoOpObserver{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	cons, err := ringbuf.AttachConsumer(ctx, dev, cfg.logger)
	if errors.Is(err, ringbuf.ErrNotInitialized) {
		if _, cerr := ringbuf.Create(ctx, dev, cfg.logger); cerr != nil {
			return nil, WrapError("start", CodeIoError, cerr)
		}
		cons, err = ringbuf.AttachConsumer(ctx, dev, cfg.logger)
	}
	if err != nil {
		return nil, WrapError("start", CodeIoError, err)
	}
	prod, err := ringbuf.AttachProducer(ctx, dev, cfg.logger)
	if err != nil {
		return nil, WrapError("start", CodeIoError, err)
	}

	e := &Engine{
		producer: prod,
		consumer: cons,
		codec:    codec,
		handler:  handler,
		logger:   cfg.logger,
		observer: cfg.observer,
		cDone:    cons.Ring().C(),
	}
	e.cond = sync.NewCond(&e.mu)

	if err := e.replay(ctx); err != nil {
		return nil, err
	}

	e.wg.Add(1)
	go e.drainLoop()
	return e, nil
}

// Push encodes op, writes and durably publishes it, and returns a
// CompletionWaiter the caller can use to block until the handler has
// processed it. Push itself does not wait for the handler -- only for the
// ring to accept the frame.
func (e *Engine) Push(ctx context.Context, op any) (*CompletionWaiter, error) {
	b, err := e.codec.Encode(op)
	if err != nil {
		return nil, NewErrorWrap("push.encode", CodeParseError, "encoding operation", err)
	}

	e.mu.Lock()
	if e.shutdownRequested {
		e.mu.Unlock()
		return nil, ErrShutdown
	}
	if e.failed {
		err := e.failErr
		e.mu.Unlock()
		return nil, err
	}

	start := time.Now()
	retried := false
	var pos uint64
	var pushErr error
	for {
		p, perr := e.producer.Push(ctx, b)
		if perr == nil {
			pos = p
			break
		}
		if errors.Is(perr, ringbuf.ErrRetry) || errors.Is(perr, ringbuf.ErrSuspended) {
			retried = true
			// Wake after DefaultPushRetryWait even if no broadcast arrives,
			// so the ring's state is checked again.
			t := time.AfterFunc(DefaultPushRetryWait, func() {
				e.mu.Lock()
				e.cond.Broadcast()
				e.mu.Unlock()
			})
			e.cond.Wait()
			t.Stop()
			if e.shutdownRequested {
				e.mu.Unlock()
				return nil, ErrShutdown
			}
			continue
		}
		pushErr = perr
		break
	}
	if pushErr != nil {
		e.mu.Unlock()
		switch {
		case errors.Is(pushErr, ringbuf.ErrTooBig):
			return nil, NewError("push", CodeTooBig, "operation exceeds ring capacity")
		default:
			e.observer.ObserveIOError()
			return nil, NewErrorWrap("push", CodeIoError, "writing frame", pushErr)
		}
	}

	if err := e.producer.Advance(ctx, pos); err != nil {
		e.mu.Unlock()
		e.observer.ObserveIOError()
		return nil, NewErrorWrap("push.advance", CodeIoError, "advancing producer pointer", err)
	}

	e.observer.ObservePush(uint64(len(b)), uint64(time.Since(start)), retried)
	e.cond.Broadcast()
	e.mu.Unlock()
	return &CompletionWaiter{engine: e, pos: pos}, nil
}

// replay folds every currently-visible frame, decodes and applies it via
// the handler, and advances the consumer pointer on success. A decode or
// handler failure is fatal to the engine -- see errors.go.
func (e *Engine) replay(ctx context.Context) error {
	frames, end, err := e.consumer.Fold(ctx)
	if err != nil {
		e.observer.ObserveIOError()
		return e.fail(NewErrorWrap("replay", CodeIoError, "folding visible frames", err))
	}
	if len(frames) == 0 {
		return nil
	}

	ops := make([]any, len(frames))
	var totalBytes uint64
	for i, f := range frames {
		op, derr := e.codec.Decode(f)
		if derr != nil {
			if e.logger != nil {
				e.logger.Errorf("replay: cannot decode frame %d of %d (%d bytes): %x", i, len(frames), len(f), f)
			}
			e.observer.ObserveParseError()
			return e.fail(NewErrorWrap("replay.decode", CodeParseError,
				fmt.Sprintf("decoding frame %d of %d (%d bytes)", i, len(frames), len(f)), derr))
		}
		ops[i] = op
		totalBytes += uint64(len(f))
	}

	start := time.Now()
	herr := e.handler.Handle(ops)
	latency := time.Since(start)
	if herr != nil {
		e.observer.ObserveHandlerError()
		e.observer.ObserveReplay(len(ops), totalBytes, uint64(latency), false)
		return e.fail(NewErrorWrap("replay.handle", CodeHandlerError, "handler failed", herr))
	}

	if err := e.consumer.Advance(ctx, end); err != nil {
		e.observer.ObserveIOError()
		return e.fail(NewErrorWrap("replay.advance", CodeIoError, "advancing consumer pointer", err))
	}

	e.observer.ObserveReplay(len(ops), totalBytes, uint64(latency), true)
	e.observer.ObserveBacklog(e.producer.Ring().P() - end)

	e.mu.Lock()
	e.cDone = end
	e.mu.Unlock()
	e.cond.Broadcast()
	return nil
}

// fail records a fatal engine error and wakes every waiter so they observe
// it instead of blocking forever.
func (e *Engine) fail(err error) error {
	e.mu.Lock()
	e.failed = true
	e.failErr = err
	e.mu.Unlock()
	e.cond.Broadcast()
	return err
}

// hasNewWork reports whether the ring currently holds frames the drain loop
// has not yet advanced past, without touching the block device.
func (e *Engine) hasNewWork() bool {
	r := e.consumer.Ring()
	return r.P() != r.C()
}

// drainLoop is the engine's single background task. It waits for a new
// push, a shutdown request, or (after a spurious wakeup) re-checks its
// predicate, then replays whatever has become visible.
func (e *Engine) drainLoop() {
	defer e.wg.Done()
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		for !e.shutdownRequested && !e.hasNewWork() {
			e.cond.Wait()
		}
		if e.shutdownRequested && !e.hasNewWork() {
			e.shutdownComplete = true
			e.cond.Broadcast()
			return
		}

		e.mu.Unlock()
		err := e.replay(context.Background())
		e.mu.Lock()
		if err != nil {
			// replay already recorded the failure via fail() and broadcast
			// it, but a concurrent Shutdown waiting on shutdownComplete
			// would otherwise block forever since this loop is exiting
			// without ever being asked to stop. Mark it complete too so
			// Shutdown returns; RestartDrain clears failed and relaunches
			// a fresh drainLoop, which resets shutdownComplete to false.
			e.shutdownComplete = true
			e.cond.Broadcast()
			return
		}
	}
}

// RestartDrain resumes the background drain loop after a fatal replay
// failure (decode or handler error), re-attempting replay of whatever is
// still un-advanced in [C, P). It is the caller's responsibility to be
// confident the underlying cause was transient or has been corrected --
// RestartDrain does not inspect or clear anything the failed handler call
// may have left behind in client-owned state.
func (e *Engine) RestartDrain(ctx context.Context) error {
	e.mu.Lock()
	if e.shutdownRequested {
		e.mu.Unlock()
		return ErrShutdown
	}
	if !e.failed {
		e.mu.Unlock()
		return nil
	}
	e.failed = false
	e.failErr = nil
	e.shutdownComplete = false
	e.mu.Unlock()

	e.wg.Add(1)
	go e.drainLoop()
	return nil
}

// Shutdown requests the background drain loop stop once every frame already
// published has been replayed, and blocks until it has (or until the drain
// loop has stopped on a fatal replay error). The producer's durable state is left
// intact: a future Start against the same device replays anything not yet
// drained.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.shutdownRequested = true
	e.cond.Broadcast()
	for !e.shutdownComplete {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				e.mu.Unlock()
				return err
			}
		}
		e.cond.Wait()
	}
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}

// Failed reports whether a fatal replay error has stopped the engine, and
// that error if so.
func (e *Engine) Failed() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed, e.failErr
}

// P and C report the ring's current producer and consumer pointers.
func (e *Engine) P() uint64 { return e.producer.Ring().P() }
func (e *Engine) C() uint64 { return e.producer.Ring().C() }

// CompletionWaiter is returned by Push; Wait blocks until the pushed item
// has been handled and durably consumed, or the engine has failed.
type CompletionWaiter struct {
	engine *Engine
	pos    uint64
}

// Wait blocks until C_done >= the waiter's position. It returns the
// engine's failure error if the engine fails before that happens, or ctx's
// error if ctx is canceled first.
func (w *CompletionWaiter) Wait(ctx context.Context) error {
	e := w.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	if ctx != nil && ctx.Done() != nil {
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				e.mu.Lock()
				e.cond.Broadcast()
				e.mu.Unlock()
			case <-done:
			}
		}()
	}

	for e.cDone < w.pos && !e.failed {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		e.cond.Wait()
	}
	if e.failed {
		return e.failErr
	}
	return nil
}
