package blockring

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avsm/shared-block-ring/blockdev"
)

func newTestDevice(sectorSize uint32, sectorCount uint64) *blockdev.Memory {
	return blockdev.NewMemory(sectorSize, sectorCount)
}

// Scenario 1: round-trip single item.
func TestEngineRoundTripSingleItem(t *testing.T) {
	ctx := context.Background()
	dev := newTestDevice(512, 9) // plenty of room for one small item
	handler := NewCountingHandler()

	e, err := Start(ctx, dev, handler, BytesCodec{})
	require.NoError(t, err)
	defer e.Shutdown(ctx)

	waiter, err := e.Push(ctx, []byte("hello"))
	require.NoError(t, err)
	require.NoError(t, waiter.Wait(ctx))

	require.Equal(t, []any{[]byte("hello")}, handler.Items())
	require.Equal(t, e.P(), e.C())
}

// Scenario 2: backpressure. Ring sized to hold exactly 3 frames of the test
// item's encoded size; the handler is held blocked so the drain loop cannot
// free space. The first 3 pushes fit and succeed while the handler is
// blocked; the last 2 can only complete once it is released, after which
// all 5 items are observed.
func TestEngineBackpressure(t *testing.T) {
	ctx := context.Background()
	// frame size = 4 (length prefix) + 256 = 260; three sectors of 512
	// bytes give a logical payload of 1021 bytes -- room for 3 frames
	// (780) but not 4 (1040).
	dev := newTestDevice(512, 3)

	var callCount int32
	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var batches [][]any
	handler := HandlerFunc(func(ops []any) error {
		n := atomic.AddInt32(&callCount, 1)
		if n == 1 {
			close(started)
		}
		<-release
		cp := make([]any, len(ops))
		copy(cp, ops)
		mu.Lock()
		batches = append(batches, cp)
		mu.Unlock()
		return nil
	})

	e, err := Start(ctx, dev, handler, BytesCodec{})
	require.NoError(t, err)

	item := make([]byte, 256)
	for i := 0; i < 3; i++ {
		item[0] = byte(i)
		_, err := e.Push(ctx, append([]byte(nil), item...))
		require.NoErrorf(t, err, "push %d", i)
	}
	<-started // the drain loop is now blocked inside the handler

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		idx := i
		go func() {
			defer wg.Done()
			it := make([]byte, 256)
			it[0] = byte(3 + idx)
			_, errs[idx] = e.Push(ctx, it)
		}()
	}

	close(release)
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	require.NoError(t, e.Shutdown(ctx))

	mu.Lock()
	var total int
	for _, b := range batches {
		total += len(b)
	}
	mu.Unlock()
	require.Equal(t, 5, total)
}

// Scenario 3: crash recovery. Items A, B, C are pushed; the handler
// processes A and then blocks forever on the next call, modeling a crash
// before B and C are ever applied. A second engine attached to the same
// device must replay B and C, never A.
func TestEngineCrashRecovery(t *testing.T) {
	ctx := context.Background()
	dev := newTestDevice(512, 9)

	var calls int32
	doneA := make(chan struct{})
	block := make(chan struct{}) // never closed: models the crash
	handler1 := HandlerFunc(func(ops []any) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(doneA)
			return nil
		}
		<-block
		return nil
	})

	engine1, err := Start(ctx, dev, handler1, BytesCodec{})
	require.NoError(t, err)

	waitA, err := engine1.Push(ctx, []byte("A"))
	require.NoError(t, err)
	require.NoError(t, waitA.Wait(ctx))
	<-doneA

	_, err = engine1.Push(ctx, []byte("B"))
	require.NoError(t, err)
	_, err = engine1.Push(ctx, []byte("C"))
	require.NoError(t, err)

	// engine1 is dropped here without Shutdown -- simulating a crash. Its
	// durable C pointer on dev is still positioned right after A.

	handler2 := NewCountingHandler()
	engine2, err := Start(ctx, dev, handler2, BytesCodec{})
	require.NoError(t, err)
	defer engine2.Shutdown(context.Background())

	items := handler2.Items()
	require.NotContains(t, items, []byte("A"))
	require.Contains(t, items, []byte("B"))
	require.Contains(t, items, []byte("C"))
}

// Scenario 4: TooBig.
func TestEngineTooBig(t *testing.T) {
	ctx := context.Background()
	dev := newTestDevice(512, 2) // 1 header sector + 1 payload sector = 509 bytes logical
	handler := NewCountingHandler()

	e, err := Start(ctx, dev, handler, BytesCodec{})
	require.NoError(t, err)
	defer e.Shutdown(ctx)

	before := e.P()
	_, err = e.Push(ctx, make([]byte, 1024))
	require.Error(t, err)
	require.True(t, IsCode(err, CodeTooBig))
	require.Equal(t, before, e.P())
}

// Scenario 5: ordering under concurrent pushers. Ten tasks each push 100
// items tagged with (task_id, seq); the handler must observe each task_id's
// items in ascending seq order.
func TestEngineOrderingUnderConcurrentPushers(t *testing.T) {
	ctx := context.Background()
	dev := newTestDevice(512, 40)
	handler := NewCountingHandler()

	e, err := Start(ctx, dev, handler, BytesCodec{})
	require.NoError(t, err)

	const numTasks = 10
	const numItems = 100

	var wg sync.WaitGroup
	for task := 0; task < numTasks; task++ {
		wg.Add(1)
		taskID := uint16(task)
		go func() {
			defer wg.Done()
			for seq := 0; seq < numItems; seq++ {
				buf := make([]byte, 6)
				binary.BigEndian.PutUint16(buf[0:2], taskID)
				binary.BigEndian.PutUint32(buf[2:6], uint32(seq))
				_, err := e.Push(ctx, buf)
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, e.Shutdown(ctx))

	lastSeq := make(map[uint16]int32)
	for task := 0; task < numTasks; task++ {
		lastSeq[uint16(task)] = -1
	}
	for _, raw := range handler.Items() {
		b := raw.([]byte)
		taskID := binary.BigEndian.Uint16(b[0:2])
		seq := int32(binary.BigEndian.Uint32(b[2:6]))
		require.Greaterf(t, seq, lastSeq[taskID], "task %d: seq %d did not increase", taskID, seq)
		lastSeq[taskID] = seq
	}
	for task := 0; task < numTasks; task++ {
		require.Equal(t, int32(numItems-1), lastSeq[uint16(task)])
	}
}

// Scenario 6: wraparound. With capacity sized so an early push wraps the
// payload region, every pushed item must still round-trip in order.
func TestEngineWraparound(t *testing.T) {
	ctx := context.Background()
	dev := newTestDevice(64, 4) // payloadLen = 3*64 - 3 = 189
	handler := NewCountingHandler()

	e, err := Start(ctx, dev, handler, BytesCodec{})
	require.NoError(t, err)

	const n = 20
	payload := make([]byte, 10) // frameLen = 14; 189/14 wraps partway through
	var lastWaiter *CompletionWaiter
	for i := 0; i < n; i++ {
		buf := make([]byte, 10)
		copy(buf, payload)
		buf[0] = byte(i)
		w, err := e.Push(ctx, buf)
		require.NoErrorf(t, err, "push %d", i)
		lastWaiter = w
	}
	require.NoError(t, lastWaiter.Wait(ctx))
	require.NoError(t, e.Shutdown(ctx))

	items := handler.Items()
	require.Len(t, items, n)
	for i, raw := range items {
		b := raw.([]byte)
		require.Equal(t, byte(i), b[0])
	}
}

// RestartDrain: a transient handler failure stops the engine; after
// RestartDrain, the same un-advanced items are retried and succeed.
func TestEngineRestartDrainAfterHandlerFailure(t *testing.T) {
	ctx := context.Background()
	dev := newTestDevice(512, 9)

	var failOnce int32
	handler := HandlerFunc(func(ops []any) error {
		if atomic.CompareAndSwapInt32(&failOnce, 0, 1) {
			return errFakeHandlerFailure
		}
		return nil
	})

	e, err := Start(ctx, dev, handler, BytesCodec{})
	require.NoError(t, err)
	defer e.Shutdown(ctx)

	waiter, err := e.Push(ctx, []byte("x"))
	require.NoError(t, err)

	err = waiter.Wait(ctx)
	require.Error(t, err)
	require.True(t, IsCode(err, CodeHandlerError))

	failed, _ := e.Failed()
	require.True(t, failed)

	require.NoError(t, e.RestartDrain(ctx))

	// The retried replay should now succeed and advance C past the item.
	require.Eventually(t, func() bool {
		return e.C() == e.P()
	}, time.Second, 10*time.Millisecond)
}

func TestEngineShutdownAfterFailureDoesNotDeadlock(t *testing.T) {
	ctx := context.Background()
	dev := newTestDevice(512, 9)

	handler := HandlerFunc(func(ops []any) error {
		return errFakeHandlerFailure
	})

	e, err := Start(ctx, dev, handler, BytesCodec{})
	require.NoError(t, err)

	waiter, err := e.Push(ctx, []byte("x"))
	require.NoError(t, err)

	err = waiter.Wait(ctx)
	require.Error(t, err)
	require.True(t, IsCode(err, CodeHandlerError))

	failed, _ := e.Failed()
	require.True(t, failed)

	// Shutdown must return promptly even though the drain loop exited on
	// its own after the fatal handler error, without ever being asked to
	// stop and without RestartDrain ever being called.
	done := make(chan error, 1)
	go func() { done <- e.Shutdown(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return after engine failure")
	}
}

type fakeHandlerError struct{ s string }

func (e *fakeHandlerError) Error() string { return e.s }

var errFakeHandlerFailure = &fakeHandlerError{s: "induced transient handler failure"}
