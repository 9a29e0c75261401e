// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/rtcore/gpu"
)

// CommandQueue submits command lists in order and tracks their
// completion against a monotonic fence.
//
// Lists are pooled: a submitted list is parked with the fence value that
// marks its completion and is reset and reused once the fence reaches
// that value. The pool grows only when every list is still in flight.
//
// A failed fence signal or wait is fatal. The queue keeps the error and
// every later call returns it, wrapping gpu.ErrDeviceRemoved.
//
// CommandQueue is safe for concurrent use; the lists it hands out are not.
type CommandQueue struct {
	dev   *Device
	typ   gpu.QueueType
	queue gpu.Queue
	fence gpu.Fence

	mu         sync.Mutex
	fenceValue uint64
	inFlight   []submission
	available  []*CommandList
	err        error
	closed     bool
}

// submission is a list waiting for its fence value.
type submission struct {
	list  *CommandList
	fence uint64
}

// NewCommandQueue creates a queue and its fence.
func NewCommandQueue(dev *Device, typ gpu.QueueType) (*CommandQueue, error) {
	queue, err := dev.native.NewQueue(typ)
	if err != nil {
		return nil, fmt.Errorf("create command queue: %w", err)
	}
	fence, err := dev.native.NewFence(0)
	if err != nil {
		queue.Destroy()
		return nil, fmt.Errorf("create fence: %w", err)
	}
	return &CommandQueue{dev: dev, typ: typ, queue: queue, fence: fence}, nil
}

// usable reports why the queue cannot take new work. Callers hold q.mu.
func (q *CommandQueue) usable() error {
	if q.err != nil {
		return q.err
	}
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

// poison records a fatal fence or submission failure. Callers hold q.mu.
func (q *CommandQueue) poison(op string, err error) error {
	if q.err == nil {
		if !errors.Is(err, gpu.ErrDeviceRemoved) {
			err = fmt.Errorf("%w: %w", gpu.ErrDeviceRemoved, err)
		}
		q.err = fmt.Errorf("%s: %w", op, err)
		slogger().Error("render: command queue failed", "op", op, "err", err)
	}
	return q.err
}

// GetCommandList returns an open list. Lists whose submissions completed
// are reset and reused before a new list is created.
func (q *CommandQueue) GetCommandList() (*CommandList, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.usable(); err != nil {
		return nil, err
	}
	if len(q.available) == 0 {
		if err := q.resetCompleted(); err != nil {
			return nil, err
		}
	}
	if n := len(q.available); n > 0 {
		l := q.available[n-1]
		q.available = q.available[:n-1]
		return l, nil
	}
	l, err := newCommandList(q.dev, q.typ)
	if err != nil {
		return nil, err
	}
	slogger().Debug("render: command list created", "pool", len(q.inFlight)+1)
	return l, nil
}

// ExecuteCommandList closes l if needed, submits it and signals the
// fence. It returns the fence value that marks completion of l.
//
// A list that fails to close or submit is reset and returned to the
// pool; the error is returned. Submitting a list again before its fence
// value is reached fails with ErrListInFlight.
func (q *CommandQueue) ExecuteCommandList(l *CommandList) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.usable(); err != nil {
		return 0, err
	}
	if l.inFlight {
		return 0, ErrListInFlight
	}
	var closeErr error
	if l.state != ListClosed {
		closeErr = l.Close()
	}
	if closeErr != nil {
		q.recycle(l)
		return 0, closeErr
	}
	if err := q.queue.Execute(l.rec); err != nil {
		q.recycle(l)
		return 0, fmt.Errorf("execute command list: %w", err)
	}
	v, err := q.signal()
	if err != nil {
		return 0, err
	}
	l.inFlight = true
	q.inFlight = append(q.inFlight, submission{list: l, fence: v})
	return v, nil
}

// Discard resets a list that will not be submitted and returns it to
// the pool.
func (q *CommandQueue) Discard(l *CommandList) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recycle(l)
}

// recycle resets l and pools it. Callers hold q.mu.
func (q *CommandQueue) recycle(l *CommandList) {
	if err := l.Reset(); err != nil {
		slogger().Warn("render: dropping command list", "err", err)
		return
	}
	q.available = append(q.available, l)
}

// Signal advances the fence on the queue and returns the new value.
// The fence reaches it once everything submitted before completed.
func (q *CommandQueue) Signal() (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.usable(); err != nil {
		return 0, err
	}
	return q.signal()
}

// signal increments the fence value and enqueues it. Callers hold q.mu,
// which keeps values strictly increasing in submission order.
func (q *CommandQueue) signal() (uint64, error) {
	v := q.fenceValue + 1
	if err := q.queue.Signal(q.fence, v); err != nil {
		return 0, q.poison(fmt.Sprintf("signal fence %d", v), err)
	}
	q.fenceValue = v
	return v, nil
}

// IsFenceComplete reports whether the fence reached v. It never blocks.
func (q *CommandQueue) IsFenceComplete(v uint64) bool {
	ok, err := q.fence.Reached(v)
	if err != nil {
		q.mu.Lock()
		q.poison(fmt.Sprintf("query fence %d", v), err)
		q.mu.Unlock()
		return false
	}
	return ok
}

// WaitForFenceValue blocks until the fence reaches v. Waits are
// unbounded; a lost device ends them with an error. Waiting for a value
// that was never signaled fails with gpu.ErrInvalidArgument.
func (q *CommandQueue) WaitForFenceValue(v uint64) error {
	q.mu.Lock()
	err, last := q.err, q.fenceValue
	q.mu.Unlock()
	if err != nil {
		return err
	}
	if v > last {
		return fmt.Errorf("%w: wait for fence %d, last signaled %d", gpu.ErrInvalidArgument, v, last)
	}
	if q.IsFenceComplete(v) {
		return nil
	}
	if err := q.fence.Wait(v); err != nil {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.poison(fmt.Sprintf("wait for fence %d", v), err)
	}
	return nil
}

// ResetCommandLists resets the submitted lists whose fence values were
// reached, oldest first, and pools them. Lists still in flight stay
// queued in order.
func (q *CommandQueue) ResetCommandLists() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	return q.resetCompleted()
}

// resetCompleted sweeps the in-flight FIFO. Callers hold q.mu.
func (q *CommandQueue) resetCompleted() error {
	for len(q.inFlight) > 0 {
		s := q.inFlight[0]
		ok, err := q.fence.Reached(s.fence)
		if err != nil {
			return q.poison(fmt.Sprintf("query fence %d", s.fence), err)
		}
		if !ok {
			break
		}
		q.inFlight[0] = submission{}
		q.inFlight = q.inFlight[1:]
		s.list.inFlight = false
		q.recycle(s.list)
	}
	return nil
}

// Flush signals the fence, waits for it and resets every list.
func (q *CommandQueue) Flush() error {
	v, err := q.Signal()
	if err != nil {
		return err
	}
	if err := q.WaitForFenceValue(v); err != nil {
		return err
	}
	slogger().Debug("render: queue flushed", "fence", v)
	return q.ResetCommandLists()
}

// Close flushes the queue, releases everything the lists retain and
// destroys the queue and its fence. Closing twice does nothing.
func (q *CommandQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	err := q.Flush()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	// After a device loss nothing executes anymore; release what the
	// stuck lists hold.
	for _, s := range q.inFlight {
		s.list.inFlight = false
		_ = s.list.Reset()
	}
	q.inFlight = nil
	q.available = nil
	q.fence.Destroy()
	q.queue.Destroy()
	return err
}

// FenceValue returns the last signaled fence value.
func (q *CommandQueue) FenceValue() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fenceValue
}

// InFlight returns the number of submitted lists not yet reset.
func (q *CommandQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// PoolSize returns the number of reset lists ready for reuse.
func (q *CommandQueue) PoolSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.available)
}

// Err returns the fatal error of the queue, or nil.
func (q *CommandQueue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}
