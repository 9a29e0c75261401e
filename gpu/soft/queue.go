package soft

import (
	"fmt"
	"sync"

	"github.com/gogpu/rtcore/gpu"
)

// ===== Fence =====

type fence struct {
	dev *Device

	mu        sync.Mutex
	cond      *sync.Cond
	value     uint64
	destroyed bool
}

var _ gpu.Fence = (*fence)(nil)

func (d *Device) NewFence(initial uint64) (gpu.Fence, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	f := &fence{dev: d, value: initial}
	f.cond = sync.NewCond(&f.mu)

	d.mu.Lock()
	d.fences[f] = struct{}{}
	d.mu.Unlock()
	return f, nil
}

func (f *fence) Reached(v uint64) (bool, error) {
	if err := f.dev.removed(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value >= v, nil
}

func (f *fence) Wait(v uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.value < v {
		if err := f.dev.removed(); err != nil {
			return err
		}
		if f.destroyed {
			return fmt.Errorf("%w: fence destroyed while waiting", gpu.ErrInvalidArgument)
		}
		f.cond.Wait()
	}
	return nil
}

// signal sets the fence value and wakes waiters.
func (f *fence) signal(v uint64) {
	f.mu.Lock()
	f.value = v
	f.cond.Broadcast()
	f.mu.Unlock()
}

func (f *fence) wake() {
	f.mu.Lock()
	f.cond.Broadcast()
	f.mu.Unlock()
}

func (f *fence) Destroy() {
	f.mu.Lock()
	f.destroyed = true
	f.cond.Broadcast()
	f.mu.Unlock()

	f.dev.mu.Lock()
	delete(f.dev.fences, f)
	f.dev.mu.Unlock()
}

// ===== Queue =====

// submission is one queue entry: either a batch of recorded command
// streams or a fence signal.
type submission struct {
	lists [][]command
	fence *fence
	value uint64
}

type queue struct {
	dev *Device
	typ gpu.QueueType

	mu      sync.Mutex
	cond    *sync.Cond
	pending []submission
	closed  bool
	done    chan struct{}
}

var _ gpu.Queue = (*queue)(nil)

func (d *Device) NewQueue(typ gpu.QueueType) (gpu.Queue, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	q := &queue{dev: d, typ: typ, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q, nil
}

func (q *queue) Execute(recs ...gpu.Recorder) error {
	if err := q.dev.removed(); err != nil {
		return err
	}
	lists := make([][]command, 0, len(recs))
	for _, rec := range recs {
		r, ok := rec.(*recorder)
		if !ok || r.dev != q.dev {
			return fmt.Errorf("%w: recorder %T does not belong to this device", gpu.ErrInvalidArgument, rec)
		}
		if r.open {
			return fmt.Errorf("%w: executing an open recorder", gpu.ErrInvalidArgument)
		}
		if r.err != nil {
			return fmt.Errorf("%w: executing a recorder that failed to close: %w", gpu.ErrInvalidArgument, r.err)
		}
		if !compatible(q.typ, r.typ) {
			return fmt.Errorf("%w: list type %d on queue type %d", gpu.ErrInvalidArgument, r.typ, q.typ)
		}
		lists = append(lists, append([]command(nil), r.cmds...))
	}
	return q.push(submission{lists: lists})
}

func (q *queue) Signal(f gpu.Fence, value uint64) error {
	if err := q.dev.removed(); err != nil {
		return err
	}
	sf, ok := f.(*fence)
	if !ok || sf.dev != q.dev {
		return fmt.Errorf("%w: fence %T does not belong to this device", gpu.ErrInvalidArgument, f)
	}
	return q.push(submission{fence: sf, value: value})
}

func (q *queue) push(s submission) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("%w: queue destroyed", gpu.ErrInvalidArgument)
	}
	q.pending = append(q.pending, s)
	q.cond.Signal()
	return nil
}

// run executes submissions in order until the queue is destroyed.
func (q *queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		s := q.pending[0]
		q.pending[0] = submission{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.dev.waitRunnable()
		q.process(s)
	}
}

func (q *queue) process(s submission) {
	if s.fence != nil {
		// A lost device never reaches new fence values.
		if q.dev.removed() == nil {
			s.fence.signal(s.value)
		}
		return
	}
	for _, cmds := range s.lists {
		if q.dev.removed() != nil {
			return
		}
		x := newExecutor(q.dev)
		for _, cmd := range cmds {
			if err := cmd(x); err != nil {
				q.dev.lose(err)
				return
			}
		}
	}
}

// Destroy drains pending work and stops the worker.
func (q *queue) Destroy() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done
}

func compatible(queue, list gpu.QueueType) bool {
	switch queue {
	case gpu.QueueDirect:
		return true
	case gpu.QueueCompute:
		return list == gpu.QueueCompute || list == gpu.QueueCopy
	default:
		return list == queue
	}
}
