// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package halgpu

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/rtcore/gpu"
	"github.com/gogpu/wgpu/hal"
)

// pollInterval spaces completion polls while a fence wait is blocked.
const pollInterval = time.Millisecond

// ===== Queue =====

// queue submits to the single HAL queue of the device. Several gpu queues
// share it, so submission order across them is the order of Execute calls.
type queue struct {
	dev       *Device
	typ       gpu.QueueType
	destroyed atomic.Bool
}

var _ gpu.Queue = (*queue)(nil)

func (d *Device) NewQueue(typ gpu.QueueType) (gpu.Queue, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	return &queue{dev: d, typ: typ}, nil
}

func (q *queue) Execute(recs ...gpu.Recorder) error {
	d := q.dev
	if err := d.removed(); err != nil {
		return err
	}
	if q.destroyed.Load() {
		return fmt.Errorf("%w: execute on a destroyed queue", gpu.ErrInvalidArgument)
	}
	cbs := make([]hal.CommandBuffer, 0, len(recs))
	for _, rec := range recs {
		r, ok := rec.(*recorder)
		if !ok || r.dev != d {
			return fmt.Errorf("%w: recorder %T does not belong to this device", gpu.ErrInvalidArgument, rec)
		}
		if r.open || r.cmd == nil {
			return fmt.Errorf("%w: executing a recorder that was not closed", gpu.ErrInvalidState)
		}
		if r.typ != q.typ {
			return fmt.Errorf("%w: recorder type %d on queue type %d", gpu.ErrInvalidArgument, r.typ, q.typ)
		}
		cbs = append(cbs, r.cmd)
	}
	if len(cbs) == 0 {
		return nil
	}

	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	idx, err := d.queue.Submit(cbs)
	if err != nil {
		return d.lose(fmt.Errorf("submit: %w", err))
	}
	d.submitted = idx
	return nil
}

func (q *queue) Signal(f gpu.Fence, value uint64) error {
	d := q.dev
	if err := d.removed(); err != nil {
		return err
	}
	hf, ok := f.(*fence)
	if !ok || hf.dev != d {
		return fmt.Errorf("%w: fence %T does not belong to this device", gpu.ErrInvalidArgument, f)
	}
	d.submitMu.Lock()
	idx := d.submitted
	d.submitMu.Unlock()

	hf.mu.Lock()
	hf.marks = append(hf.marks, signalMark{value: value, index: idx})
	hf.mu.Unlock()
	return nil
}

func (q *queue) Destroy() { q.destroyed.Store(true) }

// ===== Fence =====

// signalMark is a pending Signal: the fence takes value once the HAL
// reports submission index as completed.
type signalMark struct {
	value uint64
	index uint64
}

type fence struct {
	dev *Device

	mu        sync.Mutex
	value     uint64
	marks     []signalMark
	destroyed bool
}

var _ gpu.Fence = (*fence)(nil)

func (d *Device) NewFence(initial uint64) (gpu.Fence, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	return &fence{dev: d, value: initial}, nil
}

// poll applies every mark whose submission completed. f.mu must be held.
func (f *fence) poll() {
	done := f.dev.queue.PollCompleted()
	kept := f.marks[:0]
	for _, m := range f.marks {
		if m.index <= done {
			f.value = m.value
			continue
		}
		kept = append(kept, m)
	}
	f.marks = kept
}

func (f *fence) Reached(v uint64) (bool, error) {
	if err := f.dev.removed(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poll()
	return f.value >= v, nil
}

func (f *fence) Wait(v uint64) error {
	idle := false
	for {
		if err := f.dev.removed(); err != nil {
			return err
		}
		f.mu.Lock()
		if f.destroyed {
			f.mu.Unlock()
			return fmt.Errorf("%w: fence destroyed while waiting", gpu.ErrInvalidArgument)
		}
		f.poll()
		if f.value >= v {
			f.mu.Unlock()
			return nil
		}
		pending := false
		for _, m := range f.marks {
			if m.value >= v {
				pending = true
				break
			}
		}
		f.mu.Unlock()
		if !pending {
			return fmt.Errorf("%w: fence value %d was never signaled", gpu.ErrInvalidState, v)
		}

		if !idle {
			if err := f.dev.device.WaitIdle(); err != nil {
				return f.dev.lose(fmt.Errorf("wait idle: %w", err))
			}
			idle = true
			continue
		}
		time.Sleep(pollInterval)
	}
}

func (f *fence) Destroy() {
	f.mu.Lock()
	f.destroyed = true
	f.marks = nil
	f.mu.Unlock()
}
