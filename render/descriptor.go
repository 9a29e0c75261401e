// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/gogpu/rtcore/gpu"
)

// DescriptorHeap is an arena of fixed-size descriptor slots.
//
// Blocks are handed out from a bump pointer and recycled through free
// lists keyed by power-of-two size class. A freed block is reused whole
// by any later request that fits in it. The heap never grows: when
// neither a free block nor the bump pointer can satisfy a request,
// Allocate fails with ErrHeapExhausted. Handles copied into shader
// tables point into the heap and must stay valid for its lifetime.
//
// DescriptorHeap is safe for concurrent use.
type DescriptorHeap struct {
	dev       *Device
	native    gpu.DescriptorHeap
	desc      gpu.DescriptorHeapDesc
	increment uint32

	mu     sync.Mutex
	next   uint32
	used   uint32
	nextID uint64
	free   map[int][]block
	live   map[uint32]block
}

// block is a run of slots owned by one allocation.
type block struct {
	offset, size uint32
	id           uint64
}

// NewDescriptorHeap creates a heap of count slots.
func NewDescriptorHeap(dev *Device, typ gpu.DescriptorHeapType, count uint32, shaderVisible bool) (*DescriptorHeap, error) {
	desc := gpu.DescriptorHeapDesc{Type: typ, Count: count, ShaderVisible: shaderVisible}
	native, err := dev.native.NewDescriptorHeap(desc)
	if err != nil {
		return nil, fmt.Errorf("create %s descriptor heap of %d: %w", typ, count, err)
	}
	slogger().Debug("render: descriptor heap created", "type", typ, "count", count, "shaderVisible", shaderVisible)
	return &DescriptorHeap{
		dev:       dev,
		native:    native,
		desc:      desc,
		increment: dev.DescriptorIncrement(typ),
		free:      make(map[int][]block),
		live:      make(map[uint32]block),
	}, nil
}

// sizeClass returns floor(log2(n)).
func sizeClass(n uint32) int { return bits.Len32(n) - 1 }

// Allocate reserves count contiguous slots.
// It returns a null allocation and ErrHeapExhausted if the heap is full.
func (h *DescriptorHeap) Allocate(count uint32) (DescriptorAllocation, error) {
	if count == 0 {
		return DescriptorAllocation{}, fmt.Errorf("%w: allocation of zero descriptors", ErrInvalidUsage)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.reuse(count)
	if !ok {
		if h.desc.Count-h.next < count {
			slogger().Error("render: descriptor heap exhausted",
				"type", h.desc.Type, "count", count, "used", h.used, "capacity", h.desc.Count)
			return DescriptorAllocation{}, fmt.Errorf("%w: %s heap cannot fit %d descriptors (%d of %d used)",
				ErrHeapExhausted, h.desc.Type, count, h.used, h.desc.Count)
		}
		b = block{offset: h.next, size: count}
		h.next += count
	}
	h.nextID++
	b.id = h.nextID
	h.live[b.offset] = b
	h.used += b.size
	return DescriptorAllocation{heap: h, id: b.id, offset: b.offset, count: count}, nil
}

// reuse pops the first free block large enough for count, searching
// from the smallest size class that may hold one.
func (h *DescriptorHeap) reuse(count uint32) (block, bool) {
	for c := sizeClass(count); c < 32; c++ {
		list := h.free[c]
		for i, b := range list {
			if b.size >= count {
				h.free[c] = append(list[:i], list[i+1:]...)
				return b, true
			}
		}
	}
	return block{}, false
}

func (h *DescriptorHeap) release(offset uint32, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.live[offset]
	if !ok || b.id != id {
		return
	}
	delete(h.live, offset)
	h.used -= b.size
	c := sizeClass(b.size)
	h.free[c] = append(h.free[c], b)
}

// Used returns the number of slots held by live allocations.
func (h *DescriptorHeap) Used() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// Capacity returns the number of slots in the heap.
func (h *DescriptorHeap) Capacity() uint32 { return h.desc.Count }

// Type returns the heap type.
func (h *DescriptorHeap) Type() gpu.DescriptorHeapType { return h.desc.Type }

// ShaderVisible reports whether shaders can address the heap.
func (h *DescriptorHeap) ShaderVisible() bool { return h.desc.ShaderVisible }

// Native returns the underlying heap.
func (h *DescriptorHeap) Native() gpu.DescriptorHeap { return h.native }

// Destroy releases the heap. Outstanding allocations become dangling.
func (h *DescriptorHeap) Destroy() { h.native.Destroy() }

// DescriptorAllocation is a contiguous run of slots in a DescriptorHeap.
// The zero value is the null allocation.
type DescriptorAllocation struct {
	heap   *DescriptorHeap
	id     uint64
	offset uint32
	count  uint32
}

// IsNull reports whether a is the null allocation.
func (a DescriptorAllocation) IsNull() bool { return a.heap == nil }

// Heap returns the owning heap, or nil for the null allocation.
func (a DescriptorAllocation) Heap() *DescriptorHeap { return a.heap }

// Offset returns the slot index of the first descriptor in the heap.
func (a DescriptorAllocation) Offset() uint32 { return a.offset }

// Count returns the number of descriptors.
func (a DescriptorAllocation) Count() uint32 { return a.count }

// CPUHandle returns the CPU handle of descriptor i.
func (a DescriptorAllocation) CPUHandle(i uint32) gpu.CPUHandle {
	if a.heap == nil {
		return 0
	}
	return a.heap.native.CPUStart().Offset((a.offset + i) * a.heap.increment)
}

// GPUHandle returns the shader-visible handle of descriptor i, or 0 if
// the heap is not shader visible.
func (a DescriptorAllocation) GPUHandle(i uint32) gpu.GPUHandle {
	if a.heap == nil || !a.heap.desc.ShaderVisible {
		return 0
	}
	return a.heap.native.GPUStart().Offset((a.offset + i) * a.heap.increment)
}

// Free returns the slots to the heap and makes a null.
// Freeing a null allocation, or a block already freed through a copy of
// a, does nothing.
func (a *DescriptorAllocation) Free() {
	if a.heap == nil {
		return
	}
	a.heap.release(a.offset, a.id)
	*a = DescriptorAllocation{}
}
