package render

import (
	"sync/atomic"

	"github.com/gogpu/rtcore/gpu"
)

// Releaser is an object whose reference is dropped by Release.
type Releaser interface {
	Release()
}

// Resource is a Buffer or a Texture.
type Resource interface {
	Releaser

	// Native returns the underlying resource.
	Native() gpu.Resource

	// State returns the state the resource rests in between commands.
	// Command lists transition away from it and back around every use.
	State() gpu.ResourceState

	// Name returns the debug name.
	Name() string

	// Heap returns the memory heap the resource lives in.
	Heap() gpu.HeapType

	// ref adds a reference for a command list.
	ref() Releaser
}

// refs counts the owners of a resource. The creator holds the first
// reference; command lists add one per recorded use until reset.
type refs struct {
	n atomic.Int32
}

func (r *refs) init() { r.n.Store(1) }

func (r *refs) acquire() { r.n.Add(1) }

// drop reports whether the last reference was dropped.
func (r *refs) drop() bool {
	n := r.n.Add(-1)
	if n < 0 {
		slogger().Error("render: resource released too many times")
	}
	return n == 0
}

// views is the set of descriptors a resource owns, one slot per kind.
type views struct {
	cbvSRVUAV DescriptorAllocation // CBV, SRV, UAV slots in Context.Views
	rtv       DescriptorAllocation
	dsv       DescriptorAllocation
}

const (
	slotCBV = iota
	slotSRV
	slotUAV
	viewSlots
)

// viewBits returns the members of a viewSet that provide a view of kind.
func viewBits(kind gpu.ViewKind) viewSet {
	switch kind {
	case gpu.ViewCBV:
		return viewCBV
	case gpu.ViewSRV:
		return viewSRV | viewASSRV
	case gpu.ViewUAV:
		return viewUAV
	case gpu.ViewRTV:
		return viewRTV
	case gpu.ViewDSV:
		return viewDSV
	}
	return 0
}

func slotOf(kind gpu.ViewKind) uint32 {
	switch kind {
	case gpu.ViewCBV:
		return slotCBV
	case gpu.ViewUAV:
		return slotUAV
	}
	return slotSRV
}

// allocate reserves the slots the set s needs.
func (v *views) allocate(ctx *Context, s viewSet) error {
	var err error
	if s&(viewCBV|viewSRV|viewUAV|viewASSRV) != 0 {
		if v.cbvSRVUAV, err = ctx.viewHeap(gpu.ViewSRV).Allocate(viewSlots); err != nil {
			return err
		}
	}
	if s&viewRTV != 0 {
		if v.rtv, err = ctx.viewHeap(gpu.ViewRTV).Allocate(1); err != nil {
			return err
		}
	}
	if s&viewDSV != 0 {
		if v.dsv, err = ctx.viewHeap(gpu.ViewDSV).Allocate(1); err != nil {
			return err
		}
	}
	return nil
}

func (v *views) handle(kind gpu.ViewKind) gpu.CPUHandle {
	switch kind {
	case gpu.ViewRTV:
		return v.rtv.CPUHandle(0)
	case gpu.ViewDSV:
		return v.dsv.CPUHandle(0)
	}
	return v.cbvSRVUAV.CPUHandle(slotOf(kind))
}

func (v *views) free() {
	v.cbvSRVUAV.Free()
	v.rtv.Free()
	v.dsv.Free()
}
