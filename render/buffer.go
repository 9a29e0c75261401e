package render

import (
	"fmt"

	"github.com/gogpu/rtcore/gpu"
)

// BufferDesc describes a buffer of NumElements elements of ElementSize
// bytes each.
type BufferDesc struct {
	Usage       BufferUsage
	NumElements uint32
	ElementSize uint32
}

// Buffer owns a native buffer and its views. Its heap, alignment and
// resting state follow from the usage flags.
type Buffer struct {
	ctx   *Context
	name  string
	desc  BufferDesc
	place placement
	size  uint64

	res    gpu.Resource
	mapped []byte
	views  views
	refs   refs
}

var _ Resource = (*Buffer)(nil)

// NewBuffer creates a buffer. The byte size is the element data rounded
// up to the usage alignment.
func NewBuffer(ctx *Context, name string, desc BufferDesc) (*Buffer, error) {
	if desc.NumElements == 0 || desc.ElementSize == 0 {
		return nil, fmt.Errorf("%w: buffer %q of %d elements of %d bytes", ErrInvalidUsage, name, desc.NumElements, desc.ElementSize)
	}
	place, err := resolveBufferUsage(desc.Usage, uint64(desc.ElementSize))
	if err != nil {
		slogger().Error("render: invalid buffer usage", "name", name, "usage", desc.Usage)
		return nil, fmt.Errorf("buffer %q: %w", name, err)
	}
	b := &Buffer{
		ctx:   ctx,
		name:  name,
		desc:  desc,
		place: place,
		size:  alignUp(uint64(desc.NumElements)*uint64(desc.ElementSize), place.alignment),
	}
	b.refs.init()

	b.res, err = ctx.Device.newResource(gpu.ResourceDesc{
		Label:        name,
		Dimension:    gpu.DimensionBuffer,
		Heap:         place.heap,
		Size:         b.size,
		Flags:        place.flags,
		InitialState: place.state,
	})
	if err != nil {
		return nil, err
	}
	if place.heap.CPUVisible() {
		if b.mapped, err = b.res.Map(); err != nil {
			b.res.Destroy()
			return nil, fmt.Errorf("map buffer %q: %w", name, err)
		}
	}
	if err := b.createViews(); err != nil {
		b.destroy()
		return nil, err
	}
	slogger().Debug("render: buffer created", "name", name, "usage", desc.Usage, "size", b.size, "heap", place.heap)
	return b, nil
}

// NewBufferWithData creates a buffer and uploads data into it.
func NewBufferWithData(ctx *Context, name string, desc BufferDesc, data []byte) (*Buffer, error) {
	b, err := NewBuffer(ctx, name, desc)
	if err != nil {
		return nil, err
	}
	if err := b.SetData(data, 0); err != nil {
		b.Release()
		return nil, err
	}
	return b, nil
}

func (b *Buffer) createViews() error {
	if err := b.views.allocate(b.ctx, b.place.views); err != nil {
		return fmt.Errorf("buffer %q views: %w", b.name, err)
	}
	dev := b.ctx.Device
	if b.place.views&viewCBV != 0 {
		err := dev.createView(gpu.ViewDesc{Kind: gpu.ViewCBV, Resource: b.res, SizeInBytes: uint32(b.size)}, b.views.handle(gpu.ViewCBV))
		if err != nil {
			return err
		}
	}
	if b.place.views&viewSRV != 0 {
		err := dev.createView(gpu.ViewDesc{
			Kind:            gpu.ViewSRV,
			Resource:        b.res,
			NumElements:     b.desc.NumElements,
			StructureStride: b.desc.ElementSize,
		}, b.views.handle(gpu.ViewSRV))
		if err != nil {
			return err
		}
	}
	if b.place.views&viewASSRV != 0 {
		err := dev.createView(gpu.ViewDesc{
			Kind:                  gpu.ViewSRV,
			AccelerationStructure: true,
			Location:              b.res.GPUAddress(),
		}, b.views.handle(gpu.ViewSRV))
		if err != nil {
			return err
		}
	}
	if b.place.views&viewUAV != 0 {
		err := dev.createView(gpu.ViewDesc{
			Kind:            gpu.ViewUAV,
			Resource:        b.res,
			NumElements:     b.desc.NumElements,
			StructureStride: b.desc.ElementSize,
		}, b.views.handle(gpu.ViewUAV))
		if err != nil {
			return err
		}
	}
	return nil
}

// SetData writes data at offset.
//
// CPU-visible buffers are written directly. Other buffers are written
// through a temporary upload buffer and a GPU copy, executed on the
// context queue; the copy is ordered before any later submission.
// Writing zero bytes does nothing.
func (b *Buffer) SetData(data []byte, offset uint64) error {
	if len(data) == 0 {
		return nil
	}
	n := uint64(len(data))
	if offset > b.size || n > b.size-offset {
		slogger().Error("render: buffer write out of bounds", "name", b.name, "offset", offset, "len", n, "size", b.size)
		return fmt.Errorf("%w: write of %d bytes at %d into %q of %d bytes", ErrOutOfBounds, n, offset, b.name, b.size)
	}
	switch b.place.heap {
	case gpu.HeapUpload:
		copy(b.mapped[offset:], data)
		return nil
	case gpu.HeapReadback:
		return fmt.Errorf("%w: %q is a readback buffer", ErrInvalidUsage, b.name)
	}

	staging, err := NewBuffer(b.ctx, b.name+" staging", BufferDesc{
		Usage:       BufferUsageUpload,
		NumElements: uint32(n),
		ElementSize: 1,
	})
	if err != nil {
		return err
	}
	copy(staging.mapped, data)
	// The command list holds its own reference until the copy completes.
	defer staging.Release()

	q := b.ctx.Queue
	list, err := q.GetCommandList()
	if err != nil {
		return err
	}
	if err := list.CopyBufferRegion(b, offset, staging, 0, n); err != nil {
		q.Discard(list)
		return err
	}
	if _, err := q.ExecuteCommandList(list); err != nil {
		return fmt.Errorf("upload %q: %w", b.name, err)
	}
	return nil
}

// View returns the CPU descriptor of the given kind. Acceleration
// structure buffers return their structure view as the SRV.
func (b *Buffer) View(kind gpu.ViewKind) (gpu.CPUHandle, error) {
	if b.place.views&viewBits(kind) == 0 {
		return 0, fmt.Errorf("%w: buffer %q has no %s view", ErrInvalidUsage, b.name, kind)
	}
	return b.views.handle(kind), nil
}

// Mapped returns the CPU-visible memory of upload and readback buffers,
// or nil.
func (b *Buffer) Mapped() []byte { return b.mapped }

func (b *Buffer) Desc() BufferDesc { return b.desc }

// Size returns the aligned byte size.
func (b *Buffer) Size() uint64 { return b.size }

// Alignment returns the resolved size alignment.
func (b *Buffer) Alignment() uint64 { return b.place.alignment }

// Heap returns the memory heap the buffer lives in.
func (b *Buffer) Heap() gpu.HeapType { return b.place.heap }

// GPUAddress returns the virtual address of the buffer.
func (b *Buffer) GPUAddress() uint64 { return b.res.GPUAddress() }

func (b *Buffer) Name() string { return b.name }

func (b *Buffer) Native() gpu.Resource { return b.res }

func (b *Buffer) State() gpu.ResourceState { return b.place.state }

func (b *Buffer) ref() Releaser {
	b.refs.acquire()
	return b
}

// Release drops a reference. The last one unmaps and destroys the
// buffer and frees its views.
func (b *Buffer) Release() {
	if b.refs.drop() {
		b.destroy()
	}
}

func (b *Buffer) destroy() {
	if b.mapped != nil {
		b.res.Unmap()
		b.mapped = nil
	}
	b.views.free()
	b.res.Destroy()
}
