package halgpu

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rtcore/gpu"
	"github.com/gogpu/wgpu/hal"
)

// resource is a committed buffer or texture.
type resource struct {
	dev  *Device
	desc gpu.ResourceDesc
	va   uint64

	buffer  hal.Buffer
	texture hal.Texture

	mu     sync.Mutex
	target hal.TextureView // created on the first clear
	mapped []byte

	destroyed atomic.Bool
}

var _ gpu.Resource = (*resource)(nil)

// bufferUsage returns the HAL usage of a buffer in the given heap.
func bufferUsage(h gpu.HeapType) gputypes.BufferUsage {
	switch h {
	case gpu.HeapUpload:
		return gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc
	case gpu.HeapReadback:
		return gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	}
	return gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst | gputypes.BufferUsageStorage |
		gputypes.BufferUsageUniform | gputypes.BufferUsageVertex | gputypes.BufferUsageIndex
}

// textureUsage returns the HAL usage of a texture created with flags.
func textureUsage(f gpu.ResourceFlags) gputypes.TextureUsage {
	u := gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst | gputypes.TextureUsageTextureBinding
	if f&gpu.FlagAllowUnorderedAccess != 0 {
		u |= gputypes.TextureUsageStorageBinding
	}
	if f&(gpu.FlagAllowRenderTarget|gpu.FlagAllowDepthStencil) != 0 {
		u |= gputypes.TextureUsageRenderAttachment
	}
	return u
}

func (d *Device) NewResource(desc gpu.ResourceDesc) (gpu.Resource, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	switch {
	case desc.Heap == gpu.HeapUpload && desc.InitialState != gpu.StateGenericRead:
		return nil, fmt.Errorf("%w: upload resources must start in GENERIC_READ", gpu.ErrInvalidState)
	case desc.Heap == gpu.HeapReadback && desc.InitialState != gpu.StateCopyDest:
		return nil, fmt.Errorf("%w: readback resources must start in COPY_DEST", gpu.ErrInvalidState)
	}
	r := &resource{dev: d, desc: desc}

	switch desc.Dimension {
	case gpu.DimensionBuffer:
		if desc.Size == 0 {
			return nil, fmt.Errorf("%w: zero-sized buffer %q", gpu.ErrInvalidArgument, desc.Label)
		}
		if desc.Flags&(gpu.FlagAllowRenderTarget|gpu.FlagAllowDepthStencil) != 0 {
			return nil, fmt.Errorf("%w: buffer %q with texture flags", gpu.ErrInvalidArgument, desc.Label)
		}
		buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
			Label: desc.Label,
			Size:  desc.Size,
			Usage: bufferUsage(desc.Heap),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: create buffer %q: %w", gpu.ErrOutOfMemory, desc.Label, err)
		}
		r.buffer = buf
		r.va = d.allocVA(desc.Size)

	case gpu.DimensionTexture2D:
		if desc.Heap != gpu.HeapDefault {
			return nil, fmt.Errorf("%w: texture %q outside the default heap", gpu.ErrInvalidArgument, desc.Label)
		}
		maxDim := d.limits.MaxTextureDimension2D
		if desc.Width == 0 || desc.Height == 0 || desc.Width > maxDim || desc.Height > maxDim {
			return nil, fmt.Errorf("%w: texture %q size %dx%d", gpu.ErrInvalidArgument, desc.Label, desc.Width, desc.Height)
		}
		if gpu.BytesPerPixel(desc.Format) == 0 {
			return nil, fmt.Errorf("%w: texture format %v", gpu.ErrUnsupported, desc.Format)
		}
		tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
			Label:         desc.Label,
			Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        desc.Format,
			Usage:         textureUsage(desc.Flags),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: create texture %q: %w", gpu.ErrOutOfMemory, desc.Label, err)
		}
		r.texture = tex

	default:
		return nil, fmt.Errorf("%w: dimension %d", gpu.ErrInvalidArgument, desc.Dimension)
	}

	return r, nil
}

func (r *resource) Desc() gpu.ResourceDesc { return r.desc }

func (r *resource) GPUAddress() uint64 { return r.va }

// Map maps the whole buffer. Repeated calls return the same slice until
// Unmap.
func (r *resource) Map() ([]byte, error) {
	if !r.desc.Heap.CPUVisible() || r.desc.Dimension != gpu.DimensionBuffer {
		return nil, fmt.Errorf("%w: %q in %s heap", gpu.ErrNotMappable, r.desc.Label, r.desc.Heap)
	}
	if r.destroyed.Load() {
		return nil, fmt.Errorf("%w: %q was destroyed", gpu.ErrInvalidArgument, r.desc.Label)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mapped != nil {
		return r.mapped, nil
	}
	m, err := r.dev.device.MapBuffer(r.buffer, 0, r.desc.Size)
	if err != nil {
		return nil, fmt.Errorf("map %q: %w", r.desc.Label, err)
	}
	if !m.IsCoherent {
		slogger().Debug("halgpu: mapped memory is not coherent", "resource", r.desc.Label)
	}
	r.mapped = unsafe.Slice((*byte)(m.Ptr), r.desc.Size)
	return r.mapped, nil
}

func (r *resource) Unmap() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mapped == nil {
		return
	}
	r.mapped = nil
	if err := r.dev.device.UnmapBuffer(r.buffer); err != nil {
		slogger().Warn("halgpu: unmap failed", "resource", r.desc.Label, "err", err)
	}
}

func (r *resource) Destroy() {
	if !r.destroyed.CompareAndSwap(false, true) {
		return
	}
	r.Unmap()
	r.release()
}

func (r *resource) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.target != nil {
		r.dev.device.DestroyTextureView(r.target)
		r.target = nil
	}
	if r.buffer != nil {
		r.dev.device.DestroyBuffer(r.buffer)
		r.buffer = nil
	}
	if r.texture != nil {
		r.dev.device.DestroyTexture(r.texture)
		r.texture = nil
	}
}

// renderView returns the attachment view used by clears.
func (r *resource) renderView() (hal.TextureView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.target != nil {
		return r.target, nil
	}
	v, err := r.dev.device.CreateTextureView(r.texture, &hal.TextureViewDescriptor{Label: r.desc.Label})
	if err != nil {
		return nil, fmt.Errorf("create view of %q: %w", r.desc.Label, err)
	}
	r.target = v
	return v, nil
}

// asResource converts an interface value created by this device.
func (d *Device) asResource(res gpu.Resource) (*resource, error) {
	r, ok := res.(*resource)
	if !ok || r == nil || r.dev != d {
		return nil, fmt.Errorf("%w: resource %T was not created by this device", gpu.ErrInvalidArgument, res)
	}
	if r.destroyed.Load() {
		return nil, fmt.Errorf("%w: resource %q used after Destroy", gpu.ErrInvalidArgument, r.desc.Label)
	}
	return r, nil
}
