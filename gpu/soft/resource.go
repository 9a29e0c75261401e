package soft

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/rtcore/gpu"
)

// resource is a committed buffer or texture backed by a byte slice.
//
// data and state are owned by the queue timeline once the resource is
// referenced by submitted work; the CPU only touches data through Map,
// ordered against execution by Queue.Execute and fence waits.
type resource struct {
	dev  *Device
	desc gpu.ResourceDesc
	va   uint64
	data []byte

	state gpu.ResourceState
	accel *accelStruct

	mapped    atomic.Bool
	destroyed atomic.Bool
}

var _ gpu.Resource = (*resource)(nil)

func (d *Device) NewResource(desc gpu.ResourceDesc) (gpu.Resource, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}

	r := &resource{dev: d, desc: desc, state: desc.InitialState}
	switch desc.Dimension {
	case gpu.DimensionBuffer:
		if desc.Size == 0 {
			return nil, fmt.Errorf("%w: zero-sized buffer %q", gpu.ErrInvalidArgument, desc.Label)
		}
		if desc.Flags&(gpu.FlagAllowRenderTarget|gpu.FlagAllowDepthStencil) != 0 {
			return nil, fmt.Errorf("%w: buffer %q with texture flags", gpu.ErrInvalidArgument, desc.Label)
		}
		r.data = make([]byte, desc.Size)
	case gpu.DimensionTexture2D:
		if desc.Heap != gpu.HeapDefault {
			return nil, fmt.Errorf("%w: texture %q outside the default heap", gpu.ErrInvalidArgument, desc.Label)
		}
		if desc.Width == 0 || desc.Height == 0 ||
			desc.Width > d.cfg.MaxTextureDimension2D || desc.Height > d.cfg.MaxTextureDimension2D {
			return nil, fmt.Errorf("%w: texture %q size %dx%d", gpu.ErrInvalidArgument, desc.Label, desc.Width, desc.Height)
		}
		bpp := gpu.BytesPerPixel(desc.Format)
		if bpp == 0 {
			return nil, fmt.Errorf("%w: texture format %v", gpu.ErrUnsupported, desc.Format)
		}
		r.data = make([]byte, uint64(desc.Width)*uint64(desc.Height)*uint64(bpp))
	default:
		return nil, fmt.Errorf("%w: dimension %d", gpu.ErrInvalidArgument, desc.Dimension)
	}

	switch desc.Heap {
	case gpu.HeapUpload:
		if desc.InitialState != gpu.StateGenericRead {
			return nil, fmt.Errorf("%w: upload resources must start in GENERIC_READ", gpu.ErrInvalidState)
		}
		if desc.Flags&gpu.FlagAllowUnorderedAccess != 0 {
			return nil, fmt.Errorf("%w: upload resource %q allows unordered access", gpu.ErrInvalidArgument, desc.Label)
		}
	case gpu.HeapReadback:
		if desc.InitialState != gpu.StateCopyDest {
			return nil, fmt.Errorf("%w: readback resources must start in COPY_DEST", gpu.ErrInvalidState)
		}
	}
	if desc.InitialState == gpu.StateRaytracingAS && desc.Flags&gpu.FlagAllowUnorderedAccess == 0 {
		return nil, fmt.Errorf("%w: acceleration structure buffer %q must allow unordered access", gpu.ErrInvalidArgument, desc.Label)
	}

	if desc.Dimension == gpu.DimensionBuffer {
		d.registerBuffer(r)
	}
	return r, nil
}

func (r *resource) Desc() gpu.ResourceDesc { return r.desc }

func (r *resource) GPUAddress() uint64 { return r.va }

func (r *resource) Map() ([]byte, error) {
	if !r.desc.Heap.CPUVisible() || r.desc.Dimension != gpu.DimensionBuffer {
		return nil, fmt.Errorf("%w: %q in %s heap", gpu.ErrNotMappable, r.desc.Label, r.desc.Heap)
	}
	if r.destroyed.Load() {
		return nil, fmt.Errorf("%w: %q was destroyed", gpu.ErrInvalidArgument, r.desc.Label)
	}
	r.mapped.Store(true)
	return r.data, nil
}

func (r *resource) Unmap() { r.mapped.Store(false) }

func (r *resource) Destroy() {
	if !r.destroyed.CompareAndSwap(false, true) {
		return
	}
	if r.desc.Dimension == gpu.DimensionBuffer {
		r.dev.unregisterBuffer(r)
	}
}

// asResource converts an interface value created by this package.
func asResource(res gpu.Resource) (*resource, error) {
	r, ok := res.(*resource)
	if !ok || r == nil {
		return nil, fmt.Errorf("%w: resource %T was not created by the soft driver", gpu.ErrInvalidArgument, res)
	}
	if r.destroyed.Load() {
		return nil, fmt.Errorf("%w: resource %q used after Destroy", gpu.ErrInvalidArgument, r.desc.Label)
	}
	return r, nil
}
