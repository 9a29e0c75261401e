package soft

import (
	"fmt"
	"sync"

	"github.com/gogpu/rtcore/gpu"
)

// gpuHandleBit distinguishes shader-visible handles from CPU handles.
const gpuHandleBit = 1 << 63

// view is one descriptor slot.
type view struct {
	desc gpu.ViewDesc
	res  *resource // nil for acceleration structure SRVs
}

func (v view) valid() bool { return v.desc.Kind != 0 }

type descriptorHeap struct {
	dev  *Device
	id   uint32
	desc gpu.DescriptorHeapDesc

	mu    sync.RWMutex
	slots []view
}

var _ gpu.DescriptorHeap = (*descriptorHeap)(nil)

func (d *Device) NewDescriptorHeap(desc gpu.DescriptorHeapDesc) (gpu.DescriptorHeap, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	if desc.Count == 0 {
		return nil, fmt.Errorf("%w: empty descriptor heap", gpu.ErrInvalidArgument)
	}
	if desc.ShaderVisible && desc.Type != gpu.DescriptorHeapCBVSRVUAV && desc.Type != gpu.DescriptorHeapSampler {
		return nil, fmt.Errorf("%w: %s heaps cannot be shader visible", gpu.ErrInvalidArgument, desc.Type)
	}
	if desc.ShaderVisible && desc.Count > d.cfg.MaxDescriptorHeapSize {
		return nil, fmt.Errorf("%w: %d descriptors exceed the limit of %d", gpu.ErrOutOfMemory, desc.Count, d.cfg.MaxDescriptorHeapSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	h := &descriptorHeap{dev: d, id: d.nextID, desc: desc, slots: make([]view, desc.Count)}
	d.heaps[h.id] = h
	return h, nil
}

func (d *Device) DescriptorIncrement(gpu.DescriptorHeapType) uint32 { return descriptorIncrement }

func (h *descriptorHeap) Desc() gpu.DescriptorHeapDesc { return h.desc }

func (h *descriptorHeap) CPUStart() gpu.CPUHandle { return gpu.CPUHandle(uint64(h.id) << 32) }

func (h *descriptorHeap) GPUStart() gpu.GPUHandle {
	if !h.desc.ShaderVisible {
		return 0
	}
	return gpu.GPUHandle(gpuHandleBit | uint64(h.id)<<32)
}

func (h *descriptorHeap) Destroy() {
	h.dev.mu.Lock()
	delete(h.dev.heaps, h.id)
	h.dev.mu.Unlock()
}

// slot resolves a handle value (CPU or GPU) to a heap and slot index.
func (d *Device) slot(handle uint64) (*descriptorHeap, uint32, error) {
	id := uint32(handle>>32) &^ (gpuHandleBit >> 32)
	off := uint32(handle)
	d.mu.Lock()
	h, ok := d.heaps[id]
	d.mu.Unlock()
	if !ok {
		return nil, 0, fmt.Errorf("%w: descriptor handle %#x does not belong to a live heap", gpu.ErrInvalidArgument, handle)
	}
	if off%descriptorIncrement != 0 || off/descriptorIncrement >= h.desc.Count {
		return nil, 0, fmt.Errorf("%w: descriptor handle %#x out of heap range", gpu.ErrInvalidArgument, handle)
	}
	return h, off / descriptorIncrement, nil
}

// load returns the descriptor at slot index i.
func (h *descriptorHeap) load(i uint32) view {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.slots[i]
}

func (d *Device) CreateView(desc gpu.ViewDesc, dst gpu.CPUHandle) error {
	if err := d.removed(); err != nil {
		return err
	}
	if uint64(dst)&gpuHandleBit != 0 {
		return fmt.Errorf("%w: CreateView needs a CPU handle", gpu.ErrInvalidArgument)
	}
	h, i, err := d.slot(uint64(dst))
	if err != nil {
		return err
	}

	v := view{desc: desc}
	if !desc.AccelerationStructure {
		if v.res, err = asResource(desc.Resource); err != nil {
			return err
		}
	}
	if err := validateView(h.desc.Type, v); err != nil {
		return err
	}

	h.mu.Lock()
	h.slots[i] = v
	h.mu.Unlock()
	return nil
}

func validateView(heap gpu.DescriptorHeapType, v view) error {
	want := gpu.DescriptorHeapCBVSRVUAV
	switch v.desc.Kind {
	case gpu.ViewRTV:
		want = gpu.DescriptorHeapRTV
	case gpu.ViewDSV:
		want = gpu.DescriptorHeapDSV
	case gpu.ViewCBV, gpu.ViewSRV, gpu.ViewUAV:
	default:
		return fmt.Errorf("%w: view kind %d", gpu.ErrInvalidArgument, v.desc.Kind)
	}
	if heap != want {
		return fmt.Errorf("%w: %s view in %s heap", gpu.ErrInvalidArgument, v.desc.Kind, heap)
	}
	if v.desc.AccelerationStructure {
		if v.desc.Kind != gpu.ViewSRV || v.desc.Location == 0 {
			return fmt.Errorf("%w: acceleration structure views are SRVs with a location", gpu.ErrInvalidArgument)
		}
		return nil
	}

	rd := v.res.desc
	switch v.desc.Kind {
	case gpu.ViewCBV:
		if rd.Dimension != gpu.DimensionBuffer || v.desc.SizeInBytes%gpu.ConstantBufferAlignment != 0 ||
			uint64(v.desc.SizeInBytes) > rd.Size || v.desc.SizeInBytes == 0 {
			return fmt.Errorf("%w: constant buffer view of %d bytes over %q", gpu.ErrInvalidArgument, v.desc.SizeInBytes, rd.Label)
		}
	case gpu.ViewSRV, gpu.ViewUAV:
		if v.desc.Kind == gpu.ViewUAV && rd.Flags&gpu.FlagAllowUnorderedAccess == 0 {
			return fmt.Errorf("%w: UAV over %q without unordered access", gpu.ErrInvalidArgument, rd.Label)
		}
		if rd.Dimension == gpu.DimensionBuffer {
			stride := uint64(max(v.desc.StructureStride, 1))
			end := (uint64(v.desc.FirstElement) + uint64(v.desc.NumElements)) * stride
			if end > rd.Size {
				return fmt.Errorf("%w: view of %d elements exceeds %q", gpu.ErrInvalidArgument, v.desc.NumElements, rd.Label)
			}
		}
	case gpu.ViewRTV:
		if rd.Flags&gpu.FlagAllowRenderTarget == 0 {
			return fmt.Errorf("%w: RTV over %q without render target flag", gpu.ErrInvalidArgument, rd.Label)
		}
	case gpu.ViewDSV:
		if rd.Flags&gpu.FlagAllowDepthStencil == 0 {
			return fmt.Errorf("%w: DSV over %q without depth stencil flag", gpu.ErrInvalidArgument, rd.Label)
		}
	}
	return nil
}

func (d *Device) CopyDescriptors(dst, src gpu.CPUHandle, n uint32, typ gpu.DescriptorHeapType) error {
	if err := d.removed(); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	dh, di, err := d.slot(uint64(dst))
	if err != nil {
		return err
	}
	sh, si, err := d.slot(uint64(src))
	if err != nil {
		return err
	}
	if sh.desc.ShaderVisible {
		return fmt.Errorf("%w: copy source heap is shader visible", gpu.ErrInvalidArgument)
	}
	if dh.desc.Type != typ || sh.desc.Type != typ {
		return fmt.Errorf("%w: copy between %s and %s heaps as %s", gpu.ErrInvalidArgument, sh.desc.Type, dh.desc.Type, typ)
	}
	if di+n > dh.desc.Count || si+n > sh.desc.Count {
		return fmt.Errorf("%w: copy of %d descriptors out of heap range", gpu.ErrInvalidArgument, n)
	}

	tmp := make([]view, n)
	sh.mu.RLock()
	copy(tmp, sh.slots[si:si+n])
	sh.mu.RUnlock()

	dh.mu.Lock()
	copy(dh.slots[di:di+n], tmp)
	dh.mu.Unlock()
	return nil
}
