package render

import (
	"fmt"

	"github.com/gogpu/rtcore/gpu"
)

// Device wraps the native device. It is the factory for every other
// render object and holds no state beyond the native handle.
type Device struct {
	native gpu.Device
}

// NewDevice wraps a native device.
func NewDevice(native gpu.Device) (*Device, error) {
	if native == nil {
		return nil, fmt.Errorf("%w: nil native device", gpu.ErrInvalidArgument)
	}
	slogger().Info("render: device", "name", native.Name(), "raytracing", native.Limits().Raytracing)
	return &Device{native: native}, nil
}

// Native returns the wrapped device.
func (d *Device) Native() gpu.Device { return d.native }

// Name returns the adapter name.
func (d *Device) Name() string { return d.native.Name() }

// Limits returns the device capabilities.
func (d *Device) Limits() gpu.Limits { return d.native.Limits() }

// DescriptorIncrement returns the slot stride of a descriptor heap type.
func (d *Device) DescriptorIncrement(typ gpu.DescriptorHeapType) uint32 {
	return d.native.DescriptorIncrement(typ)
}

// CopyDescriptors copies n descriptors from a CPU-only heap to dst.
func (d *Device) CopyDescriptors(dst, src gpu.CPUHandle, n uint32, typ gpu.DescriptorHeapType) error {
	if err := d.native.CopyDescriptors(dst, src, n, typ); err != nil {
		return fmt.Errorf("copy %d %s descriptors: %w", n, typ, err)
	}
	return nil
}

// Destroy releases the native device.
func (d *Device) Destroy() { d.native.Destroy() }

func (d *Device) newResource(desc gpu.ResourceDesc) (gpu.Resource, error) {
	r, err := d.native.NewResource(desc)
	if err != nil {
		return nil, fmt.Errorf("create resource %q: %w", desc.Label, err)
	}
	return r, nil
}

func (d *Device) createView(desc gpu.ViewDesc, dst gpu.CPUHandle) error {
	if err := d.native.CreateView(desc, dst); err != nil {
		return fmt.Errorf("create %s view: %w", desc.Kind, err)
	}
	return nil
}
