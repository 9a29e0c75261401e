// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package halgpu implements gpu.Device on top of github.com/gogpu/wgpu/hal.
//
// Buffers, textures, copies, barriers, clears and fences map onto the HAL
// device and queue. Descriptor heaps are kept on the CPU and resolved when
// commands are recorded. The HAL exposes no raytracing, so acceleration
// structures, root signatures, state objects and ray dispatch report
// gpu.ErrUnsupported and Limits reports Raytracing as false.
//
// Upload and readback heaps are emulated with CPU shadow copies. An upload
// buffer is written to the GPU when a recorder that reads it is executed;
// a readback buffer is refreshed when a fence observes the submission that
// wrote it.
//
// Two drivers are registered:
//   - "hal" opens the first discrete or integrated Vulkan adapter (not
//     available when built with the nogpu tag)
//   - "hal-noop" opens the HAL no-op backend
package halgpu

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/rtcore/gpu"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// Registered driver names.
const (
	DriverName     = "hal"
	NoopDriverName = "hal-noop"
)

// vaAlignment is the spacing of synthetic buffer addresses.
const vaAlignment = 1 << 16

// descriptorIncrement is the descriptor size reported for every heap type.
const descriptorIncrement = 32

// maxDescriptorHeapSize bounds shader-visible heaps.
const maxDescriptorHeapSize = 1_000_000

// Device is a gpu.Device backed by a HAL device and queue.
type Device struct {
	name     string
	instance hal.Instance // nil for host devices
	device   hal.Device
	queue    hal.Queue
	borrowed bool
	limits   gputypes.Limits

	mu     sync.Mutex
	nextVA uint64
	heaps  map[uint32]*descriptorHeap
	nextID uint32

	submitMu  sync.Mutex
	submitted uint64 // last HAL submission index

	lostErr   atomic.Pointer[error]
	destroyed atomic.Bool
}

var _ gpu.Device = (*Device)(nil)

func newDevice(name string, inst hal.Instance, dev hal.Device, q hal.Queue, borrowed bool) *Device {
	return &Device{
		name:     name,
		instance: inst,
		device:   dev,
		queue:    q,
		borrowed: borrowed,
		limits:   gputypes.DefaultLimits(),
		nextVA:   vaAlignment,
		heaps:    make(map[uint32]*descriptorHeap),
	}
}

// OpenBackend opens the first discrete or integrated adapter of a
// registered HAL backend, falling back to the first adapter.
func OpenBackend(b gputypes.Backend) (*Device, error) {
	backend, ok := hal.GetBackend(b)
	if !ok {
		return nil, fmt.Errorf("%w: HAL backend %v is not available", gpu.ErrUnsupported, b)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	return openInstance(instance)
}

// OpenNoop opens the HAL no-op backend. Commands are accepted and
// discarded; fences complete immediately.
func OpenNoop() (*Device, error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	return openInstance(instance)
}

func openInstance(instance hal.Instance) (*Device, error) {
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: no GPU adapters found", gpu.ErrNoDriver)
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open device: %w", err)
	}
	slogger().Info("halgpu: device opened", "adapter", selected.Info.Name)
	return newDevice(selected.Info.Name, instance, openDev.Device, openDev.Queue, false), nil
}

// FromProvider wraps the device of a host such as a gogpu window. The
// provider must expose HalDevice() and HalQueue() returning hal.Device
// and hal.Queue. The host keeps ownership: Destroy releases only the
// objects created through the returned Device.
func FromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("%w: provider does not expose HAL types", gpu.ErrUnsupported)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: provider HalDevice is not hal.Device", gpu.ErrInvalidArgument)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: provider HalQueue is not hal.Queue", gpu.ErrInvalidArgument)
	}
	slogger().Info("halgpu: using host device")
	return newDevice("HAL host device", nil, device, queue, true), nil
}

func (d *Device) Name() string { return d.name }

func (d *Device) Limits() gpu.Limits {
	return gpu.Limits{
		Raytracing:            false,
		MaxDescriptorHeapSize: maxDescriptorHeapSize,
		MaxTextureDimension2D: d.limits.MaxTextureDimension2D,
	}
}

// HAL returns the underlying device and queue.
func (d *Device) HAL() (hal.Device, hal.Queue) { return d.device, d.queue }

// Destroy releases the HAL device and instance unless they belong to a
// host. Destroying twice does nothing.
func (d *Device) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) {
		return
	}
	if d.borrowed {
		return
	}
	d.device.Destroy()
	if d.instance != nil {
		d.instance.Destroy()
	}
	slogger().Debug("halgpu: device destroyed", "adapter", d.name)
}

// removed returns a non-nil error once the device was lost.
func (d *Device) removed() error {
	if p := d.lostErr.Load(); p != nil {
		return *p
	}
	return nil
}

// lose removes the device. The first cause wins.
func (d *Device) lose(cause error) error {
	err := fmt.Errorf("%w: %w", gpu.ErrDeviceRemoved, cause)
	if d.lostErr.CompareAndSwap(nil, &err) {
		slogger().Error("halgpu: device removed", "err", cause)
	}
	return d.removed()
}

func (d *Device) allocVA(size uint64) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	va := d.nextVA
	d.nextVA += max((size+vaAlignment-1)&^(vaAlignment-1), vaAlignment)
	return va
}

// ===== Raytracing =====

func (d *Device) ASPrebuildInfo(gpu.ASInputs) (gpu.ASPrebuildInfo, error) {
	return gpu.ASPrebuildInfo{}, fmt.Errorf("%w: acceleration structures", gpu.ErrUnsupported)
}

func (d *Device) NewRootSignature(gpu.RootSignatureDesc) (gpu.RootSignature, error) {
	return nil, fmt.Errorf("%w: root signatures", gpu.ErrUnsupported)
}

func (d *Device) NewStateObject(gpu.StateObjectDesc) (gpu.StateObject, error) {
	return nil, fmt.Errorf("%w: raytracing state objects", gpu.ErrUnsupported)
}

// ===== Drivers =====

type driver struct {
	name string
	open func() (*Device, error)

	mu   sync.Mutex
	devs []*Device
}

func init() {
	gpu.Register(&driver{name: DriverName, open: func() (*Device, error) { return OpenBackend(gputypes.BackendVulkan) }})
	gpu.Register(&driver{name: NoopDriverName, open: OpenNoop})
}

func (drv *driver) Name() string { return drv.name }

func (drv *driver) Open() (gpu.Device, error) {
	dev, err := drv.open()
	if err != nil {
		return nil, err
	}
	drv.mu.Lock()
	drv.devs = append(drv.devs, dev)
	drv.mu.Unlock()
	return dev, nil
}

func (drv *driver) Close() {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	for _, dev := range drv.devs {
		dev.Destroy()
	}
	drv.devs = nil
}
