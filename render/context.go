package render

import (
	"errors"
	"fmt"

	"github.com/gogpu/rtcore/gpu"
)

// HeapConfig sizes the descriptor heaps of a Context.
type HeapConfig struct {
	// ShaderVisible is the CBV/SRV/UAV heap addressed by shader tables.
	ShaderVisible uint32

	// Staging is the CPU-only CBV/SRV/UAV heap resource views are created
	// in before being copied into the shader-visible heap.
	Staging uint32

	RTV uint32
	DSV uint32
}

// DefaultHeapConfig returns the heap sizes used by the renderer.
func DefaultHeapConfig() HeapConfig {
	return HeapConfig{
		ShaderVisible: 1024,
		Staging:       4096,
		RTV:           64,
		DSV:           64,
	}
}

// Context bundles the objects every render constructor needs. It replaces
// process-wide accessors: one Context per device, passed explicitly.
type Context struct {
	Device *Device

	// Queue is the direct command queue.
	Queue *CommandQueue

	// Views holds CPU-side CBV/SRV/UAV descriptors of buffers and textures.
	Views *DescriptorHeap

	// Shader is the shader-visible CBV/SRV/UAV heap.
	Shader *DescriptorHeap

	RTV *DescriptorHeap
	DSV *DescriptorHeap
}

// NewContext creates the direct queue and descriptor heaps on native.
// Zero sizes in cfg fall back to DefaultHeapConfig.
func NewContext(native gpu.Device, cfg HeapConfig) (*Context, error) {
	def := DefaultHeapConfig()
	if cfg.ShaderVisible == 0 {
		cfg.ShaderVisible = def.ShaderVisible
	}
	if cfg.Staging == 0 {
		cfg.Staging = def.Staging
	}
	if cfg.RTV == 0 {
		cfg.RTV = def.RTV
	}
	if cfg.DSV == 0 {
		cfg.DSV = def.DSV
	}

	dev, err := NewDevice(native)
	if err != nil {
		return nil, err
	}
	ctx := &Context{Device: dev}
	if ctx.Queue, err = NewCommandQueue(dev, gpu.QueueDirect); err != nil {
		return nil, err
	}
	heaps := []struct {
		dst     **DescriptorHeap
		typ     gpu.DescriptorHeapType
		count   uint32
		visible bool
	}{
		{&ctx.Views, gpu.DescriptorHeapCBVSRVUAV, cfg.Staging, false},
		{&ctx.Shader, gpu.DescriptorHeapCBVSRVUAV, cfg.ShaderVisible, true},
		{&ctx.RTV, gpu.DescriptorHeapRTV, cfg.RTV, false},
		{&ctx.DSV, gpu.DescriptorHeapDSV, cfg.DSV, false},
	}
	for _, h := range heaps {
		if *h.dst, err = NewDescriptorHeap(dev, h.typ, h.count, h.visible); err != nil {
			ctx.Close()
			return nil, err
		}
	}
	return ctx, nil
}

// viewHeap returns the CPU heap holding views of the given kind.
func (c *Context) viewHeap(kind gpu.ViewKind) *DescriptorHeap {
	switch kind {
	case gpu.ViewRTV:
		return c.RTV
	case gpu.ViewDSV:
		return c.DSV
	}
	return c.Views
}

// Close drains the queue and releases the heaps and the queue. The native
// device is left to its owner.
func (c *Context) Close() error {
	var errs []error
	if c.Queue != nil {
		errs = append(errs, c.Queue.Close())
		c.Queue = nil
	}
	for _, h := range []**DescriptorHeap{&c.Views, &c.Shader, &c.RTV, &c.DSV} {
		if *h != nil {
			(*h).Destroy()
			*h = nil
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close render context: %w", err)
	}
	return nil
}
