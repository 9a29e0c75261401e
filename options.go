// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rtcore

import (
	"log/slog"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/rtcore/gpu"
	"github.com/gogpu/rtcore/gpu/soft"
	"github.com/gogpu/rtcore/render"
)

// Option configures a Renderer during creation.
// Use functional options to customize Renderer behavior.
//
// Example:
//
//	// Default software device, 1280x720
//	r, err := rtcore.New()
//
//	// Custom size and shader directory
//	r, err := rtcore.New(rtcore.WithSize(640, 480), rtcore.WithShaderDir("shaders"))
type Option func(*options)

// options holds optional configuration for Renderer creation.
type options struct {
	driver    string
	device    gpu.Device
	provider  gpucontext.DeviceProvider
	width     uint32
	height    uint32
	heaps     render.HeapConfig
	shaderDir string
	vsync     bool
	logger    *slog.Logger
}

// Default frame size.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// defaultOptions returns the default renderer options.
func defaultOptions() options {
	return options{
		driver: soft.DriverName,
		width:  DefaultWidth,
		height: DefaultHeight,
		heaps:  render.DefaultHeapConfig(),
		vsync:  true,
	}
}

// WithDriver selects the registered gpu driver opened by New.
// The default is the software driver.
func WithDriver(name string) Option {
	return func(o *options) {
		o.driver = name
	}
}

// WithDevice renders on a device owned by a host such as a gogpu window.
// The provider must expose its HAL device and queue. The host keeps
// ownership: Close does not destroy its device.
//
// HAL devices have no raytracing commands, so New currently fails with
// an error wrapping gpu.ErrUnsupported for every provider. Use
// gpu/halgpu.FromProvider with render.NewContext to share the host device
// for buffers, textures and copies.
func WithDevice(p gpucontext.DeviceProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithNativeDevice renders on an already opened gpu.Device. The caller
// keeps ownership and destroys the device after Close.
func WithNativeDevice(d gpu.Device) Option {
	return func(o *options) {
		o.device = d
	}
}

// WithSize sets the initial frame size. Zero sizes are clamped to 1.
func WithSize(width, height uint32) Option {
	return func(o *options) {
		o.width, o.height = width, height
	}
}

// WithDescriptorHeapSize sets the number of slots of the shader-visible
// descriptor heap.
func WithDescriptorHeapSize(n uint32) Option {
	return func(o *options) {
		o.heaps.ShaderVisible = n
	}
}

// WithHeapConfig replaces every descriptor heap size.
// Zero sizes fall back to render.DefaultHeapConfig.
func WithHeapConfig(cfg render.HeapConfig) Option {
	return func(o *options) {
		o.heaps = cfg
	}
}

// WithShaderDir sets the directory the raygen, miss and closest-hit
// libraries are loaded from. Missing files fall back to the embedded
// libraries.
func WithShaderDir(dir string) Option {
	return func(o *options) {
		o.shaderDir = dir
	}
}

// WithVSync sets the initial vertical sync preference reported to hosts
// that present frames.
func WithVSync(on bool) Option {
	return func(o *options) {
		o.vsync = on
	}
}

// WithLogger installs l through SetLogger when the renderer is created.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
