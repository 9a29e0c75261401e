// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package soft implements gpu.Device in pure Go.
//
// The device behaves like an asynchronous DXR device: each queue runs its
// own worker goroutine that executes recorders in submission order and
// updates fences when it reaches their signal points. Resources are byte
// slices with synthetic GPU virtual addresses, resource states are
// validated at execution time, and ray dispatch runs the built-in
// ray generation, miss and closest-hit programs of the default shader
// library against a BVH built for each acceleration structure.
//
// Any validation failure during execution removes the device: every later
// call and every pending fence wait reports gpu.ErrDeviceRemoved.
//
// The driver registers itself as "soft":
//
//	import _ "github.com/gogpu/rtcore/gpu/soft"
package soft

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gogpu/rtcore/gpu"
	"github.com/gogpu/rtcore/internal/parallel"
)

// DriverName is the registered driver name.
const DriverName = "soft"

// vaAlignment is the spacing of buffer virtual addresses.
const vaAlignment = 1 << 16

// descriptorIncrement is the simulated descriptor size for every heap type.
const descriptorIncrement = 32

// Config configures a software device.
type Config struct {
	// Name is reported by Device.Name.
	Name string

	// Workers is the number of goroutines tracing rays.
	// Zero uses GOMAXPROCS.
	Workers int

	// TileSize is the edge length of the pixel tiles a dispatch is split into.
	TileSize int

	// MaxDescriptorHeapSize limits shader-visible CBV/SRV/UAV heaps.
	MaxDescriptorHeapSize uint32

	// MaxTextureDimension2D limits texture width and height.
	MaxTextureDimension2D uint32
}

// DefaultConfig returns the configuration used by the registered driver.
func DefaultConfig() Config {
	return Config{
		Name:                  "Software Raytracer",
		TileSize:              parallel.TileSize,
		MaxDescriptorHeapSize: 1_000_000,
		MaxTextureDimension2D: 16384,
	}
}

// Device is a software gpu.Device.
type Device struct {
	cfg  Config
	pool *parallel.WorkerPool

	mu      sync.Mutex
	nextVA  uint64
	buffers []*resource // sorted by va
	heaps   map[uint32]*descriptorHeap
	nextID  uint32
	fences  map[*fence]struct{}

	lostErr atomic.Pointer[error]

	// stall gates queue execution; see Stall.
	stallMu   sync.Mutex
	stallCond *sync.Cond
	stalled   bool
}

var _ gpu.Device = (*Device)(nil)

// NewDevice creates a software device.
func NewDevice(cfg Config) *Device {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.TileSize <= 0 {
		cfg.TileSize = def.TileSize
	}
	if cfg.MaxDescriptorHeapSize == 0 {
		cfg.MaxDescriptorHeapSize = def.MaxDescriptorHeapSize
	}
	if cfg.MaxTextureDimension2D == 0 {
		cfg.MaxTextureDimension2D = def.MaxTextureDimension2D
	}
	d := &Device{
		cfg:    cfg,
		pool:   parallel.NewWorkerPool(cfg.Workers),
		nextVA: vaAlignment,
		heaps:  make(map[uint32]*descriptorHeap),
		fences: make(map[*fence]struct{}),
	}
	d.stallCond = sync.NewCond(&d.stallMu)
	slogger().Debug("soft: device created", "workers", d.pool.Workers(), "tile", cfg.TileSize)
	return d
}

func (d *Device) Name() string { return d.cfg.Name }

func (d *Device) Limits() gpu.Limits {
	return gpu.Limits{
		Raytracing:            true,
		MaxDescriptorHeapSize: d.cfg.MaxDescriptorHeapSize,
		MaxTextureDimension2D: d.cfg.MaxTextureDimension2D,
	}
}

// Destroy stops the dispatch workers.
func (d *Device) Destroy() {
	d.Resume()
	d.pool.Close()
}

// ===== Device loss =====

// removed returns a non-nil error once the device was lost.
func (d *Device) removed() error {
	if p := d.lostErr.Load(); p != nil {
		return *p
	}
	return nil
}

// lose removes the device. The first cause wins.
func (d *Device) lose(cause error) {
	err := fmt.Errorf("%w: %w", gpu.ErrDeviceRemoved, cause)
	if !d.lostErr.CompareAndSwap(nil, &err) {
		return
	}
	slogger().Error("soft: device removed", "err", cause)

	d.mu.Lock()
	fences := make([]*fence, 0, len(d.fences))
	for f := range d.fences {
		fences = append(fences, f)
	}
	d.mu.Unlock()
	for _, f := range fences {
		f.wake()
	}
}

// ===== Execution gate =====

// Stall pauses every queue of the device before its next recorder or
// signal. Work submitted while stalled stays pending, so fences remain
// unreached until Resume. Intended for tests that observe in-flight state.
func (d *Device) Stall() {
	d.stallMu.Lock()
	d.stalled = true
	d.stallMu.Unlock()
}

// Resume restarts queues paused by Stall.
func (d *Device) Resume() {
	d.stallMu.Lock()
	d.stalled = false
	d.stallCond.Broadcast()
	d.stallMu.Unlock()
}

func (d *Device) waitRunnable() {
	d.stallMu.Lock()
	for d.stalled {
		d.stallCond.Wait()
	}
	d.stallMu.Unlock()
}

// ===== Virtual addresses =====

func (d *Device) registerBuffer(r *resource) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r.va = d.nextVA
	span := (r.desc.Size + vaAlignment - 1) &^ (vaAlignment - 1)
	d.nextVA += max(span, vaAlignment)
	// nextVA only grows, so appending keeps the slice sorted.
	d.buffers = append(d.buffers, r)
}

func (d *Device) unregisterBuffer(r *resource) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := sort.Search(len(d.buffers), func(i int) bool { return d.buffers[i].va >= r.va })
	if i < len(d.buffers) && d.buffers[i] == r {
		d.buffers = append(d.buffers[:i], d.buffers[i+1:]...)
	}
}

// resolve maps a GPU virtual address to a live buffer and an offset.
func (d *Device) resolve(va uint64) (*resource, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := sort.Search(len(d.buffers), func(i int) bool { return d.buffers[i].va > va })
	if i > 0 {
		r := d.buffers[i-1]
		if off := va - r.va; off < r.desc.Size {
			return r, off, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: address %#x is not inside a live buffer", gpu.ErrInvalidArgument, va)
}

// ===== Driver =====

type driver struct {
	mu   sync.Mutex
	devs []*Device
}

func init() {
	gpu.Register(&driver{})
}

func (*driver) Name() string { return DriverName }

func (drv *driver) Open() (gpu.Device, error) {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	dev := NewDevice(DefaultConfig())
	drv.devs = append(drv.devs, dev)
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

// errClosed reports recording on a closed recorder.
var errClosed = errors.New("soft: recorder is closed")
