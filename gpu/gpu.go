// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpu defines the native raytracing API boundary consumed by the
// render core.
//
// The package describes an explicit, DXR-style device: queues execute
// closed command recorders in order, fences are monotonic counters
// signaled by the queue, resources live in default, upload or readback
// heaps, descriptors are fixed-size slots in descriptor heaps, and the
// raytracing pipeline is a state object whose shader identifiers are
// copied into a shader table.
//
// Implementations register themselves as drivers from an init function.
// Import a driver package for its side effect and open it by name:
//
//	import _ "github.com/gogpu/rtcore/gpu/soft"
//
//	dev, err := gpu.Open("soft")
//
// Available drivers:
//   - soft: pure Go simulated device with full raytracing support
//   - hal, hal-noop: github.com/gogpu/wgpu/hal backed device (copies,
//     barriers and fences; raytracing commands are unsupported)
package gpu

import (
	"fmt"
	"strings"
	"sync"
)

// Driver is the interface that a native API implementation provides.
type Driver interface {
	// Name returns the driver name used by Open.
	Name() string

	// Open initializes the driver and returns a new device.
	Open() (Device, error)

	// Close releases every device created by Open.
	Close()
}

var drivers struct {
	mu   sync.Mutex
	list []Driver
}

// Register registers a driver.
// Registering a driver whose name is already taken replaces nothing and
// is reported through the logger.
func Register(drv Driver) {
	drivers.mu.Lock()
	defer drivers.mu.Unlock()

	for _, d := range drivers.list {
		if strings.EqualFold(d.Name(), drv.Name()) {
			slogger().Warn("gpu: driver already registered", "name", drv.Name())
			return
		}
	}
	drivers.list = append(drivers.list, drv)
	slogger().Debug("gpu: driver registered", "name", drv.Name())
}

// Drivers returns the registered drivers in registration order.
func Drivers() []Driver {
	drivers.mu.Lock()
	defer drivers.mu.Unlock()

	ds := make([]Driver, len(drivers.list))
	copy(ds, drivers.list)
	return ds
}

// Lookup returns the driver registered under name.
// Names are compared case-insensitively.
func Lookup(name string) (Driver, error) {
	drivers.mu.Lock()
	defer drivers.mu.Unlock()

	if len(drivers.list) == 0 {
		return nil, ErrNoDriver
	}
	if name == "" {
		return drivers.list[0], nil
	}
	for _, d := range drivers.list {
		if strings.EqualFold(d.Name(), name) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoDriver, name)
}

// Open looks up the named driver and opens it.
// An empty name selects the first registered driver.
func Open(name string) (Device, error) {
	drv, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	dev, err := drv.Open()
	if err != nil {
		return nil, fmt.Errorf("open driver %s: %w", drv.Name(), err)
	}
	slogger().Info("gpu: device opened", "driver", drv.Name(), "device", dev.Name())
	return dev, nil
}
