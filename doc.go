// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package rtcore is a real-time raytracing renderer built on a DXR-style
// GPU API.
//
// # Overview
//
// rtcore uploads one triangle mesh and its base color texture, builds a
// bottom-level and a top-level acceleration structure over it, and
// traces one ray per pixel through a fixed raygen / miss / closest-hit
// pipeline into an RGBA8 color attachment.
//
// # Quick Start
//
//	import "github.com/gogpu/rtcore"
//
//	r, err := rtcore.New(rtcore.WithSize(640, 480))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer r.Close()
//
//	if err := r.LoadScene(rtcore.Scene{Mesh: loader.Cube(1)}); err != nil {
//		log.Fatal(err)
//	}
//	if _, err := r.Render(rtcore.DefaultView()); err != nil {
//		log.Fatal(err)
//	}
//	frame, err := r.Readback()
//	if err != nil {
//		log.Fatal(err)
//	}
//	frame.SavePNG("frame.png")
//
// # Drivers
//
// The renderer runs on any gpu.Driver. The pure Go "soft" driver is
// always registered and is the default; it runs the built-in shader
// library on the CPU. The "hal" driver from gpu/halgpu runs on
// github.com/gogpu/wgpu/hal but has no raytracing support, so New
// rejects it. A host that already owns a device passes it with
// WithDevice.
//
// # Architecture
//
// The library is organized into:
//   - Public API: Renderer, Scene, View, Frame, options
//   - render: device objects, descriptor heaps, command lists and queue,
//     pipeline state, acceleration structures, render pass
//   - gpu: native API boundary and driver registry
//   - shader: bytecode loading and WGSL compilation
//   - loader: meshes and textures
//
// # Coordinate System
//
// Right-handed world space with +Y up. The camera looks from View.Eye
// towards View.Target. Frame pixels have their origin at the top-left.
package rtcore

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
