// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package render is the GPU resource and command-submission core of the
// raytracer.
//
// The package sits on top of the native API boundary in package gpu and
// owns every device-level object the renderer needs: descriptor heaps,
// buffers, textures, command lists, the command queue with its fence,
// acceleration structures and the raytracing pipeline with its shader
// table.
//
// # Render Context
//
// There is no global renderer state. A Context bundles the Device, the
// direct CommandQueue and the descriptor heaps, and is passed to every
// constructor:
//
//	native, _ := gpu.Open("soft")
//	ctx, err := render.NewContext(native, render.DefaultHeapConfig())
//	if err != nil {
//	    return err
//	}
//	defer ctx.Close()
//
//	vb, err := render.NewBuffer(ctx, "vertices", render.BufferDesc{
//	    Usage:       render.BufferUsageVertex | render.BufferUsageRead,
//	    NumElements: n,
//	    ElementSize: 32,
//	})
//
// # Submission
//
// Work is recorded on a CommandList obtained from the queue and submitted
// with ExecuteCommandList, which returns the fence value that marks its
// completion. Objects a list must keep alive until the GPU is done with
// them are handed to the list with Retain and released when the queue
// recycles the list after its fence value is reached.
//
// # Resource Usage
//
// Buffer and texture placement (heap, alignment, initial state, views) is
// resolved from an ordered rule table, see BufferUsage and TextureUsage.
// Copies record paired transition barriers around every copy so resources
// return to their resting state.
package render
