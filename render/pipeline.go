// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/rtcore/gpu"
)

// Export names of the raytracing pipeline.
const (
	RayGenExport     = "RayGenShader_Default"
	MissExport       = "MissShader_Default"
	ClosestHitExport = "ClosestHitShader_Default"
	HitGroupExport   = "HitGroupTriangle_Default"
)

// Shader table layout. Each record is a shader identifier followed by the
// GPU handle of its descriptor table, padded to the record alignment.
// Records are ordered ray generation, miss, hit group.
const (
	ShaderRecordSize = (gpu.ShaderIdentifierSize + gpu.DescriptorTableHandleSize + gpu.ShaderRecordAlignment - 1) &^
		(gpu.ShaderRecordAlignment - 1)
	ShaderTableRecords = 3
	ShaderTableSize    = (ShaderRecordSize*ShaderTableRecords + gpu.ShaderTableAlignment - 1) &^
		(gpu.ShaderTableAlignment - 1)
)

// ShaderStage is a compiled shader library and the function it exports.
type ShaderStage struct {
	Bytecode []byte

	// EntryPoint is the library function exported under the stage's
	// export name. Empty means "main".
	EntryPoint string
}

func (s ShaderStage) entryPoint() string {
	if s.EntryPoint == "" {
		return "main"
	}
	return s.EntryPoint
}

// PipelineDesc holds the three stages of the pipeline.
type PipelineDesc struct {
	RayGen     ShaderStage
	Miss       ShaderStage
	ClosestHit ShaderStage
}

// Pipeline configuration.
const (
	maxPayloadSize    = 16 // float4 color
	maxAttributeSize  = 8  // float2 barycentrics
	maxRecursionDepth = 1
)

// LocalRootSignatureDesc returns the per-record bindings every stage
// shares: one descriptor table laid out as the BindingTable.
func LocalRootSignatureDesc() gpu.RootSignatureDesc {
	return gpu.RootSignatureDesc{
		Local: true,
		Tables: [][]gpu.DescriptorRange{{
			{Type: gpu.RangeCBV, Count: 1, Register: 0, Space: 0, OffsetInTable: uint32(SlotViewConstants)},
			{Type: gpu.RangeUAV, Count: 1, Register: 0, Space: 0, OffsetInTable: uint32(SlotOutput)},
			{Type: gpu.RangeSRV, Count: 1, Register: 0, Space: 0, OffsetInTable: uint32(SlotScene)},
			{Type: gpu.RangeSRV, Count: 1, Register: 0, Space: 1, OffsetInTable: uint32(SlotVertices)},
			{Type: gpu.RangeSRV, Count: 1, Register: 0, Space: 2, OffsetInTable: uint32(SlotIndices)},
			{Type: gpu.RangeSRV, Count: 1, Register: 0, Space: 3, OffsetInTable: uint32(SlotBaseColor)},
		}},
	}
}

// PipelineState is the raytracing state object, its root signatures and
// its shader table. It is immutable after creation except for the
// descriptor-table handle embedded in the table records.
type PipelineState struct {
	ctx    *Context
	local  gpu.RootSignature
	global gpu.RootSignature
	so     gpu.StateObject
	table  *Buffer
	handle gpu.GPUHandle
}

// NewPipelineState builds the pipeline and a shader table whose records
// point at the descriptor table handle.
func NewPipelineState(ctx *Context, desc PipelineDesc, handle gpu.GPUHandle) (*PipelineState, error) {
	dev := ctx.Device.native
	p := &PipelineState{ctx: ctx}

	var err error
	if p.local, err = dev.NewRootSignature(LocalRootSignatureDesc()); err != nil {
		return nil, fmt.Errorf("create local root signature: %w", err)
	}
	if p.global, err = dev.NewRootSignature(gpu.RootSignatureDesc{}); err != nil {
		p.Release()
		return nil, fmt.Errorf("create global root signature: %w", err)
	}

	stages := []struct {
		name  string
		stage ShaderStage
	}{
		{RayGenExport, desc.RayGen},
		{MissExport, desc.Miss},
		{ClosestHitExport, desc.ClosestHit},
	}
	libs := make([]gpu.ShaderLibrary, 0, len(stages))
	for _, s := range stages {
		libs = append(libs, gpu.ShaderLibrary{
			Bytecode: s.stage.Bytecode,
			Exports:  []gpu.ShaderExport{{Name: s.name, EntryPoint: s.stage.entryPoint()}},
		})
	}
	p.so, err = dev.NewStateObject(gpu.StateObjectDesc{
		Libraries: libs,
		HitGroups: []gpu.HitGroupDesc{{
			Name:       HitGroupExport,
			Type:       gpu.HitGroupTriangles,
			ClosestHit: ClosestHitExport,
		}},
		MaxPayloadSize:      maxPayloadSize,
		MaxAttributeSize:    maxAttributeSize,
		MaxRecursionDepth:   maxRecursionDepth,
		GlobalRootSignature: p.global,
		LocalRootSignature:  p.local,
		LocalAssociations:   []string{RayGenExport, MissExport, ClosestHitExport},
	})
	if err != nil {
		p.Release()
		return nil, fmt.Errorf("create raytracing pipeline: %w", err)
	}

	p.table, err = NewBuffer(ctx, "shader table", BufferDesc{
		Usage:       BufferUsageUpload,
		NumElements: ShaderTableRecords,
		ElementSize: ShaderRecordSize,
	})
	if err != nil {
		p.Release()
		return nil, err
	}
	if err := p.UpdateDescriptorTable(handle); err != nil {
		p.Release()
		return nil, err
	}
	slogger().Info("render: raytracing pipeline built", "table", p.table.Size(), "record", ShaderRecordSize)
	return p, nil
}

// UpdateDescriptorTable rewrites every shader record with the identifier
// of its export followed by handle. No dispatch using the table may be
// in flight.
func (p *PipelineState) UpdateDescriptorTable(handle gpu.GPUHandle) error {
	table := p.table.Mapped()
	for i, name := range []string{RayGenExport, MissExport, HitGroupExport} {
		id := p.so.ShaderIdentifier(name)
		if id == nil {
			return fmt.Errorf("%w: pipeline has no shader identifier for %q", gpu.ErrInvalidArgument, name)
		}
		rec := table[i*ShaderRecordSize : (i+1)*ShaderRecordSize]
		clear(rec)
		copy(rec, id)
		binary.LittleEndian.PutUint64(rec[gpu.ShaderIdentifierSize:], uint64(handle))
	}
	p.handle = handle
	return nil
}

// DispatchDesc returns a width x height dispatch over the shader table.
func (p *PipelineState) DispatchDesc(width, height uint32) gpu.DispatchRaysDesc {
	base := p.table.GPUAddress()
	return gpu.DispatchRaysDesc{
		RayGeneration: gpu.ShaderRecordRange{Address: base, Size: ShaderRecordSize},
		Miss:          gpu.ShaderTableRange{Address: base + ShaderRecordSize, Size: ShaderRecordSize, Stride: ShaderRecordSize},
		HitGroup:      gpu.ShaderTableRange{Address: base + 2*ShaderRecordSize, Size: ShaderRecordSize, Stride: ShaderRecordSize},
		Width:         width,
		Height:        height,
		Depth:         1,
	}
}

// ShaderTable returns the shader table buffer.
func (p *PipelineState) ShaderTable() *Buffer { return p.table }

// DescriptorTable returns the handle embedded in the records.
func (p *PipelineState) DescriptorTable() gpu.GPUHandle { return p.handle }

// StateObject returns the native pipeline.
func (p *PipelineState) StateObject() gpu.StateObject { return p.so }

// Release destroys the pipeline objects and the shader table.
func (p *PipelineState) Release() {
	if p.table != nil {
		p.table.Release()
		p.table = nil
	}
	if p.so != nil {
		p.so.Destroy()
		p.so = nil
	}
	if p.global != nil {
		p.global.Destroy()
		p.global = nil
	}
	if p.local != nil {
		p.local.Destroy()
		p.local = nil
	}
}

// BindingSlot is a descriptor offset in the BindingTable.
type BindingSlot uint32

// Binding table layout read by the local root signature.
const (
	SlotViewConstants BindingSlot = 1
	SlotOutput        BindingSlot = 3
	SlotBaseColor     BindingSlot = 4
	SlotVertices      BindingSlot = 5
	SlotIndices       BindingSlot = 6
	SlotScene         BindingSlot = 11

	// BindingTableSize is the number of slots the table spans.
	BindingTableSize = 12
)

// BindingTable is the descriptor table every shader record points at.
// Views are created in CPU-only heaps and copied into its slots.
type BindingTable struct {
	ctx   *Context
	alloc DescriptorAllocation
}

// NewBindingTable reserves the table in the shader-visible heap.
func NewBindingTable(ctx *Context) (*BindingTable, error) {
	alloc, err := ctx.Shader.Allocate(BindingTableSize)
	if err != nil {
		return nil, fmt.Errorf("allocate binding table: %w", err)
	}
	return &BindingTable{ctx: ctx, alloc: alloc}, nil
}

// Set copies the CPU descriptor src into slot.
func (bt *BindingTable) Set(slot BindingSlot, src gpu.CPUHandle) error {
	if uint32(slot) >= BindingTableSize {
		return fmt.Errorf("%w: binding slot %d", ErrOutOfBounds, slot)
	}
	return bt.ctx.Device.CopyDescriptors(bt.alloc.CPUHandle(uint32(slot)), src, 1, gpu.DescriptorHeapCBVSRVUAV)
}

// Bind copies the view of r of the given kind into slot.
func (bt *BindingTable) Bind(slot BindingSlot, r interface {
	View(gpu.ViewKind) (gpu.CPUHandle, error)
}, kind gpu.ViewKind) error {
	h, err := r.View(kind)
	if err != nil {
		return err
	}
	return bt.Set(slot, h)
}

// GPUHandle returns the handle of the first slot.
func (bt *BindingTable) GPUHandle() gpu.GPUHandle { return bt.alloc.GPUHandle(0) }

// Heap returns the shader-visible heap holding the table.
func (bt *BindingTable) Heap() *DescriptorHeap { return bt.alloc.Heap() }

// Offset returns the heap offset of the table.
func (bt *BindingTable) Offset() uint32 { return bt.alloc.Offset() }

// Release frees the table slots.
func (bt *BindingTable) Release() { bt.alloc.Free() }
