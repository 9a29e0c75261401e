package render

import (
	"fmt"

	"github.com/gogpu/rtcore/gpu"
)

// AccelerationStructure is a built bottom- or top-level structure and the
// buffer holding it.
type AccelerationStructure struct {
	typ    gpu.ASType
	result *Buffer
}

// GPUAddress returns the address of the structure.
func (as *AccelerationStructure) GPUAddress() uint64 { return as.result.GPUAddress() }

// Buffer returns the result buffer.
func (as *AccelerationStructure) Buffer() *Buffer { return as.result }

// Type returns the level of the structure.
func (as *AccelerationStructure) Type() gpu.ASType { return as.typ }

// View returns the acceleration structure SRV for gpu.ViewSRV.
func (as *AccelerationStructure) View(kind gpu.ViewKind) (gpu.CPUHandle, error) {
	return as.result.View(kind)
}

// Release drops the result buffer.
func (as *AccelerationStructure) Release() { as.result.Release() }

// BuildBottomLevel builds an opaque triangle structure over vb and ib.
// The vertex stride is the element size of vb; positions are the first
// three floats of each vertex. The index format follows the element size
// of ib (2 or 4 bytes).
//
// The build is submitted on the context queue. The scratch buffer is
// released once the build completes.
func BuildBottomLevel(ctx *Context, name string, vb, ib *Buffer) (*AccelerationStructure, error) {
	var format gpu.IndexFormat
	switch ib.desc.ElementSize {
	case 2:
		format = gpu.IndexFormatUint16
	case 4:
		format = gpu.IndexFormatUint32
	default:
		return nil, fmt.Errorf("%w: index buffer %q with %d-byte elements", ErrInvalidUsage, ib.name, ib.desc.ElementSize)
	}
	if vb.desc.ElementSize < 12 {
		return nil, fmt.Errorf("%w: vertex buffer %q stride %d holds no float3 position", ErrInvalidUsage, vb.name, vb.desc.ElementSize)
	}
	inputs := gpu.ASInputs{
		Type:  gpu.ASBottomLevel,
		Flags: gpu.ASBuildPreferFastTrace,
		Geometries: []gpu.GeometryTriangles{{
			Flags:        gpu.GeometryOpaque,
			VertexBuffer: vb.GPUAddress(),
			VertexStride: uint64(vb.desc.ElementSize),
			VertexCount:  vb.desc.NumElements,
			VertexFormat: gpu.VertexFormatFloat32x3,
			IndexBuffer:  ib.GPUAddress(),
			IndexCount:   ib.desc.NumElements,
			IndexFormat:  format,
		}},
	}
	return build(ctx, name, inputs, vb, ib)
}

// BuildTopLevel builds a structure with a single instance of blas: the
// identity transform, instance ID 0, mask 0xFF, hit group contribution 0
// and counter-clockwise front faces.
func BuildTopLevel(ctx *Context, name string, blas *AccelerationStructure) (*AccelerationStructure, error) {
	if blas.typ != gpu.ASBottomLevel {
		return nil, fmt.Errorf("%w: %q is not a bottom-level structure", ErrInvalidUsage, blas.result.name)
	}
	inst := gpu.InstanceDesc{
		Transform:             gpu.IdentityTransform,
		Mask:                  0xFF,
		Flags:                 gpu.InstanceFrontCounterClockwise,
		AccelerationStructure: blas.GPUAddress(),
	}
	instances, err := NewBuffer(ctx, name+" instances", BufferDesc{
		Usage:       BufferUsageUpload,
		NumElements: 1,
		ElementSize: gpu.InstanceDescSize,
	})
	if err != nil {
		return nil, err
	}
	defer instances.Release()
	inst.Encode(instances.Mapped())

	inputs := gpu.ASInputs{
		Type:          gpu.ASTopLevel,
		Flags:         gpu.ASBuildPreferFastTrace,
		Instances:     instances.GPUAddress(),
		InstanceCount: 1,
	}
	return build(ctx, name, inputs, instances, blas.result)
}

// build sizes, allocates and records one build followed by a UAV
// barrier on the result, and submits it. uses are the buffers the build
// reads.
func build(ctx *Context, name string, inputs gpu.ASInputs, uses ...Resource) (*AccelerationStructure, error) {
	info, err := ctx.Device.native.ASPrebuildInfo(inputs)
	if err != nil {
		return nil, fmt.Errorf("acceleration structure %q prebuild: %w", name, err)
	}
	slogger().Debug("render: acceleration structure sizes", "name", name,
		"result", info.ResultDataMaxSize, "scratch", info.ScratchDataSize)

	scratch, err := NewBuffer(ctx, name+" scratch", BufferDesc{
		Usage:       BufferUsageWrite,
		NumElements: uint32(alignUp(max(info.ScratchDataSize, 1), gpu.ASAlignment)),
		ElementSize: 1,
	})
	if err != nil {
		return nil, err
	}
	defer scratch.Release()
	result, err := NewBuffer(ctx, name, BufferDesc{
		Usage:       BufferUsageWrite | BufferUsageAccelerationStructure,
		NumElements: uint32(info.ResultDataMaxSize),
		ElementSize: 1,
	})
	if err != nil {
		return nil, err
	}

	q := ctx.Queue
	list, err := q.GetCommandList()
	if err != nil {
		result.Release()
		return nil, err
	}
	desc := gpu.ASBuildDesc{Inputs: inputs, Dest: result.GPUAddress(), Scratch: scratch.GPUAddress()}
	err = list.BuildAccelerationStructure(desc, append(uses, scratch, result)...)
	if err == nil {
		err = list.UAVBarrier(result)
	}
	if err != nil {
		q.Discard(list)
		result.Release()
		return nil, err
	}
	if _, err := q.ExecuteCommandList(list); err != nil {
		result.Release()
		return nil, fmt.Errorf("build %q: %w", name, err)
	}
	return &AccelerationStructure{typ: inputs.Type, result: result}, nil
}
