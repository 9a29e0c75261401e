package gpu

import (
	"encoding/binary"
	"math"
)

// ===== Acceleration structures =====

// ASType is the level of an acceleration structure.
type ASType uint8

const (
	ASBottomLevel ASType = iota
	ASTopLevel
)

// ASBuildFlags are acceleration structure build preferences.
type ASBuildFlags uint8

const (
	ASBuildPreferFastTrace ASBuildFlags = 1 << iota
	ASBuildPreferFastBuild
	ASBuildMinimizeMemory
)

// IndexFormat is the format of triangle indices.
type IndexFormat uint8

const (
	IndexFormatNone IndexFormat = iota
	IndexFormatUint16
	IndexFormatUint32
)

// Size returns the byte size of one index.
func (f IndexFormat) Size() uint64 {
	switch f {
	case IndexFormatUint16:
		return 2
	case IndexFormatUint32:
		return 4
	}
	return 0
}

// VertexFormat is the format of triangle vertex positions.
type VertexFormat uint8

const (
	// VertexFormatFloat32x3 is three 32-bit floats (R32G32B32_FLOAT).
	VertexFormatFloat32x3 VertexFormat = iota + 1
)

// GeometryFlags are per-geometry flags.
type GeometryFlags uint8

const (
	GeometryOpaque GeometryFlags = 1 << iota
	GeometryNoDuplicateAnyHit
)

// GeometryTriangles describes an indexed triangle geometry in GPU memory.
type GeometryTriangles struct {
	Flags GeometryFlags

	VertexBuffer uint64
	VertexStride uint64
	VertexCount  uint32
	VertexFormat VertexFormat

	IndexBuffer uint64
	IndexCount  uint32
	IndexFormat IndexFormat
}

// ASInputs are the inputs of an acceleration structure build.
type ASInputs struct {
	Type  ASType
	Flags ASBuildFlags

	// Geometries of a bottom-level structure.
	Geometries []GeometryTriangles

	// Instances is the GPU address of InstanceCount encoded InstanceDesc
	// records for a top-level structure.
	Instances     uint64
	InstanceCount uint32
}

// ASPrebuildInfo holds the buffer sizes required by a build.
type ASPrebuildInfo struct {
	ResultDataMaxSize uint64
	ScratchDataSize   uint64
}

// ASBuildDesc is a recorded acceleration structure build.
type ASBuildDesc struct {
	Inputs  ASInputs
	Dest    uint64
	Scratch uint64
}

// InstanceFlags are per-instance flags of a top-level structure.
type InstanceFlags uint8

const (
	InstanceTriangleCullDisable InstanceFlags = 1 << iota
	InstanceFrontCounterClockwise
	InstanceForceOpaque
	InstanceForceNonOpaque
)

// InstanceDesc is one instance of a top-level acceleration structure.
// Its encoded form is InstanceDescSize bytes.
type InstanceDesc struct {
	// Transform is a row-major 3x4 object-to-world matrix.
	Transform [3][4]float32

	// InstanceID is a 24-bit value visible to shaders.
	InstanceID uint32
	Mask       uint8

	// HitGroupIndex is the 24-bit instance contribution to the hit group index.
	HitGroupIndex uint32
	Flags         InstanceFlags

	AccelerationStructure uint64
}

// IdentityTransform is the 3x4 identity.
var IdentityTransform = [3][4]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}

// Encode writes d into b using the native layout.
// b must be at least InstanceDescSize bytes.
func (d *InstanceDesc) Encode(b []byte) {
	_ = b[InstanceDescSize-1]
	off := 0
	for r := range d.Transform {
		for c := range d.Transform[r] {
			binary.LittleEndian.PutUint32(b[off:], math.Float32bits(d.Transform[r][c]))
			off += 4
		}
	}
	binary.LittleEndian.PutUint32(b[48:], d.InstanceID&0xFFFFFF|uint32(d.Mask)<<24)
	binary.LittleEndian.PutUint32(b[52:], d.HitGroupIndex&0xFFFFFF|uint32(d.Flags)<<24)
	binary.LittleEndian.PutUint64(b[56:], d.AccelerationStructure)
}

// DecodeInstanceDesc reads an InstanceDesc written by Encode.
func DecodeInstanceDesc(b []byte) InstanceDesc {
	_ = b[InstanceDescSize-1]
	var d InstanceDesc
	off := 0
	for r := range d.Transform {
		for c := range d.Transform[r] {
			d.Transform[r][c] = math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
			off += 4
		}
	}
	w := binary.LittleEndian.Uint32(b[48:])
	d.InstanceID, d.Mask = w&0xFFFFFF, uint8(w>>24)
	w = binary.LittleEndian.Uint32(b[52:])
	d.HitGroupIndex, d.Flags = w&0xFFFFFF, InstanceFlags(w>>24)
	d.AccelerationStructure = binary.LittleEndian.Uint64(b[56:])
	return d
}

// ===== Root signatures =====

// RangeType is the descriptor type of a descriptor range.
type RangeType uint8

const (
	RangeSRV RangeType = iota
	RangeUAV
	RangeCBV
	RangeSampler
)

func (t RangeType) String() string {
	switch t {
	case RangeSRV:
		return "SRV"
	case RangeUAV:
		return "UAV"
	case RangeCBV:
		return "CBV"
	case RangeSampler:
		return "Sampler"
	}
	return "unknown"
}

// DescriptorRange binds Count descriptors starting at the table offset
// OffsetInTable to shader registers Register..Register+Count-1 in Space.
type DescriptorRange struct {
	Type          RangeType
	Count         uint32
	Register      uint32
	Space         uint32
	OffsetInTable uint32
}

// RootSignatureDesc describes a root signature made of descriptor tables.
type RootSignatureDesc struct {
	// Local marks a local root signature, bound per shader record.
	Local  bool
	Tables [][]DescriptorRange
}

// RootSignature is a compiled root signature.
type RootSignature interface {
	Desc() RootSignatureDesc
	Destroy()
}

// ===== Pipeline state =====

// HitGroupType is the primitive type of a hit group.
type HitGroupType uint8

const (
	HitGroupTriangles HitGroupType = iota
	HitGroupProceduralPrimitive
)

// HitGroupDesc names the shaders of a hit group export.
type HitGroupDesc struct {
	Name         string
	Type         HitGroupType
	ClosestHit   string
	AnyHit       string
	Intersection string
}

// ShaderExport surfaces the library function EntryPoint under Name.
type ShaderExport struct {
	Name       string
	EntryPoint string
}

// ShaderLibrary is a compiled shader library, consumed opaquely, and the
// functions it exports to the pipeline.
type ShaderLibrary struct {
	Bytecode []byte
	Exports  []ShaderExport
}

// StateObjectDesc describes a raytracing pipeline.
type StateObjectDesc struct {
	Libraries []ShaderLibrary

	HitGroups []HitGroupDesc

	MaxPayloadSize    uint32
	MaxAttributeSize  uint32
	MaxRecursionDepth uint32

	GlobalRootSignature RootSignature
	LocalRootSignature  RootSignature

	// LocalAssociations lists the exports the local root signature applies to.
	LocalAssociations []string
}

// StateObject is a raytracing pipeline.
type StateObject interface {
	// ShaderIdentifier returns the ShaderIdentifierSize byte identifier of
	// an export or hit group, or nil if the name is unknown.
	ShaderIdentifier(name string) []byte
	Destroy()
}

// ===== Dispatch =====

// ShaderRecordRange is a single shader record.
type ShaderRecordRange struct {
	Address uint64
	Size    uint64
}

// ShaderTableRange is a strided array of shader records.
type ShaderTableRange struct {
	Address uint64
	Size    uint64
	Stride  uint64
}

// DispatchRaysDesc is a recorded ray dispatch.
type DispatchRaysDesc struct {
	RayGeneration ShaderRecordRange
	Miss          ShaderTableRange
	HitGroup      ShaderTableRange

	Width, Height, Depth uint32
}
