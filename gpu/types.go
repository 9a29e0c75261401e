package gpu

import "github.com/gogpu/gputypes"

// API constants shared by every driver.
const (
	// ShaderIdentifierSize is the size in bytes of an opaque shader identifier.
	ShaderIdentifierSize = 32

	// ShaderRecordAlignment is the required alignment of a shader record.
	ShaderRecordAlignment = 32

	// ShaderTableAlignment is the required alignment of a shader table start.
	ShaderTableAlignment = 64

	// ASAlignment is the required alignment of acceleration structure
	// buffer sizes and addresses.
	ASAlignment = 256

	// ConstantBufferAlignment is the required size alignment of a
	// constant buffer view.
	ConstantBufferAlignment = 256

	// TexturePitchAlignment is the row pitch alignment for buffer/texture copies.
	TexturePitchAlignment = 256

	// TexturePlacementAlignment is the offset alignment of a placed
	// footprint inside a buffer.
	TexturePlacementAlignment = 512

	// InstanceDescSize is the size in bytes of one encoded InstanceDesc.
	InstanceDescSize = 64

	// DescriptorTableHandleSize is the size of a descriptor table root argument.
	DescriptorTableHandleSize = 8
)

// ResourceState is a bitmask of the states a resource can be in.
type ResourceState uint32

// Resource states. StateCommon is the zero value.
const (
	StateCommon                  ResourceState = 0
	StateVertexAndConstantBuffer ResourceState = 1 << 0
	StateIndexBuffer             ResourceState = 1 << 1
	StateRenderTarget            ResourceState = 1 << 2
	StateUnorderedAccess         ResourceState = 1 << 3
	StateDepthWrite              ResourceState = 1 << 4
	StateDepthRead               ResourceState = 1 << 5
	StateNonPixelShaderResource  ResourceState = 1 << 6
	StatePixelShaderResource     ResourceState = 1 << 7
	StateCopyDest                ResourceState = 1 << 10
	StateCopySource              ResourceState = 1 << 11
	StateRaytracingAS            ResourceState = 1 << 22

	// StateGenericRead is the required state of upload heap resources.
	StateGenericRead = StateVertexAndConstantBuffer | StateIndexBuffer |
		StateNonPixelShaderResource | StatePixelShaderResource | StateCopySource
)

// HeapType selects the memory pool of a resource.
type HeapType uint8

const (
	// HeapDefault is GPU-local memory, not CPU visible.
	HeapDefault HeapType = iota
	// HeapUpload is CPU-writable memory read by the GPU.
	HeapUpload
	// HeapReadback is GPU-writable memory read by the CPU.
	HeapReadback
)

func (h HeapType) String() string {
	switch h {
	case HeapDefault:
		return "default"
	case HeapUpload:
		return "upload"
	case HeapReadback:
		return "readback"
	}
	return "unknown"
}

// CPUVisible reports whether resources in the heap can be mapped.
func (h HeapType) CPUVisible() bool { return h == HeapUpload || h == HeapReadback }

// Dimension is the resource dimension.
type Dimension uint8

const (
	DimensionBuffer Dimension = iota
	DimensionTexture2D
)

// ResourceFlags are creation flags of a resource.
type ResourceFlags uint8

const (
	FlagAllowUnorderedAccess ResourceFlags = 1 << iota
	FlagAllowRenderTarget
	FlagAllowDepthStencil
)

// ResourceDesc describes a committed resource.
type ResourceDesc struct {
	Label     string
	Dimension Dimension
	Heap      HeapType

	// Size is the byte size of a buffer. Ignored for textures.
	Size uint64

	// Width, Height and Format describe a 2D texture.
	Width  uint32
	Height uint32
	Format gputypes.TextureFormat

	Flags        ResourceFlags
	InitialState ResourceState
}

// BytesPerPixel returns the texel size of the formats the core uses,
// or 0 for formats it does not handle.
func BytesPerPixel(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatDepth32Float:
		return 4
	case gputypes.TextureFormatR8Unorm:
		return 1
	}
	return 0
}

// DescriptorHeapType is the kind of descriptors a heap stores.
type DescriptorHeapType uint8

const (
	DescriptorHeapCBVSRVUAV DescriptorHeapType = iota
	DescriptorHeapSampler
	DescriptorHeapRTV
	DescriptorHeapDSV
)

func (t DescriptorHeapType) String() string {
	switch t {
	case DescriptorHeapCBVSRVUAV:
		return "CBV_SRV_UAV"
	case DescriptorHeapSampler:
		return "SAMPLER"
	case DescriptorHeapRTV:
		return "RTV"
	case DescriptorHeapDSV:
		return "DSV"
	}
	return "UNKNOWN"
}

// DescriptorHeapDesc describes a descriptor heap.
type DescriptorHeapDesc struct {
	Type          DescriptorHeapType
	Count         uint32
	ShaderVisible bool
}

// CPUHandle addresses a descriptor slot for CPU-side writes and copies.
type CPUHandle uint64

// Offset returns the handle advanced by n bytes.
func (h CPUHandle) Offset(n uint32) CPUHandle { return h + CPUHandle(n) }

// GPUHandle addresses a descriptor slot in a shader-visible heap.
type GPUHandle uint64

// Offset returns the handle advanced by n bytes.
func (h GPUHandle) Offset(n uint32) GPUHandle { return h + GPUHandle(n) }

// ViewKind is the type of a descriptor.
type ViewKind uint8

const (
	ViewCBV ViewKind = iota + 1
	ViewSRV
	ViewUAV
	ViewRTV
	ViewDSV
)

func (k ViewKind) String() string {
	switch k {
	case ViewCBV:
		return "CBV"
	case ViewSRV:
		return "SRV"
	case ViewUAV:
		return "UAV"
	case ViewRTV:
		return "RTV"
	case ViewDSV:
		return "DSV"
	}
	return "NONE"
}

// ViewDesc describes a descriptor written with Device.CreateView.
type ViewDesc struct {
	Kind     ViewKind
	Resource Resource

	// AccelerationStructure marks an SRV over a raytracing acceleration
	// structure. Location is the structure's GPU address.
	AccelerationStructure bool
	Location              uint64

	// Buffer views.
	FirstElement    uint32
	NumElements     uint32
	StructureStride uint32
	// SizeInBytes is the size of a constant buffer view.
	SizeInBytes uint32

	// Format of texture views.
	Format gputypes.TextureFormat
}

// Barrier is a resource state transition or a UAV barrier.
type Barrier struct {
	Resource Resource
	Before   ResourceState
	After    ResourceState

	// UAV marks a barrier that orders unordered-access writes without
	// changing state. Before and After are ignored.
	UAV bool
}

// Transition returns a transition barrier.
func Transition(r Resource, before, after ResourceState) Barrier {
	return Barrier{Resource: r, Before: before, After: after}
}

// UAVBarrier returns an unordered access barrier.
func UAVBarrier(r Resource) Barrier {
	return Barrier{Resource: r, UAV: true}
}

// Footprint is the layout of a 2D texture image placed inside a buffer.
type Footprint struct {
	Offset   uint64
	Width    uint32
	Height   uint32
	RowPitch uint32
	Format   gputypes.TextureFormat
}

// TextureCopyLocation is either a texture subresource or a placed
// footprint inside a buffer.
type TextureCopyLocation struct {
	Resource Resource

	// Footprint is set when Resource is a buffer.
	Footprint *Footprint
}

// Box is a sub-region of a texture, in texels. A zero Box selects the
// whole texture.
type Box struct {
	Left, Top, Right, Bottom uint32
}

// QueueType is the type of a command queue.
type QueueType uint8

const (
	QueueDirect QueueType = iota
	QueueCompute
	QueueCopy
)

// ListType is the type of a command recorder. It must match the queue
// the recorder is executed on.
type ListType = QueueType

// Limits reports device capabilities the core depends on.
type Limits struct {
	// Raytracing reports DXR tier 1.0 support.
	Raytracing bool

	// MaxDescriptorHeapSize is the largest shader-visible CBV/SRV/UAV heap.
	MaxDescriptorHeapSize uint32

	// MaxTextureDimension2D is the largest texture width or height.
	MaxTextureDimension2D uint32
}
