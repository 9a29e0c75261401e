package gpu

// Device is a logical GPU device. It is the factory for every other
// native object and outlives all of them.
//
// Device methods are safe for concurrent use.
type Device interface {
	// Name returns a human readable adapter name.
	Name() string

	// Limits returns the device capabilities.
	Limits() Limits

	// NewQueue creates a command queue.
	NewQueue(typ QueueType) (Queue, error)

	// NewFence creates a fence with the given initial value.
	NewFence(initial uint64) (Fence, error)

	// NewRecorder creates a command recorder in the open state.
	NewRecorder(typ ListType) (Recorder, error)

	// NewDescriptorHeap creates a descriptor heap.
	NewDescriptorHeap(desc DescriptorHeapDesc) (DescriptorHeap, error)

	// DescriptorIncrement returns the byte stride between descriptor
	// slots of the given heap type.
	DescriptorIncrement(typ DescriptorHeapType) uint32

	// NewResource creates a committed resource.
	NewResource(desc ResourceDesc) (Resource, error)

	// CreateView writes a descriptor into the slot at dst.
	CreateView(desc ViewDesc, dst CPUHandle) error

	// CopyDescriptors copies n descriptors of type typ from src to dst.
	// src must not be in a shader-visible heap.
	CopyDescriptors(dst, src CPUHandle, n uint32, typ DescriptorHeapType) error

	// ASPrebuildInfo returns the buffer sizes an acceleration structure
	// build with the given inputs requires.
	ASPrebuildInfo(inputs ASInputs) (ASPrebuildInfo, error)

	// NewRootSignature creates a root signature.
	NewRootSignature(desc RootSignatureDesc) (RootSignature, error)

	// NewStateObject creates a raytracing pipeline state object.
	NewStateObject(desc StateObjectDesc) (StateObject, error)

	// Destroy releases the device. Every object created from it must
	// have been destroyed first.
	Destroy()
}

// Queue executes recorders in submission order.
type Queue interface {
	// Execute submits closed recorders. Execution is asynchronous.
	Execute(recs ...Recorder) error

	// Signal enqueues a fence update to value. The fence reaches value
	// once every previously submitted recorder finished executing.
	Signal(f Fence, value uint64) error

	// Destroy releases the queue.
	Destroy()
}

// Fence is a monotonic counter updated by a queue.
type Fence interface {
	// Reached reports whether the fence value is at least v.
	// It never blocks.
	Reached(v uint64) (bool, error)

	// Wait blocks until the fence value is at least v.
	// It returns an error wrapping ErrDeviceRemoved if the device is lost
	// while waiting.
	Wait(v uint64) error

	// Destroy releases the fence.
	Destroy()
}

// Resource is a committed buffer or texture.
type Resource interface {
	// Desc returns the creation descriptor.
	Desc() ResourceDesc

	// GPUAddress returns the virtual address of a buffer, or 0 for textures.
	GPUAddress() uint64

	// Map returns CPU-visible memory of an upload or readback buffer.
	// The slice stays valid until Unmap.
	Map() ([]byte, error)

	// Unmap invalidates the slice returned by Map.
	Unmap()

	// Destroy releases the resource.
	Destroy()
}

// DescriptorHeap is a contiguous array of descriptor slots.
type DescriptorHeap interface {
	Desc() DescriptorHeapDesc

	// CPUStart returns the handle of the first slot.
	CPUStart() CPUHandle

	// GPUStart returns the shader-visible handle of the first slot, or 0
	// for heaps that are not shader visible.
	GPUStart() GPUHandle

	Destroy()
}

// Recorder records commands for one queue.
//
// Recording methods do not return errors. Invalid commands are reported
// by Close, matching how the native API defers validation.
//
// A Recorder is not safe for concurrent use.
type Recorder interface {
	// Close ends recording. It returns the first recording error.
	Close() error

	// Reset discards the recorded commands and reopens the recorder.
	// The caller must ensure the GPU finished executing them.
	Reset() error

	ResourceBarrier(barriers ...Barrier)

	CopyBufferRegion(dst Resource, dstOffset uint64, src Resource, srcOffset, size uint64)
	CopyResource(dst, src Resource)
	CopyTextureRegion(dst, src TextureCopyLocation, srcBox *Box)

	ClearRenderTarget(rtv CPUHandle, rgba [4]float32)
	ClearDepthStencil(dsv CPUHandle, depth float32)

	BuildAS(desc ASBuildDesc)

	SetDescriptorHeaps(heaps ...DescriptorHeap)
	SetComputeRootSignature(rs RootSignature)
	SetStateObject(so StateObject)
	DispatchRays(desc DispatchRaysDesc)
}
