package halgpu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/rtcore/gpu"
	"github.com/gogpu/rtcore/render"
)

func openNoop(t *testing.T) *Device {
	t.Helper()
	dev, err := OpenNoop()
	if err != nil {
		t.Fatalf("OpenNoop: %v", err)
	}
	t.Cleanup(dev.Destroy)
	return dev
}

func TestNoopDeviceLimits(t *testing.T) {
	dev := openNoop(t)
	if dev.Name() == "" {
		t.Error("empty adapter name")
	}
	lim := dev.Limits()
	if lim.Raytracing {
		t.Error("HAL device reports raytracing")
	}
	if lim.MaxTextureDimension2D != gputypes.DefaultLimits().MaxTextureDimension2D {
		t.Errorf("MaxTextureDimension2D = %d", lim.MaxTextureDimension2D)
	}
	if _, err := dev.NewStateObject(gpu.StateObjectDesc{}); !errors.Is(err, gpu.ErrUnsupported) {
		t.Errorf("NewStateObject = %v, want ErrUnsupported", err)
	}
	if _, err := dev.ASPrebuildInfo(gpu.ASInputs{}); !errors.Is(err, gpu.ErrUnsupported) {
		t.Errorf("ASPrebuildInfo = %v, want ErrUnsupported", err)
	}
}

func TestDriversRegistered(t *testing.T) {
	drv, err := gpu.Lookup(NoopDriverName)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", NoopDriverName, err)
	}
	dev, err := drv.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := dev.(*Device); !ok {
		t.Errorf("driver opened %T", dev)
	}
	drv.Close()

	if _, err := gpu.Lookup(DriverName); err != nil {
		t.Errorf("Lookup(%q): %v", DriverName, err)
	}
}

func TestUploadBufferMap(t *testing.T) {
	dev := openNoop(t)
	res, err := dev.NewResource(gpu.ResourceDesc{
		Label:        "upload",
		Dimension:    gpu.DimensionBuffer,
		Heap:         gpu.HeapUpload,
		Size:         64,
		InitialState: gpu.StateGenericRead,
	})
	if err != nil {
		t.Fatalf("NewResource: %v", err)
	}
	defer res.Destroy()

	b, err := res.Map()
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(b) != 64 {
		t.Fatalf("mapped %d bytes, want 64", len(b))
	}
	copy(b, "hello")
	again, err := res.Map()
	if err != nil {
		t.Fatalf("second Map: %v", err)
	}
	if !bytes.HasPrefix(again, []byte("hello")) {
		t.Errorf("mapping lost data: %q", again[:5])
	}
	res.Unmap()
	if res.GPUAddress() == 0 {
		t.Error("buffer has no GPU address")
	}
}

func TestResourceValidation(t *testing.T) {
	dev := openNoop(t)
	tests := []struct {
		name string
		desc gpu.ResourceDesc
		want error
	}{
		{"zero buffer", gpu.ResourceDesc{Dimension: gpu.DimensionBuffer}, gpu.ErrInvalidArgument},
		{"upload state", gpu.ResourceDesc{Dimension: gpu.DimensionBuffer, Heap: gpu.HeapUpload, Size: 4}, gpu.ErrInvalidState},
		{"readback state", gpu.ResourceDesc{Dimension: gpu.DimensionBuffer, Heap: gpu.HeapReadback, Size: 4}, gpu.ErrInvalidState},
		{"upload texture", gpu.ResourceDesc{
			Dimension: gpu.DimensionTexture2D, Heap: gpu.HeapUpload, Width: 4, Height: 4,
			Format: gputypes.TextureFormatRGBA8Unorm, InitialState: gpu.StateGenericRead,
		}, gpu.ErrInvalidArgument},
		{"format", gpu.ResourceDesc{Dimension: gpu.DimensionTexture2D, Width: 4, Height: 4}, gpu.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dev.NewResource(tt.desc)
			if !errors.Is(err, tt.want) {
				t.Errorf("NewResource = %v, want %v", err, tt.want)
			}
		})
	}

	tex, err := dev.NewResource(gpu.ResourceDesc{
		Label: "tex", Dimension: gpu.DimensionTexture2D, Width: 4, Height: 4,
		Format: gputypes.TextureFormatRGBA8Unorm,
	})
	if err != nil {
		t.Fatalf("texture: %v", err)
	}
	defer tex.Destroy()
	if _, err := tex.Map(); !errors.Is(err, gpu.ErrNotMappable) {
		t.Errorf("texture Map = %v, want ErrNotMappable", err)
	}
}

func TestQueueFenceLifecycle(t *testing.T) {
	dev := openNoop(t)
	q, err := dev.NewQueue(gpu.QueueDirect)
	if err != nil {
		t.Fatal(err)
	}
	defer q.Destroy()
	f, err := dev.NewFence(0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Destroy()

	rec, err := dev.NewRecorder(gpu.QueueDirect)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Execute(rec); !errors.Is(err, gpu.ErrInvalidState) {
		t.Errorf("Execute of open recorder = %v, want ErrInvalidState", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := q.Execute(rec); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := q.Signal(f, 1); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if err := f.Wait(1); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if ok, err := f.Reached(1); err != nil || !ok {
		t.Errorf("Reached(1) = %v, %v", ok, err)
	}
	if ok, _ := f.Reached(2); ok {
		t.Error("Reached(2) before signal")
	}
	if err := f.Wait(2); !errors.Is(err, gpu.ErrInvalidState) {
		t.Errorf("Wait on unsignaled value = %v, want ErrInvalidState", err)
	}

	if err := rec.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close after Reset: %v", err)
	}
	if err := rec.Close(); !errors.Is(err, gpu.ErrInvalidArgument) {
		t.Errorf("double Close = %v, want ErrInvalidArgument", err)
	}
}

func TestRecorderRejectsRaytracing(t *testing.T) {
	dev := openNoop(t)
	rec, err := dev.NewRecorder(gpu.QueueDirect)
	if err != nil {
		t.Fatal(err)
	}
	rec.DispatchRays(gpu.DispatchRaysDesc{Width: 1, Height: 1, Depth: 1})
	if err := rec.Close(); !errors.Is(err, gpu.ErrUnsupported) {
		t.Errorf("Close = %v, want ErrUnsupported", err)
	}
}

func TestRecorderCopiesAndClears(t *testing.T) {
	dev := openNoop(t)
	buf := func(heap gpu.HeapType, state gpu.ResourceState) gpu.Resource {
		r, err := dev.NewResource(gpu.ResourceDesc{
			Dimension: gpu.DimensionBuffer, Heap: heap, Size: 4096, InitialState: state,
		})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(r.Destroy)
		return r
	}
	up := buf(gpu.HeapUpload, gpu.StateGenericRead)
	rb := buf(gpu.HeapReadback, gpu.StateCopyDest)
	tex, err := dev.NewResource(gpu.ResourceDesc{
		Label: "target", Dimension: gpu.DimensionTexture2D, Width: 8, Height: 8,
		Format: gputypes.TextureFormatRGBA8Unorm, Flags: gpu.FlagAllowRenderTarget,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer tex.Destroy()

	rtvHeap, err := dev.NewDescriptorHeap(gpu.DescriptorHeapDesc{Type: gpu.DescriptorHeapRTV, Count: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer rtvHeap.Destroy()
	if err := dev.CreateView(gpu.ViewDesc{Kind: gpu.ViewRTV, Resource: tex}, rtvHeap.CPUStart()); err != nil {
		t.Fatalf("CreateView: %v", err)
	}

	fp := &gpu.Footprint{Width: 8, Height: 8, RowPitch: 256, Format: gputypes.TextureFormatRGBA8Unorm}
	rec, err := dev.NewRecorder(gpu.QueueDirect)
	if err != nil {
		t.Fatal(err)
	}
	rec.ResourceBarrier(gpu.Transition(tex, gpu.StateCommon, gpu.StateRenderTarget))
	rec.ClearRenderTarget(rtvHeap.CPUStart(), [4]float32{1, 0, 0, 1})
	rec.ResourceBarrier(gpu.Transition(tex, gpu.StateRenderTarget, gpu.StateCopySource))
	rec.CopyTextureRegion(gpu.TextureCopyLocation{Resource: rb, Footprint: fp}, gpu.TextureCopyLocation{Resource: tex}, nil)
	rec.CopyBufferRegion(rb, 2048, up, 0, 256)
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	bad, err := dev.NewRecorder(gpu.QueueDirect)
	if err != nil {
		t.Fatal(err)
	}
	bad.CopyBufferRegion(rb, 4000, up, 0, 256)
	if err := bad.Close(); !errors.Is(err, gpu.ErrInvalidArgument) {
		t.Errorf("out of range copy Close = %v, want ErrInvalidArgument", err)
	}
}

func TestDescriptorViews(t *testing.T) {
	dev := openNoop(t)
	heap, err := dev.NewDescriptorHeap(gpu.DescriptorHeapDesc{Type: gpu.DescriptorHeapCBVSRVUAV, Count: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer heap.Destroy()
	if heap.GPUStart() != 0 {
		t.Error("CPU-only heap has a GPU handle")
	}
	if _, err := dev.NewDescriptorHeap(gpu.DescriptorHeapDesc{Type: gpu.DescriptorHeapRTV, Count: 1, ShaderVisible: true}); !errors.Is(err, gpu.ErrInvalidArgument) {
		t.Errorf("visible RTV heap = %v, want ErrInvalidArgument", err)
	}

	res, err := dev.NewResource(gpu.ResourceDesc{Dimension: gpu.DimensionBuffer, Size: 256})
	if err != nil {
		t.Fatal(err)
	}
	defer res.Destroy()

	inc := dev.DescriptorIncrement(gpu.DescriptorHeapCBVSRVUAV)
	if err := dev.CreateView(gpu.ViewDesc{Kind: gpu.ViewSRV, Resource: res, NumElements: 64, StructureStride: 4}, heap.CPUStart().Offset(inc)); err != nil {
		t.Fatalf("CreateView SRV: %v", err)
	}
	if err := dev.CreateView(gpu.ViewDesc{Kind: gpu.ViewUAV, Resource: res}, heap.CPUStart()); !errors.Is(err, gpu.ErrInvalidArgument) {
		t.Errorf("UAV without flag = %v, want ErrInvalidArgument", err)
	}
	if err := dev.CreateView(gpu.ViewDesc{Kind: gpu.ViewSRV, Resource: res}, heap.CPUStart().Offset(4*inc)); !errors.Is(err, gpu.ErrInvalidArgument) {
		t.Errorf("out of range handle = %v, want ErrInvalidArgument", err)
	}

	visible, err := dev.NewDescriptorHeap(gpu.DescriptorHeapDesc{Type: gpu.DescriptorHeapCBVSRVUAV, Count: 4, ShaderVisible: true})
	if err != nil {
		t.Fatal(err)
	}
	defer visible.Destroy()
	if err := dev.CopyDescriptors(visible.CPUStart(), heap.CPUStart(), 4, gpu.DescriptorHeapCBVSRVUAV); err != nil {
		t.Errorf("CopyDescriptors: %v", err)
	}
	if err := dev.CopyDescriptors(heap.CPUStart(), visible.CPUStart(), 1, gpu.DescriptorHeapCBVSRVUAV); !errors.Is(err, gpu.ErrInvalidArgument) {
		t.Errorf("copy from visible heap = %v, want ErrInvalidArgument", err)
	}
}

func TestRenderContextOnNoop(t *testing.T) {
	dev := openNoop(t)
	ctx, err := render.NewContext(dev, render.HeapConfig{ShaderVisible: 64, Staging: 64, RTV: 4, DSV: 4})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Close()

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	up, err := render.NewBufferWithData(ctx, "constants", render.BufferDesc{
		Usage: render.BufferUsageUpload, NumElements: 8, ElementSize: 1,
	}, data)
	if err != nil {
		t.Fatalf("upload buffer: %v", err)
	}
	defer up.Release()
	if !bytes.Equal(up.Mapped()[:8], data) {
		t.Errorf("mapped = %v, want %v", up.Mapped()[:8], data)
	}

	vb, err := render.NewBufferWithData(ctx, "vertices", render.BufferDesc{
		Usage: render.BufferUsageVertex | render.BufferUsageRead, NumElements: 2, ElementSize: 4,
	}, data)
	if err != nil {
		t.Fatalf("default buffer upload: %v", err)
	}
	vb.Release()
	if err := ctx.Queue.Flush(); err != nil {
		t.Errorf("Flush: %v", err)
	}
}

type stubProvider struct {
	gpucontext.DeviceProvider
	device, queue any
}

func (p stubProvider) HalDevice() any { return p.device }
func (p stubProvider) HalQueue() any  { return p.queue }

func TestFromProvider(t *testing.T) {
	if _, err := FromProvider(stubProvider{}); !errors.Is(err, gpu.ErrInvalidArgument) {
		t.Errorf("nil HAL objects = %v, want ErrInvalidArgument", err)
	}

	type plain struct{ gpucontext.DeviceProvider }
	if _, err := FromProvider(plain{}); !errors.Is(err, gpu.ErrUnsupported) {
		t.Errorf("non-HAL provider = %v, want ErrUnsupported", err)
	}

	host := openNoop(t)
	hd, hq := host.HAL()
	dev, err := FromProvider(stubProvider{device: hd, queue: hq})
	if err != nil {
		t.Fatalf("FromProvider: %v", err)
	}
	dev.Destroy()
	if _, err := host.NewQueue(gpu.QueueDirect); err != nil {
		t.Errorf("host device unusable after borrowed Destroy: %v", err)
	}
}
