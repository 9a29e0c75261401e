package soft

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/chewxy/math32"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/rtcore/gpu"
	"github.com/gogpu/rtcore/internal/linear"
)

const hitGroupName = "HitGroupTriangle_Default"

func putFloats(b []byte, fs ...float32) {
	for i, f := range fs {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
}

// quadScene uploads a 2x2 quad at z=0 facing +z and builds its
// acceleration structures.
func quadScene(t *testing.T, td *testDevice) (tlas, vb, ib gpu.Resource) {
	t.Helper()
	verts := make([]byte, 4*vertexStride)
	pos := [][3]float32{{-1, -1, 0}, {1, -1, 0}, {1, 1, 0}, {-1, 1, 0}}
	for i, p := range pos {
		putFloats(verts[i*vertexStride:], p[0], p[1], p[2], 0, 0, 0, 0, 1)
	}
	idx := make([]byte, 6*4)
	for i, v := range []uint32{0, 1, 2, 0, 2, 3} {
		binary.LittleEndian.PutUint32(idx[4*i:], v)
	}
	vb = td.upload("vertices", verts)
	ib = td.upload("indices", idx)

	blasIn := gpu.ASInputs{
		Type:  gpu.ASBottomLevel,
		Flags: gpu.ASBuildPreferFastTrace,
		Geometries: []gpu.GeometryTriangles{{
			Flags:        gpu.GeometryOpaque,
			VertexBuffer: vb.GPUAddress(),
			VertexStride: vertexStride,
			VertexCount:  4,
			VertexFormat: gpu.VertexFormatFloat32x3,
			IndexBuffer:  ib.GPUAddress(),
			IndexCount:   6,
			IndexFormat:  gpu.IndexFormatUint32,
		}},
	}
	info, err := td.dev.ASPrebuildInfo(blasIn)
	if err != nil {
		t.Fatalf("ASPrebuildInfo: %v", err)
	}
	blas := td.buffer("blas", gpu.HeapDefault, info.ResultDataMaxSize, gpu.FlagAllowUnorderedAccess, gpu.StateRaytracingAS)
	scratch := td.buffer("scratch", gpu.HeapDefault, info.ScratchDataSize, gpu.FlagAllowUnorderedAccess, gpu.StateCommon)

	inst := gpu.InstanceDesc{
		Transform:             gpu.IdentityTransform,
		Mask:                  0xFF,
		Flags:                 gpu.InstanceFrontCounterClockwise,
		AccelerationStructure: blas.GPUAddress(),
	}
	instBuf := make([]byte, gpu.InstanceDescSize)
	inst.Encode(instBuf)
	instances := td.upload("instances", instBuf)

	tlasIn := gpu.ASInputs{Type: gpu.ASTopLevel, Instances: instances.GPUAddress(), InstanceCount: 1}
	tinfo, err := td.dev.ASPrebuildInfo(tlasIn)
	if err != nil {
		t.Fatalf("ASPrebuildInfo: %v", err)
	}
	tlas = td.buffer("tlas", gpu.HeapDefault, tinfo.ResultDataMaxSize, gpu.FlagAllowUnorderedAccess, gpu.StateRaytracingAS)
	tscratch := td.buffer("tlas scratch", gpu.HeapDefault, tinfo.ScratchDataSize, gpu.FlagAllowUnorderedAccess, gpu.StateCommon)

	td.mustRun(func(rec gpu.Recorder) {
		rec.BuildAS(gpu.ASBuildDesc{Inputs: blasIn, Dest: blas.GPUAddress(), Scratch: scratch.GPUAddress()})
		rec.ResourceBarrier(gpu.UAVBarrier(blas))
		rec.BuildAS(gpu.ASBuildDesc{Inputs: tlasIn, Dest: tlas.GPUAddress(), Scratch: tscratch.GPUAddress()})
		rec.ResourceBarrier(gpu.UAVBarrier(tlas))
	})
	return tlas, vb, ib
}

func viewConstants(w, h float32) []byte {
	var view, proj, vp, inv linear.M4
	eye := linear.V3{0, 0, 2}
	view.LookAt(eye, linear.V3{}, linear.V3{0, 1, 0})
	proj.Perspective(math32.Pi/2, w/h, 0.1, 100)
	vp.Mul(&proj, &view)
	inv.Invert(&vp)

	cb := make([]byte, gpu.ConstantBufferAlignment)
	f := vp.Floats()
	putFloats(cb[viewProjectionOffset:], f[:]...)
	f = inv.Floats()
	putFloats(cb[invViewProjectionOffset:], f[:]...)
	putFloats(cb[originOffset:], eye[0], eye[1], eye[2], 1)
	putFloats(cb[resolutionOffset:], w, h)
	return cb
}

func TestDispatchRays(t *testing.T) {
	td := newTestDevice(t)
	const size = 8

	tlas, vb, ib := quadScene(t, td)

	red := make([]byte, gpu.TexturePitchAlignment)
	copy(red, []byte{255, 0, 0, 255})
	redUp := td.upload("red staging", red)
	color := td.texture("base color", 1, 1, 0, gpu.StateCommon)
	out := td.texture("output", size, size, gpu.FlagAllowUnorderedAccess, gpu.StateUnorderedAccess)
	cb := td.upload("view", viewConstants(size, size))

	td.mustRun(func(rec gpu.Recorder) {
		rec.ResourceBarrier(gpu.Transition(color, gpu.StateCommon, gpu.StateCopyDest))
		rec.CopyTextureRegion(gpu.TextureCopyLocation{Resource: color}, gpu.TextureCopyLocation{Resource: redUp,
			Footprint: &gpu.Footprint{Width: 1, Height: 1, RowPitch: gpu.TexturePitchAlignment, Format: gputypes.TextureFormatRGBA8Unorm}}, nil)
		rec.ResourceBarrier(gpu.Transition(color, gpu.StateCopyDest, gpu.StateCommon))
	})

	heap, err := td.dev.NewDescriptorHeap(gpu.DescriptorHeapDesc{Type: gpu.DescriptorHeapCBVSRVUAV, Count: 12, ShaderVisible: true})
	if err != nil {
		t.Fatal(err)
	}
	inc := td.dev.DescriptorIncrement(gpu.DescriptorHeapCBVSRVUAV)
	views := []struct {
		off  uint32
		desc gpu.ViewDesc
	}{
		{1, gpu.ViewDesc{Kind: gpu.ViewCBV, Resource: cb, SizeInBytes: gpu.ConstantBufferAlignment}},
		{3, gpu.ViewDesc{Kind: gpu.ViewUAV, Resource: out, Format: gputypes.TextureFormatRGBA8Unorm}},
		{4, gpu.ViewDesc{Kind: gpu.ViewSRV, Resource: color, Format: gputypes.TextureFormatRGBA8Unorm}},
		{5, gpu.ViewDesc{Kind: gpu.ViewSRV, Resource: vb, NumElements: 4, StructureStride: vertexStride}},
		{6, gpu.ViewDesc{Kind: gpu.ViewSRV, Resource: ib, NumElements: 6, StructureStride: 4}},
		{11, gpu.ViewDesc{Kind: gpu.ViewSRV, AccelerationStructure: true, Location: tlas.GPUAddress()}},
	}
	for _, v := range views {
		if err := td.dev.CreateView(v.desc, heap.CPUStart().Offset(v.off*inc)); err != nil {
			t.Fatalf("CreateView at %d: %v", v.off, err)
		}
	}

	local, err := td.dev.NewRootSignature(gpu.RootSignatureDesc{Local: true, Tables: [][]gpu.DescriptorRange{{
		{Type: gpu.RangeCBV, Count: 1, Register: 0, Space: 0, OffsetInTable: 1},
		{Type: gpu.RangeUAV, Count: 1, Register: 0, Space: 0, OffsetInTable: 3},
		{Type: gpu.RangeSRV, Count: 1, Register: 0, Space: 0, OffsetInTable: 11},
		{Type: gpu.RangeSRV, Count: 1, Register: 0, Space: 1, OffsetInTable: 5},
		{Type: gpu.RangeSRV, Count: 1, Register: 0, Space: 2, OffsetInTable: 6},
		{Type: gpu.RangeSRV, Count: 1, Register: 0, Space: 3, OffsetInTable: 4},
	}}})
	if err != nil {
		t.Fatalf("NewRootSignature: %v", err)
	}
	global, err := td.dev.NewRootSignature(gpu.RootSignatureDesc{})
	if err != nil {
		t.Fatal(err)
	}
	so, err := td.dev.NewStateObject(gpu.StateObjectDesc{
		Libraries: []gpu.ShaderLibrary{
			{Exports: []gpu.ShaderExport{{Name: rayGenProgram, EntryPoint: "main"}}},
			{Exports: []gpu.ShaderExport{{Name: missProgram, EntryPoint: "main"}}},
			{Exports: []gpu.ShaderExport{{Name: closestHitProgram, EntryPoint: "main"}}},
		},
		HitGroups:           []gpu.HitGroupDesc{{Name: hitGroupName, ClosestHit: closestHitProgram}},
		MaxPayloadSize:      16,
		MaxAttributeSize:    8,
		MaxRecursionDepth:   1,
		GlobalRootSignature: global,
		LocalRootSignature:  local,
		LocalAssociations:   []string{rayGenProgram, missProgram, hitGroupName},
	})
	if err != nil {
		t.Fatalf("NewStateObject: %v", err)
	}

	const stride = 64
	table := make([]byte, 3*stride)
	for i, name := range []string{rayGenProgram, missProgram, hitGroupName} {
		rec := table[i*stride:]
		copy(rec, so.ShaderIdentifier(name))
		binary.LittleEndian.PutUint64(rec[gpu.ShaderIdentifierSize:], uint64(heap.GPUStart()))
	}
	tb := td.upload("shader table", table)
	va := tb.GPUAddress()

	pitch := uint32(gpu.TexturePitchAlignment)
	rb := td.buffer("rb", gpu.HeapReadback, uint64(pitch)*size, 0, gpu.StateCopyDest)
	td.mustRun(func(rec gpu.Recorder) {
		rec.SetDescriptorHeaps(heap)
		rec.SetComputeRootSignature(global)
		rec.SetStateObject(so)
		rec.DispatchRays(gpu.DispatchRaysDesc{
			RayGeneration: gpu.ShaderRecordRange{Address: va, Size: stride},
			Miss:          gpu.ShaderTableRange{Address: va + stride, Size: stride, Stride: stride},
			HitGroup:      gpu.ShaderTableRange{Address: va + 2*stride, Size: stride, Stride: stride},
			Width:         size, Height: size, Depth: 1,
		})
		rec.ResourceBarrier(gpu.Transition(out, gpu.StateUnorderedAccess, gpu.StateCopySource))
		rec.CopyTextureRegion(gpu.TextureCopyLocation{Resource: rb, Footprint: &gpu.Footprint{
			Width: size, Height: size, RowPitch: pitch, Format: gputypes.TextureFormatRGBA8Unorm,
		}}, gpu.TextureCopyLocation{Resource: out}, nil)
	})

	px, _ := rb.Map()
	defer rb.Unmap()
	at := func(x, y int) []byte { return px[y*int(pitch)+x*4:][:4] }

	for _, p := range [][2]int{{3, 3}, {4, 4}, {3, 4}} {
		c := at(p[0], p[1])
		if c[0] < 100 || c[1] != 0 || c[2] != 0 || c[3] != 255 {
			t.Errorf("pixel %v = %v, want lit red", p, c)
		}
	}
	for _, p := range [][2]int{{0, 0}, {7, 0}, {0, 7}, {7, 7}} {
		c := at(p[0], p[1])
		if c[2] != 255 || c[1] == 0 {
			t.Errorf("pixel %v = %v, want sky", p, c)
		}
	}
}

func TestDispatchWithoutPipelineRemovesDevice(t *testing.T) {
	td := newTestDevice(t)
	err := td.run(func(rec gpu.Recorder) {
		rec.DispatchRays(gpu.DispatchRaysDesc{Width: 1, Height: 1, Depth: 1})
	})
	if !errors.Is(err, gpu.ErrDeviceRemoved) {
		t.Errorf("dispatch without pipeline = %v, want ErrDeviceRemoved", err)
	}
}

func TestStateObjectValidation(t *testing.T) {
	dev := NewDevice(Config{})
	defer dev.Destroy()

	if _, err := dev.NewStateObject(gpu.StateObjectDesc{Libraries: exportLib("a")}); !errors.Is(err, gpu.ErrInvalidArgument) {
		t.Errorf("recursion depth 0 = %v, want ErrInvalidArgument", err)
	}
	_, err := dev.NewStateObject(gpu.StateObjectDesc{
		Libraries:         exportLib("a"),
		HitGroups:         []gpu.HitGroupDesc{{Name: "hg", ClosestHit: "missing"}},
		MaxRecursionDepth: 1,
	})
	if !errors.Is(err, gpu.ErrInvalidArgument) {
		t.Errorf("unknown closest hit = %v, want ErrInvalidArgument", err)
	}

	so, err := dev.NewStateObject(gpu.StateObjectDesc{Libraries: exportLib("a", "b"), MaxRecursionDepth: 1})
	if err != nil {
		t.Fatal(err)
	}
	a, b := so.ShaderIdentifier("a"), so.ShaderIdentifier("b")
	if len(a) != gpu.ShaderIdentifierSize || string(a) == string(b) {
		t.Errorf("identifiers a=%x b=%x", a, b)
	}
	if so.ShaderIdentifier("c") != nil {
		t.Error("identifier for unknown export")
	}
}

func exportLib(names ...string) []gpu.ShaderLibrary {
	lib := gpu.ShaderLibrary{Bytecode: []byte("lib")}
	for _, n := range names {
		lib.Exports = append(lib.Exports, gpu.ShaderExport{Name: n, EntryPoint: n})
	}
	return []gpu.ShaderLibrary{lib}
}

func TestRootSignatureOverlap(t *testing.T) {
	dev := NewDevice(Config{})
	defer dev.Destroy()
	_, err := dev.NewRootSignature(gpu.RootSignatureDesc{Local: true, Tables: [][]gpu.DescriptorRange{{
		{Type: gpu.RangeSRV, Count: 2, OffsetInTable: 0},
		{Type: gpu.RangeUAV, Count: 1, OffsetInTable: 1},
	}}})
	if !errors.Is(err, gpu.ErrInvalidArgument) {
		t.Errorf("overlapping ranges = %v, want ErrInvalidArgument", err)
	}
}
