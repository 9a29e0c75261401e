package render

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/chewxy/math32"
	"github.com/gogpu/rtcore/gpu"
	"github.com/gogpu/rtcore/internal/linear"
	"github.com/gogpu/rtcore/shader"
)

func TestShaderTableLayout(t *testing.T) {
	if ShaderRecordSize != 64 {
		t.Errorf("ShaderRecordSize = %d, want 64", ShaderRecordSize)
	}
	if ShaderTableSize != 192 {
		t.Errorf("ShaderTableSize = %d, want 192", ShaderTableSize)
	}
	if ShaderRecordSize%gpu.ShaderRecordAlignment != 0 {
		t.Error("records are not aligned")
	}

	used := make(map[uint32]bool)
	for _, r := range LocalRootSignatureDesc().Tables[0] {
		if r.OffsetInTable >= BindingTableSize || used[r.OffsetInTable] {
			t.Errorf("range %+v outside the binding table or overlapping", r)
		}
		used[r.OffsetInTable] = true
	}
}

func putFloats(b []byte, fs ...float32) {
	for i, f := range fs {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
}

// testScene is a red 2x2 quad at z=0 facing +z.
type testScene struct {
	vb, ib     *Buffer
	blas, tlas *AccelerationStructure
	color      *Texture
	view       *Buffer
}

func newTestScene(t *testing.T, ctx *Context, w, h float32) *testScene {
	t.Helper()
	const stride = 32
	verts := make([]byte, 4*stride)
	for i, p := range [][3]float32{{-1, -1, 0}, {1, -1, 0}, {1, 1, 0}, {-1, 1, 0}} {
		putFloats(verts[i*stride:], p[0], p[1], p[2], 0, 0, 0, 0, 1)
	}
	idx := make([]byte, 6*4)
	for i, v := range []uint32{0, 1, 2, 0, 2, 3} {
		binary.LittleEndian.PutUint32(idx[4*i:], v)
	}

	s := &testScene{}
	var err error
	if s.vb, err = NewBufferWithData(ctx, "vertices", BufferDesc{Usage: BufferUsageVertex | BufferUsageRead, NumElements: 4, ElementSize: stride}, verts); err != nil {
		t.Fatal(err)
	}
	if s.ib, err = NewBufferWithData(ctx, "indices", BufferDesc{Usage: BufferUsageIndex | BufferUsageRead, NumElements: 6, ElementSize: 4}, idx); err != nil {
		t.Fatal(err)
	}
	if s.blas, err = BuildBottomLevel(ctx, "blas", s.vb, s.ib); err != nil {
		t.Fatalf("BuildBottomLevel: %v", err)
	}
	if s.tlas, err = BuildTopLevel(ctx, "tlas", s.blas); err != nil {
		t.Fatalf("BuildTopLevel: %v", err)
	}
	if s.color, err = NewTexture(ctx, "base color", TextureDesc{Width: 1, Height: 1, Usage: TextureUsageRead}); err != nil {
		t.Fatal(err)
	}
	if err := s.color.SetData([]byte{255, 0, 0, 255}); err != nil {
		t.Fatal(err)
	}

	if s.view, err = NewBuffer(ctx, "view constants", BufferDesc{Usage: BufferUsageConstant, NumElements: 1, ElementSize: 152}); err != nil {
		t.Fatal(err)
	}
	var view, proj, vp, inv linear.M4
	eye := linear.V3{0, 0, 2}
	view.LookAt(eye, linear.V3{}, linear.V3{0, 1, 0})
	proj.Perspective(math32.Pi/2, w/h, 0.1, 100)
	vp.Mul(&proj, &view)
	inv.Invert(&vp)
	cb := s.view.Mapped()
	f := vp.Floats()
	putFloats(cb[0:], f[:]...)
	f = inv.Floats()
	putFloats(cb[64:], f[:]...)
	putFloats(cb[128:], eye[0], eye[1], eye[2], 1)
	putFloats(cb[144:], w, h)

	t.Cleanup(func() {
		s.view.Release()
		s.color.Release()
		s.tlas.Release()
		s.blas.Release()
		s.ib.Release()
		s.vb.Release()
	})
	return s
}

func (s *testScene) bind(t *testing.T, bt *BindingTable) {
	t.Helper()
	binds := []struct {
		slot BindingSlot
		r    interface {
			View(gpu.ViewKind) (gpu.CPUHandle, error)
		}
		kind gpu.ViewKind
	}{
		{SlotViewConstants, s.view, gpu.ViewCBV},
		{SlotScene, s.tlas, gpu.ViewSRV},
		{SlotVertices, s.vb, gpu.ViewSRV},
		{SlotIndices, s.ib, gpu.ViewSRV},
		{SlotBaseColor, s.color, gpu.ViewSRV},
	}
	for _, b := range binds {
		if err := bt.Bind(b.slot, b.r, b.kind); err != nil {
			t.Fatalf("bind slot %d: %v", b.slot, err)
		}
	}
}

func dispatch(ctx *Context, rp *RenderPass) error {
	out := rp.ColorAttachment()
	return submitAndWait(ctx, func(l *CommandList) error {
		if err := l.Barrier(out, gpu.StateCommon, gpu.StateUnorderedAccess); err != nil {
			return err
		}
		if err := l.SetDescriptorHeap(ctx.Shader); err != nil {
			return err
		}
		if err := l.SetPipelineState(rp.Pipeline()); err != nil {
			return err
		}
		if err := l.DispatchRays(rp.Pipeline().DispatchDesc(out.Width(), out.Height())); err != nil {
			return err
		}
		return l.Barrier(out, gpu.StateUnorderedAccess, gpu.StateCommon)
	})
}

func TestRenderPassDispatch(t *testing.T) {
	ctx, _ := newTestContext(t)
	const size = 8

	rp, err := NewRenderPass(ctx, RenderPassDesc{Width: size, Height: size})
	if err != nil {
		t.Fatalf("NewRenderPass: %v", err)
	}
	defer rp.Release()
	if rp.Bindings().Offset() != 0 {
		t.Errorf("binding table at heap offset %d, want 0", rp.Bindings().Offset())
	}
	if rp.Pipeline().DescriptorTable() != rp.Bindings().GPUHandle() {
		t.Error("shader records do not point at the binding table")
	}

	scene := newTestScene(t, ctx, size, size)
	scene.bind(t, rp.Bindings())
	if err := dispatch(ctx, rp); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	px, err := ReadTexture(ctx, rp.ColorAttachment())
	if err != nil {
		t.Fatal(err)
	}
	at := func(x, y int) []byte { return px[(y*size+x)*4:][:4] }
	for _, p := range [][2]int{{3, 3}, {4, 4}, {3, 4}} {
		if c := at(p[0], p[1]); c[0] < 100 || c[1] != 0 || c[2] != 0 || c[3] != 255 {
			t.Errorf("pixel %v = %v, want lit red", p, c)
		}
	}
	for _, p := range [][2]int{{0, 0}, {7, 0}, {0, 7}, {7, 7}} {
		if c := at(p[0], p[1]); c[2] != 255 || c[1] == 0 {
			t.Errorf("pixel %v = %v, want sky", p, c)
		}
	}
}

func TestRenderPassResize(t *testing.T) {
	ctx, _ := newTestContext(t)
	rp, err := NewRenderPass(ctx, RenderPassDesc{Width: 1280, Height: 720})
	if err != nil {
		t.Fatal(err)
	}
	defer rp.Release()
	scene := newTestScene(t, ctx, 1, 1)
	scene.bind(t, rp.Bindings())

	pipeline, color := rp.Pipeline(), rp.ColorAttachment().Native()
	if err := rp.Resize(1280, 720); err != nil {
		t.Fatal(err)
	}
	if rp.ColorAttachment().Native() != color {
		t.Error("same-size resize recreated the color attachment")
	}

	if err := rp.Resize(0, 0); err != nil {
		t.Fatal(err)
	}
	for _, tex := range []*Texture{rp.ColorAttachment(), rp.DepthAttachment()} {
		if tex.Width() != 1 || tex.Height() != 1 {
			t.Errorf("%s is %dx%d, want 1x1", tex.Name(), tex.Width(), tex.Height())
		}
	}
	if rp.Pipeline() != pipeline {
		t.Error("resize rebuilt the pipeline")
	}
	// The output slot follows the new texture.
	if err := dispatch(ctx, rp); err != nil {
		t.Fatalf("dispatch after resize: %v", err)
	}
	px, err := ReadTexture(ctx, rp.ColorAttachment())
	if err != nil {
		t.Fatal(err)
	}
	if px[0] < 100 || px[1] != 0 {
		t.Errorf("1x1 output %v, want the red quad", px)
	}
}

func TestRenderPassMissingShader(t *testing.T) {
	ctx, _ := newTestContext(t)
	_, err := NewRenderPass(ctx, RenderPassDesc{
		Width:    4,
		Height:   4,
		Compiler: shader.NewCompiler(t.TempDir()),
		RayGen:   shader.Desc{Path: "missing.hlsl", Target: shader.DefaultTarget},
	})
	if !errors.Is(err, shader.ErrNotFound) {
		t.Errorf("NewRenderPass with a missing shader = %v, want shader.ErrNotFound", err)
	}
	if ctx.Shader.Used() != 0 {
		t.Errorf("failed render pass left %d shader-visible descriptors", ctx.Shader.Used())
	}
}
