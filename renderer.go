// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rtcore

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rtcore/gpu"
	"github.com/gogpu/rtcore/gpu/halgpu"
	"github.com/gogpu/rtcore/loader"
	"github.com/gogpu/rtcore/render"
	"github.com/gogpu/rtcore/shader"
)

// Renderer traces a Scene into an RGBA8 color attachment.
//
// One frame is in flight at a time: Render waits for the previous frame
// before it rewrites the view constants.
//
// A Renderer is not safe for concurrent use.
type Renderer struct {
	native    gpu.Device
	ownDevice bool

	ctx   *render.Context
	pass  *render.RenderPass
	view  *render.Buffer
	scene *sceneResources

	lastFrame uint64
	vsync     bool
	closed    bool
}

// sceneResources are the GPU objects of a loaded Scene.
type sceneResources struct {
	vertices  *render.Buffer
	indices   *render.Buffer
	baseColor *render.Texture
	blas      *render.AccelerationStructure
	tlas      *render.AccelerationStructure
	triangles int
}

func (s *sceneResources) release() {
	if s == nil {
		return
	}
	if s.tlas != nil {
		s.tlas.Release()
	}
	if s.blas != nil {
		s.blas.Release()
	}
	if s.baseColor != nil {
		s.baseColor.Release()
	}
	if s.indices != nil {
		s.indices.Release()
	}
	if s.vertices != nil {
		s.vertices.Release()
	}
}

// New opens a device and creates the render context, the raytracing
// pipeline with its binding table, the attachments and the view
// constant buffer.
//
// The device must support raytracing; otherwise New returns an error
// wrapping gpu.ErrUnsupported.
func New(opts ...Option) (_ *Renderer, err error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}

	r := &Renderer{vsync: o.vsync}
	switch {
	case o.device != nil:
		r.native = o.device
	case o.provider != nil:
		dev, perr := halgpu.FromProvider(o.provider)
		if perr != nil {
			return nil, fmt.Errorf("rtcore: host device: %w", perr)
		}
		r.native, r.ownDevice = dev, true
	default:
		dev, oerr := gpu.Open(o.driver)
		if oerr != nil {
			return nil, fmt.Errorf("rtcore: %w", oerr)
		}
		r.native, r.ownDevice = dev, true
	}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()

	if !r.native.Limits().Raytracing {
		return nil, fmt.Errorf("rtcore: device %q: raytracing: %w", r.native.Name(), gpu.ErrUnsupported)
	}
	if r.ctx, err = render.NewContext(r.native, o.heaps); err != nil {
		return nil, fmt.Errorf("rtcore: %w", err)
	}
	r.pass, err = render.NewRenderPass(r.ctx, render.RenderPassDesc{
		Name:     "main",
		Width:    o.width,
		Height:   o.height,
		Compiler: shader.NewCompiler(o.shaderDir),
	})
	if err != nil {
		return nil, fmt.Errorf("rtcore: %w", err)
	}
	r.view, err = render.NewBuffer(r.ctx, "view constants", render.BufferDesc{
		Usage:       render.BufferUsageConstant,
		NumElements: 1,
		ElementSize: viewConstantsSize,
	})
	if err != nil {
		return nil, fmt.Errorf("rtcore: %w", err)
	}
	if err = r.pass.Bindings().Bind(render.SlotViewConstants, r.view, gpu.ViewCBV); err != nil {
		return nil, fmt.Errorf("rtcore: %w", err)
	}

	w, h := r.Size()
	Logger().Info("rtcore: renderer created", "device", r.native.Name(), "width", w, "height", h)
	return r, nil
}

// LoadScene uploads the mesh and base color of s, builds the bottom- and
// top-level acceleration structures and binds them to the pipeline.
// A previously loaded scene is released.
func (r *Renderer) LoadScene(s Scene) (err error) {
	if r.closed {
		return ErrClosed
	}
	if s.Mesh == nil {
		return fmt.Errorf("%w: scene has no mesh", loader.ErrInvalidMesh)
	}
	if err := s.Mesh.Validate(); err != nil {
		return err
	}
	base := s.BaseColor
	if base == nil || base.Rect.Empty() {
		Logger().Warn("rtcore: scene has no base color, using white")
		base = loader.White()
	}

	ctx := r.ctx
	res := &sceneResources{triangles: len(s.Mesh.Indices) / 3}
	defer func() {
		if err != nil {
			res.release()
		}
	}()

	res.vertices, err = render.NewBufferWithData(ctx, "scene vertices", render.BufferDesc{
		Usage:       render.BufferUsageVertex | render.BufferUsageRead,
		NumElements: uint32(len(s.Mesh.Vertices)),
		ElementSize: loader.VertexSize,
	}, s.Mesh.VertexBytes())
	if err != nil {
		return fmt.Errorf("rtcore: upload vertices: %w", err)
	}
	res.indices, err = render.NewBufferWithData(ctx, "scene indices", render.BufferDesc{
		Usage:       render.BufferUsageIndex | render.BufferUsageRead,
		NumElements: uint32(len(s.Mesh.Indices)),
		ElementSize: loader.IndexSize,
	}, s.Mesh.IndexBytes())
	if err != nil {
		return fmt.Errorf("rtcore: upload indices: %w", err)
	}
	res.baseColor, err = render.NewTexture(ctx, "scene base color", render.TextureDesc{
		Width:  uint32(base.Rect.Dx()),
		Height: uint32(base.Rect.Dy()),
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  render.TextureUsageRead,
	})
	if err != nil {
		return fmt.Errorf("rtcore: base color: %w", err)
	}
	if err = res.baseColor.SetData(loader.Texels(base)); err != nil {
		return fmt.Errorf("rtcore: upload base color: %w", err)
	}
	if res.blas, err = render.BuildBottomLevel(ctx, "scene blas", res.vertices, res.indices); err != nil {
		return fmt.Errorf("rtcore: %w", err)
	}
	if res.tlas, err = render.BuildTopLevel(ctx, "scene tlas", res.blas); err != nil {
		return fmt.Errorf("rtcore: %w", err)
	}

	// The binding table is about to be rewritten; no frame may still
	// read the old descriptors.
	if err = ctx.Queue.Flush(); err != nil {
		return err
	}
	old := r.scene
	r.scene = nil
	old.release()

	binds := []struct {
		slot render.BindingSlot
		res  interface {
			View(gpu.ViewKind) (gpu.CPUHandle, error)
		}
		kind gpu.ViewKind
	}{
		{render.SlotScene, res.tlas, gpu.ViewSRV},
		{render.SlotVertices, res.vertices, gpu.ViewSRV},
		{render.SlotIndices, res.indices, gpu.ViewSRV},
		{render.SlotBaseColor, res.baseColor, gpu.ViewSRV},
	}
	for _, b := range binds {
		if err = r.pass.Bindings().Bind(b.slot, b.res, b.kind); err != nil {
			return fmt.Errorf("rtcore: bind slot %d: %w", b.slot, err)
		}
	}
	r.scene = res
	Logger().Info("rtcore: scene loaded", "vertices", len(s.Mesh.Vertices), "triangles", res.triangles,
		"texture", fmt.Sprintf("%dx%d", base.Rect.Dx(), base.Rect.Dy()))
	return nil
}

// Render writes the constants of v and submits one ray dispatch over the
// color attachment. It returns the fence value that marks the frame
// complete.
func (r *Renderer) Render(v View) (uint64, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if r.scene == nil {
		return 0, ErrNoScene
	}
	q := r.ctx.Queue
	// The view constants are shared by all frames.
	if err := q.WaitForFenceValue(r.lastFrame); err != nil {
		return 0, err
	}
	out := r.pass.ColorAttachment()
	if err := v.encode(r.view.Mapped(), out.Width(), out.Height()); err != nil {
		return 0, err
	}

	list, err := q.GetCommandList()
	if err != nil {
		return 0, err
	}
	if err := r.record(list, out); err != nil {
		q.Discard(list)
		return 0, fmt.Errorf("rtcore: record frame: %w", err)
	}
	fence, err := q.ExecuteCommandList(list)
	if err != nil {
		return 0, fmt.Errorf("rtcore: submit frame: %w", err)
	}
	r.lastFrame = fence
	Logger().Debug("rtcore: frame submitted", "fence", fence, "width", out.Width(), "height", out.Height())
	return fence, nil
}

// record transitions the color attachment for unordered access, binds
// the shader-visible heap and the pipeline, dispatches one ray per
// pixel and returns the attachment to its resting state.
func (r *Renderer) record(l *render.CommandList, out *render.Texture) error {
	if err := l.Barrier(out, gpu.StateCommon, gpu.StateUnorderedAccess); err != nil {
		return err
	}
	if err := l.SetDescriptorHeap(r.ctx.Shader); err != nil {
		return err
	}
	if err := l.SetPipelineState(r.pass.Pipeline()); err != nil {
		return err
	}
	if err := l.DispatchRays(r.pass.Pipeline().DispatchDesc(out.Width(), out.Height())); err != nil {
		return err
	}
	return l.Barrier(out, gpu.StateUnorderedAccess, gpu.StateCommon)
}

// Readback waits for the last frame and copies the color attachment
// into a Frame.
func (r *Renderer) Readback() (*Frame, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if err := r.ctx.Queue.WaitForFenceValue(r.lastFrame); err != nil {
		return nil, err
	}
	out := r.pass.ColorAttachment()
	px, err := render.ReadTexture(r.ctx, out)
	if err != nil {
		return nil, fmt.Errorf("rtcore: %w", err)
	}
	return newFrame(int(out.Width()), int(out.Height()), px), nil
}

// Resize changes the frame size. Sizes are clamped to at least 1;
// resizing to the current size does nothing.
func (r *Renderer) Resize(width, height uint32) error {
	if r.closed {
		return ErrClosed
	}
	if err := r.pass.Resize(width, height); err != nil {
		return fmt.Errorf("rtcore: resize: %w", err)
	}
	return nil
}

// Flush waits until the GPU finished all submitted work.
func (r *Renderer) Flush() error {
	if r.closed {
		return ErrClosed
	}
	return r.ctx.Queue.Flush()
}

// Size returns the current frame size.
func (r *Renderer) Size() (width, height uint32) {
	if r.pass == nil {
		return 0, 0
	}
	out := r.pass.ColorAttachment()
	return out.Width(), out.Height()
}

// LastFrame returns the fence value of the most recent Render.
func (r *Renderer) LastFrame() uint64 { return r.lastFrame }

// DeviceName returns the adapter name of the device.
func (r *Renderer) DeviceName() string { return r.native.Name() }

// Context returns the render context, for hosts that record their own
// work on the renderer's queue.
func (r *Renderer) Context() *render.Context { return r.ctx }

// VSync reports the vertical sync preference.
func (r *Renderer) VSync() bool { return r.vsync }

// SetVSync records the vertical sync preference for hosts that present.
func (r *Renderer) SetVSync(on bool) { r.vsync = on }

// Close waits for the GPU, releases every resource and destroys the
// device if the renderer opened it. Closing twice does nothing.
func (r *Renderer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	r.scene.release()
	r.scene = nil
	if r.view != nil {
		r.view.Release()
		r.view = nil
	}
	if r.pass != nil {
		r.pass.Release()
		r.pass = nil
	}
	var errs []error
	if r.ctx != nil {
		errs = append(errs, r.ctx.Close())
		r.ctx = nil
	}
	if r.ownDevice && r.native != nil {
		r.native.Destroy()
	}
	Logger().Debug("rtcore: renderer closed")
	return errors.Join(errs...)
}
