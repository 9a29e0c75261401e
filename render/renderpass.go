package render

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rtcore/gpu"
	"github.com/gogpu/rtcore/shader"
)

// RenderPassDesc describes a RenderPass. Zero shader descriptors select
// the embedded default libraries.
type RenderPassDesc struct {
	Name          string
	Width, Height uint32

	// Compiler loads the shader stages. Nil serves the embedded
	// libraries only.
	Compiler *shader.Compiler

	RayGen     shader.Desc
	Miss       shader.Desc
	ClosestHit shader.Desc
}

// RenderPass owns the raytracing pipeline, the binding table its records
// point at, and the color and depth attachments. Attachments can be
// resized without rebuilding the pipeline.
type RenderPass struct {
	ctx      *Context
	name     string
	bindings *BindingTable
	pipeline *PipelineState
	color    *Texture
	depth    *Texture
}

// NewRenderPass loads the shaders, builds the pipeline and creates the
// attachments. The binding table is allocated first so that it sits at
// the start of a fresh shader-visible heap.
func NewRenderPass(ctx *Context, desc RenderPassDesc) (_ *RenderPass, err error) {
	if desc.Name == "" {
		desc.Name = "main"
	}
	if desc.Compiler == nil {
		desc.Compiler = shader.NewCompiler("")
	}
	stages := []struct {
		desc *shader.Desc
		def  shader.Desc
	}{
		{&desc.RayGen, shader.RayGen},
		{&desc.Miss, shader.Miss},
		{&desc.ClosestHit, shader.ClosestHit},
	}
	var code [3][]byte
	for i, s := range stages {
		if s.desc.Path == "" {
			*s.desc = s.def
		}
		if code[i], err = desc.Compiler.Load(*s.desc); err != nil {
			return nil, fmt.Errorf("render pass %q: %w", desc.Name, err)
		}
	}

	rp := &RenderPass{ctx: ctx, name: desc.Name}
	defer func() {
		if err != nil {
			rp.Release()
		}
	}()
	if rp.bindings, err = NewBindingTable(ctx); err != nil {
		return nil, err
	}
	rp.pipeline, err = NewPipelineState(ctx, PipelineDesc{
		RayGen:     ShaderStage{Bytecode: code[0], EntryPoint: desc.RayGen.EntryPoint},
		Miss:       ShaderStage{Bytecode: code[1], EntryPoint: desc.Miss.EntryPoint},
		ClosestHit: ShaderStage{Bytecode: code[2], EntryPoint: desc.ClosestHit.EntryPoint},
	}, rp.bindings.GPUHandle())
	if err != nil {
		return nil, err
	}
	rp.color, err = NewTexture(ctx, desc.Name+" color attachment", TextureDesc{
		Width:  max(desc.Width, 1),
		Height: max(desc.Height, 1),
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  TextureUsageRead | TextureUsageWrite,
	})
	if err != nil {
		return nil, err
	}
	rp.depth, err = NewTexture(ctx, desc.Name+" depth stencil attachment", TextureDesc{
		Width:  max(desc.Width, 1),
		Height: max(desc.Height, 1),
		Format: gputypes.TextureFormatDepth32Float,
		Usage:  TextureUsageDepth,
	})
	if err != nil {
		return nil, err
	}
	if err = rp.bindings.Bind(SlotOutput, rp.color, gpu.ViewUAV); err != nil {
		return nil, err
	}
	return rp, nil
}

// Resize resizes both attachments. Sizes are clamped to at least 1 and
// resizing to the current size does nothing. Otherwise the queue is
// flushed, the attachments are recreated with their views in the same
// slots, and the output binding is refreshed; the pipeline and its shader
// table are kept.
func (rp *RenderPass) Resize(width, height uint32) error {
	width, height = max(width, 1), max(height, 1)
	if width == rp.color.Width() && height == rp.color.Height() {
		return nil
	}
	if err := rp.ctx.Queue.Flush(); err != nil {
		return err
	}
	if err := rp.color.Resize(width, height); err != nil {
		return err
	}
	if err := rp.depth.Resize(width, height); err != nil {
		return err
	}
	if err := rp.bindings.Bind(SlotOutput, rp.color, gpu.ViewUAV); err != nil {
		return err
	}
	slogger().Debug("render: render pass resized", "name", rp.name, "width", width, "height", height)
	return nil
}

// Pipeline returns the raytracing pipeline.
func (rp *RenderPass) Pipeline() *PipelineState { return rp.pipeline }

// Bindings returns the descriptor table of the pipeline.
func (rp *RenderPass) Bindings() *BindingTable { return rp.bindings }

// ColorAttachment returns the RGBA8 output texture.
func (rp *RenderPass) ColorAttachment() *Texture { return rp.color }

// DepthAttachment returns the D32 depth texture.
func (rp *RenderPass) DepthAttachment() *Texture { return rp.depth }

// Release destroys the pipeline, the attachments and the binding table.
func (rp *RenderPass) Release() {
	if rp.pipeline != nil {
		rp.pipeline.Release()
		rp.pipeline = nil
	}
	if rp.color != nil {
		rp.color.Release()
		rp.color = nil
	}
	if rp.depth != nil {
		rp.depth.Release()
		rp.depth = nil
	}
	if rp.bindings != nil {
		rp.bindings.Release()
		rp.bindings = nil
	}
}
