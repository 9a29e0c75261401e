package halgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rtcore/gpu"
	"github.com/gogpu/wgpu/hal"
)

var errClosed = errors.New("halgpu: recorder is closed")

// recorder encodes straight into a HAL command encoder. Validation errors
// are kept and reported by Close, which then discards the encoding.
type recorder struct {
	dev     *Device
	typ     gpu.ListType
	encoder hal.CommandEncoder
	cmd     hal.CommandBuffer
	open    bool
	err     error
}

var _ gpu.Recorder = (*recorder)(nil)

func (d *Device) NewRecorder(typ gpu.ListType) (gpu.Recorder, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "halgpu recorder"})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	r := &recorder{dev: d, typ: typ, encoder: enc}
	if err := r.begin(); err != nil {
		enc.Destroy()
		return nil, err
	}
	return r, nil
}

func (r *recorder) begin() error {
	if err := r.encoder.BeginEncoding("halgpu recorder"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}
	r.open = true
	r.err = nil
	return nil
}

func (r *recorder) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// recording reports whether commands can be encoded, noting misuse.
func (r *recorder) recording() bool {
	if !r.open {
		r.fail(errClosed)
		return false
	}
	return r.err == nil
}

func (r *recorder) Close() error {
	if !r.open {
		return fmt.Errorf("%w: %w", gpu.ErrInvalidArgument, errClosed)
	}
	r.open = false
	if r.err != nil {
		r.encoder.DiscardEncoding()
		return fmt.Errorf("%w: %w", gpu.ErrInvalidArgument, r.err)
	}
	cmd, err := r.encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	r.cmd = cmd
	return nil
}

func (r *recorder) Reset() error {
	if err := r.dev.removed(); err != nil {
		return err
	}
	if r.open {
		return fmt.Errorf("%w: reset of an open recorder", gpu.ErrInvalidArgument)
	}
	if r.cmd != nil {
		r.dev.device.FreeCommandBuffer(r.cmd)
		r.cmd = nil
	}
	return r.begin()
}

// ===== Barriers =====

func textureState(s gpu.ResourceState) gputypes.TextureUsage {
	var u gputypes.TextureUsage
	if s&gpu.StateCopyDest != 0 {
		u |= gputypes.TextureUsageCopyDst
	}
	if s&gpu.StateCopySource != 0 {
		u |= gputypes.TextureUsageCopySrc
	}
	if s&gpu.StateUnorderedAccess != 0 {
		u |= gputypes.TextureUsageStorageBinding
	}
	if s&(gpu.StateRenderTarget|gpu.StateDepthWrite|gpu.StateDepthRead) != 0 {
		u |= gputypes.TextureUsageRenderAttachment
	}
	if s&(gpu.StatePixelShaderResource|gpu.StateNonPixelShaderResource) != 0 {
		u |= gputypes.TextureUsageTextureBinding
	}
	return u
}

func bufferState(s gpu.ResourceState) gputypes.BufferUsage {
	var u gputypes.BufferUsage
	if s&gpu.StateCopyDest != 0 {
		u |= gputypes.BufferUsageCopyDst
	}
	if s&gpu.StateCopySource != 0 {
		u |= gputypes.BufferUsageCopySrc
	}
	if s&gpu.StateUnorderedAccess != 0 {
		u |= gputypes.BufferUsageStorage
	}
	if s&gpu.StateVertexAndConstantBuffer != 0 {
		u |= gputypes.BufferUsageVertex | gputypes.BufferUsageUniform
	}
	if s&gpu.StateIndexBuffer != 0 {
		u |= gputypes.BufferUsageIndex
	}
	if s&(gpu.StatePixelShaderResource|gpu.StateNonPixelShaderResource) != 0 {
		u |= gputypes.BufferUsageStorage
	}
	return u
}

func (r *recorder) ResourceBarrier(barriers ...gpu.Barrier) {
	if !r.recording() {
		return
	}
	var bufs []hal.BufferBarrier
	var texs []hal.TextureBarrier
	for _, b := range barriers {
		res, err := r.dev.asResource(b.Resource)
		if err != nil {
			r.fail(err)
			return
		}
		before, after := b.Before, b.After
		if b.UAV {
			before, after = gpu.StateUnorderedAccess, gpu.StateUnorderedAccess
		}
		if res.texture != nil {
			texs = append(texs, hal.TextureBarrier{
				Texture: res.texture,
				Range:   hal.TextureRange{Aspect: gputypes.TextureAspectAll},
				Usage:   hal.TextureUsageTransition{OldUsage: textureState(before), NewUsage: textureState(after)},
			})
			continue
		}
		bufs = append(bufs, hal.BufferBarrier{
			Buffer: res.buffer,
			Usage:  hal.BufferUsageTransition{OldUsage: bufferState(before), NewUsage: bufferState(after)},
		})
	}
	if len(bufs) > 0 {
		r.encoder.TransitionBuffers(bufs)
	}
	if len(texs) > 0 {
		r.encoder.TransitionTextures(texs)
	}
}

// ===== Copies =====

func (r *recorder) resources(dst, src gpu.Resource) (*resource, *resource, bool) {
	if !r.recording() {
		return nil, nil, false
	}
	d, err := r.dev.asResource(dst)
	if err != nil {
		r.fail(err)
		return nil, nil, false
	}
	s, err := r.dev.asResource(src)
	if err != nil {
		r.fail(err)
		return nil, nil, false
	}
	return d, s, true
}

func (r *recorder) CopyBufferRegion(dst gpu.Resource, dstOffset uint64, src gpu.Resource, srcOffset, size uint64) {
	d, s, ok := r.resources(dst, src)
	if !ok {
		return
	}
	if d.buffer == nil || s.buffer == nil {
		r.fail(fmt.Errorf("%w: CopyBufferRegion between %q and %q needs buffers", gpu.ErrInvalidArgument, s.desc.Label, d.desc.Label))
		return
	}
	if dstOffset+size > d.desc.Size || srcOffset+size > s.desc.Size {
		r.fail(fmt.Errorf("%w: copy of %d bytes from %q to %q out of range", gpu.ErrInvalidArgument, size, s.desc.Label, d.desc.Label))
		return
	}
	r.encoder.CopyBufferToBuffer(s.buffer, d.buffer, []hal.BufferCopy{{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size}})
}

func (r *recorder) CopyResource(dst, src gpu.Resource) {
	d, s, ok := r.resources(dst, src)
	if !ok {
		return
	}
	dd, sd := d.desc, s.desc
	if dd.Dimension != sd.Dimension || dd.Size != sd.Size ||
		(dd.Dimension == gpu.DimensionTexture2D && (dd.Width != sd.Width || dd.Height != sd.Height || dd.Format != sd.Format)) {
		r.fail(fmt.Errorf("%w: CopyResource between %q and %q with different layouts", gpu.ErrInvalidArgument, sd.Label, dd.Label))
		return
	}
	if d.buffer != nil {
		r.encoder.CopyBufferToBuffer(s.buffer, d.buffer, []hal.BufferCopy{{Size: dd.Size}})
		return
	}
	r.encoder.CopyTextureToTexture(s.texture, d.texture, []hal.TextureCopy{{
		SrcBase: hal.ImageCopyTexture{Texture: s.texture, Aspect: gputypes.TextureAspectAll},
		DstBase: hal.ImageCopyTexture{Texture: d.texture, Aspect: gputypes.TextureAspectAll},
		Size:    hal.Extent3D{Width: dd.Width, Height: dd.Height, DepthOrArrayLayers: 1},
	}})
}

// CopyTextureRegion copies between a texture and a footprint placed in a
// buffer. srcBox selects the texture region in either direction; the
// footprint side always starts at its offset.
func (r *recorder) CopyTextureRegion(dst, src gpu.TextureCopyLocation, srcBox *gpu.Box) {
	d, s, ok := r.resources(dst.Resource, src.Resource)
	if !ok {
		return
	}
	var tex, buf *resource
	var fp *gpu.Footprint
	upload := dst.Footprint == nil
	switch {
	case upload && src.Footprint != nil:
		tex, buf, fp = d, s, src.Footprint
	case !upload && src.Footprint == nil:
		tex, buf, fp = s, d, dst.Footprint
	default:
		r.fail(fmt.Errorf("%w: CopyTextureRegion needs one texture and one footprint", gpu.ErrInvalidArgument))
		return
	}
	if tex.texture == nil || buf.buffer == nil {
		r.fail(fmt.Errorf("%w: CopyTextureRegion location types", gpu.ErrInvalidArgument))
		return
	}
	if fp.RowPitch%gpu.TexturePitchAlignment != 0 || fp.Offset%gpu.TexturePlacementAlignment != 0 {
		r.fail(fmt.Errorf("%w: footprint pitch %d offset %d not aligned", gpu.ErrInvalidArgument, fp.RowPitch, fp.Offset))
		return
	}
	if fp.Format != tex.desc.Format {
		r.fail(fmt.Errorf("%w: footprint format %v, texture format %v", gpu.ErrInvalidArgument, fp.Format, tex.desc.Format))
		return
	}

	b := gpu.Box{Right: min(fp.Width, tex.desc.Width), Bottom: min(fp.Height, tex.desc.Height)}
	if srcBox != nil {
		b = *srcBox
	}
	if b.Right > tex.desc.Width || b.Bottom > tex.desc.Height || b.Left >= b.Right || b.Top >= b.Bottom ||
		b.Right-b.Left > fp.Width || b.Bottom-b.Top > fp.Height {
		r.fail(fmt.Errorf("%w: copy box %+v outside %q", gpu.ErrInvalidArgument, b, tex.desc.Label))
		return
	}
	rowBytes := uint64(b.Right-b.Left) * uint64(gpu.BytesPerPixel(tex.desc.Format))
	if end := fp.Offset + uint64(b.Bottom-b.Top-1)*uint64(fp.RowPitch) + rowBytes; end > buf.desc.Size {
		r.fail(fmt.Errorf("%w: footprint needs %d bytes, %q has %d", gpu.ErrInvalidArgument, end, buf.desc.Label, buf.desc.Size))
		return
	}

	region := []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: fp.Offset, BytesPerRow: fp.RowPitch, RowsPerImage: b.Bottom - b.Top},
		TextureBase: hal.ImageCopyTexture{
			Texture: tex.texture,
			Origin:  hal.Origin3D{X: b.Left, Y: b.Top},
			Aspect:  gputypes.TextureAspectAll,
		},
		Size: hal.Extent3D{Width: b.Right - b.Left, Height: b.Bottom - b.Top, DepthOrArrayLayers: 1},
	}}
	if upload {
		r.encoder.CopyBufferToTexture(buf.buffer, tex.texture, region)
	} else {
		r.encoder.CopyTextureToBuffer(tex.texture, buf.buffer, region)
	}
}

// ===== Clears =====

func (r *recorder) attachment(h gpu.CPUHandle, kind gpu.ViewKind) (hal.TextureView, bool) {
	if !r.recording() {
		return nil, false
	}
	v, err := r.dev.lookup(h, kind)
	if err == nil {
		_, err = r.dev.asResource(v.res)
	}
	if err != nil {
		r.fail(err)
		return nil, false
	}
	tv, err := v.res.renderView()
	if err != nil {
		r.fail(err)
		return nil, false
	}
	return tv, true
}

func (r *recorder) ClearRenderTarget(rtv gpu.CPUHandle, rgba [4]float32) {
	tv, ok := r.attachment(rtv, gpu.ViewRTV)
	if !ok {
		return
	}
	pass := r.encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "halgpu clear",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       tv,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: float64(rgba[0]), G: float64(rgba[1]), B: float64(rgba[2]), A: float64(rgba[3])},
		}},
	})
	pass.End()
}

func (r *recorder) ClearDepthStencil(dsv gpu.CPUHandle, depth float32) {
	tv, ok := r.attachment(dsv, gpu.ViewDSV)
	if !ok {
		return
	}
	pass := r.encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "halgpu clear depth",
		DepthStencilAttachment: &hal.RenderPassDepthStencilAttachment{
			View:            tv,
			DepthLoadOp:     gputypes.LoadOpClear,
			DepthStoreOp:    gputypes.StoreOpStore,
			DepthClearValue: depth,
		},
	})
	pass.End()
}

// ===== Pipeline =====

func (r *recorder) SetDescriptorHeaps(heaps ...gpu.DescriptorHeap) {
	if !r.recording() {
		return
	}
	for _, h := range heaps {
		dh, ok := h.(*descriptorHeap)
		if !ok || dh.dev != r.dev {
			r.fail(fmt.Errorf("%w: descriptor heap %T does not belong to this device", gpu.ErrInvalidArgument, h))
			return
		}
		if !dh.desc.ShaderVisible {
			r.fail(fmt.Errorf("%w: binding a heap that is not shader visible", gpu.ErrInvalidArgument))
			return
		}
	}
}

func (r *recorder) unsupported(what string) {
	if r.recording() {
		r.fail(fmt.Errorf("%w: %s", gpu.ErrUnsupported, what))
	}
}

func (r *recorder) BuildAS(gpu.ASBuildDesc) { r.unsupported("acceleration structure build") }

func (r *recorder) SetComputeRootSignature(gpu.RootSignature) { r.unsupported("root signatures") }

func (r *recorder) SetStateObject(gpu.StateObject) { r.unsupported("raytracing state objects") }

func (r *recorder) DispatchRays(gpu.DispatchRaysDesc) { r.unsupported("ray dispatch") }
