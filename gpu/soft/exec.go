package soft

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rtcore/gpu"
)

// executor holds the pipeline bindings of one command list while it
// runs on a queue worker. Bindings do not carry over between lists.
type executor struct {
	dev      *Device
	heaps    []*descriptorHeap
	rootSig  *rootSignature
	pipeline *stateObject
}

func newExecutor(d *Device) *executor { return &executor{dev: d} }

func live(r *resource) error {
	if r.destroyed.Load() {
		return fmt.Errorf("%w: %q destroyed while in use by the GPU", gpu.ErrInvalidArgument, r.desc.Label)
	}
	return nil
}

func (x *executor) barrier(r *resource, b gpu.Barrier) error {
	if err := live(r); err != nil {
		return err
	}
	if b.UAV {
		if r.desc.Flags&gpu.FlagAllowUnorderedAccess == 0 {
			return fmt.Errorf("%w: UAV barrier on %q without unordered access", gpu.ErrInvalidState, r.desc.Label)
		}
		return nil
	}
	if r.desc.Heap != gpu.HeapDefault {
		return fmt.Errorf("%w: transition of %q in the %s heap", gpu.ErrInvalidState, r.desc.Label, r.desc.Heap)
	}
	if b.Before == b.After {
		return fmt.Errorf("%w: no-op transition of %q", gpu.ErrInvalidState, r.desc.Label)
	}
	if r.state != b.Before {
		return fmt.Errorf("%w: %q is in state %#x, barrier expects %#x", gpu.ErrInvalidState, r.desc.Label, r.state, b.Before)
	}
	r.state = b.After
	return nil
}

// readable checks that r can be a copy source.
func readable(r *resource) error {
	if err := live(r); err != nil {
		return err
	}
	if r.desc.Heap == gpu.HeapDefault && r.state&gpu.StateCopySource == 0 {
		return fmt.Errorf("%w: copy source %q is in state %#x", gpu.ErrInvalidState, r.desc.Label, r.state)
	}
	return nil
}

// writable checks that r can be a copy destination.
func writable(r *resource) error {
	if err := live(r); err != nil {
		return err
	}
	switch r.desc.Heap {
	case gpu.HeapUpload:
		return fmt.Errorf("%w: copy into upload resource %q", gpu.ErrInvalidState, r.desc.Label)
	case gpu.HeapDefault:
		if r.state&gpu.StateCopyDest == 0 {
			return fmt.Errorf("%w: copy destination %q is in state %#x", gpu.ErrInvalidState, r.desc.Label, r.state)
		}
	}
	return nil
}

func (x *executor) copyBufferRegion(dst *resource, dstOff uint64, src *resource, srcOff, size uint64) error {
	if err := firstErr(writable(dst), readable(src)); err != nil {
		return err
	}
	if dst.desc.Dimension != gpu.DimensionBuffer || src.desc.Dimension != gpu.DimensionBuffer {
		return fmt.Errorf("%w: CopyBufferRegion on a texture", gpu.ErrInvalidArgument)
	}
	if srcOff+size > uint64(len(src.data)) || dstOff+size > uint64(len(dst.data)) || srcOff+size < srcOff {
		return fmt.Errorf("%w: copy of %d bytes from %q+%d to %q+%d out of bounds",
			gpu.ErrInvalidArgument, size, src.desc.Label, srcOff, dst.desc.Label, dstOff)
	}
	if dst == src && srcOff < dstOff+size && dstOff < srcOff+size {
		return fmt.Errorf("%w: overlapping copy within %q", gpu.ErrInvalidArgument, dst.desc.Label)
	}
	copy(dst.data[dstOff:dstOff+size], src.data[srcOff:srcOff+size])
	return nil
}

func (x *executor) copyResource(dst, src *resource) error {
	if err := firstErr(writable(dst), readable(src)); err != nil {
		return err
	}
	dd, sd := dst.desc, src.desc
	if dd.Dimension != sd.Dimension || len(dst.data) != len(src.data) ||
		(dd.Dimension == gpu.DimensionTexture2D && (dd.Width != sd.Width || dd.Height != sd.Height || dd.Format != sd.Format)) {
		return fmt.Errorf("%w: CopyResource between %q and %q with different layouts", gpu.ErrInvalidArgument, sd.Label, dd.Label)
	}
	copy(dst.data, src.data)
	return nil
}

type copyLocation struct {
	res       *resource
	footprint *gpu.Footprint
}

func (x *executor) copyTextureRegion(dst, src copyLocation, box *gpu.Box) error {
	if err := firstErr(writable(dst.res), readable(src.res)); err != nil {
		return err
	}

	var tex *resource
	var fp *gpu.Footprint
	upload := dst.footprint == nil
	switch {
	case upload && src.footprint != nil:
		tex, fp = dst.res, src.footprint
	case !upload && src.footprint == nil:
		tex, fp = src.res, dst.footprint
	default:
		return fmt.Errorf("%w: CopyTextureRegion needs one texture and one footprint", gpu.ErrInvalidArgument)
	}
	buf := dst.res
	if upload {
		buf = src.res
	}
	if tex.desc.Dimension != gpu.DimensionTexture2D || buf.desc.Dimension != gpu.DimensionBuffer {
		return fmt.Errorf("%w: CopyTextureRegion location types", gpu.ErrInvalidArgument)
	}
	if fp.RowPitch%gpu.TexturePitchAlignment != 0 || fp.Offset%gpu.TexturePlacementAlignment != 0 {
		return fmt.Errorf("%w: footprint pitch %d offset %d not aligned", gpu.ErrInvalidArgument, fp.RowPitch, fp.Offset)
	}
	if fp.Format != tex.desc.Format {
		return fmt.Errorf("%w: footprint format %v, texture format %v", gpu.ErrInvalidArgument, fp.Format, tex.desc.Format)
	}

	b := gpu.Box{Right: min(fp.Width, tex.desc.Width), Bottom: min(fp.Height, tex.desc.Height)}
	if box != nil {
		b = *box
	}
	if b.Right > tex.desc.Width || b.Bottom > tex.desc.Height || b.Left >= b.Right || b.Top >= b.Bottom ||
		b.Right-b.Left > fp.Width || b.Bottom-b.Top > fp.Height {
		return fmt.Errorf("%w: copy box %+v outside %q", gpu.ErrInvalidArgument, b, tex.desc.Label)
	}

	bpp := uint64(gpu.BytesPerPixel(tex.desc.Format))
	rowBytes := uint64(b.Right-b.Left) * bpp
	texPitch := uint64(tex.desc.Width) * bpp
	rows := uint64(b.Bottom - b.Top)
	if end := fp.Offset + (rows-1)*uint64(fp.RowPitch) + rowBytes; end > uint64(len(buf.data)) {
		return fmt.Errorf("%w: footprint needs %d bytes, %q has %d", gpu.ErrInvalidArgument, end, buf.desc.Label, len(buf.data))
	}
	for y := range rows {
		t := (uint64(b.Top)+y)*texPitch + uint64(b.Left)*bpp
		f := fp.Offset + y*uint64(fp.RowPitch)
		if upload {
			copy(tex.data[t:t+rowBytes], buf.data[f:f+rowBytes])
		} else {
			copy(buf.data[f:f+rowBytes], tex.data[t:t+rowBytes])
		}
	}
	return nil
}

// target resolves an RTV or DSV handle to its texture.
func (x *executor) target(h gpu.CPUHandle, kind gpu.ViewKind) (*resource, error) {
	heap, i, err := x.dev.slot(uint64(h))
	if err != nil {
		return nil, err
	}
	v := heap.load(i)
	if v.desc.Kind != kind || v.res == nil {
		return nil, fmt.Errorf("%w: handle %#x is not a %s", gpu.ErrInvalidArgument, h, kind)
	}
	return v.res, live(v.res)
}

func (x *executor) clearRenderTarget(h gpu.CPUHandle, rgba [4]float32) error {
	r, err := x.target(h, gpu.ViewRTV)
	if err != nil {
		return err
	}
	if r.state&gpu.StateRenderTarget == 0 {
		return fmt.Errorf("%w: clear of %q in state %#x", gpu.ErrInvalidState, r.desc.Label, r.state)
	}
	var px [4]byte
	for i, c := range rgba {
		px[i] = unorm8(c)
	}
	if r.desc.Format == gputypes.TextureFormatBGRA8Unorm {
		px[0], px[2] = px[2], px[0]
	}
	for i := 0; i+4 <= len(r.data); i += 4 {
		copy(r.data[i:i+4], px[:])
	}
	return nil
}

func (x *executor) clearDepth(h gpu.CPUHandle, depth float32) error {
	r, err := x.target(h, gpu.ViewDSV)
	if err != nil {
		return err
	}
	if r.state&gpu.StateDepthWrite == 0 {
		return fmt.Errorf("%w: depth clear of %q in state %#x", gpu.ErrInvalidState, r.desc.Label, r.state)
	}
	bits := math.Float32bits(depth)
	for i := 0; i+4 <= len(r.data); i += 4 {
		binary.LittleEndian.PutUint32(r.data[i:], bits)
	}
	return nil
}

func unorm8(c float32) byte {
	if !(c > 0) {
		return 0
	}
	if c >= 1 {
		return 255
	}
	return byte(c*255 + 0.5)
}
