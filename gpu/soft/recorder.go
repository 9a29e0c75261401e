package soft

import (
	"fmt"

	"github.com/gogpu/rtcore/gpu"
)

// command is one recorded operation, run on the queue worker.
type command func(x *executor) error

type recorder struct {
	dev  *Device
	typ  gpu.ListType
	open bool
	cmds []command
	err  error
}

var _ gpu.Recorder = (*recorder)(nil)

func (d *Device) NewRecorder(typ gpu.ListType) (gpu.Recorder, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	return &recorder{dev: d, typ: typ, open: true}, nil
}

func (r *recorder) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *recorder) record(cmd command) {
	if !r.open {
		r.fail(errClosed)
		return
	}
	r.cmds = append(r.cmds, cmd)
}

func (r *recorder) Close() error {
	if !r.open {
		return fmt.Errorf("%w: %w", gpu.ErrInvalidArgument, errClosed)
	}
	r.open = false
	if r.err != nil {
		return fmt.Errorf("%w: %w", gpu.ErrInvalidArgument, r.err)
	}
	return nil
}

func (r *recorder) Reset() error {
	if err := r.dev.removed(); err != nil {
		return err
	}
	if r.open {
		return fmt.Errorf("%w: reset of an open recorder", gpu.ErrInvalidArgument)
	}
	clear(r.cmds)
	r.cmds = r.cmds[:0]
	r.err = nil
	r.open = true
	return nil
}

func (r *recorder) ResourceBarrier(barriers ...gpu.Barrier) {
	type entry struct {
		res *resource
		b   gpu.Barrier
	}
	entries := make([]entry, 0, len(barriers))
	for _, b := range barriers {
		res, err := asResource(b.Resource)
		if err != nil {
			r.fail(err)
			return
		}
		entries = append(entries, entry{res, b})
	}
	r.record(func(x *executor) error {
		for _, e := range entries {
			if err := x.barrier(e.res, e.b); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *recorder) CopyBufferRegion(dst gpu.Resource, dstOffset uint64, src gpu.Resource, srcOffset, size uint64) {
	d, err1 := asResource(dst)
	s, err2 := asResource(src)
	if err := firstErr(err1, err2); err != nil {
		r.fail(err)
		return
	}
	r.record(func(x *executor) error {
		return x.copyBufferRegion(d, dstOffset, s, srcOffset, size)
	})
}

func (r *recorder) CopyResource(dst, src gpu.Resource) {
	d, err1 := asResource(dst)
	s, err2 := asResource(src)
	if err := firstErr(err1, err2); err != nil {
		r.fail(err)
		return
	}
	r.record(func(x *executor) error { return x.copyResource(d, s) })
}

func (r *recorder) CopyTextureRegion(dst, src gpu.TextureCopyLocation, srcBox *gpu.Box) {
	d, err1 := asResource(dst.Resource)
	s, err2 := asResource(src.Resource)
	if err := firstErr(err1, err2); err != nil {
		r.fail(err)
		return
	}
	dl := copyLocation{res: d}
	if dst.Footprint != nil {
		fp := *dst.Footprint
		dl.footprint = &fp
	}
	sl := copyLocation{res: s}
	if src.Footprint != nil {
		fp := *src.Footprint
		sl.footprint = &fp
	}
	var box *gpu.Box
	if srcBox != nil {
		b := *srcBox
		box = &b
	}
	r.record(func(x *executor) error { return x.copyTextureRegion(dl, sl, box) })
}

func (r *recorder) ClearRenderTarget(rtv gpu.CPUHandle, rgba [4]float32) {
	r.record(func(x *executor) error { return x.clearRenderTarget(rtv, rgba) })
}

func (r *recorder) ClearDepthStencil(dsv gpu.CPUHandle, depth float32) {
	r.record(func(x *executor) error { return x.clearDepth(dsv, depth) })
}

func (r *recorder) BuildAS(desc gpu.ASBuildDesc) {
	desc.Inputs.Geometries = append([]gpu.GeometryTriangles(nil), desc.Inputs.Geometries...)
	r.record(func(x *executor) error { return x.buildAS(desc) })
}

func (r *recorder) SetDescriptorHeaps(heaps ...gpu.DescriptorHeap) {
	hs := make([]*descriptorHeap, 0, len(heaps))
	for _, h := range heaps {
		sh, ok := h.(*descriptorHeap)
		if !ok || sh.dev != r.dev {
			r.fail(fmt.Errorf("%w: descriptor heap %T does not belong to this device", gpu.ErrInvalidArgument, h))
			return
		}
		if !sh.desc.ShaderVisible {
			r.fail(fmt.Errorf("%w: binding a heap that is not shader visible", gpu.ErrInvalidArgument))
			return
		}
		hs = append(hs, sh)
	}
	r.record(func(x *executor) error {
		x.heaps = hs
		return nil
	})
}

func (r *recorder) SetComputeRootSignature(rs gpu.RootSignature) {
	srs, ok := rs.(*rootSignature)
	if !ok || srs.desc.Local {
		r.fail(fmt.Errorf("%w: global root signature required", gpu.ErrInvalidArgument))
		return
	}
	r.record(func(x *executor) error {
		x.rootSig = srs
		return nil
	})
}

func (r *recorder) SetStateObject(so gpu.StateObject) {
	sso, ok := so.(*stateObject)
	if !ok || sso.dev != r.dev {
		r.fail(fmt.Errorf("%w: state object %T does not belong to this device", gpu.ErrInvalidArgument, so))
		return
	}
	r.record(func(x *executor) error {
		x.pipeline = sso
		return nil
	})
}

func (r *recorder) DispatchRays(desc gpu.DispatchRaysDesc) {
	if desc.Width == 0 || desc.Height == 0 || desc.Depth == 0 {
		r.fail(fmt.Errorf("%w: empty dispatch %dx%dx%d", gpu.ErrInvalidArgument, desc.Width, desc.Height, desc.Depth))
		return
	}
	r.record(func(x *executor) error { return x.dispatchRays(desc) })
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
