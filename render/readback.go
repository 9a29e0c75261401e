package render

import (
	"fmt"

	"github.com/gogpu/rtcore/gpu"
)

// ReadBuffer copies b into a readback buffer, waits for the copy and
// returns the bytes. It is a debugging aid and drains the queue.
func ReadBuffer(ctx *Context, b *Buffer) ([]byte, error) {
	if b.place.heap.CPUVisible() {
		if err := ctx.Queue.Flush(); err != nil {
			return nil, err
		}
		return append([]byte(nil), b.mapped...), nil
	}
	rb, err := NewBuffer(ctx, b.name+" readback", BufferDesc{
		Usage:       BufferUsageReadback,
		NumElements: uint32(b.size),
		ElementSize: 1,
	})
	if err != nil {
		return nil, err
	}
	defer rb.Release()

	if err := submitAndWait(ctx, func(l *CommandList) error { return l.CopyBuffer(rb, b) }); err != nil {
		return nil, fmt.Errorf("read back %q: %w", b.name, err)
	}
	return append([]byte(nil), rb.mapped[:b.size]...), nil
}

// ReadTexture copies t into a readback buffer, waits for the copy and
// returns its texels in tightly packed rows.
func ReadTexture(ctx *Context, t *Texture) ([]byte, error) {
	fp := t.footprint()
	rb, err := NewBuffer(ctx, t.name+" readback", BufferDesc{
		Usage:       BufferUsageReadback,
		NumElements: fp.Height,
		ElementSize: fp.RowPitch,
	})
	if err != nil {
		return nil, err
	}
	defer rb.Release()

	if err := submitAndWait(ctx, func(l *CommandList) error { return l.CopyTextureToBuffer(rb, t, fp) }); err != nil {
		return nil, fmt.Errorf("read back %q: %w", t.name, err)
	}
	row := uint64(fp.Width) * uint64(gpu.BytesPerPixel(fp.Format))
	out := make([]byte, 0, row*uint64(fp.Height))
	for y := range uint64(fp.Height) {
		off := y * uint64(fp.RowPitch)
		out = append(out, rb.mapped[off:off+row]...)
	}
	return out, nil
}

// submitAndWait records with rec on a fresh list, executes it and waits
// for its fence.
func submitAndWait(ctx *Context, rec func(*CommandList) error) error {
	q := ctx.Queue
	list, err := q.GetCommandList()
	if err != nil {
		return err
	}
	if err := rec(list); err != nil {
		q.Discard(list)
		return err
	}
	v, err := q.ExecuteCommandList(list)
	if err != nil {
		return err
	}
	if err := q.WaitForFenceValue(v); err != nil {
		return err
	}
	return q.ResetCommandLists()
}
