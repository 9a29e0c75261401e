package render

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/gogpu/rtcore/gpu"
)

func randomBytes(n int, seed uint64) []byte {
	r := rand.New(rand.NewPCG(seed, 1))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Uint32())
	}
	return b
}

func TestBufferRoundTrip(t *testing.T) {
	ctx, _ := newTestContext(t)

	for _, n := range []int{1, 256, 3<<20 + 7} {
		data := randomBytes(n, uint64(n))
		b, err := NewBufferWithData(ctx, "round trip", BufferDesc{
			Usage:       BufferUsageRead | BufferUsageWrite,
			NumElements: uint32(n),
			ElementSize: 1,
		}, data)
		if err != nil {
			t.Fatalf("%d bytes: %v", n, err)
		}
		got, err := ReadBuffer(ctx, b)
		if err != nil {
			t.Fatalf("%d bytes: ReadBuffer: %v", n, err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("%d bytes: read back data differs", n)
		}
		b.Release()
	}
}

func TestBufferEmpty(t *testing.T) {
	ctx, _ := newTestContext(t)

	if _, err := NewBuffer(ctx, "empty", BufferDesc{Usage: BufferUsageRead, ElementSize: 4}); !errors.Is(err, ErrInvalidUsage) {
		t.Errorf("zero elements = %v, want ErrInvalidUsage", err)
	}
	b, err := NewBuffer(ctx, "b", BufferDesc{Usage: BufferUsageRead, NumElements: 1, ElementSize: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Release()
	if err := b.SetData(nil, 0); err != nil {
		t.Errorf("SetData(nil) = %v", err)
	}
	if ctx.Queue.FenceValue() != 0 {
		t.Error("empty write submitted work")
	}
}

func TestBufferSetDataBounds(t *testing.T) {
	ctx, _ := newTestContext(t)
	b, err := NewBuffer(ctx, "small", BufferDesc{Usage: BufferUsageUpload, NumElements: 8, ElementSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Release()

	if err := b.SetData(make([]byte, 4), 6); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("write past the end = %v, want ErrOutOfBounds", err)
	}
	if err := b.SetData([]byte{1, 2}, 6); err != nil {
		t.Fatal(err)
	}
	if got := b.Mapped()[6:]; !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("mapped tail = %v", got)
	}

	rb, err := NewBuffer(ctx, "readback", BufferDesc{Usage: BufferUsageReadback, NumElements: 8, ElementSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer rb.Release()
	if err := rb.SetData([]byte{1}, 0); !errors.Is(err, ErrInvalidUsage) {
		t.Errorf("write into readback buffer = %v, want ErrInvalidUsage", err)
	}
}

func TestConstantBufferAlignment(t *testing.T) {
	ctx, _ := newTestContext(t)
	b, err := NewBuffer(ctx, "constants", BufferDesc{Usage: BufferUsageConstant, NumElements: 1, ElementSize: 152})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Release()

	if b.Size() != 256 || len(b.Mapped()) != 256 || b.Heap() != gpu.HeapUpload {
		t.Errorf("size %d mapped %d heap %v, want 256 bytes in the upload heap", b.Size(), len(b.Mapped()), b.Heap())
	}
	if _, err := b.View(gpu.ViewCBV); err != nil {
		t.Errorf("CBV: %v", err)
	}
	if _, err := b.View(gpu.ViewUAV); !errors.Is(err, ErrInvalidUsage) {
		t.Errorf("UAV of constant buffer = %v, want ErrInvalidUsage", err)
	}
	if b.GPUAddress()%256 != 0 {
		t.Errorf("GPU address %#x not aligned", b.GPUAddress())
	}
}

func TestBufferReleasedAfterList(t *testing.T) {
	ctx, _ := newTestContext(t)
	base := ctx.Views.Used()

	src, err := NewBufferWithData(ctx, "src", BufferDesc{Usage: BufferUsageRead, NumElements: 16, ElementSize: 1}, randomBytes(16, 3))
	if err != nil {
		t.Fatal(err)
	}
	if ctx.Views.Used() != base+viewSlots {
		t.Fatalf("views used %d, want %d", ctx.Views.Used(), base+viewSlots)
	}
	rb, err := NewBuffer(ctx, "dst", BufferDesc{Usage: BufferUsageReadback, NumElements: 16, ElementSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer rb.Release()

	list, err := ctx.Queue.GetCommandList()
	if err != nil {
		t.Fatal(err)
	}
	if err := list.CopyBuffer(rb, src); err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.Queue.ExecuteCommandList(list); err != nil {
		t.Fatal(err)
	}
	src.Release()
	if ctx.Views.Used() != base+viewSlots {
		t.Error("buffer destroyed while a list still references it")
	}
	if err := ctx.Queue.Flush(); err != nil {
		t.Fatal(err)
	}
	if ctx.Views.Used() != base {
		t.Errorf("views used %d after the list was reset, want %d", ctx.Views.Used(), base)
	}
}

func TestCopyBufferRegionBounds(t *testing.T) {
	ctx, _ := newTestContext(t)
	a, _ := NewBuffer(ctx, "a", BufferDesc{Usage: BufferUsageRead, NumElements: 8, ElementSize: 1})
	b, _ := NewBuffer(ctx, "b", BufferDesc{Usage: BufferUsageRead, NumElements: 4, ElementSize: 1})
	defer a.Release()
	defer b.Release()

	list, err := ctx.Queue.GetCommandList()
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Queue.Discard(list)
	if err := list.CopyBufferRegion(b, 0, a, 0, 8); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("oversized copy = %v, want ErrOutOfBounds", err)
	}
	if list.State() != ListOpen {
		t.Errorf("rejected copy moved the list to %v", list.State())
	}
	if err := list.CopyBuffer(a, a); !errors.Is(err, ErrInvalidUsage) || list.State() != ListOpen {
		t.Errorf("self copy = %v in state %v, want ErrInvalidUsage in open", err, list.State())
	}
	if err := list.CopyBufferRegion(b, 2, a, 6, 2); err != nil {
		t.Errorf("copy at the edge: %v", err)
	}
	if err := list.CopyBufferRegion(b, 0, a, 0, 0); err != nil {
		t.Errorf("empty copy: %v", err)
	}
	if list.Retained() != 2 {
		t.Errorf("list retains %d resources, want 2", list.Retained())
	}
}
