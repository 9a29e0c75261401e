package render

import (
	"testing"

	"github.com/gogpu/rtcore/gpu/soft"
)

// newTestContext returns a Context on a fresh software device.
func newTestContext(t *testing.T) (*Context, *soft.Device) {
	t.Helper()
	dev := soft.NewDevice(soft.Config{Workers: 2, TileSize: 4})
	ctx, err := NewContext(dev, HeapConfig{ShaderVisible: 64, Staging: 256, RTV: 8, DSV: 8})
	if err != nil {
		dev.Destroy()
		t.Fatalf("NewContext: %v", err)
	}
	t.Cleanup(func() {
		dev.Resume()
		if err := ctx.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
		dev.Destroy()
	})
	return ctx, dev
}

func TestNewContextDefaults(t *testing.T) {
	dev := soft.NewDevice(soft.Config{Workers: 1})
	defer dev.Destroy()

	ctx, err := NewContext(dev, HeapConfig{RTV: 16})
	if err != nil {
		t.Fatal(err)
	}
	def := DefaultHeapConfig()
	tests := []struct {
		heap     *DescriptorHeap
		capacity uint32
		visible  bool
	}{
		{ctx.Views, def.Staging, false},
		{ctx.Shader, def.ShaderVisible, true},
		{ctx.RTV, 16, false},
		{ctx.DSV, def.DSV, false},
	}
	for _, tt := range tests {
		if tt.heap.Capacity() != tt.capacity || tt.heap.ShaderVisible() != tt.visible {
			t.Errorf("%s heap: capacity %d visible %v, want %d %v",
				tt.heap.Type(), tt.heap.Capacity(), tt.heap.ShaderVisible(), tt.capacity, tt.visible)
		}
	}
	if err := ctx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ctx.Queue != nil || ctx.Shader != nil {
		t.Error("Close left objects behind")
	}
	// Closing twice is harmless.
	if err := ctx.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
