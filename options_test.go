package rtcore

import (
	"log/slog"
	"testing"

	"github.com/gogpu/rtcore/gpu/soft"
	"github.com/gogpu/rtcore/render"
)

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	if o.driver != soft.DriverName {
		t.Errorf("driver = %q, want %q", o.driver, soft.DriverName)
	}
	if o.width != DefaultWidth || o.height != DefaultHeight {
		t.Errorf("size = %dx%d, want %dx%d", o.width, o.height, DefaultWidth, DefaultHeight)
	}
	if o.heaps != render.DefaultHeapConfig() {
		t.Errorf("heaps = %+v", o.heaps)
	}
	if !o.vsync {
		t.Error("vsync off by default")
	}
	if o.device != nil || o.provider != nil || o.logger != nil {
		t.Error("unexpected default device, provider or logger")
	}
}

func TestOptionsApply(t *testing.T) {
	dev := soft.NewDevice(soft.Config{Workers: 1})
	defer dev.Destroy()
	l := slog.Default()

	o := defaultOptions()
	for _, opt := range []Option{
		WithDriver("hal-noop"),
		WithNativeDevice(dev),
		WithSize(320, 200),
		WithHeapConfig(render.HeapConfig{Staging: 16, RTV: 2, DSV: 2}),
		WithDescriptorHeapSize(32),
		WithShaderDir("shaders"),
		WithVSync(false),
		WithLogger(l),
	} {
		opt(&o)
	}

	if o.driver != "hal-noop" {
		t.Errorf("driver = %q", o.driver)
	}
	if o.device != dev {
		t.Error("native device not stored")
	}
	if o.width != 320 || o.height != 200 {
		t.Errorf("size = %dx%d", o.width, o.height)
	}
	want := render.HeapConfig{ShaderVisible: 32, Staging: 16, RTV: 2, DSV: 2}
	if o.heaps != want {
		t.Errorf("heaps = %+v, want %+v", o.heaps, want)
	}
	if o.shaderDir != "shaders" {
		t.Errorf("shaderDir = %q", o.shaderDir)
	}
	if o.vsync {
		t.Error("vsync still on")
	}
	if o.logger != l {
		t.Error("logger not stored")
	}
}
