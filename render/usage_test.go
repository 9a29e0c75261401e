package render

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rtcore/gpu"
)

func TestResolveBufferUsage(t *testing.T) {
	tests := []struct {
		name  string
		usage BufferUsage
		elem  uint64
		want  placement
	}{
		{
			name:  "readback",
			usage: BufferUsageReadback,
			elem:  1,
			want:  placement{heap: gpu.HeapReadback, alignment: 1, state: gpu.StateCopyDest},
		},
		{
			name:  "constant",
			usage: BufferUsageConstant,
			elem:  4,
			want:  placement{heap: gpu.HeapUpload, alignment: 256, state: gpu.StateGenericRead, views: viewCBV | viewSRV},
		},
		{
			name:  "constant wins over read",
			usage: BufferUsageConstant | BufferUsageRead,
			elem:  16,
			want:  placement{heap: gpu.HeapUpload, alignment: 256, state: gpu.StateGenericRead, views: viewCBV | viewSRV},
		},
		{
			name:  "upload",
			usage: BufferUsageUpload,
			elem:  64,
			want:  placement{heap: gpu.HeapUpload, alignment: 64, state: gpu.StateGenericRead},
		},
		{
			name:  "acceleration structure",
			usage: BufferUsageWrite | BufferUsageAccelerationStructure,
			elem:  1,
			want: placement{heap: gpu.HeapDefault, alignment: 256, state: gpu.StateRaytracingAS,
				flags: gpu.FlagAllowUnorderedAccess, views: viewUAV | viewASSRV},
		},
		{
			name:  "read write",
			usage: BufferUsageRead | BufferUsageWrite,
			elem:  16,
			want: placement{heap: gpu.HeapDefault, alignment: 16, state: gpu.StateCommon,
				flags: gpu.FlagAllowUnorderedAccess, views: viewSRV | viewUAV},
		},
		{
			name:  "vertex index",
			usage: BufferUsageVertex | BufferUsageIndex,
			elem:  32,
			want:  placement{heap: gpu.HeapDefault, alignment: 32, state: gpu.StateCommon},
		},
		{
			name:  "vertex read",
			usage: BufferUsageVertex | BufferUsageRead,
			elem:  12,
			want:  placement{heap: gpu.HeapDefault, alignment: 12, state: gpu.StateCommon, views: viewSRV},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveBufferUsage(tt.usage, tt.elem)
			if err != nil {
				t.Fatalf("resolveBufferUsage(%s): %v", tt.usage, err)
			}
			if got != tt.want {
				t.Errorf("resolveBufferUsage(%s) = %+v, want %+v", tt.usage, got, tt.want)
			}
		})
	}
}

func TestResolveBufferUsageInvalid(t *testing.T) {
	for _, u := range []BufferUsage{
		0,
		1 << 20,
		BufferUsageReadback | BufferUsageRead,
		BufferUsageUpload | BufferUsageWrite,
		BufferUsageConstant | BufferUsageAccelerationStructure,
	} {
		if _, err := resolveBufferUsage(u, 4); !errors.Is(err, ErrInvalidUsage) {
			t.Errorf("resolveBufferUsage(%s) = %v, want ErrInvalidUsage", u, err)
		}
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct{ n, a, want uint64 }{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{300, 256, 512},
		{10, 12, 12},
		{24, 12, 24},
		{5, 0, 5},
		{5, 1, 5},
	}
	for _, tt := range tests {
		if got := alignUp(tt.n, tt.a); got != tt.want {
			t.Errorf("alignUp(%d, %d) = %d, want %d", tt.n, tt.a, got, tt.want)
		}
	}
}

func TestUsageString(t *testing.T) {
	if got := (BufferUsageRead | BufferUsageWrite).String(); got != "READ|WRITE" {
		t.Errorf("buffer usage string = %q", got)
	}
	if got := BufferUsage(0).String(); got != "NONE" {
		t.Errorf("empty usage string = %q", got)
	}
	if got := (TextureUsageRead | TextureUsageDepth).String(); got != "READ|DEPTH" {
		t.Errorf("texture usage string = %q", got)
	}
}

func TestResolveTextureUsage(t *testing.T) {
	tests := []struct {
		name       string
		usage      TextureUsage
		format     gputypes.TextureFormat
		wantFormat gputypes.TextureFormat
		want       placement
	}{
		{
			name:       "depth",
			usage:      TextureUsageDepth,
			wantFormat: gputypes.TextureFormatDepth32Float,
			want:       placement{heap: gpu.HeapDefault, state: gpu.StateDepthWrite, flags: gpu.FlagAllowDepthStencil, views: viewDSV},
		},
		{
			name:       "storage",
			usage:      TextureUsageRead | TextureUsageWrite,
			wantFormat: gputypes.TextureFormatRGBA8Unorm,
			want: placement{heap: gpu.HeapDefault, state: gpu.StateCommon,
				flags: gpu.FlagAllowUnorderedAccess, views: viewSRV | viewUAV},
		},
		{
			name:       "render target",
			usage:      TextureUsageRenderTarget,
			format:     gputypes.TextureFormatBGRA8Unorm,
			wantFormat: gputypes.TextureFormatBGRA8Unorm,
			want:       placement{heap: gpu.HeapDefault, state: gpu.StateCommon, flags: gpu.FlagAllowRenderTarget, views: viewRTV},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, format, err := resolveTextureUsage(tt.usage, tt.format)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want || format != tt.wantFormat {
				t.Errorf("resolveTextureUsage(%s) = %+v %v, want %+v %v", tt.usage, got, format, tt.want, tt.wantFormat)
			}
		})
	}

	invalid := []struct {
		usage  TextureUsage
		format gputypes.TextureFormat
	}{
		{0, 0},
		{TextureUsageDepth | TextureUsageWrite, 0},
		{TextureUsageDepth, gputypes.TextureFormatRGBA8Unorm},
		{TextureUsageRead, gputypes.TextureFormatDepth32Float},
	}
	for _, tt := range invalid {
		if _, _, err := resolveTextureUsage(tt.usage, tt.format); !errors.Is(err, ErrInvalidUsage) {
			t.Errorf("resolveTextureUsage(%s, %v) = %v, want ErrInvalidUsage", tt.usage, tt.format, err)
		}
	}
}
