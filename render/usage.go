package render

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rtcore/gpu"
)

// BufferUsage is a bitmask of the ways a buffer is used. Combined usages
// union their requirements, see bufferRules.
type BufferUsage uint32

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageConstant
	BufferUsageUpload
	BufferUsageRead
	BufferUsageWrite
	BufferUsageAccelerationStructure

	// BufferUsageReadback places the buffer in the readback heap as a copy
	// destination. It cannot be combined with other usages.
	BufferUsageReadback

	bufferUsageAll = BufferUsageReadback<<1 - 1
)

var bufferUsageNames = []string{"VERTEX", "INDEX", "CONSTANT", "UPLOAD", "READ", "WRITE", "ACCELERATION_STRUCTURE", "READBACK"}

func (u BufferUsage) String() string {
	if u == 0 {
		return "NONE"
	}
	var parts []string
	for i, name := range bufferUsageNames {
		if u&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if rest := u &^ bufferUsageAll; rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// viewSet is the set of descriptors a resource needs.
type viewSet uint8

const (
	viewCBV viewSet = 1 << iota
	viewSRV
	viewUAV
	viewASSRV
	viewRTV
	viewDSV
)

// placement is the resolved heap, alignment, resting state, creation
// flags and views of a resource.
type placement struct {
	heap      gpu.HeapType
	alignment uint64
	state     gpu.ResourceState
	flags     gpu.ResourceFlags
	views     viewSet
}

type bufferRule struct {
	usage BufferUsage
	placement
}

// bufferRules is evaluated in order. The first matching rule fixes the
// heap and the initial state; alignment is the largest of the matches;
// flags and views are unioned. An alignment of zero means the element size.
var bufferRules = []bufferRule{
	{BufferUsageReadback, placement{heap: gpu.HeapReadback, state: gpu.StateCopyDest}},
	{BufferUsageConstant, placement{heap: gpu.HeapUpload, alignment: gpu.ConstantBufferAlignment, state: gpu.StateGenericRead, views: viewCBV | viewSRV}},
	{BufferUsageUpload, placement{heap: gpu.HeapUpload, state: gpu.StateGenericRead}},
	{BufferUsageAccelerationStructure, placement{heap: gpu.HeapDefault, alignment: gpu.ASAlignment, state: gpu.StateRaytracingAS, flags: gpu.FlagAllowUnorderedAccess, views: viewASSRV}},
	{BufferUsageWrite, placement{heap: gpu.HeapDefault, state: gpu.StateCommon, flags: gpu.FlagAllowUnorderedAccess, views: viewUAV}},
	{BufferUsageRead, placement{heap: gpu.HeapDefault, state: gpu.StateCommon, views: viewSRV}},
	{BufferUsageVertex, placement{heap: gpu.HeapDefault, state: gpu.StateCommon}},
	{BufferUsageIndex, placement{heap: gpu.HeapDefault, state: gpu.StateCommon}},
}

// resolveBufferUsage applies bufferRules to u. It fails for empty,
// unknown or conflicting usages before anything is allocated.
func resolveBufferUsage(u BufferUsage, elemSize uint64) (placement, error) {
	switch {
	case u == 0:
		return placement{}, fmt.Errorf("%w: empty buffer usage", ErrInvalidUsage)
	case u&^bufferUsageAll != 0:
		return placement{}, fmt.Errorf("%w: unknown buffer usage %s", ErrInvalidUsage, u)
	case u&BufferUsageReadback != 0 && u != BufferUsageReadback:
		return placement{}, fmt.Errorf("%w: %s: READBACK cannot be combined", ErrInvalidUsage, u)
	case u&(BufferUsageConstant|BufferUsageUpload) != 0 && u&(BufferUsageWrite|BufferUsageAccelerationStructure) != 0:
		return placement{}, fmt.Errorf("%w: %s: CPU-visible buffers cannot be written by the GPU", ErrInvalidUsage, u)
	}

	p := placement{alignment: max(elemSize, 1)}
	matched := false
	for _, r := range bufferRules {
		if u&r.usage == 0 {
			continue
		}
		if !matched {
			p.heap, p.state = r.heap, r.state
			matched = true
		}
		p.alignment = max(p.alignment, r.alignment)
		p.flags |= r.flags
		p.views |= r.views
	}
	// An acceleration structure is read through its own SRV.
	if p.views&viewASSRV != 0 {
		p.views &^= viewSRV
	}
	return p, nil
}

// alignUp rounds n up to a multiple of a. a need not be a power of two.
func alignUp(n, a uint64) uint64 {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}

// TextureUsage is a bitmask of the ways a texture is used.
type TextureUsage uint8

const (
	TextureUsageRead TextureUsage = 1 << iota
	TextureUsageWrite
	TextureUsageRenderTarget
	TextureUsageDepth

	textureUsageAll = TextureUsageDepth<<1 - 1
)

var textureUsageNames = []string{"READ", "WRITE", "RENDER_TARGET", "DEPTH"}

func (u TextureUsage) String() string {
	if u == 0 {
		return "NONE"
	}
	var parts []string
	for i, name := range textureUsageNames {
		if u&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// resolveTextureUsage returns the placement and format of a texture.
// An undefined format selects RGBA8 for color and D32 for depth.
func resolveTextureUsage(u TextureUsage, format gputypes.TextureFormat) (placement, gputypes.TextureFormat, error) {
	switch {
	case u == 0:
		return placement{}, format, fmt.Errorf("%w: empty texture usage", ErrInvalidUsage)
	case u&^textureUsageAll != 0:
		return placement{}, format, fmt.Errorf("%w: unknown texture usage %#x", ErrInvalidUsage, uint8(u))
	case u&TextureUsageDepth != 0 && u&(TextureUsageWrite|TextureUsageRenderTarget) != 0:
		return placement{}, format, fmt.Errorf("%w: %s: depth textures are not writable as color", ErrInvalidUsage, u)
	}

	p := placement{heap: gpu.HeapDefault, state: gpu.StateCommon}
	if u&TextureUsageDepth != 0 {
		if format == gputypes.TextureFormatUndefined {
			format = gputypes.TextureFormatDepth32Float
		}
		if format != gputypes.TextureFormatDepth32Float {
			return placement{}, format, fmt.Errorf("%w: depth texture format %v", ErrInvalidUsage, format)
		}
		p.state = gpu.StateDepthWrite
		p.flags |= gpu.FlagAllowDepthStencil
		p.views |= viewDSV
	} else {
		if format == gputypes.TextureFormatUndefined {
			format = gputypes.TextureFormatRGBA8Unorm
		}
		if format == gputypes.TextureFormatDepth32Float || gpu.BytesPerPixel(format) == 0 {
			return placement{}, format, fmt.Errorf("%w: color texture format %v", ErrInvalidUsage, format)
		}
	}
	if u&TextureUsageRead != 0 {
		p.views |= viewSRV
	}
	if u&TextureUsageWrite != 0 {
		p.flags |= gpu.FlagAllowUnorderedAccess
		p.views |= viewUAV
	}
	if u&TextureUsageRenderTarget != 0 {
		p.flags |= gpu.FlagAllowRenderTarget
		p.views |= viewRTV
	}
	return p, format, nil
}
