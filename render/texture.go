package render

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rtcore/gpu"
)

// TextureDesc describes a 2D texture. An undefined Format selects RGBA8
// for color usages and D32 for depth.
type TextureDesc struct {
	Width, Height uint32
	Format        gputypes.TextureFormat
	Usage         TextureUsage
}

// Texture owns a native 2D texture and its views.
type Texture struct {
	ctx   *Context
	name  string
	desc  TextureDesc
	place placement

	res   gpu.Resource
	views views
	refs  refs
}

var _ Resource = (*Texture)(nil)

// NewTexture creates a texture.
func NewTexture(ctx *Context, name string, desc TextureDesc) (*Texture, error) {
	place, format, err := resolveTextureUsage(desc.Usage, desc.Format)
	if err != nil {
		slogger().Error("render: invalid texture usage", "name", name, "usage", desc.Usage, "format", desc.Format)
		return nil, fmt.Errorf("texture %q: %w", name, err)
	}
	desc.Format = format
	t := &Texture{ctx: ctx, name: name, desc: desc, place: place}
	t.refs.init()

	if t.res, err = t.newResource(desc.Width, desc.Height); err != nil {
		return nil, err
	}
	if err := t.views.allocate(ctx, place.views); err != nil {
		t.destroy()
		return nil, fmt.Errorf("texture %q views: %w", name, err)
	}
	if err := t.createViews(); err != nil {
		t.destroy()
		return nil, err
	}
	slogger().Debug("render: texture created", "name", name, "width", desc.Width, "height", desc.Height, "format", format)
	return t, nil
}

func (t *Texture) newResource(w, h uint32) (gpu.Resource, error) {
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: texture %q of %dx%d", ErrInvalidUsage, t.name, w, h)
	}
	return t.ctx.Device.newResource(gpu.ResourceDesc{
		Label:        t.name,
		Dimension:    gpu.DimensionTexture2D,
		Heap:         gpu.HeapDefault,
		Width:        w,
		Height:       h,
		Format:       t.desc.Format,
		Flags:        t.place.flags,
		InitialState: t.place.state,
	})
}

// createViews writes every view of the texture into its slots.
func (t *Texture) createViews() error {
	kinds := []struct {
		set  viewSet
		kind gpu.ViewKind
	}{
		{viewSRV, gpu.ViewSRV},
		{viewUAV, gpu.ViewUAV},
		{viewRTV, gpu.ViewRTV},
		{viewDSV, gpu.ViewDSV},
	}
	for _, k := range kinds {
		if t.place.views&k.set == 0 {
			continue
		}
		desc := gpu.ViewDesc{Kind: k.kind, Resource: t.res, Format: t.desc.Format}
		if err := t.ctx.Device.createView(desc, t.views.handle(k.kind)); err != nil {
			return fmt.Errorf("texture %q: %w", t.name, err)
		}
	}
	return nil
}

// SetData uploads tightly packed texel rows covering the whole texture.
// Rows are staged with the copy pitch alignment and copied with paired
// barriers around the resting state.
func (t *Texture) SetData(texels []byte) error {
	bpp := gpu.BytesPerPixel(t.desc.Format)
	row := uint64(t.desc.Width) * uint64(bpp)
	if uint64(len(texels)) != row*uint64(t.desc.Height) {
		slogger().Error("render: texture data size mismatch", "name", t.name, "len", len(texels), "want", row*uint64(t.desc.Height))
		return fmt.Errorf("%w: %d bytes for %dx%d texture %q", ErrOutOfBounds, len(texels), t.desc.Width, t.desc.Height, t.name)
	}
	fp := t.footprint()
	staging, err := NewBuffer(t.ctx, t.name+" staging", BufferDesc{
		Usage:       BufferUsageUpload,
		NumElements: t.desc.Height,
		ElementSize: fp.RowPitch,
	})
	if err != nil {
		return err
	}
	defer staging.Release()
	for y := range uint64(t.desc.Height) {
		copy(staging.mapped[y*uint64(fp.RowPitch):], texels[y*row:(y+1)*row])
	}

	q := t.ctx.Queue
	list, err := q.GetCommandList()
	if err != nil {
		return err
	}
	if err := list.CopyBufferToTexture(t, staging, fp); err != nil {
		q.Discard(list)
		return err
	}
	if _, err := q.ExecuteCommandList(list); err != nil {
		return fmt.Errorf("upload %q: %w", t.name, err)
	}
	return nil
}

// footprint returns the buffer layout of the whole texture with rows
// aligned to the copy pitch.
func (t *Texture) footprint() gpu.Footprint {
	row := t.desc.Width * gpu.BytesPerPixel(t.desc.Format)
	return gpu.Footprint{
		Width:    t.desc.Width,
		Height:   t.desc.Height,
		RowPitch: uint32(alignUp(uint64(row), gpu.TexturePitchAlignment)),
		Format:   t.desc.Format,
	}
}

// Resize recreates the texture at the new size and rewrites its views
// in their existing descriptor slots, so tables that copied or point at
// those slots stay valid after the copies are refreshed. Resizing to
// the current size does nothing and keeps the native resource.
//
// The caller must ensure the GPU no longer uses the texture.
func (t *Texture) Resize(w, h uint32) error {
	if w == t.desc.Width && h == t.desc.Height {
		return nil
	}
	res, err := t.newResource(w, h)
	if err != nil {
		return err
	}
	old := t.res
	t.res = res
	t.desc.Width, t.desc.Height = w, h
	err = t.createViews()
	old.Destroy()
	if err != nil {
		return err
	}
	slogger().Debug("render: texture resized", "name", t.name, "width", w, "height", h)
	return nil
}

// View returns the CPU descriptor of the given kind.
func (t *Texture) View(kind gpu.ViewKind) (gpu.CPUHandle, error) {
	if t.place.views&viewBits(kind) == 0 {
		return 0, fmt.Errorf("%w: texture %q has no %s view", ErrInvalidUsage, t.name, kind)
	}
	return t.views.handle(kind), nil
}

func (t *Texture) Desc() TextureDesc { return t.desc }

func (t *Texture) Width() uint32 { return t.desc.Width }

func (t *Texture) Height() uint32 { return t.desc.Height }

func (t *Texture) Name() string { return t.name }

// Heap returns gpu.HeapDefault; textures are never CPU visible.
func (t *Texture) Heap() gpu.HeapType { return gpu.HeapDefault }

func (t *Texture) Native() gpu.Resource { return t.res }

func (t *Texture) State() gpu.ResourceState { return t.place.state }

func (t *Texture) ref() Releaser {
	t.refs.acquire()
	return t
}

// Release drops a reference. The last one destroys the texture and
// frees its views.
func (t *Texture) Release() {
	if t.refs.drop() {
		t.destroy()
	}
}

func (t *Texture) destroy() {
	t.views.free()
	if t.res != nil {
		t.res.Destroy()
	}
}

// ResolveTexture copies src into dst, which must have the same size and
// format, and executes the copy on the context queue.
func ResolveTexture(ctx *Context, dst, src *Texture) error {
	if dst.desc.Width != src.desc.Width || dst.desc.Height != src.desc.Height || dst.desc.Format != src.desc.Format {
		return fmt.Errorf("%w: resolve %q (%dx%d %v) into %q (%dx%d %v)", ErrInvalidUsage,
			src.name, src.desc.Width, src.desc.Height, src.desc.Format,
			dst.name, dst.desc.Width, dst.desc.Height, dst.desc.Format)
	}
	list, err := ctx.Queue.GetCommandList()
	if err != nil {
		return err
	}
	if err := list.CopyResource(dst, src); err != nil {
		ctx.Queue.Discard(list)
		return err
	}
	_, err = ctx.Queue.ExecuteCommandList(list)
	return err
}
