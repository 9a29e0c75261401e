// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package soft

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/chewxy/math32"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/rtcore/gpu"
	"github.com/gogpu/rtcore/internal/linear"
	"github.com/gogpu/rtcore/internal/parallel"
)

// Programs of the default shader library. Records naming other exports
// fail the dispatch with gpu.ErrUnsupported.
const (
	rayGenProgram     = "RayGenShader_Default"
	missProgram       = "MissShader_Default"
	closestHitProgram = "ClosestHitShader_Default"
)

// Register bindings read by the default programs.
var (
	bindView   = rangeKey{gpu.RangeCBV, 0, 0}
	bindOutput = rangeKey{gpu.RangeUAV, 0, 0}
	bindScene  = rangeKey{gpu.RangeSRV, 0, 0}
	bindVertex = rangeKey{gpu.RangeSRV, 0, 1}
	bindIndex  = rangeKey{gpu.RangeSRV, 0, 2}
	bindColor  = rangeKey{gpu.RangeSRV, 0, 3}
)

// View constant buffer layout.
const (
	viewProjectionOffset    = 0
	invViewProjectionOffset = 64
	originOffset            = 128
	resolutionOffset        = 144
	viewConstantsSize       = 152
)

// vertexStride is the layout of the vertex buffer read by the hit program:
// position float3, texcoord float2, normal float3.
const vertexStride = 32

const (
	rayTMin = 1e-3
	rayTMax = 1e4
)

var lightDir = linear.Norm(linear.V3{0.4, 1, 0.6})

// shaderRecord is a decoded shader table record.
type shaderRecord struct {
	entry shaderEntry
	views map[rangeKey]view
}

// camera holds the view constants read by the ray generation program.
type camera struct {
	invVP      linear.M4
	origin     linear.V3
	resolution [2]float32
}

// hitShader is a closest-hit record bound to its geometry.
type hitShader struct {
	verts []byte
	idx   []byte
	color *resource
}

type dispatch struct {
	width, height uint32
	out           *resource
	cam           camera
	scene         *accelStruct
	hits          map[uint32]*hitShader
}

func (x *executor) dispatchRays(desc gpu.DispatchRaysDesc) error {
	if x.pipeline == nil {
		return fmt.Errorf("%w: DispatchRays without a pipeline", gpu.ErrInvalidState)
	}
	if desc.Depth != 1 {
		return fmt.Errorf("%w: dispatch depth %d", gpu.ErrUnsupported, desc.Depth)
	}

	raygen, err := x.shaderRecord(desc.RayGeneration.Address, desc.RayGeneration.Size)
	if err != nil {
		return fmt.Errorf("ray generation record: %w", err)
	}
	if raygen.entry.program != rayGenProgram {
		return fmt.Errorf("%w: ray generation export %q", gpu.ErrUnsupported, raygen.entry.program)
	}
	miss, err := x.shaderRecord(desc.Miss.Address, desc.Miss.Size)
	if err != nil {
		return fmt.Errorf("miss record: %w", err)
	}
	if miss.entry.program != missProgram {
		return fmt.Errorf("%w: miss export %q", gpu.ErrUnsupported, miss.entry.program)
	}

	dp := &dispatch{width: desc.Width, height: desc.Height, hits: make(map[uint32]*hitShader)}
	if err := dp.bindRayGen(x.dev, raygen); err != nil {
		return err
	}
	for _, inst := range dp.scene.instances {
		hgi := inst.desc.HitGroupIndex
		if _, ok := dp.hits[hgi]; ok {
			continue
		}
		stride := max(desc.HitGroup.Stride, desc.HitGroup.Size)
		addr := desc.HitGroup.Address + uint64(hgi)*stride
		if uint64(hgi)*stride >= desc.HitGroup.Size {
			return fmt.Errorf("%w: hit group index %d outside the hit group table", gpu.ErrInvalidArgument, hgi)
		}
		rec, err := x.shaderRecord(addr, desc.HitGroup.Size-uint64(hgi)*stride)
		if err != nil {
			return fmt.Errorf("hit group record %d: %w", hgi, err)
		}
		if rec.entry.program != closestHitProgram {
			return fmt.Errorf("%w: closest hit program %q", gpu.ErrUnsupported, rec.entry.program)
		}
		hs, err := bindHit(rec)
		if err != nil {
			return fmt.Errorf("hit group %q: %w", rec.entry.name, err)
		}
		dp.hits[hgi] = hs
	}

	tiles := parallel.Tiles(int(desc.Width), int(desc.Height), x.dev.cfg.TileSize)
	var (
		errOnce  sync.Once
		traceErr error
	)
	work := make([]func(), len(tiles))
	for i, tile := range tiles {
		work[i] = func() {
			if err := dp.traceTile(tile); err != nil {
				errOnce.Do(func() { traceErr = err })
			}
		}
	}
	x.dev.pool.ExecuteAll(work)
	return traceErr
}

// shaderRecord decodes the record at addr: the shader identifier followed
// by the GPU descriptor-table handle of its local root signature.
func (x *executor) shaderRecord(addr, size uint64) (shaderRecord, error) {
	if size < gpu.ShaderIdentifierSize {
		return shaderRecord{}, fmt.Errorf("%w: record of %d bytes", gpu.ErrInvalidArgument, size)
	}
	if addr%gpu.ShaderRecordAlignment != 0 {
		return shaderRecord{}, fmt.Errorf("%w: record address %#x not aligned", gpu.ErrInvalidArgument, addr)
	}
	buf, off, err := x.dev.resolve(addr)
	if err != nil {
		return shaderRecord{}, err
	}
	if err := live(buf); err != nil {
		return shaderRecord{}, err
	}
	data := buf.data[off:]
	if uint64(len(data)) < min(size, gpu.ShaderIdentifierSize+gpu.DescriptorTableHandleSize) {
		return shaderRecord{}, fmt.Errorf("%w: record at %#x exceeds %q", gpu.ErrInvalidArgument, addr, buf.desc.Label)
	}

	entry, ok := x.pipeline.lookup(data[:gpu.ShaderIdentifierSize])
	if !ok {
		return shaderRecord{}, fmt.Errorf("%w: record at %#x holds an unknown shader identifier", gpu.ErrInvalidArgument, addr)
	}
	rec := shaderRecord{entry: entry}
	rs := x.pipeline.localSignature(entry)
	if rs == nil || len(rs.offsets) == 0 {
		return rec, nil
	}
	if size < gpu.ShaderIdentifierSize+gpu.DescriptorTableHandleSize {
		return shaderRecord{}, fmt.Errorf("%w: record of %q has no descriptor table", gpu.ErrInvalidArgument, entry.name)
	}

	handle := binary.LittleEndian.Uint64(data[gpu.ShaderIdentifierSize:])
	if handle&gpuHandleBit == 0 {
		return shaderRecord{}, fmt.Errorf("%w: descriptor table %#x of %q is not a GPU handle", gpu.ErrInvalidArgument, handle, entry.name)
	}
	heap, base, err := x.dev.slot(handle)
	if err != nil {
		return shaderRecord{}, err
	}
	if !x.bound(heap) {
		return shaderRecord{}, fmt.Errorf("%w: descriptor table of %q is outside the bound heaps", gpu.ErrInvalidState, entry.name)
	}
	rec.views = make(map[rangeKey]view, len(rs.offsets))
	for key, off := range rs.offsets {
		if base+off >= heap.desc.Count {
			return shaderRecord{}, fmt.Errorf("%w: descriptor table of %q overruns its heap", gpu.ErrInvalidArgument, entry.name)
		}
		rec.views[key] = heap.load(base + off)
	}
	return rec, nil
}

func (x *executor) bound(h *descriptorHeap) bool {
	for _, b := range x.heaps {
		if b == h {
			return true
		}
	}
	return false
}

func requireView(rec shaderRecord, key rangeKey, kind gpu.ViewKind) (view, error) {
	v := rec.views[key]
	if v.desc.Kind != kind {
		return view{}, fmt.Errorf("%w: %s register %d space %d of %q is not bound", gpu.ErrInvalidArgument,
			key.typ, key.register, key.space, rec.entry.name)
	}
	if v.res != nil {
		if err := live(v.res); err != nil {
			return view{}, err
		}
	}
	return v, nil
}

func (dp *dispatch) bindRayGen(d *Device, rec shaderRecord) error {
	cb, err := requireView(rec, bindView, gpu.ViewCBV)
	if err != nil {
		return err
	}
	if cb.desc.SizeInBytes < viewConstantsSize {
		return fmt.Errorf("%w: view constants need %d bytes", gpu.ErrInvalidArgument, viewConstantsSize)
	}
	c := cb.res.data
	dp.cam.invVP = readM4(c[invViewProjectionOffset:])
	for i := range 3 {
		dp.cam.origin[i] = readFloat(c[originOffset+4*i:])
	}
	dp.cam.resolution = [2]float32{readFloat(c[resolutionOffset:]), readFloat(c[resolutionOffset+4:])}

	uav, err := requireView(rec, bindOutput, gpu.ViewUAV)
	if err != nil {
		return err
	}
	out := uav.res
	if out.desc.Dimension != gpu.DimensionTexture2D || gpu.BytesPerPixel(out.desc.Format) != 4 ||
		out.desc.Format == gputypes.TextureFormatDepth32Float {
		return fmt.Errorf("%w: output %q must be an 8-bit color texture", gpu.ErrInvalidArgument, out.desc.Label)
	}
	if out.state&gpu.StateUnorderedAccess == 0 {
		return fmt.Errorf("%w: output %q in state %#x", gpu.ErrInvalidState, out.desc.Label, out.state)
	}
	dp.out = out

	srv, err := requireView(rec, bindScene, gpu.ViewSRV)
	if err != nil {
		return err
	}
	if !srv.desc.AccelerationStructure {
		return fmt.Errorf("%w: scene binding is not an acceleration structure view", gpu.ErrInvalidArgument)
	}
	as, _, err := d.resolve(srv.desc.Location)
	if err != nil {
		return fmt.Errorf("scene: %w", err)
	}
	if as.state != gpu.StateRaytracingAS || as.accel == nil || as.accel.typ != gpu.ASTopLevel {
		return fmt.Errorf("%w: scene %q is not a built top-level structure", gpu.ErrInvalidState, as.desc.Label)
	}
	dp.scene = as.accel
	return nil
}

func bindHit(rec shaderRecord) (*hitShader, error) {
	vb, err := requireView(rec, bindVertex, gpu.ViewSRV)
	if err != nil {
		return nil, err
	}
	ib, err := requireView(rec, bindIndex, gpu.ViewSRV)
	if err != nil {
		return nil, err
	}
	tex, err := requireView(rec, bindColor, gpu.ViewSRV)
	if err != nil {
		return nil, err
	}
	if vb.res.desc.Dimension != gpu.DimensionBuffer || ib.res.desc.Dimension != gpu.DimensionBuffer {
		return nil, fmt.Errorf("%w: vertex and index views must be buffers", gpu.ErrInvalidArgument)
	}
	if tex.res.desc.Dimension != gpu.DimensionTexture2D || gpu.BytesPerPixel(tex.res.desc.Format) != 4 {
		return nil, fmt.Errorf("%w: base color %q must be an 8-bit color texture", gpu.ErrInvalidArgument, tex.res.desc.Label)
	}
	return &hitShader{
		verts: bufferView(vb, vertexStride),
		idx:   bufferView(ib, 4),
		color: tex.res,
	}, nil
}

// bufferView returns the bytes of a structured buffer SRV.
func bufferView(v view, stride uint64) []byte {
	if v.desc.StructureStride != 0 {
		stride = uint64(v.desc.StructureStride)
	}
	n := uint64(len(v.res.data))
	start := min(uint64(v.desc.FirstElement)*stride, n)
	end := min(start+uint64(v.desc.NumElements)*stride, n)
	return v.res.data[start:end]
}

func (dp *dispatch) traceTile(t parallel.Tile) error {
	bpp := 4
	pitch := int(dp.out.desc.Width) * bpp
	bgra := dp.out.desc.Format == gputypes.TextureFormatBGRA8Unorm
	for y := t.Y; y < t.Y+t.Height; y++ {
		if y >= int(dp.out.desc.Height) {
			break
		}
		for x := t.X; x < t.X+t.Width; x++ {
			if x >= int(dp.out.desc.Width) {
				break
			}
			c, err := dp.rayGen(uint32(x), uint32(y))
			if err != nil {
				return err
			}
			px := dp.out.data[y*pitch+x*bpp:]
			px[0], px[1], px[2], px[3] = unorm8(c[0]), unorm8(c[1]), unorm8(c[2]), unorm8(c[3])
			if bgra {
				px[0], px[2] = px[2], px[0]
			}
		}
	}
	return nil
}

// rayGen shoots the primary ray of pixel (x, y) through the far plane.
func (dp *dispatch) rayGen(x, y uint32) ([4]float32, error) {
	w, h := dp.cam.resolution[0], dp.cam.resolution[1]
	if w <= 0 || h <= 0 {
		w, h = float32(dp.width), float32(dp.height)
	}
	ndcX := (float32(x)+0.5)/w*2 - 1
	ndcY := 1 - (float32(y)+0.5)/h*2
	p := dp.cam.invVP.Transform(linear.V4{ndcX, ndcY, 1, 1})
	if p[3] == 0 {
		return dp.missColor(linear.V3{0, 0, -1}), nil
	}
	far := linear.V3{p[0] / p[3], p[1] / p[3], p[2] / p[3]}
	dir := linear.Norm(linear.Sub(far, dp.cam.origin))

	r := newRay(dp.cam.origin, dir, rayTMin, rayTMax)
	hit, ok := dp.scene.trace(r, 0xFF)
	if !ok {
		return dp.missColor(dir), nil
	}
	inst := &dp.scene.instances[hit.instance]
	return dp.hits[inst.desc.HitGroupIndex].shade(inst, hit, dir)
}

func (dp *dispatch) missColor(dir linear.V3) [4]float32 {
	t := 0.5 * (dir[1] + 1)
	return [4]float32{1 - 0.5*t, 1 - 0.3*t, 1, 1}
}

// shade is the closest-hit program: interpolated normal and texture
// coordinate, nearest sampled base color and a single directional light.
func (hs *hitShader) shade(inst *tlasInstance, hit hitRecord, dir linear.V3) ([4]float32, error) {
	base := uint64(hit.prim) * 12
	if base+12 > uint64(len(hs.idx)) {
		return [4]float32{}, fmt.Errorf("%w: primitive %d outside the index view", gpu.ErrInvalidArgument, hit.prim)
	}
	var pos [3]linear.V3
	var uv [3][2]float32
	var nrm [3]linear.V3
	for k := range 3 {
		i := uint64(binary.LittleEndian.Uint32(hs.idx[base+uint64(k)*4:]))
		o := i * vertexStride
		if o+vertexStride > uint64(len(hs.verts)) {
			return [4]float32{}, fmt.Errorf("%w: vertex %d outside the vertex view", gpu.ErrInvalidArgument, i)
		}
		v := hs.verts[o:]
		pos[k] = linear.V3{readFloat(v), readFloat(v[4:]), readFloat(v[8:])}
		uv[k] = [2]float32{readFloat(v[12:]), readFloat(v[16:])}
		nrm[k] = linear.V3{readFloat(v[20:]), readFloat(v[24:]), readFloat(v[28:])}
	}

	b0, b1, b2 := 1-hit.u-hit.v, hit.u, hit.v
	n := linear.Add(linear.Add(linear.Scale(b0, nrm[0]), linear.Scale(b1, nrm[1])), linear.Scale(b2, nrm[2]))
	if linear.Dot(n, n) == 0 {
		n = linear.Cross(linear.Sub(pos[1], pos[0]), linear.Sub(pos[2], pos[0]))
	}
	// Normals transform by the transpose of the world-to-object matrix.
	m := &inst.worldToObject
	n = linear.Norm(linear.V3{
		m[0][0]*n[0] + m[1][0]*n[1] + m[2][0]*n[2],
		m[0][1]*n[0] + m[1][1]*n[1] + m[2][1]*n[2],
		m[0][2]*n[0] + m[1][2]*n[1] + m[2][2]*n[2],
	})
	if linear.Dot(n, dir) > 0 {
		n = linear.Scale(-1, n)
	}

	u := b0*uv[0][0] + b1*uv[1][0] + b2*uv[2][0]
	v := b0*uv[0][1] + b1*uv[1][1] + b2*uv[2][1]
	c := hs.sample(u, v)
	k := 0.25 + 0.75*max(0, linear.Dot(n, lightDir))
	return [4]float32{c[0] * k, c[1] * k, c[2] * k, c[3]}, nil
}

// sample reads the base color texture with nearest filtering and
// wrapped coordinates.
func (hs *hitShader) sample(u, v float32) [4]float32 {
	w, h := hs.color.desc.Width, hs.color.desc.Height
	u -= math32.Floor(u)
	v -= math32.Floor(v)
	x := min(uint32(u*float32(w)), w-1)
	y := min(uint32(v*float32(h)), h-1)
	px := hs.color.data[(y*w+x)*4:]
	c := [4]float32{float32(px[0]) / 255, float32(px[1]) / 255, float32(px[2]) / 255, float32(px[3]) / 255}
	if hs.color.desc.Format == gputypes.TextureFormatBGRA8Unorm {
		c[0], c[2] = c[2], c[0]
	}
	return c
}

func readFloat(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }

// readM4 reads a column-major matrix.
func readM4(b []byte) linear.M4 {
	var m linear.M4
	for c := range 4 {
		for r := range 4 {
			m[c][r] = readFloat(b[(c*4+r)*4:])
		}
	}
	return m
}
