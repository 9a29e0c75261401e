package soft

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/rtcore/gpu"
	"github.com/gogpu/rtcore/internal/linear"
)

// accelStruct is the opaque content of an acceleration structure buffer.
type accelStruct struct {
	typ       gpu.ASType
	tris      *bvh
	instances []tlasInstance
}

type tlasInstance struct {
	desc          gpu.InstanceDesc
	blas          *bvh
	worldToObject [3][4]float32
	min, max      linear.V3
}

func alignUp(n, a uint64) uint64 { return (n + a - 1) &^ (a - 1) }

func triangleCount(g gpu.GeometryTriangles) uint64 {
	if g.IndexFormat != gpu.IndexFormatNone {
		return uint64(g.IndexCount) / 3
	}
	return uint64(g.VertexCount) / 3
}

func (d *Device) ASPrebuildInfo(in gpu.ASInputs) (gpu.ASPrebuildInfo, error) {
	if err := d.removed(); err != nil {
		return gpu.ASPrebuildInfo{}, err
	}
	switch in.Type {
	case gpu.ASBottomLevel:
		if len(in.Geometries) == 0 {
			return gpu.ASPrebuildInfo{}, fmt.Errorf("%w: bottom-level build without geometry", gpu.ErrInvalidArgument)
		}
		var tris uint64
		for _, g := range in.Geometries {
			if g.VertexFormat != gpu.VertexFormatFloat32x3 {
				return gpu.ASPrebuildInfo{}, fmt.Errorf("%w: vertex format %d", gpu.ErrUnsupported, g.VertexFormat)
			}
			if g.IndexFormat != gpu.IndexFormatNone && g.IndexCount%3 != 0 {
				return gpu.ASPrebuildInfo{}, fmt.Errorf("%w: %d indices do not form triangles", gpu.ErrInvalidArgument, g.IndexCount)
			}
			tris += triangleCount(g)
		}
		return gpu.ASPrebuildInfo{
			ResultDataMaxSize: alignUp(64+tris*64, gpu.ASAlignment),
			ScratchDataSize:   alignUp(max(tris*32, 1), gpu.ASAlignment),
		}, nil
	case gpu.ASTopLevel:
		n := uint64(in.InstanceCount)
		return gpu.ASPrebuildInfo{
			ResultDataMaxSize: alignUp(64+n*gpu.InstanceDescSize, gpu.ASAlignment),
			ScratchDataSize:   alignUp(max(n*16, 1), gpu.ASAlignment),
		}, nil
	}
	return gpu.ASPrebuildInfo{}, fmt.Errorf("%w: acceleration structure type %d", gpu.ErrInvalidArgument, in.Type)
}

func (x *executor) buildAS(desc gpu.ASBuildDesc) error {
	info, err := x.dev.ASPrebuildInfo(desc.Inputs)
	if err != nil {
		return err
	}

	dst, off, err := x.dev.resolve(desc.Dest)
	if err != nil {
		return fmt.Errorf("acceleration structure destination: %w", err)
	}
	if err := live(dst); err != nil {
		return err
	}
	if off != 0 || desc.Dest%gpu.ASAlignment != 0 {
		return fmt.Errorf("%w: acceleration structure must start at an aligned buffer start", gpu.ErrInvalidArgument)
	}
	if dst.state != gpu.StateRaytracingAS {
		return fmt.Errorf("%w: acceleration structure %q in state %#x", gpu.ErrInvalidState, dst.desc.Label, dst.state)
	}
	if dst.desc.Size < info.ResultDataMaxSize {
		return fmt.Errorf("%w: %q holds %d bytes, build needs %d", gpu.ErrInvalidArgument, dst.desc.Label, dst.desc.Size, info.ResultDataMaxSize)
	}

	scratch, soff, err := x.dev.resolve(desc.Scratch)
	if err != nil {
		return fmt.Errorf("acceleration structure scratch: %w", err)
	}
	if err := live(scratch); err != nil {
		return err
	}
	if scratch.desc.Flags&gpu.FlagAllowUnorderedAccess == 0 ||
		(scratch.state != gpu.StateCommon && scratch.state != gpu.StateUnorderedAccess) {
		return fmt.Errorf("%w: scratch %q must be an unordered access buffer", gpu.ErrInvalidState, scratch.desc.Label)
	}
	if scratch.desc.Size-soff < info.ScratchDataSize {
		return fmt.Errorf("%w: scratch %q too small", gpu.ErrInvalidArgument, scratch.desc.Label)
	}

	var as *accelStruct
	if desc.Inputs.Type == gpu.ASBottomLevel {
		as, err = x.buildBottom(desc.Inputs)
	} else {
		as, err = x.buildTop(desc.Inputs)
	}
	if err != nil {
		return err
	}
	dst.accel = as
	binary.LittleEndian.PutUint32(dst.data, uint32(as.typ)+1)
	return nil
}

func (x *executor) buildBottom(in gpu.ASInputs) (*accelStruct, error) {
	var tris []triangle
	var prim uint32
	for gi, g := range in.Geometries {
		vb, voff, err := x.dev.resolve(g.VertexBuffer)
		if err != nil {
			return nil, fmt.Errorf("geometry %d vertices: %w", gi, err)
		}
		stride := max(g.VertexStride, 12)
		if g.VertexCount == 0 || voff+uint64(g.VertexCount-1)*stride+12 > vb.desc.Size {
			return nil, fmt.Errorf("%w: geometry %d vertex range exceeds %q", gpu.ErrInvalidArgument, gi, vb.desc.Label)
		}
		vertex := func(i uint32) linear.V3 {
			o := voff + uint64(i)*stride
			return linear.V3{
				math.Float32frombits(binary.LittleEndian.Uint32(vb.data[o:])),
				math.Float32frombits(binary.LittleEndian.Uint32(vb.data[o+4:])),
				math.Float32frombits(binary.LittleEndian.Uint32(vb.data[o+8:])),
			}
		}

		index := func(i uint32) uint32 { return i }
		if g.IndexFormat != gpu.IndexFormatNone {
			ib, ioff, err := x.dev.resolve(g.IndexBuffer)
			if err != nil {
				return nil, fmt.Errorf("geometry %d indices: %w", gi, err)
			}
			isz := g.IndexFormat.Size()
			if ioff+uint64(g.IndexCount)*isz > ib.desc.Size {
				return nil, fmt.Errorf("%w: geometry %d index range exceeds %q", gpu.ErrInvalidArgument, gi, ib.desc.Label)
			}
			if isz == 2 {
				index = func(i uint32) uint32 { return uint32(binary.LittleEndian.Uint16(ib.data[ioff+uint64(i)*2:])) }
			} else {
				index = func(i uint32) uint32 { return binary.LittleEndian.Uint32(ib.data[ioff+uint64(i)*4:]) }
			}
		}

		n := uint32(triangleCount(g))
		for t := range n {
			i0, i1, i2 := index(3*t), index(3*t+1), index(3*t+2)
			if i0 >= g.VertexCount || i1 >= g.VertexCount || i2 >= g.VertexCount {
				return nil, fmt.Errorf("%w: triangle %d of geometry %d indexes past %d vertices", gpu.ErrInvalidArgument, t, gi, g.VertexCount)
			}
			v0, v1, v2 := vertex(i0), vertex(i1), vertex(i2)
			tris = append(tris, triangle{v0: v0, e1: linear.Sub(v1, v0), e2: linear.Sub(v2, v0), prim: prim})
			prim++
		}
	}
	return &accelStruct{typ: gpu.ASBottomLevel, tris: newBVH(tris)}, nil
}

func (x *executor) buildTop(in gpu.ASInputs) (*accelStruct, error) {
	as := &accelStruct{typ: gpu.ASTopLevel}
	if in.InstanceCount == 0 {
		return as, nil
	}
	ib, ioff, err := x.dev.resolve(in.Instances)
	if err != nil {
		return nil, fmt.Errorf("instance descriptors: %w", err)
	}
	if ioff+uint64(in.InstanceCount)*gpu.InstanceDescSize > ib.desc.Size {
		return nil, fmt.Errorf("%w: %d instances exceed %q", gpu.ErrInvalidArgument, in.InstanceCount, ib.desc.Label)
	}

	for i := range in.InstanceCount {
		o := ioff + uint64(i)*gpu.InstanceDescSize
		desc := gpu.DecodeInstanceDesc(ib.data[o : o+gpu.InstanceDescSize])
		blasRes, boff, err := x.dev.resolve(desc.AccelerationStructure)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		if boff != 0 || blasRes.accel == nil || blasRes.accel.typ != gpu.ASBottomLevel {
			return nil, fmt.Errorf("%w: instance %d does not reference a built bottom-level structure", gpu.ErrInvalidArgument, i)
		}
		inst := tlasInstance{desc: desc, blas: blasRes.accel.tris}
		var ok bool
		if inst.worldToObject, ok = invertAffine(desc.Transform); !ok {
			return nil, fmt.Errorf("%w: instance %d has a singular transform", gpu.ErrInvalidArgument, i)
		}
		lo, hi, ok := inst.blas.bounds()
		if !ok {
			continue
		}
		inst.min, inst.max = transformBounds(desc.Transform, lo, hi)
		as.instances = append(as.instances, inst)
	}
	return as, nil
}

// trace finds the closest hit of r against a top-level structure.
func (as *accelStruct) trace(r ray, mask uint8) (hitRecord, bool) {
	hit := hitRecord{t: r.tmax, instance: -1}
	for i := range as.instances {
		inst := &as.instances[i]
		if inst.desc.Mask&mask == 0 || !r.slab(inst.min, inst.max, hit.t) {
			continue
		}
		m := &inst.worldToObject
		o := applyAffine(m, r.origin, 1)
		d := applyAffine(m, r.dir, 0)
		local := newRay(o, d, r.tmin, r.tmax)
		if inst.blas.intersect(&local, &hit) {
			hit.instance = i
			if inst.desc.Flags&gpu.InstanceFrontCounterClockwise == 0 {
				hit.front = !hit.front
			}
		}
	}
	return hit, hit.instance >= 0
}

func applyAffine(m *[3][4]float32, v linear.V3, w float32) linear.V3 {
	var out linear.V3
	for r := range 3 {
		out[r] = m[r][0]*v[0] + m[r][1]*v[1] + m[r][2]*v[2] + m[r][3]*w
	}
	return out
}

func invertAffine(m [3][4]float32) ([3][4]float32, bool) {
	a, b, c := m[0][0], m[0][1], m[0][2]
	d, e, f := m[1][0], m[1][1], m[1][2]
	g, h, i := m[2][0], m[2][1], m[2][2]
	det := a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
	if det == 0 {
		return [3][4]float32{}, false
	}
	inv := 1 / det
	var r [3][4]float32
	r[0][0], r[0][1], r[0][2] = (e*i-f*h)*inv, (c*h-b*i)*inv, (b*f-c*e)*inv
	r[1][0], r[1][1], r[1][2] = (f*g-d*i)*inv, (a*i-c*g)*inv, (c*d-a*f)*inv
	r[2][0], r[2][1], r[2][2] = (d*h-e*g)*inv, (b*g-a*h)*inv, (a*e-b*d)*inv
	t := linear.V3{m[0][3], m[1][3], m[2][3]}
	for row := range 3 {
		r[row][3] = -(r[row][0]*t[0] + r[row][1]*t[1] + r[row][2]*t[2])
	}
	return r, true
}

func transformBounds(m [3][4]float32, lo, hi linear.V3) (linear.V3, linear.V3) {
	var wlo, whi linear.V3
	for c := range 8 {
		p := linear.V3{lo[0], lo[1], lo[2]}
		if c&1 != 0 {
			p[0] = hi[0]
		}
		if c&2 != 0 {
			p[1] = hi[1]
		}
		if c&4 != 0 {
			p[2] = hi[2]
		}
		w := applyAffine(&m, p, 1)
		if c == 0 {
			wlo, whi = w, w
			continue
		}
		wlo, whi = linear.Min(wlo, w), linear.Max(whi, w)
	}
	return wlo, whi
}
