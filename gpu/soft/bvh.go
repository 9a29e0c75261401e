package soft

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/gogpu/rtcore/internal/linear"
)

// maxLeafTriangles is the largest primitive count stored in a leaf.
const maxLeafTriangles = 4

// triangle is a BVH primitive with precomputed edges.
type triangle struct {
	v0, e1, e2 linear.V3
	prim       uint32
}

// bvhNode is an inner node when count is 0; first is then the index of
// the right child and the left child follows the node. A leaf stores
// count triangles starting at first.
type bvhNode struct {
	min, max linear.V3
	first    uint32
	count    uint32
}

// bvh is a bounding volume hierarchy over triangles.
type bvh struct {
	nodes []bvhNode
	tris  []triangle
}

type bvhPrimitive struct {
	min, max, center linear.V3
	tri              triangle
}

func newBVH(tris []triangle) *bvh {
	b := &bvh{}
	if len(tris) == 0 {
		return b
	}
	prims := make([]bvhPrimitive, len(tris))
	for i, t := range tris {
		v1 := linear.Add(t.v0, t.e1)
		v2 := linear.Add(t.v0, t.e2)
		lo := linear.Min(t.v0, linear.Min(v1, v2))
		hi := linear.Max(t.v0, linear.Max(v1, v2))
		prims[i] = bvhPrimitive{min: lo, max: hi, center: linear.Scale(0.5, linear.Add(lo, hi)), tri: t}
	}
	b.nodes = make([]bvhNode, 0, 2*len(prims)/maxLeafTriangles+1)
	b.tris = make([]triangle, 0, len(prims))
	b.build(prims)
	return b
}

// build appends the subtree over prims and returns its node index.
func (b *bvh) build(prims []bvhPrimitive) uint32 {
	lo, hi := prims[0].min, prims[0].max
	clo, chi := prims[0].center, prims[0].center
	for _, p := range prims[1:] {
		lo, hi = linear.Min(lo, p.min), linear.Max(hi, p.max)
		clo, chi = linear.Min(clo, p.center), linear.Max(chi, p.center)
	}

	idx := uint32(len(b.nodes))
	b.nodes = append(b.nodes, bvhNode{min: lo, max: hi})

	ext := linear.Sub(chi, clo)
	if len(prims) <= maxLeafTriangles || (ext[0] == 0 && ext[1] == 0 && ext[2] == 0) {
		b.nodes[idx].first = uint32(len(b.tris))
		b.nodes[idx].count = uint32(len(prims))
		for _, p := range prims {
			b.tris = append(b.tris, p.tri)
		}
		return idx
	}

	axis := 0
	if ext[1] > ext[axis] {
		axis = 1
	}
	if ext[2] > ext[axis] {
		axis = 2
	}
	sort.Slice(prims, func(i, j int) bool { return prims[i].center[axis] < prims[j].center[axis] })
	mid := len(prims) / 2

	b.build(prims[:mid])
	right := b.build(prims[mid:])
	b.nodes[idx].first = right
	return idx
}

// bounds returns the root bounding box.
func (b *bvh) bounds() (linear.V3, linear.V3, bool) {
	if len(b.nodes) == 0 {
		return linear.V3{}, linear.V3{}, false
	}
	return b.nodes[0].min, b.nodes[0].max, true
}

// ray is a ray with a precomputed inverse direction.
type ray struct {
	origin, dir, invDir linear.V3
	tmin, tmax          float32
}

func newRay(origin, dir linear.V3, tmin, tmax float32) ray {
	return ray{
		origin: origin,
		dir:    dir,
		invDir: linear.V3{1 / dir[0], 1 / dir[1], 1 / dir[2]},
		tmin:   tmin,
		tmax:   tmax,
	}
}

// hitRecord is the closest intersection found so far.
type hitRecord struct {
	t        float32
	u, v     float32
	prim     uint32
	instance int
	front    bool
}

// slab reports whether r intersects the box before tmax.
func (r *ray) slab(lo, hi linear.V3, tmax float32) bool {
	t0, t1 := r.tmin, tmax
	for a := range 3 {
		near := (lo[a] - r.origin[a]) * r.invDir[a]
		far := (hi[a] - r.origin[a]) * r.invDir[a]
		if near > far {
			near, far = far, near
		}
		// NaN from 0*Inf leaves the bound unchanged.
		if near > t0 {
			t0 = near
		}
		if far < t1 {
			t1 = far
		}
		if t0 > t1 {
			return false
		}
	}
	return true
}

// intersect finds the closest triangle hit closer than hit.t.
// It returns true if hit was updated.
func (b *bvh) intersect(r *ray, hit *hitRecord) bool {
	if len(b.nodes) == 0 {
		return false
	}
	found := false
	var stack [64]uint32
	sp := 0
	stack[sp] = 0
	sp++
	for sp > 0 {
		sp--
		ni := stack[sp]
		n := &b.nodes[ni]
		if !r.slab(n.min, n.max, hit.t) {
			continue
		}
		if n.count > 0 {
			for i := n.first; i < n.first+n.count; i++ {
				if intersectTriangle(r, &b.tris[i], hit) {
					found = true
				}
			}
			continue
		}
		// Median splits keep the depth logarithmic, far below the stack size.
		stack[sp] = n.first
		stack[sp+1] = ni + 1
		sp += 2
	}
	return found
}

// intersectTriangle is the Möller-Trumbore test. Triangles are double
// sided; the facing is recorded for the hit shader.
func intersectTriangle(r *ray, t *triangle, hit *hitRecord) bool {
	p := linear.Cross(r.dir, t.e2)
	det := linear.Dot(t.e1, p)
	if math32.Abs(det) < 1e-9 {
		return false
	}
	inv := 1 / det
	s := linear.Sub(r.origin, t.v0)
	u := linear.Dot(s, p) * inv
	if u < 0 || u > 1 {
		return false
	}
	q := linear.Cross(s, t.e1)
	v := linear.Dot(r.dir, q) * inv
	if v < 0 || u+v > 1 {
		return false
	}
	d := linear.Dot(t.e2, q) * inv
	if d < r.tmin || d >= hit.t {
		return false
	}
	hit.t, hit.u, hit.v, hit.prim = d, u, v, t.prim
	hit.front = det > 0
	return true
}
