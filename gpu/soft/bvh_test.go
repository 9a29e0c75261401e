package soft

import (
	"testing"

	"github.com/gogpu/rtcore/internal/linear"
)

func quadTriangles(z float32) []triangle {
	v := []linear.V3{{-1, -1, z}, {1, -1, z}, {1, 1, z}, {-1, 1, z}}
	mk := func(a, b, c int, prim uint32) triangle {
		return triangle{v0: v[a], e1: linear.Sub(v[b], v[a]), e2: linear.Sub(v[c], v[a]), prim: prim}
	}
	return []triangle{mk(0, 1, 2, 0), mk(0, 2, 3, 1)}
}

func TestBVHIntersect(t *testing.T) {
	var tris []triangle
	// A stack of quads deep enough to force inner nodes.
	for i := range 8 {
		for _, tri := range quadTriangles(-float32(i)) {
			tri.prim += uint32(2 * i)
			tris = append(tris, tri)
		}
	}
	b := newBVH(tris)
	if len(b.nodes) < 3 {
		t.Fatalf("BVH has %d nodes, want inner nodes", len(b.nodes))
	}

	tests := []struct {
		name   string
		origin linear.V3
		dir    linear.V3
		hit    bool
		t      float32
		front  bool
	}{
		{"front face", linear.V3{0.5, -0.5, 5}, linear.V3{0, 0, -1}, true, 5, true},
		{"back face", linear.V3{-0.5, 0.5, -10}, linear.V3{0, 0, 1}, true, 3, false},
		{"miss beside", linear.V3{3, 0, 5}, linear.V3{0, 0, -1}, false, 0, false},
		{"miss parallel", linear.V3{0, 0, 0.5}, linear.V3{1, 0, 0}, false, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRay(tt.origin, tt.dir, rayTMin, rayTMax)
			hit := hitRecord{t: rayTMax, instance: -1}
			got := b.intersect(&r, &hit)
			if got != tt.hit {
				t.Fatalf("intersect = %v, want %v", got, tt.hit)
			}
			if !got {
				return
			}
			if d := hit.t - tt.t; d > 1e-4 || d < -1e-4 {
				t.Errorf("t = %v, want %v", hit.t, tt.t)
			}
			if hit.front != tt.front {
				t.Errorf("front = %v, want %v", hit.front, tt.front)
			}
		})
	}
}

func TestBVHEmpty(t *testing.T) {
	b := newBVH(nil)
	if _, _, ok := b.bounds(); ok {
		t.Error("empty BVH has bounds")
	}
	r := newRay(linear.V3{}, linear.V3{0, 0, -1}, 0, 1)
	hit := hitRecord{t: 1}
	if b.intersect(&r, &hit) {
		t.Error("empty BVH reported a hit")
	}
}

func TestInvertAffine(t *testing.T) {
	m := [3][4]float32{{2, 0, 0, 1}, {0, 1, 0, -2}, {0, 0, 4, 3}}
	inv, ok := invertAffine(m)
	if !ok {
		t.Fatal("invertAffine reported singular")
	}
	p := linear.V3{1, 2, 3}
	back := applyAffine(&inv, applyAffine(&m, p, 1), 1)
	for i := range back {
		if d := back[i] - p[i]; d > 1e-5 || d < -1e-5 {
			t.Fatalf("round trip = %v, want %v", back, p)
		}
	}
	if _, ok := invertAffine([3][4]float32{}); ok {
		t.Error("zero matrix inverted")
	}
}
