package loader

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestQuad(t *testing.T) {
	m := Quad(2)
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
	if len(m.Vertices) != 4 || len(m.Indices) != 6 {
		t.Fatalf("quad has %d vertices, %d indices", len(m.Vertices), len(m.Indices))
	}
	lo, hi := m.Bounds()
	if lo != [3]float32{-1, -1, 0} || hi != [3]float32{1, 1, 0} {
		t.Errorf("Bounds = %v %v", lo, hi)
	}
}

func TestCube(t *testing.T) {
	m := Cube(1)
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
	if len(m.Vertices) != 24 || len(m.Indices) != 36 {
		t.Fatalf("cube has %d vertices, %d indices", len(m.Vertices), len(m.Indices))
	}
	lo, hi := m.Bounds()
	if lo != [3]float32{-0.5, -0.5, -0.5} || hi != [3]float32{0.5, 0.5, 0.5} {
		t.Errorf("Bounds = %v %v", lo, hi)
	}

	// Every triangle winds counter-clockwise around its outward normal.
	for i := 0; i < len(m.Indices); i += 3 {
		a := m.Vertices[m.Indices[i]]
		b := m.Vertices[m.Indices[i+1]]
		c := m.Vertices[m.Indices[i+2]]
		var e1, e2 [3]float32
		for k := range 3 {
			e1[k] = b.Position[k] - a.Position[k]
			e2[k] = c.Position[k] - a.Position[k]
		}
		n := [3]float32{
			e1[1]*e2[2] - e1[2]*e2[1],
			e1[2]*e2[0] - e1[0]*e2[2],
			e1[0]*e2[1] - e1[1]*e2[0],
		}
		dot := n[0]*a.Normal[0] + n[1]*a.Normal[1] + n[2]*a.Normal[2]
		if dot <= 0 {
			t.Errorf("triangle %d winds clockwise (normal %v)", i/3, a.Normal)
		}
		for k := range 3 {
			if a.Position[k]*a.Normal[k] < 0 {
				t.Errorf("triangle %d lies on the wrong side for normal %v", i/3, a.Normal)
			}
		}
	}
}

func TestMeshBytes(t *testing.T) {
	m := Quad(2)
	vb := m.VertexBytes()
	if len(vb) != 4*VertexSize {
		t.Fatalf("len(VertexBytes) = %d", len(vb))
	}
	// Second vertex: position (1,-1,0), uv (1,1), normal (0,0,1).
	want := []float32{1, -1, 0, 1, 1, 0, 0, 1}
	for i, w := range want {
		got := math.Float32frombits(binary.LittleEndian.Uint32(vb[VertexSize+4*i:]))
		if got != w {
			t.Errorf("float %d = %v, want %v", i, got, w)
		}
	}

	ib := m.IndexBytes()
	if len(ib) != 6*IndexSize {
		t.Fatalf("len(IndexBytes) = %d", len(ib))
	}
	for i, idx := range m.Indices {
		if got := binary.LittleEndian.Uint32(ib[4*i:]); got != idx {
			t.Errorf("index %d = %d, want %d", i, got, idx)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		mesh Mesh
	}{
		{"empty", Mesh{}},
		{"partial triangle", Mesh{Vertices: make([]Vertex, 3), Indices: []uint32{0, 1}}},
		{"out of range", Mesh{Vertices: make([]Vertex, 3), Indices: []uint32{0, 1, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.mesh.Validate(); !errors.Is(err, ErrInvalidMesh) {
				t.Errorf("Validate = %v, want ErrInvalidMesh", err)
			}
		})
	}
}
