// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package loader prepares scene data for upload: triangle meshes as
// vertex and index byte spans, and base color textures as tightly
// packed RGBA8 texels.
//
// Meshes are either built procedurally (Quad, Cube) or supplied by the
// caller. Images are decoded from PNG, JPEG, BMP, TIFF and WebP; the
// format is detected from the file contents, not the extension.
package loader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// VertexSize is the byte size of an encoded Vertex.
const VertexSize = 32

// IndexSize is the byte size of an encoded index.
const IndexSize = 4

// Vertex is the vertex layout read by the closest-hit shader.
type Vertex struct {
	Position [3]float32
	TexCoord [2]float32
	Normal   [3]float32
}

// Mesh is an indexed triangle list.
type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
}

// ErrInvalidMesh is returned by Mesh.Validate.
var ErrInvalidMesh = errors.New("loader: invalid mesh")

// Validate checks that m holds whole triangles indexing existing vertices.
func (m *Mesh) Validate() error {
	switch {
	case len(m.Vertices) == 0 || len(m.Indices) == 0:
		return fmt.Errorf("%w: %d vertices, %d indices", ErrInvalidMesh, len(m.Vertices), len(m.Indices))
	case len(m.Indices)%3 != 0:
		return fmt.Errorf("%w: %d indices do not form triangles", ErrInvalidMesh, len(m.Indices))
	}
	for i, idx := range m.Indices {
		if int(idx) >= len(m.Vertices) {
			return fmt.Errorf("%w: index %d references vertex %d of %d", ErrInvalidMesh, i, idx, len(m.Vertices))
		}
	}
	return nil
}

// VertexBytes encodes the vertices, VertexSize bytes each.
func (m *Mesh) VertexBytes() []byte {
	b := make([]byte, 0, len(m.Vertices)*VertexSize)
	for _, v := range m.Vertices {
		for _, f := range v.Position {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
		}
		for _, f := range v.TexCoord {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
		}
		for _, f := range v.Normal {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
		}
	}
	return b
}

// IndexBytes encodes the indices as 32-bit values.
func (m *Mesh) IndexBytes() []byte {
	b := make([]byte, 0, len(m.Indices)*IndexSize)
	for _, i := range m.Indices {
		b = binary.LittleEndian.AppendUint32(b, i)
	}
	return b
}

// Bounds returns the axis-aligned bounding box of the vertex positions.
func (m *Mesh) Bounds() (lo, hi [3]float32) {
	if len(m.Vertices) == 0 {
		return
	}
	lo, hi = m.Vertices[0].Position, m.Vertices[0].Position
	for _, v := range m.Vertices[1:] {
		for k := range 3 {
			lo[k] = min(lo[k], v.Position[k])
			hi[k] = max(hi[k], v.Position[k])
		}
	}
	return
}

// Quad returns a size x size square in the z=0 plane facing +z, with
// texture coordinates spanning the unit square.
func Quad(size float32) *Mesh {
	h := size / 2
	n := [3]float32{0, 0, 1}
	return &Mesh{
		Vertices: []Vertex{
			{Position: [3]float32{-h, -h, 0}, TexCoord: [2]float32{0, 1}, Normal: n},
			{Position: [3]float32{h, -h, 0}, TexCoord: [2]float32{1, 1}, Normal: n},
			{Position: [3]float32{h, h, 0}, TexCoord: [2]float32{1, 0}, Normal: n},
			{Position: [3]float32{-h, h, 0}, TexCoord: [2]float32{0, 0}, Normal: n},
		},
		Indices: []uint32{0, 1, 2, 0, 2, 3},
	}
}

// cubeFaces lists the outward normal and the in-plane axes of each face.
// u x v equals the normal, so the faces wind counter-clockwise seen
// from outside.
var cubeFaces = [6]struct{ n, u, v [3]float32 }{
	{[3]float32{1, 0, 0}, [3]float32{0, 0, -1}, [3]float32{0, 1, 0}},
	{[3]float32{-1, 0, 0}, [3]float32{0, 0, 1}, [3]float32{0, 1, 0}},
	{[3]float32{0, 1, 0}, [3]float32{1, 0, 0}, [3]float32{0, 0, -1}},
	{[3]float32{0, -1, 0}, [3]float32{1, 0, 0}, [3]float32{0, 0, 1}},
	{[3]float32{0, 0, 1}, [3]float32{1, 0, 0}, [3]float32{0, 1, 0}},
	{[3]float32{0, 0, -1}, [3]float32{-1, 0, 0}, [3]float32{0, 1, 0}},
}

// Cube returns an axis-aligned cube of edge size centered at the
// origin. Each face has its own four vertices so normals stay flat.
func Cube(size float32) *Mesh {
	h := size / 2
	m := &Mesh{
		Vertices: make([]Vertex, 0, 24),
		Indices:  make([]uint32, 0, 36),
	}
	corners := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
	for _, f := range cubeFaces {
		base := uint32(len(m.Vertices))
		for _, c := range corners {
			var p [3]float32
			for k := range 3 {
				p[k] = h * (f.n[k] + c[0]*f.u[k] + c[1]*f.v[k])
			}
			m.Vertices = append(m.Vertices, Vertex{
				Position: p,
				TexCoord: [2]float32{(c[0] + 1) / 2, (1 - c[1]) / 2},
				Normal:   f.n,
			})
		}
		m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return m
}
