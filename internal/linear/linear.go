// Package linear implements the small amount of float32 vector and
// matrix math needed by the camera and the software tracer.
//
// Matrices are column-major, matching the layout shaders read from
// constant buffers.
package linear

import "github.com/chewxy/math32"

// V3 is a 3-component vector.
type V3 [3]float32

// V4 is a 4-component vector.
type V4 [4]float32

// M4 is a column-major 4x4 matrix.
type M4 [4]V4

func Add(v, w V3) V3           { return V3{v[0] + w[0], v[1] + w[1], v[2] + w[2]} }
func Sub(v, w V3) V3           { return V3{v[0] - w[0], v[1] - w[1], v[2] - w[2]} }
func Scale(s float32, v V3) V3 { return V3{s * v[0], s * v[1], s * v[2]} }
func Mul(v, w V3) V3           { return V3{v[0] * w[0], v[1] * w[1], v[2] * w[2]} }
func Dot(v, w V3) float32      { return v[0]*w[0] + v[1]*w[1] + v[2]*w[2] }
func Len(v V3) float32         { return math32.Sqrt(Dot(v, v)) }

// Cross returns v × w.
func Cross(v, w V3) V3 {
	return V3{
		v[1]*w[2] - v[2]*w[1],
		v[2]*w[0] - v[0]*w[2],
		v[0]*w[1] - v[1]*w[0],
	}
}

// Norm returns v scaled to unit length. The zero vector is returned as is.
func Norm(v V3) V3 {
	l := Len(v)
	if l == 0 {
		return v
	}
	return Scale(1/l, v)
}

// Min returns the component-wise minimum.
func Min(v, w V3) V3 {
	return V3{math32.Min(v[0], w[0]), math32.Min(v[1], w[1]), math32.Min(v[2], w[2])}
}

// Max returns the component-wise maximum.
func Max(v, w V3) V3 {
	return V3{math32.Max(v[0], w[0]), math32.Max(v[1], w[1]), math32.Max(v[2], w[2])}
}

// I makes m an identity matrix.
func (m *M4) I() { *m = M4{{1}, {0, 1}, {0, 0, 1}, {0, 0, 0, 1}} }

// Mul sets m to contain l ⋅ r.
func (m *M4) Mul(l, r *M4) {
	var t M4
	for i := range t {
		for j := range t {
			for k := range t {
				t[i][j] += l[k][j] * r[i][k]
			}
		}
	}
	*m = t
}

// Transform returns m ⋅ v.
func (m *M4) Transform(v V4) (u V4) {
	for i := range m {
		for j := range u {
			u[j] += m[i][j] * v[i]
		}
	}
	return
}

// Invert sets m to contain the inverse of n.
// The result is undefined if n is singular.
func (m *M4) Invert(n *M4) {
	s0 := n[0][0]*n[1][1] - n[0][1]*n[1][0]
	s1 := n[0][0]*n[1][2] - n[0][2]*n[1][0]
	s2 := n[0][0]*n[1][3] - n[0][3]*n[1][0]
	s3 := n[0][1]*n[1][2] - n[0][2]*n[1][1]
	s4 := n[0][1]*n[1][3] - n[0][3]*n[1][1]
	s5 := n[0][2]*n[1][3] - n[0][3]*n[1][2]
	c0 := n[2][0]*n[3][1] - n[2][1]*n[3][0]
	c1 := n[2][0]*n[3][2] - n[2][2]*n[3][0]
	c2 := n[2][0]*n[3][3] - n[2][3]*n[3][0]
	c3 := n[2][1]*n[3][2] - n[2][2]*n[3][1]
	c4 := n[2][1]*n[3][3] - n[2][3]*n[3][1]
	c5 := n[2][2]*n[3][3] - n[2][3]*n[3][2]
	idet := 1 / (s0*c5 - s1*c4 + s2*c3 + s3*c2 - s4*c1 + s5*c0)
	var t M4
	t[0][0] = (c5*n[1][1] - c4*n[1][2] + c3*n[1][3]) * idet
	t[0][1] = (-c5*n[0][1] + c4*n[0][2] - c3*n[0][3]) * idet
	t[0][2] = (s5*n[3][1] - s4*n[3][2] + s3*n[3][3]) * idet
	t[0][3] = (-s5*n[2][1] + s4*n[2][2] - s3*n[2][3]) * idet
	t[1][0] = (-c5*n[1][0] + c2*n[1][2] - c1*n[1][3]) * idet
	t[1][1] = (c5*n[0][0] - c2*n[0][2] + c1*n[0][3]) * idet
	t[1][2] = (-s5*n[3][0] + s2*n[3][2] - s1*n[3][3]) * idet
	t[1][3] = (s5*n[2][0] - s2*n[2][2] + s1*n[2][3]) * idet
	t[2][0] = (c4*n[1][0] - c2*n[1][1] + c0*n[1][3]) * idet
	t[2][1] = (-c4*n[0][0] + c2*n[0][1] - c0*n[0][3]) * idet
	t[2][2] = (s4*n[3][0] - s2*n[3][1] + s0*n[3][3]) * idet
	t[2][3] = (-s4*n[2][0] + s2*n[2][1] - s0*n[2][3]) * idet
	t[3][0] = (-c3*n[1][0] + c1*n[1][1] - c0*n[1][2]) * idet
	t[3][1] = (c3*n[0][0] - c1*n[0][1] + c0*n[0][2]) * idet
	t[3][2] = (-s3*n[3][0] + s1*n[3][1] - s0*n[3][2]) * idet
	t[3][3] = (s3*n[2][0] - s1*n[2][1] + s0*n[2][2]) * idet
	*m = t
}

// LookAt sets m to a right-handed view matrix.
func (m *M4) LookAt(eye, center, up V3) {
	f := Norm(Sub(center, eye))
	s := Norm(Cross(f, up))
	u := Cross(s, f)
	*m = M4{
		{s[0], u[0], -f[0], 0},
		{s[1], u[1], -f[1], 0},
		{s[2], u[2], -f[2], 0},
		{-Dot(s, eye), -Dot(u, eye), Dot(f, eye), 1},
	}
}

// Perspective sets m to a right-handed projection with depth in [0, 1].
// fovY is in radians.
func (m *M4) Perspective(fovY, aspect, near, far float32) {
	f := 1 / math32.Tan(fovY/2)
	*m = M4{
		{f / aspect},
		{0, f},
		{0, 0, far / (near - far), -1},
		{0, 0, near * far / (near - far), 0},
	}
}

// Floats returns m as 16 floats in column-major order.
func (m *M4) Floats() (f [16]float32) {
	for i := range m {
		copy(f[i*4:], m[i][:])
	}
	return
}
