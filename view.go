package rtcore

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"github.com/gogpu/rtcore/internal/linear"
)

// View is a pinhole camera.
type View struct {
	Eye    [3]float32
	Target [3]float32
	Up     [3]float32

	// FovY is the vertical field of view in radians.
	FovY float32

	Near, Far float32
}

// DefaultView returns a camera three units in front of the origin on +Z,
// looking at the origin with a 60 degree vertical field of view.
func DefaultView() View {
	return View{
		Eye:  [3]float32{0, 0, 3},
		Up:   [3]float32{0, 1, 0},
		FovY: math32.Pi / 3,
		Near: 0.1,
		Far:  100,
	}
}

// Layout of the view constant buffer.
const (
	viewProjectionOffset    = 0
	invViewProjectionOffset = 64
	originOffset            = 128
	resolutionOffset        = 144

	// viewConstantsSize is the byte size of the view constants.
	viewConstantsSize = 152
)

// normalized fills zero fields with the defaults and rejects degenerate
// cameras.
func (v View) normalized() (View, error) {
	def := DefaultView()
	if v.Up == ([3]float32{}) {
		v.Up = def.Up
	}
	if v.FovY <= 0 || v.FovY >= math32.Pi {
		v.FovY = def.FovY
	}
	if v.Near <= 0 {
		v.Near = def.Near
	}
	if v.Far <= v.Near {
		v.Far = max(def.Far, v.Near*1000)
	}
	fwd := linear.Sub(v.Target, v.Eye)
	if linear.Len(fwd) == 0 {
		return v, fmt.Errorf("%w: eye and target coincide at %v", ErrInvalidView, v.Eye)
	}
	if linear.Len(linear.Cross(fwd, v.Up)) < 1e-6*linear.Len(fwd)*linear.Len(v.Up) {
		return v, fmt.Errorf("%w: up %v is parallel to the view direction", ErrInvalidView, v.Up)
	}
	return v, nil
}

// Matrices returns the view-projection matrix of v for the given frame
// size and its inverse, both column-major.
func (v View) Matrices(width, height uint32) (vp, inv [16]float32, err error) {
	v, err = v.normalized()
	if err != nil {
		return vp, inv, err
	}
	var view, proj, m, mi linear.M4
	view.LookAt(v.Eye, v.Target, v.Up)
	proj.Perspective(v.FovY, float32(max(width, 1))/float32(max(height, 1)), v.Near, v.Far)
	m.Mul(&proj, &view)
	mi.Invert(&m)
	return m.Floats(), mi.Floats(), nil
}

// encode writes the view constants for a width x height frame into b:
// the view-projection matrix, its inverse, the eye position with
// tan(FovY/2) in w, and the resolution.
func (v View) encode(b []byte, width, height uint32) error {
	_ = b[viewConstantsSize-1]
	vp, inv, err := v.Matrices(width, height)
	if err != nil {
		return err
	}
	v, _ = v.normalized()
	putFloats(b[viewProjectionOffset:], vp[:]...)
	putFloats(b[invViewProjectionOffset:], inv[:]...)
	putFloats(b[originOffset:], v.Eye[0], v.Eye[1], v.Eye[2], math32.Tan(v.FovY/2))
	putFloats(b[resolutionOffset:], float32(width), float32(height))
	return nil
}

func putFloats(b []byte, fs ...float32) {
	for i, f := range fs {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
}
