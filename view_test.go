package rtcore

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/chewxy/math32"
	"github.com/gogpu/rtcore/internal/linear"
)

func TestDefaultView(t *testing.T) {
	v := DefaultView()
	if v.Eye != [3]float32{0, 0, 3} || v.Target != ([3]float32{}) || v.Up != [3]float32{0, 1, 0} {
		t.Errorf("DefaultView = %+v", v)
	}
	if math32.Abs(v.FovY-math32.Pi/3) > 1e-6 {
		t.Errorf("FovY = %v", v.FovY)
	}
}

func TestViewNormalizedFillsDefaults(t *testing.T) {
	v, err := View{Eye: [3]float32{0, 0, 5}}.normalized()
	if err != nil {
		t.Fatal(err)
	}
	def := DefaultView()
	if v.Up != def.Up || v.FovY != def.FovY || v.Near != def.Near || v.Far != def.Far {
		t.Errorf("normalized = %+v", v)
	}

	v, err = View{Eye: [3]float32{0, 0, 5}, Near: 1, Far: 0.5}.normalized()
	if err != nil {
		t.Fatal(err)
	}
	if v.Far <= v.Near {
		t.Errorf("Far %v not beyond Near %v", v.Far, v.Near)
	}
}

func TestViewInvalid(t *testing.T) {
	tests := []struct {
		name string
		v    View
	}{
		{"eye at target", View{Eye: [3]float32{1, 2, 3}, Target: [3]float32{1, 2, 3}}},
		{"up along view", View{Eye: [3]float32{0, 5, 0}, Up: [3]float32{0, 1, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := tt.v.Matrices(4, 4); !errors.Is(err, ErrInvalidView) {
				t.Errorf("Matrices = %v, want ErrInvalidView", err)
			}
		})
	}
}

func TestViewMatricesInverse(t *testing.T) {
	v := View{Eye: [3]float32{2, 1, 4}, Target: [3]float32{0, 0.5, 0}, FovY: 1}
	vp, inv, err := v.Matrices(640, 480)
	if err != nil {
		t.Fatal(err)
	}
	var m, mi, id linear.M4
	for c := range 4 {
		for r := range 4 {
			m[c][r] = vp[c*4+r]
			mi[c][r] = inv[c*4+r]
		}
	}
	id.Mul(&m, &mi)
	for c := range 4 {
		for r := range 4 {
			want := float32(0)
			if c == r {
				want = 1
			}
			if math32.Abs(id[c][r]-want) > 1e-3 {
				t.Fatalf("vp*inv[%d][%d] = %v, want %v", c, r, id[c][r], want)
			}
		}
	}

	// The target projects to the centre of the screen.
	p := m.Transform(linear.V4{0, 0.5, 0, 1})
	if x, y := p[0]/p[3], p[1]/p[3]; math32.Abs(x) > 1e-4 || math32.Abs(y) > 1e-4 {
		t.Errorf("target projects to (%v, %v), want the origin", x, y)
	}
}

func TestViewEncode(t *testing.T) {
	b := make([]byte, viewConstantsSize)
	v := DefaultView()
	if err := v.encode(b, 64, 32); err != nil {
		t.Fatal(err)
	}
	f := func(off int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b[off:])) }
	if f(originOffset) != 0 || f(originOffset+8) != 3 {
		t.Errorf("origin = (%v, %v, %v)", f(originOffset), f(originOffset+4), f(originOffset+8))
	}
	if got, want := f(originOffset+12), math32.Tan(v.FovY/2); math32.Abs(got-want) > 1e-6 {
		t.Errorf("tan(fov/2) = %v, want %v", got, want)
	}
	if f(resolutionOffset) != 64 || f(resolutionOffset+4) != 32 {
		t.Errorf("resolution = %vx%v", f(resolutionOffset), f(resolutionOffset+4))
	}
	vp, inv, _ := v.Matrices(64, 32)
	if f(viewProjectionOffset) != vp[0] || f(invViewProjectionOffset+60) != inv[15] {
		t.Error("matrices not written at their offsets")
	}
}
