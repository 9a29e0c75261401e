package rtcore

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gogpu/rtcore/loader"
)

// writePNG writes a w x 1 image of c and returns its path.
func writePNG(t *testing.T, w int, c color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, 1))
	for x := range w {
		img.SetRGBA(x, 0, c)
	}
	path := filepath.Join(t.TempDir(), "base.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSceneFiles(t *testing.T) {
	green := color.RGBA{0, 200, 0, 255}
	white := color.RGBA{255, 255, 255, 255}
	tests := []struct {
		name  string
		path  string
		size  image.Point
		color color.RGBA
	}{
		{"image", writePNG(t, 2, green), image.Pt(2, 1), green},
		{"empty path", "", image.Pt(1, 1), white},
		{"missing file", filepath.Join(t.TempDir(), "missing.png"), image.Pt(1, 1), white},
	}
	mesh := loader.Quad(1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := LoadSceneFiles(mesh, tt.path)
			if s.Mesh != mesh {
				t.Error("mesh not kept")
			}
			if s.BaseColor == nil {
				t.Fatal("no base color")
			}
			if got := s.BaseColor.Rect.Size(); got != tt.size {
				t.Errorf("size %v, want %v", got, tt.size)
			}
			if got := s.BaseColor.RGBAAt(0, 0); got != tt.color {
				t.Errorf("texel %v, want %v", got, tt.color)
			}
		})
	}
}
