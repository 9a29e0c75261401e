package rtcore

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Frame is a rendered image read back from the color attachment.
type Frame struct {
	width  int
	height int
	data   []uint8 // RGBA format, 4 bytes per pixel
}

// newFrame wraps tightly packed RGBA8 rows.
func newFrame(width, height int, data []uint8) *Frame {
	return &Frame{width: width, height: height, data: data}
}

// Width returns the width of the frame.
func (f *Frame) Width() int {
	return f.width
}

// Height returns the height of the frame.
func (f *Frame) Height() int {
	return f.height
}

// Data returns the raw pixel data (RGBA format).
func (f *Frame) Data() []uint8 {
	return f.data
}

// RGBAAt returns the pixel at (x, y). Coordinates outside the frame
// return transparent black.
func (f *Frame) RGBAAt(x, y int) color.RGBA {
	if x < 0 || x >= f.width || y < 0 || y >= f.height {
		return color.RGBA{}
	}
	i := (y*f.width + x) * 4
	return color.RGBA{R: f.data[i], G: f.data[i+1], B: f.data[i+2], A: f.data[i+3]}
}

// ToImage converts the frame to an image.RGBA.
func (f *Frame) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	copy(img.Pix, f.data)
	return img
}

// At implements the image.Image interface.
func (f *Frame) At(x, y int) color.Color {
	return f.RGBAAt(x, y)
}

// Bounds implements the image.Image interface.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.width, f.height)
}

// ColorModel implements the image.Image interface.
func (f *Frame) ColorModel() color.Model {
	return color.RGBAModel
}

// ImageFormat is an output encoding of a Frame.
type ImageFormat uint8

const (
	FormatPNG ImageFormat = iota
	FormatJPEG
	FormatBMP
	FormatTIFF
)

func (f ImageFormat) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	case FormatBMP:
		return "bmp"
	case FormatTIFF:
		return "tiff"
	}
	return fmt.Sprintf("ImageFormat(%d)", uint8(f))
}

// FormatFromPath returns the format matching the extension of path.
func FormatFromPath(path string) (ImageFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return FormatPNG, nil
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	case ".bmp":
		return FormatBMP, nil
	case ".tif", ".tiff":
		return FormatTIFF, nil
	}
	return 0, fmt.Errorf("rtcore: no image format for %q", path)
}

// Encode writes the frame to w in the given format.
func (f *Frame) Encode(w io.Writer, format ImageFormat) error {
	img := f.ToImage()
	var err error
	switch format {
	case FormatPNG:
		err = png.Encode(w, img)
	case FormatJPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	case FormatBMP:
		err = bmp.Encode(w, img)
	case FormatTIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("rtcore: unknown image format %v", format)
	}
	if err != nil {
		return fmt.Errorf("rtcore: encode %v: %w", format, err)
	}
	return nil
}

// Save writes the frame to path in the format named by its extension.
func (f *Frame) Save(path string) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	out, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	if err := f.Encode(out, format); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// SavePNG writes the frame to path as PNG.
func (f *Frame) SavePNG(path string) error {
	out, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	if err := f.Encode(out, FormatPNG); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
