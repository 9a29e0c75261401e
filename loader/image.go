// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package loader

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image errors.
var (
	// ErrUnsupportedFormat is returned when the content is not a decodable image.
	ErrUnsupportedFormat = errors.New("loader: unsupported image format")

	// ErrEmptyData is returned when image data is empty.
	ErrEmptyData = errors.New("loader: empty image data")
)

// sniffLen is the number of leading bytes filetype needs to match.
const sniffLen = 262

// decodable lists the filetype extensions with a registered decoder.
var decodable = map[string]bool{
	"png":  true,
	"jpg":  true,
	"bmp":  true,
	"tif":  true,
	"webp": true,
}

// Format reports the detected image format of data, such as "png" or
// "jpg". It returns ErrUnsupportedFormat if no registered decoder
// handles the content.
func Format(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyData
	}
	kind, err := filetype.Match(data[:min(len(data), sniffLen)])
	if err != nil {
		return "", fmt.Errorf("loader: sniff: %w", err)
	}
	if kind == filetype.Unknown || !decodable[kind.Extension] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, kind.MIME.Value)
	}
	return kind.Extension, nil
}

// LoadImage decodes the image file at path into RGBA8.
func LoadImage(path string) (*image.RGBA, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("loader: read image: %w", err)
	}
	img, err := DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// DecodeImage decodes image bytes into RGBA8.
func DecodeImage(data []byte) (*image.RGBA, error) {
	format, err := Format(data)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("loader: decode %s: %w", format, err)
	}
	slogger().Debug("loader: image decoded", "format", format,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	return ToRGBA(img), nil
}

// ReadImage decodes an image from r into RGBA8.
func ReadImage(r io.Reader) (*image.RGBA, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("loader: read image: %w", err)
	}
	return DecodeImage(data)
}

// LoadImageOrWhite loads the image at path, falling back to White when
// the path is empty or the image cannot be loaded.
func LoadImageOrWhite(path string) *image.RGBA {
	if path == "" {
		return White()
	}
	img, err := LoadImage(path)
	if err != nil {
		slogger().Warn("loader: using white texture", "path", path, "err", err)
		return White()
	}
	return img
}

// ToRGBA converts img to an *image.RGBA whose bounds start at the origin.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// White returns a 1x1 opaque white image.
func White() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.SetRGBA(0, 0, color.RGBA{255, 255, 255, 255})
	return img
}

// Checker returns a w x h checkerboard of cell-sized squares alternating
// between a and b, starting with a in the top-left corner.
func Checker(w, h, cell int, a, b color.RGBA) *image.RGBA {
	cell = max(cell, 1)
	img := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	for y := range img.Rect.Dy() {
		for x := range img.Rect.Dx() {
			c := a
			if (x/cell+y/cell)%2 == 1 {
				c = b
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// Texels returns the pixels of img as tightly packed RGBA8 rows.
// The result shares memory with img when its rows are already packed.
func Texels(img *image.RGBA) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	row := w * 4
	if img.Stride == row && img.Rect.Min == (image.Point{}) {
		return img.Pix[:row*h]
	}
	out := make([]byte, row*h)
	for y := range h {
		start := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		copy(out[y*row:(y+1)*row], img.Pix[start:start+row])
	}
	return out
}
