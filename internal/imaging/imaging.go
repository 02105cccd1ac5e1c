// Package imaging post-processes generated images in place: quadrant crops of
// 2x2 grids and the date watermark.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"
)

// ErrInvalidQuadrant is returned for quadrants outside 1..4.
var ErrInvalidQuadrant = errors.New("imaging: quadrant must be between 1 and 4")

// Load decodes a png, jpeg or webp file.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("imaging: open: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("imaging: decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// Save writes img as PNG.
func Save(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("imaging: create: %w", err)
	}
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("imaging: encode: %w", err)
	}
	return f.Close()
}

// QuadrantPath is where CropQuadrant writes quadrant q of path.
func QuadrantPath(path string, q int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s_q%d.png", strings.TrimSuffix(path, ext), q)
}

// CropQuadrant cuts one cell out of a 2x2 grid: 1 top-left, 2 top-right,
// 3 bottom-left, 4 bottom-right. The source file is left untouched.
func CropQuadrant(path string, q int) (string, error) {
	if q < 1 || q > 4 {
		return "", ErrInvalidQuadrant
	}
	src, err := Load(path)
	if err != nil {
		return "", err
	}
	b := src.Bounds()
	halfW, halfH := b.Dx()/2, b.Dy()/2
	x0 := b.Min.X + ((q-1)%2)*halfW
	y0 := b.Min.Y + ((q-1)/2)*halfH
	rect := image.Rect(0, 0, halfW, halfH)

	dst := image.NewRGBA(rect)
	draw.Draw(dst, rect, src, image.Pt(x0, y0), draw.Src)

	out := QuadrantPath(path, q)
	if err := Save(out, dst); err != nil {
		return "", err
	}
	return out, nil
}

func toRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

var (
	textColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	shadowColor = color.RGBA{A: 255}
)
