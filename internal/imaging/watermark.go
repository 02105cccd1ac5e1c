package imaging

import (
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	shadowOffset = 2
	margin       = 10
)

// DateStamp formats the watermark text, e.g. "K 07.03.2024".
func DateStamp(letter string, now time.Time) string {
	return strings.TrimSpace(letter + " " + now.Format("02.01.2006"))
}

// Watermarker draws text in the bottom-right corner of an image.
type Watermarker struct {
	font *opentype.Font
}

// NewWatermarker parses the TrueType/OpenType font at fontPath. An empty path
// selects the built-in bitmap face.
func NewWatermarker(fontPath string) (*Watermarker, error) {
	if strings.TrimSpace(fontPath) == "" {
		return &Watermarker{}, nil
	}
	raw, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("imaging: read font: %w", err)
	}
	f, err := opentype.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("imaging: parse font: %w", err)
	}
	return &Watermarker{font: f}, nil
}

// Apply rewrites path with text drawn white over a 2px black shadow. The
// font size is 5% of the shorter image side.
func (w *Watermarker) Apply(path, text string) error {
	src, err := Load(path)
	if err != nil {
		return err
	}
	img := toRGBA(src)
	face, err := w.face(img.Bounds())
	if err != nil {
		return err
	}
	defer face.Close()

	drawer := &font.Drawer{Dst: img, Face: face}
	width := drawer.MeasureString(text).Ceil()
	b := img.Bounds()
	x := b.Max.X - width - margin - shadowOffset
	y := b.Max.Y - margin - shadowOffset - face.Metrics().Descent.Ceil()
	if x < 0 {
		x = 0
	}

	drawer.Src = image.NewUniform(shadowColor)
	drawer.Dot = fixed.P(x+shadowOffset, y+shadowOffset)
	drawer.DrawString(text)
	drawer.Src = image.NewUniform(textColor)
	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(text)

	return Save(path, img)
}

func (w *Watermarker) face(b image.Rectangle) (font.Face, error) {
	if w == nil || w.font == nil {
		return basicfont.Face7x13, nil
	}
	short := b.Dx()
	if b.Dy() < short {
		short = b.Dy()
	}
	size := float64(short) * 0.05
	if size < 8 {
		size = 8
	}
	face, err := opentype.NewFace(w.font, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("imaging: font face: %w", err)
	}
	return face, nil
}
