// Package preprocess prepares capture images for OCR: black bars left by
// screen recorders are cropped, the image is converted to grayscale and its
// contrast is stretched. The result is written next to the source as
// <name>_prep.png.
package preprocess

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	// Decoders for capture formats.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/rs/zerolog"

	"quizsnap/internal/logger"
)

const (
	// Suffix marks preprocessed images.
	Suffix = "_prep"

	DefaultContrast = 1.2
	minContrast     = 0.5
	maxContrast     = 3.0

	sampleColumns  = 32
	blackLuma      = 20
	blackRowFactor = 0.9
)

// Preprocessor writes OCR-friendly copies of capture images.
type Preprocessor struct {
	contrast float64
	log      zerolog.Logger
}

// New creates a preprocessor. contrast is clamped to [0.5, 3.0]; zero
// selects DefaultContrast.
func New(contrast float64) *Preprocessor {
	if contrast == 0 {
		contrast = DefaultContrast
	}
	contrast = min(max(contrast, minContrast), maxContrast)
	return &Preprocessor{contrast: contrast, log: logger.WithComponent("preprocess")}
}

// IsPreprocessed reports whether path names an image written by Preprocess.
func IsPreprocessed(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(strings.TrimSuffix(name, filepath.Ext(name)), Suffix)
}

// OutputPath returns where Preprocess writes the processed copy of path.
func OutputPath(path string) string {
	name := filepath.Base(path)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(filepath.Dir(path), base+Suffix+".png")
}

// Preprocess returns the path of the processed image and true. On any read,
// decode or write error it returns "", false and the caller should use the
// original image. Images that are already preprocessed are returned as is.
func (p *Preprocessor) Preprocess(imagePath string) (string, bool) {
	if IsPreprocessed(imagePath) {
		return imagePath, true
	}

	src, err := decode(imagePath)
	if err != nil {
		p.log.Debug().Err(err).Str("file", imagePath).Msg("Preprocessing skipped")
		return "", false
	}

	bounds := contentBounds(src)
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := stretch(luma(src.At(x, y)), p.contrast)
			gray.SetGray(x-bounds.Min.X, y-bounds.Min.Y, color.Gray{Y: v})
		}
	}

	out := OutputPath(imagePath)
	if err := encode(out, gray); err != nil {
		p.log.Warn().Err(err).Str("file", out).Msg("Failed to write preprocessed image")
		return "", false
	}
	return out, true
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func encode(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// contentBounds strips black rows from the top and the bottom. When less
// than a tenth of the image would remain the original bounds are kept.
func contentBounds(img image.Image) image.Rectangle {
	b := img.Bounds()
	top, bottom := b.Min.Y, b.Max.Y-1
	for top <= bottom && isBlackRow(img, top) {
		top++
	}
	for bottom >= top && isBlackRow(img, bottom) {
		bottom--
	}
	if float64(bottom-top+1) < 0.1*float64(b.Dy()) {
		return b
	}
	return image.Rect(b.Min.X, top, b.Max.X, bottom+1)
}

func isBlackRow(img image.Image, y int) bool {
	b := img.Bounds()
	step := max(1, b.Dx()/sampleColumns)
	samples, dark := 0, 0
	for x := b.Min.X; x < b.Max.X; x += step {
		r, g, bl, _ := img.At(x, y).RGBA()
		if (r>>8+g>>8+bl>>8)/3 < blackLuma {
			dark++
		}
		samples++
	}
	return samples > 0 && float64(dark) >= blackRowFactor*float64(samples)
}

func luma(c color.Color) float64 {
	r, g, b, _ := c.RGBA()
	return 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
}

func stretch(v, factor float64) uint8 {
	out := (v-128)*factor + 128
	return uint8(min(max(out, 0), 255))
}
