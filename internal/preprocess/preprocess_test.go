package preprocess

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
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

func readPNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

// letterboxed returns a 64x100 image with black bars of the given height.
func letterboxed(bar int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 64, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 64; x++ {
			c := color.RGBA{200, 200, 200, 255}
			if y < bar || y >= 100-bar {
				c = color.RGBA{0, 0, 0, 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func TestPreprocessCropsBlackBars(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "q1.png", letterboxed(10))

	out, ok := New(1.2).Preprocess(src)
	if !ok {
		t.Fatal("preprocess failed")
	}
	if out != filepath.Join(dir, "q1_prep.png") {
		t.Fatalf("out = %s", out)
	}

	img := readPNG(t, out)
	if h := img.Bounds().Dy(); h != 80 {
		t.Fatalf("height = %d, want 80", h)
	}
	// 200 stretched by 1.2 around 128 is 214.
	if g := color.GrayModel.Convert(img.At(5, 5)).(color.Gray).Y; g < 213 || g > 215 {
		t.Fatalf("gray value = %d, want about 214", g)
	}
}

func TestPreprocessKeepsMostlyBlackImages(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "dark.png", letterboxed(46))

	out, ok := New(1).Preprocess(src)
	if !ok {
		t.Fatal("preprocess failed")
	}
	if h := readPNG(t, out).Bounds().Dy(); h != 100 {
		t.Fatalf("height = %d, want the original 100", h)
	}
}

func TestPreprocessFailures(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(broken, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(0)
	for _, path := range []string{broken, filepath.Join(dir, "missing.png")} {
		if out, ok := p.Preprocess(path); ok || out != "" {
			t.Fatalf("Preprocess(%s) = %q, %v; want \"\", false", filepath.Base(path), out, ok)
		}
	}
}

func TestPreprocessedImagesAreNotReprocessed(t *testing.T) {
	path := "/captures/q1_prep.png"
	out, ok := New(0).Preprocess(path)
	if !ok || out != path {
		t.Fatalf("Preprocess = %q, %v", out, ok)
	}
}

func TestContrastIsClamped(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, DefaultContrast},
		{0.1, 0.5},
		{9, 3},
		{1.5, 1.5},
	}
	for _, tt := range tests {
		if got := New(tt.in).contrast; got != tt.want {
			t.Errorf("New(%v).contrast = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStretchClamps(t *testing.T) {
	if got := stretch(250, 3); got != 255 {
		t.Fatalf("stretch(250, 3) = %d", got)
	}
	if got := stretch(10, 3); got != 0 {
		t.Fatalf("stretch(10, 3) = %d", got)
	}
}

func TestCropKeepingExactlyATenth(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "thin.png", letterboxed(45))

	out, ok := New(1).Preprocess(src)
	if !ok {
		t.Fatal("preprocess failed")
	}
	if h := readPNG(t, out).Bounds().Dy(); h != 10 {
		t.Fatalf("height = %d, want 10", h)
	}
}
