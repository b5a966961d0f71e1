package debug

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Screenshots writes frames read back from a device as timestamped PNG files.
type Screenshots struct {
	Dir    string
	Prefix string
}

// NewScreenshots creates a capture handler writing to dir.
func NewScreenshots(dir, prefix string) *Screenshots {
	return &Screenshots{Dir: dir, Prefix: prefix}
}

// Filename returns the path the next capture at t is written to.
func (s *Screenshots) Filename(t time.Time) string {
	name := fmt.Sprintf("%s_%s.png", s.Prefix, t.Format("2006-01-02_15-04-05"))
	if s.Dir != "" {
		name = filepath.Join(s.Dir, name)
	}
	return name
}

// Save writes RGBA pixels, rows bottom to top, to a new PNG file and returns its path.
func (s *Screenshots) Save(pixels []byte, width, height int) (string, error) {
	if s.Dir != "" {
		if err := os.MkdirAll(s.Dir, 0755); err != nil {
			return "", fmt.Errorf("creating output dir: %w", err)
		}
	}

	filename := s.Filename(time.Now())
	file, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}
	defer file.Close()

	if err := WritePNG(file, pixels, width, height); err != nil {
		return "", err
	}
	return filename, nil
}

// Image converts RGBA pixels with rows bottom to top into an image, flipping
// it vertically.
func Image(pixels []byte, width, height int) (*image.RGBA, error) {
	if len(pixels) != width*height*4 {
		return nil, fmt.Errorf("pixel data size mismatch: expected %d, got %d", width*height*4, len(pixels))
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	rowSize := width * 4
	for y := 0; y < height; y++ {
		src := (height - 1 - y) * rowSize
		dst := y * img.Stride
		copy(img.Pix[dst:dst+rowSize], pixels[src:src+rowSize])
	}
	return img, nil
}

// WritePNG encodes RGBA pixels with rows bottom to top as PNG.
func WritePNG(w io.Writer, pixels []byte, width, height int) error {
	img, err := Image(pixels, width, height)
	if err != nil {
		return err
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return nil
}
