// Package imaging converts, crops and measures PNG screenshots.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
)

// ErrInvalidSize is returned for a non-positive crop size.
var ErrInvalidSize = errors.New("imaging: invalid size")

// Decode reads a PNG from path.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Grey converts img to 8-bit greyscale using the ITU-R 601 luma weights.
func Grey(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	grey := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(grey, grey.Bounds(), img, b.Min, draw.Src)
	return grey
}

// Crop keeps the top-left width x height region of img. Dimensions already
// within the limit are left alone.
func Crop(img image.Image, width, height int) (image.Image, bool, error) {
	if width <= 0 || height <= 0 {
		return nil, false, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	b := img.Bounds()
	if b.Dx() <= width && b.Dy() <= height {
		return img, false, nil
	}

	r := image.Rect(b.Min.X, b.Min.Y, b.Min.X+min(width, b.Dx()), b.Min.Y+min(height, b.Dy()))
	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(r), true, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst, true, nil
}

// Size returns the width and height of the PNG at path without decoding
// its pixels.
func Size(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	cfg, err := png.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

// WritePNG encodes img to path through a temp file in the same directory,
// so a crash never leaves a truncated image behind.
func WritePNG(path string, img image.Image) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp image: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp image: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod image: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename image: %w", err)
	}
	return nil
}

// GreyFile converts the PNG at src and writes the greyscale result to dst.
func GreyFile(src, dst string) error {
	img, err := Decode(src)
	if err != nil {
		return err
	}
	return WritePNG(dst, Grey(img))
}
