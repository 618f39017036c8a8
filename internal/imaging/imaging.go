// Package imaging prepares uploaded pictures for an image encoder.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrInvalidSize       = errors.New("invalid target size")
	ErrImageTooLarge     = errors.New("image too large")
)

// DefaultInputSize is the square input CLIP vision towers are trained on.
var DefaultInputSize = image.Pt(224, 224)

// Square returns a side x side point.
func Square(side int) image.Point {
	return image.Pt(side, side)
}

// Decode reads a PNG, JPEG, GIF or WebP image and returns it with its format name.
// The header is checked first: images above maxPixels fail with ErrImageTooLarge
// before any pixel buffer is allocated. maxPixels <= 0 disables the check.
func Decode(r io.Reader, maxPixels int64) (image.Image, string, error) {
	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", ErrUnsupportedFormat
		}
		return nil, "", fmt.Errorf("decode image header: %w", err)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(io.MultiReader(&head, r))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", ErrUnsupportedFormat
		}
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// Resize stretches img to exactly size, ignoring aspect ratio, into an RGBA buffer.
func Resize(img image.Image, size image.Point) (*image.RGBA, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, size.X, size.Y)
	}
	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	if src, ok := img.(*image.RGBA); ok && src.Bounds().Size() == size {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
		return dst, nil
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}

// EncodePNG serializes img losslessly for transport.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Blank returns an opaque black image of size; used to probe image encoders.
func Blank(size image.Point) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}
