// Package tensor resizes decoded images to the model resolution and packs
// them into the normalized NHWC float32 layout the classifier expects.
package tensor

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/anime-shed/leaf-inspector-go/internal/decoder"
)

// DefaultSize is the input resolution of the bundled Inception V3 model
const DefaultSize = 299

// Tensor holds Size*Size*3 values in row-major, channel-innermost order
// (R,G,B,R,G,B,...), each in [-1, 1].
type Tensor struct {
	Size   int
	Values []float32
}

// Shape returns the logical [height, width, channels] shape
func (t *Tensor) Shape() []int64 {
	return []int64{int64(t.Size), int64(t.Size), decoder.Channels}
}

// Len is the number of values a tensor of the given size holds
func Len(size int) int {
	return size * size * decoder.Channels
}

// Normalize maps a channel byte onto [-1, 1]. The trained weights depend
// on this exact mapping.
func Normalize(c uint8) float32 {
	return float32(c)/127.5 - 1.0
}

// Denormalize is the inverse of Normalize, unclamped
func Denormalize(v float32) float64 {
	return (float64(v) + 1.0) * 127.5
}

// Preprocess stretch-resizes img to size x size with bilinear
// interpolation and normalizes every channel. No center crop is applied.
func Preprocess(img *decoder.Image, size int) (*Tensor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid target size %d", size)
	}
	if img == nil || img.Width <= 0 || img.Height <= 0 || len(img.Pix) != img.Width*img.Height*decoder.Channels {
		return nil, fmt.Errorf("invalid image")
	}

	resized := Resize(img, size)

	values := make([]float32, 0, Len(size))
	for _, c := range resized.Pix {
		values = append(values, Normalize(c))
	}

	return &Tensor{Size: size, Values: values}, nil
}

// Resize returns a new size x size Image; the input is left untouched
func Resize(img *decoder.Image, size int) *decoder.Image {
	if img.Width == size && img.Height == size {
		pix := make([]uint8, len(img.Pix))
		copy(pix, img.Pix)
		return &decoder.Image{Width: size, Height: size, Pix: pix, Format: img.Format}
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img.ToRGBA(), image.Rect(0, 0, img.Width, img.Height), draw.Src, nil)

	out := decoder.FromRGBA(dst)
	out.Format = img.Format
	return out
}
