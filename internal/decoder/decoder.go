// Package decoder turns encoded images or in-memory bitmaps into an RGB
// pixel grid with a fixed channel order.
package decoder

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	apperrors "github.com/anime-shed/leaf-inspector-go/internal/errors"
)

// Channels is the number of interleaved channels per pixel in Image.Pix
const Channels = 3

// Image is a decoded RGB pixel grid: Pix holds R,G,B bytes per pixel,
// row-major, with no alpha. Treat it as immutable once returned.
type Image struct {
	Width  int
	Height int
	Pix    []uint8
	Format string
}

// Source is whatever the caller holds for one classification request:
// encoded bytes (with the original filename, if known) or an already
// decoded bitmap such as a camera frame.
type Source struct {
	Data     []byte
	Filename string
	Bitmap   image.Image
}

// FromBytes wraps encoded image bytes
func FromBytes(data []byte, filename string) Source {
	return Source{Data: data, Filename: filename}
}

// FromBitmap wraps an in-memory image
func FromBitmap(img image.Image) Source {
	return Source{Bitmap: img}
}

// Decode resolves a Source into an Image. Encoded bytes win over a bitmap
// when both are set.
func Decode(src Source) (*Image, error) {
	if len(src.Data) > 0 {
		return DecodeBytes(src.Data)
	}
	if src.Bitmap != nil {
		return FromImage(src.Bitmap)
	}
	return nil, apperrors.NewDecodeError("empty image source", nil)
}

// DecodeBytes decodes a JPEG, PNG, GIF, BMP or WebP buffer
func DecodeBytes(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, apperrors.NewDecodeError("empty image data", nil)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewDecodeError("unsupported or malformed image", err)
	}

	out, err := FromImage(img)
	if err != nil {
		return nil, err
	}
	out.Format = format
	return out, nil
}

// FromImage copies any image.Image into an Image, discarding alpha.
// Colors are read un-premultiplied so channel bytes match the source.
func FromImage(img image.Image) (*Image, error) {
	if img == nil {
		return nil, apperrors.NewDecodeError("nil bitmap", nil)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, apperrors.NewDecodeError(fmt.Sprintf("invalid dimensions %dx%d", bounds.Dx(), bounds.Dy()), nil)
	}

	nrgba := imaging.Clone(img)
	width, height := nrgba.Rect.Dx(), nrgba.Rect.Dy()

	pix := make([]uint8, width*height*Channels)
	for y := 0; y < height; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+width*4]
		for x := 0; x < width; x++ {
			dst := (y*width + x) * Channels
			src := x * 4
			pix[dst] = row[src]
			pix[dst+1] = row[src+1]
			pix[dst+2] = row[src+2]
		}
	}

	return &Image{Width: width, Height: height, Pix: pix}, nil
}

// RGBAt returns the channel bytes of the pixel at (x, y)
func (img *Image) RGBAt(x, y int) (r, g, b uint8) {
	i := (y*img.Width + x) * Channels
	return img.Pix[i], img.Pix[i+1], img.Pix[i+2]
}

// ToRGBA returns an opaque *image.RGBA copy for use with image/draw
// scalers and encoders.
func (img *Image) ToRGBA() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for i, j := 0, 0; i < len(img.Pix); i, j = i+Channels, j+4 {
		out.Pix[j] = img.Pix[i]
		out.Pix[j+1] = img.Pix[i+1]
		out.Pix[j+2] = img.Pix[i+2]
		out.Pix[j+3] = 0xff
	}
	return out
}

// FromRGBA builds an Image from an RGBA buffer, dropping alpha
func FromRGBA(src *image.RGBA) *Image {
	width, height := src.Rect.Dx(), src.Rect.Dy()
	pix := make([]uint8, width*height*Channels)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := src.RGBAAt(src.Rect.Min.X+x, src.Rect.Min.Y+y)
			i := (y*width + x) * Channels
			pix[i], pix[i+1], pix[i+2] = c.R, c.G, c.B
		}
	}
	return &Image{Width: width, Height: height, Pix: pix}
}

// ColorModel, Bounds and At let an Image be used wherever image.Image is
// expected (encoders, the leaf checker).
func (img *Image) ColorModel() color.Model { return color.RGBAModel }

func (img *Image) Bounds() image.Rectangle { return image.Rect(0, 0, img.Width, img.Height) }

func (img *Image) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= img.Width || y >= img.Height {
		return color.RGBA{}
	}
	r, g, b := img.RGBAt(x, y)
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}
