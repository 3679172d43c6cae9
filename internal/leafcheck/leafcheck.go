// Package leafcheck rejects uploads that do not look like a plant by
// measuring the share of green pixels in HSV space, and renders the
// green-pixel mask overlay returned alongside predictions.
package leafcheck

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/anime-shed/leaf-inspector-go/internal/decoder"
)

// MaskSuffix is appended to an upload's base name to name its mask
const MaskSuffix = "_mask.png"

var maskColor = color.NRGBA{R: 0, G: 255, B: 0, A: 120}

// Thresholds use the 0..255 HSV scale of PIL's "HSV" mode. JSON keys match
// the persisted admin file.
type Thresholds struct {
	HMin          int     `json:"GREEN_H_MIN"`
	HMax          int     `json:"GREEN_H_MAX"`
	SMin          int     `json:"S_MIN"`
	VMin          int     `json:"V_MIN"`
	MinProportion float64 `json:"GREEN_PROP_THRESH"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{HMin: 25, HMax: 100, SMin: 40, VMin: 40, MinProportion: 0.03}
}

func (t Thresholds) Validate() error {
	for name, v := range map[string]int{"GREEN_H_MIN": t.HMin, "GREEN_H_MAX": t.HMax, "S_MIN": t.SMin, "V_MIN": t.VMin} {
		if v < 0 || v > 255 {
			return fmt.Errorf("%s must be within 0..255 (got %d)", name, v)
		}
	}
	if t.HMin > t.HMax {
		return fmt.Errorf("GREEN_H_MIN (%d) must not exceed GREEN_H_MAX (%d)", t.HMin, t.HMax)
	}
	if math.IsNaN(t.MinProportion) || t.MinProportion < 0 || t.MinProportion > 1 {
		return fmt.Errorf("GREEN_PROP_THRESH must be within 0..1 (got %v)", t.MinProportion)
	}
	return nil
}

// IsGreen reports whether a pixel falls inside the green HSV window
func (t Thresholds) IsGreen(r, g, b uint8) bool {
	h, s, v := HSV(r, g, b)
	return int(h) >= t.HMin && int(h) <= t.HMax && int(s) >= t.SMin && int(v) >= t.VMin
}

// Result of a leaf check
type Result struct {
	IsLeaf        bool    `json:"is_leaf"`
	GreenPixels   int     `json:"green_pixels"`
	TotalPixels   int     `json:"total_pixels"`
	Proportion    float64 `json:"proportion"`
	MinProportion float64 `json:"min_proportion"`
}

// Check counts green pixels; the image passes when their share reaches
// t.MinProportion.
func Check(img *decoder.Image, t Thresholds) Result {
	total := img.Width * img.Height
	if total == 0 {
		return Result{MinProportion: t.MinProportion}
	}

	green := 0
	for i := 0; i < len(img.Pix); i += decoder.Channels {
		if t.IsGreen(img.Pix[i], img.Pix[i+1], img.Pix[i+2]) {
			green++
		}
	}

	prop := float64(green) / float64(total)
	return Result{
		IsLeaf:        prop >= t.MinProportion,
		GreenPixels:   green,
		TotalPixels:   total,
		Proportion:    prop,
		MinProportion: t.MinProportion,
	}
}

// MaskOverlay composites translucent green over every green pixel
func MaskOverlay(img *decoder.Image, t Thresholds) *image.NRGBA {
	layer := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			r, g, b := img.RGBAt(x, y)
			if t.IsGreen(r, g, b) {
				layer.SetNRGBA(x, y, maskColor)
			}
		}
	}

	base := imaging.Clone(img)
	return imaging.Overlay(base, layer, image.Pt(0, 0), 1.0)
}

// EncodeMask renders the overlay as PNG
func EncodeMask(img *decoder.Image, t Thresholds) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, MaskOverlay(img, t), imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode mask: %w", err)
	}
	return buf.Bytes(), nil
}

// MaskName maps "leaf.jpg" to "leaf_mask.png"
func MaskName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base)) + MaskSuffix
}

// HSV converts to PIL's byte HSV: hue as a fraction of a turn scaled to
// 0..255 and truncated, saturation likewise, value = max channel.
func HSV(r, g, b uint8) (h, s, v uint8) {
	hue, sat, val := rgbToHSV(float64(r), float64(g), float64(b))
	return uint8(clip8(hue / 360 * 255)), uint8(clip8(sat * 255)), uint8(val)
}

// rgbToHSV returns hue in degrees [0, 360), saturation in [0, 1] and
// value on the input scale.
func rgbToHSV(r, g, b float64) (h, s, v float64) {
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min

	v = max

	if max == 0 {
		s = 0
	} else {
		s = delta / max
	}

	if delta == 0 {
		h = 0
	} else if max == r {
		h = 60 * ((g - b) / delta)
	} else if max == g {
		h = 60 * (((b - r) / delta) + 2)
	} else {
		h = 60 * (((r - g) / delta) + 4)
	}

	if h < 0 {
		h += 360
	}

	return h, s, v
}

func clip8(f float64) int {
	n := int(f)
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return n
}
