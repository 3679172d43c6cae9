package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anime-shed/leaf-inspector-go/internal/decoder"
)

func solid(width, height int, r, g, b uint8) *decoder.Image {
	pix := make([]uint8, width*height*decoder.Channels)
	for i := 0; i < len(pix); i += decoder.Channels {
		pix[i], pix[i+1], pix[i+2] = r, g, b
	}
	return &decoder.Image{Width: width, Height: height, Pix: pix}
}

func TestPreprocess_AllRed(t *testing.T) {
	tensor, err := Preprocess(solid(10, 10, 255, 0, 0), 2)
	require.NoError(t, err)
	require.Len(t, tensor.Values, 12)

	for i := 0; i < len(tensor.Values); i += 3 {
		assert.Equal(t, float32(1.0), tensor.Values[i], "red at %d", i)
		assert.Equal(t, float32(-1.0), tensor.Values[i+1], "green at %d", i+1)
		assert.Equal(t, float32(-1.0), tensor.Values[i+2], "blue at %d", i+2)
	}
}

func TestPreprocess_Length(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		size          int
	}{
		{"1x1 to 299", 1, 1, 299},
		{"wide to 299", 640, 120, 299},
		{"large to 299", 1600, 1200, 299},
		{"same size", 8, 8, 8},
		{"downscale to 1", 50, 30, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := Preprocess(solid(tt.width, tt.height, 12, 34, 56), tt.size)
			require.NoError(t, err)
			assert.Len(t, tensor.Values, 3*tt.size*tt.size)
			assert.Equal(t, []int64{int64(tt.size), int64(tt.size), 3}, tensor.Shape())
		})
	}
}

func TestPreprocess_RoundTrip(t *testing.T) {
	for c := 0; c <= 255; c++ {
		value := uint8(c)
		tensor, err := Preprocess(solid(1, 1, value, 255-value, value/2), 3)
		require.NoError(t, err)

		want := []uint8{value, 255 - value, value / 2}
		for i, v := range tensor.Values {
			assert.InDelta(t, float64(want[i%3]), Denormalize(v), 1.0, "channel %d of c=%d", i%3, c)
		}
	}
}

func TestPreprocess_Range(t *testing.T) {
	img := &decoder.Image{Width: 4, Height: 4, Pix: make([]uint8, 48)}
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 5)
	}

	tensor, err := Preprocess(img, 7)
	require.NoError(t, err)
	for _, v := range tensor.Values {
		assert.False(t, math.IsNaN(float64(v)))
		assert.GreaterOrEqual(t, v, float32(-1.0))
		assert.LessOrEqual(t, v, float32(1.0))
	}
}

func TestPreprocess_DoesNotMutateInput(t *testing.T) {
	img := solid(3, 3, 9, 8, 7)
	before := append([]uint8(nil), img.Pix...)

	_, err := Preprocess(img, 5)
	require.NoError(t, err)
	assert.Equal(t, before, img.Pix)
	assert.Equal(t, 3, img.Width)
}

func TestPreprocess_Invalid(t *testing.T) {
	_, err := Preprocess(solid(2, 2, 0, 0, 0), 0)
	assert.Error(t, err)

	_, err = Preprocess(nil, 2)
	assert.Error(t, err)

	_, err = Preprocess(&decoder.Image{Width: 2, Height: 2, Pix: []uint8{1, 2, 3}}, 2)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, float32(-1.0), Normalize(0))
	assert.Equal(t, float32(1.0), Normalize(255))
	assert.InDelta(t, 0.0039, Normalize(128), 0.0001)
}
