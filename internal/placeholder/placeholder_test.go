package placeholder_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/buckket/go-blurhash"
	"github.com/stretchr/testify/require"

	"kanimedia/internal/placeholder"
)

func solidPNG(t *testing.T, c color.RGBA, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestComputeSolidRed(t *testing.T) {
	ph, err := placeholder.Compute(solidPNG(t, color.RGBA{R: 255, A: 255}, 31, 47))
	require.NoError(t, err)

	// A constant image round-trips its average color exactly.
	require.Equal(t, "#ff0000", ph.Accent)

	x, y, err := blurhash.Components(ph.Blurhash)
	require.NoError(t, err)
	require.Equal(t, 4, x)
	require.Equal(t, 7, y)
}

func TestComputeGradientAccentIsMix(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 32; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 8), G: 0, B: uint8(y * 5), A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	ph, err := placeholder.Compute(buf.Bytes())
	require.NoError(t, err)
	require.NotEmpty(t, ph.Blurhash)
	require.Len(t, ph.Accent, 7)
	require.Equal(t, byte('#'), ph.Accent[0])
	require.Equal(t, "00", ph.Accent[3:5], "green channel stays empty")
}

func TestComputeRejectsGarbage(t *testing.T) {
	_, err := placeholder.Compute([]byte("definitely not a png"))
	require.Error(t, err)
}

func TestAccentColorTooShort(t *testing.T) {
	_, err := placeholder.AccentColor("LG")
	require.Error(t, err)
}

func TestAccentColorKnownValue(t *testing.T) {
	// DC chars "0000" decode to 0, a pure black average.
	accent, err := placeholder.AccentColor("U~0000000000")
	require.NoError(t, err)
	require.Equal(t, "#000000", accent)
}
