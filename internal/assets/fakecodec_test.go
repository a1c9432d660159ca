package assets_test

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"kanimedia/internal/codec"
	"kanimedia/internal/transform"
)

type fakePixmap struct {
	w, h   int
	format transform.Format
}

func (p *fakePixmap) Width() int               { return p.w }
func (p *fakePixmap) Height() int              { return p.h }
func (p *fakePixmap) Format() transform.Format { return p.format }
func (p *fakePixmap) Close()                   {}

// fakeCodec reads real PNGs with the standard library and encodes
// every request as a PNG of the target size, which keeps asset tests
// independent of the native codec.
type fakeCodec struct{}

func (fakeCodec) Decode(buf []byte) (codec.Pixmap, error) {
	format, err := codec.Sniff(buf)
	if err != nil {
		return nil, err
	}
	if format != transform.FormatPng {
		return nil, fmt.Errorf("%w: fake codec only reads png", codec.ErrDecode)
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrDecode, err)
	}

	return &fakePixmap{w: cfg.Width, h: cfg.Height, format: format}, nil
}

func (fakeCodec) Encode(pix codec.Pixmap, spec transform.Spec) ([]byte, error) {
	w, h := spec.TargetSize(pix.Width(), pix.Height())

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 200, G: 60, B: 40, A: 255})
		}
	}

	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrEncode, err)
	}

	return out.Bytes(), nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
