package codec

import (
	"bytes"
	"errors"
	"fmt"

	"kanimedia/internal/transform"
)

// ErrDecode marks source bytes that cannot be decoded (corrupt,
// truncated or unsupported). Retrying the same bytes cannot succeed.
var ErrDecode = errors.New("cannot decode image")

// ErrEncode marks an encoder failure. The adapter never returns
// partial output alongside a nil error.
var ErrEncode = errors.New("cannot encode image")

// Pixmap is a decoded image held by the underlying library. Close
// releases it; calling other methods after Close is invalid.
type Pixmap interface {
	Width() int
	Height() int
	Format() transform.Format
	Close()
}

// Codec is the narrow decode/encode port the pipeline depends on, so
// the underlying image library can be swapped without touching the
// pipeline. Encode may consume the pixmap's pixel data; decode again
// before encoding the same source a second time.
type Codec interface {
	Decode(buf []byte) (Pixmap, error)
	Encode(pix Pixmap, spec transform.Spec) ([]byte, error)
}

var (
	jpegMagic = []byte{0xff, 0xd8, 0xff}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	tiffLE    = []byte{'I', 'I', 0x2a, 0x00}
	tiffBE    = []byte{'M', 'M', 0x00, 0x2a}
)

// Sniff identifies the image format from the first bytes of buf.
func Sniff(buf []byte) (transform.Format, error) {
	switch {
	case bytes.HasPrefix(buf, jpegMagic):
		return transform.FormatJpeg, nil
	case bytes.HasPrefix(buf, pngMagic):
		return transform.FormatPng, nil
	case len(buf) >= 12 && bytes.Equal(buf[:4], []byte("RIFF")) && bytes.Equal(buf[8:12], []byte("WEBP")):
		return transform.FormatWebp, nil
	case bytes.HasPrefix(buf, tiffLE) || bytes.HasPrefix(buf, tiffBE):
		return transform.FormatTiff, nil
	default:
		return transform.FormatSource, fmt.Errorf("%w: unrecognized image format", ErrDecode)
	}
}
