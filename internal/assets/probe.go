package assets

import (
	"fmt"

	"kanimedia/internal/codec"
	"kanimedia/internal/placeholder"
	"kanimedia/internal/transform"
)

// Placeholder inputs stay tiny; blurhash cost grows with pixel count.
const (
	thumbWidth  = 32
	thumbHeight = 48
)

// probe decodes an asset far enough to fill its sidecar: intrinsic
// dimensions, source format, and the placeholder payload.
func probe(c codec.Codec, data []byte) (*Meta, error) {
	pix, err := c.Decode(data)
	if err != nil {
		return nil, err
	}
	defer pix.Close()

	meta := &Meta{
		Width:  pix.Width(),
		Height: pix.Height(),
		Bytes:  int64(len(data)),
		Format: string(pix.Format()),
	}

	// The thumbnail render consumes the pixmap, so every field above is
	// read first and nothing touches pix afterwards.
	thumb, err := c.Encode(pix, transform.Spec{
		Width:  thumbWidth,
		Height: thumbHeight,
		Fit:    transform.FitContain,
		Format: transform.FormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("render placeholder source: %w", err)
	}

	ph, err := placeholder.Compute(thumb)
	if err != nil {
		return nil, err
	}

	meta.Blurhash = ph.Blurhash
	meta.Accent = ph.Accent

	return meta, nil
}
