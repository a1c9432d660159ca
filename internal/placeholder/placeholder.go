package placeholder

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/buckket/go-blurhash"
	"github.com/buckket/go-blurhash/base83"
)

// Poster previews use 4x7 components: posters are portrait, so the
// extra vertical detail is where it pays off.
const (
	xComponents = 4
	yComponents = 7
)

// Placeholder is the tiny preview payload served with asset metadata:
// a blurhash the client renders before any real bytes arrive, and the
// average color for instant backgrounds.
type Placeholder struct {
	Blurhash string `json:"blurhash"`
	Accent   string `json:"accent"`
}

// Compute derives the placeholder from an encoded PNG or JPEG. The
// input is expected to be a small rendition; blurhash cost grows with
// pixel count.
func Compute(encoded []byte) (Placeholder, error) {
	img, _, err := image.Decode(bytes.NewReader(encoded))
	if err != nil {
		return Placeholder{}, fmt.Errorf("decode placeholder source: %w", err)
	}

	hash, err := blurhash.Encode(xComponents, yComponents, img)
	if err != nil {
		return Placeholder{}, fmt.Errorf("encode blurhash: %w", err)
	}

	accent, err := AccentColor(hash)
	if err != nil {
		return Placeholder{}, err
	}

	return Placeholder{Blurhash: hash, Accent: accent}, nil
}

// AccentColor extracts the average color a blurhash carries in its DC
// term, formatted as a #rrggbb hex string. It avoids decoding the hash
// into pixels just to learn one color.
func AccentColor(hash string) (string, error) {
	if len(hash) < 6 {
		return "", fmt.Errorf("blurhash %q too short", hash)
	}

	value, err := base83.Decode(hash[2:6])
	if err != nil {
		return "", fmt.Errorf("decode blurhash average color: %w", err)
	}

	r := (value >> 16) & 0xFF
	g := (value >> 8) & 0xFF
	b := value & 0xFF

	return fmt.Sprintf("#%02x%02x%02x", r, g, b), nil
}
