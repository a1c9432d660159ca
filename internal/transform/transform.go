package transform

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalid marks transform parameters that cannot be canonicalized.
// Handlers map it to a 400 response.
var ErrInvalid = errors.New("invalid transform parameters")

// MaxDimension bounds requested output dimensions. Anything larger is
// rejected before any asset or codec work happens.
const MaxDimension = 8192

type Fit string

const (
	// FitContain scales the image to fit within the requested box while
	// preserving the aspect ratio.
	FitContain Fit = "contain"
	// FitFill scales to exactly the requested dimensions, ignoring the
	// source aspect ratio. Requires both width and height.
	FitFill Fit = "fill"
)

type Format string

const (
	// FormatSource keeps whatever format the source image is in.
	FormatSource Format = ""
	FormatWebp   Format = "webp"
	FormatJpeg   Format = "jpeg"
	FormatPng    Format = "png"
	// FormatTiff is accepted as a source format only.
	FormatTiff Format = "tiff"
)

func (f Format) ContentType() string {
	switch f {
	case FormatWebp:
		return "image/webp"
	case FormatJpeg:
		return "image/jpeg"
	case FormatPng:
		return "image/png"
	case FormatTiff:
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

// Encodable reports whether the format can be produced as output.
func (f Format) Encodable() bool {
	switch f {
	case FormatWebp, FormatJpeg, FormatPng:
		return true
	default:
		return false
	}
}

// Spec is the canonical description of a requested rendition. The zero
// value means "serve the source untouched".
type Spec struct {
	Width   int
	Height  int
	Fit     Fit
	Format  Format
	Quality int // 1-100, 0 means encoder default
}

// ParseQuery canonicalizes user-supplied query parameters into a Spec.
// Two semantically equal requests always produce the same Spec, so the
// Spec's String form is safe to use as a cache key component. Unknown
// parameters are ignored.
func ParseQuery(values url.Values) (Spec, error) {
	spec := Spec{Fit: FitContain}

	var err error
	if spec.Width, err = parseDimension(values.Get("w")); err != nil {
		return Spec{}, fmt.Errorf("%w: width: %v", ErrInvalid, err)
	}
	if spec.Height, err = parseDimension(values.Get("h")); err != nil {
		return Spec{}, fmt.Errorf("%w: height: %v", ErrInvalid, err)
	}

	switch raw := strings.ToLower(values.Get("fmt")); raw {
	case "":
		spec.Format = FormatSource
	case "webp":
		spec.Format = FormatWebp
	case "jpg", "jpeg":
		spec.Format = FormatJpeg
	case "png":
		spec.Format = FormatPng
	default:
		return Spec{}, fmt.Errorf("%w: unsupported format %q", ErrInvalid, raw)
	}

	if raw := values.Get("q"); raw != "" {
		q, err := strconv.Atoi(raw)
		if err != nil || q < 1 || q > 100 {
			return Spec{}, fmt.Errorf("%w: quality %q must be between 1 and 100", ErrInvalid, raw)
		}
		spec.Quality = q
	}

	switch raw := strings.ToLower(values.Get("fit")); raw {
	case "", string(FitContain):
		spec.Fit = FitContain
	case string(FitFill):
		spec.Fit = FitFill
	default:
		return Spec{}, fmt.Errorf("%w: unsupported fit %q", ErrInvalid, raw)
	}

	if spec.Fit == FitFill && (spec.Width == 0 || spec.Height == 0) {
		return Spec{}, fmt.Errorf("%w: fit=fill requires both width and height", ErrInvalid)
	}

	return spec, nil
}

func parseDimension(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", raw)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%d is not positive", v)
	}
	if v > MaxDimension {
		return 0, fmt.Errorf("%d exceeds the maximum of %d", v, MaxDimension)
	}
	return v, nil
}

// Resizes reports whether the spec asks for any scaling at all.
func (s Spec) Resizes() bool {
	return s.Width != 0 || s.Height != 0
}

// PassesThrough reports whether a source in the given format can be
// served without transcoding: no resize, no explicit quality, and the
// requested format already matches the source.
func (s Spec) PassesThrough(src Format) bool {
	return !s.Resizes() && s.Quality == 0 && (s.Format == FormatSource || s.Format == src)
}

// OutputFormat resolves the format the encoder must produce for a
// source in the given format. Sources we cannot encode back (TIFF)
// fall back to WebP.
func (s Spec) OutputFormat(src Format) Format {
	out := s.Format
	if out == FormatSource {
		out = src
	}
	if !out.Encodable() {
		out = FormatWebp
	}
	return out
}

// TargetSize computes the output dimensions for a source of srcW×srcH
// under the spec's fit policy. Aspect ratio is preserved unless
// fit=fill was requested explicitly.
func (s Spec) TargetSize(srcW, srcH int) (int, int) {
	if !s.Resizes() || srcW <= 0 || srcH <= 0 {
		return srcW, srcH
	}

	if s.Fit == FitFill {
		return s.Width, s.Height
	}

	scale := 0.0
	switch {
	case s.Width != 0 && s.Height != 0:
		scale = min(float64(s.Width)/float64(srcW), float64(s.Height)/float64(srcH))
	case s.Width != 0:
		scale = float64(s.Width) / float64(srcW)
	default:
		scale = float64(s.Height) / float64(srcH)
	}

	w := int(float64(srcW)*scale + 0.5)
	h := int(float64(srcH)*scale + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// String renders the canonical form with all fields materialized, e.g.
// "w=100,h=100,fit=contain,fmt=webp,q=80". Equal specs always render
// identically.
func (s Spec) String() string {
	format := string(s.Format)
	if format == "" {
		format = "source"
	}
	return fmt.Sprintf("w=%d,h=%d,fit=%s,fmt=%s,q=%d", s.Width, s.Height, s.Fit, format, s.Quality)
}

// Key builds the cache key for an asset/spec pair.
func Key(assetID string, spec Spec) string {
	return assetID + "?" + spec.String()
}
