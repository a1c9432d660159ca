package codec

import (
	"fmt"

	"github.com/cshum/vipsgen/vips"

	"kanimedia/internal/transform"
)

// Vips implements Codec on top of libvips. Individual operations are
// stateless, so a single instance is safe under whatever concurrency
// the caller's gate allows. Startup/Shutdown of libvips itself is
// owned by main.
type Vips struct {
	quality int
}

// NewVips returns a libvips-backed codec. quality is the encoder
// setting used when a request does not specify one.
func NewVips(quality int) *Vips {
	return &Vips{quality: quality}
}

type vipsPixmap struct {
	img    *vips.Image
	format transform.Format
}

func (p *vipsPixmap) Width() int               { return p.img.Width() }
func (p *vipsPixmap) Height() int              { return p.img.Height() }
func (p *vipsPixmap) Format() transform.Format { return p.format }
func (p *vipsPixmap) Close()                   { p.img.Close() }

func (v *Vips) Decode(buf []byte) (Pixmap, error) {
	format, err := Sniff(buf)
	if err != nil {
		return nil, err
	}

	// AccessRandom: the encode step may read pixels more than once
	// (resize kernels), sequential access would fail mid-pass.
	var img *vips.Image
	switch format {
	case transform.FormatJpeg:
		opts := vips.DefaultJpegloadBufferOptions()
		opts.Access = vips.AccessRandom
		img, err = vips.NewJpegloadBuffer(buf, opts)
	case transform.FormatPng:
		opts := vips.DefaultPngloadBufferOptions()
		opts.Access = vips.AccessRandom
		img, err = vips.NewPngloadBuffer(buf, opts)
	case transform.FormatWebp:
		opts := vips.DefaultWebploadBufferOptions()
		opts.Access = vips.AccessRandom
		img, err = vips.NewWebploadBuffer(buf, opts)
	case transform.FormatTiff:
		opts := vips.DefaultTiffloadBufferOptions()
		opts.Access = vips.AccessRandom
		img, err = vips.NewTiffloadBuffer(buf, opts)
	default:
		return nil, fmt.Errorf("%w: no loader for %q", ErrDecode, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return &vipsPixmap{img: img, format: format}, nil
}

func (v *Vips) Encode(pix Pixmap, spec transform.Spec) ([]byte, error) {
	vp, ok := pix.(*vipsPixmap)
	if !ok {
		return nil, fmt.Errorf("%w: pixmap was not produced by this codec", ErrEncode)
	}
	img := vp.img

	srcW, srcH := img.Width(), img.Height()
	outW, outH := spec.TargetSize(srcW, srcH)

	if outW != srcW || outH != srcH {
		opts := vips.DefaultResizeOptions()
		opts.Kernel = vips.KernelLanczos3
		if spec.Fit == transform.FitFill {
			opts.Vscale = float64(outH) / float64(srcH)
		}
		if err := img.Resize(float64(outW)/float64(srcW), opts); err != nil {
			return nil, fmt.Errorf("%w: resize: %v", ErrEncode, err)
		}
	}

	quality := spec.Quality
	if quality == 0 {
		quality = v.quality
	}

	var out []byte
	var err error
	switch spec.OutputFormat(vp.format) {
	case transform.FormatJpeg:
		opts := vips.DefaultJpegsaveBufferOptions()
		opts.Q = quality
		opts.Interlace = false
		out, err = img.JpegsaveBuffer(opts)
	case transform.FormatPng:
		// PNG is lossless, the quality knob does not apply
		opts := vips.DefaultPngsaveBufferOptions()
		out, err = img.PngsaveBuffer(opts)
	default:
		opts := vips.DefaultWebpsaveBufferOptions()
		opts.Q = quality
		out, err = img.WebpsaveBuffer(opts)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: encoder produced no output", ErrEncode)
	}

	return out, nil
}
