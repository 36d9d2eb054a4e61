// Package passview renders passes: QR images, terminal output, and a
// printer that follows the controller's view.
package passview

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // logo formats
	"image/png"
	"os"

	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/image/draw"
)

// DefaultSize is the QR image width in pixels.
const DefaultSize = 512

// logoRatio bounds the larger logo dimension relative to the symbol width.
// The covered area stays well inside what the highest error correction
// level recovers.
const logoRatio = 0.22

// Options control QR rendering.
type Options struct {
	Size int
	// Logo is drawn at the center of the symbol when set.
	Logo image.Image
}

// RenderQR encodes text as a QR symbol and returns it as PNG bytes.
func RenderQR(text string, opts Options) ([]byte, error) {
	img, err := Image(text, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Image encodes text as a QR symbol with the optional center logo.
func Image(text string, opts Options) (image.Image, error) {
	if text == "" {
		return nil, fmt.Errorf("empty qr payload")
	}
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	level := qrcode.Medium
	if opts.Logo != nil {
		level = qrcode.Highest
	}
	q, err := qrcode.New(text, level)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	symbol := q.Image(size)
	if opts.Logo == nil {
		return symbol, nil
	}

	b := symbol.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, symbol, b.Min, draw.Src)

	logo := fitLogo(opts.Logo, int(float64(b.Dx())*logoRatio))
	lb := logo.Bounds()
	at := image.Pt(b.Min.X+(b.Dx()-lb.Dx())/2, b.Min.Y+(b.Dy()-lb.Dy())/2)
	draw.Draw(out, lb.Sub(lb.Min).Add(at), logo, lb.Min, draw.Over)
	return out, nil
}

// Terminal renders text as a compact QR made of half-block characters.
func Terminal(text string) (string, error) {
	q, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return q.ToSmallString(false), nil
}

// LoadLogo reads a PNG or JPEG logo.
func LoadLogo(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open logo: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode logo %s: %w", path, err)
	}
	return img, nil
}

// Renderer renders passes with fixed options.
type Renderer struct {
	opts Options
}

// NewRenderer creates a renderer.
func NewRenderer(opts Options) *Renderer {
	return &Renderer{opts: opts}
}

// PNG renders qrText as a PNG.
func (r *Renderer) PNG(qrText string) ([]byte, error) {
	return RenderQR(qrText, r.opts)
}

// fitLogo scales src to fit a box x box square, keeping the aspect ratio.
func fitLogo(src image.Image, box int) image.Image {
	sb := src.Bounds()
	if box <= 0 || sb.Empty() {
		return image.NewRGBA(image.Rectangle{})
	}
	w, h := box, box
	if sb.Dx() >= sb.Dy() {
		h = max(1, sb.Dy()*box/sb.Dx())
	} else {
		w = max(1, sb.Dx()*box/sb.Dy())
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)
	return dst
}
