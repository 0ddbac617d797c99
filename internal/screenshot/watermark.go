package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Position places a watermark. Relative coordinates are fractions of the
// image size.
type Position struct {
	X, Y     float64
	Relative bool
}

// DefaultWatermarkPosition is near the bottom left corner.
var DefaultWatermarkPosition = Position{X: 0.05, Y: 0.9, Relative: true}

func (p Position) absolute(b image.Rectangle) image.Point {
	if !p.Relative {
		return image.Pt(b.Min.X+int(p.X), b.Min.Y+int(p.Y))
	}
	return image.Pt(b.Min.X+int(p.X*float64(b.Dx())), b.Min.Y+int(p.Y*float64(b.Dy())))
}

// AddTextWatermark draws text onto a PNG and returns the new PNG.
func AddTextWatermark(img []byte, pos Position, text string) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(pos.absolute(bounds).X, pos.absolute(bounds).Y),
	}
	d.DrawString(text)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// WatermarkCapturer stamps every capture with a fixed text. When stamping
// fails the unmarked image is returned.
type WatermarkCapturer struct {
	next Capturer
	text string
	pos  Position
	log  logrus.FieldLogger
}

// NewWatermarkCapturer wraps next.
func NewWatermarkCapturer(next Capturer, text string, pos Position, logger logrus.FieldLogger) *WatermarkCapturer {
	return &WatermarkCapturer{
		next: next,
		text: text,
		pos:  pos,
		log:  logger.WithField("component", "watermark"),
	}
}

func (w *WatermarkCapturer) CapturePage(ctx context.Context, url string) ([]byte, error) {
	img, err := w.next.CapturePage(ctx, url)
	if err != nil {
		return nil, err
	}
	marked, err := AddTextWatermark(img, w.pos, w.text)
	if err != nil {
		w.log.WithError(err).WithField("url", url).Warn("Failed to add watermark, using plain screenshot")
		return img, nil
	}
	return marked, nil
}
