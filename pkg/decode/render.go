package decode

import (
	"fmt"
	"image"
	"image/color"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"golang.org/x/image/draw"
)

// Render paints text as a QR code centered on a white dst. size is the
// code's side in pixels; zero picks 60% of the shorter side.
func Render(dst *image.RGBA, text string, size int) error {
	b := dst.Bounds()
	if size <= 0 {
		size = min(b.Dx(), b.Dy()) * 3 / 5
	}
	if size > b.Dx() || size > b.Dy() {
		return fmt.Errorf("decode: code size %d exceeds frame %dx%d", size, b.Dx(), b.Dy())
	}

	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
	if err != nil {
		return fmt.Errorf("decode: encode: %w", err)
	}

	draw.Draw(dst, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	off := b.Min.Add(image.Pt((b.Dx()-size)/2, (b.Dy()-size)/2))
	draw.NearestNeighbor.Scale(dst, image.Rectangle{Min: off, Max: off.Add(image.Pt(size, size))}, matrix, matrix.Bounds(), draw.Src, nil)
	return nil
}

// Painter returns a frame painter that shows a blank white frame for the
// first blank frames and the code for text afterwards. Its signature
// matches capture.Fake.FrameFunc.
func Painter(text string, blank int) func(n int, dst *image.RGBA) error {
	return func(n int, dst *image.RGBA) error {
		if n <= blank {
			draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
			return nil
		}
		return Render(dst, text, 0)
	}
}
