package decode

import (
	"fmt"
	"image"
	"sync"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"golang.org/x/image/draw"
)

// QRConfig holds QR engine configuration
type QRConfig struct {
	// MaxDimension downscales frames whose long side exceeds it. 0 disables.
	MaxDimension int `json:"max_dimension" yaml:"max_dimension" env:"MAX_DIMENSION"`

	// TryHarder spends more time per frame looking for a code.
	TryHarder bool `json:"try_harder" yaml:"try_harder" env:"TRY_HARDER"`
}

// DefaultQRConfig returns production defaults.
func DefaultQRConfig() QRConfig {
	return QRConfig{
		MaxDimension: 960,
		TryHarder:    true,
	}
}

// QR decodes QR codes with gozxing.
type QR struct {
	reader gozxing.Reader
	config QRConfig
	hints  map[gozxing.DecodeHintType]interface{}
	mu     sync.Mutex // Protects reader
}

// NewQR creates a QR engine.
func NewQR(cfg QRConfig) *QR {
	hints := map[gozxing.DecodeHintType]interface{}{}
	if cfg.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	return &QR{
		reader: qrcode.NewQRCodeReader(),
		config: cfg,
		hints:  hints,
	}
}

// Decode looks for a single QR code in img.
func (q *QR) Decode(img image.Image) (*Symbol, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	src, scale := q.downscale(img)

	bmp, err := gozxing.NewBinaryBitmapFromImage(src)
	if err != nil {
		return nil, fmt.Errorf("decode: binarize: %w", err)
	}

	result, err := q.reader.Decode(bmp, q.hints)
	q.reader.Reset()
	if err != nil {
		if isMiss(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode: qr: %w", err)
	}

	sym := &Symbol{
		Text:   result.GetText(),
		Format: result.GetBarcodeFormat().String(),
	}
	for _, p := range result.GetResultPoints() {
		sym.Points = append(sym.Points, image.Pt(int(p.GetX()*scale), int(p.GetY()*scale)))
	}
	return sym, nil
}

// downscale shrinks large frames. The returned factor maps points back to
// the original frame.
func (q *QR) downscale(img image.Image) (image.Image, float64) {
	b := img.Bounds()
	long := max(b.Dx(), b.Dy())
	if q.config.MaxDimension <= 0 || long <= q.config.MaxDimension {
		return img, 1
	}

	ratio := float64(q.config.MaxDimension) / float64(long)
	w := max(1, int(float64(b.Dx())*ratio))
	h := max(1, int(float64(b.Dy())*ratio))
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, 1 / ratio
}

// isMiss reports whether err just means "no code in this frame".
func isMiss(err error) bool {
	switch err.(type) {
	case gozxing.NotFoundException, gozxing.ChecksumException, gozxing.FormatException:
		return true
	}
	return false
}

// Verify QR implements Engine at compile time.
var _ Engine = (*QR)(nil)
