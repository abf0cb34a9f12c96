// Package decode turns frames into symbols. Engines are pure: the same
// pixels always give the same answer and nothing else is touched.
package decode

import "image"

// Symbol is the payload extracted from a 2D code.
type Symbol struct {
	Text   string        // Decoded payload
	Format string        // Barcode format, e.g. QR_CODE
	Points []image.Point // Finder pattern positions in frame pixels
}

// Engine decodes one frame at a time.
type Engine interface {
	// Decode returns nil, nil when the frame holds no readable code.
	// An error means the engine itself failed.
	Decode(img image.Image) (*Symbol, error)
}
