package render

import (
	"fmt"
	"image"
	"image/color"

	qrcode "github.com/skip2/go-qrcode"
)

// EncodeSymbol encodes content as a scannable QR symbol of the requested
// pixel size. Callers treat a failure here as non-fatal: a certificate
// renders without its symbol rather than not at all.
func EncodeSymbol(content string, size int, foreground, background color.Color) (image.Image, error) {
	if content == "" {
		return nil, fmt.Errorf("symbol content cannot be empty")
	}
	if size <= 0 {
		return nil, fmt.Errorf("symbol size must be positive, got %d", size)
	}

	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR symbol: %w", err)
	}
	if foreground != nil {
		q.ForegroundColor = foreground
	}
	if background != nil {
		q.BackgroundColor = background
	}

	return q.Image(size), nil
}
