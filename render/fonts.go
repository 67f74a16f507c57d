package render

import (
	"fmt"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	parseFontOnce sync.Once
	parsedFont    *truetype.Font
	parseFontErr  error
)

// fontFace returns a face of the bundled default font at the given point
// size. The TTF is parsed once and cached; faces themselves are cheap.
func fontFace(size float64) (font.Face, error) {
	parseFontOnce.Do(func() {
		parsedFont, parseFontErr = truetype.Parse(goregular.TTF)
	})
	if parseFontErr != nil {
		return nil, fmt.Errorf("failed to parse bundled font: %w", parseFontErr)
	}
	return truetype.NewFace(parsedFont, &truetype.Options{Size: size}), nil
}
