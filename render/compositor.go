package render

import (
	"fmt"
	"image"
	"image/color"
	"log"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"
)

// Point is a pixel coordinate in the template image's native space.
type Point struct {
	X int
	Y int
}

// ComposeOptions describes the overlays drawn onto a certificate template.
// Anchors are centers, not top-left corners: text is centered both
// horizontally and vertically at NameAnchor, and the symbol square is
// centered at SymbolAnchor. A nil anchor means "use the canvas center" for
// the name and "skip the symbol" for the symbol.
type ComposeOptions struct {
	Name         string
	NameAnchor   *Point
	FontSize     float64
	FontColor    string // hex, e.g. "#1a1a1a"
	Symbol       image.Image
	SymbolAnchor *Point
	SymbolSize   int
}

// Compose draws the template at its native resolution, overlays the name
// text, then overlays the symbol. Output dimensions always equal template
// dimensions. A missing or unreadable template is fatal; a symbol that
// cannot be drawn is skipped with a warning so the render still completes.
func Compose(templatePath string, opts ComposeOptions) (image.Image, error) {
	base, err := gg.LoadImage(templatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load template image %s: %w", templatePath, err)
	}

	bounds := base.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	dc := gg.NewContext(width, height)
	dc.DrawImage(base, 0, 0)

	if err := drawName(dc, opts, width, height); err != nil {
		return nil, err
	}
	drawSymbol(dc, opts)

	return dc.Image(), nil
}

func drawName(dc *gg.Context, opts ComposeOptions, width, height int) error {
	fontSize := opts.FontSize
	if fontSize <= 0 {
		fontSize = 40
	}

	face, err := fontFace(fontSize)
	if err != nil {
		return fmt.Errorf("failed to load font at size %.1f: %w", fontSize, err)
	}
	dc.SetFontFace(face)
	dc.SetColor(ParseHexColor(opts.FontColor))

	x := float64(width) / 2
	y := float64(height) / 2
	if opts.NameAnchor != nil {
		x = float64(opts.NameAnchor.X)
		y = float64(opts.NameAnchor.Y)
	}

	dc.DrawStringAnchored(opts.Name, x, y, 0.5, 0.5)
	return nil
}

func drawSymbol(dc *gg.Context, opts ComposeOptions) {
	if opts.Symbol == nil || opts.SymbolAnchor == nil {
		return
	}

	size := opts.SymbolSize
	if size <= 0 {
		size = 100
	}

	// The encoder usually produces the symbol at the requested size already;
	// scale only when the two disagree.
	symbol := opts.Symbol
	if b := symbol.Bounds(); b.Dx() != size || b.Dy() != size {
		scaled := image.NewRGBA(image.Rect(0, 0, size, size))
		xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), symbol, b, xdraw.Over, nil)
		symbol = scaled
	}

	dc.DrawImage(symbol, opts.SymbolAnchor.X-size/2, opts.SymbolAnchor.Y-size/2)
}

// ParseHexColor parses "#RRGGBB" or "#RGB" strings. Unparseable input falls
// back to black, which matches how an unset template color renders.
func ParseHexColor(s string) color.Color {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")

	switch len(s) {
	case 3:
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	case 6:
		// already expanded
	default:
		if s != "" {
			log.Printf("WARN (Compositor): Invalid hex color %q, using black", s)
		}
		return color.Black
	}

	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		log.Printf("WARN (Compositor): Invalid hex color %q, using black", s)
		return color.Black
	}

	return color.RGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 0xff,
	}
}
