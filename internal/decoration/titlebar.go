package decoration

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

const (
	titlebarPaddingX = 8
	titlebarPaddingY = 4
)

// TitlebarRenderer rasterizes a server-side-decoration titlebar strip.
// Grounded on ctxmenu.go's drawText/messureText glyph walk (font.Face.Kern +
// Glyph + draw.DrawMask over a fixed.Point26_6 pen position); unlike ctxmenu
// it takes an already-constructed font.Face rather than resolving one via
// fontconfig, since that matching helper isn't part of this module's scope.
type TitlebarRenderer struct {
	face font.Face

	Height     int32
	Background color.NRGBA
	Foreground color.NRGBA
}

func NewTitlebarRenderer(face font.Face) *TitlebarRenderer {
	return &TitlebarRenderer{
		face:       face,
		Height:     28,
		Background: color.NRGBA{R: 0x30, G: 0x30, B: 0x34, A: 0xff},
		Foreground: color.NRGBA{R: 0xe8, G: 0xe8, B: 0xec, A: 0xff},
	}
}

// Render rasterizes title into a width x Height strip. Text wider than the
// available space is truncated rune-by-rune rather than scaled or wrapped.
func (r *TitlebarRenderer) Render(title string, width int32) *image.RGBA {
	if width < 1 {
		width = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, int(width), int(r.Height)))
	draw.Draw(img, img.Bounds(), image.NewUniform(r.Background), image.Point{}, draw.Src)

	maxX := fixed.I(int(width) - titlebarPaddingX)
	fg := image.NewUniform(r.Foreground)

	var dot fixed.Point26_6
	dot.X = fixed.I(titlebarPaddingX)
	dot.Y = fixed.I(titlebarPaddingY) + r.face.Metrics().Ascent

	prev := rune(-1)
	for _, chr := range title {
		if prev != -1 {
			dot.X += r.face.Kern(prev, chr)
		}
		prev = chr
		advance, ok := r.face.GlyphAdvance(chr)
		if !ok {
			continue
		}
		if dot.X+advance > maxX {
			break
		}
		dr, mask, maskp, _, _ := r.face.Glyph(dot, chr)
		draw.DrawMask(img, dr, fg, image.Point{}, mask, maskp, draw.Over)
		dot.X += advance
	}
	return img
}
