// Package convert turns arbitrary images into the panel's packed 1bpp plane.
package convert

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/MaxHalford/halfgone"
	"github.com/disintegration/imaging"
)

// Dither centres img on a white width×height canvas, shrinking it first if it
// does not fit, and reduces it to pure black and white with Floyd-Steinberg
// error diffusion.
func Dither(img image.Image, width, height int) *image.Gray {
	bounds := image.Rect(0, 0, width, height)
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, image.White, image.Point{}, draw.Src)

	if img.Bounds() != bounds {
		scaled := imaging.Fit(img, width, height, imaging.Lanczos)
		sb := scaled.Bounds()
		at := image.Pt((width-sb.Dx())/2, (height-sb.Dy())/2)
		draw.Draw(gray, sb.Add(at), scaled, sb.Min, draw.Over)
	} else {
		draw.Draw(gray, bounds, img, bounds.Min, draw.Over)
	}
	return halfgone.FloydSteinbergDitherer{}.Apply(gray)
}

// Pack converts img into a width×height plane laid out column-major, MSB
// first: pixel (x, y) is bit y + x*height. A set bit is paper, a cleared bit
// is ink. Pixels outside img stay paper.
func Pack(img image.Image, width, height int) []byte {
	plane := make([]byte, width*height/8)
	for i := range plane {
		plane[i] = 0xff
	}

	b := img.Bounds()
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			p := image.Pt(b.Min.X+x, b.Min.Y+y)
			if !p.In(b) || !Ink(img.At(p.X, p.Y)) {
				continue
			}
			bit := y + x*height
			plane[bit/8] &^= 0x80 >> (bit % 8)
		}
	}
	return plane
}

// Ink reports whether c should be printed. Mostly transparent pixels are
// paper; otherwise the pixel is ink when its luma is below mid grey.
func Ink(c color.Color) bool {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	if n.A < 128 {
		return false
	}
	// Rec. 601 luma.
	y := 0.299*float64(n.R) + 0.587*float64(n.G) + 0.114*float64(n.B)
	return y < 128
}
