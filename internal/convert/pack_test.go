package convert

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/require"
)

func uniform(c color.Color, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func bitAt(plane []byte, x, y, height int) bool {
	i := y + x*height
	return plane[i/8]&(0x80>>(i%8)) != 0
}

func TestInk(t *testing.T) {
	cases := []struct {
		name string
		c    color.Color
		ink  bool
	}{
		{"black", color.Black, true},
		{"white", color.White, false},
		{"dark grey", color.Gray{Y: 40}, true},
		{"light grey", color.Gray{Y: 200}, false},
		{"transparent black", color.NRGBA{A: 10}, false},
		{"pure red", color.NRGBA{R: 255, A: 255}, true},
		{"yellow", color.NRGBA{R: 255, G: 255, A: 255}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.ink, Ink(c.c))
		})
	}
}

func TestPackLayout(t *testing.T) {
	img := uniform(color.White, 16, 8)
	img.Set(0, 0, color.Black)
	img.Set(1, 3, color.Black)
	img.Set(15, 7, color.Black)

	plane := Pack(img, 16, 8)
	require.Len(t, plane, 16)
	// One byte per column since height is 8.
	require.Equal(t, byte(0x7f), plane[0])
	require.Equal(t, byte(0xef), plane[1])
	require.Equal(t, byte(0xfe), plane[15])
	for i := 2; i < 15; i++ {
		require.Equal(t, byte(0xff), plane[i])
	}
}

func TestDitherShrinksLargeImages(t *testing.T) {
	g := Dither(uniform(color.Black, 200, 50), 64, 32)
	require.Equal(t, image.Rect(0, 0, 64, 32), g.Bounds())
	// 200×50 shrinks to 64×16, centred vertically.
	require.Equal(t, uint8(255), g.GrayAt(32, 2).Y)
	require.Equal(t, uint8(0), g.GrayAt(32, 16).Y)
	require.Equal(t, uint8(255), g.GrayAt(32, 29).Y)
}

func TestPackSmallImageLeavesPaper(t *testing.T) {
	plane := Pack(uniform(color.Black, 4, 4), 16, 16)
	require.True(t, !bitAt(plane, 3, 3, 16))
	require.True(t, bitAt(plane, 4, 0, 16))
	require.True(t, bitAt(plane, 0, 4, 16))
}

func TestDitherKeepsPureImages(t *testing.T) {
	for _, c := range []color.Color{color.Black, color.White} {
		g := Dither(uniform(c, 32, 16), 32, 16)
		want, _, _, _ := c.RGBA()
		for _, px := range g.Pix {
			require.Equal(t, uint8(want>>8), px)
		}
	}
}

func TestDitherFitsAndCentres(t *testing.T) {
	g := Dither(uniform(color.Black, 10, 10), 64, 32)
	require.Equal(t, image.Rect(0, 0, 64, 32), g.Bounds())
	// Small images are not enlarged, only centred.
	require.Equal(t, uint8(255), g.GrayAt(0, 16).Y)
	require.Equal(t, uint8(255), g.GrayAt(63, 16).Y)
	require.Equal(t, uint8(0), g.GrayAt(32, 16).Y)
}

func TestDitherGreyMixesInk(t *testing.T) {
	g := Dither(uniform(color.Gray{Y: 128}, 32, 32), 32, 32)
	var ink int
	for _, px := range g.Pix {
		require.Contains(t, []uint8{0, 255}, px)
		if px == 0 {
			ink++
		}
	}
	require.Greater(t, ink, 0)
	require.Less(t, ink, len(g.Pix))
}
