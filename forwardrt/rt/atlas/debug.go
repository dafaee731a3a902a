package atlas

import (
	"image"
	"image/color"

	"golang.org/x/image/colornames"
	"golang.org/x/image/draw"
)

// DebugImage renders the slot layout: used slots in orange, free slots in
// gray, each outlined in black. Atlas v=0 is the top row of the image.
func (a *LightTextureAtlas) DebugImage(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: colornames.Black}, image.Point{}, draw.Src)

	for _, s := range a.Slots {
		r := image.Rect(
			int(s.Rect[0]*float32(size)),
			int(s.Rect[1]*float32(size)),
			int((s.Rect[0]+s.Rect[2])*float32(size)),
			int((s.Rect[1]+s.Rect[3])*float32(size)),
		)
		fill := color.Color(colornames.Dimgray)
		if s.Used {
			fill = colornames.Orange
		}
		draw.Draw(img, r.Inset(1), &image.Uniform{C: fill}, image.Point{}, draw.Src)
	}
	return img
}
