package decode

import (
	"image"
	"image/color"
)

// Luminance converts img to a single-channel image whose value at each pixel
// is the mean of its 8-bit R, G and B components rounded to the nearest
// integer. Alpha is ignored.
func Luminance(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(b)

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			sum := uint32(c.R) + uint32(c.G) + uint32(c.B)
			gray.SetGray(x, y, color.Gray{Y: roundedMean(sum)})
		}
	}
	return gray
}

// roundedMean returns sum/3 rounded half up, clamped to 255.
func roundedMean(sum uint32) uint8 {
	v := (2*sum + 3) / 6
	if v > 255 {
		v = 255
	}
	return uint8(v)
}
