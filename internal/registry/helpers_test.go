package registry

import (
	"image"
	"image/color"
)

func solid(size int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: 90, G: 120, B: 200, A: 255})
		}
	}
	return img
}

func gradient(size int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 9), G: uint8(y * 9), B: uint8((x + y) * 4), A: 255})
		}
	}
	return img
}
