package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// ImageNet channel statistics used to normalize model inputs.
var (
	Mean = [3]float64{0.485, 0.456, 0.406}
	Std  = [3]float64{0.229, 0.224, 0.225}
)

// Tensor is a normalized 3 x Size x Size image in channel-major order.
type Tensor struct {
	Size int
	Data []float64
}

// At returns the value of channel c at row y, column x.
func (t *Tensor) At(c, y, x int) float64 {
	return t.Data[c*t.Size*t.Size+y*t.Size+x]
}

// Channel returns the backing slice for channel c.
func (t *Tensor) Channel(c int) []float64 {
	n := t.Size * t.Size
	return t.Data[c*n : (c+1)*n]
}

// LoadTensor decodes the image at path and converts it with FromImage.
func LoadTensor(path string, size int) (*Tensor, error) {
	img, err := loadRGB(path)
	if err != nil {
		return nil, err
	}
	return FromImage(img, size), nil
}

// FromImage resizes img to size x size with bilinear filtering, scales
// samples to [0,1] and applies the per-channel normalization.
func FromImage(img image.Image, size int) *Tensor {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	n := size * size
	t := &Tensor{Size: size, Data: make([]float64, 3*n)}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := dst.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v := float64(dst.Pix[i+c]) / 255
				t.Data[c*n+y*size+x] = (v - Mean[c]) / Std[c]
			}
		}
	}
	return t
}
