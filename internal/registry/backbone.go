package registry

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/YannKr/deepscan/internal/imaging"
)

// GridPool summarizes a normalized tensor by splitting it into a Grid x Grid
// lattice and emitting the mean and standard deviation of every channel in
// every cell.
type GridPool struct {
	name     string
	grid     int
	size     int
	parallel bool
}

var backbones = map[string]int{
	"gridpool":   7,
	"globalpool": 1,
}

// NewBackbone returns the feature extractor registered under name for inputs
// of the given square size.
func NewBackbone(name string, size int) (*GridPool, error) {
	grid, ok := backbones[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown backbone %q", ErrCheckpoint, name)
	}
	if size < grid {
		return nil, fmt.Errorf("%w: input size %d smaller than %dx%d grid", ErrCheckpoint, size, grid, grid)
	}
	return &GridPool{name: name, grid: grid, size: size}, nil
}

func (g *GridPool) Name() string { return g.name }

// Dim is the length of the feature vector.
func (g *GridPool) Dim() int { return 3 * g.grid * g.grid * 2 }

// Features extracts the pooled statistics. Cells are computed concurrently
// when the backbone runs on the accelerated device.
func (g *GridPool) Features(t *imaging.Tensor) []float64 {
	out := make([]float64, g.Dim())
	if !g.parallel {
		for c := 0; c < 3; c++ {
			for gy := 0; gy < g.grid; gy++ {
				g.row(t, c, gy, out)
			}
		}
		return out
	}

	var wg sync.WaitGroup
	for c := 0; c < 3; c++ {
		for gy := 0; gy < g.grid; gy++ {
			wg.Add(1)
			go func(c, gy int) {
				defer wg.Done()
				g.row(t, c, gy, out)
			}(c, gy)
		}
	}
	wg.Wait()
	return out
}

// row fills the features of one row of cells in channel c.
func (g *GridPool) row(t *imaging.Tensor, c, gy int, out []float64) {
	y0, y1 := gy*t.Size/g.grid, (gy+1)*t.Size/g.grid
	buf := make([]float64, 0, (y1-y0)*(t.Size/g.grid+1))
	for gx := 0; gx < g.grid; gx++ {
		x0, x1 := gx*t.Size/g.grid, (gx+1)*t.Size/g.grid
		buf = buf[:0]
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				buf = append(buf, t.At(c, y, x))
			}
		}
		mean, std := stat.MeanStdDev(buf, nil)
		if len(buf) < 2 {
			std = 0
		}
		i := ((c*g.grid+gy)*g.grid + gx) * 2
		out[i] = mean
		out[i+1] = std
	}
}
