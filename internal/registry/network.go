package registry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YannKr/deepscan/internal/imaging"
)

// Network is a backbone followed by a two-layer classification head
// (Linear, ReLU, Linear) producing one logit. It is read-only after
// construction and safe for concurrent use.
type Network struct {
	backbone *GridPool
	w1       *mat.Dense
	b1       *mat.VecDense
	w2       *mat.Dense
	b2       float64
}

// NewNetwork validates layer shapes against the backbone feature dimension.
func NewNetwork(bb *GridPool, w1 *mat.Dense, b1 []float64, w2 *mat.Dense, b2 float64) (*Network, error) {
	hidden, in := w1.Dims()
	if in != bb.Dim() {
		return nil, fmt.Errorf("%w: hidden layer expects %d features, backbone %s yields %d", ErrCheckpoint, in, bb.Name(), bb.Dim())
	}
	if len(b1) != hidden {
		return nil, fmt.Errorf("%w: hidden bias has %d values, want %d", ErrCheckpoint, len(b1), hidden)
	}
	if r, c := w2.Dims(); r != 1 || c != hidden {
		return nil, fmt.Errorf("%w: output layer is %dx%d, want 1x%d", ErrCheckpoint, r, c, hidden)
	}
	return &Network{
		backbone: bb,
		w1:       w1,
		b1:       mat.NewVecDense(hidden, append([]float64(nil), b1...)),
		w2:       w2,
		b2:       b2,
	}, nil
}

// Logit runs the forward pass on a normalized tensor.
func (n *Network) Logit(t *imaging.Tensor) (float64, error) {
	if t.Size != n.backbone.size {
		return 0, fmt.Errorf("tensor size %d does not match model input %d", t.Size, n.backbone.size)
	}
	feats := n.backbone.Features(t)
	x := mat.NewVecDense(len(feats), feats)

	hidden, _ := n.w1.Dims()
	h := mat.NewVecDense(hidden, nil)
	h.MulVec(n.w1, x)
	h.AddVec(h, n.b1)
	for i := 0; i < hidden; i++ {
		if h.AtVec(i) < 0 {
			h.SetVec(i, 0)
		}
	}

	out := mat.NewVecDense(1, nil)
	out.MulVec(n.w2, h)
	return out.AtVec(0) + n.b2, nil
}

// Sigmoid maps a logit to a probability.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
