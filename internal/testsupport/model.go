package testsupport

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YannKr/deepscan/internal/registry"
)

// ConstantRegistry returns a registry whose network scores every input at
// probability p. Inputs are resized to size x size.
func ConstantRegistry(t testing.TB, p float64, size int) *registry.Registry {
	t.Helper()

	bb, err := registry.NewBackbone("globalpool", size)
	if err != nil {
		t.Fatalf("backbone: %v", err)
	}
	net, err := registry.NewNetwork(bb,
		mat.NewDense(1, bb.Dim(), nil),
		[]float64{0},
		mat.NewDense(1, 1, nil),
		math.Log(p/(1-p)),
	)
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	return registry.NewStatic(&registry.State{
		CheckpointPath: "memory",
		Backbone:       bb.Name(),
		InputSize:      size,
		Device:         registry.DeviceCPU,
		Net:            net,
	})
}

// FallbackRegistry returns a registry pinned to the fallback state.
func FallbackRegistry() *registry.Registry {
	return registry.NewStatic(&registry.State{
		Backbone:  registry.DefaultBackbone,
		InputSize: registry.DefaultInputSize,
		Device:    registry.DeviceCPU,
	})
}
