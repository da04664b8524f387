package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

// ErrCheckpoint marks a checkpoint that exists but cannot be used.
var ErrCheckpoint = errors.New("invalid checkpoint")

const (
	DefaultInputSize = 224
	DefaultBackbone  = "gridpool"
)

// State-dict keys of the classification head. The indices follow the layer
// positions of Dropout, Linear, ReLU, Dropout, Linear.
const (
	keyHiddenWeight = "head.1.weight"
	keyHiddenBias   = "head.1.bias"
	keyOutWeight    = "head.4.weight"
	keyOutBias      = "head.4.bias"
)

type checkpointArgs struct {
	ImgSize      int    `json:"img_size"`
	BackboneName string `json:"backbone_name"`
}

type checkpoint struct {
	Args  checkpointArgs
	State map[string]json.RawMessage
}

func readCheckpoint(path string) (*checkpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCheckpoint, path, err)
	}

	ck := &checkpoint{Args: checkpointArgs{ImgSize: DefaultInputSize, BackboneName: DefaultBackbone}}
	if a, ok := doc["args"]; ok {
		if err := json.Unmarshal(a, &ck.Args); err != nil {
			return nil, fmt.Errorf("%w: args: %v", ErrCheckpoint, err)
		}
		if ck.Args.ImgSize <= 0 {
			ck.Args.ImgSize = DefaultInputSize
		}
		if ck.Args.BackboneName == "" {
			ck.Args.BackboneName = DefaultBackbone
		}
	}

	// A bare state dict is accepted as well as a wrapped one.
	if sd, ok := doc["model_state_dict"]; ok {
		if err := json.Unmarshal(sd, &ck.State); err != nil {
			return nil, fmt.Errorf("%w: model_state_dict: %v", ErrCheckpoint, err)
		}
	} else {
		delete(doc, "args")
		ck.State = doc
	}
	return ck, nil
}

func (ck *checkpoint) matrix(key string) (*mat.Dense, error) {
	raw, ok := ck.State[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrCheckpoint, key)
	}
	var rows [][]float64
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCheckpoint, key, err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrCheckpoint, key)
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("%w: %s row %d has %d columns, want %d", ErrCheckpoint, key, i, len(r), cols)
		}
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}

func (ck *checkpoint) vector(key string) ([]float64, error) {
	raw, ok := ck.State[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrCheckpoint, key)
	}
	var v []float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCheckpoint, key, err)
	}
	return v, nil
}

// build constructs the network described by the checkpoint.
func (ck *checkpoint) build(parallel bool) (*Network, error) {
	bb, err := NewBackbone(ck.Args.BackboneName, ck.Args.ImgSize)
	if err != nil {
		return nil, err
	}
	bb.parallel = parallel

	w1, err := ck.matrix(keyHiddenWeight)
	if err != nil {
		return nil, err
	}
	b1, err := ck.vector(keyHiddenBias)
	if err != nil {
		return nil, err
	}
	w2, err := ck.matrix(keyOutWeight)
	if err != nil {
		return nil, err
	}
	b2, err := ck.vector(keyOutBias)
	if err != nil {
		return nil, err
	}
	if len(b2) != 1 {
		return nil, fmt.Errorf("%w: %s has %d values, want 1", ErrCheckpoint, keyOutBias, len(b2))
	}
	return NewNetwork(bb, w1, b1, w2, b2[0])
}
