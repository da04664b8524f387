// Package registry owns the lifecycle of the detection model: checkpoint
// discovery, lazy loading, device selection and the permanent fallback used
// when no checkpoint is deployed.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// Device is the compute target chosen once at load time.
type Device string

const (
	DeviceCPU         Device = "cpu"
	DeviceAccelerated Device = "accelerated"
)

// FallbackProbability is returned for every input when no checkpoint exists.
const FallbackProbability = 0.664

// ModelVersion is reported alongside the backbone name.
const ModelVersion = "1.0"

// acceleratorNodes are device files whose presence signals an accelerator.
var acceleratorNodes = []string{"/dev/nvidia0", "/dev/dri/renderD128", "/dev/kfd"}

// State is the loaded model. It is immutable once published.
type State struct {
	CheckpointPath string
	Backbone       string
	InputSize      int
	Device         Device
	Net            *Network
}

// Fallback reports whether the state carries no network.
func (s *State) Fallback() bool { return s.Net == nil }

// Options configures a Registry.
type Options struct {
	Candidates []string
	Device     string // auto, cpu or accelerated

	// Probe overrides accelerator detection in auto mode.
	Probe func() bool
}

type Registry struct {
	opts  Options
	state atomic.Pointer[State]
	mu    sync.Mutex
}

func New(opts Options) *Registry {
	if opts.Probe == nil {
		opts.Probe = probeAccelerator
	}
	return &Registry{opts: opts}
}

// NewStatic returns a Registry that already holds s.
func NewStatic(s *State) *Registry {
	r := &Registry{}
	r.state.Store(s)
	return r
}

// Loaded returns the published state without triggering a load.
func (r *Registry) Loaded() *State {
	return r.state.Load()
}

// EnsureLoaded returns the model state, loading it on first use. A missing
// checkpoint publishes the fallback state permanently. A checkpoint that
// exists but cannot be built returns an error wrapping ErrCheckpoint and
// leaves nothing cached, so the next call tries again.
func (r *Registry) EnsureLoaded() (*State, error) {
	if s := r.state.Load(); s != nil {
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.state.Load(); s != nil {
		return s, nil
	}

	s, err := r.load()
	if err != nil {
		return nil, err
	}
	r.state.Store(s)
	return s, nil
}

func (r *Registry) load() (*State, error) {
	device := r.selectDevice()

	path, err := firstExisting(r.opts.Candidates)
	if err != nil {
		return nil, err
	}
	if path == "" {
		slog.Warn("no model checkpoint found, using fallback scores", "candidates", r.opts.Candidates)
		return &State{Backbone: DefaultBackbone, InputSize: DefaultInputSize, Device: device}, nil
	}

	ck, err := readCheckpoint(path)
	if err != nil {
		return nil, err
	}
	net, err := ck.build(device == DeviceAccelerated)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	slog.Info("model loaded",
		"path", path,
		"backbone", ck.Args.BackboneName,
		"input_size", ck.Args.ImgSize,
		"device", device,
	)
	return &State{
		CheckpointPath: path,
		Backbone:       ck.Args.BackboneName,
		InputSize:      ck.Args.ImgSize,
		Device:         device,
		Net:            net,
	}, nil
}

func (r *Registry) selectDevice() Device {
	switch r.opts.Device {
	case string(DeviceCPU):
		return DeviceCPU
	case string(DeviceAccelerated):
		return DeviceAccelerated
	}
	if r.opts.Probe() {
		return DeviceAccelerated
	}
	return DeviceCPU
}

func firstExisting(paths []string) (string, error) {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() {
			return p, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat checkpoint %s: %w", p, err)
		}
	}
	return "", nil
}

func probeAccelerator() bool {
	for _, node := range acceleratorNodes {
		if _, err := os.Stat(node); err == nil {
			return true
		}
	}
	return false
}
