// Package scorer turns an image file into a calibrated fake probability.
package scorer

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/YannKr/deepscan/internal/imaging"
	"github.com/YannKr/deepscan/internal/model"
	"github.com/YannKr/deepscan/internal/registry"
)

// Scorer runs the registry's network over single images. It is safe for
// concurrent use.
type Scorer struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Scorer {
	return &Scorer{reg: reg}
}

// Score computes the ScoreResult of the image at path. No standardization is
// applied; use ScoreFile for untrusted inputs.
func (s *Scorer) Score(path string) (model.ScoreResult, error) {
	p, fallback, err := s.probability(path)
	if err != nil {
		return model.ScoreResult{}, err
	}
	res := model.NewScoreResult(p)
	res.Fallback = fallback
	return res, nil
}

// FrameProbability scores one extracted video frame.
func (s *Scorer) FrameProbability(path string) (float64, error) {
	p, _, err := s.probability(path)
	return p, err
}

func (s *Scorer) probability(path string) (float64, bool, error) {
	state, err := s.reg.EnsureLoaded()
	if err != nil {
		return 0, false, err
	}
	if state.Fallback() {
		return registry.FallbackProbability, true, nil
	}

	t, err := imaging.LoadTensor(path, state.InputSize)
	if err != nil {
		return 0, false, fmt.Errorf("prepare %s: %w", path, err)
	}
	logit, err := state.Net.Logit(t)
	if err != nil {
		return 0, false, fmt.Errorf("forward pass: %w", err)
	}
	return registry.Sigmoid(logit), false, nil
}

// ScoreFile standardizes the image, scores the canonical copy and removes
// it afterwards. A standardization failure does not stop scoring: the
// original file is scored and the outcome is marked degraded.
func (s *Scorer) ScoreFile(path string) (model.Outcome, error) {
	canonical, stdErr := imaging.Standardize(path)
	if canonical != path {
		defer func() {
			if err := os.Remove(canonical); err != nil && !os.IsNotExist(err) {
				slog.Warn("remove standardized image", "path", canonical, "error", err)
			}
		}()
	}

	res, err := s.Score(canonical)
	if err != nil {
		return model.Outcome{}, err
	}
	if stdErr != nil {
		return model.Degraded(res, stdErr.Error()), nil
	}
	return model.Scored(res), nil
}
