// Package video scores a video by sampling frames and running each one
// through the image scorer.
package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/YannKr/deepscan/internal/model"
	"github.com/YannKr/deepscan/internal/registry"
)

// DefaultFrameBudget caps the number of frames sampled per video.
const DefaultFrameBudget = 120

// FramesPrefix names the per-analysis frame directory.
const FramesPrefix = "frames_"

// ErrNoFrames is returned when not a single frame could be scored.
var ErrNoFrames = errors.New("no frames analyzed")

// FrameScorer returns the fake probability of a single frame image.
type FrameScorer interface {
	FrameProbability(path string) (float64, error)
}

// Request describes one video analysis.
type Request struct {
	Path      string
	State     *registry.State
	MaxFrames int
}

// Result is the aggregate over all accepted frames.
type Result struct {
	FakePercent    float64
	RealPercent    float64
	FrameScores    []float64
	FramesAnalyzed int
}

// Analyzer scores a video file.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// FFmpegAnalyzer samples frames with ffmpeg into a scratch directory.
type FFmpegAnalyzer struct {
	FFmpeg  string
	FFprobe string
	WorkDir string
	Scorer  FrameScorer
}

func (a *FFmpegAnalyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	budget := req.MaxFrames
	if budget <= 0 {
		budget = DefaultFrameBudget
	}

	probe, err := Probe(ctx, a.FFprobe, req.Path)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(a.WorkDir, FramesPrefix+uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}
	defer os.RemoveAll(dir)

	size := registry.DefaultInputSize
	if req.State != nil && req.State.InputSize > 0 {
		size = req.State.InputSize
	}
	if err := a.extract(ctx, req.Path, dir, probe, budget, size); err != nil {
		return nil, err
	}

	res, err := ScoreFrames(dir, a.Scorer)
	if err != nil {
		return nil, err
	}
	slog.Info("video analyzed",
		"path", req.Path,
		"duration_secs", probe.DurationSecs,
		"frames", res.FramesAnalyzed,
		"fake_percent", res.FakePercent,
	)
	return res, nil
}

// extract writes up to budget frames spread evenly over the duration.
func (a *FFmpegAnalyzer) extract(ctx context.Context, in, dir string, probe *ProbeResult, budget, size int) error {
	vf := fmt.Sprintf("scale=%d:%d", size, size)
	if probe.DurationSecs > 0 && (probe.FrameCount == 0 || probe.FrameCount > budget) {
		fps := float64(budget) / probe.DurationSecs
		vf = "fps=" + strconv.FormatFloat(fps, 'f', 4, 64) + "," + vf
	}
	cmd := exec.CommandContext(ctx, a.FFmpeg,
		"-v", "error",
		"-i", in,
		"-vf", vf,
		"-frames:v", strconv.Itoa(budget),
		"-q:v", "2",
		"-y",
		filepath.Join(dir, "frame_%04d.jpg"),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg extract frames: %w\n%s", err, string(out))
	}
	return nil
}

// ScoreFrames scores every image in dir in name order. Frames that fail to
// score are skipped; an empty result is an error.
func ScoreFrames(dir string, scorer FrameScorer) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	scores := make([]float64, 0, len(names))
	for _, name := range names {
		p, err := scorer.FrameProbability(filepath.Join(dir, name))
		if err != nil {
			if errors.Is(err, registry.ErrCheckpoint) {
				return nil, err
			}
			slog.Debug("skip frame", "frame", name, "error", err)
			continue
		}
		scores = append(scores, p)
	}
	return Aggregate(scores)
}

// Aggregate averages per-frame probabilities into a Result.
func Aggregate(scores []float64) (*Result, error) {
	if len(scores) == 0 {
		return nil, ErrNoFrames
	}
	fake := model.Round(stat.Mean(scores, nil)*100, 2)
	rounded := make([]float64, len(scores))
	for i, s := range scores {
		rounded[i] = model.Round(s, 4)
	}
	return &Result{
		FakePercent:    fake,
		RealPercent:    model.Round(100-fake, 2),
		FrameScores:    rounded,
		FramesAnalyzed: len(scores),
	}, nil
}
