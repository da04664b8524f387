package model

import (
	"math"
	"time"
)

// Label is the human-readable verdict attached to a score.
type Label string

const (
	LabelReal          Label = "REAL"
	LabelFakeGenerated Label = "FAKE (AI-generated)"
	LabelFakeEdited    Label = "FAKE (Edited appearance)"
	LabelVideoAnalysis Label = "VIDEO ANALYSIS"
)

// Label bands over the raw probability. Lower bounds are inclusive.
const (
	GeneratedThreshold = 0.60
	EditedThreshold    = 0.15
)

// LabelFor maps a raw probability onto its label band.
func LabelFor(p float64) Label {
	switch {
	case p >= GeneratedThreshold:
		return LabelFakeGenerated
	case p >= EditedThreshold:
		return LabelFakeEdited
	default:
		return LabelReal
	}
}

// RiskLevel is the coarse triage tier reported to the backend.
type RiskLevel string

const (
	RiskLow        RiskLevel = "LOW"
	RiskSuspicious RiskLevel = "SUSPICIOUS"
	RiskHigh       RiskLevel = "HIGHRISK"
)

// RiskFor bands fake_percent independently of the label thresholds.
func RiskFor(fakePercent float64) RiskLevel {
	switch {
	case fakePercent >= 70:
		return RiskHigh
	case fakePercent >= 40:
		return RiskSuspicious
	default:
		return RiskLow
	}
}

// Confidence is the distance from the decision boundary scaled to [0,1].
func Confidence(p float64) float64 {
	return math.Abs(p-0.5) * 2
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// ScoreResult is the output of one scoring call.
type ScoreResult struct {
	RawProbability float64
	FakePercent    float64
	RealPercent    float64
	Label          Label
	Fallback       bool
}

// NewScoreResult derives percentages and the label from a raw probability.
func NewScoreResult(p float64) ScoreResult {
	fake := Round(p*100, 2)
	return ScoreResult{
		RawProbability: p,
		FakePercent:    fake,
		RealPercent:    Round(100-fake, 2),
		Label:          LabelFor(p),
	}
}

// OutcomeKind tells whether a score was produced on the canonical input.
type OutcomeKind int

const (
	OutcomeScored OutcomeKind = iota
	OutcomeDegraded
)

func (k OutcomeKind) String() string {
	if k == OutcomeDegraded {
		return "degraded"
	}
	return "scored"
}

// Outcome wraps a ScoreResult with the soft-failure reason, if any.
type Outcome struct {
	Kind   OutcomeKind
	Result ScoreResult
	Reason string
}

func Scored(r ScoreResult) Outcome {
	return Outcome{Kind: OutcomeScored, Result: r}
}

func Degraded(r ScoreResult, reason string) Outcome {
	return Outcome{Kind: OutcomeDegraded, Result: r, Reason: reason}
}

// MediaKind routes a file to the image or video path.
type MediaKind string

const (
	MediaImage       MediaKind = "image"
	MediaVideo       MediaKind = "video"
	MediaUnsupported MediaKind = ""
)

// JobState is the terminal-state machine of an analysis job.
type JobState string

const (
	JobPending         JobState = "PENDING"
	JobReportedSuccess JobState = "REPORTED_SUCCESS"
	JobReportedError   JobState = "REPORTED_ERROR"
)

// TamperRegion is reserved for localization output; always empty today.
type TamperRegion struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// RiskReport is the payload sent to the backend result callback.
type RiskReport struct {
	Score          float64           `json:"score"`
	Confidence     float64           `json:"confidence"`
	RiskLevel      RiskLevel         `json:"riskLevel"`
	ModelVersions  map[string]string `json:"modelVersions"`
	TamperRegions  []TamperRegion    `json:"tamperRegions"`
	ProcessingTime float64           `json:"processingTime"`
	Metadata       map[string]any    `json:"metadata"`
	PerFrameScores []float64         `json:"perFrameScores,omitempty"`
	FrameCount     *int              `json:"frameCount,omitempty"`
}

// JobRecord is the local ledger entry for one job.
type JobRecord struct {
	ID         string
	SourceURL  string
	MediaKind  string
	State      JobState
	RiskLevel  string
	Score      *float64
	Error      string
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// CallbackDelivery records one attempt to reach the backend.
type CallbackDelivery struct {
	ID             string
	JobID          string
	Kind           string
	ResponseStatus *int
	BodyPreview    string
	ErrorMessage   string
	AttemptedAt    time.Time
}
