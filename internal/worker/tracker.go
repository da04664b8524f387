package worker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/YannKr/deepscan/internal/model"
)

// ErrAlreadyReported is returned on a second terminal transition.
var ErrAlreadyReported = errors.New("job already reported")

// tracker enforces PENDING -> REPORTED_SUCCESS | REPORTED_ERROR, once.
type tracker struct {
	mu    sync.Mutex
	jobID string
	state model.JobState
}

func newTracker(jobID string) *tracker {
	return &tracker{jobID: jobID, state: model.JobPending}
}

func (t *tracker) finish(to model.JobState) error {
	if to != model.JobReportedSuccess && to != model.JobReportedError {
		return fmt.Errorf("job %s: %s is not a terminal state", t.jobID, to)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != model.JobPending {
		return fmt.Errorf("job %s: %w as %s", t.jobID, ErrAlreadyReported, t.state)
	}
	t.state = to
	return nil
}

func (t *tracker) State() model.JobState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
