package model

import (
	"errors"
	"fmt"
)

// JobErrorKind classifies job-fatal and client errors.
type JobErrorKind int

const (
	KindValidation JobErrorKind = iota + 1
	KindUnsupported
	KindFetch
	KindAnalysis
	KindStorage
)

func (k JobErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnsupported:
		return "unsupported"
	case KindFetch:
		return "fetch"
	case KindAnalysis:
		return "analysis"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// JobError is returned by the orchestrator for any condition that ends a job.
type JobError struct {
	Kind JobErrorKind
	Op   string
	Err  error
}

func (e *JobError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// ClientError reports whether the failure is the caller's fault.
func (e *JobError) ClientError() bool {
	return e.Kind == KindValidation || e.Kind == KindUnsupported
}

// NewJobError wraps err with a kind and operation name.
func NewJobError(kind JobErrorKind, op string, err error) *JobError {
	return &JobError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the JobErrorKind carried by err, or 0.
func KindOf(err error) JobErrorKind {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	return 0
}
