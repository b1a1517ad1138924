package domain

import (
	"errors"
	"strings"
	"time"
)

// Reduction statuses. Transitions only move forward:
// created -> queued -> initializing -> running -> {done, error, canceled}.
const (
	ReductionCreated      = "created"
	ReductionQueued       = "queued"
	ReductionInitializing = "initializing"
	ReductionRunning      = "running"
	ReductionDone         = "done"
	ReductionError        = "error"
	ReductionCanceled     = "canceled"
)

var reductionRank = map[string]int{
	ReductionCreated:      0,
	ReductionQueued:       1,
	ReductionInitializing: 2,
	ReductionRunning:      3,
	ReductionDone:         4,
	ReductionError:        4,
	ReductionCanceled:     4,
}

// Reduction is one execution of a recipe over a subset of a run's files.
type Reduction struct {
	ID        int64
	RecipeID  int64
	Status    string
	StartTime time.Time
	EndTime   *time.Time
	TaskID    string
	CreatedAt time.Time
}

func (r Reduction) Validate() error {
	if r.RecipeID <= 0 {
		return errors.New("recipe id is required")
	}
	if _, ok := reductionRank[strings.TrimSpace(r.Status)]; !ok {
		return errors.New("unknown reduction status: " + r.Status)
	}
	return nil
}

// ReductionStatusTerminal reports whether a status ends the reduction.
func ReductionStatusTerminal(status string) bool {
	switch status {
	case ReductionDone, ReductionError, ReductionCanceled:
		return true
	}
	return false
}

func (r Reduction) Terminal() bool {
	return ReductionStatusTerminal(r.Status)
}

// CanTransition reports whether moving from one status to another is legal.
// Backward transitions and transitions out of a terminal state are rejected.
func CanTransition(from, to string) bool {
	fromRank, ok := reductionRank[from]
	if !ok {
		return false
	}
	toRank, ok := reductionRank[to]
	if !ok {
		return false
	}
	if ReductionStatusTerminal(from) {
		return false
	}
	return toRank > fromRank
}
