// Package matcher selects the compatible machine that can start a request
// the earliest.
package matcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cryoqueue-backend/internal/clock"
	"cryoqueue-backend/internal/model"
)

// MachineSource is the read-only view of machines and their queues the
// matcher needs.
type MachineSource interface {
	ListAvailableMachines(ctx context.Context) ([]model.Machine, error)
	QueuedEntries(ctx context.Context, machineID int64) ([]model.QueueEntry, error)
}

// Rejection records why a machine was filtered out.
type Rejection struct {
	Machine string `json:"machine"`
	Stage   string `json:"stage"`
	Reason  string `json:"reason"`
}

func (r Rejection) String() string {
	return fmt.Sprintf("%s: %s", r.Machine, r.Reason)
}

// StageResult counts the candidates that survived one pipeline stage.
type StageResult struct {
	Stage     string `json:"stage"`
	Remaining int    `json:"remaining"`
}

// Candidate is a compatible machine with its projected availability.
type Candidate struct {
	Machine     model.Machine
	Wait        time.Duration
	AvailableAt time.Time
}

// Match is the outcome of FindBest.
type Match struct {
	Machine     model.Machine
	Wait        time.Duration
	AvailableAt time.Time
	Candidates  []Candidate
	Stages      []StageResult
	Rejections  []Rejection
}

// NoMatchError is returned when no machine satisfies a requirement.
type NoMatchError struct {
	Considered int
	Rejections []Rejection
}

func (e *NoMatchError) Error() string {
	if e.Considered == 0 {
		return "no compatible machine: no machines are available"
	}
	reasons := make([]string, len(e.Rejections))
	for i, r := range e.Rejections {
		reasons[i] = r.String()
	}
	return "no compatible machine: " + strings.Join(reasons, "; ")
}

// Matcher runs the filter pipeline and ranks survivors by wait time.
// It has no side effects.
type Matcher struct {
	clock clock.Clock
}

// New creates a Matcher using c for "now".
func New(c clock.Clock) *Matcher {
	return &Matcher{clock: c}
}

// FindBest returns the compatible machine with the earliest projected
// availability. Ties keep the source's iteration order. A *NoMatchError is
// returned when nothing is compatible.
func (m *Matcher) FindBest(ctx context.Context, src MachineSource, req Requirement) (*Match, error) {
	machines, err := src.ListAvailableMachines(ctx)
	if err != nil {
		return nil, err
	}

	survivors, stages, rejections := filter(machines, req)
	if len(survivors) == 0 {
		return nil, &NoMatchError{Considered: len(machines), Rejections: rejections}
	}

	now := m.clock.Now()
	match := &Match{Stages: stages, Rejections: rejections}
	for i := range survivors {
		queue, err := src.QueuedEntries(ctx, survivors[i].ID)
		if err != nil {
			return nil, err
		}
		wait := WaitTime(&survivors[i], queue, now)
		c := Candidate{Machine: survivors[i], Wait: wait, AvailableAt: now.Add(wait)}
		match.Candidates = append(match.Candidates, c)
		if len(match.Candidates) == 1 || c.AvailableAt.Before(match.AvailableAt) {
			match.Machine, match.Wait, match.AvailableAt = c.Machine, c.Wait, c.AvailableAt
		}
	}
	return match, nil
}

// Compatible returns every available machine that passes the pipeline,
// without ranking.
func (m *Matcher) Compatible(ctx context.Context, src MachineSource, req Requirement) ([]model.Machine, []Rejection, error) {
	machines, err := src.ListAvailableMachines(ctx)
	if err != nil {
		return nil, nil, err
	}
	survivors, _, rejections := filter(machines, req)
	return survivors, rejections, nil
}

func filter(machines []model.Machine, req Requirement) ([]model.Machine, []StageResult, []Rejection) {
	candidates := machines
	var stages []StageResult
	var rejections []Rejection

	for _, st := range pipeline {
		kept := candidates[:0:0]
		for i := range candidates {
			if reason := st.check(&candidates[i], req); reason != "" {
				rejections = append(rejections, Rejection{
					Machine: candidates[i].Name,
					Stage:   st.name,
					Reason:  reason,
				})
				continue
			}
			kept = append(kept, candidates[i])
		}
		candidates = kept
		stages = append(stages, StageResult{Stage: st.name, Remaining: len(candidates)})
		if len(candidates) == 0 {
			break
		}
	}
	return candidates, stages, rejections
}

// WaitTime is the time until a machine could start a new request: whatever
// remains of its current job or cooldown, plus duration and cooldown of
// every entry already queued on it.
func WaitTime(machine *model.Machine, queued []model.QueueEntry, now time.Time) time.Duration {
	var wait time.Duration
	if machine.EstimatedAvailableAt != nil && machine.EstimatedAvailableAt.After(now) {
		wait = machine.EstimatedAvailableAt.Sub(now)
	}
	for i := range queued {
		wait += queued[i].Duration() + machine.Cooldown()
	}
	return wait
}
