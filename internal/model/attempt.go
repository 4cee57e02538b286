package model

import (
	"errors"
	"time"
)

// Pass identifies one of the dispatch passes.
type Pass string

const (
	PassFollowUp Pass = "follow_up"
	PassWeekly   Pass = "weekly_check_in"
	PassOverdue  Pass = "overdue_alert"
)

// Category maps a pass to the preference flag that gates it.
func (p Pass) Category() Category {
	switch p {
	case PassWeekly:
		return CategoryWeekly
	case PassOverdue:
		return CategoryOverdue
	default:
		return CategoryFollowUp
	}
}

type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Attempt is the outcome of handling one candidate in a pass.
type Attempt struct {
	Pass          Pass    `json:"pass"`
	UserID        int64   `json:"user_id"`
	CommitmentIDs []int64 `json:"commitment_ids,omitempty"`
	Outcome       Outcome `json:"outcome"`
	Reason        string  `json:"reason,omitempty"`
	ErrorClass    string  `json:"error_class,omitempty"`
}

// Success is true for sent and deliberately skipped attempts.
func (a Attempt) Success() bool {
	return a.Outcome != OutcomeFailed
}

func (a Attempt) Skipped() bool {
	return a.Outcome == OutcomeSkipped
}

type PassSummary struct {
	Candidates int  `json:"candidates"`
	Sent       int  `json:"sent"`
	Skipped    int  `json:"skipped"`
	Failed     int  `json:"failed"`
	Ran        bool `json:"ran"`
}

// Report aggregates every attempt of one dispatch tick.
type Report struct {
	RunID      string                `json:"run_id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	DryRun     bool                  `json:"dry_run"`
	Passes     map[Pass]*PassSummary `json:"passes"`
	Attempts   []Attempt             `json:"-"`
	PassErrors map[Pass]string       `json:"pass_errors,omitempty"`
}

func NewReport(runID string, startedAt time.Time) *Report {
	return &Report{
		RunID:      runID,
		StartedAt:  startedAt,
		Passes:     map[Pass]*PassSummary{},
		PassErrors: map[Pass]string{},
	}
}

// StartPass marks a pass as having run, even if it selects nobody.
func (r *Report) StartPass(p Pass, candidates int) {
	s := r.summary(p)
	s.Ran = true
	s.Candidates += candidates
}

func (r *Report) Add(a Attempt) {
	r.Attempts = append(r.Attempts, a)
	s := r.summary(a.Pass)
	switch a.Outcome {
	case OutcomeSent:
		s.Sent++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}
}

func (r *Report) FailPass(p Pass, err error) {
	r.summary(p).Ran = true
	r.PassErrors[p] = err.Error()
}

func (r *Report) Summary(p Pass) PassSummary {
	if s, ok := r.Passes[p]; ok {
		return *s
	}
	return PassSummary{}
}

func (r *Report) Totals() PassSummary {
	var t PassSummary
	for _, s := range r.Passes {
		t.Candidates += s.Candidates
		t.Sent += s.Sent
		t.Skipped += s.Skipped
		t.Failed += s.Failed
	}
	return t
}

// ErrPassFailed wraps selection failures surfaced from a run.
var ErrPassFailed = errors.New("dispatch pass failed")

func (r *Report) summary(p Pass) *PassSummary {
	s, ok := r.Passes[p]
	if !ok {
		s = &PassSummary{}
		r.Passes[p] = s
	}
	return s
}
