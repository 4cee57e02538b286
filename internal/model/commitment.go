package model

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusMissed     Status = "missed"
	StatusAbandoned  Status = "abandoned"
)

var (
	ErrInvalidStatus   = errors.New("invalid commitment status")
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")
)

// OpenStatuses is the non-terminal family still eligible for notifications.
var OpenStatuses = []Status{StatusOpen, StatusPending, StatusInProgress}

// OpenStatusStrings returns OpenStatuses as strings for SQL ANY($n) filters.
func OpenStatusStrings() []string {
	out := make([]string, len(OpenStatuses))
	for i, s := range OpenStatuses {
		out[i] = string(s)
	}
	return out
}

func (s Status) IsOpen() bool {
	switch s {
	case StatusOpen, StatusPending, StatusInProgress:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusMissed, StatusAbandoned:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsOpen() && !st.IsTerminal() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

type Commitment struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	Action         string     `json:"action"`
	Status         Status     `json:"status"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	Progress       *int       `json:"progress,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	FollowUpCount  int        `json:"follow_up_count"`
	LastFollowUpAt *time.Time `json:"last_follow_up_at,omitempty"`
}

// WithStatus returns a copy moved to status at the given time. CompletedAt is
// set exactly when the new status is completed.
func (c Commitment) WithStatus(status Status, at time.Time) (Commitment, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return c, err
	}
	c.Status = status
	c.UpdatedAt = at
	if status == StatusCompleted {
		completed := at
		c.CompletedAt = &completed
	} else {
		c.CompletedAt = nil
	}
	return c, nil
}

// WithFollowUp records one sent follow-up. Commitments outside the open family
// are returned unchanged.
func (c Commitment) WithFollowUp(at time.Time) Commitment {
	if !c.Status.IsOpen() {
		return c
	}
	c.FollowUpCount++
	sent := at
	c.LastFollowUpAt = &sent
	return c
}

func ValidateProgress(p int) error {
	if p < 0 || p > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidProgress, p)
	}
	return nil
}

// IsOverdue reports whether an open commitment's deadline is before now.
func (c Commitment) IsOverdue(now time.Time) bool {
	return c.Status.IsOpen() && c.Deadline != nil && c.Deadline.Before(now)
}

// WholeDaysBetween is floor((to-from)/24h), never negative.
func WholeDaysBetween(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}
