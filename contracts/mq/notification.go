package mq

import "time"

const (
	RoutingFollowUpSent      = "commitment.follow_up.sent"
	RoutingDispatchCompleted = "dispatch.completed"
)

// FollowUpSentPayload is written to the outbox in the same transaction that
// increments the commitment's follow-up counter.
type FollowUpSentPayload struct {
	CommitmentID  int64     `json:"commitment_id"`
	UserID        int64     `json:"user_id"`
	FollowUpCount int       `json:"follow_up_count"`
	SentAt        time.Time `json:"sent_at"`
	RunID         string    `json:"run_id,omitempty"`
}

type PassCounts struct {
	Candidates int `json:"candidates"`
	Sent       int `json:"sent"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// DispatchCompletedPayload summarises one dispatch tick for downstream
// monitoring consumers.
type DispatchCompletedPayload struct {
	RunID      string                `json:"run_id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Passes     map[string]PassCounts `json:"passes"`
	PassErrors map[string]string     `json:"pass_errors,omitempty"`
}
