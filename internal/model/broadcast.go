package model

import "time"

type BroadcastStatus string

const (
	BroadcastPending    BroadcastStatus = "pending"
	BroadcastInProgress BroadcastStatus = "in_progress"
	BroadcastCompleted  BroadcastStatus = "completed"
	BroadcastCancelled  BroadcastStatus = "cancelled"
	BroadcastFailed     BroadcastStatus = "failed"
)

// Terminal reports whether a broadcast can no longer change state.
func (s BroadcastStatus) Terminal() bool {
	switch s {
	case BroadcastCompleted, BroadcastCancelled, BroadcastFailed:
		return true
	}
	return false
}

// Broadcast is one mass-send run against a fixed audience. SentCount and
// FailedCount are owned by the run loop for the job's lifetime; everyone
// else reads snapshots.
type Broadcast struct {
	ID             string          `json:"id"`
	TemplateRef    string          `json:"templateRef"`
	AudienceFilter string          `json:"audienceFilter"`
	Channel        Channel         `json:"channel"`
	Total          int             `json:"totalRecipients"`
	SentCount      int             `json:"sentCount"`
	FailedCount    int             `json:"failedCount"`
	Status         BroadcastStatus `json:"status"`
	StartedAt      time.Time       `json:"startedAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

// Recipient is one resolved audience member. Variables feed template
// rendering ({first_name} and friends).
type Recipient struct {
	Ref       string
	Address   string
	Variables map[string]string
}
