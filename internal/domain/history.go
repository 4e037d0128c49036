package domain

import "time"

// HistoryRole identifies the speaker of a history message.
type HistoryRole string

// Possible history role values
const (
	HistoryRoleUser      HistoryRole = "user"
	HistoryRoleAssistant HistoryRole = "assistant"
)

// HistoryMessage is one entry in a node's bounded short-term
// conversation window.
type HistoryMessage struct {
	Role      HistoryRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}
