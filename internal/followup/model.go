package followup

import "time"

// Item is one deferred outbound message. Items live in a per-phone sorted
// set scored by due time; delivered items are removed, never mutated.
type Item struct {
	ID          string            `json:"id"`
	PhoneNumber string            `json:"phone_number"`
	Text        string            `json:"text"`
	CreatedAt   time.Time         `json:"created_at"`
	DueAt       time.Time         `json:"due_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Metadata keys understood by the sweeper.
const (
	MetaMessageType = "message_type"
	MetaUserID      = "user_id"
)
