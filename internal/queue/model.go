package queue

import "time"

type Message struct {
	ID                string    `json:"id"`
	PhoneNumber       string    `json:"phone_number"`
	Body              string    `json:"body"`
	ProviderMessageID string    `json:"provider_message_id"`
	ReceivedAt        time.Time `json:"received_at"`
	Attempts          int       `json:"attempts"`
	Status            string    `json:"status"`
	Error             string    `json:"error,omitempty"`
	UserID            string    `json:"user_id,omitempty"`
	ConversationID    string    `json:"conversation_id,omitempty"`

	// NotBefore delays reprocessing of a failed message. A message popped
	// before this time goes back to the tail untouched.
	NotBefore time.Time `json:"not_before,omitempty"`
}

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)
