package eventbus

import "time"

// ChatReply is published after an assistant message has been stored.
type ChatReply struct {
	Page      string    `json:"page"`
	Session   string    `json:"session"`
	MessageID string    `json:"message_id"`
	Content   string    `json:"content"`
	Format    string    `json:"format"`
	Speed     int       `json:"speed"`
	At        time.Time `json:"at"`
}

// WorkbenchStatus is published on every recommendation status change.
type WorkbenchStatus struct {
	RecID    string    `json:"rec_id"`
	SKU      string    `json:"sku"`
	Location string    `json:"location"`
	Status   string    `json:"status"`
	PONumber string    `json:"po_number,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}
