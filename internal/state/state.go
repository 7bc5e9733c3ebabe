package state

import "time"

// State names a step of a multi-message dialog.
type State string

const (
	StateIdle                  State = "idle"
	StateAwaitingCloneToken    State = "awaiting_clone_token"
	StateAwaitingBroadcastText State = "awaiting_broadcast_text"
	StateConfirmingBroadcast   State = "confirming_broadcast"
	// StateError marks a dialog that broke and must be reset by the user.
	StateError State = "error"
)

// Known lists every state the bot enters, in display order.
var Known = []State{
	StateIdle,
	StateAwaitingCloneToken,
	StateAwaitingBroadcastText,
	StateConfirmingBroadcast,
	StateError,
}

// Data keys carried by a Dialog.
const (
	KeyBroadcastText = "broadcast_text"
)

// Dialog is the stored progress of one user within one bot.
type Dialog struct {
	UserID    int64             `json:"user_id"`
	State     State             `json:"state"`
	Data      map[string]string `json:"data,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Value returns a data entry, or "" when the dialog or the key is missing.
func (d *Dialog) Value(key string) string {
	if d == nil {
		return ""
	}
	return d.Data[key]
}
