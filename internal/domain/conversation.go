package domain

import "time"

// Conversation roles, matching the model API roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message kinds.
const (
	MessageKindText  = "text"
	MessageKindImage = "image"
	MessageKindPhoto = "photo"
)

// ConversationMessage is one append-only history record of a user on a bot.
type ConversationMessage struct {
	ID        int64
	UserID    int64
	BotID     int64
	Role      string
	Kind      string
	Text      string
	CreatedAt time.Time
}

// MemoryStats summarizes a user's stored history on a bot.
type MemoryStats struct {
	Messages int
	Images   int
	First    *time.Time
	Last     *time.Time
}

// BotStats aggregates usage of one bot instance.
type BotStats struct {
	BotID       int64
	Users       int64
	BannedUsers int64
	ActiveToday int64
	Messages    int64
	Images      int64
}
