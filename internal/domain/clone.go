package domain

import "time"

// CloneStatus is the lifecycle state of a clone registration.
type CloneStatus string

const (
	CloneStatusPending CloneStatus = "pending"
	CloneStatusActive  CloneStatus = "active"
	CloneStatusRevoked CloneStatus = "revoked"
)

// Revoke reasons recorded on a registration.
const (
	RevokeReasonOwnerDeleted    = "owner_deleted"
	RevokeReasonAdminRevoked    = "admin_revoked"
	RevokeReasonAuthFailed      = "auth_failed"
	RevokeReasonTooManyFailures = "too_many_failures"
	RevokeReasonStartFailed     = "start_failed"
	RevokeReasonAbandoned       = "abandoned"
)

// CanTransitionTo reports whether a registration may move from s to next.
// Nothing leaves revoked; active -> active covers a restart after a transient failure.
func (s CloneStatus) CanTransitionTo(next CloneStatus) bool {
	switch s {
	case CloneStatusPending:
		return next == CloneStatusActive || next == CloneStatusRevoked
	case CloneStatusActive:
		return next == CloneStatusActive || next == CloneStatusRevoked
	default:
		return false
	}
}

// Live reports whether the registration still counts against the owner and token uniqueness.
func (s CloneStatus) Live() bool {
	return s == CloneStatusPending || s == CloneStatusActive
}

// CloneRegistration records which user owns which secondary bot token.
type CloneRegistration struct {
	ID           int64
	OwnerID      int64
	AdminID      int64
	BotToken     string `json:"-"`
	BotID        int64
	BotUsername  string
	BotName      string
	Status       CloneStatus
	RevokeReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	RevokedAt    *time.Time
}

// BotIdentity is what the messaging platform reports for a token.
type BotIdentity struct {
	ID        int64
	Username  string
	FirstName string
}

// CloneStats counts registrations per status.
type CloneStats struct {
	Pending int64
	Active  int64
	Revoked int64
	Running int
}
