// Package access decides what a user may do on a bot instance.
package access

import (
	"context"
	"log/slog"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
)

// Role orders privileges: user < admin < owner.
type Role int

const (
	RoleUser Role = iota
	RoleAdmin
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleAdmin:
		return "admin"
	default:
		return "user"
	}
}

// AtLeast reports whether r grants min.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

// Instance identifies the bot an update arrived on. Clone is nil for the primary bot.
type Instance struct {
	BotID int64
	Clone *domain.CloneRegistration
}

// IsPrimary reports whether the instance is the primary bot.
func (i Instance) IsPrimary() bool {
	return i.Clone == nil
}

// AdminLookup reports the stored admin flag of a user on the primary bot.
type AdminLookup interface {
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}

// Policy resolves roles. The deployment owner is owner everywhere, including
// clones that carry no configuration of their own.
type Policy struct {
	ownerID int64
	admins  AdminLookup
	log     *slog.Logger
}

// NewPolicy creates a Policy for the deployment owner. admins may be nil.
func NewPolicy(ownerID int64, admins AdminLookup, log *slog.Logger) *Policy {
	if log == nil {
		log = slog.Default()
	}
	return &Policy{
		ownerID: ownerID,
		admins:  admins,
		log:     log.With(slog.String("component", "access_policy")),
	}
}

// OwnerID returns the deployment owner.
func (p *Policy) OwnerID() int64 {
	return p.ownerID
}

// Role resolves userID's role on inst. Lookup failures fall back to RoleUser.
func (p *Policy) Role(ctx context.Context, inst Instance, userID int64) Role {
	if userID == 0 {
		return RoleUser
	}
	if userID == p.ownerID {
		return RoleOwner
	}

	if inst.Clone != nil {
		if userID == inst.Clone.AdminID || userID == inst.Clone.OwnerID {
			return RoleAdmin
		}
		return RoleUser
	}

	if p.admins == nil {
		return RoleUser
	}

	admin, err := p.admins.IsAdmin(ctx, userID)
	if err != nil {
		p.log.Warn("admin lookup failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return RoleUser
	}
	if admin {
		return RoleAdmin
	}
	return RoleUser
}

// Allowed reports whether userID holds at least min on inst.
func (p *Policy) Allowed(ctx context.Context, inst Instance, userID int64, min Role) bool {
	return p.Role(ctx, inst, userID).AtLeast(min)
}
