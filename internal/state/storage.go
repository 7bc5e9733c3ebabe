// Package state keeps per-user dialog state for every bot instance.
package state

import "context"

// Store persists dialogs of a single bot namespace.
type Store interface {
	// Load returns ErrStateNotFound when the user has no dialog.
	Load(ctx context.Context, userID int64) (*Dialog, error)
	Save(ctx context.Context, d *Dialog) error
	// Delete succeeds when nothing is stored.
	Delete(ctx context.Context, userID int64) error
	List(ctx context.Context) ([]*Dialog, error)
}
