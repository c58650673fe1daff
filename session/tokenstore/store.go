// Package tokenstore persists the backend access token of each browser
// session so it survives holder eviction and portal restarts.
package tokenstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no token is stored for the session.
var ErrNotFound = errors.New("token not found")

// Store is implemented by every token backend.
type Store interface {
	Get(ctx context.Context, sessionID string) (string, error)
	Set(ctx context.Context, sessionID, token string) error
	Delete(ctx context.Context, sessionID string) error
}
