// Package directory maps short human-readable party codes to the peer id of
// the hosting player.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound    = errors.New("party code not found")
	ErrUnavailable = errors.New("directory unavailable")
	ErrMissingPeer = errors.New("peer_id is required")
	ErrCodeTaken   = errors.New("party code already registered")
)

// Error is returned by every directory operation. Err wraps one of the
// sentinels above.
type Error struct {
	Op   string
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("directory %s %q: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("directory %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Registration struct {
	Code      string    `json:"code"`
	PeerID    string    `json:"peer_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r Registration) Expired(now time.Time) bool { return !now.Before(r.ExpiresAt) }

// Directory is what a peer needs: publish its own id under a fresh code, or
// resolve somebody else's code.
type Directory interface {
	Create(ctx context.Context, peerID string) (Registration, error)
	Lookup(ctx context.Context, code string) (string, error)
}
