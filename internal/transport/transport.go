// Package transport is the reliable point-to-point message channel the party
// protocol runs over. Messages on one channel arrive in the order they were
// sent; nothing is promised across channels.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/kart-party/internal/protocol"
)

var ErrPeerUnavailable = errors.New("peer unavailable")
var ErrClosed = errors.New("channel closed")
var ErrEndpointClosed = errors.New("endpoint closed")
var ErrDuplicateID = errors.New("peer id already registered")
var ErrBacklogFull = errors.New("send backlog full")

// ConnectError is returned when a channel could not be opened.
type ConnectError struct {
	Peer string
	Err  error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("connect to %s: %v", e.Peer, e.Err) }

func (e *ConnectError) Unwrap() error { return e.Err }

type EventKind int

const (
	EventMessage EventKind = iota
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind    EventKind
	Message protocol.Message
	Err     error
}

// Channel is one open link to a remote peer. Events yields every inbound
// message and error, ends with a single EventClosed and is then closed.
type Channel interface {
	PeerID() string
	Send(m protocol.Message) error
	Events() <-chan Event
	Close() error
}

// Endpoint is the local peer's address on the network.
type Endpoint interface {
	ID() string
	Dial(ctx context.Context, peerID string) (Channel, error)
	Incoming() <-chan Channel
	Close() error
}
