package types

// FrameKind tags relay frames. The relay only routes frames; Payload is an
// encoded protocol message (data) or signaling blob (signal) it never reads.
type FrameKind string

const (
	FrameOpen   FrameKind = "open"
	FrameAccept FrameKind = "accept"
	FrameData   FrameKind = "data"
	FrameClose  FrameKind = "close"
	FrameError  FrameKind = "error"
	FrameSignal FrameKind = "signal"
)

type Frame struct {
	Kind    FrameKind `json:"kind"`
	From    string    `json:"from,omitempty"` // set by the relay, never trusted from clients
	To      string    `json:"to,omitempty"`
	Payload []byte    `json:"payload,omitempty"`
	Error   string    `json:"error,omitempty"`
}

const ErrUnavailable = "peer unavailable"
