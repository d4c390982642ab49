package models

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// SignalType tags a WebRTC signaling payload.
type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice_candidate"
)

// SignalPayload is a closed tagged variant: offer and answer carry SDP,
// ice_candidate carries a candidate blob. The SDP and candidate contents
// are passed through to the browser's WebRTC stack unexamined.
type SignalPayload struct {
	Type      SignalType      `json:"type"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Validate checks the variant is well formed at the gateway boundary.
func (p *SignalPayload) Validate() error {
	switch p.Type {
	case SignalOffer, SignalAnswer:
		if p.SDP == "" {
			return errors.New("signal: " + string(p.Type) + " requires sdp")
		}
	case SignalICECandidate:
		if len(p.Candidate) == 0 {
			return errors.New("signal: ice_candidate requires candidate")
		}
	default:
		return errors.New("signal: unknown type " + string(p.Type))
	}
	return nil
}

// SignalMessage is one queued signaling payload. Owned exclusively by the
// mailbox; consumed (removed) atomically on delivery to the opposite role.
type SignalMessage struct {
	ID        string        `json:"id"` // ULID
	SessionID uuid.UUID     `json:"session_id"`
	From      Role          `json:"from"`
	Payload   SignalPayload `json:"signal"`
	Timestamp int64         `json:"ts"` // Unix ms
}
