// Package call implements the call signaling state machine and the
// orchestrator façade consumed by UIs. All call state is owned by a single
// dispatcher goroutine; user actions, transport messages, WebRTC callbacks,
// timers and async completions all reach it as events.
package call

import "time"

// State is the coarse call state exposed to the UI.
type State string

const (
	StateIdle         State = "idle"
	StateRinging      State = "ringing"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateEnded        State = "ended"
)

// Active reports whether a session exists in this state.
func (s State) Active() bool {
	switch s {
	case StateRinging, StateConnecting, StateConnected, StateReconnecting:
		return true
	}
	return false
}

// Terminal reports whether s is ended or failed.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// Role is fixed for the lifetime of a call. Only the initiator sends the
// initial offer.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// Fixed call timings.
const (
	// AcceptTimeout bounds how long an invite rings.
	AcceptTimeout = 30 * time.Second
	// ReconnectGrace is how long a dropped connection may take to recover.
	ReconnectGrace = 15 * time.Second
	// ResetDelay keeps ended/failed visible before returning to idle.
	ResetDelay = 3 * time.Second
)

// maxProtocolErrors fails the call on the second protocol error.
const maxProtocolErrors = 2

// Participant identifies one party of a call.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"` // application role, e.g. client or practitioner
}

// Incoming is surfaced to the UI when an invite arrives while idle.
type Incoming struct {
	CallID         string
	Caller         Participant
	CalleeRole     string
	ConversationID string
}
