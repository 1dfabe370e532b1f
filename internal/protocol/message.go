// Package protocol defines the signaling messages exchanged between call peers
// over the room-addressed transport.
package protocol

import (
	"github.com/pion/webrtc/v4"
)

// Type identifies the kind of signaling message.
type Type string

// Call-level messages.
const (
	TypeInvite    Type = "invite"
	TypeAccept    Type = "accept"
	TypeDecline   Type = "decline"
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "ice-candidate"
	TypeEnd       Type = "end"
	TypeConsent   Type = "consent"
)

// Transport control messages, consumed by the signaling hub.
const (
	TypeJoin  Type = "join"
	TypeLeave Type = "leave"
)

// DeclinedByTimeout is the synthetic declinerId sent when an invite rings out.
const DeclinedByTimeout = "timeout"

// UserRoom returns the inbox room a user listens on for invites.
func UserRoom(userID string) string {
	return "user:" + userID
}

// Message is the JSON structure carried by the transport. Only the fields
// relevant to Type are populated.
type Message struct {
	Type Type   `json:"type"`
	Room string `json:"room,omitempty"`
	From string `json:"from,omitempty"` // stamped by the hub

	CallID string `json:"callId,omitempty"`

	// invite
	CallerID       string `json:"callerId,omitempty"`
	CallerName     string `json:"callerName,omitempty"`
	CalleeID       string `json:"calleeId,omitempty"`
	CalleeRole     string `json:"calleeRole,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`

	// accept
	AccepterID   string `json:"accepterId,omitempty"`
	AccepterName string `json:"accepterName,omitempty"`

	// decline
	DeclinerID string `json:"declinerId,omitempty"`

	// offer / answer
	SDP         string `json:"sdp,omitempty"`
	Renegotiate bool   `json:"renegotiate,omitempty"`

	// ice-candidate
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`

	// end
	EndedBy string `json:"endedBy,omitempty"`

	// consent
	Granted bool `json:"granted,omitempty"`
}

// Description converts an offer/answer message into a pion session description.
func (m *Message) Description() webrtc.SessionDescription {
	typ := webrtc.SDPTypeOffer
	if m.Type == TypeAnswer {
		typ = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: typ, SDP: m.SDP}
}
