package protocol

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrInvalidMessage is returned by Decode and Validate for malformed messages.
var ErrInvalidMessage = errors.New("invalid signaling message")

// Encode serializes a Message for transmission.
func Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode deserializes and validates a Message.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := Validate(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate checks that the fields required by msg.Type are present.
func Validate(msg *Message) error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s without %s", ErrInvalidMessage, msg.Type, field)
	}

	switch msg.Type {
	case TypeJoin, TypeLeave:
		if msg.Room == "" {
			return missing("room")
		}
		return nil
	case TypeInvite, TypeAccept, TypeDecline, TypeOffer, TypeAnswer,
		TypeCandidate, TypeEnd, TypeConsent:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}

	if msg.CallID == "" {
		return missing("callId")
	}

	switch msg.Type {
	case TypeInvite:
		if msg.CallerID == "" {
			return missing("callerId")
		}
	case TypeAccept:
		if msg.AccepterID == "" {
			return missing("accepterId")
		}
	case TypeDecline:
		if msg.DeclinerID == "" {
			return missing("declinerId")
		}
	case TypeOffer, TypeAnswer:
		if msg.SDP == "" {
			return missing("sdp")
		}
	case TypeCandidate:
		if msg.Candidate == nil || msg.Candidate.Candidate == "" {
			return missing("candidate")
		}
	}
	return nil
}
