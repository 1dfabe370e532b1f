package call

import (
	"github.com/pion/webrtc/v4"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/media"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/protocol"
)

// event is anything the dispatcher reacts to.
type event interface{}

// User actions.
type (
	inviteEvent struct {
		callID         string
		callee         Participant
		conversationID string
	}
	acceptEvent  struct{}
	declineEvent struct{}
	endEvent     struct{}
	consentEvent struct{ granted bool }
	screenEvent  struct{ start bool }
	trackEvent   struct {
		kind   webrtc.RTPCodecType
		toggle bool
		off    bool
	}
)

// Transport input.
type messageEvent struct{ msg *protocol.Message }

type mediaPurpose int

const (
	purposeCall mediaPurpose = iota
	purposeScreen
)

// Async completions and callbacks. Every one carries the call it belongs to.
type (
	mediaReadyEvent struct {
		callID  string
		purpose mediaPurpose
		stream  *media.Stream
		err     error
	}
	descriptionEvent struct {
		callID      string
		desc        webrtc.SessionDescription
		renegotiate bool
		err         error
	}
	localCandidateEvent struct {
		callID string
		cand   webrtc.ICECandidateInit
	}
	remoteTrackEvent struct {
		callID string
		track  media.Track
	}
	remoteTrackEndedEvent struct {
		callID string
		id     string
	}
	connectivityEvent struct {
		callID string
		state  webrtc.ICEConnectionState
	}
	timerEvent struct {
		kind   timerKind
		gen    uint64
		callID string
	}
	syncEvent struct{ done chan struct{} }
)
