package call

import (
	"context"
	"time"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/media"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/peer"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/recording"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/util"
)

// Session holds everything scoped to one call. It is only touched by the
// dispatcher goroutine and is dropped by teardown.
type Session struct {
	ID             string
	Role           Role
	Remote         Participant
	ConversationID string
	CalleeRole     string
	Consent        recording.Consent

	queue  *peer.CandidateQueue
	conn   *peer.Connection
	local  *media.Stream
	remote *media.Stream
	screen *media.Stream

	// ctx is cancelled on teardown and aborts pending async work.
	ctx    context.Context
	cancel context.CancelFunc

	accepting      bool // local accept issued, waiting for media
	mediaPending   bool
	screenPending  bool
	offerSent      bool
	reoffer        bool // own renegotiation rolled back on glare, offer again after answering
	remoteSet      bool
	connectedOnce  bool
	callStart      time.Time
	protocolErrors int

	log util.CallLog
}

func newSession(parent context.Context, id string, role Role, remote Participant) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ID:     id,
		Role:   role,
		Remote: remote,
		queue:  peer.NewCandidateQueue(),
		remote: media.NewStream("remote-" + id),
		ctx:    ctx,
		cancel: cancel,
		log:    util.NewCallLog(id),
	}
}

// polite reports whether this side yields on offer glare.
func (s *Session) polite() bool { return s.Role == RoleResponder }
