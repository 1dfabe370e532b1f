package peer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/media"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/util"
)

var (
	// ErrAlreadyOpen is returned by Factory.Create when the call already owns
	// an open connection.
	ErrAlreadyOpen = errors.New("peer connection already open for call")
	// ErrClosed is returned by operations on a closed Connection.
	ErrClosed = errors.New("peer connection closed")
)

// Handlers receive the translated PeerConnection events. They are invoked on
// pion's goroutines and must not block.
type Handlers struct {
	OnLocalCandidate func(webrtc.ICECandidateInit)
	OnRemoteTrack    func(media.Track)
	OnConnectivity   func(webrtc.ICEConnectionState)
}

// Connection wraps exactly one PeerConnection for one call.
type Connection struct {
	callID string
	pc     Conn
	queue  *CandidateQueue
	log    util.CallLog

	mu      sync.Mutex
	senders map[string]*webrtc.RTPSender // by local track ID
	tracks  map[string]media.Track
	closed  bool

	onClose func()
}

// New opens a Connection with newConn and registers the event translators.
func New(callID string, newConn NewConnFunc, config webrtc.Configuration, queue *CandidateQueue, h Handlers) (*Connection, error) {
	pc, err := newConn(config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	c := &Connection{
		callID:  callID,
		pc:      pc,
		queue:   queue,
		log:     util.NewCallLog(callID),
		senders: make(map[string]*webrtc.RTPSender),
		tracks:  make(map[string]media.Track),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		// nil marks end of gathering.
		if cand == nil || h.OnLocalCandidate == nil {
			return
		}
		h.OnLocalCandidate(cand.ToJSON())
	})

	pc.OnTrack(func(t media.Track) {
		c.log.Debug("remote %s track %s", t.Kind(), t.ID())
		if h.OnRemoteTrack != nil {
			h.OnRemoteTrack(t)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		c.log.Debug("ICE connection state: %s", state)
		if h.OnConnectivity != nil {
			h.OnConnectivity(state)
		}
	})

	return c, nil
}

// CallID returns the call this connection belongs to.
func (c *Connection) CallID() string { return c.callID }

// ---------------------------------------------------------------------------
// Tracks
// ---------------------------------------------------------------------------

// localTrack is implemented by media.LocalTrack.
type localTrack interface {
	media.Track
	Local() webrtc.TrackLocal
	Stop()
}

// AddLocalTracks attaches every local track of stream. Tracks already
// attached are skipped. It returns how many tracks were newly attached.
func (c *Connection) AddLocalTracks(stream *media.Stream) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}

	added := 0
	for _, t := range stream.Tracks() {
		lt, ok := t.(localTrack)
		if !ok {
			continue
		}
		if _, attached := c.senders[lt.ID()]; attached {
			continue
		}

		sender, err := c.pc.AddTrack(lt.Local())
		if err != nil {
			return added, fmt.Errorf("add track %s: %w", lt.ID(), err)
		}
		c.senders[lt.ID()] = sender
		c.tracks[lt.ID()] = lt
		added++

		if sender != nil {
			go drainRTCP(sender)
		}
	}
	return added, nil
}

// drainRTCP reads RTCP so that interceptors (NACK, reports) keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// removeLocalTrack detaches a track previously attached. Unknown IDs are
// ignored.
func (c *Connection) removeLocalTrack(id string) error {
	sender, ok := c.senders[id]
	if !ok {
		return nil
	}
	delete(c.senders, id)
	delete(c.tracks, id)
	return c.pc.RemoveTrack(sender)
}

// Attached reports whether a local track with the given ID is attached.
func (c *Connection) Attached(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.senders[id]
	return ok
}

// ---------------------------------------------------------------------------
// Descriptions
// ---------------------------------------------------------------------------

// CreateOffer creates an offer and sets it as local description.
func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	if c.isClosed() {
		return webrtc.SessionDescription{}, ErrClosed
	}

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("CreateOffer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("SetLocalDescription: %w", err)
	}
	return offer, nil
}

// CreateAnswer creates an answer and sets it as local description.
func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	if c.isClosed() {
		return webrtc.SessionDescription{}, ErrClosed
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("SetLocalDescription: %w", err)
	}
	return answer, nil
}

// ApplyRemoteDescription sets desc and drains the candidate queue in arrival
// order as one atomic step. Candidates that fail are logged and skipped.
func (c *Connection) ApplyRemoteDescription(desc webrtc.SessionDescription) error {
	if c.isClosed() {
		return ErrClosed
	}

	n, err := c.queue.open(
		func() error { return c.pc.SetRemoteDescription(desc) },
		c.pc.AddICECandidate,
		func(cand webrtc.ICECandidateInit, err error) {
			c.log.Warn("skipping queued candidate: %v", err)
		},
	)
	if err != nil {
		return fmt.Errorf("SetRemoteDescription(%s): %w", desc.Type, err)
	}
	if n > 0 {
		c.log.Debug("applied %d queued candidates", n)
	}
	return nil
}

// EnqueueOrApplyCandidate applies cand if the remote description is set,
// otherwise buffers it. A failing candidate is logged and not returned as an
// error; only a closed connection is.
func (c *Connection) EnqueueOrApplyCandidate(cand webrtc.ICECandidateInit) error {
	if c.isClosed() {
		return ErrClosed
	}

	queued, err := c.queue.enqueueOrApply(cand, c.pc.AddICECandidate)
	if err != nil {
		c.log.Warn("AddICECandidate failed: %v", err)
		return nil
	}
	if queued {
		c.log.Debug("candidate queued until remote description")
	}
	return nil
}

// Renegotiate attaches add, detaches the tracks named in remove and returns
// a fresh local offer. Connectivity is not reset.
func (c *Connection) Renegotiate(add *media.Stream, remove []string) (webrtc.SessionDescription, error) {
	if add != nil {
		if _, err := c.AddLocalTracks(add); err != nil {
			return webrtc.SessionDescription{}, err
		}
	}

	c.mu.Lock()
	var errs []error
	for _, id := range remove {
		if err := c.removeLocalTrack(id); err != nil {
			errs = append(errs, err)
		}
	}
	c.mu.Unlock()
	if err := errors.Join(errs...); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("remove tracks: %w", err)
	}

	return c.CreateOffer()
}

// HasLocalOffer reports whether a local offer is pending an answer.
func (c *Connection) HasLocalOffer() bool {
	return c.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer
}

// Rollback discards a pending local offer (polite side of offer glare).
func (c *Connection) Rollback() error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close stops all attached local tracks, closes the PeerConnection and
// clears the candidate queue. Safe to call multiple times.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	tracks := c.tracks
	c.tracks = make(map[string]media.Track)
	c.senders = make(map[string]*webrtc.RTPSender)
	onClose := c.onClose
	c.mu.Unlock()

	for _, t := range tracks {
		if lt, ok := t.(localTrack); ok {
			lt.Stop()
		}
	}
	err := c.pc.Close()
	c.queue.Clear()

	if onClose != nil {
		onClose()
	}
	return err
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
