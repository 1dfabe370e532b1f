// Package peertest provides an in-memory peer.Conn for tests.
package peertest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/media"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/peer"
)

// ErrNoRemoteDescription mirrors pion's refusal to add candidates early.
var ErrNoRemoteDescription = errors.New("remote description not set")

// Conn is a scripted peer.Conn. It tracks signaling state like a real
// PeerConnection and records every call.
type Conn struct {
	Config webrtc.Configuration

	mu          sync.Mutex
	state       webrtc.SignalingState
	remoteSet   bool
	offers      int
	answers     int
	tracks      []webrtc.TrackLocal
	removed     int
	candidates  []webrtc.ICECandidateInit
	remoteDescs []webrtc.SessionDescription
	closes      int

	// FailCandidate makes AddICECandidate fail for matching candidate lines.
	FailCandidate func(webrtc.ICECandidateInit) bool
	// RemoteErr is returned by SetRemoteDescription when non-nil.
	RemoteErr error

	onCandidate func(*webrtc.ICECandidate)
	onTrack     func(media.Track)
	onICE       func(webrtc.ICEConnectionState)
}

var _ peer.Conn = (*Conn)(nil)

func (c *Conn) AddTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, t)
	return nil, nil
}

func (c *Conn) RemoveTrack(*webrtc.RTPSender) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed++
	return nil
}

func (c *Conn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", c.offers)}, nil
}

func (c *Conn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	c.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", c.answers)}, nil
}

func (c *Conn) SetLocalDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch d.Type {
	case webrtc.SDPTypeOffer:
		c.state = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeAnswer, webrtc.SDPTypeRollback:
		c.state = webrtc.SignalingStateStable
	}
	return nil
}

func (c *Conn) SetRemoteDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RemoteErr != nil {
		return c.RemoteErr
	}
	switch d.Type {
	case webrtc.SDPTypeOffer:
		if c.state == webrtc.SignalingStateHaveLocalOffer {
			return errors.New("offer glare")
		}
		c.state = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		if c.state != webrtc.SignalingStateHaveLocalOffer {
			return errors.New("answer without local offer")
		}
		c.state = webrtc.SignalingStateStable
	}
	c.remoteSet = true
	c.remoteDescs = append(c.remoteDescs, d)
	return nil
}

func (c *Conn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.remoteSet {
		return ErrNoRemoteDescription
	}
	if c.FailCandidate != nil && c.FailCandidate(cand) {
		return errors.New("bad candidate")
	}
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *Conn) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = fn
}

func (c *Conn) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *Conn) OnTrack(fn func(media.Track)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *Conn) SignalingState() webrtc.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.state = webrtc.SignalingStateClosed
	return nil
}

// ---------------------------------------------------------------------------
// Test hooks
// ---------------------------------------------------------------------------

// EmitCandidate fires the local-candidate callback.
func (c *Conn) EmitCandidate(line string) {
	c.mu.Lock()
	fn := c.onCandidate
	c.mu.Unlock()
	if fn != nil {
		fn(&webrtc.ICECandidate{Foundation: line, Component: 1, Protocol: webrtc.ICEProtocolUDP, Address: "10.0.0.1", Port: 5000, Typ: webrtc.ICECandidateTypeHost})
	}
}

// EmitTrack fires the remote-track callback.
func (c *Conn) EmitTrack(t media.Track) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

// SetICEState fires the connectivity callback.
func (c *Conn) SetICEState(s webrtc.ICEConnectionState) {
	c.mu.Lock()
	fn := c.onICE
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Candidates returns the applied remote candidates in order.
func (c *Conn) Candidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.candidates))
	for i, cand := range c.candidates {
		out[i] = cand.Candidate
	}
	return out
}

// RemoteDescriptions returns every remote description applied.
func (c *Conn) RemoteDescriptions() []webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), c.remoteDescs...)
}

// Tracks returns the number of AddTrack calls.
func (c *Conn) Tracks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracks)
}

// Removed returns the number of RemoveTrack calls.
func (c *Conn) Removed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed
}

// Offers returns the number of offers created.
func (c *Conn) Offers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers
}

// Closes returns the number of Close calls.
func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Factory records every Conn it opens.
type Factory struct {
	mu    sync.Mutex
	conns []*Conn
	// Err fails the next open when non-nil.
	Err error
}

// New satisfies peer.NewConnFunc.
func (f *Factory) New(config webrtc.Configuration) (peer.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	c := &Conn{Config: config}
	f.conns = append(f.conns, c)
	return c, nil
}

// Conns returns every Conn opened so far.
func (f *Factory) Conns() []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Conn(nil), f.conns...)
}

// Last returns the most recently opened Conn, or nil.
func (f *Factory) Last() *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}
