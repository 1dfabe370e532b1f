// Package media models the local and remote tracks of a call. Every track
// fans its RTP packets out to subscribers so that the recorder can tap media
// without owning the underlying WebRTC objects.
package media

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// ErrCaptureUnavailable is returned by a Source when no capture device can be
// opened (missing hardware, denied permission, unsupported platform).
var ErrCaptureUnavailable = errors.New("media capture unavailable")

// subscriberBuffer is the per-subscriber packet backlog. Slow subscribers drop.
const subscriberBuffer = 256

// Track is a single audio or video track.
type Track interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecCapability
	Enabled() bool

	// Subscribe returns a channel of packets and a cancel func that closes it.
	// The channel is also closed when the track ends.
	Subscribe() (<-chan *rtp.Packet, func())
}

// ---------------------------------------------------------------------------
// fanout
// ---------------------------------------------------------------------------

type fanout struct {
	mu     sync.Mutex
	subs   map[int]chan *rtp.Packet
	next   int
	closed bool
}

func (f *fanout) subscribe() (<-chan *rtp.Packet, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan *rtp.Packet, subscriberBuffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	if f.subs == nil {
		f.subs = make(map[int]chan *rtp.Packet)
	}
	id := f.next
	f.next++
	f.subs[id] = ch

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
}

func (f *fanout) publish(pkt *rtp.Packet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- pkt.Clone():
		default:
		}
	}
}

func (f *fanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

// ---------------------------------------------------------------------------
// LocalTrack
// ---------------------------------------------------------------------------

// LocalTrack is a locally produced track. Producers call WriteRTP; packets
// reach the peer connection through the wrapped TrackLocalStaticRTP and any
// subscribers through the fanout. A disabled track drops packets (mute).
type LocalTrack struct {
	id    string
	codec webrtc.RTPCodecCapability
	kind  webrtc.RTPCodecType
	local *webrtc.TrackLocalStaticRTP

	out     fanout
	enabled atomic.Bool
	stopped atomic.Bool

	mu     sync.Mutex
	onStop []func()
}

// NewLocalTrack creates an enabled track for the given codec.
func NewLocalTrack(codec webrtc.RTPCodecCapability, id, streamID string) (*LocalTrack, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(codec, id, streamID)
	if err != nil {
		return nil, err
	}

	t := &LocalTrack{
		id:    id,
		codec: codec,
		kind:  kindOf(codec.MimeType),
		local: local,
	}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) ID() string                       { return t.id }
func (t *LocalTrack) Kind() webrtc.RTPCodecType        { return t.kind }
func (t *LocalTrack) Codec() webrtc.RTPCodecCapability { return t.codec }
func (t *LocalTrack) Enabled() bool                    { return t.enabled.Load() }

// SetEnabled flips the mute flag. The track stays attached either way.
func (t *LocalTrack) SetEnabled(on bool) { t.enabled.Store(on) }

// Local returns the pion track to attach to a peer connection.
func (t *LocalTrack) Local() webrtc.TrackLocal { return t.local }

func (t *LocalTrack) Subscribe() (<-chan *rtp.Packet, func()) { return t.out.subscribe() }

// WriteRTP forwards pkt to the peer connection and subscribers. Packets are
// silently dropped while the track is disabled or stopped.
func (t *LocalTrack) WriteRTP(pkt *rtp.Packet) error {
	if t.stopped.Load() || !t.enabled.Load() {
		return nil
	}
	t.out.publish(pkt)
	if err := t.local.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}

// OnStop registers fn to run once when the track is stopped.
func (t *LocalTrack) OnStop(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStop = append(t.onStop, fn)
}

// Stop ends the track. Safe to call multiple times.
func (t *LocalTrack) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	t.out.close()

	t.mu.Lock()
	fns := t.onStop
	t.onStop = nil
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Stopped reports whether Stop has been called.
func (t *LocalTrack) Stopped() bool { return t.stopped.Load() }

// ---------------------------------------------------------------------------
// RemoteTrack
// ---------------------------------------------------------------------------

// rtpReader is the read side of *webrtc.TrackRemote.
type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RemoteTrack is a track received from the peer. A pump goroutine reads RTP
// until the reader fails and republishes every packet to subscribers.
type RemoteTrack struct {
	id    string
	kind  webrtc.RTPCodecType
	codec webrtc.RTPCodecCapability

	out  fanout
	done chan struct{}
}

// NewRemoteTrack starts pumping packets from r.
func NewRemoteTrack(id string, codec webrtc.RTPCodecCapability, r rtpReader) *RemoteTrack {
	t := &RemoteTrack{
		id:    id,
		kind:  kindOf(codec.MimeType),
		codec: codec,
		done:  make(chan struct{}),
	}
	go t.pump(r)
	return t
}

// RemoteFromPion wraps a pion remote track.
func RemoteFromPion(tr *webrtc.TrackRemote) *RemoteTrack {
	return NewRemoteTrack(tr.ID(), tr.Codec().RTPCodecCapability, tr)
}

func (t *RemoteTrack) pump(r rtpReader) {
	defer close(t.done)
	defer t.out.close()
	for {
		pkt, _, err := r.ReadRTP()
		if err != nil {
			return
		}
		t.out.publish(pkt)
	}
}

func (t *RemoteTrack) ID() string                       { return t.id }
func (t *RemoteTrack) Kind() webrtc.RTPCodecType        { return t.kind }
func (t *RemoteTrack) Codec() webrtc.RTPCodecCapability { return t.codec }
func (t *RemoteTrack) Enabled() bool                    { return true }

func (t *RemoteTrack) Subscribe() (<-chan *rtp.Packet, func()) { return t.out.subscribe() }

// Done is closed once the remote side stops sending.
func (t *RemoteTrack) Done() <-chan struct{} { return t.done }
