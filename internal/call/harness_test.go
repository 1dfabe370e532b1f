package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/media"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/peer"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/peer/peertest"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/protocol"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/recording"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// bus is an in-memory room relay. Messages round-trip through the wire codec
// and are never echoed to the sender.
type bus struct {
	mu    sync.Mutex
	rooms map[string]map[*endpoint]struct{}
}

func newBus() *bus {
	return &bus{rooms: make(map[string]map[*endpoint]struct{})}
}

type endpoint struct {
	bus     *bus
	id      string
	deliver func(*protocol.Message)

	mu   sync.Mutex
	sent []*protocol.Message

	// While holding, inbound messages queue up until release.
	holding bool
	held    []*protocol.Message
}

func (b *bus) endpoint(id string) *endpoint {
	return &endpoint{bus: b, id: id}
}

func (e *endpoint) Join(room string) error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	if e.bus.rooms[room] == nil {
		e.bus.rooms[room] = make(map[*endpoint]struct{})
	}
	e.bus.rooms[room][e] = struct{}{}
	return nil
}

func (e *endpoint) Leave(room string) error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	delete(e.bus.rooms[room], e)
	return nil
}

func (e *endpoint) Send(room string, msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.sent = append(e.sent, msg)
	e.mu.Unlock()

	e.bus.mu.Lock()
	var targets []*endpoint
	for m := range e.bus.rooms[room] {
		if m != e {
			targets = append(targets, m)
		}
	}
	e.bus.mu.Unlock()

	for _, m := range targets {
		out, err := protocol.Decode(data)
		if err != nil {
			return err
		}
		out.From = e.id
		m.receive(out)
	}
	return nil
}

func (e *endpoint) receive(msg *protocol.Message) {
	e.mu.Lock()
	if e.holding {
		e.held = append(e.held, msg)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	if e.deliver != nil {
		e.deliver(msg)
	}
}

// hold queues inbound messages, as a slow link would.
func (e *endpoint) hold() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.holding = true
}

// release delivers everything held, in arrival order.
func (e *endpoint) release() {
	e.mu.Lock()
	held := e.held
	e.held = nil
	e.holding = false
	e.mu.Unlock()
	for _, msg := range held {
		if e.deliver != nil {
			e.deliver(msg)
		}
	}
}

// sentOf returns the messages of type typ this endpoint sent.
func (e *endpoint) sentOf(typ protocol.Type) []*protocol.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*protocol.Message
	for _, m := range e.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// stubSource hands out one audio and one video track per Acquire.
type stubSource struct {
	mu       sync.Mutex
	err      error
	acquired []*media.Stream
}

func (s *stubSource) Acquire(ctx context.Context) (*media.Stream, error) {
	return s.make(ctx, "cam", media.CodecOpus, media.CodecVP8)
}

func (s *stubSource) AcquireScreen(ctx context.Context) (*media.Stream, error) {
	return s.make(ctx, "screen", media.CodecVP8)
}

func (s *stubSource) make(ctx context.Context, prefix string, codecs ...webrtc.RTPCodecCapability) (*media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	n := len(s.acquired)
	stream := media.NewStream(prefix)
	for i, c := range codecs {
		t, err := media.NewLocalTrack(c, fmt.Sprintf("%s-%d-%d", prefix, n, i), prefix)
		if err != nil {
			return nil, err
		}
		stream.Add(t)
	}
	s.acquired = append(s.acquired, stream)
	return stream, nil
}

func (s *stubSource) last() *media.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.acquired) == 0 {
		return nil
	}
	return s.acquired[len(s.acquired)-1]
}

// user is one orchestrator wired to the shared bus and clock.
type user struct {
	*Orchestrator
	ep     *endpoint
	conns  *peertest.Factory
	source *stubSource
	saved  chan *recording.Artifact

	mu       sync.Mutex
	incoming []Incoming
}

func newUser(t *testing.T, b *bus, clk *clock.Mock, id string) *user {
	t.Helper()

	u := &user{
		ep:     b.endpoint(id),
		conns:  &peertest.Factory{},
		source: &stubSource{},
		saved:  make(chan *recording.Artifact, 4),
	}
	gate := recording.NewGate(recording.StoreFunc(func(_ context.Context, art *recording.Artifact) error {
		u.saved <- art
		return nil
	}), clk)

	o, err := New(Options{
		Self:     Participant{ID: id, Name: id},
		Signaler: u.ep,
		Source:   u.source,
		Peers:    peer.NewFactory(u.conns.New, nil),
		Gate:     gate,
		Clock:    clk,
	})
	require.NoError(t, err)
	u.Orchestrator = o
	u.ep.deliver = o.Deliver
	o.OnIncoming(func(in Incoming) {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.incoming = append(u.incoming, in)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = o.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-o.Done()
		gate.Wait()
	})
	<-o.Ready()
	return u
}

func (u *user) incomingCalls() []Incoming {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Incoming(nil), u.incoming...)
}

func (u *user) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return u.State() == want }, waitFor, tick,
		"%s never reached %s (at %s)", u.self.ID, want, u.State())
	u.flush()
}

type fixture struct {
	clock *clock.Mock
	bus   *bus
	alice *user
	bob   *user
}

func newFixture(t *testing.T) *fixture {
	clk := clock.NewMock()
	b := newBus()
	return &fixture{
		clock: clk,
		bus:   b,
		alice: newUser(t, b, clk, "alice"),
		bob:   newUser(t, b, clk, "bob"),
	}
}

// advance moves the shared clock once both dispatchers are idle.
func (f *fixture) advance(d time.Duration) {
	f.alice.flush()
	f.bob.flush()
	f.clock.Add(d)
}

// ring has alice call bob and waits until both are ringing.
func (f *fixture) ring(t *testing.T) string {
	t.Helper()
	id, err := f.alice.Invite(Participant{ID: "bob", Name: "Bob"}, "conv-1")
	require.NoError(t, err)
	f.alice.waitState(t, StateRinging)
	f.bob.waitState(t, StateRinging)
	return id
}

// connect rings, accepts, completes the offer/answer exchange and reports
// ICE connected on both sides.
func (f *fixture) connect(t *testing.T) string {
	t.Helper()
	id := f.ring(t)
	f.bob.AcceptCall()
	f.establish(t)
	return id
}

// establish waits for the offer/answer exchange and reports ICE connected
// on both sides.
func (f *fixture) establish(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		a, b := f.alice.conns.Last(), f.bob.conns.Last()
		return a != nil && b != nil && len(a.RemoteDescriptions()) == 1 && len(b.RemoteDescriptions()) == 1
	}, waitFor, tick, "offer/answer exchange did not complete")
	f.alice.waitState(t, StateConnecting)
	f.bob.waitState(t, StateConnecting)

	f.alice.conns.Last().SetICEState(webrtc.ICEConnectionStateConnected)
	f.bob.conns.Last().SetICEState(webrtc.ICEConnectionStateConnected)
	f.alice.waitState(t, StateConnected)
	f.bob.waitState(t, StateConnected)
}

// record has both sides consent with a remote track in alice's view and
// waits until alice is recording.
func (f *fixture) record(t *testing.T) {
	t.Helper()
	remote, err := media.NewLocalTrack(media.CodecOpus, "bob-audio", "bob")
	require.NoError(t, err)
	f.alice.conns.Last().EmitTrack(remote)
	f.alice.SetConsent(true)
	f.bob.SetConsent(true)
	require.Eventually(t, func() bool { return f.alice.View().Recording }, waitFor, tick)
	f.alice.flush()
}

var errCamera = errors.New("camera busy")
