package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/media"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/peer"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/protocol"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/recording"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/util"
)

const eventBuffer = 256

// Signaler is the room-addressed transport. Only the orchestrator calls it.
type Signaler interface {
	Join(room string) error
	Leave(room string) error
	Send(room string, msg *protocol.Message) error
}

// Options configure an Orchestrator.
type Options struct {
	Self     Participant
	Signaler Signaler
	Source   media.Source
	Peers    *peer.Factory
	// Gate receives every call snapshot. Defaults to a gate that discards
	// artifacts.
	Gate  *recording.Gate
	Clock clock.Clock
}

// View is a snapshot of the orchestrator for rendering.
type View struct {
	State          State
	CallID         string
	Role           Role
	Remote         Participant
	ConversationID string
	LastError      string

	Consent          recording.Consent
	Recording        bool
	RecordingElapsed time.Duration

	Muted         bool
	CameraOff     bool
	ScreenSharing bool
	LocalTracks   []media.Track
	RemoteTracks  []media.Track
	Duration      time.Duration
}

// Orchestrator owns at most one call session per user.
type Orchestrator struct {
	self   Participant
	sig    Signaler
	source media.Source
	peers  *peer.Factory
	gate   *recording.Gate
	clock  clock.Clock

	events  chan event
	done    chan struct{}
	running chan struct{}
	ctx     context.Context

	// Dispatcher-owned.
	session   *Session
	state     State
	lastError string
	timers    timers

	mu         sync.RWMutex
	view       View
	callStart  time.Time
	onIncoming func(Incoming)
	onState    func(State)
}

// New creates an Orchestrator. Run must be called to start it.
func New(opts Options) (*Orchestrator, error) {
	if opts.Self.ID == "" {
		return nil, errors.New("call: self id is required")
	}
	if opts.Signaler == nil || opts.Source == nil || opts.Peers == nil {
		return nil, errors.New("call: signaler, source and peers are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Gate == nil {
		opts.Gate = recording.NewGate(recording.Discard, opts.Clock)
	}

	o := &Orchestrator{
		self:    opts.Self,
		sig:     opts.Signaler,
		source:  opts.Source,
		peers:   opts.Peers,
		gate:    opts.Gate,
		clock:   opts.Clock,
		events:  make(chan event, eventBuffer),
		done:    make(chan struct{}),
		running: make(chan struct{}),
		ctx:     context.Background(),
		state:   StateIdle,
		view:    View{State: StateIdle},
	}
	o.timers = timers{clock: o.clock, post: o.post}
	return o, nil
}

// OnIncoming registers the incoming-call callback. It runs on the dispatcher
// goroutine and must not block.
func (o *Orchestrator) OnIncoming(fn func(Incoming)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onIncoming = fn
}

// OnStateChange registers the state callback. It runs on the dispatcher
// goroutine and must not block.
func (o *Orchestrator) OnStateChange(fn func(State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onState = fn
}

// Run joins the user's inbox room and dispatches events until ctx is done.
// An active call is ended on shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	if err := o.sig.Join(protocol.UserRoom(o.self.ID)); err != nil {
		return err
	}
	close(o.running)
	defer close(o.done)

	for {
		select {
		case ev := <-o.events:
			o.dispatch(ev)
			o.publish()
		case <-ctx.Done():
			if o.session != nil {
				o.hangUp()
				o.publish()
			}
			for k := timerKind(0); k < numTimers; k++ {
				o.timers.cancel(k)
			}
			_ = o.sig.Leave(protocol.UserRoom(o.self.ID))
			return nil
		}
	}
}

// Ready is closed once Run is listening on the user's inbox room.
func (o *Orchestrator) Ready() <-chan struct{} { return o.running }

// Done is closed once Run has returned.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

func (o *Orchestrator) post(ev event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

// flush waits until every event posted before it has been handled.
func (o *Orchestrator) flush() {
	done := make(chan struct{})
	o.post(syncEvent{done: done})
	select {
	case <-done:
	case <-o.done:
	}
}

// ---------------------------------------------------------------------------
// Façade
// ---------------------------------------------------------------------------

// Deliver hands an inbound transport message to the dispatcher.
func (o *Orchestrator) Deliver(msg *protocol.Message) {
	if msg == nil {
		return
	}
	o.post(messageEvent{msg: msg})
}

// Invite calls calleeID and returns the new call id. The invite is rejected
// (see View.LastError) if a call is already in progress.
func (o *Orchestrator) Invite(callee Participant, conversationID string) (string, error) {
	if callee.ID == "" {
		return "", errors.New("call: callee id is required")
	}
	if callee.ID == o.self.ID {
		return "", errors.New("call: cannot call yourself")
	}
	id := uuid.NewString()
	o.post(inviteEvent{callID: id, callee: callee, conversationID: conversationID})
	return id, nil
}

// AcceptCall answers the ringing incoming call.
func (o *Orchestrator) AcceptCall() { o.post(acceptEvent{}) }

// DeclineCall rejects the ringing incoming call.
func (o *Orchestrator) DeclineCall() { o.post(declineEvent{}) }

// EndCall hangs up. Calling it again, or with no call, does nothing.
func (o *Orchestrator) EndCall() { o.post(endEvent{}) }

// SetConsent records the local recording consent and shares it with the peer.
func (o *Orchestrator) SetConsent(granted bool) { o.post(consentEvent{granted: granted}) }

// SetMuted enables or disables the local audio track.
func (o *Orchestrator) SetMuted(muted bool) {
	o.post(trackEvent{kind: webrtc.RTPCodecTypeAudio, off: muted})
}

// SetCameraOff enables or disables the local video track.
func (o *Orchestrator) SetCameraOff(off bool) {
	o.post(trackEvent{kind: webrtc.RTPCodecTypeVideo, off: off})
}

// ToggleMute flips the local audio track.
func (o *Orchestrator) ToggleMute() {
	o.post(trackEvent{kind: webrtc.RTPCodecTypeAudio, toggle: true})
}

// ToggleCamera flips the local video track.
func (o *Orchestrator) ToggleCamera() {
	o.post(trackEvent{kind: webrtc.RTPCodecTypeVideo, toggle: true})
}

// StartScreenShare adds a display track and renegotiates.
func (o *Orchestrator) StartScreenShare() { o.post(screenEvent{start: true}) }

// StopScreenShare removes the display track and renegotiates.
func (o *Orchestrator) StopScreenShare() { o.post(screenEvent{start: false}) }

// State returns the current call state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.view.State
}

// View returns a snapshot for rendering.
func (o *Orchestrator) View() View {
	o.mu.RLock()
	v := o.view
	start := o.callStart
	o.mu.RUnlock()

	if !start.IsZero() && v.State.Active() {
		v.Duration = o.clock.Since(start)
	}
	v.Recording = o.gate.Recording()
	v.RecordingElapsed = o.gate.Elapsed()
	return v
}

// publish refreshes the view snapshot from dispatcher-owned state.
func (o *Orchestrator) publish() {
	v := View{State: o.state, LastError: o.lastError}
	var start time.Time

	if s := o.session; s != nil {
		v.CallID = s.ID
		v.Role = s.Role
		v.Remote = s.Remote
		v.ConversationID = s.ConversationID
		v.Consent = s.Consent
		v.LocalTracks = append(s.local.Tracks(), s.screen.Tracks()...)
		v.RemoteTracks = s.remote.Tracks()
		v.ScreenSharing = s.screen.Len() > 0
		if t, ok := s.local.First(webrtc.RTPCodecTypeAudio); ok {
			v.Muted = !t.Enabled()
		}
		if t, ok := s.local.First(webrtc.RTPCodecTypeVideo); ok {
			v.CameraOff = !t.Enabled()
		}
		start = s.callStart
	}

	o.mu.Lock()
	o.view = v
	o.callStart = start
	o.mu.Unlock()
}

// setState moves to next, notifies the UI and lets the recording gate react.
func (o *Orchestrator) setState(next State) {
	if o.state == next {
		return
	}
	prev := o.state
	o.state = next

	if s := o.session; s != nil {
		s.log.Info("%s → %s", prev, next)
	} else {
		util.LogInfo("call %s → %s", prev, next)
	}

	o.observe()
	o.publish()

	o.mu.RLock()
	fn := o.onState
	o.mu.RUnlock()
	if fn != nil {
		fn(next)
	}
}

// observe feeds the current snapshot to the recording gate.
func (o *Orchestrator) observe() {
	s := o.session
	if s == nil {
		o.gate.Observe(recording.Observation{})
		return
	}
	o.gate.Observe(recording.Observation{
		CallID:    s.ID,
		Consent:   s.Consent,
		Connected: o.state == StateConnected,
		Live:      o.state.Active(),
		Local:     s.local,
		Remote:    s.remote,
	})
}

func (o *Orchestrator) send(s *Session, room string, msg *protocol.Message) {
	msg.CallID = s.ID
	if err := o.sig.Send(room, msg); err != nil {
		s.log.Warn("send %s failed: %v", msg.Type, err)
	}
}
