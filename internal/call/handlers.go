package call

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/media"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/peer"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/protocol"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/util"
)

func (o *Orchestrator) dispatch(ev event) {
	switch ev := ev.(type) {
	case inviteEvent:
		o.handleInvite(ev)
	case acceptEvent:
		o.handleAccept()
	case declineEvent:
		o.handleDecline()
	case endEvent:
		o.handleEnd()
	case consentEvent:
		o.handleConsent(ev)
	case trackEvent:
		o.handleTrack(ev)
	case screenEvent:
		o.handleScreen(ev)
	case messageEvent:
		o.handleMessage(ev.msg)
	case mediaReadyEvent:
		o.handleMediaReady(ev)
	case descriptionEvent:
		o.handleDescription(ev)
	case localCandidateEvent:
		if s := o.current(ev.callID); s != nil {
			cand := ev.cand
			o.send(s, s.ID, &protocol.Message{Type: protocol.TypeCandidate, Candidate: &cand})
		}
	case remoteTrackEvent:
		if s := o.current(ev.callID); s != nil && s.remote.Add(ev.track) {
			o.watchRemote(s, ev.track)
			o.observe()
		}
	case remoteTrackEndedEvent:
		if s := o.current(ev.callID); s != nil {
			if _, ok := s.remote.Remove(ev.id); ok {
				s.log.Debug("remote track %s ended", ev.id)
				o.observe()
			}
		}
	case connectivityEvent:
		o.handleConnectivity(ev)
	case timerEvent:
		o.handleTimer(ev)
	case syncEvent:
		close(ev.done)
	default:
		util.LogWarning("call: unknown event %T", ev)
	}
}

// current returns the session iff it belongs to callID.
func (o *Orchestrator) current(callID string) *Session {
	if o.session == nil || o.session.ID != callID {
		return nil
	}
	return o.session
}

// ---------------------------------------------------------------------------
// Invite / accept / decline / end
// ---------------------------------------------------------------------------

// begin installs a fresh session, leaving any ended/failed display early.
func (o *Orchestrator) begin(s *Session) {
	o.timers.cancel(resetTimer)
	o.session = s
	o.lastError = ""
	util.Stats.AddCall()
}

func (o *Orchestrator) handleInvite(ev inviteEvent) {
	if o.session != nil {
		o.lastError = "a call is already in progress"
		return
	}

	s := newSession(o.ctx, ev.callID, RoleInitiator, ev.callee)
	s.ConversationID = ev.conversationID
	s.CalleeRole = ev.callee.Role

	if err := o.sig.Join(s.ID); err != nil {
		o.lastError = fmt.Sprintf("join call room: %v", err)
		s.cancel()
		return
	}
	o.begin(s)

	o.send(s, protocol.UserRoom(ev.callee.ID), &protocol.Message{
		Type:           protocol.TypeInvite,
		CallerID:       o.self.ID,
		CallerName:     o.self.Name,
		CalleeID:       ev.callee.ID,
		CalleeRole:     ev.callee.Role,
		ConversationID: ev.conversationID,
	})
	o.setState(StateRinging)
	o.timers.start(acceptTimer, AcceptTimeout, s.ID)
}

func (o *Orchestrator) handleIncomingInvite(msg *protocol.Message) {
	if o.session != nil {
		if o.session.ID == msg.CallID {
			return
		}
		// Busy: reject without surfacing.
		util.LogInfo("auto-declining invite %s from %s: busy", msg.CallID, msg.CallerID)
		if err := o.sig.Send(msg.CallID, &protocol.Message{
			Type:       protocol.TypeDecline,
			CallID:     msg.CallID,
			DeclinerID: o.self.ID,
		}); err != nil {
			util.LogWarning("auto-decline failed: %v", err)
		}
		return
	}

	caller := Participant{ID: msg.CallerID, Name: msg.CallerName}
	s := newSession(o.ctx, msg.CallID, RoleResponder, caller)
	s.ConversationID = msg.ConversationID
	s.CalleeRole = msg.CalleeRole

	if err := o.sig.Join(s.ID); err != nil {
		util.LogError("join call room %s: %v", s.ID, err)
		s.cancel()
		return
	}
	o.begin(s)
	o.setState(StateRinging)
	o.timers.start(acceptTimer, AcceptTimeout, s.ID)

	o.mu.RLock()
	fn := o.onIncoming
	o.mu.RUnlock()
	if fn != nil {
		fn(Incoming{
			CallID:         s.ID,
			Caller:         caller,
			CalleeRole:     msg.CalleeRole,
			ConversationID: msg.ConversationID,
		})
	}
}

func (o *Orchestrator) handleAccept() {
	s := o.session
	if s == nil || s.Role != RoleResponder || o.state != StateRinging || s.accepting {
		return
	}
	s.accepting = true
	o.timers.cancel(acceptTimer)
	o.acquire(s, purposeCall)
}

func (o *Orchestrator) handleDecline() {
	s := o.session
	if s == nil || o.state != StateRinging {
		return
	}
	if s.Role == RoleInitiator {
		o.hangUp()
		return
	}
	o.send(s, s.ID, &protocol.Message{Type: protocol.TypeDecline, DeclinerID: o.self.ID})
	o.finish(StateEnded)
}

func (o *Orchestrator) handleEnd() {
	s := o.session
	if s == nil {
		return
	}
	if s.Role == RoleResponder && o.state == StateRinging {
		o.handleDecline()
		return
	}
	o.hangUp()
}

// hangUp sends end and finishes the call.
func (o *Orchestrator) hangUp() {
	s := o.session
	o.send(s, s.ID, &protocol.Message{Type: protocol.TypeEnd, EndedBy: o.self.ID})
	o.finish(StateEnded)
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

func (o *Orchestrator) acquire(s *Session, purpose mediaPurpose) {
	if purpose == purposeCall {
		s.mediaPending = true
	} else {
		s.screenPending = true
	}

	ctx, id, src := s.ctx, s.ID, o.source
	go func() {
		ctx, cancel := context.WithTimeout(ctx, AcceptTimeout)
		defer cancel()

		var (
			stream *media.Stream
			err    error
		)
		if purpose == purposeCall {
			stream, err = src.Acquire(ctx)
		} else {
			stream, err = src.AcquireScreen(ctx)
		}
		o.post(mediaReadyEvent{callID: id, purpose: purpose, stream: stream, err: err})
	}()
}

func (o *Orchestrator) handleMediaReady(ev mediaReadyEvent) {
	s := o.current(ev.callID)
	release := func() {
		if ev.stream != nil {
			ev.stream.Stop()
		}
	}
	if s == nil {
		release()
		return
	}

	if ev.purpose == purposeScreen {
		o.screenReady(s, ev, release)
		return
	}

	expected := s.mediaPending &&
		((s.Role == RoleResponder && o.state == StateRinging && s.accepting) ||
			(s.Role == RoleInitiator && o.state == StateConnecting))
	if !expected {
		release()
		return
	}
	s.mediaPending = false

	if ev.err != nil {
		o.lastError = fmt.Sprintf("capture error: %v", ev.err)
		s.log.Warn("%s", o.lastError)
		if s.Role == RoleResponder {
			o.send(s, s.ID, &protocol.Message{Type: protocol.TypeDecline, DeclinerID: o.self.ID})
			o.finish(StateEnded)
		} else {
			o.hangUp()
		}
		return
	}
	s.local = ev.stream

	conn, err := o.peers.Create(s.ID, s.queue, o.handlersFor(s.ID))
	if err != nil {
		o.fail(fmt.Sprintf("create connection: %v", err))
		return
	}
	s.conn = conn
	if _, err := conn.AddLocalTracks(s.local); err != nil {
		o.fail(fmt.Sprintf("attach local media: %v", err))
		return
	}

	if s.Role == RoleResponder {
		o.setState(StateConnecting)
		o.send(s, s.ID, &protocol.Message{
			Type:         protocol.TypeAccept,
			AccepterID:   o.self.ID,
			AccepterName: o.self.Name,
		})
		o.shareConsent(s)
		return
	}

	s.offerSent = true
	o.describe(s, conn.CreateOffer, false)
}

func (o *Orchestrator) screenReady(s *Session, ev mediaReadyEvent, release func()) {
	if !s.screenPending || s.conn == nil || !o.state.Active() {
		release()
		return
	}
	s.screenPending = false
	if ev.err != nil {
		o.lastError = fmt.Sprintf("screen capture error: %v", ev.err)
		return
	}
	s.screen = ev.stream

	conn, stream := s.conn, ev.stream
	o.describe(s, func() (webrtc.SessionDescription, error) {
		return conn.Renegotiate(stream, nil)
	}, true)
}

func (o *Orchestrator) handleTrack(ev trackEvent) {
	s := o.session
	if s == nil {
		return
	}
	t, ok := s.local.First(ev.kind)
	if !ok {
		return
	}
	lt, ok := t.(*media.LocalTrack)
	if !ok {
		return
	}
	off := ev.off
	if ev.toggle {
		off = lt.Enabled()
	}
	lt.SetEnabled(!off)
	s.log.Debug("%s enabled=%v", ev.kind, !off)
}

func (o *Orchestrator) handleScreen(ev screenEvent) {
	s := o.session
	if s == nil || s.conn == nil || !o.state.Active() || o.state == StateRinging {
		return
	}

	if ev.start {
		if s.screen != nil || s.screenPending {
			return
		}
		o.acquire(s, purposeScreen)
		return
	}

	if s.screen == nil {
		return
	}
	var ids []string
	for _, t := range s.screen.Tracks() {
		ids = append(ids, t.ID())
	}
	s.screen.Stop()
	s.screen = nil

	conn := s.conn
	o.describe(s, func() (webrtc.SessionDescription, error) {
		return conn.Renegotiate(nil, ids)
	}, true)
}

// ---------------------------------------------------------------------------
// Descriptions
// ---------------------------------------------------------------------------

// describe runs create off the dispatcher and posts the result.
func (o *Orchestrator) describe(s *Session, create func() (webrtc.SessionDescription, error), renegotiate bool) {
	id := s.ID
	go func() {
		desc, err := create()
		o.post(descriptionEvent{callID: id, desc: desc, renegotiate: renegotiate, err: err})
	}()
}

func (o *Orchestrator) handleDescription(ev descriptionEvent) {
	s := o.current(ev.callID)
	if s == nil || s.conn == nil || !o.state.Active() {
		return
	}
	if ev.err != nil {
		if ev.renegotiate {
			s.log.Warn("renegotiation failed: %v", ev.err)
			return
		}
		o.fail(fmt.Sprintf("session description: %v", ev.err))
		return
	}

	typ := protocol.TypeOffer
	if ev.desc.Type == webrtc.SDPTypeAnswer {
		typ = protocol.TypeAnswer
	}
	o.send(s, s.ID, &protocol.Message{Type: typ, SDP: ev.desc.SDP, Renegotiate: ev.renegotiate})

	if typ == protocol.TypeAnswer && s.reoffer {
		s.reoffer = false
		s.log.Debug("re-offering local changes lost to glare")
		o.describe(s, s.conn.CreateOffer, true)
	}
}

// ---------------------------------------------------------------------------
// Consent
// ---------------------------------------------------------------------------

func (o *Orchestrator) handleConsent(ev consentEvent) {
	s := o.session
	if s == nil || s.Consent.Local == ev.granted {
		return
	}
	s.Consent.Local = ev.granted
	o.send(s, s.ID, &protocol.Message{Type: protocol.TypeConsent, From: o.self.ID, Granted: ev.granted})
	o.observe()
}

// shareConsent repeats a granted local consent once the peer is known to be
// in the call room.
func (o *Orchestrator) shareConsent(s *Session) {
	if s.Consent.Local {
		o.send(s, s.ID, &protocol.Message{Type: protocol.TypeConsent, From: o.self.ID, Granted: true})
	}
}

// watchRemote drops t from the remote stream once the peer stops sending it.
func (o *Orchestrator) watchRemote(s *Session, t media.Track) {
	ended, ok := t.(interface{ Done() <-chan struct{} })
	if !ok {
		return
	}
	ctx, callID, id := s.ctx, s.ID, t.ID()
	go func() {
		select {
		case <-ended.Done():
			o.post(remoteTrackEndedEvent{callID: callID, id: id})
		case <-ctx.Done():
		}
	}()
}

// ---------------------------------------------------------------------------
// Connectivity & timers
// ---------------------------------------------------------------------------

func (o *Orchestrator) handlersFor(callID string) peer.Handlers {
	return peer.Handlers{
		OnLocalCandidate: func(c webrtc.ICECandidateInit) {
			o.post(localCandidateEvent{callID: callID, cand: c})
		},
		OnRemoteTrack: func(t media.Track) {
			o.post(remoteTrackEvent{callID: callID, track: t})
		},
		OnConnectivity: func(st webrtc.ICEConnectionState) {
			o.post(connectivityEvent{callID: callID, state: st})
		},
	}
}

func (o *Orchestrator) handleConnectivity(ev connectivityEvent) {
	s := o.current(ev.callID)
	if s == nil {
		return
	}

	switch ev.state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		if o.state != StateConnecting && o.state != StateReconnecting {
			return
		}
		o.timers.cancel(graceTimer)
		if !s.connectedOnce {
			s.connectedOnce = true
			util.Stats.AddConnected()
		}
		o.setState(StateConnected)

	case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed:
		switch o.state {
		case StateConnected:
			util.Stats.AddReconnect()
			o.setState(StateReconnecting)
			o.timers.start(graceTimer, ReconnectGrace, s.ID)
		case StateConnecting:
			if ev.state == webrtc.ICEConnectionStateFailed {
				o.fail("connection could not be established")
			}
		}
	}
}

func (o *Orchestrator) handleTimer(ev timerEvent) {
	if !o.timers.current(ev) {
		return
	}
	o.timers.fired(ev.kind)

	switch ev.kind {
	case acceptTimer:
		s := o.current(ev.callID)
		if s == nil || o.state != StateRinging {
			return
		}
		s.log.Info("invite timed out")
		o.send(s, s.ID, &protocol.Message{Type: protocol.TypeDecline, DeclinerID: protocol.DeclinedByTimeout})
		if s.Role == RoleInitiator {
			o.lastError = "no answer"
		}
		o.finish(StateEnded)

	case graceTimer:
		s := o.current(ev.callID)
		if s == nil || o.state != StateReconnecting {
			return
		}
		o.fail("connection lost")

	case resetTimer:
		if o.session == nil && o.state.Terminal() {
			o.setState(StateIdle)
		}
	}
}

// ---------------------------------------------------------------------------
// Terminal transitions
// ---------------------------------------------------------------------------

// fail records reason, tells the peer the call is over and finishes it as
// failed.
func (o *Orchestrator) fail(reason string) {
	s := o.session
	if s == nil {
		return
	}
	o.lastError = reason
	util.Stats.AddFailed()
	s.log.Error("call failed: %s", reason)
	o.send(s, s.ID, &protocol.Message{Type: protocol.TypeEnd, EndedBy: o.self.ID})
	o.finish(StateFailed)
}

// finish enters a terminal state and tears down. Every exit path ends here.
func (o *Orchestrator) finish(state State) {
	if o.session == nil {
		return
	}
	o.setState(state)
	o.teardown()
	o.timers.start(resetTimer, ResetDelay, "")
}

// teardown releases everything the session owns. It runs once per session.
func (o *Orchestrator) teardown() {
	s := o.session
	if s == nil {
		return
	}
	o.session = nil
	s.cancel()

	o.timers.cancel(acceptTimer)
	o.timers.cancel(graceTimer)

	// Finalizes any capture of this call.
	o.observe()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log.Warn("close peer connection: %v", err)
		}
	}
	if s.local != nil {
		s.local.Stop()
	}
	if s.screen != nil {
		s.screen.Stop()
	}
	s.queue.Clear()

	if err := o.sig.Leave(s.ID); err != nil {
		s.log.Warn("leave call room: %v", err)
	}
	s.log.Debug("session released")
}
