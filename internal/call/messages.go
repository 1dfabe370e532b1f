package call

import (
	"errors"
	"fmt"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/protocol"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/util"
)

var (
	errUnexpected = errors.New("unexpected message")
	errRole       = errors.New("role violation")
)

// handleMessage routes one transport message through the transition table.
func (o *Orchestrator) handleMessage(msg *protocol.Message) {
	if err := protocol.Validate(msg); err != nil {
		util.LogWarning("dropping message: %v", err)
		return
	}

	if msg.Type == protocol.TypeInvite {
		if msg.CallerID != o.self.ID {
			o.handleIncomingInvite(msg)
		}
		return
	}

	s := o.current(msg.CallID)
	if s == nil {
		// Late traffic for a finished call, or a stray message while idle.
		util.LogDebug("dropping %s for call %s: no such session", msg.Type, msg.CallID)
		return
	}
	if msg.From != "" && msg.From != s.Remote.ID {
		s.log.Warn("dropping %s from %s: not a party to this call", msg.Type, msg.From)
		return
	}

	var err error
	switch msg.Type {
	case protocol.TypeAccept:
		err = o.onAccept(s)
	case protocol.TypeDecline:
		err = o.onDecline(s, msg)
	case protocol.TypeEnd:
		s.log.Info("remote hung up")
		o.finish(StateEnded)
	case protocol.TypeOffer:
		err = o.onOffer(s, msg)
	case protocol.TypeAnswer:
		err = o.onAnswer(s, msg)
	case protocol.TypeCandidate:
		err = o.onCandidate(s, msg)
	case protocol.TypeConsent:
		if s.Consent.Remote != msg.Granted {
			s.Consent.Remote = msg.Granted
			s.log.Info("remote consent: %v", msg.Granted)
			o.observe()
		}
	default:
		err = fmt.Errorf("%w: %s", errUnexpected, msg.Type)
	}

	if err != nil {
		o.protocolError(s, msg, err)
	}
}

// protocolError drops msg. A role violation or a repeated error fails the call.
func (o *Orchestrator) protocolError(s *Session, msg *protocol.Message, err error) {
	s.protocolErrors++
	s.log.Warn("protocol error on %s (%d): %v", msg.Type, s.protocolErrors, err)

	if errors.Is(err, errRole) || s.protocolErrors >= maxProtocolErrors {
		o.fail(fmt.Sprintf("protocol error: %v", err))
	}
}

func (o *Orchestrator) onAccept(s *Session) error {
	if s.Role != RoleInitiator || o.state != StateRinging {
		return fmt.Errorf("%w: accept in %s as %s", errUnexpected, o.state, s.Role)
	}
	o.timers.cancel(acceptTimer)
	o.setState(StateConnecting)
	// The callee joins the call room only once the invite arrives, so
	// consent granted while ringing may never have reached it.
	o.shareConsent(s)
	o.acquire(s, purposeCall)
	return nil
}

func (o *Orchestrator) onDecline(s *Session, msg *protocol.Message) error {
	if o.state != StateRinging && o.state != StateConnecting {
		return fmt.Errorf("%w: decline in %s", errUnexpected, o.state)
	}
	if msg.DeclinerID == protocol.DeclinedByTimeout {
		s.log.Info("invite timed out")
		if s.Role == RoleInitiator {
			o.lastError = "no answer"
		}
	} else {
		s.log.Info("declined by %s", msg.DeclinerID)
		if s.Role == RoleInitiator {
			o.lastError = "call declined"
		}
	}
	o.finish(StateEnded)
	return nil
}

func (o *Orchestrator) onOffer(s *Session, msg *protocol.Message) error {
	if s.conn == nil {
		return fmt.Errorf("%w: offer before local media", errUnexpected)
	}

	if !msg.Renegotiate {
		if s.Role == RoleInitiator {
			return fmt.Errorf("%w: initiator received an initial offer", errRole)
		}
		if o.state != StateConnecting || s.remoteSet {
			return fmt.Errorf("%w: initial offer in %s", errUnexpected, o.state)
		}
	} else if !s.remoteSet || !o.state.Active() {
		return fmt.Errorf("%w: renegotiation before initial exchange", errUnexpected)
	}

	if s.conn.HasLocalOffer() {
		// Offer glare: the responder yields, the initiator keeps its offer.
		if !s.polite() {
			s.log.Debug("ignoring colliding offer")
			return nil
		}
		if err := s.conn.Rollback(); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		s.reoffer = true
	}

	if err := s.conn.ApplyRemoteDescription(msg.Description()); err != nil {
		return err
	}
	if !s.remoteSet {
		s.remoteSet = true
		s.callStart = o.clock.Now()
	}

	o.describe(s, s.conn.CreateAnswer, msg.Renegotiate)
	return nil
}

func (o *Orchestrator) onAnswer(s *Session, msg *protocol.Message) error {
	if s.conn == nil || !s.conn.HasLocalOffer() {
		return fmt.Errorf("%w: answer without a pending offer", errUnexpected)
	}
	if err := s.conn.ApplyRemoteDescription(msg.Description()); err != nil {
		return err
	}
	if !s.remoteSet {
		s.remoteSet = true
		s.callStart = o.clock.Now()
	}
	return nil
}

func (o *Orchestrator) onCandidate(s *Session, msg *protocol.Message) error {
	if s.conn == nil {
		return fmt.Errorf("%w: candidate before connection", errUnexpected)
	}
	return s.conn.EnqueueOrApplyCandidate(*msg.Candidate)
}
