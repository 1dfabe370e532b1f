// Package recording turns a connected call into a recorded artifact, but
// only while both parties consent.
package recording

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/media"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/util"
)

// saveTimeout bounds a single Store.Save.
const saveTimeout = 2 * time.Minute

// Consent holds the per-party recording consent of one call. It starts out
// false on both sides for every call and is never persisted.
type Consent struct {
	Local  bool `json:"local"`
	Remote bool `json:"remote"`
}

// Both reports whether both parties consented.
func (c Consent) Both() bool { return c.Local && c.Remote }

// Observation is a snapshot of the call, fed to the Gate after every
// transition that may affect recording.
type Observation struct {
	CallID    string
	Consent   Consent
	Connected bool // media is flowing
	Live      bool // the call has not ended or failed; reconnecting is live
	Local     *media.Stream
	Remote    *media.Stream
}

// Gate opens a Capture when both parties consent while connected, and
// finalizes it on consent revocation or when the call ends. A reconnecting
// call keeps its capture.
type Gate struct {
	store Store
	clock clock.Clock

	mu      sync.Mutex
	capture *Capture
	saves   sync.WaitGroup

	// OnSaved, if set, is invoked after every Store.Save attempt.
	OnSaved func(*Artifact, error)
}

// NewGate creates a Gate handing artifacts to store. A nil clock means the
// wall clock.
func NewGate(store Store, clk clock.Clock) *Gate {
	if clk == nil {
		clk = clock.New()
	}
	return &Gate{store: store, clock: clk}
}

// Observe applies the gating rule to o.
func (g *Gate) Observe(o Observation) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.capture != nil {
		stale := g.capture.CallID() != o.CallID
		if stale || !o.Live || !o.Consent.Both() {
			g.stopLocked()
		}
	}

	if g.capture != nil {
		return
	}
	if !o.Consent.Both() || !o.Connected || o.Local.Len() == 0 || o.Remote.Len() == 0 {
		return
	}

	tracks := append(tagged(o.Local.Tracks(), OriginLocal), tagged(o.Remote.Tracks(), OriginRemote)...)
	g.capture = NewCapture(o.CallID, tracks, g.clock)
	util.NewCallLog(o.CallID).Info("recording started (%d tracks)", len(tracks))
}

// Stop finalizes an active capture regardless of call state. Safe to call
// multiple times.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
}

func (g *Gate) stopLocked() {
	c := g.capture
	if c == nil {
		return
	}
	g.capture = nil

	art, err := c.Finalize()
	log := util.NewCallLog(c.CallID())
	if err != nil {
		log.Error("finalize recording: %v", err)
		return
	}
	log.Info("recording stopped after %s", art.Duration.Round(time.Millisecond))

	g.saves.Add(1)
	go func() {
		defer g.saves.Done()
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()

		err := g.store.Save(ctx, art)
		if err != nil {
			log.Error("save recording %s: %v", art.SessionID, err)
		} else {
			util.Stats.AddRecording(len(art.Data))
			log.Info("recording %s saved (%d bytes)", art.SessionID, len(art.Data))
		}
		if g.OnSaved != nil {
			g.OnSaved(art, err)
		}
	}()
}

// Recording reports whether a capture is active.
func (g *Gate) Recording() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capture != nil
}

// Elapsed returns the duration of the active capture, or zero.
func (g *Gate) Elapsed() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.capture == nil {
		return 0
	}
	return g.capture.Elapsed()
}

// SessionID returns the id of the active capture, or "".
func (g *Gate) SessionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.capture == nil {
		return ""
	}
	return g.capture.SessionID()
}

// Wait blocks until every pending Store.Save has returned.
func (g *Gate) Wait() {
	g.saves.Wait()
}
