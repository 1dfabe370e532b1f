package peer

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Factory creates Connections and enforces one open Connection per call.
type Factory struct {
	newConn    NewConnFunc
	iceServers func() []webrtc.ICEServer

	mu   sync.Mutex
	open map[string]*Connection
}

// NewFactory creates a Factory. iceServers is consulted on every Create so a
// reloaded server list takes effect on the next call.
func NewFactory(newConn NewConnFunc, iceServers func() []webrtc.ICEServer) *Factory {
	return &Factory{
		newConn:    newConn,
		iceServers: iceServers,
		open:       make(map[string]*Connection),
	}
}

// Create opens the Connection for callID. It fails with ErrAlreadyOpen if
// the previous Connection for callID has not been closed.
func (f *Factory) Create(callID string, queue *CandidateQueue, h Handlers) (*Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.open[callID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyOpen, callID)
	}

	var servers []webrtc.ICEServer
	if f.iceServers != nil {
		servers = f.iceServers()
	}

	c, err := New(callID, f.newConn, webrtc.Configuration{ICEServers: servers}, queue, h)
	if err != nil {
		return nil, err
	}
	c.onClose = func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.open[callID] == c {
			delete(f.open, callID)
		}
	}
	f.open[callID] = c
	return c, nil
}

// Open returns the number of Connections not yet closed.
func (f *Factory) Open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}
