package peer

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/util"
)

// CandidateQueue buffers remote ICE candidates that arrive before the remote
// description is set. It is owned by one call session.
//
// The queue and the "remote description set" flag live under one mutex, so
// a candidate racing with ApplyRemoteDescription is either drained or applied
// directly, never lost and never applied twice.
type CandidateQueue struct {
	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
	seen    map[string]struct{}
	ready   bool
}

// NewCandidateQueue creates an empty queue.
func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{seen: make(map[string]struct{})}
}

// Len returns the number of buffered candidates.
func (q *CandidateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Ready reports whether a remote description has been set.
func (q *CandidateQueue) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready
}

// enqueueOrApply applies c immediately once ready, otherwise buffers it.
// Duplicates of an already seen candidate are dropped.
func (q *CandidateQueue) enqueueOrApply(c webrtc.ICECandidateInit, apply func(webrtc.ICECandidateInit) error) (queued bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.seen == nil {
		q.seen = make(map[string]struct{})
	}
	key := util.CandidateKey(c)
	if _, dup := q.seen[key]; dup {
		return false, nil
	}
	q.seen[key] = struct{}{}

	if !q.ready {
		q.pending = append(q.pending, c)
		return true, nil
	}
	return false, apply(c)
}

// open runs setRemote and, on success, drains the buffer in arrival order
// while still holding the lock. Candidates that fail to apply are reported
// through onFail and skipped.
func (q *CandidateQueue) open(setRemote func() error, apply func(webrtc.ICECandidateInit) error, onFail func(webrtc.ICECandidateInit, error)) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := setRemote(); err != nil {
		return 0, err
	}
	q.ready = true

	drained := q.pending
	q.pending = nil
	for _, c := range drained {
		if err := apply(c); err != nil && onFail != nil {
			onFail(c, err)
		}
	}
	return len(drained), nil
}

// Clear discards everything buffered and forgets seen candidates.
func (q *CandidateQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.seen = make(map[string]struct{})
}
