package media

import "sync/atomic"

// seqGen hands out RTP sequence numbers. It is shared between the producer
// goroutine and Stop, so all operations are atomic.
type seqGen struct {
	val atomic.Uint32
}

// newSeqGen creates a generator whose first Next() returns start+1.
func newSeqGen(start uint16) *seqGen {
	g := &seqGen{}
	g.val.Store(uint32(start))
	return g
}

// Next returns the next sequence number, wrapping at 2^16.
func (g *seqGen) Next() uint16 {
	return uint16(g.val.Add(1))
}
