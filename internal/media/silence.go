package media

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/rtp"
)

// opusSilence is a single 20 ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const (
	opusFrame        = 20 * time.Millisecond
	opusFrameSamples = 960
	opusPayloadType  = 111
)

// SilenceSource produces an Opus track carrying silence at real-time pace.
// Headless endpoints and tests use it in place of a microphone.
type SilenceSource struct {
	Clock clock.Clock
}

// NewSilenceSource returns a source driven by the wall clock.
func NewSilenceSource() *SilenceSource {
	return &SilenceSource{Clock: clock.New()}
}

// Acquire returns a stream with one silent audio track. The producer
// goroutine stops when the track is stopped.
func (s *SilenceSource) Acquire(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := uuid.NewString()
	track, err := NewLocalTrack(CodecOpus, "audio-"+streamID[:8], streamID)
	if err != nil {
		return nil, err
	}

	ticker := s.Clock.Ticker(opusFrame)
	done := make(chan struct{})
	track.OnStop(func() {
		ticker.Stop()
		close(done)
	})

	go func() {
		seq := newSeqGen(uint16(rand.Uint32()))
		ts := rand.Uint32()
		for {
			select {
			case <-ticker.C:
				ts += opusFrameSamples
				_ = track.WriteRTP(&rtp.Packet{
					Header: rtp.Header{
						Version:        2,
						PayloadType:    opusPayloadType,
						SequenceNumber: seq.Next(),
						Timestamp:      ts,
					},
					Payload: opusSilence,
				})
			case <-done:
				return
			}
		}
	}()

	return NewStream(streamID, track), nil
}

// AcquireScreen returns a VP8 track that is negotiated but never carries
// frames. There is no display to capture on a headless endpoint.
func (s *SilenceSource) AcquireScreen(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := uuid.NewString()
	track, err := NewLocalTrack(CodecVP8, "screen-"+streamID[:8], streamID)
	if err != nil {
		return nil, err
	}
	return NewStream(streamID, track), nil
}
