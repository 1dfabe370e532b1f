package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTrack(t *testing.T, id string) *LocalTrack {
	t.Helper()
	lt, err := NewLocalTrack(CodecOpus, id, "s1")
	require.NoError(t, err)
	return lt
}

func TestLocalTrackFansOutToSubscribers(t *testing.T) {
	lt := newTestTrack(t, "a1")
	ch1, cancel1 := lt.Subscribe()
	ch2, cancel2 := lt.Subscribe()
	defer cancel2()

	require.NoError(t, lt.WriteRTP(&rtp.Packet{Header: rtp.Header{SequenceNumber: 7}, Payload: []byte{1}}))

	p1 := <-ch1
	p2 := <-ch2
	assert.Equal(t, uint16(7), p1.SequenceNumber)
	assert.Equal(t, uint16(7), p2.SequenceNumber)
	assert.NotSame(t, p1, p2)

	cancel1()
	cancel1()
	_, ok := <-ch1
	assert.False(t, ok)
}

func TestLocalTrackMuteDropsPackets(t *testing.T) {
	lt := newTestTrack(t, "a1")
	ch, cancel := lt.Subscribe()
	defer cancel()

	lt.SetEnabled(false)
	assert.False(t, lt.Enabled())
	require.NoError(t, lt.WriteRTP(&rtp.Packet{}))

	select {
	case <-ch:
		t.Fatal("muted track delivered a packet")
	default:
	}

	lt.SetEnabled(true)
	require.NoError(t, lt.WriteRTP(&rtp.Packet{}))
	<-ch
}

func TestLocalTrackStopIsIdempotent(t *testing.T) {
	lt := newTestTrack(t, "a1")
	ch, _ := lt.Subscribe()

	calls := 0
	lt.OnStop(func() { calls++ })

	lt.Stop()
	lt.Stop()

	assert.Equal(t, 1, calls)
	assert.True(t, lt.Stopped())
	_, ok := <-ch
	assert.False(t, ok)

	late, _ := lt.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after stop returns a closed channel")
}

func TestStreamDeduplicatesByID(t *testing.T) {
	a := newTestTrack(t, "a1")
	dup := newTestTrack(t, "a1")
	v, err := NewLocalTrack(CodecVP8, "v1", "s1")
	require.NoError(t, err)

	s := NewStream("s1", a, dup, v)
	assert.Equal(t, 2, s.Len())

	got, ok := s.First(webrtc.RTPCodecTypeVideo)
	require.True(t, ok)
	assert.Equal(t, "v1", got.ID())

	removed, ok := s.Remove("a1")
	require.True(t, ok)
	assert.Equal(t, "a1", removed.ID())
	assert.Equal(t, 1, s.Len())

	var nilStream *Stream
	assert.Equal(t, 0, nilStream.Len())
	assert.Nil(t, nilStream.Tracks())

	s.Stop()
	assert.True(t, v.Stopped())
}

func TestSeqGenWraps(t *testing.T) {
	g := newSeqGen(65534)
	assert.Equal(t, uint16(65535), g.Next())
	assert.Equal(t, uint16(0), g.Next())
	assert.Equal(t, uint16(1), g.Next())
}

func TestSilenceSourceProducesOpus(t *testing.T) {
	mock := clock.NewMock()
	src := &SilenceSource{Clock: mock}

	stream, err := src.Acquire(context.Background())
	require.NoError(t, err)
	defer stream.Stop()

	track, ok := stream.First(webrtc.RTPCodecTypeAudio)
	require.True(t, ok)
	assert.Equal(t, webrtc.MimeTypeOpus, track.Codec().MimeType)

	ch, cancel := track.Subscribe()
	defer cancel()

	var got *rtp.Packet
	require.Eventually(t, func() bool {
		mock.Add(opusFrame)
		select {
		case got = <-ch:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, opusSilence, got.Payload)
	assert.Equal(t, uint8(opusPayloadType), got.PayloadType)
}

func TestSilenceSourceHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSilenceSource().Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeReader struct {
	pkts []*rtp.Packet
}

func (r *fakeReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if len(r.pkts) == 0 {
		return nil, nil, errors.New("eof")
	}
	p := r.pkts[0]
	r.pkts = r.pkts[1:]
	return p, nil, nil
}

func TestRemoteTrackPumpsUntilError(t *testing.T) {
	r := &fakeReader{}
	// Subscribe before the pump starts by handing it an empty reader and
	// filling it through a gate.
	gate := make(chan struct{})
	gated := readerFunc(func() (*rtp.Packet, interceptor.Attributes, error) {
		<-gate
		return r.ReadRTP()
	})
	r.pkts = []*rtp.Packet{{Header: rtp.Header{SequenceNumber: 1}}, {Header: rtp.Header{SequenceNumber: 2}}}

	rt := NewRemoteTrack("r1", CodecVP8, gated)
	ch, cancel := rt.Subscribe()
	defer cancel()
	close(gate)

	var seqs []uint16
	for p := range ch {
		seqs = append(seqs, p.SequenceNumber)
	}
	assert.Equal(t, []uint16{1, 2}, seqs)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, rt.Kind())
	<-rt.Done()
}

type readerFunc func() (*rtp.Packet, interceptor.Attributes, error)

func (f readerFunc) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) { return f() }
