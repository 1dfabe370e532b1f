package recording

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/media"
)

// Origin tells which party produced a track.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

type sourceTrack struct {
	media.Track
	origin Origin
}

func tagged(tracks []media.Track, origin Origin) []sourceTrack {
	out := make([]sourceTrack, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, sourceTrack{Track: t, origin: origin})
	}
	return out
}

// rtpWriter is implemented by oggwriter.OggWriter and ivfwriter.IVFWriter.
type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// trackRecorder drains one track subscription into a container writer.
type trackRecorder struct {
	info   TrackInfo
	buf    bytes.Buffer
	w      rtpWriter
	cancel func()
	done   chan struct{}
	err    error
}

func newTrackRecorder(t sourceTrack, index int) (*trackRecorder, error) {
	r := &trackRecorder{
		info: TrackInfo{
			ID:       t.ID(),
			Origin:   t.origin,
			Kind:     t.Kind().String(),
			MimeType: t.Codec().MimeType,
		},
		done: make(chan struct{}),
	}

	var err error
	switch {
	case strings.EqualFold(t.Codec().MimeType, webrtc.MimeTypeOpus):
		r.info.File = fmt.Sprintf("%02d-%s-%s.ogg", index, t.origin, t.Kind())
		r.w, err = oggwriter.NewWith(&r.buf, 48000, 2)
	case strings.EqualFold(t.Codec().MimeType, webrtc.MimeTypeVP8):
		r.info.File = fmt.Sprintf("%02d-%s-%s.ivf", index, t.origin, t.Kind())
		r.w, err = ivfwriter.NewWith(&r.buf)
	default:
		return nil, fmt.Errorf("unsupported codec %s", t.Codec().MimeType)
	}
	if err != nil {
		return nil, err
	}

	ch, cancel := t.Subscribe()
	r.cancel = cancel
	go r.run(ch)
	return r, nil
}

func (r *trackRecorder) run(ch <-chan *rtp.Packet) {
	defer close(r.done)
	for pkt := range ch {
		if err := r.w.WriteRTP(pkt); err != nil && r.err == nil {
			r.err = err
		}
		r.info.Packets++
	}
}

// stop unsubscribes, waits for the writer goroutine and closes the container.
func (r *trackRecorder) stop() error {
	r.cancel()
	<-r.done
	return errors.Join(r.err, r.w.Close())
}

// Capture records the tracks present when it was opened. Later tracks are
// not added.
type Capture struct {
	callID    string
	sessionID string
	clock     clock.Clock
	startedAt time.Time

	recorders []*trackRecorder
	skipped   []string

	once sync.Once
	art  *Artifact
	err  error
}

// NewCapture subscribes to every track with a supported codec.
func NewCapture(callID string, tracks []sourceTrack, clk clock.Clock) *Capture {
	c := &Capture{
		callID:    callID,
		sessionID: uuid.NewString(),
		clock:     clk,
		startedAt: clk.Now(),
	}
	for i, t := range tracks {
		r, err := newTrackRecorder(t, i)
		if err != nil {
			c.skipped = append(c.skipped, fmt.Sprintf("%s: %v", t.ID(), err))
			continue
		}
		c.recorders = append(c.recorders, r)
	}
	return c
}

func (c *Capture) CallID() string    { return c.callID }
func (c *Capture) SessionID() string { return c.sessionID }

// Elapsed returns the time since the capture was opened.
func (c *Capture) Elapsed() time.Duration { return c.clock.Since(c.startedAt) }

// Finalize stops every recorder and bundles the result. Subsequent calls
// return the same artifact.
func (c *Capture) Finalize() (*Artifact, error) {
	c.once.Do(func() {
		duration := c.Elapsed()

		files := make([]file, 0, len(c.recorders))
		infos := make([]TrackInfo, 0, len(c.recorders))
		var errs []error
		for _, r := range c.recorders {
			if err := r.stop(); err != nil {
				errs = append(errs, fmt.Errorf("track %s: %w", r.info.ID, err))
			}
			infos = append(infos, r.info)
			files = append(files, file{name: r.info.File, data: r.buf.Bytes()})
		}

		art := &Artifact{
			CallID:    c.callID,
			SessionID: c.sessionID,
			StartedAt: c.startedAt,
			Duration:  duration,
			Tracks:    infos,
			Skipped:   c.skipped,
		}
		data, err := bundle(art, files)
		if err != nil {
			c.err = err
			return
		}
		art.Data = data
		if len(errs) > 0 {
			art.Warnings = make([]string, len(errs))
			for i, e := range errs {
				art.Warnings[i] = e.Error()
			}
		}
		c.art = art
	})
	return c.art, c.err
}
