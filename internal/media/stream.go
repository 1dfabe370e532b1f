package media

import (
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Stream is an ordered set of tracks, unique by track ID.
type Stream struct {
	id string

	mu     sync.RWMutex
	tracks []Track
}

// NewStream creates a stream holding tracks (duplicates by ID are dropped).
func NewStream(id string, tracks ...Track) *Stream {
	s := &Stream{id: id}
	for _, t := range tracks {
		s.Add(t)
	}
	return s
}

// ID returns the stream identifier (the msid shared by its tracks).
func (s *Stream) ID() string { return s.id }

// Add appends t unless a track with the same ID is already present.
// It reports whether the track was added.
func (s *Stream) Add(t Track) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.tracks {
		if have.ID() == t.ID() {
			return false
		}
	}
	s.tracks = append(s.tracks, t)
	return true
}

// Remove drops the track with the given ID and returns it.
func (s *Stream) Remove(id string) (Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tracks {
		if t.ID() == id {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			return t, true
		}
	}
	return nil, false
}

// Tracks returns a snapshot of the current tracks.
func (s *Stream) Tracks() []Track {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// Len returns the number of tracks. A nil stream has none.
func (s *Stream) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}

// First returns the first track of the given kind.
func (s *Stream) First(kind webrtc.RTPCodecType) (Track, bool) {
	for _, t := range s.Tracks() {
		if t.Kind() == kind {
			return t, true
		}
	}
	return nil, false
}

// Stop stops every local track in the stream. Remote tracks end on their own.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		if lt, ok := t.(*LocalTrack); ok {
			lt.Stop()
		}
	}
}

func kindOf(mimeType string) webrtc.RTPCodecType {
	switch {
	case strings.HasPrefix(strings.ToLower(mimeType), "audio/"):
		return webrtc.RTPCodecTypeAudio
	case strings.HasPrefix(strings.ToLower(mimeType), "video/"):
		return webrtc.RTPCodecTypeVideo
	default:
		return 0
	}
}
