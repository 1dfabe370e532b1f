package recording

import (
	"archive/zip"
	"bytes"
	"time"

	"github.com/goccy/go-json"
)

// ManifestName is the manifest entry inside an artifact bundle.
const ManifestName = "manifest.json"

// TrackInfo describes one recorded track.
type TrackInfo struct {
	ID       string `json:"id"`
	Origin   Origin `json:"origin"`
	Kind     string `json:"kind"`
	MimeType string `json:"mimeType"`
	File     string `json:"file"`
	Packets  int    `json:"packets"`
}

// Artifact is a finalized recording: a zip bundle holding the manifest and
// one ogg/ivf file per track.
type Artifact struct {
	CallID    string        `json:"callId"`
	SessionID string        `json:"sessionId"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"durationNs"`
	Tracks    []TrackInfo   `json:"tracks"`
	Skipped   []string      `json:"skipped,omitempty"`
	Warnings  []string      `json:"warnings,omitempty"`

	Data []byte `json:"-"`
}

// ObjectKey is the storage key used by object and directory stores.
func (a *Artifact) ObjectKey() string {
	return a.CallID + "/" + a.SessionID + ".zip"
}

type file struct {
	name string
	data []byte
}

func bundle(art *Artifact, files []file) ([]byte, error) {
	manifest, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range append([]file{{name: ManifestName, data: manifest}}, files...) {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.name,
			Method:   zip.Deflate,
			Modified: art.StartedAt,
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadManifest extracts the manifest from an artifact bundle.
func ReadManifest(data []byte) (*Artifact, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	f, err := zr.Open(ManifestName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var art Artifact
	if err := json.NewDecoder(f).Decode(&art); err != nil {
		return nil, err
	}
	return &art, nil
}
