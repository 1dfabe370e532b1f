package recording

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/media"
)

type memStore struct {
	mu   sync.Mutex
	arts []*Artifact
	err  error
}

func (m *memStore) Save(_ context.Context, art *Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arts = append(m.arts, art)
	return m.err
}

func (m *memStore) saved() []*Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Artifact(nil), m.arts...)
}

type fixture struct {
	gate   *Gate
	store  *memStore
	clock  *clock.Mock
	mic    *media.LocalTrack
	local  *media.Stream
	remote *media.Stream
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mic, err := media.NewLocalTrack(media.CodecOpus, "mic", "local")
	require.NoError(t, err)
	peerMic, err := media.NewLocalTrack(media.CodecOpus, "peer-mic", "remote")
	require.NoError(t, err)

	store := &memStore{}
	mock := clock.NewMock()
	return &fixture{
		gate:   NewGate(store, mock),
		store:  store,
		clock:  mock,
		mic:    mic,
		local:  media.NewStream("local", mic),
		remote: media.NewStream("remote", peerMic),
	}
}

func (f *fixture) observe(consent Consent, connected, live bool) {
	f.gate.Observe(Observation{
		CallID:    "call-1",
		Consent:   consent,
		Connected: connected,
		Live:      live,
		Local:     f.local,
		Remote:    f.remote,
	})
}

var both = Consent{Local: true, Remote: true}

func TestGateStartsOnlyWithBothConsentsWhileConnected(t *testing.T) {
	testCases := []struct {
		name      string
		consent   Consent
		connected bool
		want      bool
	}{
		{"no consent", Consent{}, true, false},
		{"local only", Consent{Local: true}, true, false},
		{"remote only", Consent{Remote: true}, true, false},
		{"both but connecting", both, false, false},
		{"both and connected", both, true, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.observe(tc.consent, tc.connected, true)
			assert.Equal(t, tc.want, f.gate.Recording())
			f.gate.Stop()
		})
	}
}

func TestGateRequiresBothStreams(t *testing.T) {
	f := newFixture(t)
	f.gate.Observe(Observation{CallID: "call-1", Consent: both, Connected: true, Live: true, Local: f.local})
	assert.False(t, f.gate.Recording())
}

func TestSecondStartIsNoop(t *testing.T) {
	f := newFixture(t)
	f.observe(both, true, true)
	id := f.gate.SessionID()
	require.NotEmpty(t, id)

	f.observe(both, true, true)
	assert.Equal(t, id, f.gate.SessionID())
}

func TestRevocationFinalizesAndKeepsArtifact(t *testing.T) {
	f := newFixture(t)
	f.observe(both, true, true)

	require.NoError(t, f.mic.WriteRTP(&rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: 1, Timestamp: 960}, Payload: []byte{0xf8, 0xff, 0xfe}}))
	f.clock.Add(7 * time.Second)

	f.observe(Consent{Local: true}, true, true)
	assert.False(t, f.gate.Recording())
	f.gate.Wait()

	arts := f.store.saved()
	require.Len(t, arts, 1)
	art := arts[0]
	assert.Equal(t, "call-1", art.CallID)
	assert.Equal(t, 7*time.Second, art.Duration)
	require.Len(t, art.Tracks, 2)
	assert.Equal(t, OriginLocal, art.Tracks[0].Origin)
	assert.Equal(t, OriginRemote, art.Tracks[1].Origin)

	manifest, err := ReadManifest(art.Data)
	require.NoError(t, err)
	assert.Equal(t, art.SessionID, manifest.SessionID)
	assert.Equal(t, 1, manifest.Tracks[0].Packets)

	// Renewed consent in a later connected period starts a fresh session.
	f.observe(both, true, true)
	require.True(t, f.gate.Recording())
	assert.NotEqual(t, art.SessionID, f.gate.SessionID())
	f.gate.Stop()
}

func TestMutedTrackStaysInComposite(t *testing.T) {
	f := newFixture(t)
	f.observe(both, true, true)

	f.mic.SetEnabled(false)
	f.observe(both, true, true)
	assert.True(t, f.gate.Recording())

	f.gate.Stop()
	f.gate.Wait()
	arts := f.store.saved()
	require.Len(t, arts, 1)
	assert.Len(t, arts[0].Tracks, 2)
}

func TestReconnectingKeepsCapture(t *testing.T) {
	f := newFixture(t)
	f.observe(both, true, true)
	id := f.gate.SessionID()

	f.observe(both, false, true) // reconnecting
	assert.True(t, f.gate.Recording())

	f.observe(both, true, true) // recovered
	assert.Equal(t, id, f.gate.SessionID())
	assert.Empty(t, f.store.saved())
	f.gate.Stop()
}

func TestFailureFinalizesWithAccumulatedDuration(t *testing.T) {
	f := newFixture(t)
	f.observe(both, true, true)
	f.clock.Add(10 * time.Second)
	f.observe(both, false, true) // reconnecting
	f.clock.Add(15 * time.Second)
	f.observe(both, false, false) // failed

	f.gate.Wait()
	arts := f.store.saved()
	require.Len(t, arts, 1)
	assert.Equal(t, 25*time.Second, arts[0].Duration)
}

func TestLaterTracksAreNotAdded(t *testing.T) {
	f := newFixture(t)
	f.observe(both, true, true)

	screen, err := media.NewLocalTrack(media.CodecVP8, "screen", "local")
	require.NoError(t, err)
	f.local.Add(screen)
	f.observe(both, true, true)

	f.gate.Stop()
	f.gate.Stop()
	f.gate.Wait()
	arts := f.store.saved()
	require.Len(t, arts, 1)
	assert.Len(t, arts[0].Tracks, 2)
}

func TestStaleCallIsFinalized(t *testing.T) {
	f := newFixture(t)
	f.observe(both, true, true)
	f.gate.Observe(Observation{CallID: "call-2"})
	assert.False(t, f.gate.Recording())
	f.gate.Wait()
	assert.Len(t, f.store.saved(), 1)
}

func TestSaveErrorIsReported(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("disk full")

	var got error
	done := make(chan struct{})
	f.gate.OnSaved = func(_ *Artifact, err error) { got = err; close(done) }

	f.observe(both, true, true)
	f.gate.Stop()
	<-done
	assert.EqualError(t, got, "disk full")
}

func TestDirStore(t *testing.T) {
	dir := t.TempDir()
	art := &Artifact{CallID: "c1", SessionID: "s1", Data: []byte("zip")}

	require.NoError(t, DirStore{Root: dir}.Save(context.Background(), art))

	data, err := os.ReadFile(filepath.Join(dir, "c1", "s1.zip"))
	require.NoError(t, err)
	assert.Equal(t, []byte("zip"), data)
}

func TestMultiStoreContinuesPastFailure(t *testing.T) {
	bad := &memStore{err: errors.New("down")}
	good := &memStore{}
	art := &Artifact{CallID: "c1", SessionID: "s1"}

	err := MultiStore{bad, good}.Save(context.Background(), art)
	assert.EqualError(t, err, "down")
	assert.Len(t, good.saved(), 1)
}

type fakeExec struct {
	sql  []string
	args [][]any
}

func (f *fakeExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = append(f.sql, sql)
	f.args = append(f.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestPostgresIndexInsertsMetadata(t *testing.T) {
	db := &fakeExec{}
	idx := NewPostgresIndex(db)

	require.NoError(t, idx.Migrate(context.Background()))
	require.NoError(t, idx.Save(context.Background(), &Artifact{
		CallID:    "c1",
		SessionID: "s1",
		Duration:  1500 * time.Millisecond,
		Tracks:    []TrackInfo{{ID: "a"}, {ID: "b"}},
		Data:      make([]byte, 10),
	}))

	require.Len(t, db.sql, 2)
	assert.Contains(t, db.sql[0], "CREATE TABLE IF NOT EXISTS call_recordings")
	assert.Equal(t, []any{"s1", "c1", time.Time{}, int64(1500), 2, 10, "c1/s1.zip"}, db.args[1])
}
