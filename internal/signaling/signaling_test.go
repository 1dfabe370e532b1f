package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/protocol"
)

const waitFor = 2 * time.Second

type inbox struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (b *inbox) deliver(m *protocol.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, m)
}

func (b *inbox) all() []*protocol.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*protocol.Message(nil), b.msgs...)
}

func serve(t *testing.T, h *Hub) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, user string) (*Client, *inbox) {
	t.Helper()
	c, err := Dial(context.Background(), url, user)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	in := &inbox{}
	c.Listen(in.deliver)
	return c, in
}

// joined waits until the hub has registered n members in room.
func joined(t *testing.T, h *Hub, room string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.RoomSize(room) == n }, waitFor, 5*time.Millisecond)
}

func TestRelayReachesOtherMembersOnly(t *testing.T) {
	h := NewHub(HubOptions{})
	url := serve(t, h)

	alice, aliceIn := dial(t, url, "alice")
	bob, bobIn := dial(t, url, "bob")
	require.NoError(t, alice.Join("call-1"))
	require.NoError(t, bob.Join("call-1"))
	joined(t, h, "call-1", 2)

	mid := "0"
	cand := &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid}
	require.NoError(t, alice.Send("call-1", &protocol.Message{Type: protocol.TypeCandidate, CallID: "call-1", Candidate: cand}))

	require.Eventually(t, func() bool { return len(bobIn.all()) == 1 }, waitFor, 5*time.Millisecond)
	got := bobIn.all()[0]
	assert.Equal(t, protocol.TypeCandidate, got.Type)
	assert.Equal(t, "alice", got.From, "hub stamps the sender")
	assert.Equal(t, "call-1", got.Room)
	assert.Equal(t, cand.Candidate, got.Candidate.Candidate)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, aliceIn.all(), "no echo to the sender")
}

func TestInviteToUserRoomWithoutMembership(t *testing.T) {
	h := NewHub(HubOptions{})
	url := serve(t, h)

	alice, _ := dial(t, url, "alice")
	bob, bobIn := dial(t, url, "bob")
	require.NoError(t, bob.Join(protocol.UserRoom("bob")))
	joined(t, h, protocol.UserRoom("bob"), 1)

	require.NoError(t, alice.Send(protocol.UserRoom("bob"), &protocol.Message{
		Type: protocol.TypeInvite, CallID: "c1", CallerID: "alice", CalleeID: "bob",
	}))
	require.Eventually(t, func() bool { return len(bobIn.all()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "c1", bobIn.all()[0].CallID)
}

func TestLeaveStopsDelivery(t *testing.T) {
	h := NewHub(HubOptions{})
	url := serve(t, h)

	alice, _ := dial(t, url, "alice")
	bob, bobIn := dial(t, url, "bob")
	require.NoError(t, bob.Join("r"))
	joined(t, h, "r", 1)
	require.NoError(t, bob.Leave("r"))
	joined(t, h, "r", 0)
	assert.Empty(t, bob.Rooms())

	require.NoError(t, alice.Send("r", &protocol.Message{Type: protocol.TypeEnd, CallID: "r"}))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, bobIn.all())
}

func TestInvalidFramesAreDropped(t *testing.T) {
	h := NewHub(HubOptions{})
	url := serve(t, h)

	bob, bobIn := dial(t, url, "bob")
	require.NoError(t, bob.Join("r"))
	joined(t, h, "r", 1)

	raw, _, err := websocket.DefaultDialer.Dial(url+"?user=mallory", nil)
	require.NoError(t, err)
	defer raw.Close()
	require.NoError(t, raw.WriteMessage(websocket.TextMessage, []byte(`{"type":"offer","room":"r"}`)))
	require.NoError(t, raw.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, raw.WriteMessage(websocket.TextMessage, []byte(`{"type":"end","room":"r","callId":"r"}`)))

	require.Eventually(t, func() bool { return len(bobIn.all()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, protocol.TypeEnd, bobIn.all()[0].Type)
	assert.Equal(t, "mallory", bobIn.all()[0].From)
}

func TestDisconnectLeavesRooms(t *testing.T) {
	h := NewHub(HubOptions{})
	url := serve(t, h)

	bob, _ := dial(t, url, "bob")
	require.NoError(t, bob.Join("a"))
	require.NoError(t, bob.Join("b"))
	joined(t, h, "b", 1)

	require.NoError(t, bob.Close())
	require.NoError(t, bob.Close())
	joined(t, h, "a", 0)
	joined(t, h, "b", 0)
	require.Eventually(t, func() bool { return h.Members() == 0 }, waitFor, 5*time.Millisecond)

	assert.ErrorIs(t, bob.Send("a", &protocol.Message{Type: protocol.TypeEnd, CallID: "a"}), ErrClientClosed)
	assert.NoError(t, bob.Err())
}

func TestConnectionCap(t *testing.T) {
	h := NewHub(HubOptions{MaxConns: 1})
	url := serve(t, h)

	dial(t, url, "alice")
	_, err := Dial(context.Background(), url, "bob")
	assert.Error(t, err)
}

func TestMissingUserIsRejected(t *testing.T) {
	h := NewHub(HubOptions{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), "")
	assert.Error(t, err)
}

func TestClientNoticesServerShutdown(t *testing.T) {
	h := NewHub(HubOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	url := serve(t, h)

	bob, _ := dial(t, url, "bob")
	require.Eventually(t, func() bool { return h.Members() == 1 }, waitFor, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	select {
	case <-bob.Done():
	case <-time.After(waitFor):
		t.Fatal("client did not notice shutdown")
	}
}

// memBroker links hubs in-process the way Redis Pub/Sub links nodes.
type memBroker struct {
	mu   sync.Mutex
	subs []chan Envelope
}

func (b *memBroker) Publish(_ context.Context, env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s <- env
	}
	return nil
}

func (b *memBroker) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	ch := make(chan Envelope, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch, nil
}

func TestBrokerFansOutAcrossNodes(t *testing.T) {
	broker := &memBroker{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h1 := NewHub(HubOptions{Broker: broker})
	h2 := NewHub(HubOptions{Broker: broker})
	go func() { _ = h1.Run(ctx) }()
	go func() { _ = h2.Run(ctx) }()
	require.Eventually(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.subs) == 2
	}, waitFor, 5*time.Millisecond)

	alice, aliceIn := dial(t, serve(t, h1), "alice")
	carol, carolIn := dial(t, serve(t, h1), "carol")
	bob, bobIn := dial(t, serve(t, h2), "bob")
	for _, c := range []*Client{alice, bob, carol} {
		require.NoError(t, c.Join("call-9"))
	}
	joined(t, h1, "call-9", 2)
	joined(t, h2, "call-9", 1)

	require.NoError(t, alice.Send("call-9", &protocol.Message{Type: protocol.TypeEnd, CallID: "call-9", EndedBy: "alice"}))

	require.Eventually(t, func() bool { return len(bobIn.all()) == 1 && len(carolIn.all()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "alice", bobIn.all()[0].From)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, aliceIn.all(), "origin member is skipped on its own node")
}
