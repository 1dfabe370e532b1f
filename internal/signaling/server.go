package signaling

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/protocol"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/util"
)

// HubOptions configure a Hub.
type HubOptions struct {
	// MaxConns caps concurrent connections. Zero means 1000.
	MaxConns int
	// Broker fans relayed messages out to other hub nodes. Nil keeps the
	// hub single-node.
	Broker Broker
}

// Hub relays messages between connected users by room. Every frame sent to
// a room reaches all of its other members, stamped with the sender's id.
type Hub struct {
	node   string
	broker Broker
	sem    chan struct{}
	nextID atomic.Uint64

	mu      sync.RWMutex
	rooms   map[string]map[*member]struct{}
	members map[uint64]*member
}

// member is one upgraded connection.
type member struct {
	id   uint64
	user string
	conn *websocket.Conn
	send chan []byte

	once sync.Once
	done chan struct{}

	// Guarded by Hub.mu.
	rooms map[string]struct{}
}

func (m *member) stop() {
	m.once.Do(func() { close(m.done) })
}

// NewHub creates a Hub. Call Run when a Broker is configured.
func NewHub(opts HubOptions) *Hub {
	if opts.MaxConns <= 0 {
		opts.MaxConns = 1000
	}
	return &Hub{
		node:    uuid.NewString(),
		broker:  opts.Broker,
		sem:     make(chan struct{}, opts.MaxConns),
		rooms:   make(map[string]map[*member]struct{}),
		members: make(map[uint64]*member),
	}
}

// Run consumes the broker until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()
	if h.broker == nil {
		<-ctx.Done()
		return nil
	}

	ch, err := h.broker.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			var except uint64
			if env.Node == h.node {
				except = env.Origin
			}
			h.deliver(env.Room, env.Data, except)
		}
	}
}

// ServeHTTP upgrades the request and serves the connection until it drops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get(UserParam)
	if user == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}

	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		connectionsRejected.Inc()
		util.LogWarning("signaling: rejecting %s, at capacity (%d)", user, cap(h.sem))
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("signaling: upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxFrame)

	m := &member{
		id:    h.nextID.Add(1),
		user:  user,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
		rooms: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.members[m.id] = m
	h.mu.Unlock()
	connectionsActive.Inc()
	util.LogDebug("signaling: %s connected", user)

	go h.writePump(m)
	h.readPump(r.Context(), m)

	h.remove(m)
	connectionsActive.Dec()
	util.LogDebug("signaling: %s disconnected", user)
}

// Members returns the number of connections currently served.
func (h *Hub) Members() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// RoomSize returns the number of members in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) readPump(ctx context.Context, m *member) {
	defer m.stop()

	_ = m.conn.SetReadDeadline(time.Now().Add(pongWait))
	m.conn.SetPongHandler(func(string) error {
		return m.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := m.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogDebug("signaling: %s read: %v", m.user, err)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			messagesDropped.WithLabelValues("invalid").Inc()
			util.LogWarning("signaling: from %s: %v", m.user, err)
			continue
		}

		switch msg.Type {
		case protocol.TypeJoin:
			h.join(m, msg.Room)
		case protocol.TypeLeave:
			h.leave(m, msg.Room)
		default:
			if msg.Room == "" {
				messagesDropped.WithLabelValues("no_room").Inc()
				continue
			}
			msg.From = m.user
			out, err := protocol.Encode(msg)
			if err != nil {
				continue
			}
			messagesRelayed.WithLabelValues(string(msg.Type)).Inc()
			h.publish(ctx, msg.Room, out, m.id)
		}
	}
}

func (h *Hub) writePump(m *member) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = m.conn.Close()
	}()

	for {
		select {
		case data := <-m.send:
			_ = m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				m.stop()
				return
			}
		case <-ticker.C:
			_ = m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := m.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.stop()
				return
			}
		case <-m.done:
			_ = m.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// publish hands data to the broker, or straight to local members when
// single-node or when the broker is unreachable.
func (h *Hub) publish(ctx context.Context, room string, data []byte, origin uint64) {
	if h.broker != nil {
		err := h.broker.Publish(ctx, Envelope{Node: h.node, Origin: origin, Room: room, Data: data})
		if err == nil {
			return
		}
		util.LogWarning("signaling: broker publish failed, delivering locally: %v", err)
	}
	h.deliver(room, data, origin)
}

// deliver queues data for every local member of room except the one with id
// except. A member whose queue is full is disconnected.
func (h *Hub) deliver(room string, data []byte, except uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for m := range h.rooms[room] {
		if m.id == except {
			continue
		}
		select {
		case m.send <- data:
		default:
			messagesDropped.WithLabelValues("slow_consumer").Inc()
			util.LogWarning("signaling: dropping slow member %s", m.user)
			m.stop()
		}
	}
}

func (h *Hub) join(m *member, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*member]struct{})
		h.rooms[room] = members
		roomsActive.Inc()
	}
	members[m] = struct{}{}
	m.rooms[room] = struct{}{}
}

func (h *Hub) leave(m *member, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(m, room)
}

func (h *Hub) leaveLocked(m *member, room string) {
	delete(m.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, m)
	if len(members) == 0 {
		delete(h.rooms, room)
		roomsActive.Dec()
	}
}

func (h *Hub) remove(m *member) {
	m.stop()
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range m.rooms {
		h.leaveLocked(m, room)
	}
	delete(h.members, m.id)
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, m := range h.members {
		m.stop()
	}
}
