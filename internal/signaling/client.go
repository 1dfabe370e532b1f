package signaling

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/protocol"
)

// ErrClientClosed is returned by writes after Close.
var ErrClientClosed = errors.New("signaling client closed")

// Client is an endpoint's connection to the hub. It satisfies call.Signaler.
type Client struct {
	user string
	conn *websocket.Conn
	s    *sender

	listenOnce sync.Once
	closeOnce  sync.Once
	done       chan struct{}

	mu     sync.Mutex
	closed bool
	rooms  map[string]struct{}
	err    error
}

// Dial connects to the hub at url as userID. Call Listen to start receiving.
func Dial(ctx context.Context, url, userID string) (*Client, error) {
	if userID == "" {
		return nil, errors.New("signaling: user id is required")
	}
	conn, err := connect(ctx, url, userID)
	if err != nil {
		return nil, err
	}
	return &Client{
		user:  userID,
		conn:  conn,
		s:     &sender{conn: conn},
		done:  make(chan struct{}),
		rooms: make(map[string]struct{}),
	}, nil
}

// Listen starts the read loop, handing every inbound message to deliver.
// Only the first call has an effect.
func (c *Client) Listen(deliver func(*protocol.Message)) {
	c.listenOnce.Do(func() {
		r := &receiver{conn: c.conn, deliver: deliver}
		go func() {
			err := r.watch()
			c.mu.Lock()
			if !c.closed {
				c.err = err
			}
			c.mu.Unlock()
			c.shutdown()
		}()
	})
}

// Join subscribes to room.
func (c *Client) Join(room string) error {
	if err := c.check(); err != nil {
		return err
	}
	if err := c.s.sendControl(protocol.TypeJoin, room); err != nil {
		return err
	}
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Leave unsubscribes from room.
func (c *Client) Leave(room string) error {
	if err := c.check(); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
	return c.s.sendControl(protocol.TypeLeave, room)
}

// Send publishes msg to room. msg itself is not modified.
func (c *Client) Send(room string, msg *protocol.Message) error {
	if err := c.check(); err != nil {
		return err
	}
	out := *msg
	out.Room = room
	return c.s.send(&out)
}

// Rooms returns the rooms currently joined.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the connection dropped, or nil after Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a closure frame and closes the connection. Safe to call
// multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.s.close()
	c.shutdown()
	return nil
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		close(c.done)
	})
}

func (c *Client) check() error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}
