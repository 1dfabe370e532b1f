// Package signaling is the room-addressed WebSocket transport that carries
// call messages between endpoints: a Client for endpoints and a relaying Hub
// for the server side.
package signaling

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a peer may stay silent before it is dropped.
	pongWait = 60 * time.Second
	// pingInterval must be shorter than pongWait.
	pingInterval = pongWait * 9 / 10
	// maxFrame caps an inbound frame. SDP with many candidates fits easily.
	maxFrame = 64 << 10

	sendBuffer = 256
)

// UserParam is the query parameter that names the connecting user.
const UserParam = "user"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// connect dials rawURL as userID.
func connect(ctx context.Context, rawURL, userID string) (*websocket.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid signaling url: %w", err)
	}
	q := u.Query()
	q.Set(UserParam, userID)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to signaling server (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to signaling server: %w", err)
	}
	conn.SetReadLimit(maxFrame)
	return conn, nil
}
