package signaling

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/protocol"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/util"
)

// receiver reads frames from one WebSocket and hands decoded messages on.
type receiver struct {
	conn    *websocket.Conn
	deliver func(*protocol.Message)
}

// watch blocks until the connection fails. Malformed frames are dropped. A
// normal closure returns nil.
func (r *receiver) watch() error {
	_ = r.conn.SetReadDeadline(time.Now().Add(pongWait))
	r.conn.SetPingHandler(func(data string) error {
		_ = r.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := r.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("failed to read signaling frame: %w", err)
		}
		_ = r.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.Decode(data)
		if err != nil {
			util.LogWarning("signaling: %v", err)
			continue
		}
		r.deliver(msg)
	}
}
