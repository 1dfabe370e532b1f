package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/protocol"
)

// sender serializes outgoing frames to one WebSocket.
type sender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// write sends one text frame, guarded by a mutex.
func (s *sender) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// send encodes and writes msg.
func (s *sender) send(msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.write(data)
}

// sendControl writes a join or leave frame for room.
func (s *sender) sendControl(typ protocol.Type, room string) error {
	return s.send(&protocol.Message{Type: typ, Room: room})
}

// close sends a normal-closure frame. Errors are irrelevant at this point.
func (s *sender) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}
