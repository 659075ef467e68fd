package server

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/thinkerajay/event-streamer-service/errors"
)

// Envelope frames every message crossing the WebSocket in either
// direction: an event name plus a JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// session is one connected client. It is the session's outbound handle
// for the whole connection lifetime; the registry hands it to transforms
// that need to reach this client.
type session struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	closed  atomic.Bool
}

func newSession(conn *websocket.Conn, writeTimeout time.Duration) *session {
	return &session{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// Send delivers one outbound event frame. Writes to the shared connection
// are serialized; concurrent transforms may call Send at any time.
func (s *session) Send(eventName string, payload any) error {
	if s.closed.Load() {
		return errors.WrapTransient(errors.ErrUnknownClient, "session", "Send",
			"connection closed")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errors.WrapInvalid(err, "session", "Send", "marshal payload")
	}
	frame, err := json.Marshal(Envelope{Event: eventName, Data: data})
	if err != nil {
		return errors.WrapInvalid(err, "session", "Send", "marshal envelope")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errors.WrapTransient(err, "session", "Send", "write frame")
	}
	return nil
}

// close marks the session dead and closes the connection. Safe to call
// more than once.
func (s *session) close() {
	if s.closed.CompareAndSwap(false, true) {
		_ = s.conn.Close()
	}
}
