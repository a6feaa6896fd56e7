package broadcast

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/benchcnc/cncrouter/machine"
)

// writeDeadline bounds how long a single snapshot send may take before a
// stalled client is treated as a send failure and unregistered.
const writeDeadline = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// upgrades are accepted from any origin; neither this package nor
	// httpapi checks the Origin header
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSSubscriber adapts a gorilla/websocket connection to the Subscriber
// interface.
type WSSubscriber struct {
	conn *websocket.Conn
}

// Upgrade upgrades an HTTP request to a websocket connection and wraps it
// as a Subscriber. The caller is responsible for registering and, on
// handler return, unregistering it.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WSSubscriber, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &WSSubscriber{conn: conn}, nil
}

// Send writes state as a JSON text frame, bounded by writeDeadline.
func (s *WSSubscriber) Send(state machine.State) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return s.conn.WriteJSON(state)
}

// Close closes the underlying connection.
func (s *WSSubscriber) Close() error {
	return s.conn.Close()
}

// ReadMessage blocks until the client sends a frame or the connection
// closes. The handler that owns this subscriber uses it only to detect
// disconnects; inbound frames carry no protocol meaning.
func (s *WSSubscriber) ReadMessage() (int, []byte, error) {
	return s.conn.ReadMessage()
}
