package feed

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsReadTimeout      = 5 * time.Minute
	wsCloseGrace       = 250 * time.Millisecond
)

// wsTransport delivers push updates over a persistent WebSocket connection.
// The backend re-sends the full entry array as one text message on every
// change.
type wsTransport struct {
	url       string
	conn      *websocket.Conn
	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebSocketTransport returns a factory dialing the given ws:// or wss://
// URL.
func NewWebSocketTransport(url string) TransportFactory {
	return func() Transport {
		return &wsTransport{
			url:    url,
			closed: make(chan struct{}),
		}
	}
}

func (t *wsTransport) Open(ctx context.Context, onPayload func([]byte), onDown func(error)) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return &ConnError{Op: "open", Err: err}
	}
	t.conn = conn
	go t.readLoop(onPayload, onDown)
	return nil
}

func (t *wsTransport) readLoop(onPayload func([]byte), onDown func(error)) {
	for {
		t.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.closed:
				// Deliberate close, not a failure.
			default:
				onDown(&ConnError{Op: "read", Err: err})
			}
			return
		}
		onPayload(msg)
	}
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.conn == nil {
			return
		}
		// Best-effort close handshake before dropping the TCP connection.
		deadline := time.Now().Add(wsCloseGrace)
		if err := t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline); err != nil {
			log.Printf("feed: websocket close handshake: %v", err)
		}
		t.conn.Close()
	})
	return nil
}
