package conn

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/prolinq/internal/config"
)

// wsTransport implements Transport over gorilla/websocket with a single
// writer goroutine and ping/pong keepalive.
type wsTransport struct {
	conn       *websocket.Conn
	writeChan  chan []byte
	writeMu    sync.Mutex
	closeOnce  sync.Once
	closed     bool
	closeChan  chan struct{}
	pingPeriod time.Duration
	pongWait   time.Duration
	writeWait  time.Duration
}

// NewWebSocketDialer returns a Dialer that opens a websocket authenticated
// with the user's id as a query parameter.
func NewWebSocketDialer(cfg *config.SocketConfig) Dialer {
	return func(ctx context.Context, userID int64) (Transport, error) {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid socket url: %w", err)
		}
		q := u.Query()
		q.Set("user_id", fmt.Sprintf("%d", userID))
		u.RawQuery = q.Encode()

		wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("websocket dial: %w", err)
		}

		return newWSTransport(wsConn, cfg), nil
	}
}

func newWSTransport(wsConn *websocket.Conn, cfg *config.SocketConfig) *wsTransport {
	t := &wsTransport{
		conn:       wsConn,
		writeChan:  make(chan []byte, 256),
		closeChan:  make(chan struct{}),
		pingPeriod: cfg.PingPeriod,
		pongWait:   cfg.PongWait,
		writeWait:  cfg.WriteWait,
	}

	wsConn.SetReadLimit(cfg.MaxMessageSize)
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(t.pongWait))
		return nil
	})

	go t.writeLoop()

	return t
}

func (t *wsTransport) Name() string { return "websocket" }

// writeLoop handles all writes to the connection (single writer pattern)
func (t *wsTransport) writeLoop() {
	ticker := time.NewTicker(t.pingPeriod)
	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()

	for {
		select {
		case message, ok := <-t.writeChan:
			t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if !ok {
				t.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := t.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn("write message error: %v", err)
				return
			}

		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("ping error: %v", err)
				return
			}

		case <-t.closeChan:
			return
		}
	}
}

// ReadMessage reads one frame from the connection
func (t *wsTransport) ReadMessage() ([]byte, error) {
	t.conn.SetReadDeadline(time.Now().Add(t.pongWait))
	_, message, err := t.conn.ReadMessage()
	return message, err
}

// WriteMessage queues one frame to be written
func (t *wsTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closed {
		return ErrConnClosed
	}

	select {
	case t.writeChan <- data:
		return nil
	default:
		// Channel full, connection is a slow consumer
		return ErrWriteChannelFull
	}
}

// Close closes the transport
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		t.closed = true
		close(t.writeChan)
		t.writeMu.Unlock()

		close(t.closeChan)
	})
	return nil
}
