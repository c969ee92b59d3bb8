package conn

import (
	"context"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/prolinq/internal/bus"
	"github.com/mbeoliero/prolinq/internal/config"
	"github.com/mbeoliero/prolinq/pkg/errcode"
)

// State represents the transport state of the single realtime connection
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Manager owns the one realtime connection of an authenticated session.
// Nothing else in the process may open a second one; consumers observe
// events through the bus and send typing indicators through EmitTyping.
//
// Reconnect policy: a fixed delay and a small attempt cap, after which the
// manager stays in a terminal disconnected state until Connect is called
// again. The cap is deliberate; it gives the user a clear "disconnected"
// signal instead of an endless silent retry.
type Manager struct {
	cfg     *config.SocketConfig
	bus     *bus.Bus
	dialers []Dialer

	mu        sync.Mutex
	state     State
	transport Transport
	userID    int64
	failures  int
	gen       int
	closing   bool
}

// NewManager creates a Manager. With no explicit dialers it prefers the
// websocket transport and falls back to long-polling.
func NewManager(cfg *config.SocketConfig, b *bus.Bus, dialers ...Dialer) *Manager {
	if len(dialers) == 0 {
		dialers = []Dialer{NewWebSocketDialer(cfg), NewLongPollDialer(cfg)}
	}
	return &Manager{
		cfg:     cfg,
		bus:     b,
		dialers: dialers,
		state:   StateDisconnected,
	}
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the connection for the given user. A call while connected
// or connecting is a no-op. A manual call after the retry cap was reached
// resets the failure counter and starts over.
func (m *Manager) Connect(ctx context.Context, userID int64) error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting || m.state == StateReconnecting {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.userID = userID
	m.failures = 0
	m.closing = false
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.run(ctx, gen, userID)
	return nil
}

// Disconnect tears the connection down. Idempotent; used on logout and
// unmount.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closing = true
	m.gen++
	t := m.transport
	m.transport = nil
	wasDisconnected := m.state == StateDisconnected
	m.state = StateDisconnected
	m.mu.Unlock()

	if t != nil {
		t.Close()
	}
	if !wasDisconnected {
		m.bus.Publish(bus.EventDisconnected, "client disconnect")
	}
}

// EmitTyping sends a typing indicator to a counterpart. This is the only
// outbound path on the socket; everything else goes over REST.
func (m *Manager) EmitTyping(receiverID int64, isTyping bool) error {
	m.mu.Lock()
	t := m.transport
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || t == nil {
		return errcode.ErrNotConnected
	}

	frame, err := Encode(string(bus.EventTyping), &TypingPayload{
		ReceiverID: receiverID,
		IsTyping:   isTyping,
	})
	if err != nil {
		return errcode.ErrInternal.Wrap(err)
	}
	return t.WriteMessage(frame)
}

// run drives connect, read, and reconnect for one connection generation
func (m *Manager) run(ctx context.Context, gen int, userID int64) {
	for {
		if m.stale(gen) {
			return
		}

		t, err := m.dial(ctx, userID)
		if err != nil {
			if !m.recordFailure(gen, err) {
				return
			}
			continue
		}

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			t.Close()
			return
		}
		m.transport = t
		m.state = StateConnected
		m.failures = 0
		m.mu.Unlock()

		log.CtxInfo(ctx, "socket connected: user_id=%d, transport=%s", userID, t.Name())
		m.bus.Publish(bus.EventConnected, t.Name())

		reason := m.readLoop(gen, t)
		if m.stale(gen) {
			return
		}

		m.mu.Lock()
		m.transport = nil
		m.state = StateReconnecting
		m.mu.Unlock()

		log.CtxWarn(ctx, "socket dropped: user_id=%d, reason=%v", userID, reason)
		m.bus.Publish(bus.EventDisconnected, reason.Error())
	}
}

// dial tries each transport in preference order
func (m *Manager) dial(ctx context.Context, userID int64) (Transport, error) {
	var lastErr error
	for _, d := range m.dialers {
		t, err := d(ctx, userID)
		if err == nil {
			return t, nil
		}
		lastErr = err
		log.CtxDebug(ctx, "transport dial failed: %v", err)
	}
	if lastErr == nil {
		lastErr = errcode.ErrNoTransport
	}
	return nil, lastErr
}

// readLoop pumps inbound frames into the bus until the transport fails
func (m *Manager) readLoop(gen int, t Transport) error {
	for {
		frame, err := t.ReadMessage()
		if err != nil {
			t.Close()
			return err
		}

		if m.stale(gen) {
			t.Close()
			return ErrConnClosed
		}

		if err := decodeAndPublish(m.bus, frame); err != nil {
			// Malformed or unknown frames are dropped, never fatal
			log.Debug("inbound frame dropped: %v", err)
		}
	}
}

// recordFailure counts one failed connection attempt. Returns false when
// the cap is reached and the manager goes terminal.
func (m *Manager) recordFailure(gen int, err error) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	m.failures++
	failures := m.failures
	if failures >= m.cfg.ReconnectAttempts {
		m.state = StateDisconnected
		m.mu.Unlock()
		log.Warn("reconnect attempts exhausted after %d failures: %v", failures, err)
		m.bus.Publish(bus.EventDisconnected, errcode.ErrRetriesExhausted.Error())
		return false
	}
	m.state = StateReconnecting
	m.mu.Unlock()

	m.bus.Publish(bus.EventReconnecting, failures)
	time.Sleep(m.cfg.ReconnectDelay)
	return !m.stale(gen)
}

func (m *Manager) stale(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen != gen || m.closing
}
