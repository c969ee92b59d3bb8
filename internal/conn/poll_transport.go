package conn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/prolinq/internal/config"
)

// pollTransport implements Transport over HTTP long-polling for
// environments where the websocket upgrade is blocked. Inbound frames come
// from a held GET that the server answers when events are pending; outbound
// frames are POSTed. Consumers cannot tell it apart from the websocket.
type pollTransport struct {
	pollURL    string
	emitURL    string
	httpClient *http.Client
	frames     chan []byte
	cancel     context.CancelFunc
	closeOnce  sync.Once
	done       chan struct{}
}

// NewLongPollDialer returns a Dialer for the long-poll fallback transport.
// The endpoints are derived from the socket URL by swapping the scheme.
func NewLongPollDialer(cfg *config.SocketConfig) Dialer {
	base := strings.Replace(cfg.URL, "wss://", "https://", 1)
	base = strings.Replace(base, "ws://", "http://", 1)

	return func(ctx context.Context, userID int64) (Transport, error) {
		t := &pollTransport{
			pollURL:    fmt.Sprintf("%s/poll?user_id=%d", base, userID),
			emitURL:    fmt.Sprintf("%s/poll/emit?user_id=%d", base, userID),
			httpClient: &http.Client{Timeout: cfg.PongWait + 10*time.Second},
			frames:     make(chan []byte, 256),
			done:       make(chan struct{}),
		}

		// Probe once so dial failures surface the same way websocket dial
		// failures do.
		probeCtx, probeCancel := context.WithTimeout(ctx, 10*time.Second)
		defer probeCancel()
		if err := t.pollOnce(probeCtx); err != nil {
			return nil, fmt.Errorf("long-poll connect: %w", err)
		}

		loopCtx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		go t.pollLoop(loopCtx)

		return t, nil
	}
}

func (t *pollTransport) Name() string { return "long-poll" }

// pollOnce performs one held GET and queues any returned frames
func (t *pollTransport) pollOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.pollURL, nil)
	if err != nil {
		return err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("poll http status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var envelopes []json.RawMessage
	if err := json.Unmarshal(body, &envelopes); err != nil {
		return fmt.Errorf("poll body decode: %w", err)
	}

	for _, env := range envelopes {
		select {
		case t.frames <- []byte(env):
		case <-t.done:
			return ErrConnClosed
		}
	}
	return nil
}

func (t *pollTransport) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := t.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Debug("poll error: %v", err)
			t.Close()
			return
		}
	}
}

// ReadMessage blocks until the poll loop delivers one frame
func (t *pollTransport) ReadMessage() ([]byte, error) {
	select {
	case frame, ok := <-t.frames:
		if !ok {
			return nil, ErrConnClosed
		}
		return frame, nil
	case <-t.done:
		return nil, ErrConnClosed
	}
}

// WriteMessage POSTs one frame to the emit endpoint
func (t *pollTransport) WriteMessage(data []byte) error {
	select {
	case <-t.done:
		return ErrConnClosed
	default:
	}

	resp, err := t.httpClient.Post(t.emitURL, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("emit http status %d", resp.StatusCode)
	}
	return nil
}

// Close stops the poll loop. Idempotent.
func (t *pollTransport) Close() error {
	t.closeOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		close(t.done)
	})
	return nil
}
