// Package notify maintains the out-of-band push channel: a long-lived
// WebSocket whose inbound messages are translated into cache-invalidation
// instructions. The channel is a latency optimization only; every failure is
// swallowed and the polling fallback remains the source of truth.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PushMessage is one inbound frame on the push channel.
type PushMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Sink receives the channel's lifecycle callbacks. It exists so dispatch
// logic is unit-testable without a real socket.
type Sink interface {
	OnOpen()
	OnMessage(msg PushMessage)
	OnError(err error)
}

// DefaultHeartbeat is the idle heartbeat interval while the channel is open.
const DefaultHeartbeat = 30 * time.Second

// Notifier owns one push connection. It only connects once a non-empty URL
// and token are available, sends the literal text "ping" at the heartbeat
// interval, and closes deterministically: after Close returns no timer or
// read goroutine survives.
type Notifier struct {
	url       string
	token     func() string
	sink      Sink
	heartbeat time.Duration
	dialer    *websocket.Dialer
	logger    zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
}

type Option func(*Notifier)

func WithHeartbeat(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.heartbeat = d
		}
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(n *Notifier) {
		if d != nil {
			n.dialer = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

func NewNotifier(url string, token func() string, sink Sink, opts ...Option) *Notifier {
	n := &Notifier{
		url:       url,
		token:     token,
		sink:      sink,
		heartbeat: DefaultHeartbeat,
		dialer:    websocket.DefaultDialer,
		logger:    log.With().Str("component", "notify").Logger(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Start opens the connection and begins the read loop and heartbeat. It is a
// no-op when the URL or token is not yet available, or when already running.
// Connection failures are reported to the sink and otherwise swallowed.
func (n *Notifier) Start(ctx context.Context) {
	if n == nil || n.url == "" {
		return
	}
	tok := ""
	if n.token != nil {
		tok = n.token()
	}
	if tok == "" {
		return
	}

	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)

	conn, _, err := n.dialer.DialContext(runCtx, n.url+"?token="+tok, nil)
	if err != nil {
		cancel()
		n.mu.Unlock()
		n.logger.Debug().Err(err).Str("url", n.url).Msg("push connect failed, relying on polling")
		if n.sink != nil {
			n.sink.OnError(errors.Wrap(err, "dial push channel"))
		}
		return
	}

	n.conn = conn
	n.cancel = cancel
	n.running = true
	n.done = make(chan struct{})
	done := n.done
	n.mu.Unlock()

	n.logger.Info().Str("url", n.url).Msg("push channel open")
	if n.sink != nil {
		n.sink.OnOpen()
	}

	go n.run(runCtx, conn, done)
}

func (n *Notifier) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer n.teardown(conn)

	hb := time.NewTicker(n.heartbeat)
	defer hb.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hb.C:
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				n.logger.Debug().Err(err).Msg("push channel closed, relying on polling")
				if n.sink != nil {
					n.sink.OnError(err)
				}
			}
			return
		}
		var msg PushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			n.logger.Debug().Err(err).Msg("discarding malformed push frame")
			continue
		}
		if n.sink != nil {
			n.sink.OnMessage(msg)
		}
	}
}

func (n *Notifier) teardown(conn *websocket.Conn) {
	_ = conn.Close()
	n.mu.Lock()
	if n.conn == conn {
		n.conn = nil
		n.running = false
		if n.cancel != nil {
			n.cancel()
			n.cancel = nil
		}
	}
	n.mu.Unlock()
}

// Connected reports whether the push channel is currently open.
func (n *Notifier) Connected() bool {
	if n == nil {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

// Close tears the connection down and waits for the read loop to exit.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	cancel := n.cancel
	conn := n.conn
	done := n.done
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}
