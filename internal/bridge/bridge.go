// Package bridge implements the edge transport relay: it accepts a
// client-side realtime websocket, opens a matching connection to the backend
// at the derived address, and pipes frames in both directions.
//
// Each relay is stateless and independent: it exists only for the duration
// of one proxied connection and holds nothing after both sides close. Frames
// received from the client before the backend connection finishes opening
// are queued and flushed in arrival order exactly once, never dropped and
// never replayed.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/voxdesk/voxdesk/internal/observe"
	"github.com/voxdesk/voxdesk/internal/resilience"
	"github.com/voxdesk/voxdesk/pkg/wire"
)

// DefaultDialTimeout bounds the upstream websocket handshake.
const DefaultDialTimeout = 10 * time.Second

// pumpBuffer is the per-direction message channel capacity.
const pumpBuffer = 32

// Config configures a relay [Handler].
type Config struct {
	// BackendBase is the backend base URL; the upstream realtime address is
	// derived from it per session.
	BackendBase string

	// DialTimeout bounds the upstream handshake. Default 10 s.
	DialTimeout time.Duration

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Handler relays realtime connections. Register it at
// "GET /realtime/voice/{sessionID}".
type Handler struct {
	backendBase string
	dialTimeout time.Duration
	metrics     *observe.Metrics
	breaker     *resilience.Breaker
}

// New creates a relay handler.
func New(cfg Config) *Handler {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Handler{
		backendBase: cfg.BackendBase,
		dialTimeout: cfg.DialTimeout,
		metrics:     m,
		breaker:     resilience.NewBreaker(resilience.BreakerConfig{Name: "backend-dial"}),
	}
}

// ServeHTTP upgrades the request and runs the relay until either side
// closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	upstreamURL, err := wire.DeriveURL(h.backendBase, sessionID)
	if err != nil {
		slog.Error("bridge: bad backend base", "err", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	client, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written the HTTP error.
		slog.Debug("bridge: accept failed", "session_id", sessionID, "err", err)
		return
	}

	h.relay(r.Context(), sessionID, client, upstreamURL)
}

// message is one websocket message in flight through the relay.
type message struct {
	typ  websocket.MessageType
	data []byte
}

// pump reads one websocket until it ends. The terminal error is written
// before msgs closes, so a reader that has drained msgs may read err without
// further synchronisation.
type pump struct {
	msgs chan message
	err  error
}

func startPump(ctx context.Context, conn *websocket.Conn) *pump {
	p := &pump{msgs: make(chan message, pumpBuffer)}
	go func() {
		defer close(p.msgs)
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				p.err = err
				return
			}
			select {
			case p.msgs <- message{typ: typ, data: data}:
			case <-ctx.Done():
				p.err = ctx.Err()
				return
			}
		}
	}()
	return p
}

// relay opens the upstream leg, flushes queued client frames, then pipes
// both directions until one side ends.
func (h *Handler) relay(ctx context.Context, sessionID string, client *websocket.Conn, upstreamURL string) {
	log := slog.With("session_id", sessionID)

	clientPump := startPump(ctx, client)

	// Dial the backend while continuing to read (and queue) client frames.
	type dialResult struct {
		conn *websocket.Conn
		err  error
	}
	dialCtx, cancelDial := context.WithTimeout(ctx, h.dialTimeout)
	defer cancelDial()
	dialCh := make(chan dialResult, 1)
	go func() {
		var conn *websocket.Conn
		err := h.breaker.Do(func() error {
			c, resp, err := websocket.Dial(dialCtx, upstreamURL, nil)
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			conn = c
			return err
		})
		dialCh <- dialResult{conn: conn, err: err}
	}()

	var (
		upstream *websocket.Conn
		pending  []message
	)
	for upstream == nil {
		select {
		case res := <-dialCh:
			if res.err != nil {
				log.Warn("bridge: upstream dial failed", "err", res.err)
				client.Close(websocket.StatusBadGateway, "upstream connect failed")
				return
			}
			upstream = res.conn

		case m, ok := <-clientPump.msgs:
			if !ok {
				// Client went away mid-handshake. Abort the dial and, if it
				// already succeeded, propagate the client's close status.
				cancelDial()
				if res := <-dialCh; res.err == nil && res.conn != nil {
					code, reason := closeInfo(clientPump.err)
					res.conn.Close(code, reason)
				}
				return
			}
			pending = append(pending, m)

		case <-ctx.Done():
			client.Close(websocket.StatusGoingAway, "relay shutting down")
			cancelDial()
			if res := <-dialCh; res.err == nil && res.conn != nil {
				res.conn.Close(websocket.StatusGoingAway, "relay shutting down")
			}
			return
		}
	}
	defer upstream.CloseNow()
	defer client.CloseNow()

	// Flush the queue in arrival order, exactly once.
	for _, m := range pending {
		if err := upstream.Write(ctx, m.typ, m.data); err != nil {
			log.Warn("bridge: queue flush failed", "err", err)
			client.Close(websocket.StatusInternalError, "relay: upstream send failed")
			return
		}
		h.metrics.RecordRelayFrame(ctx, "inbound")
	}
	h.metrics.RecordRelayQueueFlush(ctx, len(pending))
	log.Info("bridge: relay established", "queued", len(pending))
	pending = nil

	upstreamPump := startPump(ctx, upstream)

	for {
		select {
		case m, ok := <-clientPump.msgs:
			if !ok {
				code, reason := closeInfo(clientPump.err)
				upstream.Close(code, reason)
				log.Info("bridge: client closed", "code", code, "reason", reason)
				return
			}
			if err := upstream.Write(ctx, m.typ, m.data); err != nil {
				client.Close(websocket.StatusInternalError, "relay: upstream send failed")
				return
			}
			h.metrics.RecordRelayFrame(ctx, "inbound")

		case m, ok := <-upstreamPump.msgs:
			if !ok {
				code, reason := closeInfo(upstreamPump.err)
				client.Close(code, reason)
				log.Info("bridge: upstream closed", "code", code, "reason", reason)
				return
			}
			if err := client.Write(ctx, m.typ, m.data); err != nil {
				upstream.Close(websocket.StatusInternalError, "relay: client send failed")
				return
			}
			h.metrics.RecordRelayFrame(ctx, "outbound")

		case <-ctx.Done():
			client.Close(websocket.StatusGoingAway, "relay shutting down")
			upstream.Close(websocket.StatusGoingAway, "relay shutting down")
			return
		}
	}
}

// closeInfo extracts the status code and reason from a terminal read error
// so the peer can be closed with the same code. Abnormal terminations map
// to an internal-error status.
func closeInfo(err error) (websocket.StatusCode, string) {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	return websocket.StatusInternalError, "abnormal closure"
}
