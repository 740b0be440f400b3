package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxdesk/voxdesk/internal/transport"
	"github.com/voxdesk/voxdesk/pkg/wire"
)

// wsURL converts an httptest server URL to a websocket address.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDial_ReceiveAndSend(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received := make(chan wire.Frame, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		data, _ := wire.Encode(wire.Frame{Type: wire.FrameTranscript, Speaker: "assistant", Text: "hi"})
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return
		}

		// Malformed payloads must be dropped, not delivered.
		conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		conn.Write(ctx, websocket.MessageText, []byte(`{"type":"weird"}`))

		_, inbound, err := conn.Read(ctx)
		if err != nil {
			return
		}
		f, err := wire.Decode(inbound)
		if err != nil {
			return
		}
		received <- f
		conn.Read(ctx)
	}))
	defer srv.Close()

	c, err := transport.Dial(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	select {
	case f := <-c.Frames():
		if f.Type != wire.FrameTranscript || f.Text != "hi" {
			t.Errorf("frame = %+v", f)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for inbound frame")
	}

	if err := c.Send(wire.Frame{Type: wire.FrameCommit}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case f := <-received:
		if f.Type != wire.FrameCommit {
			t.Errorf("server received %+v, want commit", f)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for server to receive frame")
	}
}

func TestClose_CleanAndIdempotent(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.Read(ctx)
		conn.CloseNow()
	}))
	defer srv.Close()

	c, err := transport.Dial(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	// The frame channel drains and closes, with no terminal error.
	for range c.Frames() {
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err after local close = %v, want nil", err)
	}

	if err := c.Send(wire.Frame{Type: wire.FramePing}); err == nil {
		t.Error("Send after Close should fail")
	}
}

func TestServerNormalClosure_NoError(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	c, err := transport.Dial(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	for range c.Frames() {
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err after server normal closure = %v, want nil", err)
	}
}

func TestServerAbnormalClose_ReportsError(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.Close(websocket.StatusInternalError, "backend exploded")
	}))
	defer srv.Close()

	c, err := transport.Dial(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	for range c.Frames() {
	}
	if err := c.Err(); err == nil {
		t.Error("Err after abnormal close should be non-nil")
	}
}

func TestDial_Failure(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := transport.Dial(ctx, wsURL(srv)); err == nil {
		t.Fatal("Dial should fail against a non-websocket endpoint")
	}
}
