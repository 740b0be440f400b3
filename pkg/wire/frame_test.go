package wire

import (
	"strings"
	"testing"
)

func TestDecode(t *testing.T) {
	t.Run("audio frame", func(t *testing.T) {
		f, err := Decode([]byte(`{"type":"audio","audio":"AAAA"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.Type != FrameAudio {
			t.Errorf("expected audio type, got %q", f.Type)
		}
		if f.Audio != "AAAA" {
			t.Errorf("expected audio payload preserved, got %q", f.Audio)
		}
	})

	t.Run("transcript frame", func(t *testing.T) {
		f, err := Decode([]byte(`{"type":"transcript","speaker":"assistant","text":"hello"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.Speaker != "assistant" || f.Text != "hello" {
			t.Errorf("transcript fields not preserved: %+v", f)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		if _, err := Decode([]byte(`{not json`)); err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"telemetry"}`))
		if err == nil {
			t.Fatal("expected error for unknown frame type")
		}
		if !strings.Contains(err.Error(), "telemetry") {
			t.Errorf("error should name the offending type, got %v", err)
		}
	})
}

func TestErrorPayload_BothForms(t *testing.T) {
	t.Run("bare string", func(t *testing.T) {
		f, err := Decode([]byte(`{"type":"error","error":"backend overloaded"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.Error == nil || f.Error.Message != "backend overloaded" {
			t.Errorf("expected message from string form, got %+v", f.Error)
		}
	})

	t.Run("object form", func(t *testing.T) {
		f, err := Decode([]byte(`{"type":"error","error":{"message":"no capacity"}}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.Error == nil || f.Error.Message != "no capacity" {
			t.Errorf("expected message from object form, got %+v", f.Error)
		}
	})
}

func TestEncode_PingRoundTrip(t *testing.T) {
	data, err := Encode(Frame{Type: FramePing, ClientSentAt: 1700000000123})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, err := Decode(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != FramePing {
		t.Errorf("expected ping, got %q", f.Type)
	}
	if f.ClientSentAt != 1700000000123 {
		t.Errorf("client_sent_at not preserved: %d", f.ClientSentAt)
	}
}

func TestEncode_ControlFramesHaveNoPayload(t *testing.T) {
	for _, typ := range []FrameType{FrameCommit, FrameInterrupt, FrameEndSession} {
		data, err := Encode(Frame{Type: typ})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := `{"type":"` + string(typ) + `"}`
		if string(data) != want {
			t.Errorf("expected %s, got %s", want, data)
		}
	}
}

func TestDeriveURL(t *testing.T) {
	tests := []struct {
		name      string
		base      string
		sessionID string
		want      string
		wantErr   bool
	}{
		{name: "http to ws", base: "http://backend.local:8080", sessionID: "abc", want: "ws://backend.local:8080/realtime/voice/abc"},
		{name: "https to wss", base: "https://api.example.com", sessionID: "s-1", want: "wss://api.example.com/realtime/voice/s-1"},
		{name: "ws passthrough", base: "ws://backend.local", sessionID: "x", want: "ws://backend.local/realtime/voice/x"},
		{name: "base path preserved", base: "https://api.example.com/v2", sessionID: "x", want: "wss://api.example.com/v2/realtime/voice/x"},
		{name: "empty session id", base: "https://api.example.com", sessionID: "", wantErr: true},
		{name: "unsupported scheme", base: "ftp://api.example.com", sessionID: "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveURL(tt.base, tt.sessionID)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
