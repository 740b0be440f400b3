package audio

import (
	"math"
	"testing"
	"time"
)

func TestPCM16RoundTrip(t *testing.T) {
	in := []float32{0, 0.25, -0.25, 0.5, -0.5, 0.999, -0.999}

	out, err := DecodePCM16(EncodePCM16(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(out))
	}

	// 16-bit quantisation error bound: one step of 1/32768 plus rounding.
	const tolerance = 2.0 / 32768
	for i := range in {
		if diff := math.Abs(float64(out[i] - in[i])); diff > tolerance {
			t.Errorf("sample %d: got %f, want %f (diff %f)", i, out[i], in[i], diff)
		}
	}
}

func TestEncodePCM16_ClampsOutOfRange(t *testing.T) {
	out, err := DecodePCM16(EncodePCM16([]float32{2.5, -3.0}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0] < 0.99 {
		t.Errorf("expected positive overdrive clamped to full scale, got %f", out[0])
	}
	if out[1] > -0.99 {
		t.Errorf("expected negative overdrive clamped to full scale, got %f", out[1])
	}
}

func TestDecodePCM16_Malformed(t *testing.T) {
	t.Run("invalid base64", func(t *testing.T) {
		if _, err := DecodePCM16("not!!base64"); err == nil {
			t.Fatal("expected error for invalid base64")
		}
	})

	t.Run("odd byte count", func(t *testing.T) {
		// "AAAA" decodes to 3 bytes, which cannot hold int16 samples.
		if _, err := DecodePCM16("AAAA"); err == nil {
			t.Fatal("expected error for odd byte count")
		}
	})

	t.Run("even byte count ok", func(t *testing.T) {
		// "AAA=" decodes to 2 bytes: one zero sample.
		out, err := DecodePCM16("AAA=")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(out) != 1 || out[0] != 0 {
			t.Errorf("expected single zero sample, got %v", out)
		}
	})
}

func TestDuration(t *testing.T) {
	if d := Duration(24000, 24000); d != time.Second {
		t.Errorf("expected 1s for one second of samples, got %v", d)
	}
	if d := Duration(12000, 24000); d != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", d)
	}
	if d := Duration(100, 0); d != 0 {
		t.Errorf("expected 0 for invalid rate, got %v", d)
	}
}
