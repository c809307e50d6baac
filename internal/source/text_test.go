package source

import (
	"strings"
	"testing"
)

func TestTextDecoder_SplitRune(t *testing.T) {
	dec := newTextDecoder()
	raw := []byte("{\"unit\":\"°C\"}\r\n")
	deg := strings.Index(string(raw), "°")

	first := dec.decode(raw[:deg+1])
	if strings.ContainsRune(first, '�') {
		t.Fatalf("split rune decoded as replacement: %q", first)
	}
	if got := first + dec.decode(raw[deg+1:]); got != string(raw) {
		t.Errorf("got %q, want %q", got, raw)
	}
}

func TestTextDecoder_InvalidBytes(t *testing.T) {
	dec := newTextDecoder()
	got := dec.decode([]byte{'{', 0xff, '}', '\r', '\n'})
	if got != "{�}\r\n" {
		t.Errorf("got %q", got)
	}
}

func TestTextDecoder_Reset(t *testing.T) {
	dec := newTextDecoder()
	euro := []byte("€")
	if got := dec.decode(euro[:1]); got != "" {
		t.Fatalf("expected incomplete rune to be held back, got %q", got)
	}
	dec.reset()
	if got := dec.decode([]byte("ok")); got != "ok" {
		t.Errorf("held-back bytes survived reset: %q", got)
	}
}
