package sipua

import (
	"testing"
	"time"
)

func TestParseContactExpires(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"<sip:1000@10.0.0.5:5070>;expires=3600", 3600},
		{"<sip:1000@10.0.0.5:5070>;Expires=120;q=0.5", 120},
		{"<sip:1000@10.0.0.5:5070>", 0},
		{"<sip:1000@10.0.0.5:5070>;expires=abc", 0},
	}
	for _, tt := range tests {
		if got := parseContactExpires(tt.value); got != tt.want {
			t.Errorf("parseContactExpires(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestParseExpiresHeader(t *testing.T) {
	if got := parseExpiresHeader(" 300 "); got != 300 {
		t.Errorf("got %d, want 300", got)
	}
	if got := parseExpiresHeader("never"); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestBackoff(t *testing.T) {
	b := newBackoff()

	first := b.next()
	if first < 4*time.Second || first > 6*time.Second {
		t.Errorf("first delay = %s, want about 5s", first)
	}
	second := b.next()
	if second < 8*time.Second || second > 12*time.Second {
		t.Errorf("second delay = %s, want about 10s", second)
	}

	for i := 0; i < 20; i++ {
		b.next()
	}
	if d := b.current(); d > 6*time.Minute {
		t.Errorf("delay = %s, want capped near 5m", d)
	}

	b.reset()
	if b.attempt != 0 {
		t.Errorf("attempt = %d after reset", b.attempt)
	}
}

func TestAccountURIs(t *testing.T) {
	a := &account{}
	a.Username = "1000"
	a.Domain = "pbx.example.com"
	a.Port = 5080
	if got := a.registrarURI(); got != "sip:pbx.example.com:5080" {
		t.Errorf("registrarURI = %q", got)
	}
	if got := a.aor(); got != "sip:1000@pbx.example.com" {
		t.Errorf("aor = %q", got)
	}
}
