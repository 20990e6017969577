package sipua

import (
	"testing"
	"time"
)

func TestDTMFRelayBody(t *testing.T) {
	body, err := dtmfRelayBody('5', 0)
	if err != nil {
		t.Fatalf("dtmfRelayBody: %v", err)
	}
	if string(body) != "Signal=5\r\nDuration=160\r\n" {
		t.Errorf("body = %q", body)
	}

	body, err = dtmfRelayBody('a', 250*time.Millisecond)
	if err != nil {
		t.Fatalf("dtmfRelayBody: %v", err)
	}
	if string(body) != "Signal=A\r\nDuration=250\r\n" {
		t.Errorf("body = %q", body)
	}

	if _, err := dtmfRelayBody('x', 0); err == nil {
		t.Error("expected error for invalid digit")
	}
}

func TestParseDTMFInfo(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        rune
		wantErr     bool
	}{
		{"relay", "application/dtmf-relay", "Signal=5\r\nDuration=160\r\n", '5', false},
		{"relay with charset", "application/dtmf-relay; charset=utf-8", "Signal=#\r\n", '#', false},
		{"plain", "application/dtmf", "*", '*', false},
		{"lowercase", "application/dtmf", "b", 'B', false},
		{"unsupported type", "text/plain", "5", 0, true},
		{"invalid signal", "application/dtmf-relay", "Signal=X\r\n", 0, true},
		{"missing signal", "application/dtmf-relay", "Duration=100\r\n", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDTMFInfo(tt.contentType, []byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDTMFEventCode(t *testing.T) {
	tests := map[rune]uint8{'0': 0, '9': 9, '*': 10, '#': 11, 'A': 12, 'd': 15}
	for r, want := range tests {
		got, ok := dtmfEventCode(r)
		if !ok || got != want {
			t.Errorf("dtmfEventCode(%q) = %d, %v; want %d", r, got, ok, want)
		}
	}
	if _, ok := dtmfEventCode('E'); ok {
		t.Error("expected E to be rejected")
	}
}
