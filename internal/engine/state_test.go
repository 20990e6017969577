package engine

import "testing"

func TestCallStateStringCoversAllStates(t *testing.T) {
	seen := make(map[string]bool)
	for _, s := range AllCallStates() {
		name := s.String()
		if name == "" {
			t.Errorf("state %d has no name", int(s))
		}
		if seen[name] {
			t.Errorf("duplicate state name %q", name)
		}
		seen[name] = true
	}
	if len(seen) != int(callStateCount) {
		t.Errorf("got %d names, want %d", len(seen), callStateCount)
	}
	if got := CallState(99).String(); got != "Unknown(99)" {
		t.Errorf("String() = %q, want Unknown(99)", got)
	}
}

func TestRegistrationStateString(t *testing.T) {
	tests := []struct {
		state RegistrationState
		want  string
	}{
		{RegistrationNone, "Registration.None"},
		{RegistrationProgress, "Registration.Progress"},
		{RegistrationOk, "Registration.Ok"},
		{RegistrationCleared, "Registration.Cleared"},
		{RegistrationFailed, "Registration.Failed"},
		{RegistrationRefreshing, "Registration.Refreshing"},
		{RegistrationState(42), "Registration.Failed"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("RegistrationState(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestParseTransport(t *testing.T) {
	tests := []struct {
		in   string
		want Transport
	}{
		{"Tcp", TransportTCP},
		{"Tls", TransportTLS},
		{"Udp", TransportUDP},
		{"Ddp", TransportUDP},
		{"", TransportUDP},
	}
	for _, tt := range tests {
		if got := ParseTransport(tt.in); got != tt.want {
			t.Errorf("ParseTransport(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseAudioDeviceKind(t *testing.T) {
	for kind, name := range deviceKindNames {
		got, ok := ParseAudioDeviceKind(name)
		if !ok || got != kind {
			t.Errorf("ParseAudioDeviceKind(%q) = %v, %v; want %v", name, got, ok, kind)
		}
	}
	if _, ok := ParseAudioDeviceKind("Loudspeaker"); ok {
		t.Error("expected unknown kind name to be rejected")
	}
}

func TestParseCallStatus(t *testing.T) {
	for st := StatusSuccess; st <= StatusDeclinedElsewhere; st++ {
		if got := ParseCallStatus(st.String()); got != st {
			t.Errorf("ParseCallStatus(%q) = %v, want %v", st.String(), got, st)
		}
	}
}

func TestDeclineReasonSIPStatus(t *testing.T) {
	if code, _ := ReasonForbidden.SIPStatus(); code != 403 {
		t.Errorf("forbidden code = %d, want 403", code)
	}
	if code, _ := ReasonDeclined.SIPStatus(); code != 603 {
		t.Errorf("declined code = %d, want 603", code)
	}
}
