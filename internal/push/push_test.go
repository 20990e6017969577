package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseVoIPPayload(t *testing.T) {
	data := []byte(`{"aps":{"alert":{"incoming_caller_id":"2002","incoming_caller_name":" Alice ","uuid":"5f1c"}}}`)
	alert, err := ParseVoIPPayload(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert.CallerID != "2002" {
		t.Errorf("CallerID = %q, want 2002", alert.CallerID)
	}
	if alert.CallerName != "Alice" {
		t.Errorf("CallerName = %q, want Alice", alert.CallerName)
	}
	if alert.UUID != "5f1c" {
		t.Errorf("UUID = %q, want 5f1c", alert.UUID)
	}
}

func TestParseVoIPPayloadRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `aps`},
		{"no alert", `{"aps":{"badge":1}}`},
		{"empty alert", `{"aps":{"alert":{"incoming_caller_name":"Bob"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseVoIPPayload([]byte(tt.data)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
	if _, err := ParseVoIPPayload([]byte(`{}`)); !errors.Is(err, ErrNotIncomingCall) {
		t.Errorf("empty payload err = %v, want ErrNotIncomingCall", err)
	}
}

func TestRegisterPushToken_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/v1/app/push-token" {
			t.Errorf("expected path /api/v1/app/push-token, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer app-token" {
			t.Errorf("expected bearer app-token, got %q", r.Header.Get("Authorization"))
		}

		var req TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.PushToken != "device-token" {
			t.Errorf("expected push_token %q, got %q", "device-token", req.PushToken)
		}
		if req.PushPlatform != "apns" {
			t.Errorf("expected push_platform apns, got %q", req.PushPlatform)
		}
		if req.DeviceID != "phone-1" {
			t.Errorf("expected device_id phone-1, got %q", req.DeviceID)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(envelope{Data: json.RawMessage(`{"ok":true}`)})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "app-token", "phone-1")
	if err := client.RegisterPushToken(context.Background(), "device-token", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegisterPushToken_PBXError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(envelope{Error: "invalid token"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "bad", "")
	err := client.RegisterPushToken(context.Background(), "device-token", "fcm")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := err.Error(); got != "push: pbx error (status 401): invalid token" {
		t.Errorf("unexpected error message: %s", got)
	}
}

func TestRegisterPushToken_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad gateway"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", "")
	err := client.RegisterPushToken(context.Background(), "device-token", "apns")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := err.Error(); got != "push: pbx returned status 502" {
		t.Errorf("unexpected error message: %s", got)
	}
}

func TestRegisterPushToken_ConnectionError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "tok", "")
	if err := client.RegisterPushToken(context.Background(), "device-token", "apns"); err == nil {
		t.Fatal("expected error for connection failure, got nil")
	}
}

func TestConfigured(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		token    string
		expected bool
	}{
		{"both set", "https://pbx.example.com", "tok", true},
		{"empty url", "", "tok", false},
		{"empty token", "https://pbx.example.com", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.baseURL, tt.token, "")
			if got := c.Configured(); got != tt.expected {
				t.Errorf("Configured() = %v, want %v", got, tt.expected)
			}
		})
	}
}
