package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// TokenRequest is the body of POST /api/v1/app/push-token on the PBX.
type TokenRequest struct {
	PushToken    string `json:"push_token"`
	PushPlatform string `json:"push_platform"` // "apns" or "fcm"
	DeviceID     string `json:"device_id,omitempty"`
}

// envelope is the standard PBX response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Client registers device push tokens with the PBX so it can wake the app
// for incoming calls.
type Client struct {
	httpClient *http.Client
	baseURL    string
	appToken   string
	deviceID   string
}

// NewClient creates a PBX push-token client. baseURL is the PBX endpoint
// (e.g., "https://pbx.example.com"); appToken is the bearer token the PBX
// issued to this app.
func NewClient(baseURL, appToken, deviceID string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		appToken:   appToken,
		deviceID:   deviceID,
	}
}

// RegisterPushToken stores the device push token on the PBX.
func (c *Client) RegisterPushToken(ctx context.Context, token, platform string) error {
	if platform == "" {
		platform = "apns"
	}
	body, err := json.Marshal(TokenRequest{
		PushToken:    token,
		PushPlatform: platform,
		DeviceID:     c.deviceID,
	})
	if err != nil {
		return fmt.Errorf("push: marshalling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/app/push-token", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("push: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.appToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("push: sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("push: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env envelope
		if json.Unmarshal(respBody, &env) == nil && env.Error != "" {
			return fmt.Errorf("push: pbx error (status %d): %s", resp.StatusCode, env.Error)
		}
		return fmt.Errorf("push: pbx returned status %d", resp.StatusCode)
	}

	slog.Debug("push token registered", "platform", platform)
	return nil
}

// Configured returns true if the client has a base URL and app token.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.appToken != ""
}
