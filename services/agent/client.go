package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"xnoded/pkg/psk"
)

const sessionHeader = "X-Parse-Session-Token"

// ErrBadEnvelope is returned when a served config fails its signature check.
var ErrBadEnvelope = errors.New("config envelope failed verification")

// Generation is the device view of the four convergence counters.
type Generation struct {
	ConfigWant int64 `json:"configGenerationWant"`
	ConfigHave int64 `json:"configGenerationHave"`
	UpdateWant int64 `json:"updateGenerationWant"`
	UpdateHave int64 `json:"updateGenerationHave"`
}

// Client talks to the control plane on behalf of one device. Every request
// body is signed with the device's pre-shared access token.
type Client struct {
	http        *http.Client
	baseURL     string
	deviceID    string
	accessToken string
}

// NewClient validates the device identity and returns a signing client.
func NewClient(baseURL, deviceID, accessToken string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("api url is required")
	}
	if strings.TrimSpace(deviceID) == "" {
		return nil, errors.New("device id is required")
	}
	if _, err := psk.DeriveKey(accessToken); err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}

	return &Client{
		http:        &http.Client{Timeout: 15 * time.Second},
		baseURL:     baseURL,
		deviceID:    deviceID,
		accessToken: accessToken,
	}, nil
}

// Generation polls the current counters. Read-only and safe to call at any
// frequency.
func (c *Client) Generation(ctx context.Context) (Generation, error) {
	var gen Generation
	err := c.post(ctx, "/v1/xnodes/getXnodeGeneration", map[string]any{"id": c.deviceID}, &gen)
	return gen, err
}

// Services fetches the service configuration and verifies the envelope
// signature before handing the raw message back.
func (c *Client) Services(ctx context.Context) (string, error) {
	var envelope struct {
		Message string `json:"message"`
		HMAC    string `json:"hmac"`
	}
	if err := c.post(ctx, "/v1/xnodes/getXnodeServices", map[string]any{"id": c.deviceID}, &envelope); err != nil {
		return "", err
	}
	if !psk.VerifyMAC(c.accessToken, envelope.Message, envelope.HMAC) {
		return "", ErrBadEnvelope
	}
	return envelope.Message, nil
}

// PushConfigHave reports the config generation the device just applied.
func (c *Client) PushConfigHave(ctx context.Context, generation int64) error {
	return c.post(ctx, "/v1/xnodes/pushXnodeGenerationConfig", map[string]any{
		"id":         c.deviceID,
		"generation": generation,
	}, nil)
}

// PushUpdateHave reports the update generation the device just applied.
func (c *Client) PushUpdateHave(ctx context.Context, generation int64) error {
	return c.post(ctx, "/v1/xnodes/pushXnodeGenerationUpdate", map[string]any{
		"id":         c.deviceID,
		"generation": generation,
	}, nil)
}

// Heartbeat reports the current resource gauges.
func (c *Client) Heartbeat(ctx context.Context, m Metrics) error {
	payload := heartbeatPayload{Metrics: m, ID: c.deviceID}
	return c.post(ctx, "/v1/xnodes/pushXnodeHeartbeat", payload, nil)
}

// PushStatus reports a lifecycle status string.
func (c *Client) PushStatus(ctx context.Context, status string) error {
	return c.post(ctx, "/v1/xnodes/pushXnodeStatus", map[string]any{
		"id":     c.deviceID,
		"status": status,
	}, nil)
}

type heartbeatPayload struct {
	ID string `json:"id"`
	Metrics
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	// The signature covers the exact bytes on the wire.
	mac, err := psk.ComputeMAC(c.accessToken, string(body))
	if err != nil {
		return fmt.Errorf("sign payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sessionHeader, mac)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("post %s unexpected status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
