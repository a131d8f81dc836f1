// Package provision talks to the external fleet controller: the service that
// actually resets and boots physical Xnode units. The control plane only ever
// asks it to provision a machine or report its network address.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// ErrProvisionFailed is returned when the controller rejects a provisioning
// request. The device record must not be created in that case.
var ErrProvisionFailed = errors.New("fleet controller provisioning failed")

// ProvisionRequest carries everything the controller needs to reset a unit
// and hand it its identity.
type ProvisionRequest struct {
	TokenID      string
	DeviceID     string
	AccessToken  string
	OwnerAddress string
}

// ProvisionResult reports what the controller allocated.
type ProvisionResult struct {
	IPAddress string
}

// Controller is the fleet-controller interface the provisioning workflow and
// the background IP reconciliation depend on.
type Controller interface {
	Provision(ctx context.Context, req ProvisionRequest) (ProvisionResult, error)

	// DeviceAddress reports the current network address of the unit claimed
	// by the given token id, if the controller knows it.
	DeviceAddress(ctx context.Context, tokenID string) (string, error)
}

// HTTPController implements Controller against the unit controller REST API.
type HTTPController struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPController builds a controller client. A non-positive timeout falls
// back to the default.
func NewHTTPController(baseURL, apiKey string, timeout time.Duration) (*HTTPController, error) {
	if baseURL == "" {
		return nil, errors.New("controller base url is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPController{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}, nil
}

// Provision asks the controller to allocate and reset the unit behind
// req.TokenID. The body field names are fixed by the controller API.
func (c *HTTPController) Provision(ctx context.Context, req ProvisionRequest) (ProvisionResult, error) {
	payload, err := json.Marshal(map[string]string{
		"WalletAddress":      req.OwnerAddress,
		"XNODE_UUID":         req.DeviceID,
		"XNODE_ACCESS_TOKEN": req.AccessToken,
	})
	if err != nil {
		return ProvisionResult{}, err
	}

	url := fmt.Sprintf("%s/provision/%s", c.baseURL, req.TokenID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return ProvisionResult{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return ProvisionResult{}, fmt.Errorf("%w: %v", ErrProvisionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ProvisionResult{}, fmt.Errorf("%w: status %d", ErrProvisionFailed, resp.StatusCode)
	}

	var body struct {
		IPAddress string `json:"ipAddress"`
	}
	// An empty or unparsable body is tolerated; the address is reconciled
	// later from node information.
	_ = json.NewDecoder(resp.Body).Decode(&body)

	return ProvisionResult{IPAddress: body.IPAddress}, nil
}

// DeviceAddress fetches node information for a claimed unit.
func (c *HTTPController) DeviceAddress(ctx context.Context, tokenID string) (string, error) {
	url := fmt.Sprintf("%s/node_information/%s", c.baseURL, tokenID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("node information: status %d", resp.StatusCode)
	}

	var body struct {
		IPAddress string `json:"ipAddress"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("node information: decode: %w", err)
	}

	return body.IPAddress, nil
}
