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
)

var (
	// ErrTransientNetwork wraps failures to reach the license server.
	ErrTransientNetwork = errors.New("license server unreachable")
	// ErrUnauthorized is returned when the server rejects the bearer token.
	ErrUnauthorized = errors.New("license server rejected credentials")
)

// Transport is the server API the agent depends on.
type Transport interface {
	Activate(ctx context.Context, token string, req ActivateRequest) (*ActivateResult, error)
	Heartbeat(ctx context.Context, token, deviceID, appVersion string) (*CheckResult, error)
	Validate(ctx context.Context, token, deviceID string) (*CheckResult, error)
	Deactivate(ctx context.Context, token, deviceID string) (bool, error)
}

// ActivateRequest is sent to claim a seat.
type ActivateRequest struct {
	LicenseKey  string `json:"licenseKey"`
	DeviceID    string `json:"deviceId"`
	DeviceLabel string `json:"deviceLabel,omitempty"`
	AppVersion  string `json:"appVersion,omitempty"`
}

// ActivateResult is the server's answer to an activation.
type ActivateResult struct {
	Activated    bool       `json:"activated"`
	ActivationID string     `json:"activationId,omitempty"`
	LicenseID    string     `json:"licenseId,omitempty"`
	PlanCode     string     `json:"planCode,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Reason       Reason     `json:"reason,omitempty"`
	Message      string     `json:"message,omitempty"`
}

// CheckResult is the server's answer to a heartbeat or validation.
type CheckResult struct {
	Valid     bool
	Reason    Reason
	Message   string
	ExpiresAt *time.Time
}

type heartbeatResponse struct {
	Valid     bool       `json:"valid"`
	Reason    Reason     `json:"reason"`
	Message   string     `json:"message"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

type validateResponse struct {
	Activated bool       `json:"activated"`
	Reason    Reason     `json:"reason"`
	Message   string     `json:"message"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

type deviceRequest struct {
	DeviceID   string `json:"deviceId"`
	AppVersion string `json:"appVersion,omitempty"`
}

// Client is an HTTP client for the WABDesk license server.
type Client struct {
	serverURL  string
	httpClient *http.Client
}

// NewClient creates a new license server client. A nil httpClient selects a
// plain client with a 30 second timeout.
func NewClient(serverURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: httpClient,
	}
}

// Activate claims a seat for the device.
func (c *Client) Activate(ctx context.Context, token string, req ActivateRequest) (*ActivateResult, error) {
	var result ActivateResult
	if err := c.post(ctx, token, "/api/v1/subscription/activate", req, &result); err != nil {
		return nil, fmt.Errorf("activate: %w", err)
	}
	return &result, nil
}

// Heartbeat reports that the device is still running.
func (c *Client) Heartbeat(ctx context.Context, token, deviceID, appVersion string) (*CheckResult, error) {
	var resp heartbeatResponse
	if err := c.post(ctx, token, "/api/v1/subscription/heartbeat", deviceRequest{DeviceID: deviceID, AppVersion: appVersion}, &resp); err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	return &CheckResult{Valid: resp.Valid, Reason: resp.Reason, Message: resp.Message, ExpiresAt: resp.ExpiresAt}, nil
}

// Validate asks the server whether the device is activated.
func (c *Client) Validate(ctx context.Context, token, deviceID string) (*CheckResult, error) {
	var resp validateResponse
	if err := c.post(ctx, token, "/api/v1/subscription/validate", deviceRequest{DeviceID: deviceID}, &resp); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return &CheckResult{Valid: resp.Activated, Reason: resp.Reason, Message: resp.Message, ExpiresAt: resp.ExpiresAt}, nil
}

// Deactivate releases the device's seat. It reports false when the server had
// no active seat for the device.
func (c *Client) Deactivate(ctx context.Context, token, deviceID string) (bool, error) {
	var resp struct {
		Deactivated bool `json:"deactivated"`
	}
	if err := c.post(ctx, token, "/api/v1/subscription/deactivate", deviceRequest{DeviceID: deviceID}, &resp); err != nil {
		return false, fmt.Errorf("deactivate: %w", err)
	}
	return resp.Deactivated, nil
}

// decodable lists the statuses whose bodies carry a business outcome.
func decodable(status int) bool {
	switch status {
	case http.StatusOK, http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict:
		return true
	}
	return false
}

func (c *Client) post(ctx context.Context, token, path string, payload, result any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrTransientNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: server returned %d", ErrTransientNetwork, resp.StatusCode)
	case !decodable(resp.StatusCode):
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}
	return nil
}
