package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/stretchr/testify/mock"
)

// ResponseError is returned for non-200 responses. Response is set when the
// server answered a provisioning request with a ProvisionResponse body.
type ResponseError struct {
	StatusCode int
	Body       string
	Response   *ProvisionResponse
}

func (e *ResponseError) Error() string {
	if e.Response != nil && e.Response.Message != "" {
		return fmt.Sprintf("server returned error %d: %s", e.StatusCode, e.Response.Message)
	}
	return fmt.Sprintf("server returned error %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Client talks to a remote provisioning server.
type Client struct {
	// ServerAddr is the base URL of the provisioning server.
	ServerAddr string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

var _ ProvisioningProvider = (*Client)(nil)

func NewClient(addr string) *Client {
	return &Client{ServerAddr: strings.TrimRight(addr, "/")}
}

// Provision submits a provisioning request. Failed sessions return the
// decoded response together with a *ResponseError.
func (c *Client) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/provision", body)
	if err != nil {
		return nil, fmt.Errorf("could not request provision endpoint: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read provision response: %w", err)
	}

	var parsed ProvisionResponse
	decodeErr := json.Unmarshal(data, &parsed)
	if resp.StatusCode != http.StatusOK {
		rerr := &ResponseError{StatusCode: resp.StatusCode, Body: string(data)}
		if decodeErr == nil {
			rerr.Response = &parsed
			return &parsed, rerr
		}
		return nil, rerr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("could not parse provision response: %w", decodeErr)
	}
	return &parsed, nil
}

func (c *Client) Devices(ctx context.Context) (*DevicesResponse, error) {
	var parsed DevicesResponse
	if err := c.getJSON(ctx, "/api/devices", &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (c *Client) Info(ctx context.Context) (*InfoResponse, error) {
	var parsed InfoResponse
	if err := c.getJSON(ctx, "/api/info", &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var parsed HealthResponse
	if err := c.getJSON(ctx, "/health", &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return fmt.Errorf("could not request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &ResponseError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not parse %s response: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if c.ServerAddr == "" {
		return nil, errors.New("server address is not set")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.ServerAddr, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}

// MockProvider implements ProvisioningProvider for testing.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*ProvisionResponse)
	return resp, args.Error(1)
}

func (m *MockProvider) Devices(ctx context.Context) (*DevicesResponse, error) {
	args := m.Called(ctx)
	resp, _ := args.Get(0).(*DevicesResponse)
	return resp, args.Error(1)
}

func (m *MockProvider) Info(ctx context.Context) (*InfoResponse, error) {
	args := m.Called(ctx)
	resp, _ := args.Get(0).(*InfoResponse)
	return resp, args.Error(1)
}
