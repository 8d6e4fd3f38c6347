package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ruteri/device-provisioning-backend/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientProvision(t *testing.T) {
	var received ProvisionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/provision", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ProvisionResponse{
			Success:      true,
			Status:       StatusDone,
			DeviceSerial: "0011223344556677",
			Artifacts:    []string{"device", "batch", "root"},
		})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL+"/").Provision(context.Background(), ProvisionRequest{
		SoC:         "xg25",
		Mode:        request.PrimaryCA,
		ProvImage:   "/images/prov.bin",
		JLinkSerial: "440123456",
		OID:         "1.3.6.1.4.1.41577.1",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "0011223344556677", resp.DeviceSerial)
	assert.Equal(t, []string{"device", "batch", "root"}, resp.Artifacts)

	assert.Equal(t, "xg25", received.SoC)
	assert.Equal(t, request.PrimaryCA, received.Mode)
	assert.Equal(t, "440123456", received.JLinkSerial)
}

func TestClientProvisionFailure(t *testing.T) {
	status := uint32(7)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(ProvisionResponse{
			Status:       StatusFailed,
			Message:      "provisioning failed at nvm_init",
			FailedStep:   "nvm_init",
			DeviceStatus: &status,
		})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).Provision(context.Background(), ProvisionRequest{SoC: "xg25"})
	require.Error(t, err)
	require.NotNil(t, resp)

	var rerr *ResponseError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, http.StatusBadGateway, rerr.StatusCode)
	assert.Contains(t, err.Error(), "provisioning failed at nvm_init")
	assert.Equal(t, "nvm_init", resp.FailedStep)
	require.NotNil(t, resp.DeviceStatus)
	assert.Equal(t, uint32(7), *resp.DeviceStatus)
}

func TestClientPlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "server is draining", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).Provision(context.Background(), ProvisionRequest{})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "server is draining")

	_, err = NewClient(srv.URL).Info(context.Background())
	var rerr *ResponseError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, http.StatusServiceUnavailable, rerr.StatusCode)
}

func TestClientDevicesAndInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/devices", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(DevicesResponse{Devices: []DeviceInfo{{Kind: "xg12"}, {Kind: "xg25"}}})
	})
	mux.HandleFunc("/api/info", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(InfoResponse{Service: "provisioner", Version: "v1.2.0", Busy: true})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL)
	devices, err := c.Devices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices.Devices, 2)
	assert.Equal(t, "xg25", devices.Devices[1].Kind)

	info, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.2.0", info.Version)
	assert.True(t, info.Busy)

	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestClientWithoutAddress(t *testing.T) {
	_, err := (&Client{}).Devices(context.Background())
	require.Error(t, err)
}

func TestMockProvider(t *testing.T) {
	m := new(MockProvider)
	m.On("Devices", context.Background()).Return(&DevicesResponse{Devices: []DeviceInfo{{Kind: "xg28"}}}, nil)
	m.On("Info", context.Background()).Return(nil, errors.New("offline"))

	var p ProvisioningProvider = m
	devices, err := p.Devices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "xg28", devices.Devices[0].Kind)

	_, err = p.Info(context.Background())
	require.Error(t, err)
	m.AssertExpectations(t)
}
