package api

import (
	"context"
	"time"

	"github.com/ruteri/device-provisioning-backend/request"
)

// ProvisionRequest is the body of POST /api/provision.
type ProvisionRequest = request.RawRequest

// Session statuses reported in ProvisionResponse.Status.
const (
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusRejected = "rejected"
)

// ProvisionResponse is returned for every provisioning attempt.
type ProvisionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`

	// Status is one of StatusDone, StatusFailed or StatusRejected.
	Status string `json:"status"`

	SessionID    string `json:"session_id,omitempty"`
	DeviceSerial string `json:"device_serial,omitempty"`

	// Artifacts lists the certificates written to NVM, in write order.
	Artifacts []string `json:"artifacts,omitempty"`

	// Certificates maps artifact names to PEM certificates.
	Certificates map[string]string `json:"certificates,omitempty"`

	FailedStep   string  `json:"failed_step,omitempty"`
	DeviceStatus *uint32 `json:"device_status,omitempty"`
	Error        string  `json:"error,omitempty"`

	Warnings   []string `json:"warnings,omitempty"`
	DurationMs int64    `json:"duration_ms,omitempty"`

	// ArchiveRecord is the content ID of the archived provisioning record.
	ArchiveRecord string `json:"archive_record,omitempty"`
}

// DeviceInfo describes one supported device profile.
type DeviceInfo struct {
	Kind        string `json:"kind"`
	Device      string `json:"device"`
	Description string `json:"description"`
	RAMAddress  string `json:"ram_address"`
	NVMStart    string `json:"nvm_start"`
	NVMSize     string `json:"nvm_size"`
}

type DevicesResponse struct {
	Devices []DeviceInfo `json:"devices"`
}

// InfoResponse is returned by GET /api/info.
type InfoResponse struct {
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
	PID       int       `json:"pid"`
	Busy      bool      `json:"busy"`
	Modes     []string  `json:"modes"`
	Archive   []string  `json:"archive,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Busy   bool   `json:"busy"`
}

// ProvisioningProvider is implemented by Client and by test mocks.
type ProvisioningProvider interface {
	Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error)
	Devices(ctx context.Context) (*DevicesResponse, error)
	Info(ctx context.Context) (*InfoResponse, error)
}
