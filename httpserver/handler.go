package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ruteri/device-provisioning-backend/api"
	"github.com/ruteri/device-provisioning-backend/common"
	"github.com/ruteri/device-provisioning-backend/cryptoutils"
	"github.com/ruteri/device-provisioning-backend/devices"
	"github.com/ruteri/device-provisioning-backend/provisioner"
	"github.com/ruteri/device-provisioning-backend/request"
	"github.com/ruteri/device-provisioning-backend/storage"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Provisioner runs provisioning sessions. It is implemented by
// *provisioner.Orchestrator.
type Provisioner interface {
	Execute(ctx context.Context, mode request.Mode, req *request.ProvisioningRequest) (*provisioner.Result, error)
	Busy() bool
}

// Archiver stores provisioning results. It is implemented by *storage.Archiver.
type Archiver interface {
	Archive(ctx context.Context, result *provisioner.Result) (*storage.Receipt, error)
}

// ArchiveObserver counts archive attempts.
type ArchiveObserver interface {
	ObserveArchive(err error)
}

// HandlerConfig holds the Handler collaborators. Only Provisioner is required.
type HandlerConfig struct {
	Provisioner Provisioner
	Archiver    Archiver
	Observer    ArchiveObserver

	// Modes lists the modes with a configured certificate authority.
	Modes []request.Mode

	// ArchiveLocations is reported by /api/info.
	ArchiveLocations []string

	Log *slog.Logger
}

// Handler processes HTTP requests for the provisioning service.
type Handler struct {
	cfg       HandlerConfig
	log       *slog.Logger
	startedAt time.Time
}

func NewHandler(cfg HandlerConfig) *Handler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Handler{cfg: cfg, log: log, startedAt: time.Now()}
}

// HandleProvision provisions one device.
//
// URL format: POST /api/provision
//
// Request body: JSON, see api.ProvisionRequest
//
// Response: JSON, see api.ProvisionResponse. Validation failures answer 400,
// a missing certificate authority 501, an unreachable probe 503, a failing
// certificate authority 502 and every other session failure 500.
func (h *Handler) HandleProvision(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		h.log.Error("Failed to read request body", "err", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "Empty request body", http.StatusBadRequest)
		return
	}

	response, err := h.handleProvision(r.Context(), body)
	statusCode := http.StatusOK
	if err != nil {
		var rerr *RequestError
		if errors.As(err, &rerr) {
			statusCode = rerr.StatusCode
		} else {
			statusCode = http.StatusInternalServerError
		}
	}

	writeJSON(w, h.log, statusCode, response)
}

func (h *Handler) handleProvision(ctx context.Context, body []byte) (*api.ProvisionResponse, error) {
	req, err := request.FromJSON(body)
	if err != nil {
		h.log.Warn("Rejected provisioning request", "err", err)
		return &api.ProvisionResponse{
			Status:  api.StatusRejected,
			Message: err.Error(),
			Error:   "validation",
		}, &RequestError{StatusCode: http.StatusBadRequest, Err: err}
	}

	// Sessions outlive the client connection.
	ctx = context.WithoutCancel(ctx)

	result, err := h.cfg.Provisioner.Execute(ctx, req.Mode(), req)
	if err != nil {
		return h.failureResponse(err)
	}

	response := &api.ProvisionResponse{
		Success:      true,
		Status:       api.StatusDone,
		Message:      fmt.Sprintf("Device %s provisioned", result.DeviceSerial),
		SessionID:    result.SessionID,
		DeviceSerial: result.DeviceSerial.String(),
		Artifacts:    result.Artifacts,
		Certificates: map[string]string{
			provisioner.ArtifactDevice: string(cryptoutils.EncodeCertificatePEM(result.Chain.Device)),
			provisioner.ArtifactBatch:  string(cryptoutils.EncodeCertificatePEM(result.Chain.Batch)),
			provisioner.ArtifactRoot:   string(cryptoutils.EncodeCertificatePEM(result.Chain.Root)),
		},
		DurationMs: result.Duration.Milliseconds(),
	}
	for _, w := range result.Warnings {
		response.Warnings = append(response.Warnings, w.Error())
	}

	if h.cfg.Archiver != nil {
		receipt, err := h.cfg.Archiver.Archive(ctx, result)
		if h.cfg.Observer != nil {
			h.cfg.Observer.ObserveArchive(err)
		}
		if err != nil {
			h.log.Warn("Failed to archive provisioning record", "err", err, "device_serial", result.DeviceSerial.String())
			response.Warnings = append(response.Warnings, fmt.Sprintf("archive: %v", err))
		} else {
			response.ArchiveRecord = receipt.Record.String()
		}
	}

	return response, nil
}

func (h *Handler) failureResponse(err error) (*api.ProvisionResponse, error) {
	response := &api.ProvisionResponse{
		Status:  api.StatusFailed,
		Message: err.Error(),
	}

	var verr *request.ValidationError
	if errors.As(err, &verr) {
		response.Status = api.StatusRejected
		response.Error = "validation"
		return response, &RequestError{StatusCode: http.StatusBadRequest, Err: err}
	}

	statusCode := http.StatusInternalServerError
	var perr *provisioner.ProvisioningError
	if errors.As(err, &perr) {
		response.SessionID = perr.SessionID
		response.FailedStep = perr.Step.String()
		response.Error = perr.Kind.Error()
		if status, ok := perr.Status(); ok {
			response.DeviceStatus = &status
		}
		for _, w := range perr.Warnings {
			response.Warnings = append(response.Warnings, w.Error())
		}

		switch {
		case errors.Is(perr.Kind, provisioner.ErrUnsupportedMode):
			statusCode = http.StatusNotImplemented
		case errors.Is(perr.Kind, provisioner.ErrConnection):
			statusCode = http.StatusServiceUnavailable
		case errors.Is(perr.Kind, provisioner.ErrCertificateAuthority):
			statusCode = http.StatusBadGateway
		}
	}

	return response, &RequestError{StatusCode: statusCode, Err: err}
}

// HandleDevices lists the supported device profiles.
//
// URL format: GET /api/devices
func (h *Handler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	response := api.DevicesResponse{Devices: []api.DeviceInfo{}}
	for _, p := range devices.Profiles() {
		response.Devices = append(response.Devices, api.DeviceInfo{
			Kind:        p.Kind,
			Device:      p.Device,
			Description: p.Description,
			RAMAddress:  fmt.Sprintf("0x%08X", p.RAMAddress),
			NVMStart:    fmt.Sprintf("0x%08X", p.NVMStart),
			NVMSize:     fmt.Sprintf("0x%X", p.NVMSize),
		})
	}
	writeJSON(w, h.log, http.StatusOK, response)
}

// HandleInfo reports service information.
//
// URL format: GET /api/info
func (h *Handler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	modes := make([]string, 0, len(h.cfg.Modes))
	for _, m := range h.cfg.Modes {
		modes = append(modes, m.String())
	}
	writeJSON(w, h.log, http.StatusOK, api.InfoResponse{
		Service:   "device-provisioning",
		Version:   common.Version,
		StartedAt: h.startedAt.UTC(),
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		PID:       os.Getpid(),
		Busy:      h.cfg.Provisioner.Busy(),
		Modes:     modes,
		Archive:   h.cfg.ArchiveLocations,
	})
}

// HandleHealth answers liveness probes with the busy flag.
//
// URL format: GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, http.StatusOK, api.HealthResponse{
		Status: "healthy",
		Busy:   h.cfg.Provisioner.Busy(),
	})
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to encode response", "err", err)
	}
}
