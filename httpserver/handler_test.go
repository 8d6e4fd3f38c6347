package httpserver

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/device-provisioning-backend/api"
	"github.com/ruteri/device-provisioning-backend/ca/localca"
	"github.com/ruteri/device-provisioning-backend/interfaces"
	"github.com/ruteri/device-provisioning-backend/protocol"
	"github.com/ruteri/device-provisioning-backend/provisioner"
	"github.com/ruteri/device-provisioning-backend/request"
	"github.com/ruteri/device-provisioning-backend/storage"
	"github.com/ruteri/device-provisioning-backend/transport/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSerial = []byte{0x00, 0x0b, 0x57, 0xff, 0xfe, 0xaa, 0xbb, 0xcc}

type fixture struct {
	device  *sim.Device
	caFile  string
	image   string
	handler *Handler
}

func newFixture(t *testing.T, archiver Archiver) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dir := t.TempDir()
	caFile, err := localca.InitDirectory(filepath.Join(dir, "pki"), localca.InitOptions{Organization: "Acme"})
	require.NoError(t, err)

	image := filepath.Join(dir, "prov.bin")
	require.NoError(t, os.WriteFile(image, []byte{0x00, 0x80, 0x00, 0x20, 0x01, 0x00, 0x00, 0x20}, 0o600))

	dev := sim.NewDevice(testSerial)
	orch, err := provisioner.New(provisioner.Config{
		Transport:   sim.New(logger, dev),
		Authorities: map[request.Mode]interfaces.CertificateAuthority{request.PrimaryCA: localca.New(logger)},
		Log:         logger,
	})
	require.NoError(t, err)

	return &fixture{
		device: dev,
		caFile: caFile,
		image:  image,
		handler: NewHandler(HandlerConfig{
			Provisioner: orch,
			Archiver:    archiver,
			Modes:       []request.Mode{request.PrimaryCA},
			Log:         logger,
		}),
	}
}

func (f *fixture) body(t *testing.T, mode request.Mode) []byte {
	t.Helper()
	data, err := json.Marshal(api.ProvisionRequest{
		SoC:         "xg25",
		Mode:        mode,
		ProvImage:   f.image,
		JLinkSerial: "440012345",
		OID:         "1.3.6.1.4.1.41948.7",
		Config:      f.caFile,
	})
	require.NoError(t, err)
	return data
}

func provision(t *testing.T, h *Handler, body []byte) (*httptest.ResponseRecorder, api.ProvisionResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/provision", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.HandleProvision(rr, req)

	var resp api.ProvisionResponse
	if rr.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	}
	return rr, resp
}

func TestHandleProvision_Success(t *testing.T) {
	f := newFixture(t, nil)

	rr, resp := provision(t, f.handler, f.body(t, request.PrimaryCA))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.True(t, resp.Success)
	assert.Equal(t, api.StatusDone, resp.Status)
	assert.Equal(t, f.device.Serial().String(), resp.DeviceSerial)
	assert.Equal(t, []string{"device", "batch", "root"}, resp.Artifacts)
	assert.NotEmpty(t, resp.SessionID)
	assert.Empty(t, resp.FailedStep)

	block, _ := pem.Decode([]byte(resp.Certificates["device"]))
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, f.device.Serial().String(), cert.Subject.CommonName)
	assert.Equal(t, block.Bytes, f.device.NVM()[protocol.DeviceCertObject])
}

func TestHandleProvision_ValidationErrors(t *testing.T) {
	f := newFixture(t, nil)

	testCases := []struct {
		name  string
		body  string
		field string
	}{
		{"invalid json", `{"soc":`, "invalid JSON"},
		{"missing soc", `{"mode":1,"prov_img":"x","jlink_ser":"1","oid":"1.2"}`, "soc"},
		{"unknown soc", `{"soc":"xg99","mode":1,"prov_img":"x","jlink_ser":"1","oid":"1.2"}`, "unsupported SoC"},
		{"missing target", `{"soc":"xg25","mode":2,"prov_img":"x"}`, "jlink_ser"},
		{"missing oid", `{"soc":"xg25","mode":"cpms","prov_img":"x","jlink_host":"10.0.0.1"}`, "oid"},
		{"missing image", `{"soc":"xg25","mode":2,"prov_img":"/nonexistent/prov.bin","jlink_ser":"1"}`, "does not exist"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rr, resp := provision(t, f.handler, []byte(tc.body))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, api.StatusRejected, resp.Status)
			assert.Contains(t, resp.Message, tc.field)
		})
	}

	assert.Empty(t, f.device.NVM())
}

func TestHandleProvision_EmptyBody(t *testing.T) {
	f := newFixture(t, nil)
	rr, _ := provision(t, f.handler, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleProvision_DeviceFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.device.FailWith(protocol.CmdInitializeNvm, 7)

	rr, resp := provision(t, f.handler, f.body(t, request.PrimaryCA))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, api.StatusFailed, resp.Status)
	assert.Equal(t, "nvm_init", resp.FailedStep)
	assert.Equal(t, provisioner.ErrNvmInitFailed.Error(), resp.Error)
	require.NotNil(t, resp.DeviceStatus)
	assert.Equal(t, uint32(7), *resp.DeviceStatus)
	assert.Empty(t, resp.Artifacts)
}

func TestHandleProvision_ModeWithoutAuthority(t *testing.T) {
	f := newFixture(t, nil)

	rr, resp := provision(t, f.handler, f.body(t, request.SecondaryCA))
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
	assert.Equal(t, provisioner.ErrUnsupportedMode.Error(), resp.Error)
}

func TestHandleProvision_CAFailure(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.Remove(f.caFile))

	rr, resp := provision(t, f.handler, f.body(t, request.PrimaryCA))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "signing", resp.FailedStep)
	assert.Nil(t, resp.DeviceStatus)
}

func TestHandleProvision_Archive(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, err := storage.NewFileBackend(t.TempDir(), logger)
	require.NoError(t, err)
	archiver := storage.NewArchiver(backend, logger)

	f := newFixture(t, archiver)
	rr, resp := provision(t, f.handler, f.body(t, request.PrimaryCA))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NotEmpty(t, resp.ArchiveRecord)

	id, err := interfaces.NewContentIDFromHex(resp.ArchiveRecord)
	require.NoError(t, err)
	record, err := archiver.FetchRecord(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, resp.DeviceSerial, record.DeviceSerial)
	assert.Equal(t, resp.SessionID, record.SessionID)
	assert.Len(t, record.Certificates, 3)
}

type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) Archive(ctx context.Context, result *provisioner.Result) (*storage.Receipt, error) {
	args := m.Called(ctx, result)
	receipt, _ := args.Get(0).(*storage.Receipt)
	return receipt, args.Error(1)
}

type MockObserver struct {
	mock.Mock
}

func (m *MockObserver) ObserveArchive(err error) {
	m.Called(err)
}

func TestHandleProvision_ArchiveFailureIsWarning(t *testing.T) {
	archiveErr := errors.New("bucket unavailable")
	archiver := new(MockArchiver)
	archiver.On("Archive", mock.Anything, mock.Anything).Return(nil, archiveErr)
	observer := new(MockObserver)
	observer.On("ObserveArchive", archiveErr).Return()

	f := newFixture(t, archiver)
	f.handler.cfg.Observer = observer

	rr, resp := provision(t, f.handler, f.body(t, request.PrimaryCA))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.ArchiveRecord)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "bucket unavailable")

	archiver.AssertExpectations(t)
	observer.AssertExpectations(t)
}

func TestHandleDevices(t *testing.T) {
	f := newFixture(t, nil)
	rr := httptest.NewRecorder()
	f.handler.HandleDevices(rr, httptest.NewRequest(http.MethodGet, "/api/devices", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp api.DevicesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Devices, 3)
	assert.Equal(t, "xg12", resp.Devices[0].Kind)
	assert.Equal(t, "0x20000000", resp.Devices[1].RAMAddress)
}

func TestHandleInfoAndHealth(t *testing.T) {
	f := newFixture(t, nil)

	rr := httptest.NewRecorder()
	f.handler.HandleInfo(rr, httptest.NewRequest(http.MethodGet, "/api/info", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var info api.InfoResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Equal(t, os.Getpid(), info.PID)
	assert.Equal(t, []string{"cpms"}, info.Modes)
	assert.False(t, info.Busy)

	rr = httptest.NewRecorder()
	f.handler.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var health api.HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
}
