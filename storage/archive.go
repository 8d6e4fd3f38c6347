package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/device-provisioning-backend/cryptoutils"
	"github.com/ruteri/device-provisioning-backend/interfaces"
	"github.com/ruteri/device-provisioning-backend/provisioner"
)

// Record is the JSON document archived for every provisioned device.
type Record struct {
	ID            string            `json:"id"`
	SessionID     string            `json:"session_id"`
	Mode          string            `json:"mode"`
	DeviceKind    string            `json:"device_kind"`
	DeviceSerial  string            `json:"device_serial"`
	Certificates  map[string]string `json:"certificates"`
	ProvisionedAt time.Time         `json:"provisioned_at"`
	DurationMs    int64             `json:"duration_ms"`
	Warnings      []string          `json:"warnings,omitempty"`
}

// Receipt lists the content IDs written by Archive.
type Receipt struct {
	Record       interfaces.ContentID
	Certificates map[string]interfaces.ContentID
}

// Archiver stores provisioning results in a storage backend.
type Archiver struct {
	backend interfaces.StorageBackend
	log     *slog.Logger
}

func NewArchiver(backend interfaces.StorageBackend, log *slog.Logger) *Archiver {
	if log == nil {
		log = slog.Default()
	}
	return &Archiver{backend: backend, log: log}
}

// Archive stores the device, batch and root certificates as PEM followed by
// the record referencing them.
func (a *Archiver) Archive(ctx context.Context, result *provisioner.Result) (*Receipt, error) {
	receipt := &Receipt{Certificates: make(map[string]interfaces.ContentID, 3)}
	record := Record{
		ID:            uuid.NewString(),
		SessionID:     result.SessionID,
		Mode:          result.Mode.String(),
		DeviceKind:    result.DeviceKind,
		DeviceSerial:  result.DeviceSerial.String(),
		Certificates:  make(map[string]string, 3),
		ProvisionedAt: result.StartedAt.UTC(),
		DurationMs:    result.Duration.Milliseconds(),
	}
	for _, w := range result.Warnings {
		record.Warnings = append(record.Warnings, w.Error())
	}

	certs := []struct {
		artifact string
		der      []byte
	}{
		{provisioner.ArtifactDevice, result.Chain.Device},
		{provisioner.ArtifactBatch, result.Chain.Batch},
		{provisioner.ArtifactRoot, result.Chain.Root},
	}
	for _, c := range certs {
		id, err := a.backend.Store(ctx, cryptoutils.EncodeCertificatePEM(c.der), interfaces.CertificateType)
		if err != nil {
			return nil, fmt.Errorf("archive %s certificate: %w", c.artifact, err)
		}
		receipt.Certificates[c.artifact] = id
		record.Certificates[c.artifact] = id.String()
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, err
	}
	id, err := a.backend.Store(ctx, data, interfaces.RecordType)
	if err != nil {
		return nil, fmt.Errorf("archive record: %w", err)
	}
	receipt.Record = id

	a.log.Info("Archived provisioning record",
		slog.String("record_id", id.String()),
		slog.String("device_serial", record.DeviceSerial),
		slog.String("backend", a.backend.Name()))
	return receipt, nil
}

// FetchRecord loads an archived record by content ID.
func (a *Archiver) FetchRecord(ctx context.Context, id interfaces.ContentID) (*Record, error) {
	data, err := a.backend.Fetch(ctx, id, interfaces.RecordType)
	if err != nil {
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("invalid record %s: %w", id, err)
	}
	return &record, nil
}
