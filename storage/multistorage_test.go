package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/device-provisioning-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockStorageBackend struct {
	mock.Mock
	name string
}

func (m *MockStorageBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	args := m.Called(ctx, id, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStorageBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	args := m.Called(ctx, data, contentType)
	return args.Get(0).(interfaces.ContentID), args.Error(1)
}

func (m *MockStorageBackend) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockStorageBackend) Name() string {
	return m.name
}

func (m *MockStorageBackend) LocationURI() string {
	return "mock:"
}

// archiveBackend returns a mock that reports available and expects nothing else.
func archiveBackend(name string, available bool) *MockStorageBackend {
	m := &MockStorageBackend{name: name}
	m.On("Available", mock.Anything).Return(available)
	return m
}

func assertBackends(t *testing.T, backends []interfaces.StorageBackend) {
	t.Helper()
	for _, b := range backends {
		b.(*MockStorageBackend).AssertExpectations(t)
	}
}

func TestMultiStorageBackend_Available(t *testing.T) {
	for _, tc := range []struct {
		name      string
		available []bool
		expected  bool
	}{
		{"every location up", []bool{true, true}, true},
		{"only the s3 mirror up", []bool{false, true, false}, true},
		{"every location down", []bool{false, false}, false},
		{"no locations configured", nil, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var backends []interfaces.StorageBackend
			for i, up := range tc.available {
				m := &MockStorageBackend{name: fmt.Sprintf("archive-%d", i)}
				m.On("Available", mock.Anything).Return(up).Maybe()
				backends = append(backends, m)
			}

			multi := NewMultiStorageBackend(backends, slog.New(slog.NewTextHandler(io.Discard, nil)))
			assert.Equal(t, tc.expected, multi.Available(context.Background()))
			assertBackends(t, backends)
		})
	}
}

func TestMultiStorageBackend_Fetch(t *testing.T) {
	certPEM := []byte("-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----\n")
	id := interfaces.ComputeID(certPEM)
	notFound := fmt.Errorf("fetch %s: %w", id, interfaces.ErrContentNotFound)

	for _, tc := range []struct {
		name    string
		setup   func() []interfaces.StorageBackend
		wantErr bool
	}{
		{
			name: "local archive answers first",
			setup: func() []interfaces.StorageBackend {
				local := archiveBackend("file", true)
				local.On("Fetch", mock.Anything, id, interfaces.CertificateType).Return(certPEM, nil)
				return []interfaces.StorageBackend{local, &MockStorageBackend{name: "s3"}}
			},
		},
		{
			name: "falls back to the mirror",
			setup: func() []interfaces.StorageBackend {
				local := archiveBackend("file", true)
				local.On("Fetch", mock.Anything, id, interfaces.CertificateType).Return(nil, notFound)
				mirror := archiveBackend("s3", true)
				mirror.On("Fetch", mock.Anything, id, interfaces.CertificateType).Return(certPEM, nil)
				return []interfaces.StorageBackend{local, mirror}
			},
		},
		{
			name: "skips unreachable locations",
			setup: func() []interfaces.StorageBackend {
				mirror := archiveBackend("s3", true)
				mirror.On("Fetch", mock.Anything, id, interfaces.CertificateType).Return(certPEM, nil)
				return []interfaces.StorageBackend{archiveBackend("vault", false), mirror}
			},
		},
		{
			name: "certificate missing everywhere",
			setup: func() []interfaces.StorageBackend {
				local := archiveBackend("file", true)
				local.On("Fetch", mock.Anything, id, interfaces.CertificateType).Return(nil, notFound)
				mirror := archiveBackend("s3", true)
				mirror.On("Fetch", mock.Anything, id, interfaces.CertificateType).Return(nil, errors.New("access denied"))
				return []interfaces.StorageBackend{local, mirror}
			},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			backends := tc.setup()
			data, err := NewMultiStorageBackend(backends, nil).Fetch(context.Background(), id, interfaces.CertificateType)
			if tc.wantErr {
				assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
				assert.Nil(t, data)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, certPEM, data)
			}
			assertBackends(t, backends)
		})
	}
}

func TestMultiStorageBackend_Store(t *testing.T) {
	record := []byte(`{"session_id":"7c0b","device_serial":"0123456789ABCDEF","mode":"cpms"}`)
	id := interfaces.ComputeID(record)
	denied := errors.New("permission denied")

	for _, tc := range []struct {
		name    string
		setup   func() []interfaces.StorageBackend
		wantID  interfaces.ContentID
		wantErr bool
	}{
		{
			name: "written to every location",
			setup: func() []interfaces.StorageBackend {
				local := archiveBackend("file", true)
				local.On("Store", mock.Anything, record, interfaces.RecordType).Return(id, nil)
				mirror := archiveBackend("s3", true)
				mirror.On("Store", mock.Anything, record, interfaces.RecordType).Return(id, nil)
				return []interfaces.StorageBackend{local, mirror}
			},
			wantID: id,
		},
		{
			name: "one location failing is tolerated",
			setup: func() []interfaces.StorageBackend {
				local := archiveBackend("file", true)
				local.On("Store", mock.Anything, record, interfaces.RecordType).Return(id, nil)
				vault := archiveBackend("vault", true)
				vault.On("Store", mock.Anything, record, interfaces.RecordType).Return(interfaces.ContentID{}, denied)
				return []interfaces.StorageBackend{local, vault}
			},
			wantID: id,
		},
		{
			name: "unreachable locations are skipped",
			setup: func() []interfaces.StorageBackend {
				mirror := archiveBackend("s3", true)
				mirror.On("Store", mock.Anything, record, interfaces.RecordType).Return(id, nil)
				return []interfaces.StorageBackend{archiveBackend("ipfs", false), mirror}
			},
			wantID: id,
		},
		{
			name: "every location failing",
			setup: func() []interfaces.StorageBackend {
				local := archiveBackend("file", true)
				local.On("Store", mock.Anything, record, interfaces.RecordType).Return(interfaces.ContentID{}, denied)
				vault := archiveBackend("vault", true)
				vault.On("Store", mock.Anything, record, interfaces.RecordType).Return(interfaces.ContentID{}, denied)
				return []interfaces.StorageBackend{local, vault}
			},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			backends := tc.setup()
			got, err := NewMultiStorageBackend(backends, nil).Store(context.Background(), record, interfaces.RecordType)
			if tc.wantErr {
				assert.ErrorIs(t, err, denied)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.wantID, got)
			assertBackends(t, backends)
		})
	}
}

func TestMultiStorageBackend_NothingAvailable(t *testing.T) {
	testID := interfaces.ContentID([32]byte{9})
	mock1 := &MockStorageBackend{name: "mock-A"}
	mock1.On("Available", mock.Anything).Return(false)

	multi := NewMultiStorageBackend([]interfaces.StorageBackend{mock1}, nil)

	_, err := multi.Fetch(context.Background(), testID, interfaces.RecordType)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)

	_, err = multi.Store(context.Background(), []byte("x"), interfaces.RecordType)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	assert.Equal(t, "multi:[mock:]", multi.LocationURI())
}

func TestMultiStorageBackend_FileBackends(t *testing.T) {
	a, err := NewFileBackend(t.TempDir(), nil)
	assert.NoError(t, err)
	b, err := NewFileBackend(t.TempDir(), nil)
	assert.NoError(t, err)

	multi := NewMultiStorageBackend([]interfaces.StorageBackend{a, b}, nil)
	id, err := multi.Store(context.Background(), []byte("record"), interfaces.RecordType)
	assert.NoError(t, err)

	for _, backend := range []interfaces.StorageBackend{a, b} {
		data, err := backend.Fetch(context.Background(), id, interfaces.RecordType)
		assert.NoError(t, err)
		assert.Equal(t, []byte("record"), data)
	}
}
