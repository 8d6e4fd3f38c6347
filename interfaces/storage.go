package interfaces

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ContentID is the SHA-256 of an archived object.
type ContentID [32]byte

// ComputeID hashes data.
func ComputeID(data []byte) ContentID {
	return ContentID(sha256.Sum256(data))
}

// NewContentIDFromHex parses a hex content ID, with or without 0x prefix.
func NewContentIDFromHex(source string) (ContentID, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(source), "0x"))
	if err != nil {
		return ContentID{}, fmt.Errorf("invalid content ID: %w", err)
	}
	if len(raw) != len(ContentID{}) {
		return ContentID{}, fmt.Errorf("invalid content ID: %d bytes", len(raw))
	}
	return ContentID(raw), nil
}

func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// ContentType selects the archive namespace of an object.
type ContentType int

const (
	// CertificateType holds PEM certificates issued to devices.
	CertificateType ContentType = iota
	// RecordType holds JSON provisioning records.
	RecordType
)

func (ct ContentType) String() string {
	switch ct {
	case CertificateType:
		return "certificate"
	case RecordType:
		return "record"
	default:
		return "unknown"
	}
}

// Archive location schemes.
const (
	SchemeFile  = "file"
	SchemeS3    = "s3"
	SchemeIPFS  = "ipfs"
	SchemeVault = "vault"
)

var schemes = []string{SchemeFile, SchemeS3, SchemeIPFS, SchemeVault}

// StorageBackendLocation is a parsed archive location URI:
// scheme://[auth@]host[:port][/path][?params].
type StorageBackendLocation struct {
	Raw    string
	Scheme string
	Host   string
	Path   string
	Query  url.Values

	// Auth is the URI user info, e.g. S3 credentials or a Vault token.
	Auth string
}

// NewStorageBackendLocation parses and checks uri.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("invalid URI format: %w", err)
	}
	if !slices.Contains(schemes, parsed.Scheme) {
		return StorageBackendLocation{}, fmt.Errorf("unsupported storage scheme %q, supported: %s", parsed.Scheme, strings.Join(schemes, ", "))
	}
	if parsed.Scheme != SchemeFile && parsed.Host == "" {
		return StorageBackendLocation{}, fmt.Errorf("%s location %q has no host", parsed.Scheme, uri)
	}

	loc := StorageBackendLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
	}
	if parsed.User != nil {
		loc.Auth = parsed.User.String()
	}
	return loc, nil
}

// String returns the URI with credentials redacted.
func (loc StorageBackendLocation) String() string {
	if loc.Auth == "" {
		return loc.Raw
	}
	parsed, err := url.Parse(loc.Raw)
	if err != nil {
		return loc.Scheme + "://" + loc.Host + loc.Path
	}
	return parsed.Redacted()
}

func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool accepts "true", "1" and "yes".
func (loc StorageBackendLocation) GetParamBool(name string) bool {
	switch strings.ToLower(loc.Query.Get(name)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

var (
	// ErrContentNotFound is returned when an object is not in the archive.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when no backend could serve a request.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned for malformed or unsupported location URIs.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// StorageBackend is a content-addressed archive.
type StorageBackend interface {
	Fetch(ctx context.Context, id ContentID, contentType ContentType) ([]byte, error)

	// Store saves data under ComputeID(data).
	Store(ctx context.Context, data []byte, contentType ContentType) (ContentID, error)

	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns the URI the backend was created from.
	LocationURI() string
}

// StorageBackendFactory creates storage backends.
type StorageBackendFactory interface {
	StorageBackendFor(location StorageBackendLocation) (StorageBackend, error)

	// CreateMultiBackend aggregates several locations into one backend.
	CreateMultiBackend(locations []StorageBackendLocation) (StorageBackend, error)
}
