package interfaces

import "context"

// IssueRequest is the input of a certificate issuance.
type IssueRequest struct {
	// CSR is the DER-encoded PKCS#10 request generated on-device.
	CSR []byte

	DeviceSerial DeviceSerial

	// ConfigRef references the CA client configuration (a TOML file path).
	ConfigRef string

	// ProductID is the dotted product OID, set only for PrimaryCA issuance.
	ProductID string
}

// CertificateChain is the set of DER certificates written into device NVM.
type CertificateChain struct {
	Device []byte
	Batch  []byte
	Root   []byte
}

// CertificateAuthority issues device certificates.
type CertificateAuthority interface {
	Issue(ctx context.Context, req IssueRequest) (*CertificateChain, error)

	// Name returns identifier for logging.
	Name() string
}
