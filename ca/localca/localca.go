// Package localca issues device certificates from a batch CA whose key and
// certificates live on local disk. It serves the PrimaryCA provisioning mode.
package localca

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/device-provisioning-backend/ca"
	"github.com/ruteri/device-provisioning-backend/cryptoutils"
	"github.com/ruteri/device-provisioning-backend/interfaces"
)

const Name = "local-ca"

// noWellDefinedExpiry is the RFC 5280 value for certificates that never expire.
var noWellDefinedExpiry = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

var ErrBatchNotSignedByRoot = errors.New("batch certificate is not signed by root")

// Authority implements interfaces.CertificateAuthority. Configuration is read
// per issuance so an operator can rotate the batch CA without a restart.
type Authority struct {
	log *slog.Logger
	now func() time.Time
}

func New(log *slog.Logger) *Authority {
	if log == nil {
		log = slog.Default()
	}
	return &Authority{log: log, now: time.Now}
}

func (a *Authority) Name() string { return Name }

type batchCA struct {
	root    *x509.Certificate
	batch   *x509.Certificate
	key     crypto.Signer
	org     string
	expires func(time.Time) time.Time
}

func loadBatchCA(configRef string) (*batchCA, error) {
	cfg, err := ca.LoadConfig(configRef)
	if err != nil {
		return nil, err
	}
	local, err := cfg.LocalSection()
	if err != nil {
		return nil, err
	}

	root, err := readCertificate(local.RootCert)
	if err != nil {
		return nil, err
	}
	batch, err := readCertificate(local.BatchCert)
	if err != nil {
		return nil, err
	}
	if err := batch.CheckSignatureFrom(root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBatchNotSignedByRoot, err)
	}

	keyPEM, err := os.ReadFile(local.BatchKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch key: %w", err)
	}
	var passphrase []byte
	if local.PassphraseEnv != "" {
		passphrase = []byte(os.Getenv(local.PassphraseEnv))
	}
	key, err := cryptoutils.ParsePrivateKey(keyPEM, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch key: %w", err)
	}

	days := local.ValidityDays
	return &batchCA{
		root:  root,
		batch: batch,
		key:   key,
		org:   local.Organization,
		expires: func(start time.Time) time.Time {
			if days == 0 {
				return noWellDefinedExpiry
			}
			return start.AddDate(0, 0, days)
		},
	}, nil
}

func readCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	return cryptoutils.ParseCertificate(data)
}

// Issue signs the device CSR with the batch key. A product ID is embedded as
// a certificate policy.
func (a *Authority) Issue(ctx context.Context, req interfaces.IssueRequest) (*interfaces.CertificateChain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bca, err := loadBatchCA(req.ConfigRef)
	if err != nil {
		return nil, err
	}

	csr, err := cryptoutils.ParseCSR(req.CSR)
	if err != nil {
		return nil, err
	}

	serialNumber, err := cryptoutils.NewSerialNumber()
	if err != nil {
		return nil, err
	}

	notBefore := a.now().Add(-time.Minute).UTC()
	subject := pkix.Name{
		CommonName:   req.DeviceSerial.String(),
		SerialNumber: req.DeviceSerial.String(),
	}
	if bca.org != "" {
		subject.Organization = []string{bca.org}
	}

	template := &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               subject,
		NotBefore:             notBefore,
		NotAfter:              bca.expires(notBefore),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyAgreement,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	if req.ProductID != "" {
		oid, err := x509.ParseOID(req.ProductID)
		if err != nil {
			return nil, fmt.Errorf("invalid product OID %q: %w", req.ProductID, err)
		}
		template.Policies = []x509.OID{oid}
		if ident, ok := asn1OID(req.ProductID); ok {
			template.PolicyIdentifiers = []asn1.ObjectIdentifier{ident}
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, bca.batch, csr.PublicKey, bca.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign device certificate: %w", err)
	}

	a.log.Info("issued device certificate",
		"device_serial", req.DeviceSerial,
		"batch", bca.batch.Subject.CommonName,
		"product_id", req.ProductID,
		"not_after", template.NotAfter)

	return &interfaces.CertificateChain{
		Device: der,
		Batch:  bca.batch.Raw,
		Root:   bca.root.Raw,
	}, nil
}

// asn1OID mirrors a dotted OID into the legacy PolicyIdentifiers form, which
// cannot hold arcs above MaxInt.
func asn1OID(dotted string) (asn1.ObjectIdentifier, bool) {
	parts := strings.Split(dotted, ".")
	ident := make(asn1.ObjectIdentifier, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, false
		}
		ident = append(ident, n)
	}
	return ident, true
}
