package estca

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ruteri/device-provisioning-backend/ca"
	"github.com/ruteri/device-provisioning-backend/cryptoutils"
	"github.com/ruteri/device-provisioning-backend/interfaces"
)

const Name = "est-ca"

var (
	ErrIssuerNotFound = errors.New("issuing CA of enrolled certificate not in cacerts")
	ErrRootNotFound   = errors.New("no self-signed root in cacerts")
)

// Authority implements interfaces.CertificateAuthority on top of an EST
// server. The device chain is the enrolled certificate, its issuing CA and
// the root found in /cacerts.
type Authority struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Authority {
	if log == nil {
		log = slog.Default()
	}
	return &Authority{log: log}
}

func (a *Authority) Name() string { return Name }

func (a *Authority) client(configRef string) (*Client, error) {
	cfg, err := ca.LoadConfig(configRef)
	if err != nil {
		return nil, err
	}
	est, err := cfg.ESTSection()
	if err != nil {
		return nil, err
	}

	var serverCAs []*x509.Certificate
	if est.CABundle != "" {
		bundle, err := os.ReadFile(est.CABundle)
		if err != nil {
			return nil, fmt.Errorf("failed to read EST CA bundle: %w", err)
		}
		serverCAs, err = cryptoutils.ParseCertificates(bundle)
		if err != nil {
			return nil, fmt.Errorf("EST CA bundle %s: %w", est.CABundle, err)
		}
	}

	var token []byte
	if est.TokenFile != "" {
		token, err = os.ReadFile(est.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read EST token: %w", err)
		}
		token = bytes.TrimSpace(token)
	}

	return NewClient(a.log, est.Server, est.Label, serverCAs, est.UseSystemRoots, token, est.Timeout)
}

func (a *Authority) Issue(ctx context.Context, req interfaces.IssueRequest) (*interfaces.CertificateChain, error) {
	if _, err := cryptoutils.ParseCSR(req.CSR); err != nil {
		return nil, err
	}

	client, err := a.client(req.ConfigRef)
	if err != nil {
		return nil, err
	}

	cacerts, err := client.CaCerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("cacerts: %w", err)
	}
	device, err := client.SimpleEnroll(ctx, req.CSR)
	if err != nil {
		return nil, fmt.Errorf("simpleenroll: %w", err)
	}

	batch, root, err := chainFor(device, cacerts)
	if err != nil {
		return nil, err
	}

	a.log.Info("enrolled device certificate",
		"device_serial", req.DeviceSerial,
		"issuer", batch.Subject.CommonName,
		"root", root.Subject.CommonName)

	return &interfaces.CertificateChain{
		Device: device.Raw,
		Batch:  batch.Raw,
		Root:   root.Raw,
	}, nil
}

// chainFor picks the CA that signed device and the self-signed root above it.
func chainFor(device *x509.Certificate, cacerts []*x509.Certificate) (batch, root *x509.Certificate, err error) {
	for _, c := range cacerts {
		if c.IsCA && !selfSigned(c) && device.CheckSignatureFrom(c) == nil {
			batch = c
			break
		}
	}
	if batch == nil {
		return nil, nil, ErrIssuerNotFound
	}
	for _, c := range cacerts {
		if selfSigned(c) && batch.CheckSignatureFrom(c) == nil {
			return batch, c, nil
		}
	}
	return nil, nil, ErrRootNotFound
}

func selfSigned(c *x509.Certificate) bool {
	return bytes.Equal(c.RawSubject, c.RawIssuer) && c.CheckSignatureFrom(c) == nil
}
