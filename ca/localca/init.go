package localca

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ruteri/device-provisioning-backend/cryptoutils"
)

// PassphraseEnv is the variable named in generated configurations.
const PassphraseEnv = "BATCH_KEY_PASSPHRASE"

// InitOptions controls InitDirectory.
type InitOptions struct {
	Organization string

	// Passphrase seals the batch key; empty writes it in the clear.
	Passphrase []byte

	// CAValidity of the generated root and batch certificates.
	CAValidity time.Duration

	// DeviceValidityDays is written to validity_days.
	DeviceValidityDays int
}

// InitDirectory generates a root CA, a batch CA and a ca.toml referencing
// them in dir, and returns the configuration path. Existing files are never
// overwritten.
func InitDirectory(dir string, opts InitOptions) (string, error) {
	if opts.CAValidity <= 0 {
		opts.CAValidity = 20 * 365 * 24 * time.Hour
	}
	if opts.Organization == "" {
		opts.Organization = "Device Provisioning"
	}

	files := map[string][]byte{}
	configPath := filepath.Join(dir, "ca.toml")
	for _, name := range []string{"root.pem", "batch.pem", "batch.key", "ca.toml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return "", fmt.Errorf("%s already exists in %s", name, dir)
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}

	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return "", err
	}
	rootDER, err := cryptoutils.CreateCACertificate(rootKey, pkix.Name{
		CommonName:   opts.Organization + " Root CA",
		Organization: []string{opts.Organization},
	}, opts.CAValidity, 1, nil, nil)
	if err != nil {
		return "", err
	}
	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return "", err
	}

	batchKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", err
	}
	batchDER, err := cryptoutils.CreateCACertificate(batchKey, pkix.Name{
		CommonName:   opts.Organization + " Batch CA " + time.Now().UTC().Format("2006-01-02"),
		Organization: []string{opts.Organization},
	}, opts.CAValidity, 0, root, rootKey)
	if err != nil {
		return "", err
	}

	if len(opts.Passphrase) > 0 {
		files["batch.key"], err = cryptoutils.SealPrivateKey(batchKey, opts.Passphrase)
	} else {
		files["batch.key"], err = cryptoutils.EncodePrivateKeyPEM(batchKey)
	}
	if err != nil {
		return "", err
	}
	files["root.pem"] = cryptoutils.EncodeCertificatePEM(rootDER)
	files["batch.pem"] = cryptoutils.EncodeCertificatePEM(batchDER)
	files["ca.toml"] = fmt.Appendf(nil, `[local]
root_cert = "root.pem"
batch_cert = "batch.pem"
batch_key = "batch.key"
passphrase_env = %q
validity_days = %d
organization = %q
`, PassphraseEnv, opts.DeviceValidityDays, opts.Organization)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
			return "", err
		}
	}
	return configPath, nil
}
