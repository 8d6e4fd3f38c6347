package localca

import (
	"context"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/device-provisioning-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pki")
	config, err := InitDirectory(dir, InitOptions{Organization: "Acme", Passphrase: []byte("pw"), DeviceValidityDays: 10})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ca.toml"), config)

	t.Setenv(PassphraseEnv, "pw")
	csr, _ := deviceCSR(t, "01")
	chain, err := New(nil).Issue(context.Background(), interfaces.IssueRequest{CSR: csr, DeviceSerial: "01", ConfigRef: config})
	require.NoError(t, err)

	batch, err := x509.ParseCertificate(chain.Batch)
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme"}, batch.Subject.Organization)

	_, err = InitDirectory(dir, InitOptions{})
	assert.ErrorContains(t, err, "already exists")

	key, err := os.ReadFile(filepath.Join(dir, "batch.key"))
	require.NoError(t, err)
	assert.Contains(t, string(key), "ARGON2 ENCRYPTED PRIVATE KEY")
}
