package estca

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/device-provisioning-backend/cryptoutils"
	"github.com/ruteri/device-provisioning-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"
	"go.uber.org/atomic"
)

type estServer struct {
	srv      *httptest.Server
	root     *x509.Certificate
	batch    *x509.Certificate
	batchKey *ecdsa.PrivateKey
	cacerts  []byte
	enrolls  atomic.Int32
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func newESTServer(t *testing.T, token string) *estServer {
	t.Helper()
	s := &estServer{}

	rootKey := newKey(t)
	rootDER, err := cryptoutils.CreateCACertificate(rootKey, pkix.Name{CommonName: "EST Root"}, time.Hour, 1, nil, nil)
	require.NoError(t, err)
	s.root, err = x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	s.batchKey = newKey(t)
	batchDER, err := cryptoutils.CreateCACertificate(s.batchKey, pkix.Name{CommonName: "EST Issuing"}, time.Hour, 0, s.root, rootKey)
	require.NoError(t, err)
	s.batch, err = x509.ParseCertificate(batchDER)
	require.NoError(t, err)

	s.cacerts, err = pkcs7.DegenerateCertificate(append(append([]byte{}, rootDER...), batchDER...))
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/est/wisun/cacerts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", MimeTypePKCS7)
		_, _ = w.Write([]byte(base64.StdEncoding.EncodeToString(s.cacerts)))
	})
	mux.HandleFunc("POST /.well-known/est/wisun/simpleenroll", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Content-Type") != MimeTypePKCS10 || r.Header.Get(TransferEncodingHeader) != EncodingTypeBase64 {
			http.Error(w, "bad content type", http.StatusUnsupportedMediaType)
			return
		}
		body, _ := io.ReadAll(r.Body)
		der, err := base64.StdEncoding.DecodeString(string(body))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		csr, err := x509.ParseCertificateRequest(der)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		serial, _ := cryptoutils.NewSerialNumber()
		cert, err := x509.CreateCertificate(rand.Reader, &x509.Certificate{
			SerialNumber: serial,
			Subject:      csr.Subject,
			NotBefore:    time.Now().Add(-time.Minute),
			NotAfter:     time.Now().Add(time.Hour),
		}, s.batch, csr.PublicKey, s.batchKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		p7, _ := pkcs7.DegenerateCertificate(cert)
		s.enrolls.Inc()
		w.Header().Set("Content-Type", MimeTypePKCS7)
		_, _ = w.Write([]byte(base64.StdEncoding.EncodeToString(p7)))
	})

	s.srv = httptest.NewTLSServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *estServer) writeConfig(t *testing.T, token string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "est-ca.pem"), cryptoutils.EncodeCertificatePEM(s.srv.Certificate().Raw), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "token"), []byte(token+"\n"), 0o600))

	path := filepath.Join(dir, "ca.toml")
	content := fmt.Sprintf(`[est]
server = %q
ca_bundle = "est-ca.pem"
token_file = "token"
label = "wisun"
timeout_seconds = 5
`, s.srv.URL)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func deviceCSR(t *testing.T, cn string) []byte {
	t.Helper()
	csr, err := cryptoutils.CreateCSR(newKey(t), cn)
	require.NoError(t, err)
	return csr
}

func TestIssue(t *testing.T) {
	s := newESTServer(t, "s3cret")
	config := s.writeConfig(t, "s3cret")

	authority := New(nil)
	assert.Equal(t, Name, authority.Name())

	chain, err := authority.Issue(context.Background(), interfaces.IssueRequest{
		CSR:          deviceCSR(t, "0011223344556677"),
		DeviceSerial: "0011223344556677",
		ConfigRef:    config,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), s.enrolls.Load())

	assert.Equal(t, s.batch.Raw, chain.Batch)
	assert.Equal(t, s.root.Raw, chain.Root)

	device, err := x509.ParseCertificate(chain.Device)
	require.NoError(t, err)
	assert.Equal(t, "0011223344556677", device.Subject.CommonName)
	assert.NoError(t, device.CheckSignatureFrom(s.batch))
}

func TestIssueRejectedToken(t *testing.T) {
	s := newESTServer(t, "s3cret")
	config := s.writeConfig(t, "wrong")

	_, err := New(nil).Issue(context.Background(), interfaces.IssueRequest{
		CSR:       deviceCSR(t, "01"),
		ConfigRef: config,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Zero(t, s.enrolls.Load())
}

func TestIssueInvalidCSR(t *testing.T) {
	s := newESTServer(t, "s3cret")
	_, err := New(nil).Issue(context.Background(), interfaces.IssueRequest{
		CSR:       []byte("junk"),
		ConfigRef: s.writeConfig(t, "s3cret"),
	})
	assert.Error(t, err)
}

func TestIssueCancelled(t *testing.T) {
	s := newESTServer(t, "s3cret")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(nil).Issue(ctx, interfaces.IssueRequest{
		CSR:       deviceCSR(t, "01"),
		ConfigRef: s.writeConfig(t, "s3cret"),
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChainFor(t *testing.T) {
	s := newESTServer(t, "")
	serial, err := cryptoutils.NewSerialNumber()
	require.NoError(t, err)
	leafKey := newKey(t)
	der, err := x509.CreateCertificate(rand.Reader, &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "leaf"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
	}, s.batch, leafKey.Public(), s.batchKey)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	batch, root, err := chainFor(leaf, []*x509.Certificate{s.root, s.batch})
	require.NoError(t, err)
	assert.Equal(t, s.batch, batch)
	assert.Equal(t, s.root, root)

	_, _, err = chainFor(leaf, []*x509.Certificate{s.root})
	assert.ErrorIs(t, err, ErrIssuerNotFound)

	_, _, err = chainFor(leaf, []*x509.Certificate{s.batch})
	assert.ErrorIs(t, err, ErrRootNotFound)
}

func TestParseSimplePkiResponse(t *testing.T) {
	_, err := parseSimplePkiResponse([]byte("!!!"))
	assert.Error(t, err)

	_, err = parseSimplePkiResponse([]byte(base64.StdEncoding.EncodeToString([]byte("not pkcs7"))))
	assert.Error(t, err)
}
