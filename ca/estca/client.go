// Package estca enrolls device certificates with an EST (RFC 7030) server.
// It serves the SecondaryCA provisioning mode.
package estca

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.mozilla.org/pkcs7"
)

const (
	EndpointPrefix  = "/.well-known/est"
	CacertsEndpoint = "/cacerts"
	EnrollEndpoint  = "/simpleenroll"

	MimeTypePKCS7      = "application/pkcs7-mime"
	MimeTypePKCS10     = "application/pkcs10"
	EncodingTypeBase64 = "base64"

	TransferEncodingHeader = "Content-Transfer-Encoding"

	maxResponseSize = 1 << 20
)

var ErrEmptyResponse = errors.New("EST response contains no certificates")

// Client talks to one EST server.
type Client struct {
	log    *slog.Logger
	base   string
	token  []byte
	client *http.Client
}

// NewClient builds a client for addr, optionally under an arbitrary label
// (RFC 7030 section 3.2.2). Server certificates are checked against
// serverCAs and, when allowSystemCerts is set, the system pool.
func NewClient(log *slog.Logger, addr, label string, serverCAs []*x509.Certificate, allowSystemCerts bool, token []byte, timeout time.Duration) (*Client, error) {
	rootpool := x509.NewCertPool()
	if allowSystemCerts {
		var err error
		rootpool, err = x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("failed to add system cert pool: %w", err)
		}
	}
	for _, r := range serverCAs {
		rootpool.AddCert(r)
	}
	if len(serverCAs) == 0 && !allowSystemCerts {
		return nil, errors.New("no EST server CA provided")
	}

	base := strings.TrimSuffix(addr, "/") + EndpointPrefix
	if label != "" {
		base += "/" + label
	}

	return &Client{
		log:   log,
		base:  base,
		token: token,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					RootCAs:    rootpool,
					MinVersion: tls.VersionTLS12,
				},
			},
		},
	}, nil
}

// CaCerts fetches the current CA certificates of the server.
func (c *Client) CaCerts(ctx context.Context) ([]*x509.Certificate, error) {
	payload, err := c.request(ctx, http.MethodGet, c.base+CacertsEndpoint, "", "", nil)
	if err != nil {
		return nil, err
	}
	return parseSimplePkiResponse(payload)
}

// SimpleEnroll submits a DER PKCS#10 request and returns the issued
// certificate.
func (c *Client) SimpleEnroll(ctx context.Context, csrDER []byte) (*x509.Certificate, error) {
	body := []byte(base64.StdEncoding.EncodeToString(csrDER))
	payload, err := c.request(ctx, http.MethodPost, c.base+EnrollEndpoint, MimeTypePKCS10, EncodingTypeBase64, body)
	if err != nil {
		return nil, err
	}
	certs, err := parseSimplePkiResponse(payload)
	if err != nil {
		return nil, err
	}
	return certs[0], nil
}

func (c *Client) request(ctx context.Context, method, endpoint, contentType, transferEncoding string, body []byte) ([]byte, error) {
	c.log.Debug("sending EST request", "method", method, "endpoint", endpoint)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", MimeTypePKCS7)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if transferEncoding != "" {
		req.Header.Set(TransferEncodingHeader, transferEncoding)
	}
	if len(c.token) > 0 {
		req.Header.Set("Authorization", "Bearer "+string(c.token))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform EST request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read HTTP response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("EST server %s returned %s: %s", endpoint, resp.Status, strings.TrimSpace(string(payload)))
	}
	return payload, nil
}

// parseSimplePkiResponse extracts the certificates of a base64 certs-only
// CMC Simple PKI Response (RFC 5272).
func parseSimplePkiResponse(payload []byte) ([]*x509.Certificate, error) {
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(decoded, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 payload: %w", err)
	}
	p7, err := pkcs7.Parse(decoded[:n])
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKCS#7: %w", err)
	}
	if len(p7.Certificates) == 0 {
		return nil, ErrEmptyResponse
	}
	return p7.Certificates, nil
}
