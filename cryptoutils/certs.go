package cryptoutils

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// PEM block types.
const (
	CertificateBlock = "CERTIFICATE"
	CSRBlock         = "CERTIFICATE REQUEST"
	PrivateKeyBlock  = "PRIVATE KEY"
	ECKeyBlock       = "EC PRIVATE KEY"
)

// toDER returns the DER body of a PEM block of the given type, or data itself
// when it is not PEM.
func toDER(data []byte, blockType string) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return data, nil
	}
	if block.Type != blockType {
		return nil, fmt.Errorf("unexpected PEM block %q, want %q", block.Type, blockType)
	}
	return block.Bytes, nil
}

// ParseCertificate accepts a PEM or DER certificate.
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	der, err := toDER(data, CertificateBlock)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// ParseCertificates parses every CERTIFICATE block of a PEM bundle.
func ParseCertificates(bundle []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, bundle = pem.Decode(bundle)
		if block == nil {
			break
		}
		if block.Type != CertificateBlock {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificates found")
	}
	return certs, nil
}

// ParseCSR accepts a PEM or DER certificate request and verifies its
// self-signature.
func ParseCSR(data []byte) (*x509.CertificateRequest, error) {
	der, err := toDER(data, CSRBlock)
	if err != nil {
		return nil, err
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSR: %w", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("CSR signature verification failed: %w", err)
	}
	return csr, nil
}

// EncodeCertificatePEM wraps a DER certificate in a PEM block.
func EncodeCertificatePEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: CertificateBlock, Bytes: der})
}

// EncodePrivateKeyPEM marshals key as unencrypted PKCS#8.
func EncodePrivateKeyPEM(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: PrivateKeyBlock, Bytes: der}), nil
}

// ParsePrivateKey parses a PKCS#8, SEC 1 or PKCS#1 private key in PEM form.
// Keys sealed with SealPrivateKey are opened with passphrase.
func ParsePrivateKey(data, passphrase []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode private key PEM block")
	}

	der := block.Bytes
	switch block.Type {
	case SealedKeyBlock:
		if len(passphrase) == 0 {
			return nil, errors.New("private key is sealed and no passphrase was given")
		}
		opened, err := openSealed(block.Bytes, passphrase)
		if err != nil {
			return nil, err
		}
		der = opened
	case ECKeyBlock:
		key, err := x509.ParseECPrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EC private key: %w", err)
		}
		return key, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		rsaKey, rsaErr := x509.ParsePKCS1PrivateKey(der)
		if rsaErr != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return rsaKey, nil
	}
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		return k, nil
	case *rsa.PrivateKey:
		return k, nil
	case crypto.Signer:
		return k, nil
	default:
		return nil, errors.New("private key cannot sign")
	}
}

// NewSerialNumber returns a random 128-bit certificate serial number.
func NewSerialNumber() (*big.Int, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serialNumber, nil
}

// CreateCACertificate issues a CA certificate for key. A nil parent makes it
// self-signed.
func CreateCACertificate(key crypto.Signer, subject pkix.Name, validity time.Duration, maxPathLen int, parent *x509.Certificate, parentKey crypto.Signer) ([]byte, error) {
	serialNumber, err := NewSerialNumber()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               subject,
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(validity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            maxPathLen,
		MaxPathLenZero:        maxPathLen == 0,
	}

	if parent == nil {
		parent, parentKey = template, key
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, key.Public(), parentKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	return der, nil
}

// CreateCSR builds a DER certificate request for key with the given common
// name.
func CreateCSR(key crypto.Signer, cn string) ([]byte, error) {
	template := x509.CertificateRequest{
		Subject: pkix.Name{CommonName: cn},
	}
	return x509.CreateCertificateRequest(rand.Reader, &template, key)
}
