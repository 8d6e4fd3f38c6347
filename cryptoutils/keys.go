package cryptoutils

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// SealedKeyBlock is the PEM type of a passphrase-protected private key.
const SealedKeyBlock = "ARGON2 ENCRYPTED PRIVATE KEY"

const (
	saltLen  = 16
	nonceLen = 12
)

var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key")

func sealingKey(passphrase, salt []byte) []byte {
	// Parameters: time=1, memory=64*1024, threads=4, keyLen=32
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

// SealPrivateKey encrypts key as PKCS#8 with AES-256-GCM under an Argon2id
// key derived from passphrase. Layout: [salt][nonce][ciphertext].
func SealPrivateKey(key crypto.Signer, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	buf := make([]byte, saltLen+nonceLen, saltLen+nonceLen+len(der)+16)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := newGCM(sealingKey(passphrase, buf[:saltLen]))
	if err != nil {
		return nil, err
	}
	sealed := aead.Seal(buf, buf[saltLen:], der, []byte(SealedKeyBlock))
	return pem.EncodeToMemory(&pem.Block{Type: SealedKeyBlock, Bytes: sealed}), nil
}

func openSealed(data, passphrase []byte) ([]byte, error) {
	if len(data) < saltLen+nonceLen {
		return nil, ErrWrongPassphrase
	}
	aead, err := newGCM(sealingKey(passphrase, data[:saltLen]))
	if err != nil {
		return nil, err
	}
	der, err := aead.Open(nil, data[saltLen:saltLen+nonceLen], data[saltLen+nonceLen:], []byte(SealedKeyBlock))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return der, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}
