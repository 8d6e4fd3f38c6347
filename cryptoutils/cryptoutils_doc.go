// Package cryptoutils provides the certificate and key handling shared by the
// certificate authorities and the simulated device.
//
// # Certificates
//
// ParseCertificate and ParseCSR accept both PEM and DER input, since devices
// exchange DER while operators keep PEM files. CreateCACertificate issues
// root and batch CA certificates, CreateCSR builds device requests.
//
// # Sealed keys
//
// CA private keys may be stored sealed with a passphrase:
//
//	-----BEGIN ARGON2 ENCRYPTED PRIVATE KEY-----
//	[salt (16 bytes)][nonce (12 bytes)][AES-256-GCM(PKCS#8)]
//
// The AES key is derived with Argon2id (time=1, memory=64 MiB, threads=4).
// ParsePrivateKey opens sealed keys transparently when given the passphrase.
package cryptoutils
