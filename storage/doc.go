// Package storage archives provisioning artifacts in content-addressed
// storage backends.
//
// Every issued certificate (PEM) and a JSON record of each successful
// provisioning session are stored under their SHA-256 content ID, separated
// by content type.
//
// # Storage URI Format
//
// Backends are selected with URIs:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//
//   - file:///var/lib/provisioning/archive
//   - s3://bucket-name/prefix/?region=eu-central-1&endpoint=minio.local:9000
//   - ipfs://127.0.0.1:5001/?timeout=30s
//   - vault://vault.example.com:8200/secret/provisioning?tls=true
//
// Several URIs can be combined with StorageBackendFactory.CreateMultiBackend:
// writes go to every available backend, reads are served by the first one
// that has the content.
package storage
