// Package interfaces defines the contracts between the provisioning
// orchestrator and its collaborators, without implementation details.
//
// # Device Interfaces
//
//   - DeviceProfile: static per-SoC constants (J-Link device name, RAM load
//     address, NVM3 region, serial number location)
//   - Transport / ProbeSession: a debug-probe session able to reset and halt
//     the core, inject an image into RAM and exchange length-framed messages
//     with the running image over an RTT-style stream
//
// # Certificate Authority Interfaces
//
//   - CertificateAuthority: turns a device CSR into a device, batch and root
//     certificate chain
//
// # Storage Interfaces
//
//   - StorageBackend: content-addressed storage used to archive issued
//     certificates and provisioning records
//   - StorageBackendFactory: creates storage backends from URI strings
package interfaces
