// Package provisioner implements the device provisioning orchestrator.
//
// An Orchestrator runs one provisioning session at a time. A session attaches
// to the device through a debug probe, starts the provisioning image from RAM,
// asks it to initialize NVM3, generate a key pair and a CSR, has the CSR signed
// by the certificate authority bound to the requested mode, and writes the
// returned device, batch and root certificates into NVM3.
//
// The steps of each mode form a Sequence. PrimaryCA (CPMS) and SecondaryCA
// (SERCA) share the same state machine:
//
//	Idle -> Connecting -> Connected -> NvmInit -> KeyGen -> CsrGen -> Signing
//	     -> NvmWrite(device) -> NvmWrite(batch) -> NvmWrite(root) [-> Verify] -> Done
//
// Any state may move to Failed. Cleanup (stop stream, reset, close) runs on
// every exit path once the probe is connected, and its errors are reported as
// CleanupWarning values without replacing the session outcome.
//
// Failures are returned as *ProvisioningError, which matches the kind
// sentinels (ErrNvmInitFailed, ErrCertificateAuthority, ...) and the
// underlying cause with errors.Is and errors.As.
package provisioner
