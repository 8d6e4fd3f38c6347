package provisioner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ruteri/device-provisioning-backend/protocol"
)

// Failure kinds. A *ProvisioningError matches exactly one of them with
// errors.Is.
var (
	ErrUnsupportedDevice    = errors.New("unsupported device")
	ErrUnsupportedMode      = errors.New("unsupported provisioning mode")
	ErrConnection           = errors.New("connection failed")
	ErrDeviceCommunication  = errors.New("device communication failed")
	ErrNvmInitFailed        = errors.New("NVM initialization failed")
	ErrKeyGenFailed         = errors.New("key generation failed")
	ErrCsrGenFailed         = errors.New("CSR generation failed")
	ErrCertificateAuthority = errors.New("certificate authority error")
	ErrNvmWriteFailed       = errors.New("NVM write failed")
	ErrNvmVerifyFailed      = errors.New("NVM verification failed")
	ErrUnexpectedFault      = errors.New("unexpected fault")
)

// StatusError is a non-accepted status reported by the provisioning image.
type StatusError struct {
	Command protocol.Command
	Status  uint32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Command, e.Status)
}

// ProvisioningError describes a failed session: the step that failed, the
// failure kind and the underlying cause.
type ProvisioningError struct {
	SessionID string
	Step      State
	Kind      error

	// Artifact names the certificate being written for NVM write failures.
	Artifact string

	Err      error
	Warnings []CleanupWarning
}

func (e *ProvisioningError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provisioning failed at %s: %v", e.Step, e.Kind)
	if e.Artifact != "" {
		fmt.Fprintf(&b, " (%s)", e.Artifact)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ProvisioningError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Status returns the raw device status when the failure came from one.
func (e *ProvisioningError) Status() (uint32, bool) {
	var serr *StatusError
	if errors.As(e.Err, &serr) {
		return serr.Status, true
	}
	return 0, false
}

// CleanupWarning is a non-fatal error raised while releasing the probe.
type CleanupWarning struct {
	Op  string
	Err error
}

func (w CleanupWarning) Error() string {
	return fmt.Sprintf("cleanup %s: %v", w.Op, w.Err)
}

func (w CleanupWarning) Unwrap() error {
	return w.Err
}

// stepError is what steps return; the orchestrator completes it into a
// ProvisioningError.
type stepError struct {
	kind     error
	artifact string
	err      error
}

func (e *stepError) Error() string {
	if e.err == nil {
		return e.kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.kind, e.err)
}

func fail(kind, err error) error {
	return &stepError{kind: kind, err: err}
}
