package provisioner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/ruteri/device-provisioning-backend/interfaces"
	"github.com/ruteri/device-provisioning-backend/protocol"
	"github.com/ruteri/device-provisioning-backend/request"
)

// KeyGenAccepted lists the GenerateKeyPair statuses treated as success:
// a fresh key, or a key left by an earlier provisioning attempt.
var KeyGenAccepted = []uint32{protocol.StatusOK, protocol.StatusKeyExists}

// Step is one state of a sequence together with the work done in it.
type Step struct {
	State State
	Run   func(ctx context.Context, s *session) error
}

// Sequence is the ordered list of steps run for one provisioning mode.
type Sequence struct {
	Mode  request.Mode
	Steps []Step
}

// States returns the states visited on success, in order.
func (q Sequence) States() []State {
	states := make([]State, 0, len(q.Steps))
	for _, st := range q.Steps {
		states = append(states, st.State)
	}
	return states
}

// PrimaryCASequence is the CPMS flow. The product OID is forwarded to the CA.
func PrimaryCASequence() Sequence {
	return Sequence{
		Mode: request.PrimaryCA,
		Steps: []Step{
			connectStep(),
			bootStep(),
			nvmInitStep(),
			keyGenStep(KeyGenAccepted),
			csrGenStep(),
			signStep(true),
			nvmWriteStep(StateNvmWriteDevice),
			nvmWriteStep(StateNvmWriteBatch),
			nvmWriteStep(StateNvmWriteRoot),
		},
	}
}

// SecondaryCASequence is the SERCA flow: EST enrollment without a product
// OID, followed by a read-back of the device certificate.
func SecondaryCASequence() Sequence {
	return Sequence{
		Mode: request.SecondaryCA,
		Steps: []Step{
			connectStep(),
			bootStep(),
			nvmInitStep(),
			keyGenStep(KeyGenAccepted),
			csrGenStep(),
			signStep(false),
			nvmWriteStep(StateNvmWriteDevice),
			nvmWriteStep(StateNvmWriteBatch),
			nvmWriteStep(StateNvmWriteRoot),
			verifyStep(),
		},
	}
}

// SequenceFor returns the sequence of mode.
func SequenceFor(mode request.Mode) (Sequence, bool) {
	switch mode {
	case request.PrimaryCA:
		return PrimaryCASequence(), true
	case request.SecondaryCA:
		return SecondaryCASequence(), true
	default:
		return Sequence{}, false
	}
}

func connectStep() Step {
	return Step{State: StateConnecting, Run: func(ctx context.Context, s *session) error {
		probe, err := s.transport.Connect(ctx, s.profile, s.req.Target())
		if err != nil {
			return fail(ErrConnection, err)
		}
		if probe == nil {
			return fail(ErrConnection, errors.New("transport returned no session"))
		}
		s.probe = probe
		s.log.Info("Connected to probe", "target", s.req.Target().String(), "device", s.profile.Device)
		return nil
	}}
}

// bootStep halts the core, reads the serial and starts the provisioning
// image with its response stream.
func bootStep() Step {
	return Step{State: StateConnected, Run: func(ctx context.Context, s *session) error {
		if err := s.probe.ResetAndHalt(); err != nil {
			return fail(ErrDeviceCommunication, fmt.Errorf("reset and halt: %w", err))
		}

		raw, err := s.probe.ReadSerial()
		if err != nil {
			return fail(ErrDeviceCommunication, fmt.Errorf("read serial: %w", err))
		}
		if len(raw) == 0 {
			return fail(ErrDeviceCommunication, errors.New("read serial: empty serial"))
		}
		s.serial = interfaces.NewDeviceSerial(raw)
		s.log = s.log.With("serial", s.serial.String())

		if err := s.probe.RunApplication(s.profile.RAMAddress, s.req.Image()); err != nil {
			return fail(ErrDeviceCommunication, fmt.Errorf("run application at %#08x: %w", s.profile.RAMAddress, err))
		}
		if err := s.probe.StartStream(); err != nil {
			return fail(ErrDeviceCommunication, fmt.Errorf("start stream: %w", err))
		}
		s.streaming = true
		s.log.Info("Provisioning image running", "address", fmt.Sprintf("%#08x", s.profile.RAMAddress), "size", s.req.ImageSize())
		return nil
	}}
}

func nvmInitStep() Step {
	return Step{State: StateNvmInit, Run: func(ctx context.Context, s *session) error {
		resp, err := s.exchange(protocol.CmdInitializeNvm, protocol.EncodeInitializeNvm(s.profile.NVMStart, s.profile.NVMSize))
		if err != nil {
			return err
		}
		if !resp.OK() {
			return fail(ErrNvmInitFailed, &StatusError{Command: resp.Command, Status: resp.Status})
		}
		return nil
	}}
}

func keyGenStep(accepted []uint32) Step {
	return Step{State: StateKeyGen, Run: func(ctx context.Context, s *session) error {
		resp, err := s.exchange(protocol.CmdGenerateKeyPair, protocol.EncodeGenerateKeyPair(protocol.DeviceKeyID))
		if err != nil {
			return err
		}
		if !slices.Contains(accepted, resp.Status) {
			return fail(ErrKeyGenFailed, &StatusError{Command: resp.Command, Status: resp.Status})
		}
		if resp.Status == protocol.StatusKeyExists {
			s.log.Info("Device key already present, reusing it")
		}
		return nil
	}}
}

func csrGenStep() Step {
	return Step{State: StateCsrGen, Run: func(ctx context.Context, s *session) error {
		resp, err := s.exchange(protocol.CmdGenerateCsr, protocol.EncodeGenerateCsr(protocol.DeviceKeyID))
		if err != nil {
			return err
		}
		if !resp.OK() {
			return fail(ErrCsrGenFailed, &StatusError{Command: resp.Command, Status: resp.Status})
		}
		if len(resp.Payload) == 0 {
			return fail(ErrCsrGenFailed, errors.New("empty CSR payload"))
		}
		s.csr = resp.Payload
		return nil
	}}
}

func signStep(withProductID bool) Step {
	return Step{State: StateSigning, Run: func(ctx context.Context, s *session) error {
		issue := interfaces.IssueRequest{
			CSR:          s.csr,
			DeviceSerial: s.serial,
			ConfigRef:    s.req.CAConfigRef(),
		}
		if withProductID {
			issue.ProductID = s.req.ProductID()
		}

		chain, err := s.ca.Issue(ctx, issue)
		if err != nil {
			return fail(ErrCertificateAuthority, err)
		}
		if chain == nil || len(chain.Device) == 0 || len(chain.Batch) == 0 || len(chain.Root) == 0 {
			return fail(ErrCertificateAuthority, fmt.Errorf("%s returned an incomplete certificate chain", s.ca.Name()))
		}
		s.chain = chain
		s.log.Info("Certificate issued", "ca", s.ca.Name())
		return nil
	}}
}

func artifactFor(state State) (name string, object uint32, data func(*interfaces.CertificateChain) []byte) {
	switch state {
	case StateNvmWriteDevice:
		return ArtifactDevice, protocol.DeviceCertObject, func(c *interfaces.CertificateChain) []byte { return c.Device }
	case StateNvmWriteBatch:
		return ArtifactBatch, protocol.BatchCertObject, func(c *interfaces.CertificateChain) []byte { return c.Batch }
	default:
		return ArtifactRoot, protocol.RootCertObject, func(c *interfaces.CertificateChain) []byte { return c.Root }
	}
}

func nvmWriteStep(state State) Step {
	name, object, data := artifactFor(state)
	return Step{State: state, Run: func(ctx context.Context, s *session) error {
		resp, err := s.exchange(protocol.CmdWriteNvm, protocol.EncodeWriteNvm(object, data(s.chain)))
		if err != nil {
			var se *stepError
			if errors.As(err, &se) {
				se.artifact = name
			}
			return err
		}
		if !resp.OK() {
			return &stepError{kind: ErrNvmWriteFailed, artifact: name, err: &StatusError{Command: resp.Command, Status: resp.Status}}
		}
		s.written = append(s.written, name)
		return nil
	}}
}

func verifyStep() Step {
	return Step{State: StateVerify, Run: func(ctx context.Context, s *session) error {
		resp, err := s.exchange(protocol.CmdReadNvm, protocol.EncodeReadNvm(protocol.DeviceCertObject))
		if err != nil {
			return err
		}
		if !resp.OK() {
			return fail(ErrNvmVerifyFailed, &StatusError{Command: resp.Command, Status: resp.Status})
		}
		if !bytes.Equal(resp.Payload, s.chain.Device) {
			return fail(ErrNvmVerifyFailed, errors.New("device certificate read back does not match"))
		}
		return nil
	}}
}
