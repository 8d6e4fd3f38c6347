package provisioner

import (
	"fmt"
	"log/slog"

	"github.com/ruteri/device-provisioning-backend/interfaces"
	"github.com/ruteri/device-provisioning-backend/protocol"
	"github.com/ruteri/device-provisioning-backend/request"
)

// session is the per-call state of one provisioning attempt. It never
// outlives Execute.
type session struct {
	id      string
	log     *slog.Logger
	req     *request.ProvisioningRequest
	profile interfaces.DeviceProfile

	transport interfaces.Transport
	ca        interfaces.CertificateAuthority

	probe     interfaces.ProbeSession
	streaming bool

	state   State
	serial  interfaces.DeviceSerial
	csr     []byte
	chain   *interfaces.CertificateChain
	written []string
}

func (s *session) transition(next State) {
	s.log.Debug("State transition", "from", s.state, "to", next)
	s.state = next
}

// exchange sends one command and decodes the matching response.
func (s *session) exchange(cmd protocol.Command, msg []byte) (protocol.Response, error) {
	if err := s.probe.Send(msg); err != nil {
		return protocol.Response{}, fail(ErrDeviceCommunication, fmt.Errorf("send %s: %w", cmd, err))
	}
	reply, err := s.probe.Receive()
	if err != nil {
		return protocol.Response{}, fail(ErrDeviceCommunication, fmt.Errorf("receive %s: %w", cmd, err))
	}
	resp, err := protocol.DecodeResponse(cmd, reply)
	if err != nil {
		return protocol.Response{}, fail(ErrDeviceCommunication, err)
	}
	s.log.Debug("Command completed", "command", cmd, "status", resp.Status, "payloadSize", len(resp.Payload))
	return resp, nil
}

// cleanup releases the probe: stop the stream if it was started, reset the
// device, close the session. Each call happens at most once per session and
// Close runs even when an earlier call fails or panics.
func (s *session) cleanup() []CleanupWarning {
	if s.probe == nil {
		return nil
	}
	s.log.Debug("State transition", "from", s.state, "to", StateCleanup)

	var warnings []CleanupWarning
	release := func(op string, fn func() error) {
		err := recoverCall(fn)
		if err == nil {
			return
		}
		s.log.Warn("Cleanup step failed", "op", op, "err", err)
		warnings = append(warnings, CleanupWarning{Op: op, Err: err})
	}

	probe := s.probe
	s.probe = nil
	if s.streaming {
		s.streaming = false
		release("stop_stream", probe.StopStream)
	}
	release("reset", probe.Reset)
	release("close", probe.Close)
	return warnings
}

// recoverCall runs fn and reports a panic as an error.
func recoverCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
