package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/device-provisioning-backend/interfaces"
)

var (
	ErrUnknownProbe = errors.New("sim: no device attached to probe")
	ErrClosed       = errors.New("sim: session closed")
	ErrNotHalted    = errors.New("sim: core is not halted")
	ErrNotRunning   = errors.New("sim: no application running")
	ErrNoStream     = errors.New("sim: stream not started")
	ErrNoResponse   = errors.New("sim: no response pending")
)

// Transport attaches simulated devices to probe identifiers.
type Transport struct {
	log *slog.Logger

	mu       sync.Mutex
	devices  map[string]*Device
	fallback *Device
}

// New returns a transport. fallback, when not nil, answers probes with no
// device attached.
func New(log *slog.Logger, fallback *Device) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{log: log, devices: make(map[string]*Device), fallback: fallback}
}

// Attach places dev behind the probe serial or host id.
func (t *Transport) Attach(id string, dev *Device) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.devices[id] = dev
}

func (t *Transport) lookup(target interfaces.ProbeTarget) (*Device, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if dev, ok := t.devices[target.Serial]; ok && target.Serial != "" {
		return dev, true
	}
	if dev, ok := t.devices[target.Host]; ok && target.Host != "" {
		return dev, true
	}
	return t.fallback, t.fallback != nil
}

func (t *Transport) Connect(ctx context.Context, profile interfaces.DeviceProfile, target interfaces.ProbeTarget) (interfaces.ProbeSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dev, ok := t.lookup(target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProbe, target)
	}
	t.log.Debug("sim: connected", "target", target.String(), "device", profile.Device)
	return &session{dev: dev, profile: profile}, nil
}

type session struct {
	dev     *Device
	profile interfaces.DeviceProfile

	mu        sync.Mutex
	closed    bool
	halted    bool
	running   bool
	streaming bool
	pending   [][]byte
}

func (s *session) guard() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *session) ResetAndHalt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	s.halted, s.running, s.streaming, s.pending = true, false, false, nil
	return nil
}

func (s *session) ReadSerial() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	return append([]byte(nil), s.dev.serial...), nil
}

func (s *session) RunApplication(addr uint32, image []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	if !s.halted {
		return ErrNotHalted
	}
	if len(image) == 0 {
		return errors.New("sim: empty image")
	}
	if addr != s.profile.RAMAddress {
		return fmt.Errorf("sim: image loaded at %#08x, RAM starts at %#08x", addr, s.profile.RAMAddress)
	}
	s.halted, s.running = false, true
	return nil
}

func (s *session) StartStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	if !s.running {
		return ErrNotRunning
	}
	s.streaming = true
	return nil
}

func (s *session) StopStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	if !s.streaming {
		return ErrNoStream
	}
	s.streaming, s.pending = false, nil
	return nil
}

func (s *session) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	if !s.streaming {
		return ErrNoStream
	}
	reply, err := s.dev.handle(frame)
	if err != nil {
		return err
	}
	s.pending = append(s.pending, reply)
	return nil
}

func (s *session) Receive() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	if !s.streaming {
		return nil, ErrNoStream
	}
	if len(s.pending) == 0 {
		return nil, ErrNoResponse
	}
	reply := s.pending[0]
	s.pending = s.pending[1:]
	return reply, nil
}

func (s *session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	s.halted, s.running, s.streaming, s.pending = false, false, false, nil
	return nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	s.closed = true
	return nil
}
