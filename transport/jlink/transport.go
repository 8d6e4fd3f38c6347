package jlink

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ruteri/device-provisioning-backend/interfaces"
)

var (
	ErrClosed       = errors.New("jlink: session closed")
	ErrNoStream     = errors.New("jlink: RTT stream not started")
	ErrStreamActive = errors.New("jlink: RTT stream already started")
	ErrBadImage     = errors.New("jlink: image has no vector table")
)

// Transport connects to J-Link probes.
type Transport struct {
	cfg      Config
	runner   Runner
	resolver *Resolver
	log      *slog.Logger
}

// New returns a transport using the J-Link tools found through cfg. A nil
// resolver disables SRV lookups of probe hosts.
func New(log *slog.Logger, cfg Config, runner Runner, resolver *Resolver) *Transport {
	if log == nil {
		log = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Transport{cfg: cfg.withDefaults(), runner: runner, resolver: resolver, log: log}
}

// Connect attaches to the probe and checks that the target core answers.
// The session stays bound to ctx.
func (t *Transport) Connect(ctx context.Context, profile interfaces.DeviceProfile, target interfaces.ProbeTarget) (interfaces.ProbeSession, error) {
	host := target.Host
	if t.resolver != nil && host != "" {
		resolved, err := t.resolver.Resolve(ctx, host)
		if err != nil {
			return nil, err
		}
		if resolved != host {
			t.log.Debug("Resolved probe host", "host", host, "address", resolved)
		}
		host = resolved
	}

	cmd := newCommander(t.cfg, t.runner, profile, target, host)
	if _, err := cmd.exec(ctx, "connect"); err != nil {
		return nil, err
	}

	return &session{
		ctx:     ctx,
		log:     t.log.With("probe", target.String(), "device", profile.Device),
		cfg:     t.cfg,
		cmd:     cmd,
		profile: profile,
	}, nil
}

type session struct {
	ctx     context.Context
	log     *slog.Logger
	cfg     Config
	cmd     *commander
	profile interfaces.DeviceProfile

	mu     sync.Mutex
	closed bool
	stream *stream
}

func (s *session) check() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *session) ResetAndHalt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.cmd.exec(s.ctx, "r", "h")
	return err
}

// ReadSerial reads the EUI-64, stored as low word then high word, and
// returns it most significant byte first.
func (s *session) ReadSerial() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	words, err := s.cmd.readWords(s.ctx, s.profile.SerialAddress, 2)
	if err != nil {
		return nil, err
	}
	serial := make([]byte, 8)
	binary.BigEndian.PutUint32(serial[0:4], words[1])
	binary.BigEndian.PutUint32(serial[4:8], words[0])
	return serial, nil
}

// RunApplication loads image into RAM and starts it from its vector table.
func (s *session) RunApplication(addr uint32, image []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if len(image) < 8 {
		return ErrBadImage
	}
	sp := binary.LittleEndian.Uint32(image[0:4])
	pc := binary.LittleEndian.Uint32(image[4:8])

	f, err := os.CreateTemp("", "prov-image-*.bin")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(image); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	_, err = s.cmd.exec(s.ctx,
		"h",
		fmt.Sprintf("loadbin %s, 0x%08X", f.Name(), addr),
		fmt.Sprintf("wreg MSP, 0x%08X", sp),
		fmt.Sprintf("SetPC 0x%08X", pc),
		"g",
	)
	return err
}

func (s *session) StartStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if s.stream != nil {
		return ErrStreamActive
	}

	proc, err := s.cmd.runner.Start(s.ctx, s.cfg.GDBServerPath, s.cmd.gdbServerArgs())
	if err != nil {
		return fmt.Errorf("jlink: start GDB server: %w", err)
	}
	conn, err := dialRTT(s.ctx, s.cfg.RTTPort, s.cfg.DialTimeout)
	if err != nil {
		return errors.Join(err, proc.Stop())
	}

	s.stream = &stream{
		proc:     proc,
		conn:     conn,
		r:        bufio.NewReader(conn),
		maxFrame: s.cfg.MaxFrameLen,
		timeout:  s.cfg.ReceiveTimeout,
	}
	s.log.Debug("RTT stream started", "port", s.cfg.RTTPort)
	return nil
}

func (s *session) StopStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if s.stream == nil {
		return ErrNoStream
	}
	err := s.stream.close()
	s.stream = nil
	return err
}

func (s *session) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if s.stream == nil {
		return ErrNoStream
	}
	return s.stream.send(frame)
}

func (s *session) Receive() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	if s.stream == nil {
		return nil, ErrNoStream
	}
	return s.stream.receive()
}

func (s *session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.cmd.exec(context.WithoutCancel(s.ctx), "r", "g")
	return err
}

// Close releases the probe. A stream left open is torn down too.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.closed = true
	if s.stream != nil {
		err := s.stream.close()
		s.stream = nil
		return err
	}
	return nil
}
