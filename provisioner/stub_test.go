package provisioner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ruteri/device-provisioning-backend/interfaces"
	"github.com/ruteri/device-provisioning-backend/protocol"
	"github.com/stretchr/testify/mock"
)

type traceEvent struct {
	session int
	op      string
}

// trace records transport calls across sessions in global order.
type trace struct {
	mu     sync.Mutex
	events []traceEvent
}

func (t *trace) add(session int, op string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, traceEvent{session: session, op: op})
}

func (t *trace) ops() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.events))
	for _, ev := range t.events {
		out = append(out, ev.op)
	}
	return out
}

func (t *trace) count(op string) int {
	n := 0
	for _, o := range t.ops() {
		if o == op {
			n++
		}
	}
	return n
}

func (t *trace) snapshot() []traceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]traceEvent(nil), t.events...)
}

// stubTransport emulates a probe and the provisioning image.
type stubTransport struct {
	trace *trace

	connectErr  error
	serial      []byte
	csr         []byte
	status      map[protocol.Command]uint32
	writeStatus map[uint32]uint32
	readBack    []byte
	failures    map[string]error
	panicOn     string
	pause       time.Duration

	mu       sync.Mutex
	sessions int
	deadline time.Time
	runAddr  uint32
	nvm      map[uint32][]byte
	initArgs [2]uint32
}

func newStubTransport() *stubTransport {
	return &stubTransport{
		trace:       &trace{},
		serial:      []byte{0x00, 0x0B, 0x57, 0xFF, 0xFE, 0x12, 0x34, 0x56},
		csr:         []byte("csr-der-bytes"),
		status:      map[protocol.Command]uint32{},
		writeStatus: map[uint32]uint32{},
		failures:    map[string]error{},
		nvm:         map[uint32][]byte{},
	}
}

func (t *stubTransport) Connect(ctx context.Context, profile interfaces.DeviceProfile, target interfaces.ProbeTarget) (interfaces.ProbeSession, error) {
	t.mu.Lock()
	t.sessions++
	id := t.sessions
	t.deadline, _ = ctx.Deadline()
	t.mu.Unlock()

	t.trace.add(id, "connect")
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	return &stubProbe{t: t, id: id}, nil
}

type stubProbe struct {
	t       *stubTransport
	id      int
	pending [][]byte
}

func (p *stubProbe) do(op string) error {
	p.t.trace.add(p.id, op)
	if p.t.pause > 0 {
		time.Sleep(p.t.pause)
	}
	if p.t.panicOn == op {
		panic("probe fault during " + op)
	}
	return p.t.failures[op]
}

func (p *stubProbe) ResetAndHalt() error { return p.do("reset_and_halt") }

func (p *stubProbe) ReadSerial() ([]byte, error) {
	if err := p.do("read_serial"); err != nil {
		return nil, err
	}
	return p.t.serial, nil
}

func (p *stubProbe) RunApplication(addr uint32, image []byte) error {
	p.t.mu.Lock()
	p.t.runAddr = addr
	p.t.mu.Unlock()
	return p.do("run_application")
}

func (p *stubProbe) StartStream() error { return p.do("start_stream") }
func (p *stubProbe) StopStream() error  { return p.do("stop_stream") }
func (p *stubProbe) Reset() error       { return p.do("reset") }
func (p *stubProbe) Close() error       { return p.do("close") }

func (p *stubProbe) Send(frame []byte) error {
	req, err := protocol.DecodeRequest(frame)
	if err != nil {
		return err
	}
	if err := p.do("send:" + req.Command.String()); err != nil {
		return err
	}

	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	status := p.t.status[req.Command]
	var payload []byte
	switch req.Command {
	case protocol.CmdInitializeNvm:
		p.t.initArgs = [2]uint32{req.Address, req.Size}
	case protocol.CmdGenerateCsr:
		payload = p.t.csr
	case protocol.CmdWriteNvm:
		status = p.t.writeStatus[req.Key]
		if status == protocol.StatusOK {
			p.t.nvm[req.Key] = req.Data
		}
	case protocol.CmdReadNvm:
		payload = p.t.nvm[req.Key]
		if p.t.readBack != nil {
			payload = p.t.readBack
		}
	}
	p.pending = append(p.pending, protocol.EncodeResponse(req.Command, status, payload))
	return nil
}

func (p *stubProbe) Receive() ([]byte, error) {
	if err := p.do("receive"); err != nil {
		return nil, err
	}
	if len(p.pending) == 0 {
		return nil, fmt.Errorf("no response pending")
	}
	msg := p.pending[0]
	p.pending = p.pending[1:]
	return msg, nil
}

// MockCA implements interfaces.CertificateAuthority for testing.
type MockCA struct {
	mock.Mock
}

func (m *MockCA) Issue(ctx context.Context, req interfaces.IssueRequest) (*interfaces.CertificateChain, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.CertificateChain), args.Error(1)
}

func (m *MockCA) Name() string {
	return "mock-ca"
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *outcomeRecorder) ObserveProvisioning(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}
