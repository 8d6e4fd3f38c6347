package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/device-provisioning-backend/devices"
	"github.com/ruteri/device-provisioning-backend/interfaces"
	"github.com/ruteri/device-provisioning-backend/request"
	"go.uber.org/atomic"
)

// Result is the outcome of a successful session.
type Result struct {
	SessionID    string
	Mode         request.Mode
	DeviceKind   string
	DeviceSerial interfaces.DeviceSerial

	// Artifacts lists the certificates written, in write order.
	Artifacts []string
	Chain     interfaces.CertificateChain

	Warnings  []CleanupWarning
	StartedAt time.Time
	Duration  time.Duration
}

// Outcome summarizes a finished session for a Recorder.
type Outcome struct {
	Mode     request.Mode
	Success  bool
	Step     State
	Kind     error
	Warnings int
	Duration time.Duration
}

// Recorder observes finished sessions.
type Recorder interface {
	ObserveProvisioning(o Outcome)
}

// Config holds the orchestrator collaborators.
type Config struct {
	Transport interfaces.Transport

	// Authorities maps each mode to the CA that serves it.
	Authorities map[request.Mode]interfaces.CertificateAuthority

	// SessionTimeout bounds one session from the moment it holds the
	// probe. Time spent waiting for an earlier session does not count.
	// Zero means no limit.
	SessionTimeout time.Duration

	Log      *slog.Logger
	Recorder Recorder
}

// Orchestrator runs provisioning sessions one at a time.
type Orchestrator struct {
	mu   sync.Mutex
	busy atomic.Bool

	transport   interfaces.Transport
	authorities map[request.Mode]interfaces.CertificateAuthority
	recorder    Recorder
	timeout     time.Duration
	log         *slog.Logger
}

// New creates an orchestrator. One orchestrator should exist per debug probe
// host process.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Transport == nil {
		return nil, errors.New("provisioner: transport is required")
	}
	if len(cfg.Authorities) == 0 {
		return nil, errors.New("provisioner: at least one certificate authority is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	authorities := make(map[request.Mode]interfaces.CertificateAuthority, len(cfg.Authorities))
	for mode, ca := range cfg.Authorities {
		authorities[mode] = ca
	}

	return &Orchestrator{
		transport:   cfg.Transport,
		authorities: authorities,
		recorder:    cfg.Recorder,
		timeout:     cfg.SessionTimeout,
		log:         log,
	}, nil
}

// Busy reports whether a session is currently running.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// Execute provisions the device described by req using the step sequence of
// mode. Concurrent calls are serialized. It returns either a Result or an
// error, never both: a *request.ValidationError when mode disagrees with the
// request, otherwise a *ProvisioningError.
func (o *Orchestrator) Execute(ctx context.Context, mode request.Mode, req *request.ProvisioningRequest) (*Result, error) {
	if req == nil {
		return nil, &request.ValidationError{Reason: "request is required"}
	}
	if mode != req.Mode() {
		return nil, &request.ValidationError{Field: "mode", Reason: fmt.Sprintf("request was validated for %s, not %s", req.Mode(), mode)}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.busy.Store(true)
	defer o.busy.Store(false)

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	id := uuid.NewString()
	s := &session{
		id:        id,
		log:       o.log.With("session", id, "mode", mode.String(), "soc", req.DeviceKind()),
		req:       req,
		transport: o.transport,
		state:     StateIdle,
	}
	s.log.Info("Provisioning started", "target", req.Target().String())

	result, perr := o.execute(ctx, mode, s)
	duration := time.Since(start)

	if perr != nil {
		s.log.Error("Provisioning failed", "step", perr.Step, "err", perr, "duration", duration)
		o.observe(Outcome{Mode: mode, Step: perr.Step, Kind: perr.Kind, Warnings: len(perr.Warnings), Duration: duration})
		return nil, perr
	}

	result.StartedAt = start
	result.Duration = duration
	s.log.Info("Provisioning completed", "artifacts", result.Artifacts, "warnings", len(result.Warnings), "duration", duration)
	o.observe(Outcome{Mode: mode, Success: true, Step: StateDone, Warnings: len(result.Warnings), Duration: duration})
	return result, nil
}

// execute runs the sequence with cleanup deferred so that it happens on every
// path, including a panicking step.
func (o *Orchestrator) execute(ctx context.Context, mode request.Mode, s *session) (result *Result, perr *ProvisioningError) {
	profile, ok := devices.Lookup(s.req.DeviceKind())
	if !ok {
		return nil, &ProvisioningError{SessionID: s.id, Step: StateIdle, Kind: ErrUnsupportedDevice, Err: fmt.Errorf("no profile for %q", s.req.DeviceKind())}
	}
	s.profile = profile

	seq, ok := SequenceFor(mode)
	ca := o.authorities[mode]
	if !ok || ca == nil {
		return nil, &ProvisioningError{SessionID: s.id, Step: StateIdle, Kind: ErrUnsupportedMode, Err: fmt.Errorf("no certificate authority configured for %s", mode)}
	}
	s.ca = ca

	defer func() {
		warnings := s.cleanup()
		if perr != nil {
			perr.Warnings = append(perr.Warnings, warnings...)
			s.transition(StateFailed)
			return
		}
		result.Warnings = warnings
		s.transition(StateDone)
	}()

	if err := runSteps(ctx, seq, s); err != nil {
		return nil, asProvisioningError(s, err)
	}

	return &Result{
		SessionID:    s.id,
		Mode:         mode,
		DeviceKind:   s.profile.Kind,
		DeviceSerial: s.serial,
		Artifacts:    append([]string(nil), s.written...),
		Chain:        *s.chain,
	}, nil
}

func runSteps(ctx context.Context, seq Sequence, s *session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Provisioning step panicked", "step", s.state, "panic", r)
			err = fail(ErrUnexpectedFault, fmt.Errorf("panic: %v", r))
		}
	}()

	for _, step := range seq.Steps {
		s.transition(step.State)
		if err := step.Run(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func asProvisioningError(s *session, err error) *ProvisioningError {
	perr := &ProvisioningError{SessionID: s.id, Step: s.state}
	var se *stepError
	if errors.As(err, &se) {
		perr.Kind = se.kind
		perr.Artifact = se.artifact
		perr.Err = se.err
		return perr
	}
	perr.Kind = ErrUnexpectedFault
	perr.Err = err
	return perr
}

func (o *Orchestrator) observe(out Outcome) {
	if o.recorder != nil {
		o.recorder.ObserveProvisioning(out)
	}
}
