package interfaces

import "context"

// Transport opens debug-probe sessions.
type Transport interface {
	// Connect attaches to the device described by profile through the probe
	// identified by target.
	Connect(ctx context.Context, profile DeviceProfile, target ProbeTarget) (ProbeSession, error)
}

// ProbeSession is an open debug-probe connection to one device. A session is
// owned by a single caller and must be closed exactly once.
type ProbeSession interface {
	// ResetAndHalt resets the core and halts it before the first instruction.
	ResetAndHalt() error

	// ReadSerial returns the raw device serial (EUI-64).
	ReadSerial() ([]byte, error)

	// RunApplication loads image at addr and starts executing it.
	RunApplication(addr uint32, image []byte) error

	// StartStream opens the message stream to the running image.
	StartStream() error

	// StopStream closes the message stream.
	StopStream() error

	// Send writes one message to the running image.
	Send(frame []byte) error

	// Receive blocks until one message arrives from the running image.
	Receive() ([]byte, error)

	// Reset resets the device and lets it run.
	Reset() error

	// Close releases the probe.
	Close() error
}
