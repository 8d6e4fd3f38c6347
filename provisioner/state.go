package provisioner

// State is a position in the provisioning state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateNvmInit
	StateKeyGen
	StateCsrGen
	StateSigning
	StateNvmWriteDevice
	StateNvmWriteBatch
	StateNvmWriteRoot
	StateVerify
	StateDone
	StateCleanup
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:           "idle",
	StateConnecting:     "connecting",
	StateConnected:      "connected",
	StateNvmInit:        "nvm_init",
	StateKeyGen:         "key_gen",
	StateCsrGen:         "csr_gen",
	StateSigning:        "signing",
	StateNvmWriteDevice: "nvm_write(device)",
	StateNvmWriteBatch:  "nvm_write(batch)",
	StateNvmWriteRoot:   "nvm_write(root)",
	StateVerify:         "verify",
	StateDone:           "done",
	StateCleanup:        "cleanup",
	StateFailed:         "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state name in JSON payloads and log records.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Artifact names, in write order.
const (
	ArtifactDevice = "device"
	ArtifactBatch  = "batch"
	ArtifactRoot   = "root"
)
