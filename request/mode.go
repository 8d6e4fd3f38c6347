package request

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Mode selects the certificate authority workflow.
type Mode int

const (
	// PrimaryCA signs through the local batch CA (CPMS).
	PrimaryCA Mode = 1
	// SecondaryCA enrolls through an EST server (SERCA).
	SecondaryCA Mode = 2
)

func (m Mode) String() string {
	switch m {
	case PrimaryCA:
		return "cpms"
	case SecondaryCA:
		return "serca"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	return m == PrimaryCA || m == SecondaryCA
}

// ParseMode accepts the numeric form ("1", "2") and the names "cpms"/"serca"
// (also "primary"/"secondary").
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "cpms", "primary":
		return PrimaryCA, nil
	case "2", "serca", "secondary":
		return SecondaryCA, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// UnmarshalJSON accepts a number or a string.
func (m *Mode) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*m = Mode(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("mode must be a number or a string")
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(m))
}
