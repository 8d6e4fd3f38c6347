// Package sim is an in-memory transport whose devices run a software model of
// the provisioning image. It backs the --simulate mode and end-to-end tests.
package sim

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/ruteri/device-provisioning-backend/interfaces"
	"github.com/ruteri/device-provisioning-backend/protocol"
)

// Statuses reported by the simulated image besides protocol.StatusOK and
// protocol.StatusKeyExists.
const (
	StatusUnknownCommand uint32 = 1
	StatusNoKey          uint32 = 2
	StatusNvmNotReady    uint32 = 3
	StatusObjectNotFound uint32 = 4
	StatusInvalidArgs    uint32 = 5
)

// Device is one simulated SoC. Its key and NVM contents survive across
// sessions, like flash on real hardware.
type Device struct {
	mu sync.Mutex

	serial []byte
	key    *ecdsa.PrivateKey
	nvm    map[uint32][]byte

	nvmStart, nvmSize uint32
	nvmReady          bool

	overrides map[protocol.Command]uint32
}

// NewDevice creates a blank device with the given EUI-64.
func NewDevice(serial []byte) *Device {
	return &Device{
		serial:    append([]byte(nil), serial...),
		nvm:       make(map[uint32][]byte),
		overrides: make(map[protocol.Command]uint32),
	}
}

// Serial returns the device serial as the orchestrator renders it.
func (d *Device) Serial() interfaces.DeviceSerial {
	return interfaces.NewDeviceSerial(d.serial)
}

// FailWith makes every subsequent cmd answer status until Clear is called.
func (d *Device) FailWith(cmd protocol.Command, status uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overrides[cmd] = status
}

// Clear removes injected failures.
func (d *Device) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.overrides)
}

// HasKey reports whether a device key pair was generated.
func (d *Device) HasKey() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.key != nil
}

// PublicKey returns the device public key or nil.
func (d *Device) PublicKey() *ecdsa.PublicKey {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.key == nil {
		return nil
	}
	return &d.key.PublicKey
}

// NVM returns a copy of the NVM3 objects.
func (d *Device) NVM() map[uint32][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.nvm)
}

// handle runs one command message and returns the reply message.
func (d *Device) handle(msg []byte) ([]byte, error) {
	req, err := protocol.DecodeRequest(msg)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if status, ok := d.overrides[req.Command]; ok {
		return protocol.EncodeResponse(req.Command, status, nil), nil
	}

	status, payload := d.exec(req)
	return protocol.EncodeResponse(req.Command, status, payload), nil
}

func (d *Device) exec(req protocol.Request) (uint32, []byte) {
	switch req.Command {
	case protocol.CmdInitializeNvm:
		if req.Size == 0 {
			return StatusInvalidArgs, nil
		}
		if d.nvmReady && (d.nvmStart != req.Address || d.nvmSize != req.Size) {
			clear(d.nvm)
		}
		d.nvmStart, d.nvmSize, d.nvmReady = req.Address, req.Size, true
		return protocol.StatusOK, nil

	case protocol.CmdGenerateKeyPair:
		if req.Key != protocol.DeviceKeyID {
			return StatusInvalidArgs, nil
		}
		if d.key != nil {
			return protocol.StatusKeyExists, nil
		}
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return StatusInvalidArgs, nil
		}
		d.key = key
		return protocol.StatusOK, nil

	case protocol.CmdGenerateCsr:
		if d.key == nil {
			return StatusNoKey, nil
		}
		cn := strings.ToUpper(fmt.Sprintf("%x", d.serial))
		csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
			Subject: pkix.Name{CommonName: cn},
		}, d.key)
		if err != nil {
			return StatusInvalidArgs, nil
		}
		return protocol.StatusOK, csr

	case protocol.CmdWriteNvm:
		if !d.nvmReady {
			return StatusNvmNotReady, nil
		}
		if len(req.Data) == 0 || uint32(len(req.Data)) > d.nvmSize {
			return StatusInvalidArgs, nil
		}
		d.nvm[req.Key] = append([]byte(nil), req.Data...)
		return protocol.StatusOK, nil

	case protocol.CmdReadNvm:
		if !d.nvmReady {
			return StatusNvmNotReady, nil
		}
		data, ok := d.nvm[req.Key]
		if !ok {
			return StatusObjectNotFound, nil
		}
		return protocol.StatusOK, append([]byte(nil), data...)

	default:
		return StatusUnknownCommand, nil
	}
}
