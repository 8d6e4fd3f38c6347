// Package request builds validated provisioning requests from CLI flags or
// API payloads.
package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ruteri/device-provisioning-backend/devices"
	"github.com/ruteri/device-provisioning-backend/interfaces"
)

const (
	// DefaultCAConfig is used when a request names no CA configuration.
	DefaultCAConfig = "ca.toml"

	// MaxImageSize bounds the provisioning image; it has to fit in SRAM.
	MaxImageSize = 1 << 20
)

// RawRequest is the unvalidated input, shaped like the JSON API payload.
type RawRequest struct {
	SoC         string `json:"soc"`
	Mode        Mode   `json:"mode"`
	ProvImage   string `json:"prov_img"`
	JLinkSerial string `json:"jlink_ser,omitempty"`
	JLinkHost   string `json:"jlink_host,omitempty"`
	OID         string `json:"oid,omitempty"`
	Config      string `json:"config,omitempty"`
}

// Params is an already loaded request, used when the image bytes do not come
// from a file.
type Params struct {
	DeviceKind  string
	Mode        Mode
	Image       []byte
	Target      interfaces.ProbeTarget
	ProductID   string
	CAConfigRef string
}

// ProvisioningRequest is a validated, immutable provisioning request.
type ProvisioningRequest struct {
	deviceKind  string
	mode        Mode
	image       []byte
	imagePath   string
	target      interfaces.ProbeTarget
	productID   string
	caConfigRef string
}

func (r *ProvisioningRequest) DeviceKind() string             { return r.deviceKind }
func (r *ProvisioningRequest) Mode() Mode                     { return r.mode }
func (r *ProvisioningRequest) ImagePath() string              { return r.imagePath }
func (r *ProvisioningRequest) Target() interfaces.ProbeTarget { return r.target }
func (r *ProvisioningRequest) ProductID() string              { return r.productID }
func (r *ProvisioningRequest) CAConfigRef() string            { return r.caConfigRef }

// Image returns a copy of the provisioning image.
func (r *ProvisioningRequest) Image() []byte {
	return append([]byte(nil), r.image...)
}

// ImageSize returns the image length without copying it.
func (r *ProvisioningRequest) ImageSize() int {
	return len(r.image)
}

// FromJSON decodes an API payload and validates it. Unknown fields sent by
// older clients (init_img, app, nvm3, certification, cpms) are ignored.
func FromJSON(data []byte) (*ProvisioningRequest, error) {
	var raw RawRequest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return ParseAndValidate(raw)
}

// ParseAndValidate checks raw, loads the provisioning image from disk and
// returns the immutable request. Every failure is a *ValidationError.
func ParseAndValidate(raw RawRequest) (*ProvisioningRequest, error) {
	if err := checkHeader(raw.SoC, raw.Mode); err != nil {
		return nil, err
	}

	path := strings.TrimSpace(raw.ProvImage)
	if path == "" {
		return nil, invalid("prov_img", "provisioning image path is required")
	}

	target := interfaces.ProbeTarget{
		Serial: strings.TrimSpace(raw.JLinkSerial),
		Host:   strings.TrimSpace(raw.JLinkHost),
	}
	if err := checkTail(raw.Mode, target, raw.OID); err != nil {
		return nil, err
	}

	image, err := loadImage(path)
	if err != nil {
		return nil, err
	}

	req, err := New(Params{
		DeviceKind:  raw.SoC,
		Mode:        raw.Mode,
		Image:       image,
		Target:      target,
		ProductID:   raw.OID,
		CAConfigRef: raw.Config,
	})
	if err != nil {
		return nil, err
	}
	req.imagePath = path
	return req, nil
}

// New validates already loaded parameters.
func New(p Params) (*ProvisioningRequest, error) {
	if err := checkHeader(p.DeviceKind, p.Mode); err != nil {
		return nil, err
	}
	if len(p.Image) == 0 {
		return nil, invalid("prov_img", "provisioning image is empty")
	}
	if len(p.Image) > MaxImageSize {
		return nil, invalid("prov_img", "provisioning image is %d bytes, limit is %d", len(p.Image), MaxImageSize)
	}

	target := interfaces.ProbeTarget{
		Serial: strings.TrimSpace(p.Target.Serial),
		Host:   strings.TrimSpace(p.Target.Host),
	}
	if err := checkTail(p.Mode, target, p.ProductID); err != nil {
		return nil, err
	}

	configRef := strings.TrimSpace(p.CAConfigRef)
	if configRef == "" {
		configRef = DefaultCAConfig
	}

	profile, _ := devices.Lookup(p.DeviceKind)
	return &ProvisioningRequest{
		deviceKind:  profile.Kind,
		mode:        p.Mode,
		image:       append([]byte(nil), p.Image...),
		target:      target,
		productID:   strings.TrimSpace(p.ProductID),
		caConfigRef: configRef,
	}, nil
}

func checkHeader(kind string, mode Mode) error {
	if strings.TrimSpace(kind) == "" {
		return invalid("soc", "SoC type is required")
	}
	if mode == 0 {
		return invalid("mode", "provisioning mode is required")
	}
	if !mode.Valid() {
		return invalid("mode", "invalid mode value %d", int(mode))
	}
	if _, ok := devices.Lookup(kind); !ok {
		return invalid("soc", "unsupported SoC type %q, supported types: %s", kind, strings.Join(devices.Supported(), ", "))
	}
	return nil
}

func checkTail(mode Mode, target interfaces.ProbeTarget, oid string) error {
	if target.IsZero() {
		return invalid("jlink_ser", "either jlink_ser or jlink_host must be provided")
	}
	if mode == PrimaryCA {
		oid = strings.TrimSpace(oid)
		if oid == "" {
			return invalid("oid", "product OID is required in cpms mode")
		}
		if err := checkOID(oid); err != nil {
			return invalid("oid", "%v", err)
		}
	}
	return nil
}

func checkOID(oid string) error {
	arcs := strings.Split(oid, ".")
	if len(arcs) < 2 {
		return fmt.Errorf("%q is not a dotted OID", oid)
	}
	for i, arc := range arcs {
		n, err := strconv.ParseUint(arc, 10, 31)
		if err != nil {
			return fmt.Errorf("%q is not a dotted OID", oid)
		}
		if i == 0 && n > 2 {
			return fmt.Errorf("%q has an invalid first arc", oid)
		}
	}
	return nil
}

func loadImage(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, invalid("prov_img", "file %s does not exist", path)
		}
		return nil, invalid("prov_img", "%v", err)
	}
	if info.IsDir() {
		return nil, invalid("prov_img", "%s is a directory", path)
	}
	if info.Size() > MaxImageSize {
		return nil, invalid("prov_img", "provisioning image is %d bytes, limit is %d", info.Size(), MaxImageSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, invalid("prov_img", "%v", err)
	}
	return data, nil
}
