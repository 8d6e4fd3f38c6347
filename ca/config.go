// Package ca loads certificate authority client configuration and hosts the
// CA client implementations (localca for PrimaryCA, estca for SecondaryCA).
package ca

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultESTTimeout = 30 * time.Second
	defaultOrg        = "Device Provisioning"
)

var ErrSectionMissing = errors.New("ca: configuration section missing")

// LocalConfig configures the local batch CA.
type LocalConfig struct {
	RootCert  string
	BatchCert string
	BatchKey  string

	// PassphraseEnv names the environment variable holding the passphrase
	// of a sealed batch key.
	PassphraseEnv string

	// ValidityDays of issued device certificates; zero issues certificates
	// without a well-defined expiration date.
	ValidityDays int

	Organization string
}

// ESTConfig configures the EST enrollment client.
type ESTConfig struct {
	Server         string
	CABundle       string
	TokenFile      string
	Label          string
	Timeout        time.Duration
	UseSystemRoots bool
}

// Config is a parsed CA configuration file.
type Config struct {
	Path  string
	Local *LocalConfig
	EST   *ESTConfig
}

// ca.toml key mapping.
type fileConfig struct {
	Local struct {
		RootCert      string `toml:"root_cert"`
		BatchCert     string `toml:"batch_cert"`
		BatchKey      string `toml:"batch_key"`
		PassphraseEnv string `toml:"passphrase_env"`
		ValidityDays  int    `toml:"validity_days"`
		Organization  string `toml:"organization"`
	} `toml:"local"`
	EST struct {
		Server         string `toml:"server"`
		CABundle       string `toml:"ca_bundle"`
		TokenFile      string `toml:"token_file"`
		Label          string `toml:"label"`
		TimeoutSeconds int    `toml:"timeout_seconds"`
		UseSystemRoots bool   `toml:"use_system_roots"`
	} `toml:"est"`
}

// LoadConfig reads the TOML file at path. Relative file names inside it are
// resolved against the directory of path.
func LoadConfig(path string) (*Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load CA config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("load CA config %s: unknown key %s", path, undecoded[0])
	}

	base := filepath.Dir(path)
	cfg := &Config{Path: path}

	if meta.IsDefined("local") {
		local := &LocalConfig{
			RootCert:      resolve(base, raw.Local.RootCert),
			BatchCert:     resolve(base, raw.Local.BatchCert),
			BatchKey:      resolve(base, raw.Local.BatchKey),
			PassphraseEnv: strings.TrimSpace(raw.Local.PassphraseEnv),
			ValidityDays:  raw.Local.ValidityDays,
			Organization:  defaultOrg,
		}
		if meta.IsDefined("local", "organization") {
			local.Organization = strings.TrimSpace(raw.Local.Organization)
		}
		if local.RootCert == "" || local.BatchCert == "" || local.BatchKey == "" {
			return nil, fmt.Errorf("load CA config %s: [local] requires root_cert, batch_cert and batch_key", path)
		}
		if local.ValidityDays < 0 {
			return nil, fmt.Errorf("load CA config %s: validity_days must not be negative", path)
		}
		cfg.Local = local
	}

	if meta.IsDefined("est") {
		est := &ESTConfig{
			Server:         strings.TrimSuffix(strings.TrimSpace(raw.EST.Server), "/"),
			CABundle:       resolve(base, raw.EST.CABundle),
			TokenFile:      resolve(base, raw.EST.TokenFile),
			Label:          strings.Trim(strings.TrimSpace(raw.EST.Label), "/"),
			Timeout:        defaultESTTimeout,
			UseSystemRoots: raw.EST.UseSystemRoots,
		}
		if meta.IsDefined("est", "timeout_seconds") {
			if raw.EST.TimeoutSeconds <= 0 {
				return nil, fmt.Errorf("load CA config %s: timeout_seconds must be positive", path)
			}
			est.Timeout = time.Duration(raw.EST.TimeoutSeconds) * time.Second
		}
		u, err := url.Parse(est.Server)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return nil, fmt.Errorf("load CA config %s: [est] server must be an https URL", path)
		}
		if est.CABundle == "" && !est.UseSystemRoots {
			return nil, fmt.Errorf("load CA config %s: [est] requires ca_bundle or use_system_roots", path)
		}
		cfg.EST = est
	}

	return cfg, nil
}

// LocalSection returns the [local] section or ErrSectionMissing.
func (c *Config) LocalSection() (*LocalConfig, error) {
	if c.Local == nil {
		return nil, fmt.Errorf("%w: [local] in %s", ErrSectionMissing, c.Path)
	}
	return c.Local, nil
}

// ESTSection returns the [est] section or ErrSectionMissing.
func (c *Config) ESTSection() (*ESTConfig, error) {
	if c.EST == nil {
		return nil, fmt.Errorf("%w: [est] in %s", ErrSectionMissing, c.Path)
	}
	return c.EST, nil
}

func resolve(base, name string) string {
	name = strings.TrimSpace(name)
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(base, name)
}
