// Package jlink drives SEGGER J-Link probes through the J-Link command line
// tools. Target control goes through JLinkExe command scripts; the message
// stream to the provisioning image is the RTT telnet channel opened by
// JLinkGDBServerCLExe.
package jlink

import "time"

// Config holds tool locations and link parameters.
type Config struct {
	ExePath       string
	GDBServerPath string

	Interface string
	SpeedKHz  int

	// GDBPort and RTTPort are the local ports of the GDB server and its RTT
	// telnet channel.
	GDBPort int
	RTTPort int

	CommandTimeout time.Duration
	ReceiveTimeout time.Duration

	// DialTimeout bounds the retries while the GDB server brings up RTT.
	DialTimeout time.Duration

	MaxFrameLen uint32
}

func DefaultConfig() Config {
	return Config{
		ExePath:        "JLinkExe",
		GDBServerPath:  "JLinkGDBServerCLExe",
		Interface:      "SWD",
		SpeedKHz:       4000,
		GDBPort:        2331,
		RTTPort:        19021,
		CommandTimeout: 30 * time.Second,
		ReceiveTimeout: 15 * time.Second,
		DialTimeout:    10 * time.Second,
		MaxFrameLen:    64 * 1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ExePath == "" {
		c.ExePath = d.ExePath
	}
	if c.GDBServerPath == "" {
		c.GDBServerPath = d.GDBServerPath
	}
	if c.Interface == "" {
		c.Interface = d.Interface
	}
	if c.SpeedKHz <= 0 {
		c.SpeedKHz = d.SpeedKHz
	}
	if c.GDBPort <= 0 {
		c.GDBPort = d.GDBPort
	}
	if c.RTTPort <= 0 {
		c.RTTPort = d.RTTPort
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = d.CommandTimeout
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = d.ReceiveTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.MaxFrameLen == 0 {
		c.MaxFrameLen = d.MaxFrameLen
	}
	return c
}
