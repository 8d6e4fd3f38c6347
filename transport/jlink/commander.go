package jlink

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ruteri/device-provisioning-backend/interfaces"
)

var ErrCommandFailed = errors.New("jlink: command failed")

// failureMarkers are JLinkExe output lines that indicate a failed script even
// when the tool exits with status zero.
var failureMarkers = []string{
	"Cannot connect to target",
	"Connecting to J-Link via USB...FAILED",
	"Connecting to J-Link via IP...FAILED",
	"Could not find core",
	"****** Error",
	"Error while programming",
}

var mem32Line = regexp.MustCompile(`(?m)^([0-9A-Fa-f]{8}) = ((?:[0-9A-Fa-f]{8}\s*)+)$`)

// commander runs JLinkExe scripts against one probe and device.
type commander struct {
	cfg    Config
	runner Runner
	device string
	serial string
	host   string
}

func (c *commander) exeArgs() []string {
	args := []string{
		"-NoGui", "1",
		"-ExitOnError", "1",
		"-AutoConnect", "1",
		"-Device", c.device,
		"-If", c.cfg.Interface,
		"-Speed", strconv.Itoa(c.cfg.SpeedKHz),
	}
	if c.host != "" {
		args = append(args, "-IP", c.host)
	}
	if c.serial != "" {
		args = append(args, "-SelectEmuBySN", c.serial)
	}
	return args
}

func (c *commander) gdbServerArgs() []string {
	args := []string{
		"-device", c.device,
		"-if", c.cfg.Interface,
		"-speed", strconv.Itoa(c.cfg.SpeedKHz),
		"-port", strconv.Itoa(c.cfg.GDBPort),
		"-RTTTelnetPort", strconv.Itoa(c.cfg.RTTPort),
		"-noreset",
		"-nohalt",
		"-nogui",
		"-silent",
	}
	switch {
	case c.host != "":
		args = append(args, "-select", "IP="+c.host)
	case c.serial != "":
		args = append(args, "-select", "USB="+c.serial)
	}
	return args
}

// exec runs the script lines followed by "q" and returns the tool output.
func (c *commander) exec(ctx context.Context, lines ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	script := strings.Join(append(lines, "q"), "\n") + "\n"
	out, err := c.runner.Run(ctx, c.cfg.ExePath, c.exeArgs(), strings.NewReader(script))
	output := string(out)
	if err != nil {
		return output, fmt.Errorf("%w: %s: %w: %s", ErrCommandFailed, lines, err, lastLine(output))
	}
	for _, marker := range failureMarkers {
		if strings.Contains(output, marker) {
			return output, fmt.Errorf("%w: %s: %s", ErrCommandFailed, lines, marker)
		}
	}
	return output, nil
}

func (c *commander) readWords(ctx context.Context, addr uint32, count int) ([]uint32, error) {
	out, err := c.exec(ctx, fmt.Sprintf("mem32 0x%08X, %d", addr, count))
	if err != nil {
		return nil, err
	}
	return parseMem32(out, addr, count)
}

// parseMem32 extracts count words starting at addr from mem32 output lines
// of the form "0FE08048 = 12345678 9ABCDEF0".
func parseMem32(out string, addr uint32, count int) ([]uint32, error) {
	words := make([]uint32, 0, count)
	next := addr
	for _, m := range mem32Line.FindAllStringSubmatch(out, -1) {
		lineAddr, err := strconv.ParseUint(m[1], 16, 32)
		if err != nil || uint32(lineAddr) != next {
			continue
		}
		for _, field := range strings.Fields(m[2]) {
			v, err := strconv.ParseUint(field, 16, 32)
			if err != nil {
				return nil, fmt.Errorf("jlink: bad mem32 value %q", field)
			}
			words = append(words, uint32(v))
			next += 4
		}
	}
	if len(words) < count {
		return nil, fmt.Errorf("jlink: mem32 returned %d of %d words at %#08x", len(words), count, addr)
	}
	return words[:count], nil
}

func lastLine(out string) string {
	out = strings.TrimSpace(out)
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		return strings.TrimSpace(out[i+1:])
	}
	return out
}

func newCommander(cfg Config, runner Runner, profile interfaces.DeviceProfile, target interfaces.ProbeTarget, host string) *commander {
	return &commander{
		cfg:    cfg,
		runner: runner,
		device: profile.Device,
		serial: strings.TrimSpace(target.Serial),
		host:   host,
	}
}
