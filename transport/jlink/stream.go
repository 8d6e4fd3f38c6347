package jlink

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/device-provisioning-backend/protocol"
)

// maxPreamble bounds the bytes skipped before the first frame magic. The RTT
// telnet server greets clients with a text banner.
const maxPreamble = 4096

var ErrNoFrame = errors.New("jlink: no frame on RTT channel")

type stream struct {
	proc     Process
	conn     net.Conn
	r        *bufio.Reader
	maxFrame uint32
	timeout  time.Duration
}

// dialRTT connects to the RTT telnet port, retrying while the GDB server is
// still attaching.
func dialRTT(ctx context.Context, port int, timeout time.Duration) (net.Conn, error) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = timeout

	var dialer net.Dialer
	var conn net.Conn
	err := backoff.Retry(func() error {
		c, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("jlink: dial RTT %s: %w", addr, err)
	}
	return conn, nil
}

func (s *stream) send(msg []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	return protocol.WriteFrame(s.conn, msg, s.maxFrame)
}

func (s *stream) receive() ([]byte, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return nil, err
	}
	if err := s.syncToMagic(); err != nil {
		return nil, err
	}
	return protocol.ReadFrame(s.r, s.maxFrame)
}

// syncToMagic discards bytes up to the next frame magic.
func (s *stream) syncToMagic() error {
	for skipped := 0; skipped < maxPreamble; skipped++ {
		hdr, err := s.r.Peek(2)
		if err != nil {
			return err
		}
		if binary.BigEndian.Uint16(hdr) == protocol.FrameMagic {
			return nil
		}
		if _, err := s.r.Discard(1); err != nil {
			return err
		}
	}
	return ErrNoFrame
}

func (s *stream) close() error {
	return errors.Join(s.conn.Close(), s.proc.Stop())
}
