package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	FrameMagic     uint16 = 0xDD50
	FrameHeaderLen        = 6

	// DefaultMaxFrameLen bounds a single message; certificates and CSRs are
	// well under this.
	DefaultMaxFrameLen uint32 = 64 * 1024
)

var (
	ErrShortFrame    = errors.New("protocol: short frame header")
	ErrBadMagic      = errors.New("protocol: bad frame magic")
	ErrFrameTooLarge = errors.New("protocol: frame too large")
)

// WriteFrame writes msg as one frame.
func WriteFrame(w io.Writer, msg []byte, maxLen uint32) error {
	if uint64(len(msg)) > uint64(maxLen) {
		return ErrFrameTooLarge
	}
	buf := make([]byte, FrameHeaderLen+len(msg))
	binary.BigEndian.PutUint16(buf[0:2], FrameMagic)
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(msg)))
	copy(buf[FrameHeaderLen:], msg)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame and returns the message it carries.
func ReadFrame(r io.Reader, maxLen uint32) ([]byte, error) {
	var hdr [FrameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortFrame
		}
		return nil, err
	}
	if magic := binary.BigEndian.Uint16(hdr[0:2]); magic != FrameMagic {
		return nil, fmt.Errorf("%w: %#04x", ErrBadMagic, magic)
	}
	n := binary.BigEndian.Uint32(hdr[2:6])
	if n > maxLen {
		return nil, ErrFrameTooLarge
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
