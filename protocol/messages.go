package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Command identifies a provisioning image operation.
type Command uint16

const (
	CmdInitializeNvm   Command = 0x0001
	CmdGenerateKeyPair Command = 0x0002
	CmdGenerateCsr     Command = 0x0003
	CmdWriteNvm        Command = 0x0004
	CmdReadNvm         Command = 0x0005
)

func (c Command) String() string {
	switch c {
	case CmdInitializeNvm:
		return "InitializeNvm"
	case CmdGenerateKeyPair:
		return "GenerateKeyPair"
	case CmdGenerateCsr:
		return "GenerateCsr"
	case CmdWriteNvm:
		return "WriteNvm"
	case CmdReadNvm:
		return "ReadNvm"
	default:
		return fmt.Sprintf("Command(%#04x)", uint16(c))
	}
}

// Status codes reported by the provisioning image.
const (
	StatusOK = 0

	// StatusKeyExists is returned by GenerateKeyPair when the key slot is
	// already populated.
	StatusKeyExists = 19
)

// Key slot and NVM3 object keys used during provisioning.
const (
	DeviceKeyID uint32 = 0x100

	DeviceCertObject uint32 = 0x100
	BatchCertObject  uint32 = 0x101
	RootCertObject   uint32 = 0x102
)

const (
	headerLen = 4

	// FlagResponse marks a message sent by the device.
	FlagResponse uint16 = 0x0001
)

var (
	ErrShortMessage       = errors.New("protocol: short message")
	ErrNotResponse        = errors.New("protocol: message is not a response")
	ErrUnexpectedResponse = errors.New("protocol: response does not match command")
)

func encode(cmd Command, flags uint16, fields ...Field) []byte {
	body := encodeFields(fields)
	msg := make([]byte, headerLen, headerLen+len(body))
	binary.BigEndian.PutUint16(msg[0:2], uint16(cmd))
	binary.BigEndian.PutUint16(msg[2:4], flags)
	return append(msg, body...)
}

func decode(msg []byte) (Command, uint16, []Field, error) {
	if len(msg) < headerLen {
		return 0, 0, nil, ErrShortMessage
	}
	cmd := Command(binary.BigEndian.Uint16(msg[0:2]))
	flags := binary.BigEndian.Uint16(msg[2:4])
	fields, err := decodeFields(msg[headerLen:])
	if err != nil {
		return 0, 0, nil, err
	}
	return cmd, flags, fields, nil
}

// EncodeInitializeNvm asks the image to initialize the NVM3 instance at start.
func EncodeInitializeNvm(start, size uint32) []byte {
	return encode(CmdInitializeNvm, 0, u32Field(FieldAddress, start), u32Field(FieldSize, size))
}

// EncodeGenerateKeyPair asks the image to create a key pair in slot keyID.
func EncodeGenerateKeyPair(keyID uint32) []byte {
	return encode(CmdGenerateKeyPair, 0, u32Field(FieldKey, keyID))
}

// EncodeGenerateCsr asks the image for a CSR signed with the key in slot keyID.
func EncodeGenerateCsr(keyID uint32) []byte {
	return encode(CmdGenerateCsr, 0, u32Field(FieldKey, keyID))
}

// EncodeWriteNvm stores data under the NVM3 object key.
func EncodeWriteNvm(key uint32, data []byte) []byte {
	return encode(CmdWriteNvm, 0, u32Field(FieldKey, key), bytesField(FieldPayload, data))
}

// EncodeReadNvm reads back the NVM3 object key.
func EncodeReadNvm(key uint32) []byte {
	return encode(CmdReadNvm, 0, u32Field(FieldKey, key))
}

// Request is a decoded command, as seen by the device side.
type Request struct {
	Command Command
	Address uint32
	Size    uint32
	Key     uint32
	Data    []byte
}

// DecodeRequest parses a command message. Absent numeric fields are zero.
func DecodeRequest(msg []byte) (Request, error) {
	cmd, flags, fields, err := decode(msg)
	if err != nil {
		return Request{}, err
	}
	if flags&FlagResponse != 0 {
		return Request{}, fmt.Errorf("protocol: %s is a response", cmd)
	}
	req := Request{Command: cmd}
	if _, ok := findField(fields, FieldAddress); ok {
		if req.Address, err = fieldU32(fields, FieldAddress); err != nil {
			return Request{}, err
		}
	}
	if _, ok := findField(fields, FieldSize); ok {
		if req.Size, err = fieldU32(fields, FieldSize); err != nil {
			return Request{}, err
		}
	}
	if _, ok := findField(fields, FieldKey); ok {
		if req.Key, err = fieldU32(fields, FieldKey); err != nil {
			return Request{}, err
		}
	}
	req.Data, _ = fieldBytes(fields, FieldPayload)
	return req, nil
}

// Response is a decoded device reply.
type Response struct {
	Command Command
	Status  uint32
	Payload []byte
}

// OK reports a zero status.
func (r Response) OK() bool {
	return r.Status == StatusOK
}

// EncodeResponse builds the reply to cmd.
func EncodeResponse(cmd Command, status uint32, payload []byte) []byte {
	fields := []Field{u32Field(FieldStatus, status)}
	if payload != nil {
		fields = append(fields, bytesField(FieldPayload, payload))
	}
	return encode(cmd, FlagResponse, fields...)
}

// DecodeResponse parses a reply and checks that it answers want.
func DecodeResponse(want Command, msg []byte) (Response, error) {
	cmd, flags, fields, err := decode(msg)
	if err != nil {
		return Response{}, err
	}
	if flags&FlagResponse == 0 {
		return Response{}, ErrNotResponse
	}
	if cmd != want {
		return Response{}, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedResponse, cmd, want)
	}
	status, err := fieldU32(fields, FieldStatus)
	if err != nil {
		return Response{}, err
	}
	payload, _ := fieldBytes(fields, FieldPayload)
	return Response{Command: cmd, Status: status, Payload: payload}, nil
}
