package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const fieldHeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("protocol: short field header")
	ErrShortFieldValue  = errors.New("protocol: short field value")
	ErrMissingField     = errors.New("protocol: missing field")
)

// Field value types.
const (
	TypeU32   uint8 = 3
	TypeBytes uint8 = 7
)

// Field identifiers.
const (
	FieldStatus  uint16 = 1
	FieldPayload uint16 = 2
	FieldAddress uint16 = 3
	FieldSize    uint16 = 4
	FieldKey     uint16 = 5
)

// Field is one TLV field.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func u32Field(id uint16, v uint32) Field {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return Field{ID: id, Type: TypeU32, Value: b}
}

func bytesField(id uint16, v []byte) Field {
	return Field{ID: id, Type: TypeBytes, Value: v}
}

func encodeFields(fields []Field) []byte {
	size := 0
	for _, f := range fields {
		size += fieldHeaderLen + len(f.Value)
	}
	out := make([]byte, 0, size)
	for _, f := range fields {
		var hdr [fieldHeaderLen]byte
		binary.BigEndian.PutUint16(hdr[0:2], f.ID)
		hdr[2] = f.Type
		binary.BigEndian.PutUint32(hdr[3:7], uint32(len(f.Value)))
		out = append(out, hdr[:]...)
		out = append(out, f.Value...)
	}
	return out
}

func decodeFields(b []byte) ([]Field, error) {
	var fields []Field
	for i := 0; i < len(b); {
		if len(b)-i < fieldHeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(b[i : i+2])
		typ := b[i+2]
		l := binary.BigEndian.Uint32(b[i+3 : i+7])
		i += fieldHeaderLen
		if uint32(len(b)-i) < l {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, b[i:i+int(l)])
		i += int(l)
		fields = append(fields, Field{ID: id, Type: typ, Value: val})
	}
	return fields, nil
}

func findField(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func fieldU32(fields []Field, id uint16) (uint32, error) {
	f, ok := findField(fields, id)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrMissingField, id)
	}
	if f.Type != TypeU32 || len(f.Value) != 4 {
		return 0, fmt.Errorf("protocol: field %d is not a u32", id)
	}
	return binary.BigEndian.Uint32(f.Value), nil
}

func fieldBytes(fields []Field, id uint16) ([]byte, bool) {
	f, ok := findField(fields, id)
	if !ok || f.Type != TypeBytes {
		return nil, false
	}
	return f.Value, true
}
