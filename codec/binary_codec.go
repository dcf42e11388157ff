package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var errShortFrame = errors.New("BinaryCodec: frame too short")

// BinaryCodec lays a frame out as two length-prefixed fields:
//
//	┌──────────┬───────┬──────────┬──────┐
//	│ eventLen │ event │ dataLen  │ data │
//	│  uint16  │       │  uint32  │      │
//	└──────────┴───────┴──────────┴──────┘
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(f *Frame) ([]byte, error) {
	if f == nil {
		return nil, errors.New("BinaryCodec: nil frame")
	}
	if len(f.Event) > math.MaxUint16 {
		return nil, fmt.Errorf("BinaryCodec: event name too long (%d bytes)", len(f.Event))
	}
	total := 2 + len(f.Event) + 4 + len(f.Data)
	buf := make([]byte, total)

	offset := 0
	// Event length -- 2 bytes
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(f.Event)))
	offset += 2

	// Event -- n bytes
	copy(buf[offset:offset+len(f.Event)], f.Event)
	offset += len(f.Event)

	// Data length -- 4 bytes
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(f.Data)))
	offset += 4

	// Data -- n bytes
	copy(buf[offset:], f.Data)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, f *Frame) error {
	if f == nil {
		return errors.New("BinaryCodec: nil frame")
	}

	offset := 0
	if len(data) < offset+2 {
		return errShortFrame
	}
	eventLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if len(data) < offset+eventLen {
		return errShortFrame
	}
	f.Event = string(data[offset : offset+eventLen])
	offset += eventLen

	if len(data) < offset+4 {
		return errShortFrame
	}
	dataLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if len(data) < offset+dataLen {
		return errShortFrame
	}
	f.Data = nil
	if dataLen > 0 {
		f.Data = make([]byte, dataLen)
		copy(f.Data, data[offset:offset+dataLen])
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
