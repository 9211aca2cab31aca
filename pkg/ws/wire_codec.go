package ws

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
)

const (
	wireVersion    byte = 1
	wireHeaderSize int  = 17
)

// Frame is the unit of WireCodec. ID carries the request id; zero means none.
type Frame struct {
	ID      uint64          `json:"id"`
	Route   string          `json:"route,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// WireCodec packs *Frame values into a compact binary layout:
//
//	version(1) | id(8) | routeLen(2) | errorLen(2) | payloadLen(4) | route | error | payload
//
// Messages starting with '{' are decoded as JSON frames.
type WireCodec struct {
	counter atomic.Uint64
}

var (
	_ Codec              = (*WireCodec)(nil)
	_ RequestIDGenerator = (*WireCodec)(nil)
)

func (c *WireCodec) NewRequestID() RequestID {
	return c.counter.Add(1)
}

func (c *WireCodec) Pack(data any) ([]byte, error) {
	f, err := asFrame(data)
	if err != nil {
		return nil, err
	}

	return encodeFrame(f)
}

func (c *WireCodec) Unpack(raw []byte) (any, error) {
	return decodeFrame(raw)
}

func (c *WireCodec) AttachRequestID(data any, id RequestID) (any, error) {
	f, err := asFrame(data)
	if err != nil {
		return nil, err
	}

	n, err := frameID(id)
	if err != nil {
		return nil, err
	}

	out := *f
	out.ID = n

	return &out, nil
}

func (c *WireCodec) ExtractRequestID(data any) RequestID {
	f, ok := data.(*Frame)
	if !ok || f.ID == 0 {
		return nil
	}

	return f.ID
}

func asFrame(data any) (*Frame, error) {
	switch f := data.(type) {
	case *Frame:
		if f == nil {
			return nil, fmt.Errorf("%w: nil frame", ErrInvalidWireMessage)
		}
		return f, nil
	case Frame:
		return &f, nil
	default:
		return nil, fmt.Errorf("%w: expected *Frame, got %T", ErrInvalidWireMessage, data)
	}
}

func frameID(id RequestID) (uint64, error) {
	switch v := id.(type) {
	case uint64:
		return v, nil
	case int:
		if v >= 0 {
			return uint64(v), nil
		}
	case int64:
		if v >= 0 {
			return uint64(v), nil
		}
	case uint32:
		return uint64(v), nil
	case float64:
		if v >= 0 && v == math.Trunc(v) {
			return uint64(v), nil
		}
	case string:
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n, nil
		}
	}

	return 0, fmt.Errorf("%w: request id %v is not an unsigned integer", ErrInvalidWireMessage, id)
}

func encodeFrame(f *Frame) ([]byte, error) {
	if len(f.Route) > math.MaxUint16 || len(f.Error) > math.MaxUint16 || uint64(len(f.Payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: frame section too long", ErrInvalidWireMessage)
	}

	buf := make([]byte, wireHeaderSize, wireHeaderSize+len(f.Route)+len(f.Error)+len(f.Payload))
	buf[0] = wireVersion
	binary.BigEndian.PutUint64(buf[1:9], f.ID)
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(f.Route)))
	binary.BigEndian.PutUint16(buf[11:13], uint16(len(f.Error)))
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(f.Payload)))

	buf = append(buf, f.Route...)
	buf = append(buf, f.Error...)
	buf = append(buf, f.Payload...)

	return buf, nil
}

func decodeFrame(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, ErrInvalidWireMessage
	}

	if data[0] == '{' {
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWireMessage, err)
		}

		return &f, nil
	}

	if len(data) < wireHeaderSize || data[0] != wireVersion {
		return nil, ErrInvalidWireMessage
	}

	routeLen := int(binary.BigEndian.Uint16(data[9:11]))
	errorLen := int(binary.BigEndian.Uint16(data[11:13]))
	payloadLen := int(binary.BigEndian.Uint32(data[13:17]))

	if wireHeaderSize+routeLen+errorLen+payloadLen != len(data) {
		return nil, ErrInvalidWireMessage
	}

	rest := data[wireHeaderSize:]
	f := &Frame{
		ID:    binary.BigEndian.Uint64(data[1:9]),
		Route: string(rest[:routeLen]),
		Error: string(rest[routeLen : routeLen+errorLen]),
	}

	if payloadLen > 0 {
		f.Payload = json.RawMessage(append([]byte(nil), rest[routeLen+errorLen:]...))
	}

	return f, nil
}
