package ws

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
)

// RequestID is a correlation id: a string or a number.
type RequestID = any

// Codec bundles the four message hooks of ClientConfig.
type Codec interface {
	Pack(data any) ([]byte, error)
	Unpack(raw []byte) (any, error)
	AttachRequestID(data any, id RequestID) (any, error)
	ExtractRequestID(data any) RequestID
}

// RequestIDGenerator may be implemented by a Codec whose ids must have a
// particular shape.
type RequestIDGenerator interface {
	NewRequestID() RequestID
}

const DefaultIDField = "requestId"

// JSONCodec packs values as JSON and keeps the request id in a top-level
// field of the message object.
type JSONCodec struct {
	IDField string
}

var _ Codec = JSONCodec{}

func (c JSONCodec) field() string {
	if c.IDField == "" {
		return DefaultIDField
	}

	return c.IDField
}

func (c JSONCodec) Pack(data any) ([]byte, error) {
	return json.Marshal(data)
}

func (c JSONCodec) Unpack(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	return v, nil
}

func (c JSONCodec) AttachRequestID(data any, id RequestID) (any, error) {
	obj, err := toObject(data)
	if err != nil {
		return nil, err
	}

	obj[c.field()] = id

	return obj, nil
}

func (c JSONCodec) ExtractRequestID(data any) RequestID {
	obj, ok := data.(map[string]any)
	if !ok {
		return nil
	}

	return obj[c.field()]
}

// toObject returns data as a fresh JSON object; the caller's map is not modified.
func toObject(data any) (map[string]any, error) {
	if obj, ok := data.(map[string]any); ok {
		if obj == nil {
			return map[string]any{}, nil
		}

		return maps.Clone(obj), nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("websocket data should be a JSON object, got %T", data)
	}

	return obj, nil
}

// requestKey normalises id to the pending table key. Numbers decoded from JSON
// arrive as float64, so 1, uint64(1) and 1.0 share the key "1". The empty
// string and numeric zero report false; the string "0" is a valid id.
func requestKey(id RequestID) (string, bool) {
	var key string

	switch v := id.(type) {
	case nil:
		return "", false
	case string:
		key = v
	case json.Number:
		f, err := v.Float64()
		if err == nil && f == 0 {
			return "", false
		}
		key = v.String()
	case float64:
		if v == 0 {
			return "", false
		}
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			key = strconv.FormatInt(int64(v), 10)
		} else {
			key = strconv.FormatFloat(v, 'g', -1, 64)
		}
	default:
		key = fmt.Sprint(v)
		if key == "0" {
			return "", false
		}
	}

	if key == "" {
		return "", false
	}

	return key, true
}
