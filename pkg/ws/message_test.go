package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestKey(t *testing.T) {
	tests := []struct {
		id   RequestID
		key  string
		want bool
	}{
		{id: nil},
		{id: ""},
		{id: 0},
		{id: float64(0)},
		{id: json.Number("0")},
		{id: "0", key: "0", want: true},
		{id: "abc", key: "abc", want: true},
		{id: 1, key: "1", want: true},
		{id: uint64(1), key: "1", want: true},
		{id: float64(1), key: "1", want: true},
		{id: "1", key: "1", want: true},
		{id: json.Number("17"), key: "17", want: true},
		{id: 1.5, key: "1.5", want: true},
	}

	for _, tt := range tests {
		key, ok := requestKey(tt.id)
		require.Equal(t, tt.want, ok, "id %#v", tt.id)
		require.Equal(t, tt.key, key, "id %#v", tt.id)
	}
}

func TestJSONCodec(t *testing.T) {
	c := JSONCodec{}

	msg, err := c.AttachRequestID(map[string]any{"foo": "bar"}, "r1")
	require.NoError(t, err)

	raw, err := c.Pack(msg)
	require.NoError(t, err)
	require.JSONEq(t, `{"foo":"bar","requestId":"r1"}`, string(raw))

	data, err := c.Unpack(raw)
	require.NoError(t, err)
	require.Equal(t, "r1", c.ExtractRequestID(data))

	_, err = c.Unpack([]byte("{"))
	require.ErrorIs(t, err, ErrUnparseable)

	require.Nil(t, c.ExtractRequestID("text"))
}

func TestJSONCodec_AttachToStruct(t *testing.T) {
	type request struct {
		Method string `json:"method"`
	}

	c := JSONCodec{IDField: "id"}

	msg, err := c.AttachRequestID(request{Method: "ping"}, 7)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"method": "ping", "id": 7}, msg)

	_, err = c.AttachRequestID([]int{1}, 7)
	require.ErrorContains(t, err, "should be a JSON object")
}

func TestWireCodec_Binary(t *testing.T) {
	c := &WireCodec{}

	id := c.NewRequestID()
	require.Equal(t, uint64(1), id)

	msg, err := c.AttachRequestID(&Frame{Route: "echo", Payload: json.RawMessage(`{"a":1}`)}, id)
	require.NoError(t, err)

	raw, err := c.Pack(msg)
	require.NoError(t, err)
	require.Equal(t, wireVersion, raw[0])

	data, err := c.Unpack(raw)
	require.NoError(t, err)

	f := data.(*Frame)
	require.Equal(t, uint64(1), f.ID)
	require.Equal(t, "echo", f.Route)
	require.JSONEq(t, `{"a":1}`, string(f.Payload))
	require.Equal(t, id, c.ExtractRequestID(f))
}

func TestWireCodec_JSONFrame(t *testing.T) {
	c := &WireCodec{}

	data, err := c.Unpack([]byte(`{"id":5,"route":"r","error":"failed"}`))
	require.NoError(t, err)
	require.Equal(t, &Frame{ID: 5, Route: "r", Error: "failed"}, data)

	require.Nil(t, c.ExtractRequestID(&Frame{}))
}

func TestWireCodec_Invalid(t *testing.T) {
	c := &WireCodec{}

	for _, raw := range [][]byte{nil, {wireVersion}, {9, 0, 0}, []byte("{bad")} {
		_, err := c.Unpack(raw)
		require.ErrorIs(t, err, ErrInvalidWireMessage)
	}

	_, err := c.Pack("not a frame")
	require.ErrorIs(t, err, ErrInvalidWireMessage)

	_, err = c.AttachRequestID(&Frame{}, "x")
	require.ErrorIs(t, err, ErrInvalidWireMessage)
}
