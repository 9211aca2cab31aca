package ws

import "fmt"

type MessageType int

// Values match the WebSocket frame opcodes used by gorilla and nhooyr.
const (
	TextMessage   MessageType = 1
	BinaryMessage MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return fmt.Sprintf("message_type(%d)", int(t))
	}
}

const (
	CloseNormalClosure    = 1000
	CloseGoingAway        = 1001
	CloseProtocolError    = 1002
	CloseUnsupportedData  = 1003
	CloseNoStatusReceived = 1005
	CloseAbnormalClosure  = 1006
	CloseInvalidPayload   = 1007
	ClosePolicyViolation  = 1008
	CloseMessageTooBig    = 1009
	CloseInternalError    = 1011
)

var closeCodeTexts = map[int]string{
	CloseNormalClosure:    "normal connection closure",
	CloseGoingAway:        "going away",
	CloseProtocolError:    "protocol error",
	CloseUnsupportedData:  "unsupported data",
	CloseNoStatusReceived: "no status received",
	CloseAbnormalClosure:  "connection failed",
	CloseInvalidPayload:   "invalid frame payload data",
	ClosePolicyViolation:  "policy violation",
	CloseMessageTooBig:    "message is too big",
	CloseInternalError:    "internal error",
}

func closeCodeText(code int) string {
	if text, ok := closeCodeTexts[code]; ok {
		return text
	}

	return "unknown reason"
}

type OpenEvent struct {
	URL string
}

type MessageEvent struct {
	Type MessageType
	Data []byte
}

type CloseEvent struct {
	Code     int
	Reason   string
	WasClean bool
}

// Response is dispatched by OnResponse for every unpacked message that
// carries a request id.
type Response struct {
	Data      any
	RequestID RequestID
}

// Events receives transport notifications. A transport delivers them from a
// single goroutine, OnOpen first, and OnClose exactly once and last.
type Events interface {
	OnOpen()
	OnMessage(ev MessageEvent)
	OnError(err error)
	OnClose(ev CloseEvent)
}

// Transport is one physical connection. Constructing it must not emit any
// event; connecting starts with Start. Close only requests closing: completion
// is reported through Events.OnClose.
type Transport interface {
	Start(events Events)
	Send(typ MessageType, data []byte) error
	Close(code int, reason string) error
}

// TransportFactory builds a transport for url. Errors reject the pending Open.
type TransportFactory func(url string) (Transport, error)
