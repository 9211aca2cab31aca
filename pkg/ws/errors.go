package ws

import (
	"errors"
	"fmt"

	"github.com/LLIEPJIOK/service-mesh/wsp/pkg/ws/pending"
	"github.com/LLIEPJIOK/service-mesh/wsp/pkg/ws/promise"
)

var (
	ErrInvalidState       = errors.New("invalid state")
	ErrNotOpen            = errors.New("websocket is not opened")
	ErrConfiguration      = errors.New("invalid configuration")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrInvalidWireMessage = errors.New("invalid wire message")
	ErrUnparseable        = errors.New("unparseable message")
	ErrTimeout            = promise.ErrTimeout
	ErrRequestReplaced    = pending.ErrReplaced
	ErrPanic              = promise.ErrPanic
)

type (
	TimeoutError         = promise.TimeoutError
	RequestReplacedError = pending.ReplacedError
)

// CloseError rejects futures that were pending when the connection closed.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = closeCodeText(e.Code)
	}

	return fmt.Sprintf("websocket closed with reason: %s (%d)", reason, e.Code)
}

func (e *CloseError) Is(target error) bool {
	return target == ErrConnectionClosed
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
