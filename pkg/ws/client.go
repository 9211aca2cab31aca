package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LLIEPJIOK/service-mesh/wsp/pkg/ws/channel"
	"github.com/LLIEPJIOK/service-mesh/wsp/pkg/ws/pending"
	"github.com/LLIEPJIOK/service-mesh/wsp/pkg/ws/promise"
)

type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpened
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpened:
		return "opened"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Future is the read side of the futures returned by Client.
type Future[T any] = promise.Future[T]

type RequestOptions struct {
	// RequestID is generated when nil.
	RequestID RequestID
	// RequestIDPrefix overrides ClientConfig.RequestIDPrefix for a generated id.
	RequestIDPrefix string
	// Timeout overrides ClientConfig.Timeout when positive.
	Timeout time.Duration
}

type Client struct {
	cfg    ClientConfig
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	conn      Transport
	gen       uint64
	opening   *promise.Deferred[OpenEvent]
	closing   *promise.Deferred[*CloseEvent]
	lastClose *CloseEvent

	requests *pending.Table[any]

	onOpen            *channel.Channel[OpenEvent]
	onMessage         *channel.Channel[MessageEvent]
	onUnpackedMessage *channel.Channel[any]
	onResponse        *channel.Channel[Response]
	onSend            *channel.Channel[[]byte]
	onClose           *channel.Channel[CloseEvent]
	onError           *channel.Channel[error]
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.MessageType == 0 {
		cfg.MessageType = TextMessage
	}

	if cfg.ExtractMessageData == nil {
		cfg.ExtractMessageData = func(ev MessageEvent) []byte { return ev.Data }
	}

	return &Client{
		cfg:               cfg,
		logger:            cfg.Logger.With("url", cfg.URL),
		requests:          pending.New[any](),
		onOpen:            channel.New[OpenEvent]("open"),
		onMessage:         channel.New[MessageEvent]("message"),
		onUnpackedMessage: channel.New[any]("unpacked_message"),
		onResponse:        channel.New[Response]("response"),
		onSend:            channel.New[[]byte]("send"),
		onClose:           channel.New[CloseEvent]("close"),
		onError:           channel.New[error]("error"),
	}, nil
}

func (c *Client) OnOpen() *channel.Channel[OpenEvent] { return c.onOpen }
func (c *Client) OnMessage() *channel.Channel[MessageEvent] { return c.onMessage }
func (c *Client) OnUnpackedMessage() *channel.Channel[any] { return c.onUnpackedMessage }
func (c *Client) OnResponse() *channel.Channel[Response] { return c.onResponse }
func (c *Client) OnSend() *channel.Channel[[]byte] { return c.onSend }
func (c *Client) OnClose() *channel.Channel[CloseEvent] { return c.onClose }
func (c *Client) OnError() *channel.Channel[error] { return c.onError }
func (c *Client) URL() string { return c.cfg.URL }
func (c *Client) PendingRequests() int { return c.requests.Len() }

func (c *Client) RemoveAllListeners() {
	c.onOpen.RemoveAllListeners()
	c.onMessage.RemoveAllListeners()
	c.onUnpackedMessage.RemoveAllListeners()
	c.onResponse.RemoveAllListeners()
	c.onSend.RemoveAllListeners()
	c.onClose.RemoveAllListeners()
	c.onError.RemoveAllListeners()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsOpening() bool { return c.State() == StateOpening }
func (c *Client) IsOpened() bool { return c.State() == StateOpened }
func (c *Client) IsClosing() bool { return c.State() == StateClosing }
func (c *Client) IsClosed() bool { return c.State() == StateClosed }

// Transport returns the live transport, or nil when there is none.
func (c *Client) Transport() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Open connects the client. Calls made while opening or opened return the
// same future.
func (c *Client) Open() Future[OpenEvent] {
	c.mu.Lock()

	switch c.state {
	case StateClosing:
		c.mu.Unlock()
		return promise.Failed[OpenEvent](
			fmt.Errorf("%w: can't open websocket while closing", ErrInvalidState),
		)
	case StateOpening, StateOpened:
		d := c.opening
		c.mu.Unlock()
		return d
	}

	c.gen++
	gen := c.gen
	d := promise.New[OpenEvent]()
	c.state = StateOpening
	c.opening = d
	c.closing = nil
	c.mu.Unlock()

	c.logger.Info("opening connection")

	timeout := c.cfg.connectionTimeout()
	d.WithTimeout(timeout, fmt.Sprintf("can't open websocket within allowed timeout: %d ms", timeout.Milliseconds()))
	d.Finally(func() {
		if _, err := d.Result(); err != nil {
			c.abort(gen, StateOpening, err)
		}
	})

	return d.Call(func() error {
		conn, err := c.cfg.CreateTransport(c.cfg.URL)
		if err != nil {
			return fmt.Errorf("create transport: %w", err)
		}

		c.mu.Lock()
		if c.gen != gen || c.state != StateOpening {
			c.mu.Unlock()
			_ = conn.Close(CloseNormalClosure, "")
			return nil
		}
		c.conn = conn
		c.mu.Unlock()

		conn.Start(&connEvents{c: c, gen: gen})

		return nil
	})
}

// Close closes the connection with code (1000 when zero) and reason. The
// future resolves with the close event; it resolves with nil right away when
// the client was never opened.
func (c *Client) Close(code int, reason string) Future[*CloseEvent] {
	if code == 0 {
		code = CloseNormalClosure
	}

	c.mu.Lock()

	switch c.state {
	case StateClosed:
		last := c.lastClose
		c.mu.Unlock()
		return promise.Resolved(last)
	case StateClosing:
		d := c.closing
		c.mu.Unlock()
		return d
	}

	gen := c.gen
	prev := c.state
	conn := c.conn
	opening := c.opening
	d := promise.New[*CloseEvent]()
	c.state = StateClosing
	c.closing = d
	c.mu.Unlock()

	c.logger.Info("closing connection", "code", code, "reason", reason)

	if prev == StateOpening {
		opening.Reject(&CloseError{Code: code, Reason: "connection closed before it was opened"})
	}

	if conn == nil {
		// the transport is still being created: nothing to wait for
		c.handleClose(gen, CloseEvent{Code: code, Reason: reason, WasClean: true})
		return d
	}

	timeout := c.cfg.Timeout
	d.WithTimeout(timeout, fmt.Sprintf("can't close websocket within allowed timeout: %d ms", timeout.Milliseconds()))
	d.Finally(func() {
		if _, err := d.Result(); err != nil {
			c.abort(gen, StateClosing, err)
		}
	})

	return d.Call(func() error { return conn.Close(code, reason) })
}

// abort releases the connection of generation gen without waiting for its
// close event. Nothing happens unless the client is still in state from.
func (c *Client) abort(gen uint64, from State, cause error) {
	c.mu.Lock()
	if c.gen != gen || c.state != from {
		c.mu.Unlock()
		return
	}

	ev := CloseEvent{Code: CloseAbnormalClosure, Reason: cause.Error()}

	conn := c.conn
	c.conn = nil
	c.state = StateClosed
	c.lastClose = &ev
	c.gen++
	c.mu.Unlock()

	c.logger.Warn("connection aborted", "state", from.String(), "error", cause)

	c.requests.RejectAll(fmt.Errorf("%w: %w", ErrConnectionClosed, cause))

	if conn != nil {
		if err := conn.Close(CloseNormalClosure, ""); err != nil {
			c.logger.Debug("failed to close aborted transport", "error", err)
		}
	}

	c.onClose.Dispatch(ev)
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Client) handleOpen(gen uint64) {
	ev := OpenEvent{URL: c.cfg.URL}

	c.mu.Lock()
	if c.gen != gen || c.state != StateOpening {
		c.mu.Unlock()
		return
	}

	// resolved under the lock: a concurrent open timeout must not leave an
	// opened connection behind a rejected future
	c.state = StateOpened
	if !c.opening.Resolve(ev) {
		c.state = StateOpening
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.logger.Info("connection opened")
	c.onOpen.Dispatch(ev)
}

func (c *Client) handleClose(gen uint64, ev CloseEvent) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}

	opening, closing := c.opening, c.closing
	c.state = StateClosed
	c.conn = nil
	c.lastClose = &ev
	c.gen++
	c.mu.Unlock()

	c.logger.Info("connection closed", "code", ev.Code, "reason", ev.Reason)

	err := &CloseError{Code: ev.Code, Reason: ev.Reason}

	if opening != nil {
		opening.Reject(err)
	}

	if closing != nil {
		closing.Resolve(&ev)
	}

	if n := c.requests.RejectAll(err); n > 0 {
		c.logger.Debug("rejected pending requests", "count", n)
	}

	c.onClose.Dispatch(ev)
}

func (c *Client) handleError(gen uint64, err error) {
	if !c.current(gen) {
		return
	}

	c.logger.Error("transport error", "error", err)
	c.onError.Dispatch(err)
}

func (c *Client) handleMessage(gen uint64, ev MessageEvent) {
	if !c.current(gen) {
		return
	}

	c.onMessage.Dispatch(ev)

	if c.cfg.UnpackMessage == nil {
		return
	}

	var data any
	if err := promise.Catch(func() (err error) {
		data, err = c.cfg.UnpackMessage(c.cfg.ExtractMessageData(ev))
		return err
	}); err != nil {
		c.logger.Debug("failed to unpack message", "error", err)
		return
	}

	c.onUnpackedMessage.Dispatch(data)

	if c.cfg.ExtractRequestID == nil {
		return
	}

	var id RequestID
	if err := promise.Catch(func() error {
		id = c.cfg.ExtractRequestID(data)
		return nil
	}); err != nil {
		c.logger.Debug("failed to extract request id", "error", err)
		return
	}

	key, ok := requestKey(id)
	if !ok {
		return
	}

	if !c.requests.Resolve(key, data) {
		c.logger.Debug("received response for unknown request", "request_id", key)
	}

	c.onResponse.Dispatch(Response{Data: data, RequestID: id})
}

// Send writes a raw payload. It fails with ErrNotOpen unless the client is opened.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	if c.state != StateOpened {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: can't send data in state %s", ErrNotOpen, state)
	}
	conn := c.conn
	c.mu.Unlock()

	if err := conn.Send(c.cfg.MessageType, data); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	c.onSend.Dispatch(data)

	return nil
}

// SendPacked packs data with PackMessage and sends it without waiting for a response.
func (c *Client) SendPacked(data any) error {
	if c.cfg.PackMessage == nil || c.cfg.UnpackMessage == nil {
		return configError("define PackMessage and UnpackMessage for sending packed messages")
	}

	var raw []byte
	if err := promise.Catch(func() (err error) {
		raw, err = c.cfg.PackMessage(data)
		return err
	}); err != nil {
		return fmt.Errorf("pack message: %w", err)
	}

	return c.Send(raw)
}

// SendRequest sends data with a request id attached and returns a future
// resolved by the first unpacked message carrying the same id.
func (c *Client) SendRequest(data any, opts RequestOptions) Future[any] {
	d, _ := c.sendRequest(data, opts)
	return d
}

// Request is the blocking form of SendRequest. Cancelling ctx rejects the request.
func (c *Client) Request(ctx context.Context, data any, opts RequestOptions) (any, error) {
	d, key := c.sendRequest(data, opts)

	v, err := d.Wait(ctx)
	if err != nil && ctx.Err() != nil && d.IsPending() && c.requests.Reject(key, ctx.Err()) {
		c.logger.Debug("request cancelled", "request_id", key)
	}

	return v, err
}

func (c *Client) sendRequest(data any, opts RequestOptions) (*promise.Deferred[any], string) {
	if c.cfg.AttachRequestID == nil || c.cfg.ExtractRequestID == nil {
		return promise.Failed[any](
			configError("define AttachRequestID and ExtractRequestID for sending requests"),
		), ""
	}

	id := opts.RequestID
	if id == nil {
		if err := promise.Catch(func() error {
			id = c.newRequestID(opts.RequestIDPrefix)
			return nil
		}); err != nil {
			return promise.Failed[any](fmt.Errorf("generate request id: %w", err)), ""
		}
	}

	key, ok := requestKey(id)
	if !ok {
		return promise.Failed[any](configError("invalid request id %v", id)), ""
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	d := c.requests.Create(key, func() error {
		var msg any
		if err := promise.Catch(func() (err error) {
			msg, err = c.cfg.AttachRequestID(data, id)
			return err
		}); err != nil {
			return fmt.Errorf("attach request id: %w", err)
		}

		return c.SendPacked(msg)
	}, timeout)

	return d, key
}

func (c *Client) newRequestID(prefix string) RequestID {
	if c.cfg.GenerateRequestID != nil {
		return c.cfg.GenerateRequestID()
	}

	if prefix == "" {
		prefix = c.cfg.RequestIDPrefix
	}

	return prefix + uuid.NewString()
}

// WaitUnpackedMessage returns a future fulfilled by the first unpacked message
// matching predicate. A panicking predicate rejects the future. A zero timeout
// falls back to ClientConfig.Timeout.
func (c *Client) WaitUnpackedMessage(predicate func(data any) bool, timeout time.Duration) Future[any] {
	if predicate == nil {
		return promise.Failed[any](configError("predicate must be a function"))
	}

	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	d := promise.New[any]()
	d.WithTimeout(timeout, fmt.Sprintf("no matching message within %d ms", timeout.Milliseconds()))

	remove := c.onUnpackedMessage.AddListener(func(data any) {
		d.Call(func() error {
			if predicate(data) {
				d.Resolve(data)
			}
			return nil
		})
	})
	d.Finally(remove)

	return d
}

// connEvents binds transport events to one connection generation.
type connEvents struct {
	c   *Client
	gen uint64
}

func (e *connEvents) OnOpen() { e.c.handleOpen(e.gen) }
func (e *connEvents) OnMessage(ev MessageEvent) { e.c.handleMessage(e.gen, ev) }
func (e *connEvents) OnError(err error) { e.c.handleError(e.gen, err) }
func (e *connEvents) OnClose(ev CloseEvent) { e.c.handleClose(e.gen, ev) }
