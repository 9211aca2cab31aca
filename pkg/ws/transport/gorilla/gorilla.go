// Package gorilla implements ws.Transport on top of github.com/gorilla/websocket.
package gorilla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LLIEPJIOK/service-mesh/wsp/pkg/ws"
)

type Config struct {
	Dialer *websocket.Dialer
	Header http.Header

	// CloseGracePeriod is how long Close waits for the peer to answer the
	// close frame before dropping the connection.
	CloseGracePeriod time.Duration

	// ReadLimit limits incoming message size. Zero means no limit.
	ReadLimit int64

	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Dialer: &websocket.Dialer{
			Proxy:            nil, // HTTP_PROXY is ignored
			HandshakeTimeout: 45 * time.Second,
		},
		CloseGracePeriod: time.Second,
		Logger:           slog.Default(),
	}
}

func Factory(cfg Config) ws.TransportFactory {
	return func(rawURL string) (ws.Transport, error) {
		return New(rawURL, cfg)
	}
}

type closeRequest struct {
	code   int
	reason string
}

type Transport struct {
	url    string
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	conn     *websocket.Conn
	closeReq *closeRequest
	grace    *time.Timer

	writeMu sync.Mutex
}

var _ ws.Transport = (*Transport)(nil)

func New(rawURL string, cfg Config) (*Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf(
			"%w: you must specify a full websocket url, including protocol, got %q",
			ws.ErrConfiguration, rawURL,
		)
	}

	if cfg.Dialer == nil {
		cfg.Dialer = DefaultConfig().Dialer
	}

	if cfg.CloseGracePeriod <= 0 {
		cfg.CloseGracePeriod = time.Second
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Transport{
		url:    u.String(),
		cfg:    cfg,
		logger: cfg.Logger.With("transport", "gorilla", "url", u.String()),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (t *Transport) Start(events ws.Events) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	go t.run(events)
}

func (t *Transport) run(events ws.Events) {
	defer t.cancel()

	conn, resp, err := t.cfg.Dialer.DialContext(t.ctx, t.url, t.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		if req := t.closeRequested(); req != nil {
			events.OnClose(ws.CloseEvent{Code: req.code, Reason: req.reason})
			return
		}

		events.OnError(fmt.Errorf("dial failed: %w", err))
		events.OnClose(ws.CloseEvent{Code: ws.CloseAbnormalClosure, Reason: err.Error()})

		return
	}

	if t.cfg.ReadLimit > 0 {
		conn.SetReadLimit(t.cfg.ReadLimit)
	}

	t.mu.Lock()
	t.conn = conn
	req := t.closeReq
	t.mu.Unlock()

	if req != nil {
		// Close raced with the handshake: finish closing without opening.
		t.writeClose(conn, req)
	} else {
		t.logger.Debug("connected")
		events.OnOpen()
	}

	ev := t.readLoop(conn, events)

	t.mu.Lock()
	if t.grace != nil {
		t.grace.Stop()
	}
	t.mu.Unlock()

	_ = conn.Close()

	events.OnClose(ev)
}

func (t *Transport) readLoop(conn *websocket.Conn, events ws.Events) ws.CloseEvent {
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			return t.closeEvent(err, events)
		}

		events.OnMessage(ws.MessageEvent{Type: ws.MessageType(typ), Data: data})
	}
}

func (t *Transport) closeEvent(err error, events ws.Events) ws.CloseEvent {
	req := t.closeRequested()

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		ev := ws.CloseEvent{
			Code:     ce.Code,
			Reason:   ce.Text,
			WasClean: ce.Code != websocket.CloseAbnormalClosure,
		}

		// the peer echoes our close frame without its reason
		if req != nil && ev.Reason == "" && ev.Code == req.code {
			ev.Reason = req.reason
		}

		return ev
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		return ws.CloseEvent{Code: ws.CloseMessageTooBig}
	}

	if req != nil {
		return ws.CloseEvent{Code: req.code, Reason: req.reason}
	}

	t.logger.Error("read error", "error", err)
	events.OnError(fmt.Errorf("read failed: %w", err))

	return ws.CloseEvent{Code: ws.CloseAbnormalClosure}
}

func (t *Transport) closeRequested() *closeRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeReq
}

func (t *Transport) Send(typ ws.MessageType, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	closing := t.closeReq != nil
	t.mu.Unlock()

	if conn == nil || closing {
		return ws.ErrNotOpen
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := conn.WriteMessage(int(typ), data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	return nil
}

// Close sends a close frame and drops the connection if the peer does not
// answer within CloseGracePeriod. A second call drops it immediately.
func (t *Transport) Close(code int, reason string) error {
	t.mu.Lock()

	if t.closeReq != nil {
		conn := t.conn
		t.mu.Unlock()

		if conn != nil {
			return conn.Close()
		}

		return nil
	}

	req := &closeRequest{code: code, reason: reason}
	t.closeReq = req
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		t.cancel()
		return nil
	}

	t.writeClose(conn, req)

	return nil
}

func (t *Transport) writeClose(conn *websocket.Conn, req *closeRequest) {
	msg := websocket.FormatCloseMessage(req.code, req.reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.logger.Debug("failed to write close frame", "error", err)
	}

	t.mu.Lock()
	t.grace = time.AfterFunc(t.cfg.CloseGracePeriod, func() { _ = conn.Close() })
	t.mu.Unlock()
}
