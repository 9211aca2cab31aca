// Package nhooyr implements ws.Transport on top of nhooyr.io/websocket.
package nhooyr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/LLIEPJIOK/service-mesh/wsp/pkg/ws"
)

const defaultReadLimit = 1 << 20

type Config struct {
	HTTPClient *http.Client
	Header     http.Header

	// CloseGracePeriod bounds the close handshake.
	CloseGracePeriod time.Duration

	// ReadLimit limits incoming message size, 1 MiB by default.
	ReadLimit int64

	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		CloseGracePeriod: time.Second,
		ReadLimit:        defaultReadLimit,
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

	// ctx bounds dialing and reading; cancelling it drops the connection.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	conn     *websocket.Conn
	closeReq *closeRequest
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

	if cfg.CloseGracePeriod <= 0 {
		cfg.CloseGracePeriod = time.Second
	}

	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Transport{
		url:    u.String(),
		cfg:    cfg,
		logger: cfg.Logger.With("transport", "nhooyr", "url", u.String()),
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

	conn, resp, err := websocket.Dial(t.ctx, t.url, &websocket.DialOptions{
		HTTPClient: t.cfg.HTTPClient,
		HTTPHeader: t.cfg.Header,
	})
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

	conn.SetReadLimit(t.cfg.ReadLimit)

	t.mu.Lock()
	t.conn = conn
	req := t.closeReq
	t.mu.Unlock()

	if req != nil {
		t.closeConn(conn, req)
	} else {
		t.logger.Debug("connected")
		events.OnOpen()
	}

	for {
		typ, data, err := conn.Read(t.ctx)
		if err != nil {
			events.OnClose(t.closeEvent(err, events))
			return
		}

		events.OnMessage(ws.MessageEvent{Type: ws.MessageType(typ), Data: data})
	}
}

func (t *Transport) closeEvent(err error, events ws.Events) ws.CloseEvent {
	req := t.closeRequested()

	var ce websocket.CloseError
	if errors.As(err, &ce) {
		ev := ws.CloseEvent{Code: int(ce.Code), Reason: ce.Reason, WasClean: true}

		if req != nil && ev.Reason == "" && ev.Code == req.code {
			ev.Reason = req.reason
		}

		return ev
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

	if err := conn.Write(t.ctx, websocket.MessageType(typ), data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	return nil
}

// Close starts the close handshake in the background. A second call drops
// the connection immediately.
func (t *Transport) Close(code int, reason string) error {
	t.mu.Lock()

	if t.closeReq != nil {
		t.mu.Unlock()
		t.cancel()

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

	t.closeConn(conn, req)

	return nil
}

func (t *Transport) closeConn(conn *websocket.Conn, req *closeRequest) {
	grace := time.AfterFunc(t.cfg.CloseGracePeriod, t.cancel)

	go func() {
		if err := conn.Close(websocket.StatusCode(req.code), req.reason); err != nil {
			t.logger.Debug("close handshake failed", "error", err)
			t.cancel()
		}

		grace.Stop()
	}()
}
