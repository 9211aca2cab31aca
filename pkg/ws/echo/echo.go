// Package echo is a WebSocket endpoint that sends every message back to its
// sender. JSON objects may carry directives changing that behaviour:
//
//	{"noResponse": true}                          не отвечать
//	{"delay": 100}                                ответить через 100 мс
//	{"close": true, "code": 1009, "reason": "…"}  закрыть соединение
//	{"drop": true}                                оборвать TCP соединение
//
// Handshake query parameters: ?reject=1 refuses the upgrade, ?delay=ms
// delays it.
package echo

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
	Logger          *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
		Logger:          slog.Default(),
	}
}

type Server struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		logger: cfg.Logger,
	}
}

type directives struct {
	NoResponse bool   `json:"noResponse"`
	Delay      int64  `json:"delay"`
	Close      bool   `json:"close"`
	Code       int    `json:"code"`
	Reason     string `json:"reason"`
	Drop       bool   `json:"drop"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("reject") != "" {
		http.Error(w, "connection rejected", http.StatusForbidden)
		return
	}

	if ms, err := strconv.Atoi(q.Get("delay")); err == nil && ms > 0 {
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-r.Context().Done():
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Info("client connected", "remote_addr", conn.RemoteAddr())
	defer s.logger.Info("client disconnected", "remote_addr", conn.RemoteAddr())

	s.handleConnection(conn)
}

// Wait blocks until delayed responses of closed connections are finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	writeMu := &sync.Mutex{}

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
			) {
				s.logger.Debug("read error", "error", err)
			}

			return
		}

		var d directives
		if typ == websocket.TextMessage {
			// not every message is a JSON object: those are echoed as is
			_ = json.Unmarshal(data, &d)
		}

		switch {
		case d.Drop:
			s.logger.Debug("dropping connection")
			return
		case d.Close:
			s.close(conn, writeMu, d.Code, d.Reason)
			continue
		case d.NoResponse:
			continue
		case d.Delay > 0:
			s.wg.Add(1)

			go func() {
				defer s.wg.Done()

				time.Sleep(time.Duration(d.Delay) * time.Millisecond)
				s.write(conn, writeMu, typ, data)
			}()

			continue
		}

		s.write(conn, writeMu, typ, data)
	}
}

func (s *Server) close(conn *websocket.Conn, mu *sync.Mutex, code int, reason string) {
	if code == 0 {
		code = websocket.CloseNormalClosure
	}

	mu.Lock()
	defer mu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		s.logger.Error("failed to write close message", "error", err)
	}
}

func (s *Server) write(conn *websocket.Conn, mu *sync.Mutex, typ int, data []byte) {
	mu.Lock()
	defer mu.Unlock()

	if err := conn.WriteMessage(typ, data); err != nil {
		s.logger.Debug("failed to write message", "error", err)
	}
}
