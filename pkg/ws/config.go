package ws

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"time"
)

type ClientConfig struct {
	URL string

	// CreateTransport is required: there is no implicit default transport.
	CreateTransport TransportFactory

	PackMessage   func(data any) ([]byte, error)
	UnpackMessage func(raw []byte) (any, error)

	AttachRequestID  func(data any, id RequestID) (any, error)
	ExtractRequestID func(data any) RequestID

	// GenerateRequestID overrides the default prefix+UUID ids.
	GenerateRequestID func() RequestID

	// ExtractMessageData selects the bytes to unpack; defaults to ev.Data.
	ExtractMessageData func(ev MessageEvent) []byte

	// MessageType of outgoing frames. Defaults to TextMessage.
	MessageType MessageType

	// Timeout applies to requests and closing. Zero means unlimited.
	Timeout time.Duration
	// ConnectionTimeout applies to opening. Zero falls back to Timeout.
	ConnectionTimeout time.Duration

	RequestIDPrefix string

	Logger *slog.Logger
}

// DefaultClientConfig returns a config exchanging JSON objects with the
// request id in the "requestId" field.
func DefaultClientConfig(wsURL string, factory TransportFactory) ClientConfig {
	return ClientConfig{
		URL:             wsURL,
		CreateTransport: factory,
		MessageType:     TextMessage,
		Logger:          slog.Default(),
	}.WithCodec(JSONCodec{})
}

// WithCodec sets all message hooks from c.
func (cfg ClientConfig) WithCodec(c Codec) ClientConfig {
	cfg.PackMessage = c.Pack
	cfg.UnpackMessage = c.Unpack
	cfg.AttachRequestID = c.AttachRequestID
	cfg.ExtractRequestID = c.ExtractRequestID

	if g, ok := c.(RequestIDGenerator); ok {
		cfg.GenerateRequestID = g.NewRequestID
	}

	return cfg
}

func (cfg ClientConfig) connectionTimeout() time.Duration {
	if cfg.ConnectionTimeout > 0 {
		return cfg.ConnectionTimeout
	}

	return cfg.Timeout
}

func (cfg ClientConfig) validate() error {
	switch {
	case cfg.URL == "":
		return configError("url is required")
	case cfg.CreateTransport == nil:
		return configError("CreateTransport is required")
	case cfg.Timeout < 0:
		return configError("timeout must not be negative, got %s", cfg.Timeout)
	case cfg.ConnectionTimeout < 0:
		return configError("connection timeout must not be negative, got %s", cfg.ConnectionTimeout)
	case cfg.MessageType != 0 && cfg.MessageType != TextMessage && cfg.MessageType != BinaryMessage:
		return configError("unsupported message type %s", cfg.MessageType)
	}

	return nil
}

// Settings is the serialisable subset of ClientConfig. Durations are in
// milliseconds.
type Settings struct {
	URL               *string `json:"url"`
	Timeout           *int64  `json:"timeout"`
	ConnectionTimeout *int64  `json:"connectionTimeout"`
	MessageType       *string `json:"messageType"`
	RequestIDPrefix   *string `json:"requestIdPrefix"`
}

// LoadConfig overlays JSON settings onto base. Unknown keys are rejected.
func LoadConfig(data []byte, base ClientConfig) (ClientConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var s Settings
	if err := dec.Decode(&s); err != nil {
		return base, configError("%v", err)
	}

	return s.Apply(base)
}

func (s Settings) Apply(cfg ClientConfig) (ClientConfig, error) {
	if s.URL != nil {
		cfg.URL = *s.URL
	}

	if s.Timeout != nil {
		cfg.Timeout = time.Duration(*s.Timeout) * time.Millisecond
	}

	if s.ConnectionTimeout != nil {
		cfg.ConnectionTimeout = time.Duration(*s.ConnectionTimeout) * time.Millisecond
	}

	if s.RequestIDPrefix != nil {
		cfg.RequestIDPrefix = *s.RequestIDPrefix
	}

	if s.MessageType != nil {
		switch *s.MessageType {
		case "text":
			cfg.MessageType = TextMessage
		case "binary":
			cfg.MessageType = BinaryMessage
		default:
			return cfg, configError("unknown message type %q", *s.MessageType)
		}
	}

	if cfg.Timeout < 0 || cfg.ConnectionTimeout < 0 {
		return cfg, configError("timeouts must not be negative")
	}

	return cfg, nil
}
