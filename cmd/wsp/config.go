package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/LLIEPJIOK/service-mesh/wsp/pkg/ws"
	"github.com/LLIEPJIOK/service-mesh/wsp/pkg/ws/transport"
	"github.com/LLIEPJIOK/service-mesh/wsp/pkg/ws/transport/gorilla"
	"github.com/LLIEPJIOK/service-mesh/wsp/pkg/ws/transport/nhooyr"
)

// EnvConfig holds defaults read from the environment.
type EnvConfig struct {
	URL               string        `env:"WSP_URL"`
	Transport         string        `env:"WSP_TRANSPORT,default=gorilla"`
	ConfigFile        string        `env:"WSP_CONFIG"`
	Timeout           time.Duration `env:"WSP_TIMEOUT,default=10s"`
	ConnectionTimeout time.Duration `env:"WSP_CONNECTION_TIMEOUT"`
	RequestIDPrefix   string        `env:"WSP_REQUEST_ID_PREFIX"`
}

func loadEnv() (EnvConfig, error) {
	var cfg EnvConfig

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return cfg, fmt.Errorf("decode environment: %w", err)
	}

	return cfg, nil
}

func pick[T comparable](flag, fallback T) T {
	var zero T
	if flag != zero {
		return flag
	}

	return fallback
}

func transportFactory(name string) (ws.TransportFactory, error) {
	tlsCfg, err := transport.TLSConfigFromEnv()
	if err != nil {
		return nil, err
	}

	switch name {
	case "", "gorilla":
		cfg := gorilla.DefaultConfig()
		cfg.Dialer.TLSClientConfig = tlsCfg
		cfg.Logger = logger

		return gorilla.Factory(cfg), nil
	case "nhooyr":
		cfg := nhooyr.DefaultConfig()
		cfg.Logger = logger

		if tlsCfg != nil {
			cfg.HTTPClient = &http.Client{Transport: &http.Transport{TLSClientConfig: tlsCfg}}
		}

		return nhooyr.Factory(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", ws.ErrConfiguration, name)
	}
}

// clientConfig merges environment, flags and the optional settings file.
func clientConfig() (ws.ClientConfig, error) {
	factory, err := transportFactory(pick(globalFlags.Transport, env.Transport))
	if err != nil {
		return ws.ClientConfig{}, err
	}

	cfg := ws.DefaultClientConfig(pick(globalFlags.URL, env.URL), factory)
	cfg.Timeout = pick(globalFlags.Timeout, env.Timeout)
	cfg.ConnectionTimeout = pick(globalFlags.ConnectionTimeout, env.ConnectionTimeout)
	cfg.RequestIDPrefix = env.RequestIDPrefix
	cfg.Logger = logger

	if path := pick(globalFlags.ConfigFile, env.ConfigFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}

		if cfg, err = ws.LoadConfig(data, cfg); err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	return cfg, nil
}

func newClient() (*ws.Client, error) {
	cfg, err := clientConfig()
	if err != nil {
		return nil, err
	}

	return ws.NewClient(cfg)
}
