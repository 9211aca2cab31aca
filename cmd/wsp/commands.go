package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/LLIEPJIOK/service-mesh/wsp/pkg/ws"
	"github.com/LLIEPJIOK/service-mesh/wsp/pkg/ws/echo"
	"github.com/LLIEPJIOK/service-mesh/wsp/pkg/ws/metrics"
)

var requestFlags struct {
	ID      string
	Prefix  string
	Timeout time.Duration
}

var requestCmd = &cobra.Command{
	Use:   "request <json>",
	Short: "Send a JSON request and print the correlated response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data map[string]any
		if err := json.Unmarshal([]byte(args[0]), &data); err != nil {
			return fmt.Errorf("request must be a JSON object: %w", err)
		}

		return withClient(cmd.Context(), func(ctx context.Context, client *ws.Client) error {
			opts := ws.RequestOptions{
				RequestIDPrefix: requestFlags.Prefix,
				Timeout:         requestFlags.Timeout,
			}
			if requestFlags.ID != "" {
				opts.RequestID = requestFlags.ID
			}

			resp, err := client.Request(ctx, data, opts)
			if err != nil {
				return err
			}

			return printJSON(resp)
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <message>...",
	Short: "Send raw messages without waiting for responses",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, client *ws.Client) error {
			for _, msg := range args {
				if err := client.Send([]byte(msg)); err != nil {
					return err
				}
			}

			return nil
		})
	},
}

var listenFlags struct {
	MetricsAddr string
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print incoming messages until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := newClient()
		if err != nil {
			return err
		}

		if listenFlags.MetricsAddr != "" {
			reg := prometheus.NewRegistry()

			collector, err := metrics.New(reg, "wsp")
			if err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}
			defer collector.Attach(client)()

			srv := &http.Server{
				Addr:              listenFlags.MetricsAddr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}

			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", "error", err)
				}
			}()
			defer srv.Close()
		}

		closed := make(chan ws.CloseEvent, 1)
		client.OnClose().AddOnceListener(func(ev ws.CloseEvent) { closed <- ev })
		client.OnMessage().AddListener(func(ev ws.MessageEvent) {
			fmt.Fprintln(os.Stdout, string(ev.Data))
		})

		if err := openClient(ctx, client); err != nil {
			return err
		}

		select {
		case ev := <-closed:
			return &ws.CloseError{Code: ev.Code, Reason: ev.Reason}
		case <-ctx.Done():
		}

		_, err = client.Close(ws.CloseGoingAway, "interrupted").Wait(context.Background())

		return err
	},
}

var echoServerFlags struct {
	Addr string
	Path string
}

var echoServerCmd = &cobra.Command{
	Use:   "echo-server",
	Short: "Run a WebSocket echo endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := echo.DefaultConfig()
		cfg.Logger = logger

		mux := http.NewServeMux()
		mux.Handle(echoServerFlags.Path, echo.NewServer(cfg))

		srv := &http.Server{
			Addr:              echoServerFlags.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		logger.Info("echo server started", "addr", echoServerFlags.Addr, "path", echoServerFlags.Path)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	requestCmd.Flags().StringVar(&requestFlags.ID, "id", "", "request id (generated when empty)")
	requestCmd.Flags().StringVar(&requestFlags.Prefix, "id-prefix", "", "prefix of the generated request id")
	requestCmd.Flags().DurationVar(&requestFlags.Timeout, "request-timeout", 0, "override the request timeout")

	listenCmd.Flags().StringVar(&listenFlags.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	echoServerCmd.Flags().StringVar(&echoServerFlags.Addr, "addr", ":8080", "listen address")
	echoServerCmd.Flags().StringVar(&echoServerFlags.Path, "path", "/", "WebSocket endpoint path")
}

// withClient opens a client, runs fn and closes the client.
func withClient(ctx context.Context, fn func(ctx context.Context, client *ws.Client) error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newClient()
	if err != nil {
		return err
	}

	if err := openClient(ctx, client); err != nil {
		return err
	}

	fnErr := fn(ctx, client)

	if _, err := client.Close(ws.CloseNormalClosure, "").Wait(context.Background()); err != nil {
		logger.Warn("close failed", "error", err)
	}

	return fnErr
}

// openClient waits for client to open. On failure the half-open connection
// is closed before returning.
func openClient(ctx context.Context, client *ws.Client) error {
	_, err := client.Open().Wait(ctx)
	if err == nil {
		return nil
	}

	if _, cerr := client.Close(ws.CloseGoingAway, "open aborted").Wait(context.Background()); cerr != nil {
		logger.Debug("close after failed open", "error", cerr)
	}

	return fmt.Errorf("open: %w", err)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
