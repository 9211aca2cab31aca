package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type GlobalFlags struct {
	URL               string
	Transport         string
	ConfigFile        string
	Timeout           time.Duration
	ConnectionTimeout time.Duration
	LogLevel          string
}

var (
	globalFlags GlobalFlags
	env         EnvConfig
	logger      *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "wsp",
	Short: "WebSocket client with request/response correlation",
	Long: `wsp - WebSocket клиент с запросами по request id

Переменные окружения:
  WSP_URL                 адрес сервера (ws:// или wss://)
  WSP_TRANSPORT           gorilla | nhooyr
  WSP_TIMEOUT             таймаут запросов, например 5s
  WSP_CONNECTION_TIMEOUT  таймаут подключения
  WSP_REQUEST_ID_PREFIX   префикс генерируемых request id
  WSP_CONFIG              JSON файл с настройками клиента
  WSP_TLS_CERT/KEY/CA     TLS материалы для wss:// в base64

Флаги имеют приоритет над переменными окружения.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(globalFlags.LogLevel)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", globalFlags.LogLevel, err)
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		var err error
		env, err = loadEnv()

		return err
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.URL, "url", "", "server url (default $WSP_URL)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Transport, "transport", "", "transport: gorilla|nhooyr (default $WSP_TRANSPORT)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.ConfigFile, "config", "", "JSON client settings file (default $WSP_CONFIG)")
	rootCmd.PersistentFlags().DurationVar(&globalFlags.Timeout, "timeout", 0, "request and close timeout (default $WSP_TIMEOUT)")
	rootCmd.PersistentFlags().DurationVar(&globalFlags.ConnectionTimeout, "connection-timeout", 0, "open timeout (default $WSP_CONNECTION_TIMEOUT)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level", "warn", "log level: debug|info|warn|error")

	rootCmd.AddCommand(requestCmd, sendCmd, listenCmd, echoServerCmd)
}

func main() {
	Execute()
}
