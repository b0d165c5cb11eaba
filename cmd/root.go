package cmd

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/toncenter/nano-wallet-gateway/config"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	_ = godotenv.Load()
	v := config.NewViper()

	rootCmd := &cobra.Command{
		Use:           "nano-wallet-gateway",
		Short:         "Wallet gateway for Nano and Banano nodes",
		Long:          "nano-wallet-gateway serves wallet sessions over websocket, proxies whitelisted node RPC, forwards confirmations and sends push notifications.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runServe(v),
	}

	f := rootCmd.PersistentFlags()
	f.String("listen", ":5076", "Address to listen on")
	f.String("rpc-url", "http://[::1]:7076", "Node RPC URL")
	f.String("work-url", "", "Separate work server URL, node RPC when empty")
	f.String("node-ws-url", "", "Node websocket URL for confirmations, HTTP callback only when empty")
	f.String("redis", "redis://localhost:6379/2", "Redis URL for sessions, prices and link markers")
	f.String("redis-fcm", "redis://localhost:6379/1", "Redis URL for push tokens")
	f.String("pg", "", "PostgreSQL connection string for push tokens")
	f.Int("pg-max-conns", 10, "PostgreSQL pool size")
	f.String("fcm-api-key", "", "Firebase server key, push notifications are off when empty")
	f.String("fcm-url", "https://fcm.googleapis.com/fcm/send", "Firebase send endpoint")
	f.Bool("banano", false, "Serve the Banano network")
	f.Duration("rpc-timeout", 30*time.Second, "Node RPC timeout")
	f.Duration("price-interval", time.Minute, "Price broadcast interval")
	f.Duration("rate-interval", 25*time.Millisecond, "Minimum interval between messages from one source")
	f.String("log-level", "info", "Log level")
	f.String("log-format", "text", "Log format: text or json")
	f.String("otel-endpoint", "", "OTLP collector endpoint, tracing is off when empty")
	f.String("otel-protocol", "grpc", "OTLP protocol: grpc or http")
	f.Bool("prefork", false, "Use prefork")
	if err := v.BindPFlags(f); err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.AddCommand(
		newServeCmd(v),
		newVersionCmd(),
	)
	return rootCmd
}
