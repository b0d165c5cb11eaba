package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/toncenter/nano-wallet-gateway/cache"
	"github.com/toncenter/nano-wallet-gateway/config"
	"github.com/toncenter/nano-wallet-gateway/guard"
	"github.com/toncenter/nano-wallet-gateway/hub"
	"github.com/toncenter/nano-wallet-gateway/limiter"
	"github.com/toncenter/nano-wallet-gateway/nodews"
	"github.com/toncenter/nano-wallet-gateway/notify"
	"github.com/toncenter/nano-wallet-gateway/price"
	"github.com/toncenter/nano-wallet-gateway/rpc"
	"github.com/toncenter/nano-wallet-gateway/server"
	"github.com/toncenter/nano-wallet-gateway/session"
	"github.com/toncenter/nano-wallet-gateway/store"
)

const (
	shutdownTimeout = 10 * time.Second
	pushTimeout     = 10 * time.Second
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway (default)",
		RunE:  runServe(v),
	}
}

func runServe(v *viper.Viper) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, newLogger(cfg))
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func openRedis(url string) (*redis.Client, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis url: %w", err)
	}
	return redis.NewClient(options), nil
}

func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	shutdownTracing, err := initTracing(ctx, cfg)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	rdb, err := openRedis(cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()
	fcmRdb := rdb
	if cfg.RedisFCM != "" && cfg.RedisFCM != cfg.Redis {
		if fcmRdb, err = openRedis(cfg.RedisFCM); err != nil {
			return err
		}
		defer fcmRdb.Close()
	}

	legacyTokens := store.NewRedisTokenStore(rdb)
	tokens := store.NewRedisTokenStore(fcmRdb)
	repos := []store.TokenRepo{legacyTokens, tokens}
	if cfg.Pg != "" {
		pg, err := store.NewPgTokenRepo(ctx, cfg.Pg, cfg.PgMaxConns)
		if err != nil {
			logger.WithError(err).Warn("failed to connect to PostgreSQL, push tokens from Redis only")
		} else {
			defer pg.Close()
			repos = append(repos, pg)
		}
	}

	var pusher notify.Pusher
	if cfg.PushEnabled() {
		pusher = notify.NewFCMClient(cfg.FCMURL, cfg.FCMAPIKey, pushTimeout)
	} else {
		logger.Info("fcm api key not set, push notifications disabled")
	}

	manager := hub.NewClientManager(logger)
	node := rpc.NewClient(rpc.Settings{URL: cfg.RPCURL, Timeout: cfg.RPCTimeout, Banano: cfg.Banano}, logger)
	work := rpc.NewWorkDispatcher(node, cfg.WorkURL, logger)
	links := cache.NewLinkCache(rdb)
	prices := store.NewPriceStore(rdb, cfg.Banano)

	fanout := notify.NewFanout(notify.Config{Banano: cfg.Banano, Tokens: repos, Pusher: pusher}, manager, node, links, logger)
	handler := session.NewHandler(session.Deps{
		Manager:      manager,
		Node:         node,
		Work:         work,
		Guard:        guard.New(node, work, links, cfg.Banano, logger),
		Sessions:     store.NewSessionStore(rdb),
		Prices:       prices,
		LegacyTokens: legacyTokens,
		Tokens:       tokens,
		Limiter:      limiter.New(limiter.Config{Interval: cfg.RateInterval}),
		Banano:       cfg.Banano,
		Logger:       logger,
	})
	srv := server.New(server.Config{
		Prefork:     cfg.Prefork,
		AccessLog:   logger.IsLevelEnabled(logrus.DebugLevel),
		Handler:     handler,
		Manager:     manager,
		Callbacks:   fanout,
		Redis:       rdb,
		Node:        node,
		Logger:      logger,
		ReadTimeout: 5 * time.Second,
	})

	logger.WithFields(logrus.Fields{
		"coin":    cfg.Coin(),
		"rpc":     cfg.RPCURL,
		"listen":  cfg.Listen,
		"node_ws": cfg.NodeWSURL,
		"push":    pusher != nil,
		"version": Version,
	}).Info("starting gateway")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		manager.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return price.NewBroadcaster(manager, prices, cfg.PriceInterval, cfg.Banano, logger).Run(gctx)
	})
	if cfg.NodeWSURL != "" {
		g.Go(func() error {
			return nodews.NewListener(cfg.NodeWSURL, fanout, logger).Run(gctx)
		})
	}
	g.Go(func() error {
		return srv.Listen(cfg.Listen)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("gateway stopped")
	return nil
}
