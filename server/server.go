// Package server exposes the gateway over HTTP: the wallet websocket, the action
// endpoint, the node callback and the health check.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/swagger"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	_ "github.com/toncenter/nano-wallet-gateway/docs"
	"github.com/toncenter/nano-wallet-gateway/hub"
	"github.com/toncenter/nano-wallet-gateway/models"
	"github.com/toncenter/nano-wallet-gateway/rpc"
	"github.com/toncenter/nano-wallet-gateway/session"
)

const (
	callbackTimeout = 60 * time.Second
	messageTimeout  = 2 * time.Minute
)

// CallbackSink receives node confirmations.
type CallbackSink interface {
	HandleCallback(ctx context.Context, cb models.Callback, raw []byte)
}

type Config struct {
	Prefork     bool
	AccessLog   bool
	Handler     *session.Handler
	Manager     *hub.ClientManager
	Callbacks   CallbackSink
	Redis       redis.UniversalClient
	Node        *rpc.Client
	Logger      *logrus.Logger
	AppName     string
	ReadTimeout time.Duration
}

type Server struct {
	app       *fiber.App
	handler   *session.Handler
	manager   *hub.ClientManager
	callbacks CallbackSink
	rdb       redis.UniversalClient
	node      *rpc.Client
	logger    *logrus.Logger
}

func New(cfg Config) *Server {
	if cfg.AppName == "" {
		cfg.AppName = "Nano Wallet Gateway"
	}
	s := &Server{
		handler:   cfg.Handler,
		manager:   cfg.Manager,
		callbacks: cfg.Callbacks,
		rdb:       cfg.Redis,
		node:      cfg.Node,
		logger:    cfg.Logger,
	}
	s.app = fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		Prefork:               cfg.Prefork,
		ReadTimeout:           cfg.ReadTimeout,
		ProxyHeader:           fiber.HeaderXForwardedFor,
		DisableStartupMessage: true,
	})
	if cfg.AccessLog {
		s.app.Use(logger.New())
	}

	s.app.Get("/healthz", s.healthz)
	s.app.Post("/api", s.api)
	s.app.Post("/callback", s.callback)
	s.app.Get("/swagger/*", swagger.New(swagger.Config{
		Title:       cfg.AppName + " - Swagger UI",
		DeepLinking: true,
	}))

	ws := websocket.New(s.websocketHandler, websocket.Config{ReadBufferSize: 4096})
	for _, path := range []string{"/", "/ws"} {
		s.app.Get(path, upgradeOnly, ws)
	}
	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	s.logger.WithField("addr", addr).Info("starting server")
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func upgradeOnly(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	c.Locals("source", c.IP())
	c.Locals("user-agent", c.Get(fiber.HeaderUserAgent))
	return c.Next()
}

func (s *Server) websocketHandler(conn *websocket.Conn) {
	source, _ := conn.Locals("source").(string)
	userAgent, _ := conn.Locals("user-agent").(string)

	client := hub.NewClient(uuid.NewString(), source, userAgent,
		func(b []byte) error { return conn.WriteMessage(websocket.TextMessage, b) },
		func() { _ = conn.Close() },
	)
	s.manager.Attach(client)
	log := s.logger.WithFields(logrus.Fields{"id": client.ID(), "source": source})
	log.Debug("client connected")
	defer func() {
		s.handler.Disconnect(context.Background(), client)
		log.WithField("id", client.ID()).Debug("client disconnected")
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		go func(msg []byte) {
			// outlives the socket so pending writes for the session still land
			ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
			defer cancel()
			reply := s.handler.HandleMessage(ctx, client, source, msg)
			if reply == nil {
				return
			}
			if err := client.Reply(reply); err != nil && !errors.Is(err, hub.ErrClientClosed) {
				log.WithError(err).Debug("failed to write reply")
			}
		}(msg)
	}
}

// @summary	Run a wallet action over HTTP
// @tags		wallet
// @accept		json
// @produce	json
// @router		/api [post]
func (s *Server) api(c *fiber.Ctx) error {
	reply := s.handler.HandleHTTP(c.UserContext(), c.IP(), bytes.Clone(c.Body()))
	if reply == nil {
		return c.SendStatus(fiber.StatusTooManyRequests)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(reply)
}

// @summary	Receive a block confirmation
// @tags		node
// @accept		json
// @router		/callback [post]
func (s *Server) callback(c *fiber.Ctx) error {
	raw := bytes.Clone(c.Body())
	var cb models.Callback
	if err := json.Unmarshal(raw, &cb); err != nil {
		s.logger.WithError(err).Warn("undecodable node callback")
		return c.SendStatus(fiber.StatusOK)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cancel()
		s.callbacks.HandleCallback(ctx, cb, raw)
	}()
	return c.SendStatus(fiber.StatusOK)
}
