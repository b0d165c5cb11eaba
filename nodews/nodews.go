// Package nodews follows the node's websocket confirmation topic and feeds every
// confirmed block to the notification fanout.
package nodews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/nano-wallet-gateway/models"
)

const (
	ReconnectDelay    = 2 * time.Second
	reconnectMaxDelay = time.Minute
	handshakeTimeout  = 10 * time.Second
	// EventTimeout bounds the fanout of one confirmation.
	EventTimeout = 60 * time.Second
)

// Sink receives decoded confirmations.
type Sink interface {
	HandleCallback(ctx context.Context, cb models.Callback, raw []byte)
}

type subscribeRequest struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
	Ack    bool   `json:"ack"`
	ID     string `json:"id"`
}

type confirmation struct {
	Topic   string `json:"topic"`
	Time    string `json:"time"`
	Message struct {
		Account string          `json:"account"`
		Amount  string          `json:"amount"`
		Hash    string          `json:"hash"`
		Block   json.RawMessage `json:"block"`
		IsSend  json.RawMessage `json:"is_send"`
		Subtype string          `json:"subtype"`
	} `json:"message"`
}

// Callback converts the confirmation into the node callback shape.
func (c *confirmation) Callback() (models.Callback, error) {
	m := c.Message
	if m.Hash == "" || len(m.Block) == 0 {
		return models.Callback{}, errors.New("confirmation without block")
	}
	block := string(m.Block)
	if m.Block[0] == '"' {
		if err := json.Unmarshal(m.Block, &block); err != nil {
			return models.Callback{}, err
		}
	}
	return models.Callback{
		Account: m.Account,
		Hash:    m.Hash,
		Block:   block,
		Amount:  m.Amount,
		IsSend:  strings.Trim(string(m.IsSend), `"`),
		Subtype: m.Subtype,
	}, nil
}

type Listener struct {
	url     string
	sink    Sink
	dialer  *websocket.Dialer
	delay   time.Duration
	timeout time.Duration
	logger  *logrus.Logger
}

func NewListener(url string, sink Sink, logger *logrus.Logger) *Listener {
	return &Listener{
		url:     url,
		sink:    sink,
		dialer:  &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		delay:   ReconnectDelay,
		timeout: EventTimeout,
		logger:  logger,
	}
}

// Run keeps a subscription open until ctx is done, reconnecting with backoff.
func (l *Listener) Run(ctx context.Context) error {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = l.delay
	retry.MaxInterval = reconnectMaxDelay
	retry.Reset()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if connected {
			retry.Reset()
		}
		if err == nil {
			err = errors.New("node websocket closed")
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(retry),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			l.logger.WithError(err).WithField("next_retry", next.String()).Warn("node websocket disconnected")
		}),
	)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// session runs one connection. connected reports whether the subscription was established.
func (l *Listener) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", l.url, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sub := subscribeRequest{Action: "subscribe", Topic: "confirmation", Ack: false, ID: uuid.NewString()}
	if err := conn.WriteJSON(sub); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	l.logger.WithField("url", l.url).Info("subscribed to node confirmations")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		l.handle(ctx, data)
	}
}

func (l *Listener) handle(ctx context.Context, data []byte) {
	var msg confirmation
	if err := json.Unmarshal(data, &msg); err != nil {
		l.logger.WithError(err).Warn("undecodable node websocket message")
		return
	}
	if msg.Topic != "confirmation" {
		return
	}
	cb, err := msg.Callback()
	if err != nil {
		l.logger.WithError(err).Debug("skipping confirmation")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()
		l.sink.HandleCallback(ctx, cb, nil)
	}()
}
