// Package rpc talks to the ledger node and to the work server.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTimeout = 30 * time.Second

// UpstreamError is returned when the node or work server could not be reached
// or answered with a non-2xx status.
type UpstreamError struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e UpstreamError) Error() string {
	if e.Code == 0 {
		return e.Message
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Message)
}

type Settings struct {
	URL     string
	Timeout time.Duration
	Banano  bool
}

// Client posts JSON actions to the node RPC endpoint.
type Client struct {
	url     string
	timeout time.Duration
	banano  bool
	logger  *logrus.Logger
	tracer  trace.Tracer
}

func NewClient(settings Settings, logger *logrus.Logger) *Client {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:     settings.URL,
		timeout: timeout,
		banano:  settings.Banano,
		logger:  logger,
		tracer:  otel.Tracer("github.com/toncenter/nano-wallet-gateway/rpc"),
	}
}

func (c *Client) URL() string {
	return c.url
}

// Call forwards request to the node and returns the body verbatim.
// Node level errors ({"error": ...} with status 200) are not treated as failures.
func (c *Client) Call(ctx context.Context, request any) ([]byte, error) {
	return c.post(ctx, c.url, request)
}

func (c *Client) post(ctx context.Context, url string, request any) ([]byte, error) {
	reqBody, err := json.Marshal(request)
	if err != nil {
		return nil, UpstreamError{Message: fmt.Sprintf("failed to encode request: %s", err.Error())}
	}
	action := actionOf(reqBody)

	ctx, span := c.tracer.Start(ctx, "rpc "+action,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.action", action), attribute.String("rpc.url", url)))
	defer span.End()

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if left <= 0 {
			return nil, c.fail(span, UpstreamError{Message: context.DeadlineExceeded.Error()})
		}
		if left < timeout {
			timeout = left
		}
	}

	agent := fiber.Post(url)
	agent.Timeout(timeout)
	agent.Add("Content-Type", "application/json")
	agent.Body(reqBody)
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, c.fail(span, UpstreamError{Message: errs[0].Error()})
	}
	span.SetAttributes(attribute.Int("http.status_code", code))
	if code < 200 || code > 299 {
		c.logger.WithFields(logrus.Fields{"action": action, "status": code}).Error("unexpected status from upstream")
		return nil, c.fail(span, UpstreamError{Code: code, Message: string(body)})
	}
	return body, nil
}

func (c *Client) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func actionOf(body []byte) string {
	var head struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &head); err != nil || head.Action == "" {
		return "unknown"
	}
	return head.Action
}

// callJSON performs Call and decodes the body into dst.
func (c *Client) callJSON(ctx context.Context, request any, dst any) error {
	body, err := c.Call(ctx, request)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return UpstreamError{Message: fmt.Sprintf("failed to decode response: %s", err.Error())}
	}
	return nil
}
