package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/toncenter/nano-wallet-gateway/limiter"
)

var ErrWorkAlreadyRequested = errors.New("already requested")

// WorkError wraps a failed work_generate.
type WorkError struct {
	Hash string
	Err  error
}

func (e *WorkError) Error() string {
	return "work defer error"
}

func (e *WorkError) Unwrap() error {
	return e.Err
}

// WorkDispatcher forwards work_generate requests, at most one per hash at a time.
type WorkDispatcher struct {
	client   *Client
	url      string
	external bool
	active   *limiter.InFlight
	logger   *logrus.Logger
}

// NewWorkDispatcher uses workURL when set, the node RPC URL otherwise.
func NewWorkDispatcher(client *Client, workURL string, logger *logrus.Logger) *WorkDispatcher {
	d := &WorkDispatcher{
		client:   client,
		url:      workURL,
		external: workURL != "",
		active:   limiter.NewInFlight(),
		logger:   logger,
	}
	if !d.external {
		d.url = client.URL()
	}
	return d
}

// Generate is the client facing work_generate. Concurrent requests for the same
// hash are rejected with ErrWorkAlreadyRequested.
func (d *WorkDispatcher) Generate(ctx context.Context, request map[string]any) ([]byte, error) {
	hash, _ := request["hash"].(string)
	if !d.active.Acquire(hash) {
		d.logger.WithField("hash", hash).Warn("work already requested")
		return nil, ErrWorkAlreadyRequested
	}
	defer d.active.Release(hash)

	request["use_peers"] = true
	body, err := d.Request(ctx, request)
	if err != nil {
		return nil, &WorkError{Hash: hash, Err: err}
	}
	return body, nil
}

// Request sends work_generate without dedup. use_peers is added when work is
// generated by the node itself.
func (d *WorkDispatcher) Request(ctx context.Context, request map[string]any) ([]byte, error) {
	if _, ok := request["use_peers"]; !ok && !d.external {
		request["use_peers"] = true
	}
	return d.client.post(ctx, d.url, request)
}

// Work requests work for hash and returns the work value.
func (d *WorkDispatcher) Work(ctx context.Context, request map[string]any) (string, error) {
	hash, _ := request["hash"].(string)
	body, err := d.Request(ctx, request)
	if err != nil {
		return "", &WorkError{Hash: hash, Err: err}
	}
	var resp struct {
		Work  string `json:"work"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &WorkError{Hash: hash, Err: err}
	}
	if resp.Work == "" {
		return "", &WorkError{Hash: hash, Err: fmt.Errorf("no work in response: %s", resp.Error)}
	}
	return resp.Work, nil
}

// InFlight reports whether work for hash is currently being generated.
func (d *WorkDispatcher) InFlight(hash string) bool {
	return d.active.Contains(hash)
}
