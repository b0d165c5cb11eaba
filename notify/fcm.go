package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

const DefaultFCMURL = "https://fcm.googleapis.com/fcm/send"

// ErrTokenUnregistered is returned when the provider no longer knows the device token.
var ErrTokenUnregistered = errors.New("device token unregistered")

// Message is one push notification addressed to a device token.
type Message struct {
	Token   string
	Title   string
	Body    string
	Account string
}

// Pusher delivers push notifications.
type Pusher interface {
	Push(ctx context.Context, msg Message) error
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
	Sound string `json:"sound,omitempty"`
}

type fcmRequest struct {
	To           string            `json:"to"`
	Priority     string            `json:"priority"`
	Data         map[string]string `json:"data,omitempty"`
	Notification fcmNotification   `json:"notification"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// FCMClient sends notifications through the Firebase HTTP API with a server key.
type FCMClient struct {
	client  *fasthttp.Client
	url     string
	key     string
	timeout time.Duration
}

func NewFCMClient(url, key string, timeout time.Duration) *FCMClient {
	if url == "" {
		url = DefaultFCMURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FCMClient{
		client:  &fasthttp.Client{Name: "nano-wallet-gateway", MaxConnsPerHost: 64},
		url:     url,
		key:     key,
		timeout: timeout,
	}
}

func (c *FCMClient) Push(ctx context.Context, msg Message) error {
	body, err := json.Marshal(fcmRequest{
		To:       msg.Token,
		Priority: "high",
		Data: map[string]string{
			"click_action": "FLUTTER_NOTIFICATION_CLICK",
			"account":      msg.Account,
		},
		Notification: fcmNotification{
			Title: msg.Title,
			Body:  msg.Body,
			Tag:   msg.Account,
			Sound: "default",
		},
	})
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "key="+c.key)
	req.SetBody(body)

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if err := c.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("fcm request: %w", err)
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return fmt.Errorf("fcm status %d: %s", code, resp.Body())
	}

	var parsed fcmResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return fmt.Errorf("fcm response: %w", err)
	}
	if parsed.Failure > 0 && len(parsed.Results) > 0 {
		switch reason := parsed.Results[0].Error; reason {
		case "NotRegistered", "InvalidRegistration":
			return ErrTokenUnregistered
		default:
			return fmt.Errorf("fcm error: %s", reason)
		}
	}
	return nil
}
