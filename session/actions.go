package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/toncenter/nano-wallet-gateway/models"
	"github.com/toncenter/nano-wallet-gateway/rpc"
)

func (h *Handler) forward(ctx context.Context, c *call) (any, error) {
	return h.Node.Call(ctx, c.params)
}

func (h *Handler) fcmUpdate(ctx context.Context, c *call) (any, error) {
	if c.req.FcmTokenV2 != "" && c.req.Account != "" && c.req.Enabled != nil && h.Tokens != nil {
		h.updateToken(ctx, c.log, h.normalize(c.req.Account), c.req.FcmTokenV2, *c.req.Enabled)
	}
	return models.StatusResponse{Status: "ok"}, nil
}

type priceReply struct {
	Currency string  `json:"currency"`
	Price    float64 `json:"price"`
}

func (h *Handler) priceData(ctx context.Context, c *call) (any, error) {
	if !knownCurrency(c.req.Currency) {
		return nil, ErrUnknownCurrency
	}
	currency := strings.ToLower(c.req.Currency)
	price, err := h.Prices.Price(ctx, currency)
	if err != nil {
		return nil, err
	}
	return priceReply{Currency: currency, Price: price}, nil
}

type checkReply struct {
	Ready bool `json:"ready"`
}

func (h *Handler) accountCheck(ctx context.Context, c *call) (any, error) {
	var resp struct {
		Error string `json:"error"`
	}
	body, err := h.Node.Call(ctx, map[string]any{"action": "account_info", "account": c.req.Account})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return checkReply{Ready: resp.Error != rpc.AccountNotFound}, nil
}

func (h *Handler) accountHistory(ctx context.Context, c *call) (any, error) {
	if c.client != nil && c.req.Account != "" {
		id := c.client.ID()
		has, err := h.Sessions.HasAccount(ctx, id)
		if err != nil {
			c.log.WithError(err).Warn("failed to read session record")
		} else if !has {
			if err := h.Sessions.SaveAccounts(ctx, id, []string{c.req.Account}); err != nil {
				c.log.WithError(err).Warn("failed to store history account")
			}
		}
	}
	return h.Node.Call(ctx, c.params)
}

func (h *Handler) pending(ctx context.Context, c *call) (any, error) {
	return h.Node.PendingList(ctx, c.params)
}

func (h *Handler) workGenerate(ctx context.Context, c *call) (any, error) {
	if _, ok := c.params["hash"].(string); !ok {
		return nil, errors.New("hash is required")
	}
	return h.Work.Generate(ctx, c.params)
}

func (h *Handler) process(ctx context.Context, c *call) (any, error) {
	req := models.ProcessRequest{}
	switch block := c.params["block"].(type) {
	case string:
		req.Block = block
	case map[string]any:
		encoded, err := json.Marshal(block)
		if err != nil {
			return nil, err
		}
		req.Block = string(encoded)
	default:
		return nil, errors.New("block is required")
	}
	req.Subtype, _ = c.params["subtype"].(string)
	req.DoWork, _ = c.params["do_work"].(bool)
	return h.Guard.Process(ctx, req)
}
