package rpc

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/nano-wallet-gateway/amount"
	"github.com/toncenter/nano-wallet-gateway/models"
)

const (
	pendingCountLimit = 51
	pendingListLimit  = 10
)

// AccountNotFound is the node error text for unopened accounts.
const AccountNotFound = "Account not found"

// AccountInfo calls account_info with pending and representative set.
// The decoded node answer is returned even when it carries an error field.
func (c *Client) AccountInfo(ctx context.Context, account string) (map[string]any, error) {
	var resp map[string]any
	err := c.callJSON(ctx, map[string]any{
		"action":         "account_info",
		"account":        account,
		"pending":        true,
		"representative": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Block fetches a single block. A node error is reported in the Error field.
func (c *Client) Block(ctx context.Context, hash string) (*models.BlockResponse, error) {
	var resp models.BlockResponse
	if err := c.callJSON(ctx, map[string]any{"action": "block", "hash": hash}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BlocksInfo fetches blocks together with the account balance at each of them.
func (c *Client) BlocksInfo(ctx context.Context, hashes []string) (*models.BlocksInfoResponse, error) {
	var resp models.BlocksInfoResponse
	err := c.callJSON(ctx, map[string]any{
		"action":  "blocks_info",
		"hashes":  hashes,
		"balance": "true",
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// PendingCount returns how many receivable blocks above the spam threshold the
// account has, capped at 51. Any failure counts as zero.
func (c *Client) PendingCount(ctx context.Context, account string) int {
	threshold := amount.Pow10(24)
	if c.banano {
		threshold = amount.Pow10(27)
	}
	var resp struct {
		Blocks json.RawMessage `json:"blocks"`
	}
	err := c.callJSON(ctx, map[string]any{
		"action":                 "pending",
		"account":                account,
		"threshold":              threshold.Dec(),
		"count":                  pendingCountLimit,
		"include_only_confirmed": true,
	}, &resp)
	if err != nil {
		c.logger.WithError(err).WithField("account", account).Warn("pending count failed")
		return 0
	}
	var blocks map[string]json.RawMessage
	if err := json.Unmarshal(resp.Blocks, &blocks); err == nil {
		return len(blocks)
	}
	var list []string
	if err := json.Unmarshal(resp.Blocks, &list); err == nil {
		return len(list)
	}
	return 0
}

type pendingEntry struct {
	hash   string
	amount *uint256.Int
	raw    json.RawMessage
}

// PendingList forwards a pending request and keeps only the ten most valuable
// entries. An empty result is reported as {"blocks":""} like the node does.
func (c *Client) PendingList(ctx context.Context, request map[string]any) ([]byte, error) {
	if _, ok := request["include_only_confirmed"]; !ok {
		request["include_only_confirmed"] = true
	}
	body, err := c.Call(ctx, request)
	if err != nil {
		return nil, err
	}

	var resp map[string]json.RawMessage
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, UpstreamError{Message: "failed to decode pending response"}
	}
	rawBlocks, ok := resp["blocks"]
	if !ok {
		return body, nil
	}

	var blocks map[string]json.RawMessage
	if err := json.Unmarshal(rawBlocks, &blocks); err != nil {
		// plain hash list or "", nothing to rank
		var list []string
		if err := json.Unmarshal(rawBlocks, &list); err == nil && len(list) > 0 {
			return body, nil
		}
		return []byte(`{"blocks":""}`), nil
	}
	if len(blocks) == 0 {
		return []byte(`{"blocks":""}`), nil
	}

	entries := make([]pendingEntry, 0, len(blocks))
	for hash, raw := range blocks {
		entries = append(entries, pendingEntry{hash: hash, amount: entryAmount(raw), raw: raw})
	}
	sort.Slice(entries, func(i, j int) bool {
		if cmp := entries[i].amount.Cmp(entries[j].amount); cmp != 0 {
			return cmp > 0
		}
		return entries[i].hash < entries[j].hash
	})
	if len(entries) > pendingListLimit {
		entries = entries[:pendingListLimit]
	}

	top := make(map[string]json.RawMessage, len(entries))
	for _, e := range entries {
		top[e.hash] = e.raw
	}
	out, err := json.Marshal(map[string]any{"blocks": top})
	if err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{"total": len(blocks), "sent": len(top)}).Debug("pending list trimmed")
	return out, nil
}

// entryAmount reads the amount of a pending entry, which is either the bare
// amount (threshold form) or an object with an amount field (source form).
func entryAmount(raw json.RawMessage) *uint256.Int {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var obj struct {
			Amount string `json:"amount"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return new(uint256.Int)
		}
		s = obj.Amount
	}
	v, err := amount.Parse(s)
	if err != nil {
		return new(uint256.Int)
	}
	return v
}
