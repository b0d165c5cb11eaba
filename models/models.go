package models

import (
	"encoding/json"
	"strings"
)

// Request is the envelope of every client message.
// Fields not named here are kept in the raw map and forwarded to the node untouched.
type Request struct {
	Action              string          `json:"action"`
	RequestId           json.RawMessage `json:"request_id,omitempty"`
	Account             string          `json:"account,omitempty"`
	Currency            string          `json:"currency,omitempty"`
	Uuid                string          `json:"uuid,omitempty"`
	FcmToken            string          `json:"fcm_token,omitempty"`
	FcmTokenV2          string          `json:"fcm_token_v2,omitempty"`
	NotificationEnabled *bool           `json:"notification_enabled,omitempty"`
	Enabled             *bool           `json:"enabled,omitempty"`
	Hash                string          `json:"hash,omitempty"`
}

type ErrorResponse struct {
	Error     string          `json:"error"`
	Detail    string          `json:"detail,omitempty"`
	RequestId json.RawMessage `json:"request_id,omitempty"`
}

type StatusResponse struct {
	Status    string          `json:"status"`
	RequestId json.RawMessage `json:"request_id,omitempty"`
}

// Block is a ledger block as submitted by clients or returned by the node.
type Block struct {
	Type           string `json:"type"`
	Account        string `json:"account,omitempty"`
	Previous       string `json:"previous,omitempty"`
	Representative string `json:"representative,omitempty"`
	Balance        string `json:"balance,omitempty"`
	Link           string `json:"link,omitempty"`
	LinkAsAccount  string `json:"link_as_account,omitempty"`
	Destination    string `json:"destination,omitempty"`
	Source         string `json:"source,omitempty"`
	Work           string `json:"work,omitempty"`
	Signature      string `json:"signature,omitempty"`
}

// IsState reports whether the block uses the universal schema.
func (b *Block) IsState() bool {
	return b.Type == "state"
}

// IsChange reports whether the link is empty or all zeros.
func (b *Block) IsChange() bool {
	return strings.Trim(b.Link, "0") == ""
}

// OpensAccount reports whether the block is the first block of its account.
func (b *Block) OpensAccount() bool {
	return b.Previous == "0" || b.Previous == strings.Repeat("0", 64)
}

// ProcessRequest is the client form of the process action. The block is a JSON string.
type ProcessRequest struct {
	Action  string `json:"action"`
	Block   string `json:"block"`
	Subtype string `json:"subtype,omitempty"`
	DoWork  bool   `json:"do_work,omitempty"`
}

// Callback is the node confirmation event. Block holds the JSON encoded block.
type Callback struct {
	Account string `json:"account"`
	Hash    string `json:"hash"`
	Block   string `json:"block"`
	Amount  string `json:"amount,omitempty"`
	IsSend  string `json:"is_send,omitempty"`
	Subtype string `json:"subtype,omitempty"`
}

// BlockResponse is the node answer to the block action.
type BlockResponse struct {
	Error    string          `json:"error,omitempty"`
	Contents json.RawMessage `json:"contents,omitempty"`
}

// BlocksInfoEntry is one item of the node answer to blocks_info.
type BlocksInfoEntry struct {
	BlockAccount string          `json:"block_account"`
	Amount       string          `json:"amount"`
	Balance      string          `json:"balance"`
	Contents     json.RawMessage `json:"contents"`
	Subtype      string          `json:"subtype,omitempty"`
}

type BlocksInfoResponse struct {
	Error  string                     `json:"error,omitempty"`
	Blocks map[string]BlocksInfoEntry `json:"blocks"`
}

// PricePush is the periodic price message.
type PricePush struct {
	Currency string   `json:"currency"`
	Price    float64  `json:"price"`
	Btc      float64  `json:"btc"`
	Nano     *float64 `json:"nano,omitempty"`
}

// DecodeContents decodes block contents that may be an object or a JSON encoded string.
func DecodeContents(raw json.RawMessage) (*Block, error) {
	var block Block
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		raw = json.RawMessage(s)
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, err
	}
	return &block, nil
}
