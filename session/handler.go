// Package session implements the wallet protocol spoken over the websocket:
// subscribe/reconnect bookkeeping and the whitelisted action table.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/toncenter/nano-wallet-gateway/guard"
	"github.com/toncenter/nano-wallet-gateway/hub"
	"github.com/toncenter/nano-wallet-gateway/limiter"
	"github.com/toncenter/nano-wallet-gateway/models"
	"github.com/toncenter/nano-wallet-gateway/rpc"
	"github.com/toncenter/nano-wallet-gateway/store"
)

const maxCount = 3500

// call is one decoded client message.
type call struct {
	client *hub.Client // nil for HTTP requests
	source string
	req    models.Request
	params map[string]any
	log    *logrus.Entry
}

type actionFunc func(ctx context.Context, c *call) (any, error)

type action struct {
	run   actionFunc
	fault string
}

// Deps are the collaborators of the handler. LegacyTokens and Tokens may be nil.
type Deps struct {
	Manager      *hub.ClientManager
	Node         *rpc.Client
	Work         *rpc.WorkDispatcher
	Guard        *guard.Guard
	Sessions     *store.SessionStore
	Prices       *store.PriceStore
	LegacyTokens store.TokenRepo
	Tokens       store.TokenRepo
	Limiter      *limiter.Limiter
	Banano       bool
	Logger       *logrus.Logger
}

type Handler struct {
	Deps
	active  *limiter.InFlight
	actions map[string]action
}

func NewHandler(deps Deps) *Handler {
	h := &Handler{Deps: deps, active: limiter.NewInFlight()}
	h.actions = map[string]action{
		"account_subscribe": {h.subscribe, ""},
		"fcm_update":        {h.fcmUpdate, ""},
		"price_data":        {h.priceData, "price data error"},
		"account_check":     {h.accountCheck, "account check error"},
		"account_history":   {h.accountHistory, "rpc error"},
		"pending":           {h.pending, "pending rpc error"},
		"work_generate":     {h.workGenerate, "work rpc error"},
		"process":           {h.process, "process rpc error"},
	}
	for _, name := range forwarded {
		h.actions[name] = action{h.forward, "rpc error"}
	}
	return h
}

// forwarded actions go to the node unchanged
var forwarded = []string{
	"account_balance", "account_block_count", "account_info", "account_representative",
	"account_weight", "accounts_balances", "accounts_frontiers", "accounts_pending",
	"available_supply", "block", "block_hash", "block_create", "blocks", "blocks_info",
	"block_account", "block_count", "block_count_type", "chain", "delegators",
	"delegators_count", "frontiers", "frontier_count", "history", "key_expand",
	"representatives", "republish", "peers", "version", "pending_exists",
}

// Allowed reports whether action is served.
func (h *Handler) Allowed(name string) bool {
	_, ok := h.actions[name]
	return ok
}

// HandleMessage runs one websocket message. A nil reply means the message was dropped.
func (h *Handler) HandleMessage(ctx context.Context, client *hub.Client, source string, raw []byte) []byte {
	if !h.Limiter.Admit(source) {
		h.Logger.WithFields(logrus.Fields{"source": source, "id": client.ID()}).Warn("client messaging too quickly")
		return nil
	}
	return h.handle(ctx, client, source, raw)
}

// HandleHTTP runs one request received on the HTTP api. Session actions are refused.
func (h *Handler) HandleHTTP(ctx context.Context, source string, raw []byte) []byte {
	return h.handle(ctx, nil, source, raw)
}

func (h *Handler) handle(ctx context.Context, client *hub.Client, source string, raw []byte) (reply []byte) {
	fields := logrus.Fields{"source": source}
	if client != nil {
		fields["id"] = client.ID()
	}
	log := h.Logger.WithFields(fields)

	key := string(raw)
	if !h.active.Acquire(key) {
		log.WithField("request", key).Warn("request already active")
		return h.errorReply(ErrAlreadyActive, "", requestID(raw))
	}
	defer h.active.Release(key)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("request handler panicked")
			reply = h.errorReply(fmt.Errorf("%v", r), "", requestID(raw))
		}
	}()

	var req models.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return h.errorReply(err, "", requestID(raw))
	}
	params, err := decodeParams(raw)
	if err != nil {
		return h.errorReply(err, "", req.RequestId)
	}

	act, ok := h.actions[req.Action]
	if !ok || (client == nil && req.Action == "account_subscribe") {
		log.WithField("action", req.Action).Warn("rpc not allowed")
		return h.errorReply(ErrActionNotAllowed, "", req.RequestId)
	}
	clampCount(params)

	log = log.WithField("action", req.Action)
	result, err := act.run(ctx, &call{client: client, source: source, req: req, params: params, log: log})
	if err != nil {
		log.WithError(err).Error("request failed")
		return h.errorReply(err, act.fault, req.RequestId)
	}
	return h.reply(result, req.RequestId)
}

// requestID digs the correlation id out of a body that did not decode as a request.
func requestID(raw []byte) json.RawMessage {
	var envelope struct {
		RequestId json.RawMessage `json:"request_id"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}
	return envelope.RequestId
}

func decodeParams(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return nil, err
	}
	return params, nil
}

// clampCount limits count so one request cannot make the node walk a huge chain.
// Out of range values, including the node's -1 for "all", become the maximum.
func clampCount(params map[string]any) {
	v, ok := params["count"]
	if !ok {
		return
	}
	var n int64
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return
		}
		n = int64(f)
	case string:
		parsed, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return
		}
		n = parsed
	default:
		return
	}
	if n < 0 || n > maxCount {
		params["count"] = maxCount
	}
}

func (h *Handler) reply(result any, requestID json.RawMessage) []byte {
	var body []byte
	switch r := result.(type) {
	case []byte:
		body = r
	default:
		var err error
		if body, err = json.Marshal(r); err != nil {
			return h.errorReply(err, "", requestID)
		}
	}
	return withRequestID(body, requestID)
}

func (h *Handler) errorReply(err error, fault string, requestID json.RawMessage) []byte {
	body, _ := json.Marshal(errorResponse(err, fault, requestID))
	return body
}

// withRequestID echoes the client's request_id into an object reply.
func withRequestID(body []byte, requestID json.RawMessage) []byte {
	if len(requestID) == 0 {
		return body
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return body
	}
	obj["request_id"] = requestID
	out, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return out
}
