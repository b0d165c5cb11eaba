package session

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/toncenter/nano-wallet-gateway/address"
	"github.com/toncenter/nano-wallet-gateway/hub"
	"github.com/toncenter/nano-wallet-gateway/rpc"
	"github.com/toncenter/nano-wallet-gateway/store"
)

const defaultCurrency = "usd"

// Currencies are the fiat (and btc) currencies a session may display.
var Currencies = []string{
	"BTC", "ARS", "AUD", "BRL", "CAD", "CHF", "CLP", "CNY", "CZK", "DKK", "EUR", "GBP",
	"HKD", "HUF", "IDR", "ILS", "INR", "JPY", "KRW", "MXN", "MYR", "NOK", "NZD", "PHP",
	"PKR", "PLN", "RUB", "SEK", "SGD", "THB", "TRY", "TWD", "USD", "VES", "ZAR",
}

func knownCurrency(currency string) bool {
	return currency != "" && slices.Contains(Currencies, strings.ToUpper(currency))
}

func (h *Handler) subscribe(ctx context.Context, c *call) (any, error) {
	if c.req.Uuid == "" {
		return h.freshSubscribe(ctx, c, c.client.ID())
	}

	rec, err := h.Sessions.Load(ctx, c.req.Uuid)
	if errors.Is(err, store.ErrSessionNotFound) {
		c.log.WithField("uuid", c.req.Uuid).Info("no stored session, subscribing")
		return h.freshSubscribe(ctx, c, c.req.Uuid)
	}
	if err != nil {
		return nil, fail(ErrReconnect, err)
	}

	claimed := strings.ToLower(c.req.Account)
	accounts := rec.Accounts
	switch {
	case rec.Legacy && claimed != "" && claimed != strings.ToLower(rec.Accounts[0]):
		c.log.WithField("uuid", c.req.Uuid).Info("stored account differs, subscribing")
		return h.freshSubscribe(ctx, c, c.req.Uuid)
	case rec.Legacy:
		accounts = []string{strings.ToLower(rec.Accounts[0])}
		if err := h.Sessions.SaveAccounts(ctx, rec.ID, accounts); err != nil {
			return nil, fail(ErrReconnect, err)
		}
	case claimed != "" && !slices.Contains(accounts, claimed):
		accounts = append(accounts, claimed)
		if err := h.Sessions.SaveAccounts(ctx, rec.ID, accounts); err != nil {
			return nil, fail(ErrReconnect, err)
		}
	}
	return h.reconnect(ctx, c, rec, accounts)
}

func (h *Handler) reconnect(ctx context.Context, c *call, rec *store.SessionRecord, accounts []string) (any, error) {
	id := rec.ID
	h.Manager.Rename(c.client, id)
	log := c.log.WithFields(logrus.Fields{"id": id})
	log.Info("reconnection request")

	currency := strings.ToLower(c.req.Currency)
	switch {
	case knownCurrency(currency):
		if err := h.Sessions.SetCurrency(ctx, id, currency); err != nil {
			return nil, fail(ErrReconnect, err)
		}
	case rec.Currency != "":
		currency = strings.ToLower(rec.Currency)
	default:
		currency = defaultCurrency
		if err := h.Sessions.SetCurrency(ctx, id, currency); err != nil {
			return nil, fail(ErrReconnect, err)
		}
	}
	c.client.SetCurrency(currency)

	account := strings.ToLower(c.req.Account)
	if account == "" {
		account = accounts[0]
	}
	if normalized := h.normalize(account); normalized != account {
		accounts = slices.DeleteFunc(slices.Clone(accounts), func(a string) bool { return a == account })
		accounts = append(accounts, normalized)
		account = normalized
		if err := h.Sessions.SaveAccounts(ctx, id, accounts); err != nil {
			return nil, fail(ErrReconnect, err)
		}
	}

	info, err := h.accountInfo(ctx, account)
	if err != nil {
		return nil, fail(ErrReconnect, err)
	}
	h.Manager.Subscribe(c.client, account)
	if err := h.Sessions.TouchConnect(ctx, id); err != nil {
		log.WithError(err).Warn("failed to store last-connect")
	}
	if err := h.Sessions.Track(ctx, id, "connect", c.source); err != nil {
		log.WithError(err).Warn("failed to track connection")
	}
	h.registerTokens(ctx, c, account)

	h.decorate(ctx, info, currency, account)
	log.WithField("account", account).Info("reconnected")
	return info, nil
}

func (h *Handler) freshSubscribe(ctx context.Context, c *call, id string) (any, error) {
	account := h.normalize(c.req.Account)
	if !address.Valid(account, h.Banano) {
		return nil, ErrInvalidAccount
	}
	currency := strings.ToLower(c.req.Currency)
	if !knownCurrency(currency) {
		currency = defaultCurrency
	}

	info, err := h.accountInfo(ctx, account)
	if err != nil {
		return nil, fail(ErrSubscribe, err)
	}
	if c.client.ID() != id {
		h.Manager.Rename(c.client, id)
	}
	log := c.log.WithFields(logrus.Fields{"id": id, "account": account})

	h.Manager.Subscribe(c.client, account)
	c.client.SetCurrency(currency)
	if err := h.Sessions.SaveAccounts(ctx, id, []string{account}); err != nil {
		return nil, fail(ErrSubscribe, err)
	}
	if err := h.Sessions.SetCurrency(ctx, id, currency); err != nil {
		return nil, fail(ErrSubscribe, err)
	}
	if err := h.Sessions.TouchConnect(ctx, id); err != nil {
		log.WithError(err).Warn("failed to store last-connect")
	}
	if err := h.Sessions.Track(ctx, id, "connect", c.source); err != nil {
		log.WithError(err).Warn("failed to track connection")
	}
	h.registerTokens(ctx, c, account)

	info["uuid"] = id
	h.decorate(ctx, info, currency, account)
	log.Info("subscribed")
	return info, nil
}

// accountInfo succeeds for opened accounts and for accounts the node has never seen.
func (h *Handler) accountInfo(ctx context.Context, account string) (map[string]any, error) {
	info, err := h.Node.AccountInfo(ctx, account)
	if err != nil {
		return nil, err
	}
	if _, ok := info["frontier"]; ok {
		return info, nil
	}
	if msg, _ := info["error"].(string); msg == rpc.AccountNotFound {
		return info, nil
	}
	return nil, errors.New("account_info returned no frontier")
}

// decorate adds price data and the receivable count to a subscribe reply.
func (h *Handler) decorate(ctx context.Context, info map[string]any, currency, account string) {
	info["currency"] = currency
	log := h.Logger.WithField("currency", currency)
	if price, err := h.Prices.Price(ctx, currency); err == nil {
		info["price"] = price
	} else {
		log.WithError(err).Warn("price missing")
	}
	if btc, err := h.Prices.Btc(ctx); err == nil {
		info["btc"] = btc
	} else {
		log.WithError(err).Warn("btc price missing")
	}
	if h.Banano {
		if nano, err := h.Prices.Nano(ctx); err == nil {
			info["nano"] = nano
		}
	}
	info["pending_count"] = h.Node.PendingCount(ctx, account)
}

// normalize rewrites nano_ addresses to the xrb_ form the records use.
func (h *Handler) normalize(account string) string {
	if h.Banano {
		return account
	}
	return address.Normalize(account)
}

// registerTokens stores the push tokens sent along with a subscribe.
func (h *Handler) registerTokens(ctx context.Context, c *call, account string) {
	log := c.log.WithField("account", account)
	switch {
	case c.req.FcmToken != "" && h.LegacyTokens != nil:
		if err := h.LegacyTokens.Register(ctx, account, c.req.FcmToken); err != nil {
			log.WithError(err).Warn("failed to store fcm token")
		}
	case c.req.FcmTokenV2 != "" && c.req.NotificationEnabled != nil && h.Tokens != nil:
		h.updateToken(ctx, log, account, c.req.FcmTokenV2, *c.req.NotificationEnabled)
	}
}

func (h *Handler) updateToken(ctx context.Context, log *logrus.Entry, account, token string, enabled bool) {
	var err error
	if enabled {
		err = h.Tokens.Register(ctx, account, token)
	} else {
		err = h.Tokens.Remove(ctx, account, token)
	}
	if err != nil {
		log.WithError(err).WithField("enabled", enabled).Warn("failed to update fcm token")
	}
}

// Disconnect records the end of a session and drops it from the hub.
func (h *Handler) Disconnect(ctx context.Context, client *hub.Client) {
	id := client.ID()
	h.Manager.Detach(client)
	if len(client.Accounts()) == 0 {
		return
	}
	if err := h.Sessions.TouchDisconnect(ctx, id); err != nil {
		h.Logger.WithError(err).WithField("id", id).Warn("failed to store last-disconnect")
	}
	if err := h.Sessions.Track(ctx, id, "disconnect", client.Source()); err != nil {
		h.Logger.WithError(err).WithField("id", id).Warn("failed to track disconnection")
	}
}
