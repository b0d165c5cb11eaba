// Package notify delivers confirmed blocks to the wallets watching their destination,
// over the open websocket sessions and as push notifications.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/nano-wallet-gateway/address"
	"github.com/toncenter/nano-wallet-gateway/amount"
	"github.com/toncenter/nano-wallet-gateway/hub"
	"github.com/toncenter/nano-wallet-gateway/models"
	"github.com/toncenter/nano-wallet-gateway/rpc"
	"github.com/toncenter/nano-wallet-gateway/store"
)

// LinkChecker tells whether a block hash was already handled by a client.
type LinkChecker interface {
	Known(ctx context.Context, link string) (bool, error)
}

type Config struct {
	Banano bool
	// Tokens are the push token sources, queried in order.
	Tokens []store.TokenRepo
	// Pusher is nil when push notifications are disabled.
	Pusher Pusher
}

type Fanout struct {
	manager *hub.ClientManager
	node    *rpc.Client
	links   LinkChecker
	tokens  []store.TokenRepo
	pusher  Pusher
	banano  bool
	unit    amount.Unit
	logger  *logrus.Logger
}

func NewFanout(cfg Config, manager *hub.ClientManager, node *rpc.Client, links LinkChecker, logger *logrus.Logger) *Fanout {
	return &Fanout{
		manager: manager,
		node:    node,
		links:   links,
		tokens:  cfg.Tokens,
		pusher:  cfg.Pusher,
		banano:  cfg.Banano,
		unit:    amount.For(cfg.Banano),
		logger:  logger,
	}
}

// HandleCallback pushes a confirmation to the sessions watching its destination
// and notifies the destination's devices of an incoming transfer.
// raw is the event as received; when nil the callback is re-encoded.
func (f *Fanout) HandleCallback(ctx context.Context, cb models.Callback, raw []byte) {
	log := f.logger.WithField("hash", cb.Hash)
	block, err := models.DecodeContents(json.RawMessage(cb.Block))
	if err != nil {
		log.WithError(err).Warn("callback with undecodable block")
		return
	}
	destination := f.destination(cb, block)
	if destination == "" {
		return
	}
	log = log.WithField("destination", destination)

	if raw == nil {
		if raw, err = json.Marshal(cb); err != nil {
			log.WithError(err).Error("failed to encode callback")
			return
		}
	}
	f.manager.PushToAccount(destination, raw)

	if f.pusher == nil {
		return
	}
	if err := f.notify(ctx, log, cb, block, destination); err != nil {
		log.WithError(err).Warn("push notification skipped")
	}
}

// destination resolves the account a block pays into. State blocks carry it in
// the link, legacy sends in destination, other legacy blocks concern the callback account.
func (f *Fanout) destination(cb models.Callback, block *models.Block) string {
	var dest string
	switch {
	case block.IsState():
		dest = block.LinkAsAccount
		if dest == "" && !block.IsChange() {
			prefix := "xrb_"
			if f.banano {
				prefix = "ban_"
			}
			dest, _ = address.EncodeHex(block.Link, prefix)
		}
	case block.Type == "send":
		dest = block.Destination
	default:
		dest = cb.Account
	}
	if !f.banano {
		dest = address.Normalize(dest)
	}
	return dest
}

func (f *Fanout) notify(ctx context.Context, log *logrus.Entry, cb models.Callback, block *models.Block, destination string) error {
	tokens := f.tokensFor(ctx, log, destination)
	if len(tokens) == 0 {
		return nil
	}
	if block.Previous == "" || block.OpensAccount() {
		return nil
	}

	prev, err := f.node.Block(ctx, block.Previous)
	if err != nil {
		return err
	}
	if prev.Error != "" || len(prev.Contents) == 0 {
		return fmt.Errorf("previous block unavailable: %s", prev.Error)
	}
	if known, err := f.links.Known(ctx, cb.Hash); err != nil {
		log.WithError(err).Warn("link cache unavailable")
	} else if known {
		log.Debug("transfer already known to the client, no push")
		return nil
	}

	sent, err := f.sentAmount(prev.Contents, block)
	if err != nil {
		return err
	}
	if sent.IsZero() {
		return nil
	}

	title, body := f.text(sent)
	for _, token := range tokens {
		err := f.pusher.Push(ctx, Message{Token: token, Title: title, Body: body, Account: destination})
		switch {
		case errors.Is(err, ErrTokenUnregistered):
			log.WithField("token", token).Info("removing unregistered token")
			for _, repo := range f.tokens {
				if err := repo.Remove(ctx, destination, token); err != nil {
					log.WithError(err).Warn("failed to remove token")
				}
			}
		case err != nil:
			log.WithError(err).WithField("token", token).Warn("push failed")
		}
	}
	log.WithFields(logrus.Fields{"tokens": len(tokens), "amount": f.unit.Format(sent)}).Info("push notifications sent")
	return nil
}

// sentAmount is the balance drop between the previous block and block, zero if the balance did not drop.
func (f *Fanout) sentAmount(prevContents json.RawMessage, block *models.Block) (*uint256.Int, error) {
	prev, err := models.DecodeContents(prevContents)
	if err != nil {
		return nil, err
	}
	prevBalance, err := balanceOf(prev)
	if err != nil {
		return nil, err
	}
	cur, err := balanceOf(block)
	if err != nil {
		return nil, err
	}
	if !cur.Lt(prevBalance) {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Sub(prevBalance, cur), nil
}

func balanceOf(block *models.Block) (*uint256.Int, error) {
	if block.IsState() {
		return amount.Parse(block.Balance)
	}
	return amount.ParseHex(block.Balance)
}

func (f *Fanout) text(sent *uint256.Int) (string, string) {
	if f.banano {
		return fmt.Sprintf("Received %s BANANO", f.unit.Format(sent)), "Open Kalium to receive this transaction."
	}
	return fmt.Sprintf("Received Ӿ%s", f.unit.Format(sent)), "Open Natrium to receive this transaction."
}

func (f *Fanout) tokensFor(ctx context.Context, log *logrus.Entry, account string) []string {
	var all []string
	for _, repo := range f.tokens {
		tokens, err := repo.Tokens(ctx, account)
		if err != nil {
			log.WithError(err).Warn("failed to read push tokens")
			continue
		}
		for _, token := range tokens {
			if !slices.Contains(all, token) {
				all = append(all, token)
			}
		}
	}
	return all
}
