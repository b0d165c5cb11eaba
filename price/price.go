// Package price periodically pushes the current coin price to every live session.
package price

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/toncenter/nano-wallet-gateway/hub"
	"github.com/toncenter/nano-wallet-gateway/models"
)

const (
	DefaultInterval = 60 * time.Second
	// DefaultCurrency is used for sessions that never picked one.
	DefaultCurrency = "usd"
)

// Source reads prices from the price cache.
type Source interface {
	Price(ctx context.Context, currency string) (float64, error)
	Btc(ctx context.Context) (float64, error)
	Nano(ctx context.Context) (float64, error)
}

// Notification carries one price snapshot. Each session receives the price in its own currency.
type Notification struct {
	Prices map[string]float64
	Btc    float64
	Nano   *float64
}

var _ hub.Notification = (*Notification)(nil)

func (n *Notification) AdjustForClient(client *hub.Client) any {
	currency := client.Currency()
	if currency == "" {
		currency = DefaultCurrency
	}
	price, ok := n.Prices[currency]
	if !ok {
		return nil
	}
	return models.PricePush{Currency: currency, Price: price, Btc: n.Btc, Nano: n.Nano}
}

type Broadcaster struct {
	manager  *hub.ClientManager
	source   Source
	interval time.Duration
	banano   bool
	logger   *logrus.Logger
}

func NewBroadcaster(manager *hub.ClientManager, source Source, interval time.Duration, banano bool, logger *logrus.Logger) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Broadcaster{manager: manager, source: source, interval: interval, banano: banano, logger: logger}
}

// Run broadcasts on every tick until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := b.Tick(ctx); err != nil {
				b.logger.WithError(err).Warn("price broadcast skipped")
			}
		}
	}
}

// Tick reads the prices for the currencies in use and broadcasts them once.
func (b *Broadcaster) Tick(ctx context.Context) error {
	currencies := b.manager.Currencies()
	if len(currencies) == 0 {
		return nil
	}
	if i := slices.Index(currencies, ""); i >= 0 {
		currencies[i] = DefaultCurrency
		slices.Sort(currencies)
		currencies = slices.Compact(currencies)
	}
	note, err := b.snapshot(ctx, currencies)
	if err != nil {
		return err
	}
	b.manager.Broadcast(note)
	b.logger.WithFields(logrus.Fields{"currencies": len(note.Prices), "clients": b.manager.Len()}).Debug("prices pushed")
	return nil
}

func (b *Broadcaster) snapshot(ctx context.Context, currencies []string) (*Notification, error) {
	note := &Notification{Prices: make(map[string]float64, len(currencies))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, currency := range currencies {
		g.Go(func() error {
			price, err := b.source.Price(gctx, currency)
			if err != nil {
				b.logger.WithError(err).WithField("currency", currency).Warn("price missing")
				return nil
			}
			mu.Lock()
			note.Prices[currency] = price
			mu.Unlock()
			return nil
		})
	}
	g.Go(func() error {
		btc, err := b.source.Btc(gctx)
		if err != nil {
			return err
		}
		note.Btc = btc
		return nil
	})
	if b.banano {
		g.Go(func() error {
			nano, err := b.source.Nano(gctx)
			if err != nil {
				return err
			}
			note.Nano = &nano
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(note.Prices) == 0 {
		return nil, errors.New("no prices available")
	}
	return note, nil
}
