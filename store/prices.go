package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const pricesKey = "prices"

var ErrPriceUnavailable = errors.New("price unavailable")

// PriceStore reads the prices hash maintained by the external price collectors.
type PriceStore struct {
	rdb  redis.UniversalClient
	coin string
}

func NewPriceStore(rdb redis.UniversalClient, banano bool) *PriceStore {
	coin := "nano"
	if banano {
		coin = "banano"
	}
	return &PriceStore{rdb: rdb, coin: coin}
}

func (s *PriceStore) field(currency string) string {
	return fmt.Sprintf("coingecko:%s-%s", s.coin, strings.ToLower(currency))
}

// Price returns the coin price in currency.
func (s *PriceStore) Price(ctx context.Context, currency string) (float64, error) {
	return s.get(ctx, s.field(currency))
}

func (s *PriceStore) Btc(ctx context.Context) (float64, error) {
	return s.get(ctx, s.field("btc"))
}

// Nano returns the banano price in nano. Only set in banano mode.
func (s *PriceStore) Nano(ctx context.Context) (float64, error) {
	if s.coin == "nano" {
		return 0, ErrPriceUnavailable
	}
	return s.get(ctx, s.field("nano"))
}

func (s *PriceStore) get(ctx context.Context, field string) (float64, error) {
	raw, err := s.rdb.HGet(ctx, pricesKey, field).Result()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, field)
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrPriceUnavailable, field, raw)
	}
	return v, nil
}
