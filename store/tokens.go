package store

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenTTL is the sliding expiry of a device token.
const TokenTTL = 30 * 24 * time.Hour

// TokenRepo maps device push tokens to accounts.
type TokenRepo interface {
	Register(ctx context.Context, account, token string) error
	Remove(ctx context.Context, account, token string) error
	Tokens(ctx context.Context, account string) ([]string, error)
}

type tokenList struct {
	Data []string `json:"data"`
}

// RedisTokenStore keeps token -> [accounts] (expiring) and account -> {"data":[tokens]}.
type RedisTokenStore struct {
	rdb redis.UniversalClient
}

var _ TokenRepo = (*RedisTokenStore)(nil)

func NewRedisTokenStore(rdb redis.UniversalClient) *RedisTokenStore {
	return &RedisTokenStore{rdb: rdb}
}

func (s *RedisTokenStore) Register(ctx context.Context, account, token string) error {
	accounts, err := s.tokenAccounts(ctx, token)
	if err != nil {
		return err
	}
	if !slices.Contains(accounts, account) {
		accounts = append(accounts, account)
	}
	if err := s.setTokenAccounts(ctx, token, accounts); err != nil {
		return err
	}

	list, err := s.accountTokens(ctx, account)
	if err != nil {
		return err
	}
	if slices.Contains(list, token) {
		return nil
	}
	return s.setAccountTokens(ctx, account, append(list, token))
}

// Remove forgets the token. The account side is pruned lazily by Tokens.
func (s *RedisTokenStore) Remove(ctx context.Context, account, token string) error {
	return s.rdb.Del(ctx, token).Err()
}

// Tokens returns the tokens still bound to account and rewrites the account entry without stale ones.
func (s *RedisTokenStore) Tokens(ctx context.Context, account string) ([]string, error) {
	list, err := s.accountTokens(ctx, account)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	valid := make([]string, 0, len(list))
	for _, token := range list {
		accounts, err := s.tokenAccounts(ctx, token)
		if err != nil {
			return nil, err
		}
		if slices.Contains(accounts, account) {
			valid = append(valid, token)
		}
	}
	if len(valid) != len(list) {
		if err := s.setAccountTokens(ctx, account, valid); err != nil {
			return nil, err
		}
	}
	return valid, nil
}

// tokenAccounts reads the account list of a token. A legacy entry holding one bare
// account is upgraded to list form in place.
func (s *RedisTokenStore) tokenAccounts(ctx context.Context, token string) ([]string, error) {
	raw, err := s.rdb.Get(ctx, token).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := json.Unmarshal([]byte(raw), &accounts); err == nil {
		return accounts, nil
	}
	accounts = []string{raw}
	if err := s.setTokenAccounts(ctx, token, accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *RedisTokenStore) setTokenAccounts(ctx context.Context, token string, accounts []string) error {
	data, err := json.Marshal(accounts)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, token, data, TokenTTL).Err()
}

func (s *RedisTokenStore) accountTokens(ctx context.Context, account string) ([]string, error) {
	raw, err := s.rdb.Get(ctx, account).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list tokenList
	// entries written by older servers may use single quotes
	if err := json.Unmarshal([]byte(strings.ReplaceAll(raw, "'", `"`)), &list); err != nil {
		return nil, nil
	}
	return list.Data, nil
}

func (s *RedisTokenStore) setAccountTokens(ctx context.Context, account string, tokens []string) error {
	if tokens == nil {
		tokens = []string{}
	}
	data, err := json.Marshal(tokenList{Data: tokens})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, account, data, 0).Err()
}
