// Package store holds the Redis and Postgres backed records of the gateway:
// persisted sessions, push notification tokens and cached prices.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("session not found")

const (
	fieldAccount        = "account"
	fieldCurrency       = "currency"
	fieldLastConnect    = "last-connect"
	fieldLastDisconnect = "last-disconnect"

	connTrackKey = "conntrack"
)

// SessionRecord is the durable part of a session, a Redis hash keyed by session id.
type SessionRecord struct {
	ID       string
	Accounts []string
	// Legacy is set when the account field still holds a single bare address.
	Legacy         bool
	Currency       string
	LastConnect    float64
	LastDisconnect float64
}

type SessionStore struct {
	rdb redis.UniversalClient
	now func() time.Time
}

func NewSessionStore(rdb redis.UniversalClient) *SessionStore {
	return &SessionStore{rdb: rdb, now: time.Now}
}

// Load returns ErrSessionNotFound when no account was ever stored for id.
func (s *SessionStore) Load(ctx context.Context, id string) (*SessionRecord, error) {
	values, err := s.rdb.HGetAll(ctx, id).Result()
	if err != nil {
		return nil, err
	}
	raw, ok := values[fieldAccount]
	if !ok || raw == "" {
		return nil, ErrSessionNotFound
	}

	rec := &SessionRecord{ID: id, Currency: values[fieldCurrency]}
	if err := json.Unmarshal([]byte(raw), &rec.Accounts); err != nil {
		rec.Accounts = []string{raw}
		rec.Legacy = true
	}
	if len(rec.Accounts) == 0 {
		return nil, ErrSessionNotFound
	}
	rec.LastConnect, _ = strconv.ParseFloat(values[fieldLastConnect], 64)
	rec.LastDisconnect, _ = strconv.ParseFloat(values[fieldLastDisconnect], 64)
	return rec, nil
}

// SaveAccounts stores the account list in list form.
func (s *SessionStore) SaveAccounts(ctx context.Context, id string, accounts []string) error {
	data, err := json.Marshal(accounts)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, id, fieldAccount, string(data)).Err()
}

// HasAccount reports whether any account was recorded for id.
func (s *SessionStore) HasAccount(ctx context.Context, id string) (bool, error) {
	return s.rdb.HExists(ctx, id, fieldAccount).Result()
}

func (s *SessionStore) SetCurrency(ctx context.Context, id, currency string) error {
	return s.rdb.HSet(ctx, id, fieldCurrency, currency).Err()
}

func (s *SessionStore) TouchConnect(ctx context.Context, id string) error {
	return s.rdb.HSet(ctx, id, fieldLastConnect, s.timestamp()).Err()
}

func (s *SessionStore) TouchDisconnect(ctx context.Context, id string) error {
	return s.rdb.HSet(ctx, id, fieldLastDisconnect, s.timestamp()).Err()
}

// Track appends a connect/disconnect line to the connection log.
func (s *SessionStore) Track(ctx context.Context, id, event, source string) error {
	line := fmt.Sprintf("%s:%s:%s:%s", s.timestamp(), id, event, source)
	return s.rdb.RPush(ctx, connTrackKey, line).Err()
}

func (s *SessionStore) timestamp() string {
	return strconv.FormatFloat(float64(s.now().UnixMilli())/1000, 'f', -1, 64)
}
