package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const LinkTTL = time.Hour

// LinkMark records when a link was seen in a client submitted block.
type LinkMark struct {
	SeenAt int64 `msgpack:"seen_at"`
}

// LinkCache remembers links of recently processed blocks under link_<hash>,
// so a confirmation for a transfer the client already handled does not trigger a push.
type LinkCache struct {
	marks *Store[LinkMark]
	now   func() time.Time
}

func NewLinkCache(rdb redis.UniversalClient) *LinkCache {
	return &LinkCache{marks: NewStore[LinkMark](rdb, "link_", LinkTTL), now: time.Now}
}

func (l *LinkCache) Mark(ctx context.Context, link string) error {
	return l.marks.Put(ctx, link, LinkMark{SeenAt: l.now().Unix()})
}

// Known reports whether link was marked within the last hour.
// Markers written by other services count even when they are not msgpack.
func (l *LinkCache) Known(ctx context.Context, link string) (bool, error) {
	return l.marks.Has(ctx, link)
}

// SeenAt returns when link was marked.
func (l *LinkCache) SeenAt(ctx context.Context, link string) (time.Time, error) {
	mark, err := l.marks.Lookup(ctx, link)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(mark.SeenAt, 0), nil
}
