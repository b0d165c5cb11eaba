package limiter

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"
)

const (
	DefaultInterval = 25 * time.Millisecond
	DefaultGrace    = 3
	DefaultSources  = 65536
)

// Config holds the per-source message gate settings
type Config struct {
	Interval time.Duration
	Grace    int
	Sources  int
}

// Limiter gates messages per source (usually the remote IP)
type Limiter struct {
	cfg     Config
	sources *lru.Cache
	mu      sync.Mutex
}

// New creates a limiter, zero fields of cfg take defaults
func New(cfg Config) *Limiter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Sources <= 0 {
		cfg.Sources = DefaultSources
	}
	cache, err := lru.New(cfg.Sources)
	if err != nil {
		panic(err)
	}
	return &Limiter{cfg: cfg, sources: cache}
}

// Admit reports whether a message from source may be handled now.
// A source may send Grace messages back to back, after that one message per Interval.
func (l *Limiter) Admit(source string) bool {
	return l.AdmitAt(source, time.Now())
}

// AdmitAt is Admit with an explicit clock.
func (l *Limiter) AdmitAt(source string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	var bucket *rate.Limiter
	if v, ok := l.sources.Get(source); ok {
		bucket = v.(*rate.Limiter)
	} else {
		bucket = rate.NewLimiter(rate.Every(l.cfg.Interval), l.cfg.Grace)
		l.sources.Add(source, bucket)
	}
	return bucket.AllowN(now, 1)
}

// Forget drops the state kept for source
func (l *Limiter) Forget(source string) {
	l.sources.Remove(source)
}
