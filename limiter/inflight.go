package limiter

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// InFlight is a process-wide set of keys currently being handled.
type InFlight struct {
	keys mapset.Set[string]
}

func NewInFlight() *InFlight {
	return &InFlight{keys: mapset.NewSet[string]()}
}

// Acquire marks key as in flight. It returns false if key is already held.
func (f *InFlight) Acquire(key string) bool {
	return f.keys.Add(key)
}

// Release clears key. Releasing an absent key is a no-op.
func (f *InFlight) Release(key string) {
	f.keys.Remove(key)
}

func (f *InFlight) Contains(key string) bool {
	return f.keys.Contains(key)
}

func (f *InFlight) Len() int {
	return f.keys.Cardinality()
}
