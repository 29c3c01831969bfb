package server

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"nexus/internal/convex"
)

const (
	readCacheSize = 128
	readCacheTTL  = 5 * time.Second
)

// readCache fronts the conversation store for the read endpoints. Entries
// carry a short TTL so writes that bypass this server (the submitting client
// persists its own user message) show up quickly; writes that go through
// this server purge the affected keys immediately.
type readCache struct {
	conversations *expirable.LRU[string, []convex.Conversation]
	messages      *expirable.LRU[string, []convex.StoredMessage]
}

func newReadCache(ttl time.Duration) *readCache {
	if ttl <= 0 {
		ttl = readCacheTTL
	}
	return &readCache{
		conversations: expirable.NewLRU[string, []convex.Conversation](readCacheSize, nil, ttl),
		messages:      expirable.NewLRU[string, []convex.StoredMessage](readCacheSize, nil, ttl),
	}
}

func conversationsKey(includeArchived bool) string {
	if includeArchived {
		return "all"
	}
	return "active"
}
