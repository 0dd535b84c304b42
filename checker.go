package authcache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/authcache/authcache/cache"

	"github.com/rs/zerolog/log"
)

// DefaultTTL is how long a decision stays cached when the authority
// sends no caching headers at all.
const DefaultTTL = 60 * time.Second

// DefaultMaxEntries bounds the production decision cache.
const DefaultMaxEntries = 1000

// Resource identifies the protected resource an access check is about.
// The internal id is part of the cache key; the external id only travels
// on the wire to the authority.
type Resource struct {
	InternalID string
	ExternalID string
}

// Config carries everything a Checker needs.
// Endpoint and Cache are required; Timeout bounds each remote call.
type Config struct {
	Endpoint string
	Cache    cache.Provider
	Timeout  time.Duration
}

// Checker answers access questions from its decision cache, delegating
// cache misses to the remote authority and caching decided results
// according to the authority's caching headers.
//
// The cache is a pure performance optimization: flushing it can never
// change a decision, only the number of remote calls.
type Checker struct {
	cache  cache.Provider
	client *Client
}

// New validates the configuration and creates a Checker.
// A missing or unparseable endpoint URL and a missing cache provider
// are initialization failures; nothing past construction returns errors.
func New(config Config) (*Checker, error) {
	if config.Endpoint == "" {
		return nil, errors.New("a remote authorization endpoint URL is required")
	}
	u, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid authorization endpoint URL %q: %w", config.Endpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid authorization endpoint URL %q: missing scheme or host", config.Endpoint)
	}
	if config.Cache == nil {
		return nil, errors.New("a decision cache provider is required")
	}
	return &Checker{
		cache:  config.Cache,
		client: NewClient(config.Endpoint, config.Timeout),
	}, nil
}

// HasAccess reports whether the user may exercise the requested access
// on the resource. A cache hit is returned immediately; otherwise the
// remote authority decides and the result is cached per its directive.
// Unknown is returned for indeterminate or failed checks and is never
// cached.
func (c *Checker) HasAccess(ctx context.Context, username, access string, res Resource) Decision {
	key := CacheKey(username, access, res.InternalID)
	if granted, ok := c.cache.Get(key); ok {
		log.Trace().Str("key", key).Bool("granted", granted).Msg("Cache hit")
		if granted {
			return Granted
		}
		return Denied
	}

	decision, directive := c.client.Check(ctx, Request{
		Access:     access,
		Username:   username,
		InternalID: res.InternalID,
		ExternalID: res.ExternalID,
	})

	switch decision {
	case Granted:
		c.apply(key, true, directive)
	case Denied:
		c.apply(key, false, directive)
	}
	// Unknown never touches the cache
	return decision
}

func (c *Checker) apply(key string, granted bool, directive Directive) {
	switch directive.Kind {
	case Store:
		log.Trace().Str("key", key).Dur("ttl", directive.TTL).Msg("Cache write")
		c.cache.Put(key, granted, directive.TTL)
	case StoreDefault:
		log.Trace().Str("key", key).Msg("Cache write with default TTL")
		c.cache.PutDefault(key, granted)
	case DoNotStore:
		log.Trace().Str("key", key).Msg("Cache remove")
		c.cache.Remove(key)
	}
}

// CacheKey derives the decision-cache key for a check.
// The field order and the `::` separator are a contract: other components
// rely on this exact format when inspecting the cache.
func CacheKey(username, access, internalID string) string {
	return username + "::" + access + "::" + internalID
}
