package authcache

import (
	"net/http"
	"strconv"
	"time"
)

// DirectiveKind says what should happen to the cache entry for a decision.
type DirectiveKind int

const (
	// DoNotStore removes any existing entry and stores nothing.
	DoNotStore DirectiveKind = iota
	// Store caches the decision for the TTL carried in the directive.
	Store
	// StoreDefault caches the decision for the cache's configured default TTL.
	// This is what happens when the authority sends no caching headers at all.
	StoreDefault
)

// Directive is the caching instruction derived from the authority's
// response headers. It drives exactly one write or delete against the
// decision cache and is never stored itself.
type Directive struct {
	Kind DirectiveKind
	TTL  time.Duration
}

// directiveFromHeaders computes the caching directive for a decided
// (granted or denied) response.
//
// Expires is consulted first and yields a candidate TTL. Cache-Control
// takes precedence over Expires per RFC 9111: no-cache or no-store
// short-circuits to DoNotStore, and max-age overrides the Expires-derived
// value. A positive candidate TTL stores for that long, a zero or negative
// one removes the entry, and the absence of any caching header falls back
// to the default TTL.
func directiveFromHeaders(h http.Header, now time.Time) Directive {
	var ttl time.Duration
	haveTTL := false

	if expires := h.Get("Expires"); expires != "" {
		if t, err := http.ParseTime(expires); err == nil {
			// truncate toward zero to whole seconds
			ttl = t.Sub(now).Truncate(time.Second)
			haveTTL = true
		}
	}

	if values := h.Values("Cache-Control"); len(values) > 0 {
		cc := ParseCacheControl(values)
		if cc.HasDirective("no-cache") || cc.HasDirective("no-store") {
			return Directive{Kind: DoNotStore}
		}
		if val, ok := cc.Get("max-age"); ok {
			if secs, err := strconv.ParseInt(val, 10, 64); err == nil {
				ttl = time.Duration(secs) * time.Second
				haveTTL = true
			}
		}
	}

	switch {
	case haveTTL && ttl > 0:
		return Directive{Kind: Store, TTL: ttl}
	case haveTTL:
		return Directive{Kind: DoNotStore}
	default:
		return Directive{Kind: StoreDefault}
	}
}
