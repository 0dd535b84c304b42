package authcache

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/authcache/authcache/cache"
)

func newTestChecker(t *testing.T, endpoint string, provider cache.Provider) *Checker {
	t.Helper()
	checker, err := New(Config{
		Endpoint: endpoint,
		Cache:    provider,
		Timeout:  time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	return checker
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{Cache: cache.NewMemCache(time.Minute)})
	if err == nil {
		t.Fatal("expected an error for a missing endpoint")
	}
}

func TestNewRejectsInvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"not-a-url", "://missing-scheme", "http://"} {
		_, err := New(Config{Endpoint: endpoint, Cache: cache.NewMemCache(time.Minute)})
		if err == nil {
			t.Fatalf("expected an error for endpoint %q", endpoint)
		}
	}
}

func TestNewRequiresCacheProvider(t *testing.T) {
	_, err := New(Config{Endpoint: "http://authority.test/check"})
	if err == nil {
		t.Fatal("expected an error for a missing cache provider")
	}
}

func TestCheckSendsWireFormat(t *testing.T) {
	var got map[string]string
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("could not decode request body: %v", err)
		}
	}))
	defer srv.Close()
	checker := newTestChecker(t, srv.URL, cache.NewMemCache(time.Minute))

	checker.HasAccess(context.Background(), "jdoe", "view", Resource{InternalID: "P0123456", ExternalID: "PATIENT_1234"})

	if contentType != "application/json" {
		t.Fatalf("Content-Type is %q", contentType)
	}
	want := map[string]string{
		"access":      "view",
		"username":    "jdoe",
		"patient-id":  "P0123456",
		"patient-eid": "PATIENT_1234",
	}
	if len(got) != len(want) {
		t.Fatalf("payload is %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("payload field %q is %q, expected %q", k, got[k], v)
		}
	}
}

func TestSecondCallServedFromCache(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()
	checker := newTestChecker(t, srv.URL, cache.NewMemCache(time.Minute))

	first := checker.HasAccess(context.Background(), "jdoe", "view", Resource{InternalID: "P01"})
	second := checker.HasAccess(context.Background(), "jdoe", "view", Resource{InternalID: "P01"})

	if first != Granted || second != Granted {
		t.Fatalf("decisions are %s and %s", first, second)
	}
	if calls != 1 {
		t.Fatalf("authority called %d times", calls)
	}
}

func TestDeniedIsCachedToo(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	checker := newTestChecker(t, srv.URL, cache.NewMemCache(time.Minute))

	first := checker.HasAccess(context.Background(), "jdoe", "edit", Resource{InternalID: "P01"})
	second := checker.HasAccess(context.Background(), "jdoe", "edit", Resource{InternalID: "P01"})

	if first != Denied || second != Denied {
		t.Fatalf("decisions are %s and %s", first, second)
	}
	if calls != 1 {
		t.Fatalf("authority called %d times", calls)
	}
}

func TestUnknownIsNeverCached(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	mem := cache.NewMemCache(time.Minute)
	checker := newTestChecker(t, srv.URL, mem)

	if d := checker.HasAccess(context.Background(), "jdoe", "view", Resource{InternalID: "P01"}); d != Unknown {
		t.Fatalf("decision is %s", d)
	}
	if _, ok := mem.Get(CacheKey("jdoe", "view", "P01")); ok {
		t.Fatal("unknown decision was cached")
	}
	// without a cache entry the second call must hit the authority again
	checker.HasAccess(context.Background(), "jdoe", "view", Resource{InternalID: "P01"})
	if calls != 2 {
		t.Fatalf("authority called %d times", calls)
	}
}

func TestNoStoreRemovesExistingEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Expires", time.Now().Add(2*time.Minute).UTC().Format(http.TimeFormat))
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	mem := cache.NewMemCache(time.Minute)
	checker := newTestChecker(t, srv.URL, mem)

	key := CacheKey("jdoe", "view", "P01")
	mem.Put(key, true, time.Minute)

	if d := checker.HasAccess(context.Background(), "jdoe", "view", Resource{InternalID: "P01"}); d != Denied {
		t.Fatalf("decision is %s", d)
	}
	if _, ok := mem.Get(key); ok {
		t.Fatal("entry survived a no-store response")
	}
}

func TestMaxAgeTrumpsExpires(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Expires", time.Now().Add(2*time.Minute).UTC().Format(http.TimeFormat))
		w.Header().Set("Cache-Control", "max-age=30")
	}))
	defer srv.Close()
	rec := &recordingCache{}
	checker := newTestChecker(t, srv.URL, rec)

	checker.HasAccess(context.Background(), "jdoe", "view", Resource{InternalID: "P01"})

	if len(rec.puts) != 1 {
		t.Fatalf("%d cache writes", len(rec.puts))
	}
	if rec.puts[0].ttl != 30*time.Second {
		t.Fatalf("TTL is %s, expected 30s", rec.puts[0].ttl)
	}
	if !rec.puts[0].value {
		t.Fatal("cached value should be true for a granted decision")
	}
}

func TestNoHeadersCachesWithDefaultTTL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	rec := &recordingCache{}
	checker := newTestChecker(t, srv.URL, rec)

	checker.HasAccess(context.Background(), "jdoe", "view", Resource{InternalID: "P01"})

	if len(rec.putDefaults) != 1 || len(rec.puts) != 0 || len(rec.removes) != 0 {
		t.Fatalf("cache operations: %d puts, %d default puts, %d removes",
			len(rec.puts), len(rec.putDefaults), len(rec.removes))
	}
}

func TestEveryOtherStatusYieldsUnknown(t *testing.T) {
	rec := &recordingCache{}
	checker := newTestChecker(t, "http://authority.test/check", rec)
	var status int
	checker.client.httpClient.Transport = roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			// caching headers must be irrelevant for indeterminate statuses
			Header: http.Header{
				"Expires": {time.Now().Add(2 * time.Minute).UTC().Format(http.TimeFormat)},
			},
			Body: io.NopCloser(strings.NewReader("")),
		}, nil
	})

	for status = 0; status < 600; status++ {
		if status == http.StatusOK || status == http.StatusForbidden {
			continue
		}
		d := checker.HasAccess(context.Background(), "jdoe", "view", Resource{InternalID: "P01"})
		if d != Unknown {
			t.Fatalf("status %d yielded %s", status, d)
		}
	}
	if len(rec.puts) != 0 || len(rec.putDefaults) != 0 || len(rec.removes) != 0 {
		t.Fatalf("cache operations: %d puts, %d default puts, %d removes",
			len(rec.puts), len(rec.putDefaults), len(rec.removes))
	}
}

func TestTransportErrorYieldsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()
	mem := cache.NewMemCache(time.Minute)
	checker := newTestChecker(t, endpoint, mem)

	if d := checker.HasAccess(context.Background(), "jdoe", "view", Resource{InternalID: "P01"}); d != Unknown {
		t.Fatalf("decision is %s", d)
	}
	if _, ok := mem.Get(CacheKey("jdoe", "view", "P01")); ok {
		t.Fatal("failed check was cached")
	}
}

func TestCacheKeyFormat(t *testing.T) {
	if key := CacheKey("jdoe", "view", "P0123456"); key != "jdoe::view::P0123456" {
		t.Fatalf("cache key is %s", key)
	}
}

type recordedPut struct {
	key   string
	value bool
	ttl   time.Duration
}

// recordingCache captures cache operations for assertions.
// Get always misses so every check goes to the authority.
type recordingCache struct {
	puts        []recordedPut
	putDefaults []string
	removes     []string
}

func (r *recordingCache) Get(key string) (bool, bool) { return false, false }

func (r *recordingCache) Put(key string, value bool, ttl time.Duration) {
	r.puts = append(r.puts, recordedPut{key, value, ttl})
}

func (r *recordingCache) PutDefault(key string, value bool) {
	r.putDefaults = append(r.putDefaults, key)
}

func (r *recordingCache) Remove(key string) {
	r.removes = append(r.removes, key)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
