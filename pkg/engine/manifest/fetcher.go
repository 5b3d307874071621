package manifest

import (
	"io"
	"net/http"
	"sync"

	"github.com/pkg/errors"

	"github.com/ConRes/conres.io-sub001/pkg/engine/engineerr"
)

// cacheEntry is one persistent-cache record: the cached bytes and the
// Content-Length recorded when they were fetched.
type cacheEntry struct {
	bytes  []byte
	length int64
}

// Cache is the persistent, URL-keyed store HTTPFetcher checks before
// issuing a GET. A production deployment backs this with disk or a KV
// store; the in-memory map here is the reference shape the interface is
// written against.
type Cache interface {
	Get(url string) (bytes []byte, length int64, ok bool)
	Put(url string, bytes []byte, length int64)
}

// MemoryCache is an in-process Cache, sufficient for a single-run CLI
// invocation where no cross-process persistence is required.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cacheEntry)}
}

func (c *MemoryCache) Get(url string) ([]byte, int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[url]
	return e.bytes, e.length, ok
}

func (c *MemoryCache) Put(url string, bytes []byte, length int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = cacheEntry{bytes: bytes, length: length}
}

// HTTPFetcher implements AssetFetcher: HEAD-precheck content length against
// the cache, reuse cached bytes on a match, otherwise GET and cache the
// result (§4.10 "Freshness: compare Content-Length via a HEAD-style
// precheck"). Concurrent fetches of the same URL are deduplicated through
// an in-flight futures map so N callers for one URL cause exactly one
// round trip (§4.10's closing line, and §9's "in-flight futures map").
type HTTPFetcher struct {
	client *http.Client
	cache  Cache

	mu       sync.Mutex
	inFlight map[string]*inFlightFetch
}

type inFlightFetch struct {
	done  chan struct{}
	bytes []byte
	err   error
}

// NewHTTPFetcher builds a fetcher over client (nil uses http.DefaultClient)
// and cache (nil uses a fresh MemoryCache).
func NewHTTPFetcher(client *http.Client, cache Cache) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &HTTPFetcher{client: client, cache: cache, inFlight: make(map[string]*inFlightFetch)}
}

// Fetch implements AssetFetcher.
func (f *HTTPFetcher) Fetch(url string) ([]byte, error) {
	f.mu.Lock()
	if existing, ok := f.inFlight[url]; ok {
		f.mu.Unlock()
		<-existing.done
		return existing.bytes, existing.err
	}
	flight := &inFlightFetch{done: make(chan struct{})}
	f.inFlight[url] = flight
	f.mu.Unlock()

	flight.bytes, flight.err = f.fetchOnce(url)

	f.mu.Lock()
	delete(f.inFlight, url)
	f.mu.Unlock()
	close(flight.done)

	return flight.bytes, flight.err
}

func (f *HTTPFetcher) fetchOnce(url string) ([]byte, error) {
	if cached, length, ok := f.cache.Get(url); ok {
		fresh, err := f.precheckFresh(url, length)
		if err == nil && fresh {
			return cached, nil
		}
	}

	resp, err := f.client.Get(url)
	if err != nil {
		return nil, errors.Wrap(engineerr.ErrAssetFetchFailed, "manifest: fetch "+url+": "+err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(engineerr.ErrAssetFetchFailed, "manifest: fetch %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(engineerr.ErrAssetFetchFailed, "manifest: read "+url+": "+err.Error())
	}

	f.cache.Put(url, data, int64(len(data)))
	return data, nil
}

// precheckFresh issues a HEAD request and reports whether the server's
// advertised Content-Length still matches the cached entry's recorded
// length. Any error talking to the server is treated as "not fresh" rather
// than fatal — the caller falls through to a full GET.
func (f *HTTPFetcher) precheckFresh(url string, cachedLength int64) (bool, error) {
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, errors.Errorf("manifest: head precheck status %d", resp.StatusCode)
	}
	return resp.ContentLength == cachedLength, nil
}
