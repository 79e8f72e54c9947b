// Package webcache serves front-end assets cache-first so the app shell keeps loading when the
// upstream origin is unreachable.
package webcache

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Precache is the set of paths stored by Install.
var Precache = []string{"/", "/index.html", "/manifest.webmanifest"}

const fallbackPath = "/index.html"

// DefaultMaxEntries bounds how many responses a cache keeps besides the precached shell.
const DefaultMaxEntries = 256

type entry struct {
	status int
	header http.Header
	body   []byte
}

// Store holds named caches. Only one name is current at a time; Activate drops the rest.
type Store struct {
	mu     sync.RWMutex
	caches map[string]map[string]*entry
}

func NewStore() *Store {
	return &Store{caches: make(map[string]map[string]*entry)}
}

// Names lists the caches present.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	return names
}

// Len is the number of entries in cache name.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.caches[name])
}

func (s *Store) get(name, key string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.caches[name][key]
	return e, ok
}

// put stores e under key. A new key is refused once the cache holds limit entries; limit 0 means no bound.
func (s *Store) put(name, key string, e *entry, limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cache := s.caches[name]
	if cache == nil {
		cache = make(map[string]*entry)
		s.caches[name] = cache
	}
	if _, exists := cache[key]; !exists && limit > 0 && len(cache) >= limit {
		return false
	}
	cache[key] = e
	return true
}

// Cache is an http.Handler in front of an upstream asset handler.
type Cache struct {
	name     string
	upstream http.Handler
	store    *Store
	logger   *zap.Logger

	// MaxEntries caps the entries added after Install. Responses past the cap are served uncached.
	MaxEntries int
}

// New returns a cache named name over upstream, holding at most DefaultMaxEntries runtime entries.
func New(name string, upstream http.Handler, store *Store, logger *zap.Logger) *Cache {
	return &Cache{name: name, upstream: upstream, store: store, logger: logger, MaxEntries: DefaultMaxEntries}
}

// NewProxy forwards cache misses to a remote origin.
func NewProxy(origin string) (http.Handler, error) {
	target, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid static upstream %q: %w", origin, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("static upstream %q must be an absolute URL", origin)
	}
	return httputil.NewSingleHostReverseProxy(target), nil
}

// Install fetches the precache paths from upstream and stores them. Any failure aborts.
func (c *Cache) Install(ctx context.Context) error {
	for _, path := range Precache {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		e := c.fetch(req)
		if e.status != http.StatusOK {
			return fmt.Errorf("precache %s: upstream returned %d", path, e.status)
		}
		c.store.put(c.name, path, e, 0)
	}
	c.logger.Info("Asset cache installed", zap.String("cache", c.name), zap.Int("entries", len(Precache)))
	return nil
}

// Activate deletes every cache except the current one and returns how many were removed.
func (c *Cache) Activate() int {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	removed := 0
	for name := range c.store.caches {
		if name != c.name {
			delete(c.store.caches, name)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Info("Removed stale asset caches", zap.String("cache", c.name), zap.Int("removed", removed))
	}
	return removed
}

func (c *Cache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		c.upstream.ServeHTTP(w, r)
		return
	}

	key := cacheKey(r)
	if e, ok := c.store.get(c.name, key); ok {
		write(w, e)
		return
	}

	e := c.fetch(r)
	switch {
	case e.status >= http.StatusInternalServerError:
		if isNavigation(r) {
			if fallback, ok := c.store.get(c.name, fallbackPath); ok {
				c.logger.Warn("Upstream failed, serving cached shell",
					zap.String("path", r.URL.Path), zap.Int("status", e.status))
				write(w, fallback)
				return
			}
		}
	case cacheable(e):
		if !c.store.put(c.name, key, e, len(Precache)+c.MaxEntries) {
			c.logger.Debug("Asset cache full, not storing", zap.String("path", r.URL.Path))
		}
	}
	write(w, e)
}

func (c *Cache) fetch(r *http.Request) *entry {
	rec := &recorder{header: make(http.Header), status: http.StatusOK}
	c.upstream.ServeHTTP(rec, r)
	return &entry{status: rec.status, header: rec.header, body: rec.body.Bytes()}
}

// cacheKey is the path for the precached shell, so query strings cannot fork it, and path plus
// query for everything else.
func cacheKey(r *http.Request) string {
	if r.URL.RawQuery == "" || slices.Contains(Precache, r.URL.Path) {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}

func cacheable(e *entry) bool {
	if e.status != http.StatusOK {
		return false
	}
	return !strings.Contains(strings.ToLower(e.header.Get("Cache-Control")), "no-store")
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func write(w http.ResponseWriter, e *entry) {
	for k, v := range e.header {
		w.Header()[k] = append([]string(nil), v...)
	}
	w.WriteHeader(e.status)
	w.Write(e.body)
}

// recorder buffers an upstream response so it can be cached before it is sent.
type recorder struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.wroteHeader = true
}

func (r *recorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	return r.body.Write(p)
}
