package webcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"locoinspect/web"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// switchable serves web assets until it is taken down, then fails every request.
type switchable struct {
	down  atomic.Bool
	hits  atomic.Int32
	inner http.Handler
}

func (s *switchable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.hits.Add(1)
	if s.down.Load() {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	s.inner.ServeHTTP(w, r)
}

func newUpstream() *switchable {
	mux := http.NewServeMux()
	mux.Handle("/", web.Handler())
	mux.HandleFunc("/app.js", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "console.log('app')")
	})
	mux.HandleFunc("/live.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		io.WriteString(w, "{}")
	})
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	return &switchable{inner: mux}
}

func get(t *testing.T, h http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestInstall_Precaches(t *testing.T) {
	store := NewStore()
	c := New("loco-inspect-v2", newUpstream(), store, zap.NewNop())

	require.NoError(t, c.Install(context.Background()))
	assert.Equal(t, len(Precache), store.Len("loco-inspect-v2"))
}

func TestActivate_DropsOtherCaches(t *testing.T) {
	store := NewStore()
	old := New("loco-inspect-v1", newUpstream(), store, zap.NewNop())
	require.NoError(t, old.Install(context.Background()))

	current := New("loco-inspect-v2", newUpstream(), store, zap.NewNop())
	require.NoError(t, current.Install(context.Background()))

	assert.Equal(t, 1, current.Activate())
	assert.Equal(t, []string{"loco-inspect-v2"}, store.Names())
}

func TestServeHTTP_CacheFirst(t *testing.T) {
	upstream := newUpstream()
	c := New("v", upstream, NewStore(), zap.NewNop())

	first := get(t, c, "/app.js", nil)
	require.Equal(t, http.StatusOK, first.Code)
	hits := upstream.hits.Load()

	upstream.down.Store(true)
	second := get(t, c, "/app.js", nil)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "console.log('app')", second.Body.String())
	assert.Equal(t, hits, upstream.hits.Load())
}

func TestServeHTTP_SkipsUncacheable(t *testing.T) {
	upstream := newUpstream()
	store := NewStore()
	c := New("v", upstream, store, zap.NewNop())

	get(t, c, "/live.json", nil)
	get(t, c, "/missing.css", nil)
	assert.Equal(t, 0, store.Len("v"))

	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	rec := httptest.NewRecorder()
	c.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 0, store.Len("v"))
}

func TestServeHTTP_QueryStringsShareTheShell(t *testing.T) {
	upstream := newUpstream()
	store := NewStore()
	c := New("v", upstream, store, zap.NewNop())
	require.NoError(t, c.Install(context.Background()))
	hits := upstream.hits.Load()

	for i := range 500 {
		rec := get(t, c, fmt.Sprintf("/?bust=%d", i), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = get(t, c, fmt.Sprintf("/index.html?bust=%d", i), nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, len(Precache), store.Len("v"))
	assert.Equal(t, hits, upstream.hits.Load())
}

func TestServeHTTP_CapsRuntimeEntries(t *testing.T) {
	upstream := newUpstream()
	store := NewStore()
	c := New("v", upstream, store, zap.NewNop())
	c.MaxEntries = 10
	require.NoError(t, c.Install(context.Background()))

	for i := range 100 {
		rec := get(t, c, fmt.Sprintf("/app.js?v=%d", i), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "console.log('app')", rec.Body.String())
	}
	assert.Equal(t, len(Precache)+10, store.Len("v"))

	// Entries already held are still served from the cache.
	upstream.down.Store(true)
	assert.Equal(t, http.StatusOK, get(t, c, "/app.js?v=3", nil).Code)
	assert.Equal(t, http.StatusBadGateway, get(t, c, "/app.js?v=50", nil).Code)
}

func TestServeHTTP_NavigationFallsBackToShell(t *testing.T) {
	upstream := newUpstream()
	c := New("v", upstream, NewStore(), zap.NewNop())
	require.NoError(t, c.Install(context.Background()))

	upstream.down.Store(true)

	nav := get(t, c, "/history", map[string]string{"Sec-Fetch-Mode": "navigate"})
	assert.Equal(t, http.StatusOK, nav.Code)
	assert.Contains(t, nav.Body.String(), "LocoInspect Cloud")

	asset := get(t, c, "/other.js", nil)
	assert.Equal(t, http.StatusBadGateway, asset.Code)
}

func TestNewProxy(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "from origin "+r.URL.Path)
	}))
	defer origin.Close()

	proxy, err := NewProxy(origin.URL)
	require.NoError(t, err)

	c := New("v", proxy, NewStore(), zap.NewNop())
	rec := get(t, c, "/index.html", nil)
	assert.Equal(t, "from origin /index.html", rec.Body.String())

	_, err = NewProxy("not a url")
	assert.Error(t, err)
}
