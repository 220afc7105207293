package basemap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gridmap/internal/resilience"
)

func TestCache_LRU(t *testing.T) {
	c := NewCache(2, time.Hour)
	a, b, d := maptile.New(0, 0, 1), maptile.New(1, 0, 1), maptile.New(0, 1, 1)

	c.Put(a, []byte("a"))
	c.Put(b, []byte("b"))
	_, ok := c.Get(a) // a is now most recent
	require.True(t, ok)
	c.Put(d, []byte("d"))

	_, ok = c.Get(b)
	assert.False(t, ok, "b was least recently used")
	got, ok := c.Get(a)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), got)
	assert.Equal(t, 2, c.Len())

	c.Put(a, []byte("a2"))
	got, _ = c.Get(a)
	assert.Equal(t, []byte("a2"), got)
	assert.Equal(t, 2, c.Len())

	stats := c.Stats()
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.75, stats.HitRate, 1e-9)

	c.Purge()
	assert.Zero(t, c.Len())
}

func TestCache_TTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewCache(10, time.Minute)
	c.now = func() time.Time { return now }

	tile := maptile.New(3, 4, 5)
	c.Put(tile, []byte("x"))
	_, ok := c.Get(tile)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(tile)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestParseTile(t *testing.T) {
	tests := []struct {
		z, x, y string
		want    maptile.Tile
		wantErr bool
	}{
		{"12", "3491", "1609.png", maptile.New(3491, 1609, 12), false},
		{"0", "0", "0", maptile.New(0, 0, 0), false},
		{"1", "2", "0.png", maptile.Tile{}, true},
		{"20", "0", "0.png", maptile.Tile{}, true},
		{"a", "0", "0.png", maptile.Tile{}, true},
		{"1", "-1", "0.png", maptile.Tile{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.z+"/"+tt.x+"/"+tt.y, func(t *testing.T) {
			got, err := ParseTile(tt.z, tt.x, tt.y)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, eris.Is(err, ErrInvalidTile))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newUpstream(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestProxy_FetchCaches(t *testing.T) {
	var calls atomic.Int64
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "gridmap-test", r.Header.Get("User-Agent"))
		_, _ = fmt.Fprintf(w, "tile:%s", r.URL.Path)
	})

	p := NewProxy(up.URL+"/{z}/{x}/{y}.png", NewCache(16, time.Hour), WithUserAgent("gridmap-test"))
	tile := maptile.New(3491, 1609, 12)

	data, err := p.Fetch(context.Background(), tile)
	require.NoError(t, err)
	assert.Equal(t, "tile:/12/3491/1609.png", string(data))

	_, err = p.Fetch(context.Background(), tile)
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(1), p.Upstream())
	assert.Equal(t, "image/png", p.ContentType())
}

func TestProxy_ConcurrentMissesShareRequest(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte("png"))
	})

	p := NewProxy(up.URL+"/{z}/{x}/{y}.png", NewCache(16, time.Hour))
	tile := maptile.New(1, 1, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := p.Fetch(context.Background(), tile)
			assert.NoError(t, err)
			assert.Equal(t, []byte("png"), data)
		}()
	}
	// Let every goroutine reach the shared request before answering.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	_, ok := p.cache.Get(tile)
	assert.True(t, ok)
}

func TestProxy_ServeHTTP(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/5/"):
			http.NotFound(w, r)
		case strings.HasPrefix(r.URL.Path, "/6/"):
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte("png"))
		}
	})
	p := NewProxy(up.URL+"/{z}/{x}/{y}.png", NewCache(16, time.Hour))
	srv := httptest.NewServer(http.StripPrefix("/tiles", p))
	defer srv.Close()

	tests := []struct {
		path   string
		status int
	}{
		{"/tiles/2/1/1.png", http.StatusOK},
		{"/tiles/5/1/1.png", http.StatusNotFound},
		{"/tiles/6/1/1.png", http.StatusBadGateway},
		{"/tiles/2/9/1.png", http.StatusBadRequest},
		{"/tiles/2/1.png", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close() //nolint:errcheck
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.status == http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				assert.Equal(t, "png", string(body))
				assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
			}
		})
	}
}

func TestProxy_BreakerOpens(t *testing.T) {
	var calls atomic.Int64
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	b := resilience.NewBreaker("basemap", resilience.NewConfig(2, time.Hour))
	p := NewProxy(up.URL+"/{z}/{x}/{y}.png", nil, WithBreaker(b))

	for i := 0; i < 2; i++ {
		_, err := p.Fetch(context.Background(), maptile.New(0, 0, 1))
		require.Error(t, err)
	}
	_, err := p.Fetch(context.Background(), maptile.New(0, 0, 1))
	assert.True(t, eris.Is(err, resilience.ErrOpen))
	assert.Equal(t, int64(2), calls.Load())
}

func TestProxy_Prefetch(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/3.png") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("png"))
	})
	cache := NewCache(64, time.Hour)
	p := NewProxy(up.URL+"/{z}/{x}/{y}.png", cache)

	tiles := []maptile.Tile{
		maptile.New(0, 0, 2), maptile.New(1, 0, 2), maptile.New(0, 1, 2), maptile.New(0, 3, 2),
	}
	n, err := p.Prefetch(context.Background(), tiles, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, cache.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Prefetch(ctx, []maptile.Tile{maptile.New(2, 2, 2)}, 1)
	assert.Error(t, err)
}
