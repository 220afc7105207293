package basemap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/gridmap/internal/metrics"
	"github.com/sells-group/gridmap/internal/resilience"
)

const serviceName = "basemap"

// DefaultURL is the OpenStreetMap standard tile layer.
const DefaultURL = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"

// MaxZoom is the deepest zoom served.
const MaxZoom = 19

// ErrInvalidTile is returned for a tile outside the pyramid.
var ErrInvalidTile = eris.New("basemap: invalid tile")

// Option configures a Proxy.
type Option func(*Proxy)

// WithHTTPClient sets the upstream HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Proxy) { p.client = hc }
}

// WithBreaker guards upstream calls with b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(p *Proxy) { p.breaker = b }
}

// WithUserAgent sets the User-Agent sent upstream.
func WithUserAgent(ua string) Option {
	return func(p *Proxy) { p.userAgent = ua }
}

// Proxy fetches tiles from an upstream server through a Cache. Concurrent
// misses for the same tile share one upstream request.
type Proxy struct {
	template  string
	client    *http.Client
	cache     *Cache
	breaker   *resilience.Breaker
	userAgent string
	group     singleflight.Group
	upstream  atomic.Int64
}

// NewProxy returns a Proxy for an upstream URL template containing {z},
// {x} and {y} placeholders.
func NewProxy(template string, cache *Cache, opts ...Option) *Proxy {
	if template == "" {
		template = DefaultURL
	}
	p := &Proxy{
		template:  template,
		client:    &http.Client{Timeout: 30 * time.Second},
		cache:     cache,
		userAgent: "gridmap/1.0",
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.breaker == nil {
		p.breaker = resilience.NewBreaker(serviceName, resilience.Config{})
	}
	return p
}

// URL expands the template for t.
func (p *Proxy) URL(t maptile.Tile) string {
	return strings.NewReplacer(
		"{z}", strconv.FormatUint(uint64(t.Z), 10),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
	).Replace(p.template)
}

// ContentType returns the MIME type implied by the template's extension.
func (p *Proxy) ContentType() string {
	switch {
	case strings.HasSuffix(p.template, ".png"):
		return "image/png"
	case strings.HasSuffix(p.template, ".jpg"), strings.HasSuffix(p.template, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(p.template, ".webp"):
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// Upstream returns how many upstream requests were made.
func (p *Proxy) Upstream() int64 {
	return p.upstream.Load()
}

// Fetch returns a tile from the cache or the upstream server.
func (p *Proxy) Fetch(ctx context.Context, t maptile.Tile) ([]byte, error) {
	if !Valid(t) {
		return nil, eris.Wrapf(ErrInvalidTile, "basemap: tile %d/%d/%d", t.Z, t.X, t.Y)
	}
	if p.cache != nil {
		if data, ok := p.cache.Get(t); ok {
			metrics.RecordTileCache(true)
			return data, nil
		}
		metrics.RecordTileCache(false)
	}

	key := fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
	v, err, _ := p.group.Do(key, func() (any, error) {
		data, err := resilience.Call(ctx, p.breaker, func(ctx context.Context) ([]byte, error) {
			return p.get(ctx, t)
		})
		if err != nil {
			return nil, err
		}
		if p.cache != nil {
			p.cache.Put(t, data)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (p *Proxy) get(ctx context.Context, t maptile.Tile) ([]byte, error) {
	url := p.URL(t)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "basemap: create request")
	}
	req.Header.Set("User-Agent", p.userAgent)

	p.upstream.Add(1)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "basemap: fetch tile")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.NewUpstreamError(serviceName, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "basemap: read tile body")
	}
	zap.L().Debug("basemap: fetched tile", zap.String("url", url), zap.Int("bytes", len(data)))
	return data, nil
}

// Prefetch warms the cache with tiles using at most workers concurrent
// fetches. Failures are logged and skipped; the count of tiles now cached
// is returned.
func (p *Proxy) Prefetch(ctx context.Context, tiles []maptile.Tile, workers int) (int, error) {
	if workers < 1 {
		workers = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var ok atomic.Int64
	for _, t := range tiles {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if _, err := p.Fetch(gctx, t); err != nil {
				zap.L().Debug("basemap: prefetch failed", zap.Uint32("z", uint32(t.Z)), zap.Uint32("x", t.X), zap.Uint32("y", t.Y), zap.Error(err))
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(ok.Load()), eris.Wrap(err, "basemap: prefetch")
	}
	return int(ok.Load()), nil
}

// Valid reports whether t lies inside the tile pyramid.
func Valid(t maptile.Tile) bool {
	if t.Z > MaxZoom {
		return false
	}
	n := uint32(1) << uint32(t.Z)
	return t.X < n && t.Y < n
}

// ParseTile reads z, x and y path segments; y may carry a file extension.
func ParseTile(z, x, y string) (maptile.Tile, error) {
	if i := strings.IndexByte(y, '.'); i >= 0 {
		y = y[:i]
	}
	zv, err := strconv.ParseUint(z, 10, 32)
	if err != nil {
		return maptile.Tile{}, eris.Wrapf(ErrInvalidTile, "basemap: zoom %q", z)
	}
	xv, err := strconv.ParseUint(x, 10, 32)
	if err != nil {
		return maptile.Tile{}, eris.Wrapf(ErrInvalidTile, "basemap: x %q", x)
	}
	yv, err := strconv.ParseUint(y, 10, 32)
	if err != nil {
		return maptile.Tile{}, eris.Wrapf(ErrInvalidTile, "basemap: y %q", y)
	}
	t := maptile.New(uint32(xv), uint32(yv), maptile.Zoom(zv))
	if !Valid(t) {
		return t, eris.Wrapf(ErrInvalidTile, "basemap: tile %d/%d/%d", zv, xv, yv)
	}
	return t, nil
}

// ServeHTTP serves /{z}/{x}/{y}.{ext}.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		http.Error(w, "invalid tile path", http.StatusBadRequest)
		return
	}
	t, err := ParseTile(parts[0], parts[1], parts[2])
	if err != nil {
		http.Error(w, "invalid tile path", http.StatusBadRequest)
		return
	}
	p.serveTile(w, r, t)
}

func (p *Proxy) serveTile(w http.ResponseWriter, r *http.Request, t maptile.Tile) {
	data, err := p.Fetch(r.Context(), t)
	if err != nil {
		switch {
		case eris.Is(err, resilience.ErrOpen):
			http.Error(w, "basemap upstream unavailable", http.StatusServiceUnavailable)
		case resilience.StatusCode(err) == http.StatusNotFound:
			http.Error(w, "tile not found", http.StatusNotFound)
		default:
			zap.L().Error("basemap tile fetch failed", zap.Error(err))
			http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		}
		return
	}

	w.Header().Set("Content-Type", p.ContentType())
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(data)
}
