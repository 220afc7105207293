package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gridmap/internal/basemap"
	"github.com/sells-group/gridmap/internal/config"
	"github.com/sells-group/gridmap/internal/dataset"
	"github.com/sells-group/gridmap/internal/detailsvc"
	"github.com/sells-group/gridmap/internal/grid"
	"github.com/sells-group/gridmap/internal/metrics"
	"github.com/sells-group/gridmap/internal/region"
	"github.com/sells-group/gridmap/internal/resilience"
	"github.com/sells-group/gridmap/internal/selection"
	"github.com/sells-group/gridmap/pkg/detail"
)

// loadGeometry reads the region boundaries and cell footprints.
func loadGeometry(c *config.Config) ([]region.Region, []region.Cell, error) {
	g := c.Geometry
	regions, err := region.ReadRegionsFile(g.Regions, region.FeatureOptions{
		IDProperty:   g.IDProperty,
		NameProperty: g.NameProperty,
		Charset:      g.Charset,
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "load regions")
	}
	cells, err := region.ReadCellsFile(g.Cells, region.FeatureOptions{IDProperty: g.CellIDProperty})
	if err != nil {
		return nil, nil, eris.Wrap(err, "load cells")
	}
	return regions, cells, nil
}

// startMembership reads geometry and builds the membership in the background.
func startMembership(ctx context.Context, c *config.Config) (*region.Pending, error) {
	regions, cells, err := loadGeometry(c)
	if err != nil {
		return nil, err
	}
	policy, err := region.ParseOverlapPolicy(c.Geometry.OverlapPolicy)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	pending := region.BuildAsync(ctx, regions, cells,
		region.WithOverlapPolicy(policy),
		region.WithWorkers(c.Geometry.Workers),
	)
	return pending.Then(func(m *region.Membership) {
		elapsed := time.Since(start)
		metrics.RecordMembershipBuild(elapsed)
		s := m.Stats()
		zap.L().Info("membership ready",
			zap.Int("regions", s.Regions),
			zap.Int("cells", s.Cells),
			zap.Int("assigned", s.Assigned),
			zap.Int("unassigned", s.Unassigned),
			zap.Duration("elapsed", elapsed),
		)
	}), nil
}

// openCatalog loads the period manifest.
func openCatalog(c *config.Config) (*dataset.Catalog, error) {
	cat, err := dataset.LoadManifest(c.Dataset.Manifest)
	if err != nil {
		return nil, err
	}
	cat.SetDefaultCharset(c.Dataset.Charset)
	return cat, nil
}

// loadPeriod loads the named period, or the catalog default when name is
// empty.
func loadPeriod(ctx context.Context, cat *dataset.Catalog, idx grid.Index, name string) (string, *grid.Table, dataset.Stats, error) {
	if name == "" {
		name = cat.Default()
	}
	table, stats, err := cat.Load(ctx, idx, name)
	return name, table, stats, err
}

// detailBackend is the cell detail source plus, when served locally, the
// HTTP handler exposing it.
type detailBackend struct {
	Fetcher selection.Fetcher
	Client  detail.Client
	Handler http.Handler
	close   func() error
}

// Close releases the local store, if any.
func (b *detailBackend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// openDetail connects to the configured detail service. With detail.local_data
// set, records are loaded into a local store (SQLite, or PostgreSQL for a
// postgres:// local_dsn) and queried directly.
func openDetail(ctx context.Context, c *config.Config) (*detailBackend, error) {
	d := c.Detail
	if d.LocalData == "" {
		client := detail.NewClient(d.URL,
			detail.WithHTTPClient(&http.Client{Timeout: d.Timeout()}),
			detail.WithRateLimit(d.RateLimit),
			detail.WithBreaker(resilience.NewBreaker("detail", d.Breaker.Resilience())),
		)
		return &detailBackend{Fetcher: selection.ClientFetcher(client), Client: client}, nil
	}

	store, err := detailsvc.OpenBackend(ctx, d.LocalDSN)
	if err != nil {
		return nil, err
	}
	n, err := store.LoadFile(ctx, d.LocalData)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	zap.L().Info("local detail store loaded", zap.String("path", d.LocalData), zap.Int("records", n))

	return &detailBackend{
		Fetcher: storeFetcher(store),
		Client:  storeClient{store},
		Handler: detailsvc.NewHandler(store).Routes(),
		close:   store.Close,
	}, nil
}

// storeFetcher answers detail requests from a local store.
func storeFetcher(f detailsvc.Finder) selection.Fetcher {
	c := storeClient{f}
	return selection.FetcherFunc(func(ctx context.Context, at grid.Coord) (*detail.Record, error) {
		return c.Cell(ctx, at.Lon, at.Lat)
	})
}

// storeClient adapts a Finder to detail.Client.
type storeClient struct {
	f detailsvc.Finder
}

func (s storeClient) Cell(ctx context.Context, lon, lat float64) (*detail.Record, error) {
	recs, err := s.f.Near(ctx, lon, lat)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, eris.Wrapf(detail.ErrNotFound, "no cell at %v,%v", lon, lat)
	}
	return &recs[0], nil
}

func (s storeClient) Area(ctx context.Context, lon, lat float64) (*detail.Area, error) {
	rec, err := s.Cell(ctx, lon, lat)
	if err != nil {
		return nil, err
	}
	return &rec.Area, nil
}

// newTileProxy builds the basemap proxy, or nil when disabled.
func newTileProxy(c *config.Config) *basemap.Proxy {
	b := c.Basemap
	if !b.Enabled {
		return nil
	}
	return basemap.NewProxy(b.URL, basemap.NewCache(b.CacheEntries, b.CacheTTL()),
		basemap.WithUserAgent(b.UserAgent),
		basemap.WithBreaker(resilience.NewBreaker("basemap", b.Breaker.Resilience())),
	)
}
