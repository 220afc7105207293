package detail

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/gridmap/internal/resilience"
)

const (
	// CellPath is the full-detail endpoint.
	CellPath = "get_xy/"
	// AreaPath is the naming-only endpoint.
	AreaPath = "dong_data/"

	serviceName = "detail"
)

var (
	// ErrUnavailable covers transport failures, non-2xx statuses and an open
	// circuit.
	ErrUnavailable = eris.New("detail: service unavailable")
	// ErrNotFound means the service has no record at the coordinate.
	ErrNotFound = eris.New("detail: no record at coordinate")
)

// Client looks up cell detail. A call is made once; callers decide what a
// failure means.
type Client interface {
	Cell(ctx context.Context, lon, lat float64) (*Record, error)
	Area(ctx context.Context, lon, lat float64) (*Area, error)
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBreaker guards calls with b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *client) {
		c.breaker = b
	}
}

type client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.Breaker
}

// NewClient returns a Client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewBreaker(serviceName, resilience.Config{})
	}
	return c
}

// Cell returns the first full record at lon, lat.
func (c *client) Cell(ctx context.Context, lon, lat float64) (*Record, error) {
	var resp Response[Record]
	if err := c.post(ctx, CellPath, NewQuery(lon, lat), &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "detail: empty data at %v,%v", lon, lat)
	}
	return &resp.Data[0], nil
}

// Area returns the first area naming at lon, lat.
func (c *client) Area(ctx context.Context, lon, lat float64) (*Area, error) {
	var resp Response[Area]
	if err := c.post(ctx, AreaPath, NewQuery(lon, lat), &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "detail: empty data at %v,%v", lon, lat)
	}
	return &resp.Data[0], nil
}

func (c *client) post(ctx context.Context, path string, q Query, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "detail: rate limit")
	}

	payload, err := json.Marshal(q)
	if err != nil {
		return eris.Wrap(err, "detail: encode query")
	}

	body, err := resilience.Call(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			return nil, resilience.NewUpstreamError(serviceName, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		switch {
		case resilience.StatusCode(err) == http.StatusNotFound:
			return eris.Wrapf(ErrNotFound, "detail: %s", path)
		case ctx.Err() != nil:
			return eris.Wrap(ctx.Err(), "detail: request cancelled")
		default:
			return eris.Wrapf(ErrUnavailable, "detail: %s: %v", path, err)
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(ErrUnavailable, "detail: parse response: %v", err)
	}
	return nil
}
