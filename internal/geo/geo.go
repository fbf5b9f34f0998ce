// Package geo resolves a network origin to a best-effort location.
package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrSkipped is returned for addresses that are never looked up.
var ErrSkipped = errors.New("address not eligible for geolocation")

// Resolver looks up the location of an IP address.
type Resolver interface {
	Lookup(ctx context.Context, ip string) (*audit.Location, error)
}

// Noop never resolves anything.
type Noop struct{}

func (Noop) Lookup(context.Context, string) (*audit.Location, error) { return nil, nil }

// Eligible reports whether ip is a public, parsable address worth resolving.
func Eligible(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	return !(parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() ||
		parsed.IsLinkLocalUnicast() || parsed.IsMulticast())
}

// Config tunes the HTTP resolver.
type Config struct {
	Endpoint  string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

// HTTPResolver queries GET {endpoint}/{ip} and caches the answers.
// Calls go through a circuit breaker so an unhealthy provider is not hammered.
type HTTPResolver struct {
	endpoint string
	client   *http.Client
	cache    *expirable.LRU[string, *audit.Location]
	cb       *gobreaker.CircuitBreaker[*audit.Location]
	log      logger.Logger
}

type lookupResponse struct {
	Country   string  `json:"country"`
	Region    string  `json:"region"`
	City      string  `json:"city"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Timezone  string  `json:"timezone"`
}

// NewHTTPResolver builds a resolver for a JSON geolocation endpoint.
func NewHTTPResolver(cfg Config, log logger.Logger) *HTTPResolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if log == nil {
		log = logger.GetDefault()
	}

	r := &HTTPResolver{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client:   &http.Client{Timeout: cfg.Timeout},
		cache:    expirable.NewLRU[string, *audit.Location](cfg.CacheSize, nil, cfg.CacheTTL),
		log:      log.WithFields(logger.String("component", "geo")),
	}

	r.cb = gobreaker.NewCircuitBreaker[*audit.Location](gobreaker.Settings{
		Name:        "geo-lookup",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Warn("Geo lookup circuit state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})

	return r
}

// Lookup returns the cached or freshly fetched location of ip.
func (r *HTTPResolver) Lookup(ctx context.Context, ip string) (*audit.Location, error) {
	if !Eligible(ip) {
		metrics.GeoLookupsTotal.WithLabelValues("skipped").Inc()
		return nil, ErrSkipped
	}
	if loc, ok := r.cache.Get(ip); ok {
		metrics.GeoLookupsTotal.WithLabelValues("hit").Inc()
		return loc, nil
	}

	loc, err := r.cb.Execute(func() (*audit.Location, error) {
		return r.fetch(ctx, ip)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.GeoLookupsTotal.WithLabelValues("open").Inc()
		} else {
			metrics.GeoLookupsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	metrics.GeoLookupsTotal.WithLabelValues("miss").Inc()
	r.cache.Add(ip, loc)
	return loc, nil
}

func (r *HTTPResolver) fetch(ctx context.Context, ip string) (*audit.Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/"+ip, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geo lookup returned status %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode geo response: %w", err)
	}

	return &audit.Location{
		Country:   body.Country,
		Region:    body.Region,
		City:      body.City,
		Latitude:  body.Latitude,
		Longitude: body.Longitude,
		Timezone:  body.Timezone,
	}, nil
}
