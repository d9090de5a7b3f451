package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

const (
	// DefaultBaseURL is the MetService public radar endpoint for Christchurch at 300 km range.
	DefaultBaseURL = "https://www.metservice.com/publicData/rainRadar/image/Christchurch/300K/"

	maxTileBytes = 8 << 20
)

// MetServiceProvider downloads radar tiles from the MetService public data endpoint.
type MetServiceProvider struct {
	name      string
	userAgent string
	httpCfg   HTTPClientConfig
	circuit   *gobreaker.CircuitBreaker
}

func NewMetServiceProvider(client *http.Client, userAgent string) *MetServiceProvider {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "metservice",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &MetServiceProvider{
		name:      "metservice",
		userAgent: userAgent,
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
			MaxBodyBytes: maxTileBytes,
		},
		circuit: cb,
	}
}

func (p *MetServiceProvider) Name() string {
	return p.name
}

// Fetch downloads a single tile. The URL is used verbatim; the radar
// endpoint expects the literal "+13:00" offset in the path.
func (p *MetServiceProvider) Fetch(ctx context.Context, url string) ([]byte, error) {
	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "image/gif,image/*;q=0.8")
		if p.userAgent != "" {
			req.Header.Set("User-Agent", p.userAgent)
		}
		return req, nil
	}

	return doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
}
