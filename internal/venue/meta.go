// meta.go fetches venue instrument metadata over REST.
//
// Adapters mostly need nothing beyond the socket, with one exception:
// Lighter keys its WebSocket channels by numeric order-book id, so the
// symbol mapping must be resolved out of band and kept fresh. The metadata
// is also used at startup to warn about configured symbols a venue does not
// list.
package venue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Instrument is one listed market on a venue.
type Instrument struct {
	Symbol        string `json:"symbol"`
	MarketID      int    `json:"market_id"` // Lighter order-book id; 0 elsewhere
	PriceDecimals int    `json:"price_decimals"`
	SizeDecimals  int    `json:"size_decimals"`
}

// MetaClient fetches instrument metadata for one venue REST endpoint.
type MetaClient struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewMetaClient builds a client for the venue's REST base URL.
func NewMetaClient(baseURL string, logger *slog.Logger) *MetaClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &MetaClient{
		http:   client,
		logger: logger.With("component", "venue_meta"),
	}
}

// Instruments fetches the venue's listed markets.
func (c *MetaClient) Instruments(ctx context.Context) ([]Instrument, error) {
	var out struct {
		Markets []Instrument `json:"markets"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("fetch instruments: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch instruments: status %d", resp.StatusCode())
	}
	return out.Markets, nil
}

// Refresher keeps a Lighter MarketMap current by polling the metadata
// endpoint. Run blocks until ctx is cancelled; the first fetch happens
// immediately so subscriptions can resolve at startup.
type Refresher struct {
	client   *MetaClient
	markets  *MarketMap
	interval time.Duration
	logger   *slog.Logger
}

// NewRefresher builds a metadata refresher for the given map.
func NewRefresher(client *MetaClient, markets *MarketMap, interval time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Refresher{
		client:   client,
		markets:  markets,
		interval: interval,
		logger:   logger.With("component", "meta_refresher"),
	}
}

// Run polls until ctx is cancelled. Fetch failures keep the previous map.
func (r *Refresher) Run(ctx context.Context) {
	r.refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	instruments, err := r.client.Instruments(ctx)
	if err != nil {
		r.logger.Warn("metadata refresh failed, keeping previous map", "error", err)
		return
	}
	bySymbol := make(map[string]int, len(instruments))
	for _, inst := range instruments {
		bySymbol[inst.Symbol] = inst.MarketID
	}
	r.markets.Replace(bySymbol)
	r.logger.Debug("instrument metadata refreshed", "markets", len(instruments))
}
