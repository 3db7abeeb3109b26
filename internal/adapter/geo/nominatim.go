// Package geo implements the geocoder boundary against a Nominatim-style
// search endpoint.
package geo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/paulmach/orb"

	"github.com/talentbruecke/matchengine/internal/domain"
)

// Client implements domain.Geocoder.
type Client struct {
	baseURL string
	hc      *http.Client
}

// New constructs a geocoder client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: 15 * time.Second},
	}
}

type searchResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Lookup resolves a free-text address to a WGS84 point. found=false means
// the address could not be resolved; that is not an error.
func (c *Client) Lookup(ctx domain.Context, address string) (orb.Point, bool, error) {
	if strings.TrimSpace(address) == "" {
		return orb.Point{}, false, nil
	}
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("countrycodes", "de,at,ch")

	var results []searchResult
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", "matchengine/1.0")
		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("op=geo.lookup: %w", domain.ErrUpstreamRateLimit)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("op=geo.lookup status=%d: %w", resp.StatusCode, domain.ErrUpstreamProtocol))
		}
		results = results[:0]
		if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
			return backoff.Permanent(fmt.Errorf("op=geo.lookup: %w", domain.ErrUpstreamProtocol))
		}
		return nil
	}
	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		return orb.Point{}, false, err
	}
	if len(results) == 0 {
		return orb.Point{}, false, nil
	}
	lat, err1 := strconv.ParseFloat(results[0].Lat, 64)
	lon, err2 := strconv.ParseFloat(results[0].Lon, 64)
	if err1 != nil || err2 != nil {
		return orb.Point{}, false, fmt.Errorf("op=geo.lookup: %w", domain.ErrUpstreamProtocol)
	}
	return orb.Point{lon, lat}, true, nil
}
