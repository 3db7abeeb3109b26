// Package maps implements the distance-matrix boundary against the Google
// Maps Distance Matrix API.
package maps

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/talentbruecke/matchengine/internal/domain"
	"github.com/talentbruecke/matchengine/internal/drivetime"
)

// Client calls the distance-matrix endpoint. It implements
// drivetime.MatrixAPI.
type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

// New constructs a Client. The HTTP timeout is left generous; callers bound
// individual requests via context.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: 60 * time.Second},
	}
}

func fmtPoint(p orb.Point) string {
	return strconv.FormatFloat(p.Lat(), 'f', 6, 64) + "," + strconv.FormatFloat(p.Lon(), 'f', 6, 64)
}

type matrixResponse struct {
	Status string `json:"status"`
	Rows   []struct {
		Elements []struct {
			Status   string `json:"status"`
			Duration struct {
				Value int `json:"value"`
			} `json:"duration"`
			Distance struct {
				Value int `json:"value"`
			} `json:"distance"`
		} `json:"elements"`
	} `json:"rows"`
}

// Route issues one distance-matrix call: a single origin against up to 25
// pipe-separated destinations in the given mode.
func (c *Client) Route(ctx domain.Context, origin orb.Point, dests []orb.Point, mode string, departure *time.Time) ([]drivetime.Element, error) {
	if len(dests) == 0 {
		return nil, nil
	}
	parts := make([]string, len(dests))
	for i, d := range dests {
		parts[i] = fmtPoint(d)
	}
	q := url.Values{}
	q.Set("origins", fmtPoint(origin))
	q.Set("destinations", strings.Join(parts, "|"))
	q.Set("mode", mode)
	q.Set("language", "de")
	q.Set("key", c.apiKey)
	if departure != nil {
		q.Set("departure_time", strconv.FormatInt(departure.Unix(), 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/distancematrix/json?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("op=maps.route: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=maps.route: %w", domain.ErrUpstreamTimeout)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("op=maps.route status=%d: %w", resp.StatusCode, domain.ErrUpstreamProtocol)
	}
	var out matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("op=maps.route: %w", domain.ErrUpstreamProtocol)
	}
	switch out.Status {
	case "OK":
	case "OVER_QUERY_LIMIT":
		// The caller neither retries nor caches rate-limited answers.
		return nil, fmt.Errorf("op=maps.route: %w", domain.ErrUpstreamRateLimit)
	default:
		return nil, fmt.Errorf("op=maps.route status=%s: %w", out.Status, domain.ErrUpstreamProtocol)
	}
	if len(out.Rows) == 0 {
		return nil, fmt.Errorf("op=maps.route: empty rows: %w", domain.ErrUpstreamProtocol)
	}
	els := out.Rows[0].Elements
	res := make([]drivetime.Element, len(els))
	for i, e := range els {
		res[i] = drivetime.Element{
			Status:         e.Status,
			DurationSec:    e.Duration.Value,
			DistanceMeters: e.Distance.Value,
		}
	}
	return res, nil
}
