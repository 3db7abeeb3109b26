package maps_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbruecke/matchengine/internal/adapter/maps"
	"github.com/talentbruecke/matchengine/internal/domain"
)

const matrixOK = `{
  "status": "OK",
  "rows": [{"elements": [
    {"status": "OK", "duration": {"value": 1260}, "distance": {"value": 17400}},
    {"status": "NOT_FOUND"}
  ]}]
}`

func TestClient_Route(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(matrixOK))
	}))
	defer srv.Close()

	c := maps.New(srv.URL, "test-key")
	dep := time.Now().Add(24 * time.Hour)
	els, err := c.Route(context.Background(), orb.Point{10.0, 53.55},
		[]orb.Point{{9.9, 53.6}, {10.1, 53.5}}, "transit", &dep)
	require.NoError(t, err)
	require.Len(t, els, 2)

	assert.Equal(t, "OK", els[0].Status)
	assert.Equal(t, 1260, els[0].DurationSec)
	assert.Equal(t, 17400, els[0].DistanceMeters)
	assert.Equal(t, "NOT_FOUND", els[1].Status)

	assert.Equal(t, "transit", gotQuery["mode"][0])
	assert.Equal(t, "test-key", gotQuery["key"][0])
	assert.NotEmpty(t, gotQuery["departure_time"][0])
	// Destinations are pipe-separated lat,lng.
	assert.Contains(t, gotQuery["destinations"][0], "|")
	// Origin is lat,lng order.
	assert.Contains(t, gotQuery["origins"][0], "53.55")
}

func TestClient_Route_OverQueryLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status": "OVER_QUERY_LIMIT", "rows": []}`))
	}))
	defer srv.Close()

	c := maps.New(srv.URL, "test-key")
	_, err := c.Route(context.Background(), orb.Point{10, 53}, []orb.Point{{9, 53}}, "driving", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamRateLimit)
}

func TestClient_Route_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	c := maps.New(srv.URL, "test-key")
	_, err := c.Route(context.Background(), orb.Point{10, 53}, []orb.Point{{9, 53}}, "driving", nil)
	assert.ErrorIs(t, err, domain.ErrUpstreamProtocol)
}
