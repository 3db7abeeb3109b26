package drivetime

import (
	"context"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"github.com/talentbruecke/matchengine/internal/observability"
)

// Travel modes passed to the matrix API.
const (
	ModeDriving = "driving"
	ModeTransit = "transit"
)

// Element is one per-destination answer from the matrix API.
type Element struct {
	DurationSec    int
	DistanceMeters int
	Status         string
}

// MatrixAPI is the external distance-matrix boundary. A nil departure means
// leave-now semantics.
type MatrixAPI interface {
	Route(ctx context.Context, origin orb.Point, dests []orb.Point, mode string, departure *time.Time) ([]Element, error)
}

// BatchCandidate is one destination of a batch lookup.
type BatchCandidate struct {
	ID    string
	Point orb.Point
	PLZ   string
}

const (
	// chunkSize bounds destinations per API call.
	chunkSize = 25
	// chunkPause rate-limits between chunks.
	chunkPause = 100 * time.Millisecond
)

// samePLZResult is the constant short-circuit for identical postal codes.
var samePLZResult = Result{CarMin: 5, TransitMin: 10, CarKM: 2.0, Status: StatusSamePLZ}

// Service resolves drive times with caching and batching. A Service with no
// API credential answers every request with StatusNoAPIKey and never touches
// the cache or the network.
type Service struct {
	api      MatrixAPI
	cache    Cache
	disabled bool

	scalarTimeout time.Duration
	batchTimeout  time.Duration

	// sleep is swapped in tests to avoid real pauses.
	sleep func(time.Duration)
}

// Option configures a Service.
type Option func(*Service)

// WithTimeouts overrides the scalar and batch call timeouts.
func WithTimeouts(scalar, batch time.Duration) Option {
	return func(s *Service) {
		s.scalarTimeout = scalar
		s.batchTimeout = batch
	}
}

// WithSleep replaces the inter-chunk pause, for tests.
func WithSleep(fn func(time.Duration)) Option {
	return func(s *Service) { s.sleep = fn }
}

// New constructs a Service. Pass disabled=true when no API credential is
// configured.
func New(api MatrixAPI, cache Cache, disabled bool, opts ...Option) *Service {
	s := &Service{
		api:           api,
		cache:         cache,
		disabled:      disabled,
		scalarTimeout: 10 * time.Second,
		batchTimeout:  30 * time.Second,
		sleep:         time.Sleep,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// transitDeparture returns now + 1 day: a deterministic reference weekday
// so transit routing does not fall into weekend service gaps.
func transitDeparture() time.Time {
	return time.Now().Add(24 * time.Hour)
}

// GetDriveTime resolves one origin/destination leg.
func (s *Service) GetDriveTime(ctx context.Context, origin orb.Point, originPLZ string, dest orb.Point, destPLZ string) Result {
	if s.disabled {
		observability.DriveTimeRequestsTotal.WithLabelValues(string(StatusNoAPIKey)).Inc()
		return Result{Status: StatusNoAPIKey}
	}
	if originPLZ != "" && originPLZ == destPLZ {
		observability.DriveTimeRequestsTotal.WithLabelValues(string(StatusSamePLZ)).Inc()
		return samePLZResult
	}
	if originPLZ != "" && destPLZ != "" {
		if r, ok := s.cache.Get(ctx, originPLZ, destPLZ); ok {
			observability.DriveTimeRequestsTotal.WithLabelValues("cache_hit").Inc()
			return r
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.scalarTimeout)
	defer cancel()

	r := s.resolve(ctx, origin, []orb.Point{dest})[0]
	observability.DriveTimeRequestsTotal.WithLabelValues(string(r.Status)).Inc()
	if r.Status == StatusOK && originPLZ != "" && destPLZ != "" {
		s.cache.Put(ctx, originPLZ, destPLZ, r)
	}
	return r
}

// BatchDriveTimes resolves many candidate destinations against one job
// origin, splitting API calls into chunks of 25 with a 100 ms pause between
// chunks. Per-destination failures do not poison the batch.
func (s *Service) BatchDriveTimes(ctx context.Context, jobPoint orb.Point, jobPLZ string, candidates []BatchCandidate) map[string]Result {
	out := make(map[string]Result, len(candidates))
	if s.disabled {
		for _, c := range candidates {
			out[c.ID] = Result{Status: StatusNoAPIKey}
		}
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, s.batchTimeout)
	defer cancel()

	var remaining []BatchCandidate
	for _, c := range candidates {
		switch {
		case jobPLZ != "" && c.PLZ == jobPLZ:
			out[c.ID] = samePLZResult
		case jobPLZ != "" && c.PLZ != "":
			if r, ok := s.cache.Get(ctx, jobPLZ, c.PLZ); ok {
				out[c.ID] = r
			} else {
				remaining = append(remaining, c)
			}
		default:
			remaining = append(remaining, c)
		}
	}

	for start := 0; start < len(remaining); start += chunkSize {
		end := start + chunkSize
		if end > len(remaining) {
			end = len(remaining)
		}
		chunk := remaining[start:end]
		if start > 0 {
			s.sleep(chunkPause)
		}
		dests := make([]orb.Point, len(chunk))
		for i, c := range chunk {
			dests[i] = c.Point
		}
		results := s.resolve(ctx, jobPoint, dests)
		for i, c := range chunk {
			r := results[i]
			out[c.ID] = r
			observability.DriveTimeRequestsTotal.WithLabelValues(string(r.Status)).Inc()
			if r.Status == StatusOK && jobPLZ != "" && c.PLZ != "" {
				s.cache.Put(ctx, jobPLZ, c.PLZ, r)
			}
		}
	}
	return out
}

// resolve issues the two per-mode API calls for one destination set and
// merges the elements. Failures mark affected destinations api_error.
func (s *Service) resolve(ctx context.Context, origin orb.Point, dests []orb.Point) []Result {
	out := make([]Result, len(dests))

	driving, errDrive := s.api.Route(ctx, origin, dests, ModeDriving, nil)
	dep := transitDeparture()
	transit, errTransit := s.api.Route(ctx, origin, dests, ModeTransit, &dep)
	if errDrive != nil {
		slog.Warn("distance matrix driving call failed", slog.Any("error", errDrive))
	}
	if errTransit != nil {
		slog.Warn("distance matrix transit call failed", slog.Any("error", errTransit))
	}

	for i := range dests {
		r := Result{Status: StatusAPIError}
		if errDrive == nil && i < len(driving) && driving[i].Status == "OK" {
			r.CarMin = (driving[i].DurationSec + 30) / 60
			r.CarKM = float64(driving[i].DistanceMeters) / 1000.0
			r.Status = StatusOK
		}
		if errTransit == nil && i < len(transit) && transit[i].Status == "OK" {
			r.TransitMin = (transit[i].DurationSec + 30) / 60
		} else if r.Status == StatusOK {
			// Car leg resolved but transit did not: keep the result,
			// transit stays zero.
			slog.Debug("transit leg unresolved", slog.Int("index", i))
		}
		out[i] = r
	}
	return out
}
