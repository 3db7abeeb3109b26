package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"

	"github.com/talentbruecke/matchengine/internal/config"
	"github.com/talentbruecke/matchengine/internal/domain"
	"github.com/talentbruecke/matchengine/internal/drivetime"
	"github.com/talentbruecke/matchengine/internal/learning"
	"github.com/talentbruecke/matchengine/internal/pipeline"
)

// Server bundles the handlers with their collaborators.
type Server struct {
	cfg        config.Config
	structured *pipeline.Structured
	llmGate    *pipeline.LLMGate
	geoRole    *pipeline.GeoRole
	orch       *pipeline.Orchestrator
	registry   *pipeline.Registry
	learning   *learning.Service
	matches    domain.MatchRepository
	drive      *drivetime.Service
	dbCheck    func(context.Context) error
}

// NewServer constructs the HTTP server facade.
func NewServer(cfg config.Config, structured *pipeline.Structured, llmGate *pipeline.LLMGate, geoRole *pipeline.GeoRole, orch *pipeline.Orchestrator, registry *pipeline.Registry, learn *learning.Service, matches domain.MatchRepository, drive *drivetime.Service, dbCheck func(context.Context) error) *Server {
	return &Server{
		cfg:        cfg,
		structured: structured,
		llmGate:    llmGate,
		geoRole:    geoRole,
		orch:       orch,
		registry:   registry,
		learning:   learn,
		matches:    matches,
		drive:      drive,
		dbCheck:    dbCheck,
	}
}

type batchRequest struct {
	JobIDs []string `json:"job_ids"`
}

// StructuredBatchHandler launches a structured batch in the background.
func (s *Server) StructuredBatchHandler() http.HandlerFunc {
	return s.batchLauncher(pipeline.KindStructured, func(ctx context.Context, jobIDs []string) error {
		_, err := s.structured.RunBatch(ctx, jobIDs)
		return err
	})
}

// LLMBatchHandler launches a deep-evaluation batch in the background.
func (s *Server) LLMBatchHandler() http.HandlerFunc {
	return s.batchLauncher(pipeline.KindLLMGate, func(ctx context.Context, jobIDs []string) error {
		_, err := s.llmGate.RunBatch(ctx, jobIDs)
		return err
	})
}

// batchLauncher is the shared accept-and-detach shape of the two batch
// pipelines. The single-run guard inside RunBatch stays authoritative; the
// Running check here only gives callers an early 409 with the live snapshot.
func (s *Server) batchLauncher(kind pipeline.Kind, run func(context.Context, []string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if s.registry.Running(kind) {
			writeError(w, r, fmt.Errorf("op=http.batch kind=%s: %w", kind, domain.ErrAlreadyRunning), s.registry.Snapshot(kind))
			return
		}
		go func() {
			if err := run(context.Background(), req.JobIDs); err != nil {
				slog.Error("batch run failed", slog.String("kind", string(kind)), slog.Any("error", err))
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "kind": kind})
	}
}

// PipelineStatusHandler serves the latest snapshot of one pipeline kind.
func (s *Server) PipelineStatusHandler(kind pipeline.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.registry.Snapshot(kind))
	}
}

// StructuredJobHandler scores one job synchronously.
func (s *Server) StructuredJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if v := ValidateEntityID("job_id", id); !v.Valid {
			writeError(w, r, domain.ErrInvalidArgument, v.Errors)
			return
		}
		res, err := s.structured.RunForJob(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// LLMJobHandler deep-evaluates the gate-approved candidates of one job.
func (s *Server) LLMJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if v := ValidateEntityID("job_id", id); !v.Valid {
			writeError(w, r, domain.ErrInvalidArgument, v.Errors)
			return
		}
		res, err := s.llmGate.RunForJob(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// LLMCandidateHandler runs the reverse mode for one candidate.
func (s *Server) LLMCandidateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if v := ValidateEntityID("candidate_id", id); !v.Valid {
			writeError(w, r, domain.ErrInvalidArgument, v.Errors)
			return
		}
		res, err := s.llmGate.RunForCandidate(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GeoRoleStartHandler launches the geo+role runner. The run detaches from
// the request context so it survives the response.
func (s *Server) GeoRoleStartHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.geoRole.Start(context.Background()); err != nil {
			writeError(w, r, err, s.geoRole.Status())
			return
		}
		writeJSON(w, http.StatusAccepted, s.geoRole.Status())
	}
}

// GeoRoleStatusHandler serves the runner's live snapshot.
func (s *Server) GeoRoleStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.geoRole.Status())
	}
}

// GeoRoleControlHandler maps the control verbs onto the runner.
func (s *Server) GeoRoleControlHandler(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch action {
		case "stop":
			s.geoRole.Stop()
		case "continue":
			s.geoRole.Continue()
		case "pause":
			s.geoRole.RequestPause()
		case "resume":
			s.geoRole.ResumeMode()
		default:
			writeError(w, r, fmt.Errorf("op=http.georole action=%s: %w", action, domain.ErrInvalidArgument), nil)
			return
		}
		writeJSON(w, http.StatusOK, s.geoRole.Status())
	}
}

// OrchestratorRunHandler runs the six maintenance steps synchronously and
// returns the aggregate report.
func (s *Server) OrchestratorRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := s.orch.Run(r.Context())
		if err != nil {
			writeError(w, r, err, s.registry.Snapshot(pipeline.KindOrchestrator))
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// MatchHandler serves one persisted match.
func (s *Server) MatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if v := ValidateEntityID("match_id", id); !v.Valid {
			writeError(w, r, domain.ErrInvalidArgument, v.Errors)
			return
		}
		m, err := s.matches.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, matchResponse(m))
	}
}

type feedbackRequest struct {
	Feedback        string `json:"feedback" validate:"required"`
	Note            string `json:"note" validate:"max=2000"`
	RejectionReason string `json:"rejection_reason" validate:"max=500"`
	JobCategory     string `json:"job_category" validate:"max=100"`
	Source          string `json:"source" validate:"max=100"`
}

// FeedbackHandler records recruiter feedback on a match and triggers the
// weight-learning path.
func (s *Server) FeedbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if v := ValidateEntityID("match_id", id); !v.Valid {
			writeError(w, r, domain.ErrInvalidArgument, v.Errors)
			return
		}
		var req feedbackRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if v := ValidateStruct(req); !v.Valid {
			writeError(w, r, domain.ErrInvalidArgument, v.Errors)
			return
		}
		if v := ValidateFeedback(req.Feedback); !v.Valid {
			writeError(w, r, domain.ErrInvalidArgument, v.Errors)
			return
		}
		res, err := s.learning.RecordFeedback(r.Context(), learning.FeedbackInput{
			MatchID:         id,
			Feedback:        req.Feedback,
			Note:            req.Note,
			RejectionReason: req.RejectionReason,
			JobCategory:     req.JobCategory,
			Source:          req.Source,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// LearningStatsHandler serves the compact learning statistics.
func (s *Server) LearningStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.learning.Stats(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// LearningExtendedStatsHandler serves the extended statistics.
func (s *Server) LearningExtendedStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.learning.ExtendedStats(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// WeightsResetHandler restores every weight selector to the defaults.
func (s *Server) WeightsResetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.learning.ResetWeights(r.Context()); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "reset"})
	}
}

// DriveTimeHandler resolves one origin/destination leg on demand.
func (s *Server) DriveTimeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		origin, err := parsePoint(q.Get("from_lat"), q.Get("from_lon"))
		if err != nil {
			writeError(w, r, fmt.Errorf("op=http.drivetime from: %w", domain.ErrInvalidArgument), nil)
			return
		}
		dest, err := parsePoint(q.Get("to_lat"), q.Get("to_lon"))
		if err != nil {
			writeError(w, r, fmt.Errorf("op=http.drivetime to: %w", domain.ErrInvalidArgument), nil)
			return
		}
		res := s.drive.GetDriveTime(r.Context(), origin, q.Get("from_plz"), dest, q.Get("to_plz"))
		writeJSON(w, http.StatusOK, res)
	}
}

// HealthzHandler is the liveness probe.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

// ReadyzHandler is the readiness probe: the store must answer.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.dbCheck != nil {
			if err := s.dbCheck(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "reason": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("op=http.decode: %v: %w", err, domain.ErrInvalidArgument)
	}
	return nil
}

func parsePoint(lat, lon string) (orb.Point, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return orb.Point{}, err
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{lo, la}, nil
}

// matchResponse flattens a match for the JSON surface.
func matchResponse(m domain.Match) map[string]any {
	out := map[string]any{
		"id":           m.ID,
		"job_id":       m.JobID,
		"candidate_id": m.CandidateID,
		"ai_score":     m.AIScore,
		"score":        m.Score,
		"breakdown":    m.Breakdown,
		"method":       m.Method,
		"status":       m.Status,
		"created_at":   m.CreatedAt,
	}
	if m.PreScore != nil {
		out["pre_score"] = *m.PreScore
	}
	if m.DistanceKM != nil {
		out["distance_km"] = *m.DistanceKM
	}
	if m.DriveCarMin != nil {
		out["drive_minutes_car"] = *m.DriveCarMin
	}
	if m.DriveTransitMin != nil {
		out["drive_minutes_transit"] = *m.DriveTransitMin
	}
	if m.AIExplanation != "" {
		out["ai_explanation"] = m.AIExplanation
		out["ai_strengths"] = m.AIStrengths
		out["ai_weaknesses"] = m.AIWeaknesses
		out["ai_recommendation"] = m.AIRecommendation
		out["wow_flag"] = m.WowFlag
		out["wow_reason"] = m.WowReason
	}
	if m.UserFeedback != "" {
		out["user_feedback"] = m.UserFeedback
		out["feedback_note"] = m.FeedbackNote
		out["rejection_reason"] = m.RejectionReason
	}
	if m.MatchedAt != nil {
		out["matched_at"] = m.MatchedAt
	}
	if m.AICheckedAt != nil {
		out["ai_checked_at"] = m.AICheckedAt
	}
	return out
}
