package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/synapseshield/shield/internal/app/scoring"
	"github.com/synapseshield/shield/internal/domain"
	"github.com/synapseshield/shield/internal/infra/dataset"
	"github.com/synapseshield/shield/internal/infra/twin"
)

const defaultHistoryLimit = 50

// rowsRequest carries telemetry rows as loosely typed records. Only the
// canonical feature columns are read.
type rowsRequest struct {
	Rows      []map[string]any `json:"rows"`
	Threshold *float64         `json:"threshold,omitempty"`
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty: %w", domain.ErrMalformedTelemetry)
		}
		return fmt.Errorf("invalid JSON: %v: %w", err, domain.ErrMalformedTelemetry)
	}
	return nil
}

// ─── Health & Status ────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	checks := s.checker.RunOnce(r.Context())
	status := "ok"
	for _, c := range checks {
		if !c.Healthy {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "checks": checks})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"service": s.svc.Status(r.Context())}
	if s.listener != nil {
		resp["listener"] = s.listener.Status()
	}
	if s.history != nil {
		if total, anomalies, err := s.history.ScoreStats(); err == nil {
			resp["scores"] = map[string]int64{"total": total, "anomalies": anomalies}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Training & Scoring ─────────────────────────────────────────────────────

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req rowsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if len(req.Rows) == 0 {
		writeError(w, http.StatusBadRequest, "No rows provided")
		return
	}
	ds, err := dataset.FromRecords(req.Rows)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	res, err := s.svc.Train(r.Context(), ds)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "trained",
		"run":        res.Run,
		"final_loss": res.Run.FinalLoss,
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	point, err := scoring.ParseTelemetry(body)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	p, err := s.svc.Predict(r.Context(), point, scoring.SourceAPI)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req rowsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	ds, err := dataset.FromRecords(req.Rows)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	rep, err := s.svc.ScoreBatch(r.Context(), ds, req.Threshold, scoring.SourceAPI)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ─── Event Listener ─────────────────────────────────────────────────────────

func (s *Server) handleListenerStart(w http.ResponseWriter, r *http.Request) {
	if s.listener == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	if err := s.listener.Start(s.baseCtx); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "listener_started"})
}

func (s *Server) handleListenerStop(w http.ResponseWriter, r *http.Request) {
	if s.listener == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	s.listener.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "listener_stopped"})
}

func (s *Server) handleListenerStatus(w http.ResponseWriter, r *http.Request) {
	if s.listener == nil {
		writeJSON(w, http.StatusOK, map[string]any{"configured": false})
		return
	}
	writeJSON(w, http.StatusOK, s.listener.Status())
}

// ─── Digital Twins ──────────────────────────────────────────────────────────

func (s *Server) handleTwins(w http.ResponseWriter, r *http.Request) {
	if s.twins == nil {
		s.writeErr(w, r, domain.ErrTwinNotConfigured)
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		q = twin.DefaultQuery
	}
	items, err := s.twins.Query(r.Context(), q)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if items == nil {
		items = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "items": items})
}

// ─── Score History ──────────────────────────────────────────────────────────

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return n, nil
}

func (s *Server) handleDeviceScores(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "score history not configured")
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	recs, err := s.history.DeviceScores(id, limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if recs == nil {
		recs = []domain.ScoreRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "scores": recs})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "score history not configured")
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := s.history.RecentAnomalies(limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if recs == nil {
		recs = []domain.ScoreRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": recs})
}
