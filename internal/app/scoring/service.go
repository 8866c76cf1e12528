// Package scoring is the application service behind every entry point: it
// trains, scores batches and single readings, recommends actions and pushes
// anomalies to the digital twin store.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/synapseshield/shield/internal/app/autoencoder"
	"github.com/synapseshield/shield/internal/app/detector"
	"github.com/synapseshield/shield/internal/app/recommender"
	"github.com/synapseshield/shield/internal/app/scaler"
	"github.com/synapseshield/shield/internal/app/trainer"
	"github.com/synapseshield/shield/internal/domain"
	"github.com/synapseshield/shield/internal/infra/metrics"
)

// Score sources, used for metrics labels and history.
const (
	SourceAPI    = "api"
	SourceStream = "stream"
	SourceCLI    = "cli"
)

// Twin property paths written on anomaly.
const (
	PathLastAnomalyScore  = "/lastAnomalyScore"
	PathRecommendedAction = "/recommendedAction"
)

// Config tunes the service.
type Config struct {
	Train        trainer.Options
	StrictScaler bool
	// Threshold is applied when a call does not pass one. 0 derives the
	// threshold from each batch.
	Threshold float64
	Episodes  int
}

// Report is the outcome of scoring a batch.
type Report struct {
	Rows           []domain.ScoredRow    `json:"rows"`
	Threshold      float64               `json:"threshold_used"`
	Derived        bool                  `json:"threshold_derived"`
	Recommendation domain.Recommendation `json:"recommendation"`
}

// Prediction is the outcome of scoring one reading.
type Prediction struct {
	DeviceID          string        `json:"deviceId"`
	Score             float64       `json:"anomaly_score"`
	IsAnomaly         bool          `json:"is_anomaly"`
	Threshold         float64       `json:"threshold_used"`
	RecommendedAction domain.Action `json:"recommended_action"`
}

// Status summarizes the service state.
type Status struct {
	ModelLoaded bool                `json:"model_loaded"`
	InputDim    int                 `json:"input_dim,omitempty"`
	ScalerMode  string              `json:"scaler_mode"`
	Threshold   float64             `json:"configured_threshold"`
	LastRun     *domain.TrainingRun `json:"last_training_run,omitempty"`
}

// Service owns the cached model/scaler bundle and wires the core packages
// together.
type Service struct {
	cfg        Config
	artifacts  domain.ArtifactStore
	normalizer *scaler.Normalizer
	detector   *detector.Detector
	trainer    *trainer.Trainer
	sink       domain.TwinSink
	scores     domain.ScoreRecorder
	runs       domain.TrainingRecorder
	log        *zap.SugaredLogger

	trainMu sync.Mutex // one training run at a time

	mu      sync.RWMutex
	bundle  *detector.Bundle
	lastRun *domain.TrainingRun
}

// Option configures a Service.
type Option func(*Service)

// WithTwinSink sets where anomalies are pushed.
func WithTwinSink(s domain.TwinSink) Option {
	return func(svc *Service) { svc.sink = s }
}

// WithScoreRecorder sets where scored rows are recorded.
func WithScoreRecorder(r domain.ScoreRecorder) Option {
	return func(svc *Service) { svc.scores = r }
}

// WithTrainingRecorder sets where completed training runs are recorded.
func WithTrainingRecorder(r domain.TrainingRecorder) Option {
	return func(svc *Service) { svc.runs = r }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(svc *Service) { svc.log = l }
}

// New creates a Service over an artifact store.
func New(artifacts domain.ArtifactStore, cfg Config, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg,
		artifacts: artifacts,
		log:       zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mode := scaler.ModeLenient
	if cfg.StrictScaler {
		mode = scaler.ModeStrict
	}
	s.normalizer = scaler.NewNormalizer(scaler.NewStore(artifacts),
		scaler.WithMode(mode), scaler.WithLogger(s.log.Named("scaler")))
	s.detector = detector.New(s.normalizer)
	s.trainer = trainer.New(artifacts, s.log.Named("trainer"))
	return s
}

// Train trains a new model on ds with the configured options and swaps it in
// once persisted.
func (s *Service) Train(ctx context.Context, ds domain.Dataset) (*trainer.Result, error) {
	return s.TrainWith(ctx, ds, s.cfg.Train)
}

// TrainOptions returns the configured training options.
func (s *Service) TrainOptions() trainer.Options { return s.cfg.Train }

// TrainWith is Train with explicit options.
func (s *Service) TrainWith(ctx context.Context, ds domain.Dataset, opts trainer.Options) (*trainer.Result, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	res, err := s.trainer.Train(ctx, ds, opts)
	if err != nil {
		return nil, err
	}

	st := res.Scaler
	s.mu.Lock()
	s.bundle = &detector.Bundle{Model: res.Model, Scaler: &st, Generation: res.Run.ID}
	run := res.Run
	s.lastRun = &run
	s.mu.Unlock()

	if s.runs != nil {
		if err := s.runs.RecordTrainingRun(run); err != nil {
			s.log.Warnw("failed to record training run", "run", run.ID, "error", err)
		}
	}
	return res, nil
}

// Model returns the current model.
func (s *Service) Model(ctx context.Context) (*autoencoder.Model, error) {
	b, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return b.Model, nil
}

// current returns the cached bundle while the stored generation marker still
// matches it, and otherwise loads model and scaler afresh, together. Another
// process (shield train) may have replaced them.
func (s *Service) current(ctx context.Context) (*detector.Bundle, error) {
	gen, err := detector.Generation(ctx, s.artifacts)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	cached := s.bundle
	s.mu.RUnlock()
	if cached != nil && cached.Generation == gen {
		return cached, nil
	}

	loaded, err := detector.LoadBundle(ctx, s.artifacts, s.cfg.Train.Device)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.bundle = loaded
	s.mu.Unlock()
	if cached != nil {
		s.log.Infow("stored model changed, reloaded", "from", cached.Generation, "to", loaded.Generation)
	}
	return loaded, nil
}

// Reload drops the cached bundle so the next call reads it from storage.
func (s *Service) Reload() {
	s.mu.Lock()
	s.bundle = nil
	s.mu.Unlock()
}

func (s *Service) threshold(explicit *float64) *float64 {
	if explicit != nil {
		return explicit
	}
	if s.cfg.Threshold > 0 {
		t := s.cfg.Threshold
		return &t
	}
	return nil
}

// ScoreBatch scores ds, recommends an action and records every row.
func (s *Service) ScoreBatch(ctx context.Context, ds domain.Dataset, threshold *float64, source string) (*Report, error) {
	b, err := s.current(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := s.detector.Detect(ctx, b, ds, s.threshold(threshold))
	if err != nil {
		return nil, err
	}
	metrics.ScoreLatency.WithLabelValues(source).Observe(time.Since(start).Seconds())
	metrics.RowsScored.WithLabelValues(source).Add(float64(len(res.Rows)))
	metrics.LastThreshold.Set(res.Threshold)

	rec := recommender.New(recommender.WithEpisodes(s.cfg.Episodes)).Recommend(res.Rows)
	metrics.Recommendations.WithLabelValues(rec.Action.String()).Inc()

	anomalies := len(rec.HighRisk)
	if anomalies > 0 {
		metrics.AnomaliesDetected.WithLabelValues(source).Add(float64(anomalies))
		s.log.Infow("anomalies detected", "source", source, "count", anomalies,
			"devices", rec.HighRisk, "action", rec.Action.String(), "threshold", res.Threshold)
	}

	s.record(res, rec.Action, source)

	return &Report{
		Rows:           res.Rows,
		Threshold:      res.Threshold,
		Derived:        res.Derived,
		Recommendation: rec,
	}, nil
}

// Predict scores a single reading.
func (s *Service) Predict(ctx context.Context, t domain.Telemetry, source string) (*Prediction, error) {
	rep, err := s.ScoreBatch(ctx, domain.NewDataset(t), nil, source)
	if err != nil {
		return nil, err
	}
	row := rep.Rows[0]
	return &Prediction{
		DeviceID:          t.DeviceID,
		Score:             row.Score,
		IsAnomaly:         row.IsAnomaly,
		Threshold:         rep.Threshold,
		RecommendedAction: rep.Recommendation.Action,
	}, nil
}

// HandleEvent scores one raw stream event. Malformed events are dropped and
// twin write failures are logged; neither is returned as an error.
func (s *Service) HandleEvent(ctx context.Context, body []byte) error {
	t, err := ParseTelemetry(body)
	if err != nil {
		metrics.StreamEvents.WithLabelValues("malformed").Inc()
		s.log.Warnw("dropping malformed event", "error", err, "body", truncate(body, 256))
		return nil
	}

	p, err := s.Predict(ctx, t, SourceStream)
	if err != nil {
		metrics.StreamEvents.WithLabelValues("failed").Inc()
		return fmt.Errorf("score event: %w", err)
	}
	metrics.StreamEvents.WithLabelValues("scored").Inc()
	s.log.Debugw("event scored", "device", t.DeviceID, "score", p.Score,
		"threshold", p.Threshold, "anomaly", p.IsAnomaly)

	if !p.IsAnomaly {
		return nil
	}
	if t.DeviceID == "" {
		s.log.Warnw("anomalous event has no device id, twin not updated", "score", p.Score)
		return nil
	}
	s.pushToTwin(ctx, t.DeviceID, p)
	return nil
}

func (s *Service) pushToTwin(ctx context.Context, twinID string, p *Prediction) {
	if s.sink == nil {
		return
	}
	err := s.sink.SetProperty(ctx, twinID, PathLastAnomalyScore, p.Score)
	if err == nil {
		err = s.sink.SetProperty(ctx, twinID, PathRecommendedAction, p.RecommendedAction.String())
	}
	if err != nil {
		if errors.Is(err, domain.ErrTwinNotConfigured) {
			s.log.Debugw("twin endpoint not configured, skipping update", "twin", twinID)
			return
		}
		if errors.Is(err, domain.ErrTwinUnavailable) {
			metrics.TwinUpdates.WithLabelValues("skipped").Inc()
			s.log.Warnw("twin service unavailable, skipping update", "twin", twinID, "error", err)
			return
		}
		metrics.TwinUpdates.WithLabelValues("error").Inc()
		s.log.Errorw("failed to update twin", "twin", twinID, "error", err)
		return
	}
	metrics.TwinUpdates.WithLabelValues("ok").Inc()
}

func (s *Service) record(res *detector.Result, action domain.Action, source string) {
	if s.scores == nil {
		return
	}
	now := time.Now().UTC()
	for _, row := range res.Rows {
		rec := domain.ScoreRecord{
			ID:        uuid.New().String(),
			DeviceID:  row.ID,
			Score:     row.Score,
			Threshold: res.Threshold,
			IsAnomaly: row.IsAnomaly,
			Source:    source,
			CreatedAt: now,
		}
		if row.IsAnomaly {
			rec.RecommendedAction = action.String()
		}
		if err := s.scores.RecordScore(rec); err != nil {
			s.log.Warnw("failed to record score", "device", row.ID, "error", err)
		}
	}
}

// Status reports whether a model is available and what was last trained.
func (s *Service) Status(ctx context.Context) Status {
	st := Status{
		ScalerMode: s.normalizer.Mode().String(),
		Threshold:  s.cfg.Threshold,
	}
	if m, err := s.Model(ctx); err == nil {
		st.ModelLoaded = true
		st.InputDim = m.InputDim()
	}
	s.mu.RLock()
	st.LastRun = s.lastRun
	s.mu.RUnlock()
	return st
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
