package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/synapseshield/shield/internal/api"
	"github.com/synapseshield/shield/internal/app/autoencoder"
	"github.com/synapseshield/shield/internal/app/scoring"
	"github.com/synapseshield/shield/internal/app/trainer"
	"github.com/synapseshield/shield/internal/domain"
	"github.com/synapseshield/shield/internal/health"
	"github.com/synapseshield/shield/internal/infra/artifact"
	"github.com/synapseshield/shield/internal/infra/eventstream"
	"github.com/synapseshield/shield/internal/infra/logging"
	"github.com/synapseshield/shield/internal/infra/sqlite"
	"github.com/synapseshield/shield/internal/infra/twin"
)

// nodeIDKey is the node_info key holding the generated instance ID.
const nodeIDKey = "node_id"

// Daemon is the SynapseShield runtime. It wires together all services.
type Daemon struct {
	Config    Config
	NodeID    string
	Log       *zap.SugaredLogger
	DB        *sqlite.DB
	Artifacts domain.ArtifactStore
	Service   *scoring.Service
	Twins     *twin.Client
	Listener  *eventstream.Listener // nil without a stream URL
	Health    *health.Checker
	Server    *api.Server

	closers []func() error
	cancel  context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	// Open SQLite
	db, err := sqlite.Open(shieldHome())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	d := &Daemon{Config: cfg, Log: log, DB: db}

	d.NodeID, err = d.resolveNodeID()
	if err != nil {
		d.Close()
		return nil, err
	}
	log = log.With("node", d.NodeID)
	d.Log = log

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	store, recoverFn, err := d.openArtifacts(ctx)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	d.Artifacts = store

	// Digital twin client. Unconfigured clients report ErrTwinNotConfigured
	// on every call.
	d.Twins = twin.New(twin.Config{
		URL:        cfg.Twin.URL,
		Token:      cfg.Twin.Token,
		APIVersion: cfg.Twin.APIVersion,
		Timeout:    parseDuration(cfg.Twin.Timeout, 15*time.Second),
		Breaker: twin.BreakerConfig{
			FailureThreshold: cfg.Twin.BreakerFailures,
			ResetTimeout:     parseDuration(cfg.Twin.BreakerReset, 30*time.Second),
		},
	})

	d.Service = scoring.New(store, scoring.Config{
		Train: trainer.Options{
			Epochs:       cfg.Model.Epochs,
			LearningRate: cfg.Model.LearningRate,
			BatchSize:    cfg.Model.BatchSize,
			Seed:         cfg.Model.Seed,
			Device:       cfg.Model.Device,
		},
		StrictScaler: cfg.Model.StrictScaler,
		Threshold:    cfg.Model.Threshold,
		Episodes:     cfg.Recommender.Episodes,
	},
		scoring.WithTwinSink(d.Twins),
		scoring.WithScoreRecorder(db),
		scoring.WithTrainingRecorder(db),
		scoring.WithLogger(log.Named("scoring")),
	)

	if cfg.Stream.URL != "" {
		src, err := eventstream.NewWebSocketSource(eventstream.WebSocketConfig{
			URL:           cfg.Stream.URL,
			ConsumerGroup: cfg.Stream.ConsumerGroup,
			Token:         cfg.Stream.Token,
		}, log.Named("stream"))
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Listener = eventstream.NewListener(src, d.Service.HandleEvent, log.Named("listener"))
	}

	// Health checker
	checks := []health.Check{
		health.DatabaseCheck(db),
		health.StorageCheck(store, autoencoder.ArtifactKey, recoverFn),
		health.ModelCheck(store, autoencoder.ArtifactKey),
	}
	if d.Twins.Configured() {
		checks = append(checks, health.TwinCheck(d.Twins.Breaker()))
	}
	if cfg.Storage.Backend == BackendFile {
		checks = append(checks, health.DirCheck("artifact_dir", d.artifactDir()))
	}
	d.Health = health.NewChecker(log.Named("health"), checks...)
	d.Health.SetInterval(parseDuration(cfg.Telemetry.HealthInterval, health.DefaultInterval))

	// Initialize API server
	srv := api.NewServer(d.Service, log.Named("api"))
	srv.SetCORS(cfg.API.CORS)
	srv.SetTwins(d.Twins)
	srv.SetHistory(db)
	srv.SetHealth(d.Health)
	if d.Listener != nil {
		srv.SetListener(d.Listener)
	}

	// Enable Prometheus /metrics if configured
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	d.Server = srv

	return d, nil
}

// resolveNodeID returns the configured node ID, or the one generated on
// first start.
func (d *Daemon) resolveNodeID() (string, error) {
	if d.Config.Node.ID != "" {
		return d.Config.Node.ID, nil
	}
	id, err := d.DB.GetNodeInfo(nodeIDKey)
	if err != nil {
		return "", fmt.Errorf("read node id: %w", err)
	}
	if id != "" {
		return id, nil
	}
	id = "shield-" + uuid.New().String()[:8]
	if err := d.DB.SetNodeInfo(nodeIDKey, id); err != nil {
		return "", fmt.Errorf("store node id: %w", err)
	}
	return id, nil
}

func (d *Daemon) artifactDir() string {
	if d.Config.Storage.Dir != "" {
		return d.Config.Storage.Dir
	}
	return filepath.Join(shieldHome(), "artifacts")
}

// openArtifacts builds the configured artifact backend. The returned
// recovery func, when not nil, is run by the health checker after a failed
// storage check.
func (d *Daemon) openArtifacts(ctx context.Context) (domain.ArtifactStore, func(context.Context) error, error) {
	cfg := d.Config.Storage
	var (
		store     domain.ArtifactStore
		recoverFn func(context.Context) error
	)

	switch cfg.Backend {
	case BackendFile:
		fs, err := artifact.NewFileStore(d.artifactDir())
		if err != nil {
			return nil, nil, err
		}
		store = fs
	case BackendSQLite:
		store = d.DB
	case BackendMemory:
		store = artifact.NewMemoryStore()
	case BackendS3:
		s3, err := artifact.NewS3Store(ctx, artifact.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Prefix:          cfg.S3.Prefix,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		store = s3
	case BackendRedis:
		rs, err := artifact.NewRedisStore(ctx, artifact.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		store = rs
		recoverFn = rs.Ping
		d.closers = append(d.closers, rs.Close)
	default:
		return nil, nil, fmt.Errorf("unknown backend %q: %w", cfg.Backend, domain.ErrConfig)
	}

	if cfg.Compress {
		store = artifact.NewCompressed(store)
	}
	d.Log.Infow("artifact store ready", "backend", cfg.Backend, "compress", cfg.Compress)
	return store, recoverFn, nil
}

// Listen feeds events from src to the scoring service until src ends or ctx
// is cancelled.
func (d *Daemon) Listen(ctx context.Context, src domain.EventSource) error {
	err := src.Run(ctx, d.Service.HandleEvent)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.Server.SetBaseContext(ctx)

	// Health checker (always runs)
	go d.Health.Run(ctx)

	// Event stream listener (if enabled)
	if d.Config.Stream.Enabled && d.Listener != nil {
		if err := d.Listener.Start(ctx); err != nil {
			d.Log.Errorw("event listener start failed", "error", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long for training requests
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		d.Log.Infow("shutting down")
		cancel()
		if d.Listener != nil {
			d.Listener.Stop()
		}
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	fmt.Printf("SynapseShield serving on http://%s\n", addr)
	if d.Listener != nil && d.Config.Stream.Enabled {
		fmt.Printf("  Stream: %s (group %s)\n", d.Config.Stream.URL, d.Config.Stream.ConsumerGroup)
	}
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}
	d.Log.Infow("api listening", "addr", addr, "backend", d.Config.Storage.Backend)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Listener != nil {
		d.Listener.Stop()
	}
	for _, c := range d.closers {
		if err := c(); err != nil {
			d.Log.Warnw("close failed", "error", err)
		}
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
	if d.Log != nil {
		_ = d.Log.Sync()
	}
}
