// Package trainer fits the scaler and trains the autoencoder, then persists
// both as a single unit.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/synapseshield/shield/internal/app/autoencoder"
	"github.com/synapseshield/shield/internal/app/scaler"
	"github.com/synapseshield/shield/internal/domain"
	"github.com/synapseshield/shield/internal/infra/metrics"
)

// DeviceCPU is the only compute device supported.
const DeviceCPU = "cpu"

// GenerationKey is written alongside the scaler and model on every run and
// holds the run ID. Readers compare it to spot a newly trained pair.
const GenerationKey = "generation"

// Options controls a training run. Zero values take the defaults.
type Options struct {
	Epochs       int     // default 50
	LearningRate float64 // default 1e-3
	BatchSize    int     // 0 trains on the full dataset each epoch
	Seed         int64   // weight init and minibatch shuffling; default 42
	Device       string  // default "cpu"

	// Progress, when set, is called after every epoch.
	Progress func(epoch, epochs int, loss float64)
}

// DefaultOptions returns the default training options.
func DefaultOptions() Options {
	return Options{
		Epochs:       50,
		LearningRate: 1e-3,
		Seed:         42,
		Device:       DeviceCPU,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Epochs <= 0 {
		o.Epochs = def.Epochs
	}
	if o.LearningRate <= 0 {
		o.LearningRate = def.LearningRate
	}
	if o.BatchSize < 0 {
		o.BatchSize = 0
	}
	if o.Seed == 0 {
		o.Seed = def.Seed
	}
	if o.Device == "" {
		o.Device = def.Device
	}
	return o
}

// Result describes a completed training run.
type Result struct {
	Model  *autoencoder.Model
	Scaler domain.ScalerState
	Losses []float64 // mean loss per epoch
	Run    domain.TrainingRun
}

// Trainer trains models and persists them to an artifact store.
type Trainer struct {
	artifacts domain.ArtifactStore
	log       *zap.SugaredLogger
}

// New creates a Trainer. A nil logger disables logging.
func New(artifacts domain.ArtifactStore, log *zap.SugaredLogger) *Trainer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Trainer{artifacts: artifacts, log: log}
}

// CheckDevice rejects compute devices other than the CPU.
func CheckDevice(device string) error {
	if device != "" && !strings.EqualFold(device, DeviceCPU) {
		return fmt.Errorf("device %q: %w", device, domain.ErrUnsupportedDevice)
	}
	return nil
}

// Train fits a fresh scaler on ds, trains an autoencoder to reconstruct the
// normalized rows, and persists scaler and model together. Nothing is
// persisted unless every epoch completes, so a cancelled or failed run
// leaves the previously stored pair in place.
func (t *Trainer) Train(ctx context.Context, ds domain.Dataset, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	started := time.Now()

	res, err := t.train(ctx, ds, opts, started)
	switch {
	case err == nil:
		metrics.TrainingRuns.WithLabelValues("ok").Inc()
		metrics.TrainingDuration.Observe(time.Since(started).Seconds())
		metrics.TrainingFinalLoss.Set(res.Run.FinalLoss)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.TrainingRuns.WithLabelValues("cancelled").Inc()
	default:
		metrics.TrainingRuns.WithLabelValues("failed").Inc()
	}
	return res, err
}

func (t *Trainer) train(ctx context.Context, ds domain.Dataset, opts Options, started time.Time) (*Result, error) {
	if err := CheckDevice(opts.Device); err != nil {
		return nil, err
	}

	st, err := scaler.Fit(ds)
	if err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	norm, err := scaler.Transform(st, ds)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	x, err := autoencoder.Matrix(norm)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	model, err := autoencoder.New(ds.Width(), rng)
	if err != nil {
		return nil, err
	}
	opt := autoencoder.NewAdam(model, opts.LearningRate)

	n := ds.Len()
	batch := opts.BatchSize
	if batch == 0 || batch > n {
		batch = n
	}

	t.log.Infow("training started",
		"rows", n, "features", ds.Width(), "epochs", opts.Epochs,
		"batch_size", batch, "lr", opts.LearningRate)

	losses := make([]float64, 0, opts.Epochs)
	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			t.log.Warnw("training cancelled, keeping previous model", "epoch", epoch)
			return nil, err
		}

		var loss float64
		if batch == n {
			loss, err = step(model, opt, x)
		} else {
			loss, err = minibatchEpoch(model, opt, x, batch, rng)
		}
		if err != nil {
			return nil, err
		}
		losses = append(losses, loss)
		if opts.Progress != nil {
			opts.Progress(epoch, opts.Epochs, loss)
		}

		if epoch == 1 || epoch%10 == 0 {
			t.log.Infow("training progress", "epoch", epoch, "of", opts.Epochs, "loss", loss)
		}
	}

	runID := uuid.New().String()
	if err := t.persist(ctx, runID, st, model); err != nil {
		return nil, err
	}

	finalLoss := losses[len(losses)-1]
	run := domain.TrainingRun{
		ID:         runID,
		Rows:       n,
		InputDim:   ds.Width(),
		Epochs:     opts.Epochs,
		BatchSize:  opts.BatchSize,
		FinalLoss:  finalLoss,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	t.log.Infow("training finished", "run", run.ID, "final_loss", finalLoss,
		"duration", run.FinishedAt.Sub(started))

	return &Result{Model: model, Scaler: st, Losses: losses, Run: run}, nil
}

func (t *Trainer) persist(ctx context.Context, runID string, st domain.ScalerState, model *autoencoder.Model) error {
	scalerData, err := scaler.Encode(st)
	if err != nil {
		return err
	}
	modelData, err := model.MarshalBinary()
	if err != nil {
		return err
	}
	err = t.artifacts.PutAll(ctx, map[string][]byte{
		scaler.ArtifactKey:      scalerData,
		autoencoder.ArtifactKey: modelData,
		GenerationKey:           []byte(runID),
	})
	if err != nil {
		return fmt.Errorf("persist model: %w", err)
	}
	return nil
}

// step runs one optimizer step over x and returns the pre-update loss.
func step(model *autoencoder.Model, opt *autoencoder.Adam, x mat.Matrix) (float64, error) {
	loss, g, err := model.LossAndGrads(x)
	if err != nil {
		return 0, err
	}
	opt.Step(g)
	return loss, nil
}

// minibatchEpoch visits every row once in a fresh random order and returns
// the row-weighted mean batch loss.
func minibatchEpoch(model *autoencoder.Model, opt *autoencoder.Adam, x *mat.Dense, size int, rng *rand.Rand) (float64, error) {
	n, d := x.Dims()
	perm := rng.Perm(n)

	var total float64
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		b := mat.NewDense(end-start, d, nil)
		for k, i := range perm[start:end] {
			b.SetRow(k, x.RawRowView(i))
		}
		loss, err := step(model, opt, b)
		if err != nil {
			return 0, err
		}
		total += loss * float64(end-start)
	}
	return total / float64(n), nil
}
