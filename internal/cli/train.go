package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/synapseshield/shield/internal/app/trainer"
	"github.com/synapseshield/shield/internal/daemon"
	"github.com/synapseshield/shield/internal/domain"
	"github.com/synapseshield/shield/internal/infra/dataset"
)

func init() {
	f := trainCmd.Flags()
	f.BoolVar(&trainDemo, "demo", false, "Train on the built-in four-row baseline")
	f.StringVarP(&trainFile, "file", "f", "", "Dataset file (.csv, .json, .jsonl, .yaml)")
	f.IntVar(&trainEpochs, "epochs", 0, "Training epochs (overrides config)")
	f.Float64Var(&trainLR, "lr", 0, "Adam learning rate (overrides config)")
	f.IntVar(&trainBatch, "batch-size", -1, "Minibatch size, 0 for full batch (overrides config)")
	f.Int64Var(&trainSeed, "seed", 0, "Random seed (overrides config)")
	f.StringVar(&trainDevice, "device", "", "Compute device (overrides config)")
	f.BoolVarP(&trainQuiet, "quiet", "q", false, "Hide the progress bar")
	rootCmd.AddCommand(trainCmd)
}

var (
	trainDemo   bool
	trainFile   string
	trainEpochs int
	trainLR     float64
	trainBatch  int
	trainSeed   int64
	trainDevice string
	trainQuiet  bool
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the anomaly model on baseline telemetry",
	Long: `Fit the feature scaler and train the autoencoder on normal telemetry.
The scaler and model are stored together; an interrupted run keeps the
previous pair.`,
	Example: `  shield train --demo
  shield train -f baseline.csv --epochs 200 --batch-size 32`,
	RunE: runTrain,
}

func loadDataset(file string, demo bool) (domain.Dataset, error) {
	switch {
	case demo && file != "":
		return domain.Dataset{}, errors.New("use either --demo or --file, not both")
	case demo:
		return trainer.Baseline(), nil
	case file != "":
		return dataset.Load(file)
	default:
		return domain.Dataset{}, errors.New("a dataset is required: pass --file or --demo")
	}
}

func runTrain(cmd *cobra.Command, args []string) error {
	ds, err := loadDataset(trainFile, trainDemo)
	if err != nil {
		return err
	}

	d, err := openDaemon(func(cfg *daemon.Config) {
		if trainEpochs > 0 {
			cfg.Model.Epochs = trainEpochs
		}
		if trainLR > 0 {
			cfg.Model.LearningRate = trainLR
		}
		if trainBatch >= 0 {
			cfg.Model.BatchSize = trainBatch
		}
		if trainSeed != 0 {
			cfg.Model.Seed = trainSeed
		}
		if trainDevice != "" {
			cfg.Model.Device = trainDevice
		}
	})
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signalContext()
	defer stop()

	opts := d.Service.TrainOptions()
	if !trainQuiet {
		opts.Progress = newProgressBar(os.Stderr).update
	}
	fmt.Fprintf(os.Stderr, "training on %d rows (%s storage)\n", ds.Len(), d.Config.Storage.Backend)

	res, err := d.Service.TrainWith(ctx, ds, opts)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr)
			return fmt.Errorf("training interrupted, previous model kept: %w", err)
		}
		return err
	}

	fmt.Printf("trained run %s\n", res.Run.ID)
	fmt.Printf("  rows:       %d\n", res.Run.Rows)
	fmt.Printf("  epochs:     %d\n", res.Run.Epochs)
	fmt.Printf("  final loss: %.6f\n", res.Run.FinalLoss)
	fmt.Printf("  duration:   %s\n", res.Run.FinishedAt.Sub(res.Run.StartedAt).Round(time.Millisecond))
	return nil
}
