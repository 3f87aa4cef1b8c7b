// Command bayes runs the full uncertainty experiment: load MNIST, train the
// binary 0/1 classifier in the chosen Bayesian-approximation mode, score
// the unfiltered test set, and sweep thresholds for out-of-distribution
// detection.
package main

import (
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsawler/go-bayes/checkpoints"
	"github.com/tsawler/go-bayes/dataset"
	"github.com/tsawler/go-bayes/model"
	"github.com/tsawler/go-bayes/threshold"
	"github.com/tsawler/go-bayes/training"
	"github.com/tsawler/go-bayes/uncertainty"
)

type options struct {
	mode           string
	epochs         int
	batchSize      int
	learningRate   float64
	momentum       float64
	weightDecay    float64
	hidden         int
	dataDir        string
	seed           int64
	checkpointPath string
	recordPath     string
}

func main() {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "bayes",
		Short: "Bayesian uncertainty and OOD detection for a binary MNIST classifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.mode, "mode", "dropout", "Bayesian approximation: dropout or variational")
	flags.IntVar(&opts.epochs, "epochs", 150, "number of training epochs")
	flags.IntVar(&opts.batchSize, "batch-size", 100, "minibatch size, also the posterior sample count")
	flags.Float64Var(&opts.learningRate, "learning-rate", 0.01, "SGD learning rate")
	flags.Float64Var(&opts.momentum, "momentum", 0.9, "SGD momentum coefficient")
	flags.Float64Var(&opts.weightDecay, "weight-decay", 1e-2, "L2 penalty (dropout mode)")
	flags.IntVar(&opts.hidden, "hidden", 512, "hidden layer width")
	flags.StringVar(&opts.dataDir, "data-dir", "data", "MNIST cache directory")
	flags.Int64Var(&opts.seed, "seed", 0, "random seed (0 derives one from the clock)")
	flags.StringVar(&opts.checkpointPath, "checkpoint", "", "write the trained weights to this JSON file")
	flags.StringVar(&opts.recordPath, "record", "", "write the uncertainty record to this JSON file")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opts options) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Sugar()

	mode, err := model.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	log.Infow("starting experiment", "mode", mode.String(), "seed", seed)

	log.Info("loading data...")
	train, test, err := dataset.Load(opts.dataDir)
	if err != nil {
		return err
	}
	split, err := dataset.Partition(train, test)
	if err != nil {
		return err
	}
	log.Infow("dataset partitioned",
		"train_in", split.TrainIn.Len(),
		"train_out", split.TrainOut.Len(),
		"test_in", split.TestIn.Len(),
		"test_all", split.TestAll.Len(),
	)

	cfg := model.DefaultConfig()
	cfg.NumHidden = opts.hidden
	cfg.WeightDecay = opts.weightDecay
	m, err := model.New(mode, cfg, rng)
	if err != nil {
		return err
	}

	log.Info("starting training...")
	trainer, err := training.NewTrainer(m, training.TrainerConfig{
		Epochs:       opts.epochs,
		BatchSize:    opts.batchSize,
		LearningRate: opts.learningRate,
		Momentum:     opts.momentum,
	}, rng, log)
	if err != nil {
		return err
	}
	if _, err := trainer.Fit(split.TrainIn); err != nil {
		return err
	}

	result, err := training.Evaluate(m, split.TestIn, opts.batchSize)
	if err != nil {
		return err
	}
	log.Infow("final results", "test_loss", result.Loss, "test_accuracy", result.Accuracy)

	if opts.checkpointPath != "" {
		if err := checkpoints.Save(opts.checkpointPath, checkpoints.FromModel(m)); err != nil {
			return err
		}
		log.Infow("checkpoint written", "path", opts.checkpointPath)
	}

	log.Infow("scoring test samples", "count", split.TestAll.Len(), "samples_per_image", opts.batchSize)
	record, err := uncertainty.Score(m, split.TestAll, opts.batchSize, 10)
	if err != nil {
		return err
	}
	if opts.recordPath != "" {
		if err := record.SaveJSON(opts.recordPath); err != nil {
			return err
		}
		log.Infow("uncertainty record written", "path", opts.recordPath)
	}

	inLabels := make([]string, len(dataset.InDistributionLabels))
	for i, l := range dataset.InDistributionLabels {
		inLabels[i] = strconv.Itoa(l)
	}
	for _, statistic := range []string{"classic_entropy", "bayes_entropy", "pred_std"} {
		byLabel, err := record.ByStatistic(statistic)
		if err != nil {
			return err
		}
		best, err := threshold.Sweep(byLabel, inLabels)
		if err != nil {
			return err
		}
		log.Infow("threshold sweep",
			"statistic", statistic,
			"balanced_accuracy", best.BalancedAccuracy,
			"threshold", best.Threshold,
		)
	}
	return nil
}
