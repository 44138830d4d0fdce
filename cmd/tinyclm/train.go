package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tinyclm/internal/batch"
	"github.com/samcharles93/tinyclm/internal/corpus"
	"github.com/samcharles93/tinyclm/internal/logger"
	"github.com/samcharles93/tinyclm/internal/model/bigram"
	"github.com/samcharles93/tinyclm/internal/progress"
	"github.com/samcharles93/tinyclm/internal/train"
)

func trainCmd() *cli.Command {
	var (
		corpusPath   string
		batchSize    int
		seqLen       int
		iterations   int
		learningRate float64
		seed         int64
		vocabSize    int
		hidden       int
		output       string
		outputNames  []string
		metricsPath  string
		logEvery     int
		noPreview    bool
		noBar        bool
	)

	return &cli.Command{
		Name:      "train",
		Usage:     "Train a bigram model on a u16 token corpus and export it",
		ArgsUsage: "[corpus.bin]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "corpus", Usage: "path to the u16 little-endian token corpus", Destination: &corpusPath},
			tokenizerFlag(),
			&cli.IntFlag{Name: "batch-size", Aliases: []string{"b"}, Usage: "windows per batch", Destination: &batchSize},
			&cli.IntFlag{Name: "seq-len", Aliases: []string{"s"}, Usage: "tokens per window", Destination: &seqLen},
			&cli.IntFlag{Name: "iterations", Aliases: []string{"n"}, Usage: "training iterations", Destination: &iterations},
			&cli.Float64Flag{Name: "lr", Aliases: []string{"learning-rate"}, Usage: "Adam learning rate", Destination: &learningRate},
			&cli.Int64Flag{Name: "seed", Usage: "sampling seed (0 = time based)", Destination: &seed},
			&cli.IntFlag{Name: "vocab-size", Usage: "model vocabulary (0 = tokenizer vocabulary)", Destination: &vocabSize},
			&cli.IntFlag{Name: "hidden", Usage: "embedding width", Destination: &hidden},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "checkpoint path (empty skips export)", Destination: &output},
			&cli.StringSliceFlag{Name: "output-name", Usage: "exported outputs (probs, logits)", Destination: &outputNames},
			&cli.StringFlag{Name: "metrics", Usage: "append per-iteration JSONL records to this file", Destination: &metricsPath},
			&cli.IntFlag{Name: "log-every", Usage: "log progress every N iterations (0 disables)", Destination: &logEvery},
			&cli.BoolFlag{Name: "no-preview", Usage: "skip the greedy decode preview after export", Destination: &noPreview},
			&cli.BoolFlag{Name: "no-progress", Usage: "disable the progress bar", Destination: &noBar},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyTokenizerFlag(cmd)
			if cmd.IsSet("corpus") {
				cfg.Corpus.Path = corpusPath
			} else if cmd.Args().Present() {
				cfg.Corpus.Path = cmd.Args().First()
			}
			t := &cfg.Train
			if cmd.IsSet("batch-size") {
				t.BatchSize = batchSize
			}
			if cmd.IsSet("seq-len") {
				t.SeqLen = seqLen
			}
			if cmd.IsSet("iterations") {
				t.Iterations = iterations
			}
			if cmd.IsSet("lr") {
				t.LearningRate = learningRate
			}
			if cmd.IsSet("seed") {
				t.Seed = seed
			}
			if cmd.IsSet("vocab-size") {
				cfg.Model.VocabSize = vocabSize
			}
			if cmd.IsSet("hidden") {
				cfg.Model.Hidden = hidden
			}
			if cmd.IsSet("output") {
				t.Output = output
			}
			if cmd.IsSet("output-name") {
				t.OutputNames = outputNames
			}
			if cmd.IsSet("metrics") {
				t.Metrics = metricsPath
			}
			if cmd.IsSet("log-every") {
				t.LogEvery = logEvery
			}
			if noPreview {
				t.Preview = false
			}
			if err := cfg.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if cfg.Corpus.Path == "" {
				return cli.Exit("error: a corpus path is required (--corpus or corpus.path)", 1)
			}
			return runTrain(ctx, !noBar)
		},
	}
}

func runTrain(ctx context.Context, bar bool) error {
	runID := uuid.NewString()
	log := logger.FromContext(ctx).With("run_id", runID)
	ctx = logger.WithContext(ctx, log)
	t := cfg.Train

	tok, vocab, err := loadTokenizer()
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: load tokenizer: %v", err), 1)
	}
	if cfg.Model.VocabSize > 0 {
		vocab = cfg.Model.VocabSize
	}
	if vocab <= 0 {
		return cli.Exit("error: vocabulary size unknown; set --vocab-size", 1)
	}

	c, err := corpus.Open(cfg.Corpus.Path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	defer func() { _ = c.Close() }()

	seed := t.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	sampler, err := batch.NewSampler(c, t.BatchSize, t.SeqLen, rand.New(rand.NewSource(seed)))
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}

	trainer, err := bigram.New(bigram.Config{
		VocabSize: vocab,
		Hidden:    cfg.Model.Hidden,
		Rows:      t.BatchSize * t.SeqLen,
		RunID:     runID,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	defer func() { _ = trainer.Close() }()

	var observers progress.Multi
	var pbar *progress.Bar
	if bar {
		pbar = progress.NewBar(os.Stderr)
		observers = append(observers, pbar)
	}
	if t.LogEvery > 0 {
		observers = append(observers, progress.Log{Logger: log, Every: t.LogEvery})
	}
	if t.Metrics != "" {
		f, err := os.OpenFile(t.Metrics, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return cli.Exit(fmt.Sprintf("error: open metrics: %v", err), 1)
		}
		defer func() { _ = f.Close() }()
		observers = append(observers, progress.NewJSONL(f, runID))
	}

	log.Info("starting training",
		"corpus", c.Path(),
		"tokens", c.TokenCount(),
		"vocab", vocab,
		"hidden", cfg.Model.Hidden,
		"batch_size", t.BatchSize,
		"seq_len", t.SeqLen,
		"iterations", t.Iterations,
		"lr", t.LearningRate,
		"seed", seed,
	)

	state, err := train.Run(ctx, trainer, sampler, train.Config{
		Iterations:   t.Iterations,
		LearningRate: t.LearningRate,
		OutputPath:   t.Output,
		OutputNames:  t.OutputNames,
	}, observers)
	if pbar != nil {
		_ = pbar.Finish()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("training canceled", "iteration", state.Iteration)
			return cli.Exit("canceled", 130)
		}
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}

	log.Info("training finished",
		"status", state.Status.String(),
		"iterations", state.Iteration,
		"loss", strconv.FormatFloat(float64(state.Loss), 'f', 4, 32),
		"duration", state.Duration.Round(time.Millisecond),
		"exported", state.Exported,
	)
	if state.Status == train.StatusAborted {
		return cli.Exit(fmt.Sprintf("training diverged at iteration %d (loss %v); nothing exported", state.Iteration, state.Loss), 2)
	}
	if !state.Exported || !t.Preview {
		return nil
	}

	sess, err := bigram.Load(t.Output)
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: load exported model: %v", err), 1)
	}
	return streamDecode(ctx, sess, tok)
}
