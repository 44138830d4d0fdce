package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tinyclm/internal/config"
	"github.com/samcharles93/tinyclm/internal/logger"
	"github.com/samcharles93/tinyclm/internal/tokenizer"
)

// cfg is loaded once in setup; commands overlay their explicitly set flags.
var cfg = config.Default()

// setup loads the config file and installs the logger into the context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	loaded, err := config.Load(configPath)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	cfg = loaded

	if cmd.IsSet("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.IsSet("log-format") {
		cfg.Log.Format = logFormat
	}
	if debug {
		cfg.Log.Level = "debug"
	}

	log, err := logger.Setup(cfg.Log.Format, cfg.Log.Level, os.Stderr)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	return logger.WithContext(ctx, log), nil
}

func applyTokenizerFlag(cmd *cli.Command) {
	if cmd.IsSet("tokenizer") {
		cfg.Tokenizer.Path = tokenizerPath
	}
}

func loadTokenizer() (tokenizer.Tokenizer, int, error) {
	tok, err := tokenizer.Load(cfg.Tokenizer.Path)
	if err != nil {
		return nil, 0, err
	}
	vocab := 0
	if v, ok := tok.(tokenizer.Vocab); ok {
		vocab = v.VocabSize()
	}
	return tok, vocab, nil
}
