package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tinyclm/internal/api"
	"github.com/samcharles93/tinyclm/internal/decode"
	"github.com/samcharles93/tinyclm/internal/logger"
	"github.com/samcharles93/tinyclm/internal/model/bigram"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		checkpoint  string
		maxTokens   int
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve greedy generation over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address", Destination: &addr},
			&cli.StringFlag{Name: "checkpoint", Aliases: []string{"m", "model"}, Usage: "path to a trained checkpoint", Destination: &checkpoint},
			&cli.IntFlag{Name: "max-tokens", Usage: "per-request token limit", Destination: &maxTokens},
			&cli.DurationFlag{Name: "read-timeout", Usage: "read header timeout", Value: 30 * time.Second, Destination: &readTimeout},
			tokenizerFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyTokenizerFlag(cmd)
			if cmd.IsSet("addr") {
				cfg.Serve.Addr = addr
			}
			if cmd.IsSet("checkpoint") {
				cfg.Generate.Checkpoint = checkpoint
			}
			if cmd.IsSet("max-tokens") {
				cfg.Serve.MaxTokens = maxTokens
			}
			if err := cfg.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			tok, _, err := loadTokenizer()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load tokenizer: %v", err), 1)
			}
			sess, err := bigram.Load(cfg.Generate.Checkpoint)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			dec := &decode.Decoder{
				Session:    sess,
				Tokenizer:  tok,
				Output:     cfg.Generate.Output,
				StopTokens: cfg.Generate.StopTokens,
			}

			server := api.NewServer(dec, api.Options{MaxTokens: cfg.Serve.MaxTokens, Logger: log.WithGroup("api")})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", cfg.Serve.Addr, "checkpoint", cfg.Generate.Checkpoint)
			sc := echo.StartConfig{
				Address: cfg.Serve.Addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
