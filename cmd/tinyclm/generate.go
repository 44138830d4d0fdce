package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tinyclm/internal/decode"
	"github.com/samcharles93/tinyclm/internal/logger"
	"github.com/samcharles93/tinyclm/internal/model/bigram"
	"github.com/samcharles93/tinyclm/internal/tokenizer"
)

func generateCmd() *cli.Command {
	var (
		checkpoint string
		seedText   string
		steps      int
		output     string
		stopAtEOS  bool
	)

	return &cli.Command{
		Name:      "generate",
		Aliases:   []string{"gen"},
		Usage:     "Greedily extend a seed text with a trained checkpoint",
		ArgsUsage: "[seed text]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "checkpoint", Aliases: []string{"m", "model"}, Usage: "path to a trained checkpoint", Destination: &checkpoint},
			tokenizerFlag(),
			&cli.StringFlag{Name: "seed-text", Aliases: []string{"p", "prompt"}, Usage: "text to start from", Destination: &seedText},
			&cli.IntFlag{Name: "steps", Aliases: []string{"n"}, Usage: "tokens to generate", Destination: &steps},
			&cli.StringFlag{Name: "output-name", Usage: "session output to rank (probs or logits)", Destination: &output},
			&cli.IntSliceFlag{Name: "stop-token", Usage: "stop after emitting this token id (repeatable)"},
			&cli.BoolFlag{Name: "stop-at-eos", Usage: "stop at the tokenizer's end-of-text token", Destination: &stopAtEOS},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyTokenizerFlag(cmd)
			g := &cfg.Generate
			if cmd.IsSet("checkpoint") {
				g.Checkpoint = checkpoint
			}
			if cmd.IsSet("seed-text") {
				g.SeedText = seedText
			} else if cmd.Args().Present() {
				g.SeedText = strings.Join(cmd.Args().Slice(), " ")
			}
			if cmd.IsSet("steps") {
				g.Steps = steps
			}
			if cmd.IsSet("output-name") {
				g.Output = output
			}
			if cmd.IsSet("stop-token") {
				g.StopTokens = cmd.IntSlice("stop-token")
			}
			if err := cfg.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			tok, _, err := loadTokenizer()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load tokenizer: %v", err), 1)
			}
			if stopAtEOS {
				g.StopTokens = append(g.StopTokens, eosTokens(tok)...)
			}
			sess, err := bigram.Load(g.Checkpoint)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return streamDecode(ctx, sess, tok)
		},
	}
}

// streamDecode prints the seed and each generated token to stdout as soon as
// it is decoded.
func streamDecode(ctx context.Context, sess *bigram.Session, tok tokenizer.Tokenizer) error {
	log := logger.FromContext(ctx)
	g := cfg.Generate

	out := g.Output
	if outs := sess.Meta().Outputs; !slices.Contains(outs, out) && len(outs) > 0 {
		log.Warn("checkpoint lacks requested output, ranking another", "requested", out, "using", outs[0])
		out = outs[0]
	}

	dec := &decode.Decoder{
		Session:    sess,
		Tokenizer:  tok,
		Output:     out,
		StopTokens: g.StopTokens,
	}

	w := bufio.NewWriter(os.Stdout)
	defer func() { _ = w.Flush() }()
	if _, err := w.WriteString(g.SeedText); err != nil {
		return err
	}
	_ = w.Flush()

	_, stats, err := dec.Generate(ctx, g.SeedText, g.Steps, func(ev decode.Event) error {
		if _, err := w.WriteString(ev.Text); err != nil {
			return err
		}
		return w.Flush()
	})
	_, _ = w.WriteString("\n")
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return cli.Exit("canceled", 130)
		}
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	log.Debug("generation stats",
		"generated", stats.Generated,
		"stopped", stats.Stopped,
		"tokens_per_sec", fmt.Sprintf("%.1f", stats.TokensPerSecond()),
	)
	return nil
}

// eosTokens returns the ids of end-of-text markers the tokenizer knows.
func eosTokens(tok tokenizer.Tokenizer) []int {
	t, ok := tok.(interface{ ID(string) (int, bool) })
	if !ok {
		return nil
	}
	var ids []int
	for _, s := range []string{"<|endoftext|>", "<|end_of_text|>", "</s>"} {
		if id, ok := t.ID(s); ok && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}
