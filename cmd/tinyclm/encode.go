package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tinyclm/internal/corpus"
	"github.com/samcharles93/tinyclm/internal/logger"
)

func encodeCmd() *cli.Command {
	var (
		out       string
		separator string
		appendOut bool
	)

	return &cli.Command{
		Name:      "encode",
		Usage:     "Tokenize text files into a u16 little-endian corpus",
		ArgsUsage: "<file>... (- reads stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "corpus file to write", Required: true, Destination: &out},
			tokenizerFlag(),
			&cli.StringFlag{Name: "separator", Usage: "text encoded between documents, e.g. <|endoftext|>", Destination: &separator},
			&cli.BoolFlag{Name: "append", Usage: "append to an existing corpus instead of truncating it", Destination: &appendOut},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyTokenizerFlag(cmd)
			inputs := cmd.Args().Slice()
			if len(inputs) == 0 {
				return cli.Exit("error: at least one input file is required", 1)
			}

			tok, _, err := loadTokenizer()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load tokenizer: %v", err), 1)
			}
			var sep []int
			if separator != "" {
				if sep, err = tok.Encode(separator); err != nil {
					return cli.Exit(fmt.Sprintf("error: encode separator: %v", err), 1)
				}
			}

			flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
			if appendOut {
				flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
			}
			f, err := os.OpenFile(out, flags, 0o644)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			w := corpus.NewWriter(f)

			for i, in := range inputs {
				if err := ctx.Err(); err != nil {
					_ = f.Close()
					return err
				}
				text, err := readInput(in)
				if err != nil {
					_ = f.Close()
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				ids, err := tok.Encode(string(text))
				if err != nil {
					_ = f.Close()
					return cli.Exit(fmt.Sprintf("error: encode %s: %v", in, err), 1)
				}
				if i > 0 && len(sep) > 0 {
					ids = append(append([]int(nil), sep...), ids...)
				}
				if err := w.Write(ids); err != nil {
					_ = f.Close()
					return cli.Exit(fmt.Sprintf("error: %s: %v", in, err), 1)
				}
				log.Debug("encoded input", "path", in, "tokens", len(ids))
			}
			if err := w.Flush(); err != nil {
				_ = f.Close()
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if err := f.Close(); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Info("wrote corpus", "path", out, "tokens", w.Count(), "inputs", len(inputs))
			return nil
		},
	}
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
