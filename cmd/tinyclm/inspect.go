package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tinyclm/internal/batch"
	"github.com/samcharles93/tinyclm/internal/checkpoint"
	"github.com/samcharles93/tinyclm/internal/corpus"
)

func inspectCmd() *cli.Command {
	var (
		head    int
		seqLen  int
		asJSON  bool
		decoded bool
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Describe a corpus or checkpoint file",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "head", Usage: "print the first N corpus tokens", Destination: &head},
			&cli.IntFlag{Name: "seq-len", Usage: "report sampling range for this window length", Value: 256, Destination: &seqLen},
			&cli.BoolFlag{Name: "decode", Usage: "decode --head tokens with the tokenizer", Destination: &decoded},
			&cli.BoolFlag{Name: "json", Usage: "print checkpoint metadata as JSON", Destination: &asJSON},
			tokenizerFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyTokenizerFlag(cmd)
			path := cmd.Args().First()
			if path == "" {
				return cli.Exit("error: a path is required", 1)
			}
			isCkpt, err := hasCheckpointMagic(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if isCkpt {
				return inspectCheckpoint(path, asJSON)
			}
			return inspectCorpus(path, seqLen, head, decoded)
		},
	}
}

func hasCheckpointMagic(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()
	magic := make([]byte, len(checkpoint.Magic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return false, nil
	}
	return string(magic) == checkpoint.Magic, nil
}

func inspectCheckpoint(path string, asJSON bool) error {
	f, err := checkpoint.Open(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	defer func() { _ = f.Close() }()

	if asJSON {
		b, err := json.MarshalIndent(f.Meta, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}

	m := f.Meta
	fmt.Printf("checkpoint: %s\n", path)
	fmt.Printf("version:    %d.%d\n", f.Header.Major, f.Header.Minor)
	fmt.Printf("arch:       %s\n", m.Arch)
	if m.RunID != "" {
		fmt.Printf("run id:     %s\n", m.RunID)
	}
	if !m.Created.IsZero() {
		fmt.Printf("created:    %s\n", m.Created.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Printf("outputs:    %s\n", strings.Join(m.Outputs, ", "))
	if len(m.Attrs) > 0 {
		keys := make([]string, 0, len(m.Attrs))
		for k := range m.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("attrs:")
		for _, k := range keys {
			fmt.Printf("  %-12s %s\n", k, m.Attrs[k])
		}
	}
	fmt.Printf("tensors:    %d (%d bytes)\n", len(m.Tensors), f.Header.DataSize)
	for _, t := range m.Tensors {
		fmt.Printf("  %-8s %-4s %v\n", t.Name, t.DType, t.Shape)
	}
	return nil
}

func inspectCorpus(path string, seqLen, head int, decoded bool) error {
	c, err := corpus.Open(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	defer func() { _ = c.Close() }()

	fmt.Printf("corpus:     %s\n", path)
	fmt.Printf("bytes:      %d\n", c.Size())
	fmt.Printf("tokens:     %d\n", c.TokenCount())
	if n, err := batch.MaxStart(c.TokenCount(), seqLen); err != nil {
		fmt.Printf("windows:    none for seq-len %d (%v)\n", seqLen, err)
	} else {
		fmt.Printf("windows:    %d start offsets for seq-len %d\n", n, seqLen)
	}

	if head <= 0 {
		return nil
	}
	head = min(head, c.TokenCount())
	window, err := c.ReadWindow(0, head)
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	ids := make([]int, len(window))
	for i, v := range window {
		ids[i] = int(v)
	}
	fmt.Printf("head:       %v\n", ids)
	if decoded {
		tok, _, err := loadTokenizer()
		if err != nil {
			return cli.Exit(fmt.Sprintf("error: load tokenizer: %v", err), 1)
		}
		text, err := tok.Decode(ids)
		if err != nil {
			return cli.Exit(fmt.Sprintf("error: decode: %v", err), 1)
		}
		fmt.Printf("text:       %q\n", text)
	}
	return nil
}
