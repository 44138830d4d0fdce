package main

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tinyclm/internal/config"
	"github.com/samcharles93/tinyclm/internal/model/bigram"
	"github.com/samcharles93/tinyclm/internal/tokenizer"
)

func runApp(t *testing.T, args ...string) {
	t.Helper()
	cfg = config.Default()
	tokenizerPath = ""

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("log:\n  level: error\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	app := newApp()
	app.ExitErrHandler = func(context.Context, *cli.Command, error) {}
	argv := append([]string{"tinyclm", "--config", cfgPath}, args...)
	if err := app.Run(context.Background(), argv); err != nil {
		t.Fatalf("tinyclm %s: %v", strings.Join(args, " "), err)
	}
}

func TestEncodeWritesCorpus(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(a, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("yo"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "corpus.bin")

	runApp(t, "encode", "--out", out, "--separator", "|", a, b)

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var got []byte
	for i := 0; i+1 < len(data); i += 2 {
		got = append(got, byte(binary.LittleEndian.Uint16(data[i:])))
	}
	if string(got) != "hi|yo" {
		t.Fatalf("corpus decodes to %q", got)
	}
}

func TestTrainExportsCheckpoint(t *testing.T) {
	dir := t.TempDir()
	text := filepath.Join(dir, "text.txt")
	if err := os.WriteFile(text, []byte(strings.Repeat("abcd", 50)), 0o644); err != nil {
		t.Fatal(err)
	}
	corpusPath := filepath.Join(dir, "corpus.bin")
	ckpt := filepath.Join(dir, "model.ckpt")

	runApp(t, "encode", "-o", corpusPath, text)
	runApp(t, "train",
		"--corpus", corpusPath,
		"--batch-size", "2",
		"--seq-len", "4",
		"--iterations", "3",
		"--hidden", "4",
		"--lr", "0.01",
		"--seed", "1",
		"--output", ckpt,
		"--no-preview",
		"--no-progress",
	)

	sess, err := bigram.Load(ckpt)
	if err != nil {
		t.Fatalf("load exported checkpoint: %v", err)
	}
	if sess.VocabSize() != 256 || sess.Meta().RunID == "" {
		t.Fatalf("meta = %+v", sess.Meta())
	}

	ok, err := hasCheckpointMagic(ckpt)
	if err != nil || !ok {
		t.Fatalf("checkpoint magic: %v %v", ok, err)
	}
	ok, err = hasCheckpointMagic(corpusPath)
	if err != nil || ok {
		t.Fatalf("corpus detected as checkpoint: %v %v", ok, err)
	}
}

func TestEOSTokens(t *testing.T) {
	tok, err := tokenizer.ParseBPE([]byte(`{
  "model": {"type": "BPE", "vocab": {"a": 0, "b": 1}, "merges": []},
  "added_tokens": [{"id": 2, "content": "<|endoftext|>", "special": true}]
}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := eosTokens(tok); len(got) != 1 || got[0] != 2 {
		t.Fatalf("eosTokens = %v, want [2]", got)
	}
	if got := eosTokens(tokenizer.Byte{}); got != nil {
		t.Fatalf("byte tokenizer eos = %v", got)
	}
}
