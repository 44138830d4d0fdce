// Package config holds tinyclm's run configuration and its YAML file format.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid value")

type Config struct {
	Corpus    Corpus    `yaml:"corpus"`
	Tokenizer Tokenizer `yaml:"tokenizer"`
	Model     Model     `yaml:"model"`
	Train     Train     `yaml:"train"`
	Generate  Generate  `yaml:"generate"`
	Serve     Serve     `yaml:"serve"`
	Log       Log       `yaml:"log"`
}

type Corpus struct {
	Path string `yaml:"path"`
}

// Tokenizer points at a HuggingFace tokenizer.json. Empty selects the
// byte-level tokenizer.
type Tokenizer struct {
	Path string `yaml:"path"`
}

// Model sizes the bigram model. VocabSize 0 takes the tokenizer's size.
type Model struct {
	VocabSize int `yaml:"vocab_size"`
	Hidden    int `yaml:"hidden"`
}

type Train struct {
	BatchSize    int      `yaml:"batch_size"`
	SeqLen       int      `yaml:"seq_len"`
	Iterations   int      `yaml:"iterations"`
	LearningRate float64  `yaml:"learning_rate"`
	Seed         int64    `yaml:"seed"`
	Output       string   `yaml:"output"`
	OutputNames  []string `yaml:"output_names"`
	LogEvery     int      `yaml:"log_every"`
	Metrics      string   `yaml:"metrics"`
	// Preview decodes Generate.Steps tokens from the exported model.
	Preview bool `yaml:"preview"`
}

type Generate struct {
	Checkpoint string `yaml:"checkpoint"`
	SeedText   string `yaml:"seed_text"`
	Steps      int    `yaml:"steps"`
	Output     string `yaml:"output"`
	StopTokens []int  `yaml:"stop_tokens"`
}

type Serve struct {
	Addr      string `yaml:"addr"`
	MaxTokens int    `yaml:"max_tokens"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the reference training and decoding setup.
func Default() Config {
	return Config{
		Model: Model{Hidden: 64},
		Train: Train{
			BatchSize:    16,
			SeqLen:       256,
			Iterations:   5000,
			LearningRate: 7e-5,
			Output:       "trained-clm.ckpt",
			OutputNames:  []string{"probs"},
			LogEvery:     100,
			Preview:      true,
		},
		Generate: Generate{
			Checkpoint: "trained-clm.ckpt",
			SeedText:   "<|endoftext|>",
			Steps:      50,
			Output:     "probs",
		},
		Serve: Serve{
			Addr:      "127.0.0.1:8080",
			MaxTokens: 256,
		},
		Log: Log{Level: "info", Format: "pretty"},
	}
}

// DefaultPath is $XDG_CONFIG_HOME/tinyclm/config.yaml or its platform
// equivalent. It is empty when no config directory is known.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tinyclm", "config.yaml")
}

// Load reads path over Default. An empty path loads DefaultPath, which may
// be absent; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if path == "" {
			return cfg, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Keys absent from data keep their current
// values; unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Model.VocabSize < 0 || c.Model.VocabSize > 1<<16:
		return invalid("model.vocab_size", c.Model.VocabSize, "must be between 0 and 65536")
	case c.Model.Hidden <= 0:
		return invalid("model.hidden", c.Model.Hidden, "must be positive")
	case c.Train.BatchSize <= 0:
		return invalid("train.batch_size", c.Train.BatchSize, "must be positive")
	case c.Train.SeqLen <= 0:
		return invalid("train.seq_len", c.Train.SeqLen, "must be positive")
	case c.Train.Iterations <= 0:
		return invalid("train.iterations", c.Train.Iterations, "must be positive")
	case !(c.Train.LearningRate > 0) || math.IsInf(c.Train.LearningRate, 0):
		return invalid("train.learning_rate", c.Train.LearningRate, "must be a positive number")
	case c.Train.Output != "" && len(c.Train.OutputNames) == 0:
		return invalid("train.output_names", c.Train.OutputNames, "must name at least one output")
	case c.Train.LogEvery < 0:
		return invalid("train.log_every", c.Train.LogEvery, "must not be negative")
	case c.Generate.Steps < 0:
		return invalid("generate.steps", c.Generate.Steps, "must not be negative")
	case c.Generate.Output == "":
		return invalid("generate.output", c.Generate.Output, "must not be empty")
	case c.Serve.MaxTokens <= 0:
		return invalid("serve.max_tokens", c.Serve.MaxTokens, "must be positive")
	case !slices.Contains([]string{"debug", "info", "warn", "warning", "error"}, strings.ToLower(c.Log.Level)):
		return invalid("log.level", c.Log.Level, "must be debug, info, warn or error")
	case !slices.Contains([]string{"pretty", "json", "text"}, strings.ToLower(c.Log.Format)):
		return invalid("log.format", c.Log.Format, "must be pretty, json or text")
	}
	return nil
}

func invalid(field string, v any, why string) error {
	return fmt.Errorf("%w: %s=%v %s", ErrInvalid, field, v, why)
}
