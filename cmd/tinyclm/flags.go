package main

import "github.com/urfave/cli/v3"

var (
	configPath    string
	tokenizerPath string
	logLevel      string
	logFormat     string
	debug         bool
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: user config dir)",
			Sources:     cli.EnvVars("TINYCLM_CONFIG"),
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func tokenizerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "tokenizer",
		Aliases:     []string{"tokenizer-json"},
		Usage:       "path to a HuggingFace tokenizer.json (default: byte-level tokenizer)",
		Destination: &tokenizerPath,
	}
}
