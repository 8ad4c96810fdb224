package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/razeghi71/logq/alias"
	"github.com/razeghi71/logq/ast"
	"github.com/razeghi71/logq/engine"
	"github.com/razeghi71/logq/parser"
	"github.com/razeghi71/logq/render"
)

func main() {
	app := kingpin.New("logq", "Slice and dice logs on the command line.")
	app.HelpFlag.Short('h')

	query := app.Arg("query", "The query pipeline to run, e.g. 'json | count by level'.").Required().String()
	file := app.Flag("file", "Read input from a file instead of stdin.").Short('f').String()
	output := app.Flag("output", "Output mode: legacy, json, logfmt, or format=<template>.").Short('o').String()
	format := app.Flag("format", "Deprecated; same as --output format=<template>.").Short('m').String()
	aliasDir := app.Flag("alias-dir", "Load alias definitions from this directory only.").Short('a').String()
	noAlias := app.Flag("no-alias", "Disable alias expansion, including built-ins.").Bool()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "logq",
		Output: os.Stderr,
		Level:  hclog.Warn,
	})

	if err := run(*query, *file, *output, *format, *aliasDir, *noAlias, logger); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func run(query, file, output, format, aliasDir string, noAlias bool, logger hclog.Logger) error {
	if aliasDir != "" && noAlias {
		return fmt.Errorf("--alias-dir and --no-alias are mutually exclusive")
	}
	if output != "" && format != "" {
		return fmt.Errorf("--output and --format are mutually exclusive; --format is deprecated")
	}
	if format != "" {
		output = "format=" + format
	}

	mode := render.Mode{Kind: render.ModeLegacy}
	if output != "" {
		var err error
		mode, err = render.ParseMode(output)
		if err != nil {
			return err
		}
	}

	aliases, err := loadAliases(aliasDir, noAlias, logger)
	if err != nil {
		return err
	}

	q, err := parser.Parse(query, aliases)
	if err != nil {
		return fmt.Errorf("parsing query: %w", err)
	}

	input := io.Reader(os.Stdin)
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		input = f
	}

	eng, err := engine.New(q, render.New(mode, os.Stdout))
	if err != nil {
		return err
	}
	return eng.Run(input)
}

// loadAliases resolves the alias collection for this invocation. Invalid
// definitions are reported and skipped; only an unreadable --alias-dir is
// fatal. A nil collection still serves the embedded built-ins, so --no-alias
// returns a source that knows nothing instead.
func loadAliases(dir string, disabled bool, logger hclog.Logger) (parser.AliasSource, error) {
	if disabled {
		return noAliases{}, nil
	}
	var (
		coll     *alias.Collection
		warnings []alias.InvalidAlias
		err      error
	)
	if dir != "" {
		coll, warnings, err = alias.LoadDir(dir)
	} else {
		coll, warnings, err = alias.LoadAncestors("")
	}
	if err != nil {
		return nil, fmt.Errorf("loading aliases: %w", err)
	}
	for _, w := range warnings {
		logger.Warn("skipping alias definition", "path", w.Path, "error", w.Err)
	}
	return coll, nil
}

type noAliases struct{}

func (noAliases) Render(string) ([]ast.Stage, bool) { return nil, false }
