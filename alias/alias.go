// Package alias implements the keyword-to-pipeline macro subsystem. An alias
// maps a single keyword to a pre-rendered stage sequence; the parser splices
// the sequence into a query wherever the keyword appears at a stage position.
//
// Definitions are YAML files with explicit keyword and template fields:
//
//	keyword: apache
//	template: parse "..." as ip, timestamp, ...
//
// Built-in definitions ship embedded in the binary. Local definitions are
// discovered in .logq-aliases directories along the working directory's
// ancestor chain; a definition nearer the working directory shadows one
// further away, and all local definitions shadow built-ins.
package alias

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/razeghi71/logq/ast"
	"github.com/razeghi71/logq/parser"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// DirName is the per-directory alias directory searched along the working
// directory's ancestor chain.
const DirName = ".logq-aliases"

// Pipeline is one loaded alias: a keyword and its pre-rendered stage
// sequence. Immutable once constructed.
type Pipeline struct {
	Keyword string
	stages  []ast.Stage
}

// Render returns a fresh deep clone of the stage sequence. Splicing the
// result into a pipeline can never share mutable state with another render.
func (p *Pipeline) Render() []ast.Stage {
	return ast.CloneStages(p.stages)
}

// InvalidAlias records a definition that failed to load. Invalid definitions
// are warnings, never load failures: the rest of the set still loads.
type InvalidAlias struct {
	Path    string
	Keyword string
	Err     error
}

func (e InvalidAlias) Error() string {
	if e.Keyword != "" {
		return fmt.Sprintf("invalid alias %q (%s): %v", e.Keyword, e.Path, e.Err)
	}
	return fmt.Sprintf("invalid alias (%s): %v", e.Path, e.Err)
}

// Collection is an immutable set of loaded aliases. Once construction
// completes it may be read concurrently without synchronization.
type Collection struct {
	aliases []*Pipeline // discovery order: nearest scope first
}

// Get returns the nearest-scope definition of a keyword, falling back to the
// embedded built-ins.
func (c *Collection) Get(keyword string) (*Pipeline, bool) {
	if c != nil {
		for _, a := range c.aliases {
			if a.Keyword == keyword {
				return a, true
			}
		}
	}
	for _, a := range builtins() {
		if a.Keyword == keyword {
			return a, true
		}
	}
	return nil, false
}

// Render implements parser.AliasSource.
func (c *Collection) Render(keyword string) ([]ast.Stage, bool) {
	a, ok := c.Get(keyword)
	if !ok {
		return nil, false
	}
	return a.Render(), true
}

var _ parser.AliasSource = (*Collection)(nil)

type accum struct {
	valid   []*Pipeline
	invalid []InvalidAlias
}

// parseDefinition decodes and renders one definition. The template is parsed
// against only the previously accepted definitions: a template may reference
// an alias defined strictly before it and never a later one or itself, which
// forbids cycles structurally regardless of file ordering.
func parseDefinition(contents []byte, path string, accepted parser.AliasSource) (*Pipeline, *InvalidAlias) {
	var def struct {
		Keyword  string `yaml:"keyword"`
		Template string `yaml:"template"`
	}
	if err := yaml.Unmarshal(contents, &def); err != nil {
		return nil, &InvalidAlias{Path: path, Err: err}
	}
	if def.Keyword == "" || def.Template == "" {
		return nil, &InvalidAlias{Path: path, Err: fmt.Errorf("definition must set both keyword and template")}
	}
	stages, err := parser.ParseTemplate(def.Template, accepted)
	if err != nil {
		return nil, &InvalidAlias{Path: path, Keyword: def.Keyword, Err: err}
	}
	return &Pipeline{Keyword: def.Keyword, stages: stages}, nil
}

// foldSource resolves keywords during loading, before a Collection exists:
// against the definitions accepted so far, then optionally the built-ins.
// The built-in fallback is off while the built-ins themselves load.
type foldSource struct {
	accepted     []*Pipeline
	withBuiltins bool
}

func (s foldSource) Render(keyword string) ([]ast.Stage, bool) {
	for _, a := range s.accepted {
		if a.Keyword == keyword {
			return a.Render(), true
		}
	}
	if s.withBuiltins {
		for _, a := range builtins() {
			if a.Keyword == keyword {
				return a.Render(), true
			}
		}
	}
	return nil, false
}

func loadDirInto(dir string, acc *accum) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		contents, err := os.ReadFile(path)
		if err != nil {
			acc.invalid = append(acc.invalid, InvalidAlias{Path: path, Err: err})
			continue
		}
		a, invalid := parseDefinition(contents, path, foldSource{accepted: acc.valid, withBuiltins: true})
		if invalid != nil {
			acc.invalid = append(acc.invalid, *invalid)
			continue
		}
		acc.valid = append(acc.valid, a)
	}
	return nil
}

// LoadDir loads every definition from a single directory, in file-name
// order. Unreadable or malformed definitions come back as warnings.
func LoadDir(dir string) (*Collection, []InvalidAlias, error) {
	var acc accum
	if err := loadDirInto(dir, &acc); err != nil {
		return nil, nil, fmt.Errorf("reading alias directory: %w", err)
	}
	return &Collection{aliases: acc.valid}, acc.invalid, nil
}

// LoadAncestors walks from start (the working directory when empty) up the
// ancestor chain, loading each directory's DirName aliases. Directories
// nearer start are loaded first, so Get's first-match rule makes the nearest
// definition win.
func LoadAncestors(start string) (*Collection, []InvalidAlias, error) {
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, err
		}
		start = wd
	}
	var acc accum
	dir := filepath.Clean(start)
	for {
		aliasDir := filepath.Join(dir, DirName)
		if info, err := os.Stat(aliasDir); err == nil && info.IsDir() {
			if err := loadDirInto(aliasDir, &acc); err != nil {
				return nil, nil, fmt.Errorf("reading alias directory: %w", err)
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return &Collection{aliases: acc.valid}, acc.invalid, nil
}

var (
	builtinOnce      sync.Once
	builtinPipelines []*Pipeline
)

// builtins returns the embedded definitions, parsed once per process and
// immutable afterwards. They are loaded in file-name order with the same
// fold as local definitions, so a built-in may reference an earlier one.
// An invalid built-in is a packaging bug and is silently dropped.
func builtins() []*Pipeline {
	builtinOnce.Do(func() {
		entries, err := builtinFS.ReadDir("builtin")
		if err != nil {
			return
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, entry := range entries {
			contents, err := builtinFS.ReadFile("builtin/" + entry.Name())
			if err != nil {
				continue
			}
			a, invalid := parseDefinition(contents, entry.Name(), foldSource{accepted: builtinPipelines})
			if invalid == nil {
				builtinPipelines = append(builtinPipelines, a)
			}
		}
	})
	return builtinPipelines
}
