// Package patch carries the one-off schema hotfixes that were applied to
// production by hand before this tool existed.
//
// A patch is a named list of SQL statements with declared post-apply
// checks. Applying one is deliberately unguarded: no transaction, no
// existence probe, no IF NOT EXISTS. A patch that has already been applied
// fails with the engine's duplicate error, classified for the caller, and
// the decision about what to do next stays with the operator. That is how
// the original scripts behaved and the databases in the field were shaped
// by it.
package patch

import (
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
)

//go:embed patches
var files embed.FS

// ErrUnknown reports a patch name that is not in the manifest.
var ErrUnknown = errors.New("internal/patch: unknown patch")

// Check is a declared post-apply assertion against the live schema.
type Check struct {
	Type     string `yaml:"type"`
	Table    string `yaml:"table"`
	Column   string `yaml:"column"`
	Integer  bool   `yaml:"integer"`
	Nullable bool   `yaml:"nullable"`
}

// Patch is one hotfix: its SQL body plus the manifest metadata.
type Patch struct {
	Name    string   `yaml:"name"`
	File    string   `yaml:"file"`
	Table   string   `yaml:"table"`
	Summary string   `yaml:"summary"`
	Notes   string   `yaml:"notes"`
	Engines []string `yaml:"engines"`
	Checks  []Check  `yaml:"checks"`

	sql string
}

type manifest struct {
	Patches []*Patch `yaml:"patches"`
}

var load = sync.OnceValues(func() ([]*Patch, error) {
	raw, err := files.ReadFile("patches/manifest.yaml")
	if err != nil {
		return nil, fmt.Errorf("internal/patch: read manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("internal/patch: parse manifest: %w", err)
	}

	for _, p := range m.Patches {
		body, err := files.ReadFile("patches/" + p.File)
		if err != nil {
			return nil, fmt.Errorf("internal/patch: read %s: %w", p.File, err)
		}
		p.sql = string(body)
	}
	return m.Patches, nil
})

// All returns every embedded patch in manifest order.
func All() ([]*Patch, error) {
	return load()
}

// Get returns the named patch or ErrUnknown.
func Get(name string) (*Patch, error) {
	patches, err := load()
	if err != nil {
		return nil, err
	}
	for _, p := range patches {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
}

// SupportsDialect reports whether the patch may run on the engine. An empty
// engines list means every engine.
func (p *Patch) SupportsDialect(dialect string) bool {
	if len(p.Engines) == 0 {
		return true
	}
	for _, e := range p.Engines {
		if e == dialect {
			return true
		}
	}
	return false
}

// Statements returns the patch body split into executable statements.
func (p *Patch) Statements() []string {
	return SplitStatements(p.sql)
}

// SplitStatements splits a script on line-terminating semicolons. Comment
// and blank lines are dropped. Procedural bodies are out of scope; none of
// the hotfixes ever needed one.
func SplitStatements(script string) []string {
	var stmts []string
	var b strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(b.String())
		stmt = strings.TrimSuffix(stmt, ";")
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		b.Reset()
	}

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return stmts
}
