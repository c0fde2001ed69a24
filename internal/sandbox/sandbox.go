// Package sandbox is the embedded, bounded, I/O-free expression sandbox
// used by the Virtual-Point Engine's formulas and the Alarm Engine's script
// rules (§4.9, §4.10, and §9's "embedded scripting in the hot loop" design
// note).
//
// It wraps github.com/expr-lang/expr: a pure-expression language with no
// statements and no ambient I/O, so the "forbid mutation of shared state
// from scripts" requirement holds by construction rather than by an
// allowlist. Programs are compiled once at registration and cached;
// evaluation only binds a fresh variable environment per call, never
// touching shared Go state.
package sandbox

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// builtins is the minimal, pure, I/O-free function set exposed to every
// script, documented in SPEC_FULL.md §D: arithmetic/comparison/boolean
// logic come from the language itself; these four names round it out.
func builtins(now time.Time) map[string]any {
	return map[string]any{
		"abs": func(x float64) float64 {
			if x < 0 {
				return -x
			}
			return x
		},
		"min": func(a, b float64) float64 {
			if a < b {
				return a
			}
			return b
		},
		"max": func(a, b float64) float64 {
			if a > b {
				return a
			}
			return b
		},
		"now": func() int64 { return now.Unix() },
	}
}

// Program is a compiled, reusable script.
type Program struct {
	source string
	prog   *vm.Program
}

// Compile parses and compiles source once against a representative
// environment shape. Returned errors are registration-time (invalid-rule /
// script-error) failures, not evaluated per-call.
func Compile(source string, sampleVars map[string]any) (*Program, error) {
	env := mergeEnv(sampleVars, builtins(time.Unix(0, 0)))
	prog, err := expr.Compile(source, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile %q: %w", source, err)
	}
	return &Program{source: source, prog: prog}, nil
}

// Source returns the original script text.
func (p *Program) Source() string { return p.source }

// Run evaluates the compiled program against vars (the batch's bound input
// values) and now (the batch's logical timestamp, never wall-clock, so
// evaluating the same snapshot twice is guaranteed to yield the same
// result — §8's purity invariant). Each call builds a fresh environment map;
// no mutable VM state is ever shared across goroutines.
func (p *Program) Run(vars map[string]any, now time.Time) (any, error) {
	env := mergeEnv(vars, builtins(now))
	out, err := expr.Run(p.prog, env)
	if err != nil {
		return nil, fmt.Errorf("sandbox: eval %q: %w", p.source, err)
	}
	return out, nil
}

func mergeEnv(vars map[string]any, extra map[string]any) map[string]any {
	env := make(map[string]any, len(vars)+len(extra))
	for k, v := range vars {
		env[k] = v
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}
