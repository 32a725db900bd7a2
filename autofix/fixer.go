// Package autofix statically repairs generated scene code before it is run.
//
// The fixer is a fixed pipeline of line passes. Every pass skips commented
// lines and only reports a fix when it changed text, so running the fixer on
// its own output is a no-op.
package autofix

import (
	"strings"
)

// Result is the outcome of one Fix call.
type Result struct {
	Artifact     string
	FixesApplied []string
}

// Fixer runs the configured passes in order.
type Fixer struct {
	passes []Pass
}

// New returns a Fixer with the default pass order: API fixes first, then
// the spatial ones.
func New() *Fixer {
	return &Fixer{passes: []Pass{
		cameraAPIPass,
		deprecatedPass,
		moveToPass,
		textScalePass,
		numericClampPass,
	}}
}

// Fix applies every pass once. It never fails; anything it cannot
// recognize is left as it was.
func (f *Fixer) Fix(artifact string) Result {
	lines := strings.Split(artifact, "\n")
	fixes := []string{}
	for _, pass := range f.passes {
		var applied []string
		lines, applied = pass(lines)
		fixes = append(fixes, applied...)
	}
	return Result{Artifact: strings.Join(lines, "\n"), FixesApplied: fixes}
}
