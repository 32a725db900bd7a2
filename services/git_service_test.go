package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffArtifacts(t *testing.T) {
	orig := "from manim import *\nclass PhysicsScene(Scene):\n    def construct(self):\n        dot.set_glow(1)\n"
	fixed := "from manim import *\nclass PhysicsScene(Scene):\n    def construct(self):\n        dot.set_color(YELLOW)\n"

	d := DiffArtifacts(orig, fixed)
	assert.Contains(t, d, "-        dot.set_glow(1)\n")
	assert.Contains(t, d, "+        dot.set_color(YELLOW)\n")
	assert.Contains(t, d, " from manim import *\n")

	added, removed := CountChangedLines(orig, fixed)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)
}

func TestDiffArtifactsCollapsesLongUnchangedRuns(t *testing.T) {
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, "x = 1")
	}
	orig := strings.Join(lines, "\n") + "\nend = 0\n"
	fixed := strings.Join(lines, "\n") + "\nend = 1\n"

	d := DiffArtifacts(orig, fixed)
	assert.Contains(t, d, " ... 16 unchanged lines\n")
	assert.Contains(t, d, "+end = 1\n")
}

func TestDiffIdentical(t *testing.T) {
	added, removed := CountChangedLines("a\nb\n", "a\nb\n")
	assert.Zero(t, added)
	assert.Zero(t, removed)
	assert.NotContains(t, DiffArtifacts("a\nb\n", "a\nb\n"), "+")
}
