package services

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/utils/diff"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffArtifacts renders a line diff from original to fixed in unified style
// without hunk headers: removed lines start with "-", added lines with "+",
// and unchanged lines with a space. Runs of more than contextLines unchanged
// lines are collapsed.
func DiffArtifacts(original, fixed string) string {
	const contextLines = 2

	var b strings.Builder
	for _, d := range diff.Do(original, fixed) {
		lines := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			writePrefixed(&b, "-", lines)
		case diffmatchpatch.DiffInsert:
			writePrefixed(&b, "+", lines)
		case diffmatchpatch.DiffEqual:
			if len(lines) > 2*contextLines+1 {
				writePrefixed(&b, " ", lines[:contextLines])
				fmt.Fprintf(&b, " ... %d unchanged lines\n", len(lines)-2*contextLines)
				writePrefixed(&b, " ", lines[len(lines)-contextLines:])
				continue
			}
			writePrefixed(&b, " ", lines)
		}
	}
	return b.String()
}

// CountChangedLines reports how many lines were added and removed.
func CountChangedLines(original, fixed string) (added, removed int) {
	for _, d := range diff.Do(original, fixed) {
		n := len(splitLines(d.Text))
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func writePrefixed(b *strings.Builder, prefix string, lines []string) {
	for _, l := range lines {
		b.WriteString(prefix)
		b.WriteString(l)
		b.WriteByte('\n')
	}
}
