package autofix

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

const (
	spatialLimitX  = 7.1
	spatialLimitY  = 4.1
	longTextLength = 60
)

// SpatialReport lists what the spatial scan found. Critical entries point at
// positions off the screen, warnings at layout risks.
type SpatialReport struct {
	Critical    []string
	Warnings    []string
	Suggestions []string
	ParseError  bool
}

// Valid is false when any critical issue was found.
func (r SpatialReport) Valid() bool { return len(r.Critical) == 0 && !r.ParseError }

// Issues flattens the report in display order.
func (r SpatialReport) Issues() []string {
	out := make([]string, 0, len(r.Critical)+len(r.Warnings))
	out = append(out, r.Critical...)
	return append(out, r.Warnings...)
}

// ScanSpatial walks the syntax tree of the artifact looking for literal
// [x, y, z] triples outside the screen and long Text literals. It reports
// and never rewrites.
func ScanSpatial(ctx context.Context, artifact string) SpatialReport {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	src := []byte(artifact)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return SpatialReport{ParseError: true, Critical: []string{fmt.Sprintf("parse failed: %v", err)}}
	}
	defer tree.Close()

	var report SpatialReport
	root := tree.RootNode()
	if root.HasError() {
		report.Warnings = append(report.Warnings, "WARNING: source has syntax errors, scan is partial")
	}
	walk(root, func(n *sitter.Node) {
		switch n.Type() {
		case "list", "tuple":
			checkTriple(n, src, &report)
		case "call":
			checkLongText(n, src, &report)
		}
	})

	if !strings.Contains(artifact, "layout_helper") {
		report.Suggestions = append(report.Suggestions, "Import layout_helper for safer positioning.")
	}
	if len(report.Critical) > 0 {
		report.Suggestions = append(report.Suggestions, "Use smart_position(obj) to keep objects on screen.")
	}
	return report
}

func walk(n *sitter.Node, visit func(*sitter.Node)) {
	visit(n)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		walk(n.NamedChild(i), visit)
	}
}

func checkTriple(n *sitter.Node, src []byte, report *SpatialReport) {
	if n.NamedChildCount() != 3 {
		return
	}
	var coords [3]float64
	for i := 0; i < 3; i++ {
		v, ok := numericValue(n.NamedChild(i), src)
		if !ok {
			return
		}
		coords[i] = v
	}
	x, y := coords[0], coords[1]
	if x > spatialLimitX || x < -spatialLimitX {
		report.Critical = append(report.Critical, fmt.Sprintf("CRITICAL: X-coordinate %s is OFF-SCREEN (Bounds: ±7.0) at line %d.", formatNumber(x), n.StartPoint().Row+1))
	}
	if y > spatialLimitY || y < -spatialLimitY {
		report.Critical = append(report.Critical, fmt.Sprintf("CRITICAL: Y-coordinate %s is OFF-SCREEN (Bounds: ±4.0) at line %d.", formatNumber(y), n.StartPoint().Row+1))
	}
}

// numericValue resolves integer and float literals and their negation.
// Anything dynamic is not a literal and ends the check.
func numericValue(n *sitter.Node, src []byte) (float64, bool) {
	switch n.Type() {
	case "integer", "float":
		v, err := strconv.ParseFloat(strings.ReplaceAll(n.Content(src), "_", ""), 64)
		return v, err == nil
	case "unary_operator":
		op := n.ChildByFieldName("operator")
		arg := n.ChildByFieldName("argument")
		if op == nil || arg == nil {
			return 0, false
		}
		v, ok := numericValue(arg, src)
		if !ok {
			return 0, false
		}
		switch op.Content(src) {
		case "-":
			return -v, true
		case "+":
			return v, true
		}
	}
	return 0, false
}

func checkLongText(n *sitter.Node, src []byte, report *SpatialReport) {
	fn := n.ChildByFieldName("function")
	if fn == nil || fn.Type() != "identifier" || fn.Content(src) != "Text" {
		return
	}
	args := n.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return
	}
	first := args.NamedChild(0)
	if first.Type() != "string" {
		return
	}
	text := stringLiteralValue(first.Content(src))
	if len([]rune(text)) > longTextLength {
		report.Warnings = append(report.Warnings, fmt.Sprintf("WARNING: Long text detected (%d chars) at line %d. Use fit_text() or a paragraph.", len([]rune(text)), n.StartPoint().Row+1))
	}
}

// stringLiteralValue strips the prefix and quotes from a Python string
// literal. Escapes are kept as written.
func stringLiteralValue(lit string) string {
	lit = strings.TrimLeft(lit, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(lit, q) && strings.HasSuffix(lit, q) && len(lit) >= 2*len(q) {
			return lit[len(q) : len(lit)-len(q)]
		}
	}
	return lit
}
