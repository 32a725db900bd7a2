package autofix

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Pass rewrites the artifact line by line. It returns the new lines and a
// description for every change that actually altered text.
type Pass func(lines []string) ([]string, []string)

// Screen and safe boxes for positional literals.
const (
	hardX = 7.0
	hardY = 4.0
	safeX = 6.0
	safeY = 3.5

	numericLimit = 10.0
	numericClamp = 6.0
)

var (
	sceneClassRe     = regexp.MustCompile(`class\s+(\w+)\(\s*Scene\s*\)\s*:`)
	movingCameraRe   = regexp.MustCompile(`class\s+\w+\(\s*MovingCameraScene\s*\)\s*:`)
	moveToLiteralRe  = regexp.MustCompile(`\.move_to\(\[\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*(?:,\s*(-?\d+(?:\.\d+)?)\s*)?\]\)`)
	numericLiteralRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	textAssignRe     = regexp.MustCompile(`^\s*[A-Za-z_][\w.]*\s*=\s*\w*Tex\w*\(`)
)

func isComment(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#")
}

// cameraAPIPass upgrades the scene base class when the camera frame is used,
// and strips .animate from a 3D camera call that does not support it.
func cameraAPIPass(lines []string) ([]string, []string) {
	var fixes []string
	usesFrame := false
	hasMoving := false
	for _, l := range lines {
		if isComment(l) {
			continue
		}
		if strings.Contains(l, "self.camera.frame") {
			usesFrame = true
		}
		if movingCameraRe.MatchString(l) {
			hasMoving = true
		}
	}

	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l
		if isComment(l) {
			continue
		}
		if usesFrame && !hasMoving && sceneClassRe.MatchString(l) {
			out[i] = sceneClassRe.ReplaceAllString(l, "class $1(MovingCameraScene):")
			fixes = append(fixes, "Upgraded Scene to MovingCameraScene to support self.camera.frame")
			hasMoving = true
		}
		if strings.Contains(out[i], "self.camera.animate.set_focal_distance") {
			out[i] = strings.ReplaceAll(out[i], "self.camera.animate.set_focal_distance", "self.camera.set_focal_distance")
			fixes = append(fixes, "Removed .animate from ThreeDCamera method")
		}
	}
	return out, fixes
}

// deprecatedPass disables calls that do not exist in the renderer version we
// target and renames removed animations.
func deprecatedPass(lines []string) ([]string, []string) {
	var fixes []string
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l
		if isComment(l) {
			continue
		}
		switch {
		case strings.Contains(l, ".set_glow(") || strings.Contains(l, ".add_glow_effect("):
			out[i] = commentOut(l, "Method not available in v0.18")
			fixes = append(fixes, "Removed invalid glow effect method")
		case strings.Contains(l, "np.array") && strings.Contains(l, ".rotate("):
			out[i] = commentOut(l, "numpy arrays do not have .rotate()")
			fixes = append(fixes, "Disabled invalid numpy.rotate call")
		case strings.Contains(l, "ShowCreation("):
			out[i] = strings.ReplaceAll(l, "ShowCreation(", "Create(") + "  # [AutoFix] ShowCreation renamed to Create"
			fixes = append(fixes, "Replaced deprecated ShowCreation with Create")
		}
	}
	return out, fixes
}

// commentOut keeps the indentation so the surrounding block stays valid.
func commentOut(line, reason string) string {
	trimmed := strings.TrimLeft(line, " \t")
	indent := line[:len(line)-len(trimmed)]
	return indent + "# " + trimmed + " # [AutoFix] " + reason
}

// moveToPass clamps literal .move_to([x, y(, z)]) positions that leave the
// screen. Only the offending axes change; the rest keep their original text.
func moveToPass(lines []string) ([]string, []string) {
	var fixes []string
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l
		if isComment(l) || !strings.Contains(l, ".move_to([") {
			continue
		}
		out[i] = moveToLiteralRe.ReplaceAllStringFunc(l, func(m string) string {
			g := moveToLiteralRe.FindStringSubmatch(m)
			x, errX := strconv.ParseFloat(g[1], 64)
			y, errY := strconv.ParseFloat(g[2], 64)
			if errX != nil || errY != nil {
				return m
			}
			xs, ys := g[1], g[2]
			changed := false
			if x < -hardX || x > hardX {
				xs = formatNumber(clamp(x, -safeX, safeX))
				changed = true
			}
			if y < -hardY || y > hardY {
				ys = formatNumber(clamp(y, -safeY, safeY))
				changed = true
			}
			if !changed {
				return m
			}
			coords := []string{xs, ys}
			if g[3] != "" {
				coords = append(coords, g[3])
			}
			fixes = append(fixes, fmt.Sprintf("Clamped coordinates from [%s, %s] to [%s, %s]", g[1], g[2], xs, ys))
			return ".move_to([" + strings.Join(coords, ", ") + "])"
		})
	}
	return out, fixes
}

// textScalePass adds a scale to text objects that have none, shrinking
// longer lines more.
func textScalePass(lines []string) ([]string, []string) {
	var fixes []string
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l
		if isComment(l) {
			continue
		}
		if !strings.Contains(l, "Text(") && !strings.Contains(l, "Tex(") {
			continue
		}
		if strings.Contains(l, ".scale(") || strings.Contains(l, "scale=") {
			continue
		}
		s := textScale(len(l))
		switch {
		case strings.Contains(l, ".move_to("):
			out[i] = strings.Replace(l, ".move_to(", fmt.Sprintf(".scale(%s).move_to(", s), 1)
		case assignsTextCall(l):
			out[i] = strings.TrimRight(l, " \t") + fmt.Sprintf(".scale(%s)", s)
		}
		if out[i] != l {
			fixes = append(fixes, fmt.Sprintf("Added scale=%s to text object", s))
		}
	}
	return out, fixes
}

// assignsTextCall reports whether l assigns a single text constructor call,
// as in `title = Text("a")`, so a trailing .scale applies to the text object.
func assignsTextCall(l string) bool {
	l = strings.TrimRight(l, " \t")
	loc := textAssignRe.FindStringIndex(l)
	if loc == nil {
		return false
	}
	depth := 0
	var quote byte
	for i := loc[1] - 1; i < len(l); i++ {
		c := l[i]
		switch {
		case quote != 0 && c == '\\':
			i++
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i == len(l)-1
			}
		}
	}
	return false
}

func textScale(n int) string {
	switch {
	case n > 80:
		return "0.5"
	case n > 50:
		return "0.6"
	}
	return "0.7"
}

// numericClampPass pulls oversized bare literals on positioning lines back
// to the safe range. Literals inside strings or identifiers are left alone.
func numericClampPass(lines []string) ([]string, []string) {
	var fixes []string
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l
		if isComment(l) {
			continue
		}
		if !strings.Contains(l, "move_to") && !strings.Contains(l, "shift") && !strings.Contains(l, "next_to") {
			continue
		}
		quoted := quotedSpans(l)
		var b strings.Builder
		last := 0
		for _, loc := range numericLiteralRe.FindAllStringIndex(l, -1) {
			start, end := loc[0], loc[1]
			if l[start] == '-' && start > 0 && (isIdent(l[start-1]) || l[start-1] == ')' || l[start-1] == ']') {
				// "a-12" is a subtraction; only the 12 is the literal.
				start++
			}
			if inSpans(start, quoted) || partOfWord(l, start, end) {
				continue
			}
			v, err := strconv.ParseFloat(l[start:end], 64)
			if err != nil || (v >= -numericLimit && v <= numericLimit) {
				continue
			}
			b.WriteString(l[last:start])
			b.WriteString(formatNumber(clamp(v, -numericClamp, numericClamp)))
			last = end
		}
		if last == 0 {
			continue
		}
		b.WriteString(l[last:])
		out[i] = b.String()
		fixes = append(fixes, "Clamped oversized coordinate literal on line "+strconv.Itoa(i+1))
	}
	return out, fixes
}

// partOfWord reports whether the literal is glued to an identifier, an
// exponent or another number (x10, 1e12, 3.14 seen from the middle).
func partOfWord(l string, start, end int) bool {
	if start > 0 && l[start] != '-' {
		if c := l[start-1]; isIdent(c) || c == '.' {
			return true
		}
	}
	if end < len(l) {
		if c := l[end]; isIdent(c) || c == '.' {
			return true
		}
	}
	return false
}

func isIdent(c byte) bool {
	return c == '_' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// quotedSpans returns [start, end) ranges of single or double quoted text.
// Escapes are honored; an unterminated quote runs to end of line.
func quotedSpans(l string) [][2]int {
	var spans [][2]int
	var quote byte
	start := 0
	for i := 0; i < len(l); i++ {
		c := l[i]
		switch {
		case quote == 0 && (c == '"' || c == '\''):
			quote, start = c, i
		case quote != 0 && c == '\\':
			i++
		case quote != 0 && c == quote:
			spans = append(spans, [2]int{start, i + 1})
			quote = 0
		case quote == 0 && c == '#':
			spans = append(spans, [2]int{i, len(l)})
			return spans
		}
	}
	if quote != 0 {
		spans = append(spans, [2]int{start, len(l)})
	}
	return spans
}

func inSpans(pos int, spans [][2]int) bool {
	for _, s := range spans {
		if pos >= s[0] && pos < s[1] {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
