package execution

import (
	"strings"

	"newton/shared"
)

// TimeoutExitCode is the exit status reported when the hard timeout fired.
const TimeoutExitCode = 124

type marker struct {
	kind    shared.ErrorKind
	needles []string
}

// Order matters: the first matching marker wins. Markup errors come before
// syntax errors because a failed TeX compile is often reported alongside a
// Python traceback, and the traceback catch-all is last.
var markers = []marker{
	{shared.ErrorKindTimeout, []string{"timed out"}},
	{shared.ErrorKindSyntaxOrMarkup, []string{"latex error", "undefined control sequence"}},
	{shared.ErrorKindSyntaxOrMarkup, []string{"syntaxerror"}},
	{shared.ErrorKindRuntimeAttribute, []string{"attributeerror"}},
	{shared.ErrorKindImport, []string{"importerror", "modulenotfounderror"}},
	{shared.ErrorKindMemory, []string{"memoryerror", "killed"}},
	{shared.ErrorKindSandboxDaemon, []string{"internal server error", "docker: request returned", "cannot connect to the docker daemon"}},
	{shared.ErrorKindPartialOutput, []string{"partial movie file"}},
	{shared.ErrorKindRuntime, []string{"traceback"}},
}

// Classify maps sandbox output onto the error taxonomy. Matching is case
// insensitive and never fails; unrecognized output is Unknown.
func Classify(stderr string, exitCode int) shared.ErrorKind {
	if exitCode == TimeoutExitCode {
		return shared.ErrorKindTimeout
	}
	lower := strings.ToLower(stderr)
	for _, m := range markers {
		for _, n := range m.needles {
			if strings.Contains(lower, n) {
				return m.kind
			}
		}
	}
	return shared.ErrorKindUnknown
}
