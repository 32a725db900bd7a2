package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"newton/shared"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		stderr   string
		exitCode int
		want     shared.ErrorKind
	}{
		{"exit 124", "", 124, shared.ErrorKindTimeout},
		{"timed out text", "Rendering timed out after 180 seconds", 1, shared.ErrorKindTimeout},
		{"latex", "! LaTeX Error: File `standalone.cls' not found.", 1, shared.ErrorKindSyntaxOrMarkup},
		{"control sequence", "! Undefined control sequence.\nTraceback", 1, shared.ErrorKindSyntaxOrMarkup},
		{"syntax", "  File \"scene.py\", line 3\nSyntaxError: invalid syntax", 1, shared.ErrorKindSyntaxOrMarkup},
		{"attribute", "Traceback\nAttributeError: 'Dot' object has no attribute 'glow'", 1, shared.ErrorKindRuntimeAttribute},
		{"import", "ModuleNotFoundError: No module named 'scipy'", 1, shared.ErrorKindImport},
		{"memory", "Killed", 137, shared.ErrorKindMemory},
		{"daemon", "docker: Error response from daemon: Internal Server Error", 125, shared.ErrorKindSandboxDaemon},
		{"partial", "Error writing partial movie file", 1, shared.ErrorKindPartialOutput},
		{"traceback", "Traceback (most recent call last):\nValueError: bad", 1, shared.ErrorKindRuntime},
		{"unknown", "something odd", 2, shared.ErrorKindUnknown},
		{"empty", "", 1, shared.ErrorKindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.stderr, tt.exitCode))
		})
	}
}

func TestClassifyIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, shared.ErrorKindRuntimeAttribute, Classify("ATTRIBUTEERROR", 1))
	assert.Equal(t, shared.ErrorKindSyntaxOrMarkup, Classify("latex error", 1))
}
