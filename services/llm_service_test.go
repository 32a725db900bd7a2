package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEveryRoleHasAPrompt(t *testing.T) {
	for _, r := range []Role{RoleDirector, RoleArchitect, RolePhysicist, RoleCoder, RoleHealer} {
		t.Run(r.String(), func(t *testing.T) {
			assert.NotEmpty(t, r.SystemPrompt())
		})
	}
	assert.Contains(t, RoleCoder.SystemPrompt(), "PhysicsScene")
	assert.Contains(t, RoleHealer.SystemPrompt(), "PhysicsScene")
	assert.Equal(t, "role(9)", Role(9).String())
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"tagged", "```python\nfrom manim import *\n```", "from manim import *"},
		{"bare", "```\nx = 1\n```", "x = 1"},
		{"none", "  x = 1\n", "x = 1"},
		{"json", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.in))
		})
	}
}
