package policy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentbridge/agentbridge/pkg/types"
)

func TestDecideRead(t *testing.T) {
	scope := Scope{
		WorkingDirectory: "/tmp/worktrees/checkout-1",
		WorkspaceFolders: []string{"/home/user/project"},
	}

	p := New(Rules{})

	tests := []struct {
		name     string
		path     string
		expected Verdict
	}{
		{
			name:     "inside working directory",
			path:     "/tmp/worktrees/checkout-1/src/main.go",
			expected: VerdictApprove,
		},
		{
			name:     "working directory itself",
			path:     "/tmp/worktrees/checkout-1",
			expected: VerdictApprove,
		},
		{
			name:     "inside workspace folder",
			path:     "/home/user/project/README.md",
			expected: VerdictApprove,
		},
		{
			name:     "outside both",
			path:     "/etc/passwd",
			expected: VerdictAsk,
		},
		{
			name:     "sibling of working directory",
			path:     "/tmp/worktrees/checkout-2/file.go",
			expected: VerdictAsk,
		},
		{
			name:     "prefix but not nested",
			path:     "/home/user/project-other/file.go",
			expected: VerdictAsk,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := p.Decide(types.ReadRequest{Path: tt.path}, scope)
			assert.Equal(t, tt.expected, verdict)
		})
	}
}

func TestDecideReadNoWorkingDirectory(t *testing.T) {
	scope := Scope{WorkspaceFolders: []string{"/home/user/project"}}
	p := New(Rules{})

	assert.Equal(t, VerdictApprove,
		p.Decide(types.ReadRequest{Path: "/home/user/project/a.go"}, scope))
	assert.Equal(t, VerdictAsk,
		p.Decide(types.ReadRequest{Path: "/somewhere/else/a.go"}, scope))
}

func TestDecideReadConfiguredGlobs(t *testing.T) {
	p := New(Rules{ReadGlobs: []string{"/opt/shared/**"}})
	scope := Scope{}

	assert.Equal(t, VerdictApprove,
		p.Decide(types.ReadRequest{Path: "/opt/shared/docs/api.md"}, scope))
	assert.Equal(t, VerdictAsk,
		p.Decide(types.ReadRequest{Path: "/opt/private/docs/api.md"}, scope))
}

func TestDecideWrite(t *testing.T) {
	p := New(Rules{})

	tests := []struct {
		name     string
		file     string
		scope    Scope
		expected Verdict
	}{
		{
			name: "isolated checkout write approved",
			file: "/tmp/worktrees/checkout-1/src/main.go",
			scope: Scope{
				WorkingDirectory: "/tmp/worktrees/checkout-1",
				WorkspaceFolders: []string{"/home/user/project"},
			},
			expected: VerdictApprove,
		},
		{
			name: "write into live workspace needs approval",
			file: "/home/user/project/src/main.go",
			scope: Scope{
				WorkingDirectory: "/home/user/project",
				WorkspaceFolders: []string{"/home/user/project"},
			},
			expected: VerdictAsk,
		},
		{
			name: "no working directory set",
			file: "/tmp/anywhere/file.go",
			scope: Scope{
				WorkspaceFolders: []string{"/home/user/project"},
			},
			expected: VerdictAsk,
		},
		{
			name: "target outside the working directory",
			file: "/etc/hosts",
			scope: Scope{
				WorkingDirectory: "/tmp/worktrees/checkout-1",
			},
			expected: VerdictAsk,
		},
		{
			name: "workspace file even with separate working directory",
			file: "/home/user/project/main.go",
			scope: Scope{
				WorkingDirectory: "/tmp/worktrees/checkout-1",
				WorkspaceFolders: []string{"/home/user/project"},
			},
			expected: VerdictAsk,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := p.Decide(types.WriteRequest{FileName: tt.file}, tt.scope)
			assert.Equal(t, tt.expected, verdict)
		})
	}
}

func TestDecideShell(t *testing.T) {
	p := New(Rules{Shell: map[string]Action{
		"git status *": ActionAllow,
		"git *":        ActionAsk,
		"ls *":         ActionAllow,
		"ls":           ActionAllow,
		"rm *":         ActionDeny,
	}})
	scope := Scope{}

	tests := []struct {
		name     string
		command  string
		expected Verdict
	}{
		{"allowed simple", "ls", VerdictApprove},
		{"allowed with args", "ls -la /tmp", VerdictApprove},
		{"allowed subcommand", "git status --short", VerdictApprove},
		{"ask for other git", "git push origin main", VerdictAsk},
		{"denied pattern", "rm -rf /", VerdictDeny},
		{"deny wins in pipeline", "ls | rm file", VerdictDeny},
		{"ask wins over allow in pipeline", "ls | git push", VerdictAsk},
		{"unknown command", "curl http://example.com", VerdictAsk},
		{"unparseable", "if then fi ((", VerdictAsk},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := p.Decide(types.ShellRequest{Command: tt.command}, scope)
			assert.Equal(t, tt.expected, verdict)
		})
	}
}

func TestPathWithinRelativeCleaning(t *testing.T) {
	assert.True(t, pathWithin(filepath.Join("/a", "b", "..", "b", "c"), "/a/b"))
	assert.False(t, pathWithin("/a/b/../../etc", "/a/b"))
}
