// Package policy decides whether agent permission requests are auto-approved
// or require interactive approval.
package policy

import (
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/agentbridge/agentbridge/pkg/types"
)

// Verdict is the outcome of a pure policy decision.
type Verdict string

const (
	// VerdictApprove means the request is auto-approved.
	VerdictApprove Verdict = "approve"
	// VerdictDeny means a configured rule rejects without asking.
	VerdictDeny Verdict = "deny"
	// VerdictAsk means interactive approval is required.
	VerdictAsk Verdict = "ask"
)

// Scope describes the directory boundaries a request is evaluated against.
type Scope struct {
	// WorkingDirectory is the directory the agent is confined to write
	// within. Empty when no working directory was assigned.
	WorkingDirectory string
	// WorkspaceFolders are the open workspace roots.
	WorkspaceFolders []string
}

// Rules carries configured extensions to the built-in decision order.
// Globs use doublestar syntax and only ever widen auto-approval for reads;
// shell patterns follow the "command subcommand *" matching scheme.
type Rules struct {
	ReadGlobs []string          `json:"readGlobs,omitempty" yaml:"readGlobs"`
	Shell     map[string]Action `json:"shell,omitempty" yaml:"shell"`
}

// Action is a configured reaction to a matching shell pattern.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
	ActionAsk   Action = "ask"
)

// Policy is a pure decision function over a request and its scope.
// It carries no mutable state and performs no side effects.
type Policy struct {
	rules Rules
}

// New creates a policy with the given configured rules.
func New(rules Rules) *Policy {
	return &Policy{rules: rules}
}

// Decide evaluates the built-in rules in order, first match wins:
//
//  1. read under the working directory: approve
//  2. read under any workspace folder: approve
//  3. write with a working directory that is itself not a workspace
//     folder, target nested under it: approve
//  4. otherwise: ask
//
// Configured rules run after the built-ins and can widen auto-approval for
// reads and shell commands only; a write into a workspace folder always
// falls through to ask.
func (p *Policy) Decide(req types.PermissionRequest, scope Scope) Verdict {
	switch r := req.(type) {
	case types.ReadRequest:
		return p.decideRead(r, scope)
	case types.WriteRequest:
		return p.decideWrite(r, scope)
	case types.ShellRequest:
		return p.decideShell(r, scope)
	}
	return VerdictAsk
}

func (p *Policy) decideRead(req types.ReadRequest, scope Scope) Verdict {
	if scope.WorkingDirectory != "" && pathWithin(req.Path, scope.WorkingDirectory) {
		return VerdictApprove
	}
	for _, folder := range scope.WorkspaceFolders {
		if pathWithin(req.Path, folder) {
			return VerdictApprove
		}
	}
	for _, glob := range p.rules.ReadGlobs {
		if ok, err := doublestar.Match(glob, filepath.ToSlash(req.Path)); err == nil && ok {
			return VerdictApprove
		}
	}
	return VerdictAsk
}

func (p *Policy) decideWrite(req types.WriteRequest, scope Scope) Verdict {
	wd := scope.WorkingDirectory
	if wd == "" {
		return VerdictAsk
	}
	// Writes are only auto-approved into an isolated checkout: a working
	// directory that is not itself one of the open workspace roots.
	for _, folder := range scope.WorkspaceFolders {
		if samePath(wd, folder) {
			return VerdictAsk
		}
	}
	if pathWithin(req.FileName, wd) {
		return VerdictApprove
	}
	return VerdictAsk
}

func (p *Policy) decideShell(req types.ShellRequest, scope Scope) Verdict {
	commands, err := ParseShellCommand(req.Command)
	if err != nil || len(commands) == 0 {
		return VerdictAsk
	}

	// Every command in a pipeline must be allowed for the whole request
	// to be auto-approved; any deny rejects the whole request.
	verdict := VerdictApprove
	for _, cmd := range commands {
		switch MatchShellPattern(cmd, p.rules.Shell) {
		case ActionDeny:
			return VerdictDeny
		case ActionAsk:
			verdict = VerdictAsk
		}
	}
	return verdict
}

// pathWithin reports whether path is equal to or nested under dir.
// Comparison is case-insensitive on platforms whose filesystems usually
// are, exact elsewhere.
func pathWithin(path, dir string) bool {
	if path == "" || dir == "" {
		return false
	}
	path = normalizePath(path)
	dir = normalizePath(dir)

	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// samePath reports whether two paths identify the same directory.
func samePath(a, b string) bool {
	return normalizePath(a) == normalizePath(b)
}

func normalizePath(p string) string {
	p = filepath.Clean(p)
	if caseInsensitiveFS() {
		p = strings.ToLower(p)
	}
	return p
}

func caseInsensitiveFS() bool {
	return runtime.GOOS == "darwin" || runtime.GOOS == "windows"
}
