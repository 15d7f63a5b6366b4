package policy

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ShellCommand represents a parsed command with its arguments.
type ShellCommand struct {
	Name       string   // command name (e.g. "rm", "git")
	Args       []string // command arguments
	Subcommand string   // first non-flag argument (e.g. "commit" in "git commit")
}

// ParseShellCommand parses a shell command string into structured commands.
// Pipelines, lists, and substitutions all contribute their calls, so a
// compound command is only auto-approved when every call is.
func ParseShellCommand(command string) ([]ShellCommand, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	var commands []ShellCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd := extractCommand(call); cmd != nil {
				commands = append(commands, *cmd)
			}
		}
		return true
	})

	return commands, nil
}

// extractCommand extracts command name and arguments from a CallExpr.
func extractCommand(call *syntax.CallExpr) *ShellCommand {
	if len(call.Args) == 0 {
		return nil
	}

	cmd := &ShellCommand{}
	cmd.Name = wordToString(call.Args[0])
	if cmd.Name == "" {
		return nil
	}

	for _, arg := range call.Args[1:] {
		argStr := wordToString(arg)
		cmd.Args = append(cmd.Args, argStr)

		if cmd.Subcommand == "" && !strings.HasPrefix(argStr, "-") {
			cmd.Subcommand = argStr
		}
	}

	return cmd
}

// wordToString converts a syntax.Word to a string. Dynamic constructs are
// replaced by placeholders so they never match an allow pattern.
func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// MatchShellPattern finds the configured action for a command, trying the
// most specific pattern first: "git commit *", then "git *", then "git",
// then the global "*". Defaults to ask.
func MatchShellPattern(cmd ShellCommand, patterns map[string]Action) Action {
	if cmd.Subcommand != "" {
		if action, ok := patterns[cmd.Name+" "+cmd.Subcommand+" *"]; ok {
			return action
		}
	}

	if action, ok := patterns[cmd.Name+" *"]; ok {
		return action
	}

	if action, ok := patterns[cmd.Name]; ok {
		return action
	}

	if action, ok := patterns["*"]; ok {
		return action
	}

	return ActionAsk
}
