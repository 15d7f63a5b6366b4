// Package diff computes unified-diff summaries for completed file edits.
package diff

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Summary describes the change an edit made to one file.
type Summary struct {
	Path      string
	Additions int
	Deletions int
	Patch     string
}

// Summarize calculates a unified diff and line counts between the before
// and after content of a file. baseDir, when set, relativizes the path in
// the patch headers.
func Summarize(path, before, after, baseDir string) Summary {
	s := Summary{Path: path}
	if before == after {
		return s
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			s.Additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			s.Deletions += countLines(d.Text)
		}
	}

	patches := dmp.PatchMake(before, diffs)
	patchText := dmp.PatchToText(patches)
	if patchText == "" {
		return s
	}

	var builder strings.Builder
	if rel := relativePath(path, baseDir); rel != "" {
		fmt.Fprintf(&builder, "--- %s\n", rel)
		fmt.Fprintf(&builder, "+++ %s\n", rel)
	}
	builder.WriteString(patchText)
	s.Patch = builder.String()

	return s
}

func relativePath(path, baseDir string) string {
	if path == "" {
		return ""
	}
	if baseDir == "" {
		return path
	}
	if rel, err := filepath.Rel(baseDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
