// Package diff compares two text snapshots line by line.
package diff

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"timeline/internal/errors"
)

// MaxCells bounds the LCS table, old lines times new lines.
const MaxCells = 16 << 20

type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

func (t LineType) String() string {
	switch t {
	case Addition:
		return "+"
	case Deletion:
		return "-"
	default:
		return " "
	}
}

// Line is one line of a diff. OldNum and NewNum are 1-based and zero on the
// side the line does not exist in.
type Line struct {
	Type    LineType
	Content string
	OldNum  int
	NewNum  int
}

// Hunk is a run of changes with surrounding context, numbered the way
// unified diffs are.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

type Stats struct {
	Additions int
	Deletions int
}

type Result struct {
	Hunks []Hunk
	Stats Stats
}

// Engine produces line diffs with a fixed number of context lines.
type Engine struct {
	contextLines int
}

func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{contextLines: contextLines}
}

// IsBinary reports whether data cannot be shown as text.
func IsBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data)
}

// Diff compares before and after. Binary content and inputs whose LCS table would
// exceed MaxCells are rejected with a validation error.
func (e *Engine) Diff(before, after []byte) (*Result, error) {
	if IsBinary(before) || IsBinary(after) {
		return nil, errors.ValidationError("binary content cannot be diffed", nil)
	}

	a, b := splitLines(before), splitLines(after)
	if len(a)*len(b) > MaxCells {
		return nil, errors.ValidationError("content too large to diff",
			map[string]int{"old_lines": len(a), "new_lines": len(b)})
	}

	lines := script(a, b)

	result := &Result{Hunks: e.hunks(lines)}
	for _, l := range lines {
		switch l.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	return result, nil
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	parts := bytes.Split(bytes.TrimSuffix(data, []byte{'\n'}), []byte{'\n'})
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = string(p)
	}
	return lines
}

// script walks the LCS table of a and b forward and emits every line of
// both, deletions before additions within a change.
func script(a, b []string) []Line {
	n, m := len(a), len(b)
	lcs := make([][]int32, n+1)
	for i := range lcs {
		lcs[i] = make([]int32, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	lines := make([]Line, 0, max(n, m))
	i, j := 0, 0
	for i < n || j < m {
		switch {
		case i < n && j < m && a[i] == b[j]:
			lines = append(lines, Line{Type: Context, Content: a[i], OldNum: i + 1, NewNum: j + 1})
			i++
			j++
		case i < n && (j == m || lcs[i+1][j] >= lcs[i][j+1]):
			lines = append(lines, Line{Type: Deletion, Content: a[i], OldNum: i + 1})
			i++
		default:
			lines = append(lines, Line{Type: Addition, Content: b[j], NewNum: j + 1})
			j++
		}
	}
	return lines
}

// hunks groups changed lines with up to contextLines of context on each
// side, merging changes separated by at most twice that.
func (e *Engine) hunks(lines []Line) []Hunk {
	c := e.contextLines

	// old and new line counts before each index
	oldBefore := make([]int, len(lines)+1)
	newBefore := make([]int, len(lines)+1)
	for k, l := range lines {
		oldBefore[k+1], newBefore[k+1] = oldBefore[k], newBefore[k]
		if l.Type != Addition {
			oldBefore[k+1]++
		}
		if l.Type != Deletion {
			newBefore[k+1]++
		}
	}

	var hunks []Hunk
	i := 0
	for i < len(lines) {
		for i < len(lines) && lines[i].Type == Context {
			i++
		}
		if i == len(lines) {
			break
		}

		start := max(i-c, 0)
		end := i
		for {
			for end < len(lines) && lines[end].Type != Context {
				end++
			}
			k := end
			for k < len(lines) && lines[k].Type == Context {
				k++
			}
			if k < len(lines) && k-end <= 2*c {
				end = k
				continue
			}
			break
		}
		stop := min(end+c, len(lines))

		h := Hunk{
			OldLines: oldBefore[stop] - oldBefore[start],
			NewLines: newBefore[stop] - newBefore[start],
			OldStart: oldBefore[start],
			NewStart: newBefore[start],
			Lines:    lines[start:stop],
		}
		if h.OldLines > 0 {
			h.OldStart++
		}
		if h.NewLines > 0 {
			h.NewStart++
		}
		hunks = append(hunks, h)
		i = stop
	}
	return hunks
}

// Format renders r as unified diff hunks.
func (r *Result) Format() string {
	var buf bytes.Buffer
	for _, h := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
		for _, l := range h.Lines {
			buf.WriteString(l.Type.String())
			buf.WriteString(l.Content)
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}
