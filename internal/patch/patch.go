// Package patch implements a restricted unified-diff format: parsing,
// fuzzy application with line-drift tolerance, inversion, and diff
// generation. The same format drives conflict handling and the edit
// history walk, so Apply and Invert must round-trip exactly.
package patch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	errs "github.com/alexjbarnes/drivesync/internal/errors"
)

// DefaultDrift is how far (in lines) a hunk may land from its declared
// start and still apply. Diffs are replayed against content that may have
// shifted since capture, so exact-offset matching would fail spuriously.
// Empirical tolerance, not a structural limit.
const DefaultDrift = 5

// Options control hunk application.
type Options struct {
	// Drift is the maximum line offset searched around a hunk's declared
	// start line. Negative values are treated as zero.
	Drift int

	// Strict makes Apply fail (after attempting every hunk) when any hunk
	// did not match, instead of returning a best-effort result.
	Strict bool
}

// DefaultOptions returns best-effort application with the default drift.
func DefaultOptions() Options {
	return Options{Drift: DefaultDrift}
}

// Hunk is one parsed change block.
type Hunk struct {
	// Start is the hunk's declared position on the old side. For hunks
	// with search lines it is the 1-based line number of the first search
	// line; for pure insertions it is the count of old lines preceding
	// the insertion point.
	Start int

	// Search holds the old-side lines (removed and context, in order).
	Search []string

	// Replace holds the new-side lines (added and context, in order).
	Replace []string
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Parse splits a diff into hunks. Body lines must be prefixed with '-',
// '+' or ' '; anything else (other than blank separator lines) is
// rejected.
func Parse(diff string) ([]Hunk, error) {
	var hunks []Hunk
	var cur *Hunk

	for i, line := range strings.Split(diff, "\n") {
		if m := hunkHeaderRe.FindStringSubmatch(line); m != nil {
			start, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("hunk header %q: %w", line, errs.ErrBadHunk)
			}
			hunks = append(hunks, Hunk{Start: start})
			cur = &hunks[len(hunks)-1]
			continue
		}

		if line == "" {
			// Blank separator or the diff's trailing newline.
			continue
		}

		if cur == nil {
			return nil, fmt.Errorf("line %d: content before first hunk header: %w", i+1, errs.ErrBadHunk)
		}

		body := line[1:]
		switch line[0] {
		case '-':
			cur.Search = append(cur.Search, body)
		case '+':
			cur.Replace = append(cur.Replace, body)
		case ' ':
			cur.Search = append(cur.Search, body)
			cur.Replace = append(cur.Replace, body)
		default:
			return nil, fmt.Errorf("line %d: unknown prefix %q: %w", i+1, line[0], errs.ErrBadHunk)
		}
	}

	return hunks, nil
}

// Apply patches content with diff. Hunks are applied in reverse document
// order so earlier splices cannot shift the positions of hunks not yet
// applied. Returns the patched content and the number of hunks that did
// not match. In strict mode a nonzero unmatched count is also an error,
// reported only after every hunk has been attempted.
func Apply(content, diff string, opts Options) (string, int, error) {
	hunks, err := Parse(diff)
	if err != nil {
		return content, 0, err
	}
	if len(hunks) == 0 {
		return content, 0, nil
	}

	drift := opts.Drift
	if drift < 0 {
		drift = 0
	}

	lines := strings.Split(content, "\n")
	unmatched := 0

	for i := len(hunks) - 1; i >= 0; i-- {
		h := hunks[i]

		if len(h.Search) == 0 {
			// Pure insertion: no content to anchor on, trust the
			// declared position.
			at := h.Start
			if at < 0 {
				at = 0
			}
			if at > len(lines) {
				at = len(lines)
			}
			lines = splice(lines, at, 0, h.Replace)
			continue
		}

		at := locate(lines, h.Search, h.Start-1, drift)
		if at < 0 {
			unmatched++
			continue
		}
		lines = splice(lines, at, len(h.Search), h.Replace)
	}

	patched := strings.Join(lines, "\n")

	if opts.Strict && unmatched > 0 {
		return patched, unmatched, fmt.Errorf("%d of %d hunks unmatched: %w", unmatched, len(hunks), errs.ErrPatchFailed)
	}

	return patched, unmatched, nil
}

// locate finds search as a contiguous run in lines, starting at the
// declared 0-based position and widening outward one line at a time up to
// drift. Returns the matching index or -1.
func locate(lines, search []string, declared, drift int) int {
	for d := 0; d <= drift; d++ {
		for _, at := range []int{declared - d, declared + d} {
			if at < 0 || at+len(search) > len(lines) {
				continue
			}
			if matchesAt(lines, search, at) {
				return at
			}
			if d == 0 {
				break
			}
		}
	}
	return -1
}

func matchesAt(lines, search []string, at int) bool {
	for i, want := range search {
		if lines[at+i] != want {
			return false
		}
	}
	return true
}

func splice(lines []string, at, remove int, insert []string) []string {
	out := make([]string, 0, len(lines)-remove+len(insert))
	out = append(out, lines[:at]...)
	out = append(out, insert...)
	out = append(out, lines[at+remove:]...)
	return out
}

var invertHeaderRe = regexp.MustCompile(`^@@ -(\d+(?:,\d+)?) \+(\d+(?:,\d+)?) @@(.*)$`)

// Invert turns an old-to-new diff into a new-to-old diff: '-' and '+'
// prefixes swap, and each header swaps its old and new range pairs.
// Context lines and trailing header annotations pass through untouched.
func Invert(diff string) string {
	lines := strings.Split(diff, "\n")
	out := make([]string, len(lines))

	for i, line := range lines {
		if m := invertHeaderRe.FindStringSubmatch(line); m != nil {
			out[i] = fmt.Sprintf("@@ -%s +%s @@%s", m[2], m[1], m[3])
			continue
		}
		switch {
		case strings.HasPrefix(line, "-"):
			out[i] = "+" + line[1:]
		case strings.HasPrefix(line, "+"):
			out[i] = "-" + line[1:]
		default:
			out[i] = line
		}
	}

	return strings.Join(out, "\n")
}

// ReverseApply undoes an old-to-new diff against the new content.
func ReverseApply(content, diff string, opts Options) (string, int, error) {
	return Apply(content, Invert(diff), opts)
}

// Diff produces an old-to-new diff between two texts. Output is line
// based: hunks headed by `@@ -start,len +start,len @@` with '-' and '+'
// body lines and no context lines. Equal texts produce "".
func Diff(oldText, newText string) string {
	if oldText == newText {
		return ""
	}

	oldLines := strings.Split(oldText, "\n")
	newLines := strings.Split(newText, "\n")

	encOld, encNew, decode := encodeLines(oldLines, newLines)

	dmp := diffmatchpatch.New()
	ops := dmp.DiffMain(encOld, encNew, false)

	var out []string
	oldLine, newLine := 1, 1
	var del, ins []string

	flush := func() {
		if len(del) == 0 && len(ins) == 0 {
			return
		}
		oldStart := oldLine - len(del)
		if len(del) == 0 {
			oldStart = oldLine - 1
		}
		newStart := newLine - len(ins)
		if len(ins) == 0 {
			newStart = newLine - 1
		}
		out = append(out, fmt.Sprintf("@@ -%d,%d +%d,%d @@", oldStart, len(del), newStart, len(ins)))
		for _, l := range del {
			out = append(out, "-"+l)
		}
		for _, l := range ins {
			out = append(out, "+"+l)
		}
		del, ins = nil, nil
	}

	for _, op := range ops {
		lines := decode(op.Text)
		switch op.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			oldLine += len(lines)
			newLine += len(lines)
		case diffmatchpatch.DiffDelete:
			del = append(del, lines...)
			oldLine += len(lines)
		case diffmatchpatch.DiffInsert:
			ins = append(ins, lines...)
			newLine += len(lines)
		}
	}
	flush()

	return strings.Join(out, "\n")
}

// encodeLines maps every distinct line across both inputs to a unique
// rune so the character-level differ operates on whole lines. Unlike the
// library's own line encoding, a trailing empty line is a real line here,
// which keeps Diff and Apply agreed on the line model.
func encodeLines(oldLines, newLines []string) (string, string, func(string) []string) {
	table := make(map[string]rune)
	inverse := make(map[rune]string)
	next := rune(1)

	encode := func(lines []string) string {
		var b strings.Builder
		for _, line := range lines {
			r, ok := table[line]
			if !ok {
				r = next
				table[line] = r
				inverse[r] = line
				next++
				if next == 0xD800 {
					// Skip the surrogate range, invalid as runes.
					next = 0xE000
				}
			}
			b.WriteRune(r)
		}
		return b.String()
	}

	encOld := encode(oldLines)
	encNew := encode(newLines)

	decode := func(encoded string) []string {
		var lines []string
		for _, r := range encoded {
			lines = append(lines, inverse[r])
		}
		return lines
	}

	return encOld, encNew, decode
}
