// Package chunk implements the AST-driven Chunker (spec §4.C): given a
// file's content and its parsed symbols, produce an ordered list of
// embedding-sized text chunks, splitting oversized symbol bodies and filling
// in orphan (non-symbol) code runs.
//
// Grounded on the teacher's internal/chunking/golang/chunker.go emission
// shape (one-line header + body lines), generalized from "one chunk per
// declaration" to the spec's size-bounded split/orphan-fill algorithm, which
// the teacher's per-language chunkers do not implement.
package chunk

import (
	"strings"

	"github.com/mirahq/mira/pkg/model"
)

const (
	// splitThreshold is the character length at which a symbol chunk is
	// split into sub-chunks (spec §4.C step 2: "~2000 characters").
	splitThreshold = 2000

	// subChunkSize bounds each split sub-chunk (spec: "~1000 characters").
	subChunkSize = 1000

	// orphanLineMinNonWhitespace is the per-line threshold that qualifies an
	// orphan run for emission (spec: "more than ten non-whitespace
	// characters").
	orphanLineMinNonWhitespace = 10
)

// Unit is one embedding-sized chunk, ready to hand to the embedding client.
type Unit struct {
	Content   string
	StartLine int // 1-indexed, the first source line this chunk's content reflects
}

// Chunk transforms (content, symbols) into an ordered list of Units per
// spec §4.C. symbols need not be sorted; Chunk sorts a local copy by
// StartLine so headers and orphan runs emit in file order.
func Chunk(content string, symbols []model.Symbol) []Unit {
	lines := strings.Split(content, "\n")
	covered := make([]bool, len(lines)+1) // 1-indexed; index 0 unused

	ordered := make([]model.Symbol, len(symbols))
	copy(ordered, symbols)
	sortByStartLine(ordered)

	var units []Unit
	for _, sym := range ordered {
		markCovered(covered, sym.StartLine, sym.EndLine, len(lines))
		units = append(units, symbolChunks(lines, sym)...)
	}

	units = append(units, orphanChunks(lines, covered)...)
	return units
}

func sortByStartLine(symbols []model.Symbol) {
	for i := 1; i < len(symbols); i++ {
		for j := i; j > 0 && symbols[j].StartLine < symbols[j-1].StartLine; j-- {
			symbols[j], symbols[j-1] = symbols[j-1], symbols[j]
		}
	}
}

func markCovered(covered []bool, start, end, maxLine int) {
	if end > maxLine {
		end = maxLine
	}
	for l := start; l <= end && l >= 1; l++ {
		covered[l] = true
	}
}

// header formats the one-line chunk header per spec §4.C step 1.
func header(sym model.Symbol) string {
	if sym.Signature != "" {
		return "// " + string(sym.Kind) + " " + sym.Name + ": " + sym.Signature
	}
	return "// " + string(sym.Kind) + " " + sym.Name
}

// symbolChunks builds the header+body chunk for one symbol, splitting it
// into size-bounded sub-chunks when the whole exceeds splitThreshold.
func symbolChunks(lines []string, sym model.Symbol) []Unit {
	start, end := sym.StartLine, sym.EndLine
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return nil
	}

	h := header(sym)
	body := strings.Join(lines[start-1:end], "\n")
	full := h + "\n" + body
	if strings.TrimSpace(body) == "" {
		return nil
	}
	if len(full) <= splitThreshold {
		return []Unit{{Content: full, StartLine: start}}
	}

	// Split at line boundaries into ~subChunkSize sub-chunks, each with a
	// continuation header, preserving monotonic start_line (spec step 2).
	var units []Unit
	bodyLines := lines[start-1 : end]
	lineOffset := start
	var cur strings.Builder
	curStart := lineOffset
	partIdx := 1
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		hh := h
		if partIdx > 1 {
			hh = "// " + string(sym.Kind) + " " + sym.Name + " (continued)"
		}
		units = append(units, Unit{Content: hh + "\n" + cur.String(), StartLine: curStart})
		partIdx++
		cur.Reset()
	}
	for i, ln := range bodyLines {
		if cur.Len() > 0 && cur.Len()+len(ln)+1 > subChunkSize {
			flush()
			curStart = lineOffset + i
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(ln)
	}
	flush()
	return units
}

// orphanChunks groups uncovered lines into maximal runs and emits the
// qualifying ones as "module-level code" chunks (spec §4.C step 3).
func orphanChunks(lines []string, covered []bool) []Unit {
	var units []Unit
	n := len(lines)
	l := 1
	for l <= n {
		if covered[l] {
			l++
			continue
		}
		runStart := l
		qualifies := false
		for l <= n && !covered[l] {
			if countNonWhitespace(lines[l-1]) > orphanLineMinNonWhitespace {
				qualifies = true
			}
			l++
		}
		runEnd := l - 1
		if !qualifies {
			continue
		}
		body := strings.Join(lines[runStart-1:runEnd], "\n")
		units = append(units, Unit{
			Content:   "// module-level code\n" + body,
			StartLine: runStart,
		})
	}
	return units
}

func countNonWhitespace(s string) int {
	n := 0
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\r' && r != '\n' {
			n++
		}
	}
	return n
}
