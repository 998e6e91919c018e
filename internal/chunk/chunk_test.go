package chunk

import (
	"strings"
	"testing"

	"github.com/mirahq/mira/pkg/model"
)

func TestChunk_HeaderAndBody(t *testing.T) {
	content := "package main\n\nfunc Add(a, b int) int {\n\treturn a + b\n}\n"
	symbols := []model.Symbol{
		{Name: "Add", Kind: model.KindFunction, Signature: "func Add(a, b int) int", StartLine: 3, EndLine: 5},
	}

	units := Chunk(content, symbols)
	if len(units) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(units))
	}
	if !strings.HasPrefix(units[0].Content, "// function Add: func Add(a, b int) int\n") {
		t.Errorf("unexpected header: %q", units[0].Content)
	}
	if units[0].StartLine != 3 {
		t.Errorf("expected start line 3, got %d", units[0].StartLine)
	}
}

func TestChunk_OrphanRun(t *testing.T) {
	// A 60-character top-level comment and no symbols (spec edge case 4).
	content := "// this is a sufficiently long module-level comment for orphan\n"
	units := Chunk(content, nil)
	if len(units) != 1 {
		t.Fatalf("expected 1 orphan chunk, got %d", len(units))
	}
	if !strings.HasPrefix(units[0].Content, "// module-level code") {
		t.Errorf("expected orphan chunk, got %q", units[0].Content)
	}
}

func TestChunk_TrivialFileYieldsZero(t *testing.T) {
	content := "\n\n   \n\t\n"
	units := Chunk(content, nil)
	if len(units) != 0 {
		t.Errorf("expected zero chunks for trivial file, got %d", len(units))
	}
}

func TestChunk_SplitsOversizedSymbol(t *testing.T) {
	var b strings.Builder
	b.WriteString("func Big() {\n")
	for i := 0; i < 200; i++ {
		b.WriteString("\tdoSomethingWithALongLineToPadOutTheBodySize()\n")
	}
	b.WriteString("}\n")
	content := b.String()

	symbols := []model.Symbol{
		{Name: "Big", Kind: model.KindFunction, StartLine: 1, EndLine: 202},
	}
	units := Chunk(content, symbols)
	if len(units) < 2 {
		t.Fatalf("expected oversized symbol to split into multiple chunks, got %d", len(units))
	}
	for i, u := range units {
		if i > 0 && u.StartLine <= units[i-1].StartLine {
			t.Errorf("expected monotonic start_line across split chunks, got %d then %d", units[i-1].StartLine, u.StartLine)
		}
	}
}

func TestChunk_CoversSymbolAndOrphanLines(t *testing.T) {
	content := strings.Join([]string{
		"package main",
		"",
		"// a reasonably long top level comment exceeding the threshold",
		"func F() {",
		"\treturn",
		"}",
		"",
	}, "\n")
	symbols := []model.Symbol{
		{Name: "F", Kind: model.KindFunction, StartLine: 4, EndLine: 6},
	}
	units := Chunk(content, symbols)

	var sawSymbol, sawOrphan bool
	for _, u := range units {
		if strings.Contains(u.Content, "function F") {
			sawSymbol = true
		}
		if strings.HasPrefix(u.Content, "// module-level code") {
			sawOrphan = true
		}
	}
	if !sawSymbol || !sawOrphan {
		t.Errorf("expected both a symbol chunk and an orphan chunk, got %+v", units)
	}
}
