package diff

import (
	"testing"

	"github.com/mirahq/mira/internal/parser"
	"github.com/mirahq/mira/pkg/model"
)

func TestDiff_SignatureChangeShortCircuits(t *testing.T) {
	reg := parser.NewRegistry()
	oldSrc := []byte("package p\n\nfunc Add(a, b int) int {\n\treturn a + b\n}\n")
	newSrc := []byte("package p\n\nfunc Add(a, b, c int) int {\n\treturn a + b\n}\n")

	changes := Diff(reg, "f.go", "go", oldSrc, newSrc)
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d: %+v", len(changes), changes)
	}
	if changes[0].Change != model.SignatureChanged {
		t.Errorf("expected SignatureChanged, got %v", changes[0].Change)
	}
}

func TestDiff_BodyChangeWithSameSignature(t *testing.T) {
	reg := parser.NewRegistry()
	oldSrc := []byte("package p\n\nfunc Add(a, b int) int {\n\treturn a + b\n}\n")
	newSrc := []byte("package p\n\nfunc Add(a, b int) int {\n\treturn b + a\n}\n")

	changes := Diff(reg, "f.go", "go", oldSrc, newSrc)
	if len(changes) != 1 || changes[0].Change != model.BodyChanged {
		t.Fatalf("expected a single BodyChanged, got %+v", changes)
	}
}

func TestDiff_AddedAndRemoved(t *testing.T) {
	reg := parser.NewRegistry()
	oldSrc := []byte("package p\n\nfunc Old() {}\n")
	newSrc := []byte("package p\n\nfunc New() {}\n")

	changes := Diff(reg, "f.go", "go", oldSrc, newSrc)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d: %+v", len(changes), changes)
	}
	var sawAdded, sawRemoved bool
	for _, c := range changes {
		switch c.Change {
		case model.SymbolAdded:
			sawAdded = true
		case model.SymbolRemoved:
			sawRemoved = true
		}
	}
	if !sawAdded || !sawRemoved {
		t.Errorf("expected both Added and Removed, got %+v", changes)
	}
}

func TestDiff_EmptyFilesYieldNoChanges(t *testing.T) {
	reg := parser.NewRegistry()
	if changes := Diff(reg, "f.go", "go", []byte(""), []byte("")); len(changes) != 0 {
		t.Errorf("expected no changes for empty files, got %+v", changes)
	}
}

func TestDiff_UnknownExtensionYieldsNoDiff(t *testing.T) {
	reg := parser.NewRegistry()
	if changes := Diff(reg, "f.xyz", "xyz", []byte("a"), []byte("b")); changes != nil {
		t.Errorf("expected nil for unsupported extension, got %+v", changes)
	}
}
