package parser

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"

	"github.com/mirahq/mira/pkg/model"
)

// rustParser extracts fn/struct/enum/trait/impl declarations, use statements,
// and call sites from Rust source.
type rustParser struct {
	sitterLang *sitter.Language
}

func newRustParser() *rustParser { return &rustParser{sitterLang: rust.GetLanguage()} }

func (p *rustParser) Language() string { return "rust" }

func (p *rustParser) Parse(projectID int64, filePath string, content []byte) (*Result, error) {
	sp := sitter.NewParser()
	sp.SetLanguage(p.sitterLang)
	tree, err := sp.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	defer tree.Close()

	res := &Result{}
	var walk func(n *sitter.Node, scope string)
	walk = func(n *sitter.Node, scope string) {
		if n == nil {
			return
		}
		switch n.Type() {
		case "function_item":
			sym, ok := p.extractFn(content, filePath, n, scope)
			if ok {
				res.Symbols = append(res.Symbols, sym)
				res.Calls = append(res.Calls, p.extractCalls(content, n)...)
			}
		case "struct_item", "enum_item":
			if sym, ok := p.extractNamed(content, filePath, n, kindFor(n.Type())); ok {
				res.Symbols = append(res.Symbols, sym)
			}
		case "trait_item":
			if sym, ok := p.extractNamed(content, filePath, n, model.KindTrait); ok {
				res.Symbols = append(res.Symbols, sym)
				scope = sym.Name
			}
		case "impl_item":
			if typeNode := n.ChildByFieldName("type"); typeNode != nil {
				scope = nodeText(content, typeNode)
			}
		case "use_declaration":
			res.Imports = append(res.Imports, p.extractUse(content, filePath, n)...)
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i), scope)
		}
	}
	walk(tree.RootNode(), "")
	return res, nil
}

func kindFor(nodeType string) model.SymbolKind {
	switch nodeType {
	case "struct_item":
		return model.KindStruct
	case "enum_item":
		return model.KindEnum
	default:
		return model.KindType
	}
}

func (p *rustParser) extractNamed(content []byte, filePath string, n *sitter.Node, kind model.SymbolKind) (model.Symbol, bool) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return model.Symbol{}, false
	}
	name := nodeText(content, nameNode)
	start, end := lineRange(n)
	return model.Symbol{
		FilePath:      filePath,
		Name:          name,
		Kind:          kind,
		StartLine:     start,
		EndLine:       end,
		QualifiedName: name,
		Language:      "rust",
		Visibility:    visibilityOf(content, n),
	}, true
}

func (p *rustParser) extractFn(content []byte, filePath string, n *sitter.Node, scope string) (model.Symbol, bool) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return model.Symbol{}, false
	}
	name := nodeText(content, nameNode)
	var sig strings.Builder
	sig.WriteString("fn " + name)
	if params := n.ChildByFieldName("parameters"); params != nil {
		sig.WriteString(nodeText(content, params))
	}
	if ret := n.ChildByFieldName("return_type"); ret != nil {
		sig.WriteString(" -> " + nodeText(content, ret))
	}
	start, end := lineRange(n)
	kind := model.KindFunction
	if scope != "" {
		kind = model.KindMethod
	}
	return model.Symbol{
		FilePath:      filePath,
		Name:          name,
		Kind:          kind,
		StartLine:     start,
		EndLine:       end,
		Signature:     sig.String(),
		QualifiedName: qualify(scope, name),
		Language:      "rust",
		Visibility:    visibilityOf(content, n),
		IsAsync:       strings.Contains(nodeText(content, n), "async fn"),
		IsTest:        strings.Contains(attributesBefore(content, n), "#[test]"),
	}, true
}

func (p *rustParser) extractUse(content []byte, filePath string, n *sitter.Node) []model.Import {
	argNode := n.ChildByFieldName("argument")
	if argNode == nil {
		return nil
	}
	path := strings.ReplaceAll(nodeText(content, argNode), " ", "")
	return []model.Import{{
		FilePath:   filePath,
		ImportPath: path,
		IsExternal: isExternalPath(path),
	}}
}

// visibilityOf inspects whether a declaration node is preceded by `pub`.
func visibilityOf(content []byte, n *sitter.Node) string {
	prev := n.PrevSibling()
	if prev != nil && prev.Type() == "visibility_modifier" {
		return "public"
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == "visibility_modifier" {
			return "public"
		}
	}
	return "private"
}

// attributesBefore returns the source text of attribute siblings preceding n,
// used to detect #[test] without a dedicated attribute-field lookup.
func attributesBefore(content []byte, n *sitter.Node) string {
	var out strings.Builder
	sib := n.PrevSibling()
	for sib != nil && sib.Type() == "attribute_item" {
		out.WriteString(nodeText(content, sib))
		sib = sib.PrevSibling()
	}
	return out.String()
}

// rustBuiltins are the standard macros and prelude functions call edges are
// filtered against (spec §4.B); println!/format!/vec! and kin would
// otherwise dominate every function's fan-out.
var rustBuiltins = map[string]bool{
	"println": true, "print": true, "eprintln": true, "eprint": true,
	"format": true, "write": true, "writeln": true, "vec": true,
	"assert": true, "assert_eq": true, "assert_ne": true, "debug_assert": true,
	"debug_assert_eq": true, "debug_assert_ne": true, "todo": true,
	"unimplemented": true, "unreachable": true, "matches": true, "dbg": true,
	"panic": true, "drop": true,
}

func (p *rustParser) extractCalls(content []byte, n *sitter.Node) []model.CallEdge {
	var out []model.CallEdge
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		switch n.Type() {
		case "call_expression":
			if fn := n.ChildByFieldName("function"); fn != nil {
				name := nodeText(content, fn)
				kind := model.CallDirect
				if strings.Contains(name, "!") {
					kind = model.CallMacro
				} else if strings.Contains(name, ".") {
					kind = model.CallMethod
				}
				parts := strings.Split(name, "::")
				simple := parts[len(parts)-1]
				if i := strings.LastIndex(simple, "."); i >= 0 {
					simple = simple[i+1:]
				}
				if !rustBuiltins[simple] {
					out = append(out, model.CallEdge{
						CalleeName: simple,
						CallLine:   int(n.StartPoint().Row) + 1,
						Kind:       kind,
					})
				}
			}
		case "macro_invocation":
			if mac := n.ChildByFieldName("macro"); mac != nil {
				name := nodeText(content, mac)
				if !rustBuiltins[name] {
					out = append(out, model.CallEdge{
						CalleeName: name,
						CallLine:   int(n.StartPoint().Row) + 1,
						Kind:       model.CallMacro,
					})
				}
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(n)
	return out
}
