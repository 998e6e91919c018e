package parser

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/mirahq/mira/pkg/model"
)

// pythonParser extracts def/class declarations, import statements, and call
// sites from Python source.
type pythonParser struct {
	sitterLang *sitter.Language
}

func newPythonParser() *pythonParser { return &pythonParser{sitterLang: python.GetLanguage()} }

func (p *pythonParser) Language() string { return "python" }

func (p *pythonParser) Parse(projectID int64, filePath string, content []byte) (*Result, error) {
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
		case "class_definition":
			if sym, ok := p.extractNamed(content, filePath, n, model.KindClass, scope); ok {
				res.Symbols = append(res.Symbols, sym)
				scope = sym.Name
			}
		case "function_definition":
			sym, ok := p.extractFunc(content, filePath, n, scope)
			if ok {
				res.Symbols = append(res.Symbols, sym)
				res.Calls = append(res.Calls, p.extractCalls(content, n)...)
			}
			return // don't recurse into nested defs with the class's scope; handled by default below
		case "import_statement", "import_from_statement":
			res.Imports = append(res.Imports, p.extractImport(content, filePath, n)...)
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i), scope)
		}
	}
	walk(tree.RootNode(), "")
	return res, nil
}

func (p *pythonParser) extractNamed(content []byte, filePath string, n *sitter.Node, kind model.SymbolKind, scope string) (model.Symbol, bool) {
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
		QualifiedName: qualify(scope, name),
		Language:      "python",
		Visibility:    pythonVisibility(name),
		Documentation: pythonDocstring(content, n),
	}, true
}

func (p *pythonParser) extractFunc(content []byte, filePath string, n *sitter.Node, scope string) (model.Symbol, bool) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return model.Symbol{}, false
	}
	name := nodeText(content, nameNode)
	var sig strings.Builder
	sig.WriteString("def " + name)
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
	full := nodeText(content, n)
	return model.Symbol{
		FilePath:      filePath,
		Name:          name,
		Kind:          kind,
		StartLine:     start,
		EndLine:       end,
		Signature:     sig.String(),
		QualifiedName: qualify(scope, name),
		Language:      "python",
		Visibility:    pythonVisibility(name),
		IsTest:        strings.HasPrefix(name, "test_"),
		IsAsync:       strings.HasPrefix(strings.TrimSpace(full), "async "),
		Documentation: pythonDocstring(content, n),
	}, true
}

func pythonVisibility(name string) string {
	if strings.HasPrefix(name, "_") {
		return "private"
	}
	return "public"
}

// pythonDocstring returns the leading string-expression statement of a
// function/class body, if present, as its documentation (PEP 257).
func pythonDocstring(content []byte, n *sitter.Node) string {
	body := n.ChildByFieldName("body")
	if body == nil || body.ChildCount() == 0 {
		return ""
	}
	first := body.Child(0)
	if first.Type() != "expression_statement" || first.ChildCount() == 0 {
		return ""
	}
	expr := first.Child(0)
	if expr.Type() != "string" {
		return ""
	}
	return strings.Trim(nodeText(content, expr), "\"' \t\n")
}

func (p *pythonParser) extractImport(content []byte, filePath string, n *sitter.Node) []model.Import {
	var out []model.Import
	if n.Type() == "import_from_statement" {
		if moduleNode := n.ChildByFieldName("module_name"); moduleNode != nil {
			path := nodeText(content, moduleNode)
			out = append(out, model.Import{FilePath: filePath, ImportPath: path, IsExternal: isExternalPath(path)})
		}
		return out
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.Type() == "dotted_name" || child.Type() == "aliased_import" {
			path := nodeText(content, child)
			out = append(out, model.Import{FilePath: filePath, ImportPath: path, IsExternal: isExternalPath(path)})
		}
	}
	return out
}

// pythonBuiltins are the interpreter's builtin namespace (spec §4.B); print,
// len, isinstance and the like are filtered out of call edges.
var pythonBuiltins = map[string]bool{
	"print": true, "len": true, "str": true, "int": true, "float": true,
	"bool": true, "bytes": true, "list": true, "dict": true, "set": true,
	"tuple": true, "frozenset": true, "object": true, "type": true,
	"isinstance": true, "issubclass": true, "super": true, "range": true,
	"enumerate": true, "zip": true, "map": true, "filter": true, "sorted": true,
	"reversed": true, "sum": true, "min": true, "max": true, "abs": true,
	"round": true, "all": true, "any": true, "iter": true, "next": true,
	"open": true, "input": true, "format": true, "repr": true, "vars": true,
	"id": true, "hash": true, "getattr": true, "setattr": true, "hasattr": true,
	"delattr": true, "callable": true, "staticmethod": true, "classmethod": true,
	"property": true, "__import__": true,
}

func (p *pythonParser) extractCalls(content []byte, n *sitter.Node) []model.CallEdge {
	var out []model.CallEdge
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Type() == "call" {
			if fn := n.ChildByFieldName("function"); fn != nil {
				name := nodeText(content, fn)
				kind := model.CallDirect
				if i := strings.LastIndex(name, "."); i >= 0 {
					kind = model.CallMethod
					name = name[i+1:]
				}
				if !pythonBuiltins[name] {
					out = append(out, model.CallEdge{
						CalleeName: name,
						CallLine:   int(n.StartPoint().Row) + 1,
						Kind:       kind,
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
