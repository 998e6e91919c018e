package parser

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/mirahq/mira/pkg/model"
)

// tsParser extracts function/class/interface declarations, import
// statements, and call sites from TypeScript and JavaScript source; both
// extensions share the TypeScript grammar (a superset) per the teacher
// pack's parser_typescript.go approach.
type tsParser struct {
	sitterLang *sitter.Language
}

func newTSParser() *tsParser { return &tsParser{sitterLang: typescript.GetLanguage()} }

func (p *tsParser) Language() string { return "typescript" }

func (p *tsParser) Parse(projectID int64, filePath string, content []byte) (*Result, error) {
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
		case "class_declaration":
			if sym, ok := p.extractNamed(content, filePath, n, model.KindClass, scope); ok {
				res.Symbols = append(res.Symbols, sym)
				scope = sym.Name
			}
		case "interface_declaration":
			if sym, ok := p.extractNamed(content, filePath, n, model.KindTrait, scope); ok {
				res.Symbols = append(res.Symbols, sym)
			}
		case "function_declaration":
			if sym, ok := p.extractFunc(content, filePath, n, "", scope); ok {
				res.Symbols = append(res.Symbols, sym)
				res.Calls = append(res.Calls, p.extractCalls(content, n)...)
			}
		case "method_definition":
			if sym, ok := p.extractFunc(content, filePath, n, scope, ""); ok {
				res.Symbols = append(res.Symbols, sym)
				res.Calls = append(res.Calls, p.extractCalls(content, n)...)
			}
		case "import_statement":
			if imp, ok := p.extractImport(content, filePath, n); ok {
				res.Imports = append(res.Imports, imp)
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i), scope)
		}
	}
	walk(tree.RootNode(), "")
	return res, nil
}

func (p *tsParser) extractNamed(content []byte, filePath string, n *sitter.Node, kind model.SymbolKind, scope string) (model.Symbol, bool) {
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
		Language:      "typescript",
		Visibility:    "public",
	}, true
}

// extractFunc handles both "function_declaration" (classScope empty,
// methodOf empty) and "method_definition" (methodOf set to the enclosing
// class's name, passed in as classScope by the caller's current walk scope).
func (p *tsParser) extractFunc(content []byte, filePath string, n *sitter.Node, methodOf, topScope string) (model.Symbol, bool) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return model.Symbol{}, false
	}
	name := nodeText(content, nameNode)
	var sig strings.Builder
	sig.WriteString("function " + name)
	if params := n.ChildByFieldName("parameters"); params != nil {
		sig.WriteString(nodeText(content, params))
	}
	if ret := n.ChildByFieldName("return_type"); ret != nil {
		sig.WriteString(": " + nodeText(content, ret))
	}
	start, end := lineRange(n)
	kind := model.KindFunction
	scope := topScope
	if methodOf != "" {
		kind = model.KindMethod
		scope = methodOf
	}
	full := nodeText(content, n)
	visibility := "public"
	if strings.Contains(full, "private ") {
		visibility = "private"
	}
	return model.Symbol{
		FilePath:      filePath,
		Name:          name,
		Kind:          kind,
		StartLine:     start,
		EndLine:       end,
		Signature:     sig.String(),
		QualifiedName: qualify(scope, name),
		Language:      "typescript",
		Visibility:    visibility,
		IsAsync:       strings.Contains(full, "async "),
		IsTest:        strings.Contains(filePath, ".test.") || strings.Contains(filePath, ".spec."),
	}, true
}

func (p *tsParser) extractImport(content []byte, filePath string, n *sitter.Node) (model.Import, bool) {
	sourceNode := n.ChildByFieldName("source")
	if sourceNode == nil {
		return model.Import{}, false
	}
	path := strings.Trim(nodeText(content, sourceNode), `"'`)
	return model.Import{FilePath: filePath, ImportPath: path, IsExternal: isExternalPath(path)}, true
}

// jsBuiltinQualified are filtered by their full dotted form, since their
// bare last segment (e.g. "log", "keys") is too common a user method name
// to filter on its own (spec §4.B).
var jsBuiltinQualified = map[string]bool{
	"console.log": true, "console.error": true, "console.warn": true,
	"console.info": true, "console.debug": true, "console.trace": true,
	"JSON.stringify": true, "JSON.parse": true,
	"Object.keys": true, "Object.values": true, "Object.entries": true,
	"Object.assign": true, "Object.freeze": true, "Object.create": true,
	"Array.isArray": true, "Array.from": true, "Array.of": true,
	"Promise.resolve": true, "Promise.reject": true, "Promise.all": true,
	"Promise.race": true, "Promise.allSettled": true,
	"Math.floor": true, "Math.ceil": true, "Math.round": true, "Math.max": true,
	"Math.min": true, "Math.random": true, "Math.abs": true,
}

// jsBuiltinBare are global functions filtered on their bare name.
var jsBuiltinBare = map[string]bool{
	"parseInt": true, "parseFloat": true, "isNaN": true, "isFinite": true,
	"encodeURIComponent": true, "decodeURIComponent": true,
	"encodeURI": true, "decodeURI": true, "setTimeout": true,
	"setInterval": true, "clearTimeout": true, "clearInterval": true,
	"require": true, "structuredClone": true,
}

func (p *tsParser) extractCalls(content []byte, n *sitter.Node) []model.CallEdge {
	var out []model.CallEdge
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Type() == "call_expression" {
			if fn := n.ChildByFieldName("function"); fn != nil {
				qualified := nodeText(content, fn)
				if !jsBuiltinQualified[qualified] && !jsBuiltinBare[qualified] {
					name := qualified
					kind := model.CallDirect
					if i := strings.LastIndex(name, "."); i >= 0 {
						kind = model.CallMethod
						name = name[i+1:]
					}
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
