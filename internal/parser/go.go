package parser

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/mirahq/mira/pkg/model"
)

// goParser extracts functions/methods, type declarations, imports, and call
// sites from Go source, grounded on the teacher pack's parser_go.go walk.
type goParser struct {
	sitterLang *sitter.Language
}

func newGoParser() *goParser {
	return &goParser{sitterLang: golang.GetLanguage()}
}

func (p *goParser) Language() string { return "go" }

func (p *goParser) Parse(projectID int64, filePath string, content []byte) (*Result, error) {
	sp := sitter.NewParser()
	sp.SetLanguage(p.sitterLang)
	tree, err := sp.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	res := &Result{}

	var walk func(n *sitter.Node, receiver string)
	walk = func(n *sitter.Node, receiver string) {
		if n == nil {
			return
		}
		switch n.Type() {
		case "function_declaration":
			sym, ok := p.extractFunc(content, filePath, n, "")
			if ok {
				res.Symbols = append(res.Symbols, sym)
				res.Calls = append(res.Calls, p.extractCalls(content, n)...)
			}
		case "method_declaration":
			recv := p.receiverTypeName(content, n)
			sym, ok := p.extractFunc(content, filePath, n, recv)
			if ok {
				sym.Kind = model.KindMethod
				res.Symbols = append(res.Symbols, sym)
				res.Calls = append(res.Calls, p.extractCalls(content, n)...)
			}
		case "type_declaration":
			res.Symbols = append(res.Symbols, p.extractTypes(content, filePath, n)...)
		case "import_declaration":
			res.Imports = append(res.Imports, p.extractImports(content, filePath, n)...)
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i), receiver)
		}
	}
	walk(root, "")

	return res, nil
}

func (p *goParser) receiverTypeName(content []byte, n *sitter.Node) string {
	recv := n.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	text := nodeText(content, recv)
	text = strings.TrimPrefix(strings.TrimSuffix(strings.TrimSpace(text), ")"), "(")
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	typ := fields[len(fields)-1]
	return strings.TrimPrefix(typ, "*")
}

func (p *goParser) extractFunc(content []byte, filePath string, n *sitter.Node, receiver string) (model.Symbol, bool) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return model.Symbol{}, false
	}
	name := nodeText(content, nameNode)

	var sig strings.Builder
	sig.WriteString("func ")
	if receiver != "" {
		sig.WriteString("(" + receiver + ") ")
	}
	sig.WriteString(name)
	if tp := n.ChildByFieldName("type_parameters"); tp != nil {
		sig.WriteString(nodeText(content, tp))
	}
	if params := n.ChildByFieldName("parameters"); params != nil {
		sig.WriteString(nodeText(content, params))
	}
	if result := n.ChildByFieldName("result"); result != nil {
		sig.WriteString(" " + nodeText(content, result))
	}

	start, end := lineRange(n)
	visibility := "private"
	if name != "" && strings.ToUpper(name[:1]) == name[:1] {
		visibility = "public"
	}

	return model.Symbol{
		FilePath:      filePath,
		Name:          name,
		Kind:          model.KindFunction,
		StartLine:     start,
		EndLine:       end,
		Signature:     sig.String(),
		QualifiedName: qualify(receiver, name),
		Language:      "go",
		Visibility:    visibility,
		IsTest:        strings.HasPrefix(name, "Test") || strings.HasPrefix(name, "Benchmark"),
	}, true
}

func (p *goParser) extractTypes(content []byte, filePath string, n *sitter.Node) []model.Symbol {
	var out []model.Symbol
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		var specs []*sitter.Node
		if child.Type() == "type_spec_list" {
			for j := 0; j < int(child.ChildCount()); j++ {
				if s := child.Child(j); s.Type() == "type_spec" {
					specs = append(specs, s)
				}
			}
		} else if child.Type() == "type_spec" {
			specs = append(specs, child)
		}
		for _, spec := range specs {
			nameNode := spec.ChildByFieldName("name")
			if nameNode == nil {
				continue
			}
			name := nodeText(content, nameNode)
			kind := model.KindType
			if typ := spec.ChildByFieldName("type"); typ != nil {
				switch typ.Type() {
				case "struct_type":
					kind = model.KindStruct
				case "interface_type":
					kind = model.KindTrait
				}
			}
			start, end := lineRange(spec)
			visibility := "private"
			if name != "" && strings.ToUpper(name[:1]) == name[:1] {
				visibility = "public"
			}
			out = append(out, model.Symbol{
				FilePath:      filePath,
				Name:          name,
				Kind:          kind,
				StartLine:     start,
				EndLine:       end,
				Signature:     "type " + name,
				QualifiedName: name,
				Language:      "go",
				Visibility:    visibility,
			})
		}
	}
	return out
}

func (p *goParser) extractImports(content []byte, filePath string, n *sitter.Node) []model.Import {
	var out []model.Import
	var specs []*sitter.Node
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "import_spec":
			specs = append(specs, child)
		case "import_spec_list":
			for j := 0; j < int(child.ChildCount()); j++ {
				if s := child.Child(j); s.Type() == "import_spec" {
					specs = append(specs, s)
				}
			}
		}
	}
	for _, spec := range specs {
		pathNode := spec.ChildByFieldName("path")
		if pathNode == nil {
			continue
		}
		path := strings.Trim(nodeText(content, pathNode), `"`)
		out = append(out, model.Import{
			FilePath:   filePath,
			ImportPath: path,
			IsExternal: isExternalPath(path),
		})
	}
	return out
}

// goBuiltins are the universe block's predeclared functions (spec §4.B:
// "common language built-ins ... are filtered"). They never resolve to a
// project symbol, so keeping them as call edges only pollutes fan-out and
// dead-code analytics.
var goBuiltins = map[string]bool{
	"append": true, "cap": true, "clear": true, "close": true, "complex": true,
	"copy": true, "delete": true, "imag": true, "len": true, "make": true,
	"max": true, "min": true, "new": true, "panic": true, "print": true,
	"println": true, "real": true, "recover": true,
}

func (p *goParser) extractCalls(content []byte, n *sitter.Node) []model.CallEdge {
	var out []model.CallEdge
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Type() == "call_expression" {
			fn := n.ChildByFieldName("function")
			if fn != nil {
				name := nodeText(content, fn)
				kind := model.CallDirect
				if strings.Contains(name, ".") {
					kind = model.CallMethod
					parts := strings.Split(name, ".")
					name = parts[len(parts)-1]
				}
				if !goBuiltins[name] {
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
