// Package toolloop implements the Agentic Tool Loop (spec §4.J): a bounded
// consultation loop that exposes search/read/analytics tools to an external
// chat-style driver, executes tool calls from one LLM turn in parallel, and
// optionally hands off to a "reasoner" model for a final non-tool synthesis
// turn.
//
// Grounded on the teacher's dynamic-tool-dispatch pattern (spec §9 "Dynamic
// tool dispatch by name"): tools are a static registry of name -> handler,
// with MCP-bridged external tools (prefixed names) resolved by the second
// lookup path mcpconfig.go builds.
package toolloop

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mirahq/mira/internal/analytics"
	"github.com/mirahq/mira/internal/cache"
	"github.com/mirahq/mira/internal/errorsx"
	"github.com/mirahq/mira/internal/pool"
	"github.com/mirahq/mira/internal/privacy"
	"github.com/mirahq/mira/internal/query"
	"github.com/mirahq/mira/pkg/model"
)

// maxReadFileLines caps read_file's result (spec §4.J: "capped at 2000
// lines with a 'truncated' marker").
const maxReadFileLines = 2000

// Tool is one entry in the static registry: a name, and the handler that
// executes it against a project's stores.
type Tool struct {
	Name    string
	Handler func(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error)
}

// Registry holds everything a tool handler needs: the Query Engine, the
// Persistence Pool, the analytics Scanner, and the caches. It is the
// "one invocation function, pattern-matched by name" spec §9 describes,
// implemented as a map rather than a switch so MCP-bridged tools can
// extend it without touching core dispatch.
type Registry struct {
	Pool      *pool.Pool
	Query     *query.Engine
	Scanner   *analytics.Scanner
	Injection *cache.Injection
	Fuzzy     *cache.FuzzySymbol

	tools map[string]Tool
	mcp   *MCPBridge // nil if no external MCP servers configured
}

// NewRegistry builds the static core tool registry.
func NewRegistry(p *pool.Pool, q *query.Engine, sc *analytics.Scanner, injection *cache.Injection, fuzzy *cache.FuzzySymbol, mcp *MCPBridge) *Registry {
	r := &Registry{Pool: p, Query: q, Scanner: sc, Injection: injection, Fuzzy: fuzzy, mcp: mcp}
	r.tools = map[string]Tool{
		"search_code":      {Name: "search_code", Handler: toolSearchCode},
		"get_symbols":      {Name: "get_symbols", Handler: toolGetSymbols},
		"read_file":        {Name: "read_file", Handler: toolReadFile},
		"find_callers":     {Name: "find_callers", Handler: toolFindCallers},
		"find_callees":     {Name: "find_callees", Handler: toolFindCallees},
		"recall":           {Name: "recall", Handler: toolRecall},
		"get_dependencies": {Name: "get_dependencies", Handler: toolGetDependencies},
		"get_patterns":     {Name: "get_patterns", Handler: toolGetPatterns},
		"get_tech_debt":    {Name: "get_tech_debt", Handler: toolGetTechDebt},
		"get_dead_code":    {Name: "get_dead_code", Handler: toolGetDeadCode},
		"get_conventions":  {Name: "get_conventions", Handler: toolGetConventions},
		"web_fetch":        {Name: "web_fetch", Handler: toolOutOfScope},
		"web_search":       {Name: "web_search", Handler: toolOutOfScope},
	}
	return r
}

// Dispatch resolves name against the core registry first, then (if
// prefixed with "mcp:") the MCP bridge's second lookup path (spec §9:
// "MCP-bridged external tools ... are resolved by a second lookup path").
func (r *Registry) Dispatch(ctx context.Context, projectID int64, name string, params map[string]interface{}) (string, error) {
	if strings.HasPrefix(name, "mcp:") {
		if r.mcp == nil {
			return "", errorsx.ProviderUnavailable("mcp bridge", fmt.Errorf("no MCP servers configured"))
		}
		return r.mcp.Call(ctx, strings.TrimPrefix(name, "mcp:"), params)
	}
	t, ok := r.tools[name]
	if !ok {
		return "", errorsx.InvalidInput("unknown tool "+name, nil)
	}
	return t.Handler(ctx, r, projectID, params)
}

func toolOutOfScope(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error) {
	return "", errorsx.ProviderUnavailable("external collaborator", fmt.Errorf("out of scope for this tool loop"))
}

func paramString(params map[string]interface{}, key string) string {
	v, _ := params[key].(string)
	return v
}

func paramInt(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func toolSearchCode(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error) {
	q := paramString(params, "query")
	if q == "" {
		return "", errorsx.InvalidInput("search_code requires query", nil)
	}
	limit := paramInt(params, "limit", 10)
	results, err := r.Query.Query(ctx, projectID, q, limit)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, res := range results {
		fmt.Fprintf(&sb, "[%s score=%.3f] %s %s\n%s\n\n", res.Strategy, res.Score, res.FilePath, res.SymbolInfo, res.Content)
	}
	if sb.Len() == 0 {
		return "no results", nil
	}
	return sb.String(), nil
}

func toolGetSymbols(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error) {
	filePath := paramString(params, "file_path")
	if filePath == "" {
		return "", errorsx.InvalidInput("get_symbols requires file_path", nil)
	}
	kind := paramString(params, "kind")

	syms, err := queryFileSymbols(ctx, r, projectID, filePath, kind)
	if err != nil {
		return "", err
	}
	if len(syms) == 0 {
		return "no symbols found", nil
	}
	var sb strings.Builder
	for _, s := range syms {
		fmt.Fprintf(&sb, "%s %s (lines %d-%d) %s\n", s.Kind, s.Name, s.StartLine, s.EndLine, s.Signature)
	}
	return sb.String(), nil
}

// queryFileSymbols reads code_symbols for one file, optionally filtered by
// kind (spec §4.J "get_symbols(file_path [, kind])").
func queryFileSymbols(ctx context.Context, r *Registry, projectID int64, filePath, kind string) ([]model.Symbol, error) {
	var out []model.Symbol
	err := r.Pool.Code.Interact(ctx, func(db *sql.DB) error {
		q := `
			SELECT id, name, symbol_type, start_line, end_line, COALESCE(signature, ''), language,
			       COALESCE(visibility, ''), is_test, is_async, COALESCE(documentation, ''), COALESCE(qualified_name, '')
			FROM code_symbols WHERE project_id = ? AND file_path = ?`
		args := []interface{}{projectID, filePath}
		if kind != "" {
			q += " AND symbol_type = ?"
			args = append(args, kind)
		}
		rows, err := db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var s model.Symbol
			var k string
			var isTest, isAsync int
			if err := rows.Scan(&s.ID, &s.Name, &k, &s.StartLine, &s.EndLine, &s.Signature, &s.Language,
				&s.Visibility, &isTest, &isAsync, &s.Documentation, &s.QualifiedName); err != nil {
				return err
			}
			s.ProjectID = projectID
			s.FilePath = filePath
			s.Kind = model.SymbolKind(k)
			s.IsTest = isTest != 0
			s.IsAsync = isAsync != 0
			out = append(out, s)
		}
		return rows.Err()
	})
	return out, err
}

func toolReadFile(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error) {
	path := paramString(params, "file_path")
	if path == "" {
		return "", errorsx.InvalidInput("read_file requires file_path", nil)
	}
	start := paramInt(params, "start", 1)
	end := paramInt(params, "end", 0)

	f, err := os.Open(path)
	if err != nil {
		return "", errorsx.IoError(path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var sb strings.Builder
	line := 0
	emitted := 0
	truncated := false
	for scanner.Scan() {
		line++
		if line < start {
			continue
		}
		if end > 0 && line > end {
			break
		}
		if emitted >= maxReadFileLines {
			truncated = true
			break
		}
		fmt.Fprintf(&sb, "%6d\t%s\n", line, scanner.Text())
		emitted++
	}
	if err := scanner.Err(); err != nil {
		return "", errorsx.IoError(path, err)
	}

	out := sb.String()
	if privacy.ContainsSecrets(out) {
		out = privacy.RedactSecrets(out)
	}
	if truncated {
		out += "... [truncated]\n"
	}
	return out, nil
}

func toolFindCallers(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error) {
	return findCallEdges(ctx, r, projectID, params, false)
}

func toolFindCallees(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error) {
	return findCallEdges(ctx, r, projectID, params, true)
}

func findCallEdges(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}, callees bool) (string, error) {
	name := paramString(params, "name")
	if name == "" {
		return "", errorsx.InvalidInput("name is required", nil)
	}
	limit := paramInt(params, "limit", 20)
	edges, err := r.Query.FindFunctionCallers(ctx, projectID, name, limit, callees)
	if err != nil {
		return "", err
	}
	if len(edges) == 0 {
		return "none found", nil
	}
	var sb strings.Builder
	for _, e := range edges {
		fmt.Fprintf(&sb, "%s (%s:%d) x%d\n", e.Name, e.FilePath, e.CallLine, e.CallCount)
	}
	return sb.String(), nil
}

func toolRecall(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error) {
	return toolSearchCode(ctx, r, projectID, params)
}

// degradedAnalyticsMessage implements the shared degradation policy spec
// §4.H names for the analytics tools: if nothing has been computed yet and
// no health scan has ever run, queue one and say so, rather than fail.
func degradedAnalyticsMessage(ctx context.Context, r *Registry, projectID int64) (string, bool) {
	ever, err := analytics.HasEverScanned(ctx, r.Pool.Main, projectID)
	if err != nil || ever {
		return "", false
	}
	_ = analytics.MarkDirty(ctx, r.Pool.Main, projectID)
	return "no analytics data yet for this project; a health scan has been queued", true
}
