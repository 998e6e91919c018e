// Package query implements the Hybrid Query Engine (spec §4.H): a
// cross-reference pattern classifier, semantic k-NN search, and a
// keyword/FTS fallback, each result passed through batched context
// expansion before being returned.
//
// Grounded on thebtf-engram's internal/search/manager.go (singleflight
// request coalescing, a bounded result cache with TTL eviction) and
// internal/search/expansion/expander.go (regex-based intent classification,
// the model for this engine's cross-reference pattern detector).
package query

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mirahq/mira/internal/embedclient"
	"github.com/mirahq/mira/internal/pool"
)

const (
	cacheTTL     = 30 * time.Second
	cacheMaxSize = 200
)

// Strategy names the search strategy that produced a Result, surfaced for
// observability and tests.
type Strategy string

const (
	StrategyCrossReference Strategy = "cross_reference"
	StrategySemantic       Strategy = "semantic"
	StrategyKeyword        Strategy = "keyword"
)

// Result is one hit, after context expansion has replaced Content with the
// full containing-symbol body where one was found.
type Result struct {
	FilePath   string
	Content    string
	StartLine  int
	Score      float64
	SymbolInfo string // "kind name (lines A-B)", empty if no containing symbol found
	Strategy   Strategy
}

// CallEdgeResult is one call-graph row returned by the cross-reference
// strategy, aggregated per caller/callee.
type CallEdgeResult struct {
	Name      string
	FilePath  string
	CallLine  int
	CallCount int
}

// Engine answers queries against one project's Code store.
type Engine struct {
	Pool  *pool.Pool
	Embed *embedclient.Client

	group singleflight.Group

	cacheMu sync.Mutex
	cache   map[string]cacheEntry
}

type cacheEntry struct {
	results   []Result
	expiresAt time.Time
}

// New builds an Engine.
func New(p *pool.Pool, embed *embedclient.Client) *Engine {
	return &Engine{Pool: p, Embed: embed, cache: make(map[string]cacheEntry)}
}

var (
	callersPattern = regexp.MustCompile(`(?i)^\s*(?:who calls|callers of)\s+([A-Za-z_][A-Za-z0-9_]*)\s*$`)
	calleesPattern = regexp.MustCompile(`(?i)^\s*what does\s+([A-Za-z_][A-Za-z0-9_]*)\s+call\s*\??\s*$`)
)

// Query runs the three-strategy search (spec §4.H) and returns expanded
// results, limited to k. Identical concurrent queries for the same project
// are coalesced via singleflight; a short-TTL cache serves repeats.
func (e *Engine) Query(ctx context.Context, projectID int64, text string, k int) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	key := cacheKey(projectID, text, k)

	if cached, ok := e.cachedResult(key); ok {
		return cached, nil
	}

	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		results, err := e.execute(ctx, projectID, text, k)
		if err != nil {
			return nil, err
		}
		e.store(key, results)
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Result), nil
}

func (e *Engine) execute(ctx context.Context, projectID int64, text string, k int) ([]Result, error) {
	if name, direction, ok := classifyCrossReference(text); ok {
		edges, err := e.callGraphLookup(ctx, projectID, name, direction, k)
		if err != nil {
			return nil, err
		}
		results := make([]Result, 0, len(edges))
		for _, ed := range edges {
			results = append(results, Result{FilePath: ed.FilePath, Content: ed.Name, StartLine: ed.CallLine, Score: float64(ed.CallCount), Strategy: StrategyCrossReference})
		}
		return e.expand(ctx, projectID, results)
	}

	if e.Embed != nil && e.Embed.Enabled() {
		results, err := e.semanticSearch(ctx, projectID, text, k)
		if err == nil && len(results) > 0 {
			return e.expand(ctx, projectID, results)
		}
	}

	results, err := e.keywordSearch(ctx, projectID, text, k)
	if err != nil {
		return nil, err
	}
	return e.expand(ctx, projectID, results)
}

// classifyCrossReference is the lightweight classifier spec §4.H calls for,
// grounded on the pack's regex-per-intent pattern (expander.go's
// buildIntentPatterns/DetectIntent), adapted from "intent" buckets to
// caller/callee direction extraction.
func classifyCrossReference(text string) (name string, direction string, ok bool) {
	if m := callersPattern.FindStringSubmatch(text); m != nil {
		return m[1], "caller", true
	}
	if m := calleesPattern.FindStringSubmatch(text); m != nil {
		return m[1], "callee", true
	}
	return "", "", false
}

func (e *Engine) callGraphLookup(ctx context.Context, projectID int64, name, direction string, limit int) ([]CallEdgeResult, error) {
	return e.FindFunctionCallers(ctx, projectID, name, limit, direction == "callee")
}

// FindFunctionCallers returns, for the named function, the symbols that
// call it (or, when callees is true, the names it calls), aggregated per
// distinct caller/callee with a call count.
func (e *Engine) FindFunctionCallers(ctx context.Context, projectID int64, name string, limit int, callees bool) ([]CallEdgeResult, error) {
	var rows *sql.Rows
	var err error
	err = e.Pool.Code.Interact(ctx, func(db *sql.DB) error {
		var q string
		if callees {
			q = `
				SELECT cg.callee, cs.file_path, MIN(cg.call_line), COUNT(*)
				FROM call_graph cg
				JOIN code_symbols cs ON cs.id = cg.caller_id
				WHERE cs.project_id = ? AND cs.name = ?
				GROUP BY cg.callee, cs.file_path
				ORDER BY COUNT(*) DESC
				LIMIT ?`
		} else {
			// callee_id is only resolved opportunistically within a single
			// flush batch (indexer/persist.go); cross-file call edges leave
			// it NULL. cg.callee (the name column) is always populated, so
			// "who calls X" matches on it instead of the id join.
			q = `
				SELECT caller.name, caller.file_path, MIN(cg.call_line), COUNT(*)
				FROM call_graph cg
				JOIN code_symbols caller ON caller.id = cg.caller_id
				WHERE caller.project_id = ? AND cg.callee = ?
				GROUP BY caller.id
				ORDER BY COUNT(*) DESC
				LIMIT ?`
		}
		rows, err = db.QueryContext(ctx, q, projectID, name, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallEdgeResult
	for rows.Next() {
		var r CallEdgeResult
		if err := rows.Scan(&r.Name, &r.FilePath, &r.CallLine, &r.CallCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (e *Engine) semanticSearch(ctx context.Context, projectID int64, text string, k int) ([]Result, error) {
	vec, err := e.Embed.Embed(ctx, embedclient.TaskQuery, text)
	if err != nil {
		return nil, err
	}

	var rows *sql.Rows
	err = e.Pool.Code.Interact(ctx, func(db *sql.DB) error {
		rows, err = db.QueryContext(ctx, `
			SELECT file_path, chunk_content, start_line, distance
			FROM vec_code
			WHERE project_id = ? AND embedding MATCH ?
			ORDER BY distance
			LIMIT ?`, projectID, vectorBytes(vec), k)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var filePath, content string
		var startLine int
		var dist float64
		if err := rows.Scan(&filePath, &content, &startLine, &dist); err != nil {
			return nil, err
		}
		out = append(out, Result{FilePath: filePath, Content: content, StartLine: startLine, Score: -dist, Strategy: StrategySemantic})
	}
	return out, rows.Err()
}

func vectorBytes(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		bits := math.Float32bits(f)
		buf[i*4+0] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

// keywordSearch is the always-available fallback (spec §4.H strategy 3):
// an FTS match over symbol names/signatures, falling back further to a
// plain substring scan when FTS yields nothing (handles partial-word
// fragments FTS's tokenizer would otherwise miss).
func (e *Engine) keywordSearch(ctx context.Context, projectID int64, text string, k int) ([]Result, error) {
	var rows *sql.Rows
	var err error
	err = e.Pool.Code.Interact(ctx, func(db *sql.DB) error {
		rows, err = db.QueryContext(ctx, `
			SELECT cs.file_path, cs.name, cs.start_line
			FROM code_symbols_fts fts
			JOIN code_symbols cs ON cs.id = fts.rowid
			WHERE fts.project_id = ? AND code_symbols_fts MATCH ?
			LIMIT ?`, projectID, ftsQuery(text), k)
		return err
	})
	if err == nil {
		defer rows.Close()
		var out []Result
		for rows.Next() {
			var filePath, name string
			var startLine int
			if err := rows.Scan(&filePath, &name, &startLine); err != nil {
				return nil, err
			}
			out = append(out, Result{FilePath: filePath, Content: name, StartLine: startLine, Score: 1, Strategy: StrategyKeyword})
		}
		if len(out) > 0 {
			return out, nil
		}
	}

	return e.substringSearch(ctx, projectID, text, k)
}

func ftsQuery(text string) string {
	fields := strings.Fields(text)
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, "") + `"*`
	}
	return strings.Join(quoted, " OR ")
}

func (e *Engine) substringSearch(ctx context.Context, projectID int64, text string, k int) ([]Result, error) {
	var rows *sql.Rows
	var err error
	like := "%" + text + "%"
	err = e.Pool.Code.Interact(ctx, func(db *sql.DB) error {
		rows, err = db.QueryContext(ctx, `
			SELECT file_path, name, start_line
			FROM code_symbols
			WHERE project_id = ? AND (name LIKE ? OR signature LIKE ?)
			LIMIT ?`, projectID, like, like, k)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var filePath, name string
		var startLine int
		if err := rows.Scan(&filePath, &name, &startLine); err != nil {
			return nil, err
		}
		out = append(out, Result{FilePath: filePath, Content: name, StartLine: startLine, Score: 1, Strategy: StrategyKeyword})
	}
	return out, rows.Err()
}

// expand replaces each result's Content with its containing symbol's full
// body plus a "kind name (lines A-B)" info line, in one batched DB
// acquisition for every result (spec §4.H: "batched ... one DB acquisition
// for all results"). Results with no containing symbol are left as-is.
func (e *Engine) expand(ctx context.Context, projectID int64, results []Result) ([]Result, error) {
	if len(results) == 0 {
		return results, nil
	}

	type symRow struct {
		filePath           string
		kind, name         string
		startLine, endLine int
	}
	var symbols []symRow

	err := e.Pool.Code.Interact(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT file_path, symbol_type, name, start_line, end_line
			FROM code_symbols WHERE project_id = ?`, projectID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var s symRow
			if err := rows.Scan(&s.filePath, &s.kind, &s.name, &s.startLine, &s.endLine); err != nil {
				return err
			}
			symbols = append(symbols, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	root, err := e.projectRoot(ctx, projectID)
	if err != nil {
		root = ""
	}

	fileLines := make(map[string][]string)

	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = r

		var enclosing *symRow
		for j := range symbols {
			s := &symbols[j]
			if s.filePath != r.FilePath {
				continue
			}
			if r.StartLine < s.startLine || r.StartLine > s.endLine {
				continue
			}
			if enclosing == nil || (s.endLine-s.startLine) < (enclosing.endLine-enclosing.startLine) {
				enclosing = s // narrowest enclosing range wins (e.g. a method over its file)
			}
		}
		if enclosing == nil {
			continue
		}

		out[i].SymbolInfo = fmt.Sprintf("%s %s (lines %d-%d)", enclosing.kind, enclosing.name, enclosing.startLine, enclosing.endLine)

		if root == "" {
			continue
		}
		lines, ok := fileLines[enclosing.filePath]
		if !ok {
			lines = readSourceLines(root, enclosing.filePath)
			fileLines[enclosing.filePath] = lines
		}
		if body, ok := sliceLines(lines, enclosing.startLine, enclosing.endLine); ok {
			out[i].Content = body
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// projectRoot looks up the absolute on-disk root of projectID from the Main
// store, so expand can read a symbol's current source text off disk.
func (e *Engine) projectRoot(ctx context.Context, projectID int64) (string, error) {
	var root string
	err := e.Pool.Main.Interact(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `SELECT path FROM projects WHERE id = ?`, projectID).Scan(&root)
	})
	return root, err
}

func readSourceLines(root, relPath string) []string {
	data, err := os.ReadFile(filepath.Join(root, relPath))
	if err != nil {
		return nil
	}
	return strings.Split(string(data), "\n")
}

func sliceLines(lines []string, startLine, endLine int) (string, bool) {
	if len(lines) == 0 {
		return "", false
	}
	if startLine < 1 {
		startLine = 1
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > endLine {
		return "", false
	}
	return strings.Join(lines[startLine-1:endLine], "\n"), true
}

func cacheKey(projectID int64, text string, k int) string {
	return strings.Join([]string{itoa(projectID), text, itoa(int64(k))}, "\x1f")
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (e *Engine) cachedResult(key string) ([]Result, bool) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	entry, ok := e.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.results, true
}

func (e *Engine) store(key string, results []Result) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if len(e.cache) >= cacheMaxSize {
		for k := range e.cache {
			delete(e.cache, k)
			break
		}
	}
	e.cache[key] = cacheEntry{results: results, expiresAt: time.Now().Add(cacheTTL)}
}
