package analytics

import (
	"context"
	"fmt"

	falkordb "github.com/falkordb/falkordb-go"
	"github.com/rs/zerolog/log"

	"github.com/mirahq/mira/pkg/model"
)

// FalkorMirror mirrors the module dependency graph into FalkorDB so N-hop
// traversal and cycle queries can run as graph queries instead of repeated
// SQL self-joins (spec §4.I). SQLite remains the source of truth; a mirror
// failure is logged and swallowed by the caller, never surfaced as a scan
// failure — this is a derived accelerator, not a dependency.
type FalkorMirror struct {
	client *falkordb.FalkorDB
	prefix string // graph-name prefix, e.g. "mira"
}

// DialFalkorMirror connects to a FalkorDB instance at addr ("host:port").
// Returns (nil, nil) if addr is empty, the conventional "not configured"
// signal the rest of §7's optional-provider components use.
func DialFalkorMirror(addr, prefix string) (*FalkorMirror, error) {
	if addr == "" {
		return nil, nil
	}
	db, err := falkordb.FalkorDBNew(&falkordb.ConnectionOption{Addr: addr})
	if err != nil {
		return nil, fmt.Errorf("dial falkordb %s: %w", addr, err)
	}
	if prefix == "" {
		prefix = "mira"
	}
	return &FalkorMirror{client: db, prefix: prefix}, nil
}

func (m *FalkorMirror) graphName(projectID int64) string {
	return fmt.Sprintf("%s_deps_%d", m.prefix, projectID)
}

// MirrorDependencies replaces a project's mirrored dependency graph with the
// freshly computed edge set: DELETE then re-MERGE, same clear-then-write
// discipline writeScanResults uses against the Main store.
func (m *FalkorMirror) MirrorDependencies(ctx context.Context, projectID int64, edges []model.DependencyEdge) error {
	if m == nil {
		return nil
	}
	graph := m.client.SelectGraph(m.graphName(projectID))

	if _, err := graph.Query("MATCH (n) DETACH DELETE n", nil, nil); err != nil {
		return fmt.Errorf("falkor clear graph: %w", err)
	}

	for _, e := range edges {
		params := map[string]interface{}{
			"src":     e.SrcModule,
			"tgt":     e.TgtModule,
			"ctype":   string(e.Type),
			"calls":   e.CallCount,
			"imports": e.ImportCount,
			"circular": e.IsCircular,
		}
		_, err := graph.Query(`
			MERGE (a:Module {name: $src})
			MERGE (b:Module {name: $tgt})
			MERGE (a)-[r:DEPENDS_ON {type: $ctype}]->(b)
			SET r.call_count = $calls, r.import_count = $imports, r.is_circular = $circular
		`, params, nil)
		if err != nil {
			return fmt.Errorf("falkor merge edge %s->%s: %w", e.SrcModule, e.TgtModule, err)
		}
	}

	log.Debug().Int64("project_id", projectID).Int("edges", len(edges)).Msg("analytics.falkor_mirrored")
	return nil
}

// Cycles runs a graph-native cycle query as a faster alternative to the
// SQL self-join ComputeDependencies falls back to when FalkorDB isn't
// configured; used by the cross-reference expansion path (spec §4.H).
func (m *FalkorMirror) Cycles(ctx context.Context, projectID int64) ([][]string, error) {
	if m == nil {
		return nil, nil
	}
	graph := m.client.SelectGraph(m.graphName(projectID))
	result, err := graph.Query(`
		MATCH p = (a:Module)-[:DEPENDS_ON*2..6]->(a)
		RETURN [n IN nodes(p) | n.name] LIMIT 50
	`, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("falkor cycles: %w", err)
	}

	var out [][]string
	for result.Next() {
		rec := result.Record()
		raw, ok := rec.GetByIndex(0).([]interface{})
		if !ok {
			continue
		}
		cycle := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				cycle = append(cycle, s)
			}
		}
		out = append(out, cycle)
	}
	return out, nil
}

// Close releases the underlying connection.
func (m *FalkorMirror) Close() error {
	if m == nil {
		return nil
	}
	return m.client.Close()
}
