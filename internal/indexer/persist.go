package indexer

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/mirahq/mira/internal/chunk"
	"github.com/mirahq/mira/internal/embedclient"
)

// vectorBytes packs v into the little-endian float32 layout sqlite-vec's
// vec0 virtual table expects for a float[N] column.
func vectorBytes(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// persistPhase runs Phase 2 (spec §4.E): accumulates parsed files and
// chunks, flushing batches at the symbol/file/chunk thresholds, and embeds
// the final partial batch after the loop.
func (idx *Indexer) persistPhase(ctx context.Context, projectID int64, parsed []parsedFile, stats *Stats) error {
	var pendingBatch []parsedFile
	var pendingSymbols int
	var pendingChunks []chunkWithFile

	for _, pf := range parsed {
		pendingBatch = append(pendingBatch, pf)
		pendingSymbols += len(pf.symbols)
		for _, u := range pf.chunks {
			pendingChunks = append(pendingChunks, chunkWithFile{relPath: pf.relPath, unit: u})
		}

		if pendingSymbols >= idx.Config.FlushSymbolThreshold || len(pendingBatch) >= idx.Config.FlushFileThreshold {
			if err := idx.flushBatch(ctx, projectID, pendingBatch, stats); err != nil {
				return err
			}
			pendingBatch, pendingSymbols = nil, 0
		}
		if len(pendingChunks) >= idx.Config.FlushChunkThreshold {
			idx.flushChunks(ctx, projectID, pendingChunks, stats)
			pendingChunks = nil
		}
	}

	if len(pendingBatch) > 0 {
		if err := idx.flushBatch(ctx, projectID, pendingBatch, stats); err != nil {
			return err
		}
	}
	if len(pendingChunks) > 0 {
		idx.flushChunks(ctx, projectID, pendingChunks, stats)
	}
	return nil
}

// chunkWithFile pairs an embedding unit with the file it came from, so a
// cross-file pending-chunk buffer can still record file_path on flush.
type chunkWithFile struct {
	relPath string
	unit    chunk.Unit
}

// insertedSymbol is one symbol row written during a batch flush, kept in
// memory long enough to resolve call edges within the same flush.
type insertedSymbol struct {
	id                 int64
	relPath            string
	name               string
	startLine, endLine int
}

// flushBatch writes a symbol/import/call batch in a single write
// transaction (spec §4.E flush semantics): symbols first (capturing
// symbol_id), then imports (ignoring unique violations), then call edges —
// resolving caller_id by locating which emitted symbol contains call_line,
// and opportunistically resolving callee_id by name within the same flush.
// Unresolved callees are still recorded, with a NULL callee_id.
func (idx *Indexer) flushBatch(ctx context.Context, projectID int64, batch []parsedFile, stats *Stats) error {
	if len(batch) == 0 {
		return nil
	}

	return idx.Pool.Code.Run(ctx, func(tx *sql.Tx) error {
		var inserted []insertedSymbol
		byName := map[string][]int{} // symbol name -> indices into inserted, for callee resolution

		for _, pf := range batch {
			for _, sym := range pf.symbols {
				res, err := tx.ExecContext(ctx, `
					INSERT INTO code_symbols
						(project_id, file_path, name, symbol_type, start_line, end_line,
						 signature, language, visibility, is_test, is_async, documentation, qualified_name)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					projectID, pf.relPath, sym.Name, string(sym.Kind), sym.StartLine, sym.EndLine,
					sym.Signature, sym.Language, sym.Visibility, sym.IsTest, sym.IsAsync, sym.Documentation, sym.QualifiedName,
				)
				if err != nil {
					stats.Errors++
					continue
				}
				id, err := res.LastInsertId()
				if err != nil {
					stats.Errors++
					continue
				}
				stats.Symbols++
				pos := len(inserted)
				inserted = append(inserted, insertedSymbol{id: id, relPath: pf.relPath, name: sym.Name, startLine: sym.StartLine, endLine: sym.EndLine})
				byName[sym.Name] = append(byName[sym.Name], pos)
			}

			for _, imp := range pf.imports {
				if _, err := tx.ExecContext(ctx, `
					INSERT OR IGNORE INTO imports (project_id, file_path, import_path, is_external)
					VALUES (?, ?, ?, ?)`,
					projectID, pf.relPath, imp.ImportPath, imp.IsExternal,
				); err != nil {
					stats.Errors++
				}
			}
		}

		for _, pf := range batch {
			for _, call := range pf.calls {
				callerID, ok := findEnclosing(inserted, pf.relPath, call.CallLine)
				if !ok {
					continue // no enclosing symbol was emitted in this flush; nothing to attribute the call to
				}
				var calleeID interface{}
				if idxs := byName[call.CalleeName]; len(idxs) > 0 {
					calleeID = inserted[idxs[0]].id
				}
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO call_graph (caller_id, callee, callee_id, call_line, call_type)
					VALUES (?, ?, ?, ?, ?)`,
					callerID, call.CalleeName, calleeID, call.CallLine, string(call.Kind),
				); err != nil {
					stats.Errors++
				}
			}
		}
		return nil
	})
}

func findEnclosing(symbols []insertedSymbol, relPath string, line int) (int64, bool) {
	for _, s := range symbols {
		if s.relPath == relPath && line >= s.startLine && line <= s.endLine {
			return s.id, true
		}
	}
	return 0, false
}

// flushChunks embeds the pending chunk batch and inserts the resulting
// vectors in one transaction; per-row embedding/insert failures are counted
// but do not abort the transaction (spec §4.E). A disabled embedding client
// (no API key configured) silently skips this flush — chunks accumulate no
// further once discarded, matching "these chunks are not embedded this
// pass; the symbols were still persisted."
func (idx *Indexer) flushChunks(ctx context.Context, projectID int64, chunks []chunkWithFile, stats *Stats) {
	if len(chunks) == 0 || idx.Embed == nil || !idx.Embed.Enabled() {
		return
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.unit.Content
	}
	vectors, err := idx.Embed.EmbedBatch(ctx, embedclient.TaskDocument, texts)
	if err != nil {
		log.Warn().Err(err).Int("count", len(chunks)).Msg("indexer.embed_batch.failed")
		stats.Errors += len(chunks)
		return
	}

	_ = idx.Pool.Code.Run(ctx, func(tx *sql.Tx) error {
		for i, c := range chunks {
			if i >= len(vectors) {
				stats.Errors++
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO vec_code (embedding, project_id, file_path, start_line, chunk_content)
				VALUES (?, ?, ?, ?, ?)`,
				vectorBytes(vectors[i]), projectID, c.relPath, c.unit.StartLine, c.unit.Content,
			); err != nil {
				stats.Errors++
				continue
			}
			stats.Chunks++
		}
		return nil
	})
}
