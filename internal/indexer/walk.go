// Package indexer implements the two-phase Indexer (spec §4.E): a filtered
// parallel parse phase followed by a serial batched persist+embed phase.
//
// Grounded on the teacher pack's kraklabs-cie/pkg/ingestion local_pipeline.go
// (worker-pool parse phase, stats accumulation) and batcher.go (accumulate-
// until-threshold flush discipline), adapted from kraklabs-cie's CozoDB/
// Datalog backend to the SQLite Code store this spec's persistence pool
// provides.
package indexer

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mirahq/mira/internal/config"
)

// DiscoveredFile is one file the walk selected for parsing.
type DiscoveredFile struct {
	AbsPath string
	RelPath string // project-relative, forward-slash separated
	Ext     string // extension without leading dot
}

// Walk performs the filtered recursive walk spec §4.E and §4.F share:
// allowed extensions only, and any path component beginning with "." or
// named in cfg.SkipDirs is pruned.
func Walk(root string, cfg *config.Config) ([]DiscoveredFile, error) {
	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, e := range cfg.AllowedExtensions {
		allowed[e] = true
	}
	skip := make(map[string]bool, len(cfg.SkipDirs))
	for _, d := range cfg.SkipDirs {
		skip[d] = true
	}

	var files []DiscoveredFile
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		base := d.Name()
		if path != root && (strings.HasPrefix(base, ".") || skip[base]) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.TrimPrefix(filepath.Ext(base), ".")
		if !allowed[ext] {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		files = append(files, DiscoveredFile{
			AbsPath: path,
			RelPath: filepath.ToSlash(rel),
			Ext:     ext,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// MatchesFilter reports whether path would have been selected by Walk,
// without performing a new walk; the watcher reuses this for incoming
// filesystem events (spec §4.F: "same rules as the indexer walk").
func MatchesFilter(path string, cfg *config.Config) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, ".") {
			return false
		}
		for _, d := range cfg.SkipDirs {
			if part == d {
				return false
			}
		}
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	for _, e := range cfg.AllowedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}
