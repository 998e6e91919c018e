// Command mira is the code-intelligence core's entrypoint: it owns the
// Main/Code SQLite pools, the watcher and indexer, the hybrid query engine,
// and the agentic tool loop's socket endpoint, dispatched from a single
// binary the way kraklabs-cie's cmd/cie dispatches init/index/status/query
// from one flag.Args()-driven switch.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mirahq/mira/internal/config"
	"github.com/mirahq/mira/internal/errorsx"
)

func usage() {
	fmt.Fprintf(os.Stderr, `mira - code-intelligence core

Usage:
  mira [global options] <command> [arguments]

Commands:
  serve              run the watcher, scheduler, and tool-loop socket server
  index <path>        index a project root once and exit
  search <query>       run a query against an already-indexed project
  setup               write a default config and ensure the data directory exists

Global Options:
  --config <path>     path to a JSON config override (default: ~/.mira/config.json)
  --project <path>     project root (default: current directory)
  --verbose            enable debug logging

Environment Variables:
  MIRA_DATA_DIR, MIRA_MAIN_BACKEND, MIRA_POSTGRES_DSN, MIRA_REDIS_ADDR,
  MIRA_FALKORDB_ADDR, MIRA_OTEL_ENDPOINT, MIRA_EMBEDDING_API_KEY,
  MIRA_LLM_API_KEY
`)
}

func main() {
	flag.Usage = usage

	configPath := flag.String("config", "", "path to a JSON config override")
	projectPath := flag.String("project", ".", "project root")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg := loadConfig(*configPath)

	var err error
	switch args[0] {
	case "serve":
		err = runServe(cfg, *projectPath)
	case "index":
		err = runIndex(cfg, args[1:])
	case "search":
		err = runSearch(cfg, *projectPath, args[1:])
	case "setup":
		err = runSetup(cfg)
	default:
		fmt.Fprintf(os.Stderr, "mira: unknown command %q\n", args[0])
		usage()
		os.Exit(2)
	}

	if err == nil {
		return
	}

	var xerr *errorsx.Error
	if asErrorsx(err, &xerr) {
		log.Error().Str("kind", string(xerr.Kind)).Msg(xerr.Error())
		os.Exit(xerr.Kind.ExitCode())
	}
	log.Error().Err(err).Msg("mira: command failed")
	os.Exit(1)
}

func asErrorsx(err error, target **errorsx.Error) bool {
	for err != nil {
		if xerr, ok := err.(*errorsx.Error); ok {
			*target = xerr
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// loadConfig mirrors the teacher's config.EnsureAll/Load-with-warn-fallback
// bootstrap: a malformed or missing override is logged, never fatal, and
// the process continues on config.Default().
func loadConfig(path string) *config.Config {
	cfg := config.Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("mira: failed to read config override, using defaults")
		} else if err := json.Unmarshal(data, cfg); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("mira: failed to parse config override, using defaults")
		}
	} else if err := config.LoadSettingsOverlay(cfg); err != nil {
		log.Warn().Err(err).Msg("mira: failed to load settings overlay, using defaults")
	}
	if err := config.EnsureAll(cfg); err != nil {
		log.Warn().Err(err).Msg("mira: failed to ensure data directory/settings file")
	}
	return cfg
}
