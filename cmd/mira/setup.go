package main

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mirahq/mira/internal/config"
)

// runSetup implements "mira setup": ensures the data directory and a
// default settings.json exist, then prints where they landed. Safe to
// re-run; EnsureSettings never overwrites an existing file.
func runSetup(cfg *config.Config) error {
	if err := config.EnsureAll(cfg); err != nil {
		return err
	}
	log.Info().Str("data_dir", cfg.DataDir).Msg("mira setup: data directory ready")
	fmt.Printf("data directory: %s\n", cfg.DataDir)
	fmt.Printf("settings file:  %s\n", config.SettingsPath(cfg))
	fmt.Printf("main store:     %s\n", cfg.MainDBPath)
	fmt.Printf("code store:     %s\n", cfg.CodeDBPath)
	return nil
}
