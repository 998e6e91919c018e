package toolloop

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverMCPBridge_ReadsMCPJSON(t *testing.T) {
	dir := t.TempDir()
	contents := `{"mcp_servers": {"docs": {"command": "docs-server", "args": ["--stdio"]}}}`
	if err := os.WriteFile(filepath.Join(dir, ".mcp.json"), []byte(contents), 0o644); err != nil {
		t.Fatalf("write .mcp.json: %v", err)
	}

	bridge, err := DiscoverMCPBridge(dir)
	if err != nil {
		t.Fatalf("DiscoverMCPBridge: %v", err)
	}
	if bridge == nil {
		t.Fatal("expected a non-nil bridge when .mcp.json configures a server")
	}
	if _, ok := bridge.servers["docs"]; !ok {
		t.Fatalf("expected server \"docs\" to be registered, got %+v", bridge.servers)
	}
}

func TestDiscoverMCPBridge_NilWhenUnconfigured(t *testing.T) {
	dir := t.TempDir()
	bridge, err := DiscoverMCPBridge(dir)
	if err != nil {
		t.Fatalf("DiscoverMCPBridge: %v", err)
	}
	if bridge != nil {
		t.Fatal("expected nil bridge when no config files are present")
	}
}

func TestMCPBridge_CallUnknownToolIsInvalidInput(t *testing.T) {
	bridge := &MCPBridge{servers: map[string]mcpServerConfig{"docs": {Command: "docs-server"}}}
	_, err := bridge.Call(context.Background(), "missing", nil)
	if err == nil {
		t.Fatal("expected error for unconfigured tool")
	}
}

func TestTomlTableToYAML_ParsesServerTable(t *testing.T) {
	toml := `
[mcp_servers.docs]
command = "docs-server"
args = ["--stdio"]
`
	cfg, ok := readCodexTOML(writeTempTOML(t, toml))
	if !ok {
		t.Fatal("expected successful parse")
	}
	srv, ok := cfg.MCPServers["docs"]
	if !ok {
		t.Fatalf("expected \"docs\" server, got %+v", cfg.MCPServers)
	}
	if srv.Command != "docs-server" {
		t.Fatalf("expected command docs-server, got %q", srv.Command)
	}
}

func writeTempTOML(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return path
}
