package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Browser.AutoStart = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Server.Name != "guidepost" {
		t.Errorf("server name = %q", cfg.Server.Name)
	}
	if cfg.Walkthrough.SettleMs != 500 || cfg.Walkthrough.GraceMs != 1000 {
		t.Errorf("walkthrough delays = %+v", cfg.Walkthrough)
	}
	if cfg.HTTP.Port != 8732 {
		t.Errorf("http port = %d", cfg.HTTP.Port)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  name: custom
browser:
  auto_start: false
walkthrough:
  settle_ms: 50
agent:
  base_url: "https://agent.example.com"
  model: gpt-4o-mini
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Name != "custom" {
		t.Errorf("server name = %q", cfg.Server.Name)
	}
	if cfg.Walkthrough.SettleMs != 50 {
		t.Errorf("settle_ms = %d", cfg.Walkthrough.SettleMs)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Walkthrough.GraceMs != 1000 {
		t.Errorf("grace_ms = %d", cfg.Walkthrough.GraceMs)
	}
	if cfg.Agent.Model != "gpt-4o-mini" {
		t.Errorf("agent model = %q", cfg.Agent.Model)
	}
	if cfg.Agent.MaxTokens != 1024 {
		t.Errorf("max_tokens = %d", cfg.Agent.MaxTokens)
	}
}

func TestLoadMissingPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	badYAML := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(badYAML, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(badYAML); err == nil {
		t.Error("expected yaml parse error")
	}

	noName := filepath.Join(dir, "noname.yaml")
	content := `
server:
  name: ""
browser:
  auto_start: false
`
	if err := os.WriteFile(noName, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(noName); err == nil {
		t.Error("expected validation error for empty server name")
	}
}

func TestValidateBrowserAutoStart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Browser.AutoStart = true
	cfg.Browser.DebuggerURL = ""
	cfg.Browser.Launch = nil
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when auto_start has no attach target")
	}

	cfg.Browser.DebuggerURL = "ws://localhost:9222"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestWalkthroughDelays(t *testing.T) {
	var w WalkthroughConfig
	if got := w.SettleDelay(); got != 500*time.Millisecond {
		t.Errorf("SettleDelay zero = %v", got)
	}
	if got := w.GraceDelay(); got != time.Second {
		t.Errorf("GraceDelay zero = %v", got)
	}
	if got := w.WatcherInterval(); got != 250*time.Millisecond {
		t.Errorf("WatcherInterval zero = %v", got)
	}

	w = WalkthroughConfig{SettleMs: 50, GraceMs: 75, WatcherIntervalMs: 10}
	if got := w.SettleDelay(); got != 50*time.Millisecond {
		t.Errorf("SettleDelay = %v", got)
	}
	if got := w.GraceDelay(); got != 75*time.Millisecond {
		t.Errorf("GraceDelay = %v", got)
	}
	if got := w.WatcherInterval(); got != 10*time.Millisecond {
		t.Errorf("WatcherInterval = %v", got)
	}
}

func TestAgentDeadlines(t *testing.T) {
	var a AgentConfig
	if got := a.Timeout(); got != 30*time.Second {
		t.Errorf("Timeout zero = %v", got)
	}
	if got := a.StreamDeadline(); got != 300*time.Second {
		t.Errorf("StreamDeadline zero = %v", got)
	}
	if got := a.Retries(); got != 3 {
		t.Errorf("Retries zero = %d", got)
	}

	a = AgentConfig{RequestTimeout: "2s", StreamTimeout: "1m", MaxRetries: 5}
	if got := a.Timeout(); got != 2*time.Second {
		t.Errorf("Timeout = %v", got)
	}
	if got := a.StreamDeadline(); got != time.Minute {
		t.Errorf("StreamDeadline = %v", got)
	}
	if got := a.Retries(); got != 5 {
		t.Errorf("Retries = %d", got)
	}

	// Unparseable durations fall back to defaults.
	a.RequestTimeout = "soon"
	if got := a.Timeout(); got != 30*time.Second {
		t.Errorf("Timeout fallback = %v", got)
	}
}

func TestAgentToken(t *testing.T) {
	var a AgentConfig
	if got := a.Token(); got != "" {
		t.Errorf("Token without env var = %q", got)
	}

	a.APIKeyEnv = "GUIDEPOST_TEST_TOKEN"
	t.Setenv("GUIDEPOST_TEST_TOKEN", "sk-abc")
	if got := a.Token(); got != "sk-abc" {
		t.Errorf("Token = %q", got)
	}
}

func TestBrowserDefaults(t *testing.T) {
	var b BrowserConfig
	if !b.IsHeadless() {
		t.Error("headless default should be true")
	}
	headed := false
	b.Headless = &headed
	if b.IsHeadless() {
		t.Error("explicit headless=false ignored")
	}
	if got := b.GetViewportWidth(); got != 1920 {
		t.Errorf("width = %d", got)
	}
	if got := b.GetViewportHeight(); got != 1080 {
		t.Errorf("height = %d", got)
	}
	if got := b.NavigationTimeout(); got != 15*time.Second {
		t.Errorf("nav timeout = %v", got)
	}
	b.DefaultNavigationTimeout = "3s"
	if got := b.NavigationTimeout(); got != 3*time.Second {
		t.Errorf("nav timeout = %v", got)
	}
	if got := b.DrainInterval(); got != 500*time.Millisecond {
		t.Errorf("drain interval = %v", got)
	}
}

func TestDiscoverWorkspace(t *testing.T) {
	root := t.TempDir()
	wsDir := filepath.Join(root, WorkspaceDirName)
	if err := os.MkdirAll(wsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(wsDir, WorkspaceConfigFile), []byte("server:\n  name: ws\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "app", "src", "components")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	found, err := DiscoverWorkspace(nested)
	if err != nil {
		t.Fatalf("DiscoverWorkspace: %v", err)
	}
	// Resolve symlinks so the comparison works on systems where TempDir
	// itself sits behind one.
	wantRoot, _ := filepath.EvalSymlinks(root)
	gotRoot, _ := filepath.EvalSymlinks(found)
	if gotRoot != wantRoot {
		t.Errorf("workspace root = %q, want %q", found, root)
	}

	empty := t.TempDir()
	found, err = DiscoverWorkspace(empty)
	if err != nil {
		t.Fatalf("DiscoverWorkspace: %v", err)
	}
	if found != "" && !contains(empty, found) {
		// A workspace above the temp dir would be an environment quirk,
		// not a bug; only fail when discovery invents a root below it.
		t.Errorf("unexpected workspace %q under %q", found, empty)
	}
}

func contains(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	return err == nil && rel != ".." && !filepath.IsAbs(rel)
}

func TestLoadWithWorkspaceResolvesPaths(t *testing.T) {
	root := t.TempDir()
	wsDir := filepath.Join(root, WorkspaceDirName)
	if err := os.MkdirAll(wsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	wsConfig := `
server:
  name: ws-project
browser:
  auto_start: false
walkthrough:
  slot_path: data/walkthrough.json
storage:
  data_dir: data
`
	if err := os.WriteFile(filepath.Join(wsDir, WorkspaceConfigFile), []byte(wsConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, gotWs, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: root})
	if err != nil {
		t.Fatalf("LoadWithWorkspace: %v", err)
	}
	if gotWs != root {
		t.Errorf("workspace dir = %q, want %q", gotWs, root)
	}
	if cfg.Server.Name != "ws-project" {
		t.Errorf("server name = %q", cfg.Server.Name)
	}
	if want := filepath.Join(root, "data", "walkthrough.json"); cfg.Walkthrough.SlotPath != want {
		t.Errorf("slot path = %q, want %q", cfg.Walkthrough.SlotPath, want)
	}
	if want := filepath.Join(root, "data"); cfg.Storage.DataDir != want {
		t.Errorf("data dir = %q, want %q", cfg.Storage.DataDir, want)
	}
}

func TestLoadWithWorkspaceExplicitConfigWins(t *testing.T) {
	root := t.TempDir()
	wsDir := filepath.Join(root, WorkspaceDirName)
	if err := os.MkdirAll(wsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	wsConfig := "server:\n  name: from-workspace\nbrowser:\n  auto_start: false\n"
	if err := os.WriteFile(filepath.Join(wsDir, WorkspaceConfigFile), []byte(wsConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	explicit := filepath.Join(t.TempDir(), "override.yaml")
	if err := os.WriteFile(explicit, []byte("server:\n  name: from-flag\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := LoadWithWorkspace(explicit, WorkspaceOptions{ExplicitDir: root})
	if err != nil {
		t.Fatalf("LoadWithWorkspace: %v", err)
	}
	if cfg.Server.Name != "from-flag" {
		t.Errorf("server name = %q, want from-flag", cfg.Server.Name)
	}
}

func TestLoadWithWorkspaceDisabled(t *testing.T) {
	root := t.TempDir()
	wsDir := filepath.Join(root, WorkspaceDirName)
	if err := os.MkdirAll(wsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	wsConfig := "server:\n  name: should-not-load\nbrowser:\n  auto_start: false\n"
	if err := os.WriteFile(filepath.Join(wsDir, WorkspaceConfigFile), []byte(wsConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, gotWs, err := LoadWithWorkspace("", WorkspaceOptions{Disable: true, ExplicitDir: root})
	if err != nil {
		t.Fatalf("LoadWithWorkspace: %v", err)
	}
	if gotWs != "" {
		t.Errorf("workspace dir = %q, want empty", gotWs)
	}
	if cfg.Server.Name != "guidepost" {
		t.Errorf("server name = %q, want default", cfg.Server.Name)
	}
}

func TestInitWorkspace(t *testing.T) {
	root := t.TempDir()
	if err := InitWorkspace(root); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, WorkspaceDirName, WorkspaceConfigFile)); err != nil {
		t.Errorf("config template missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, WorkspaceDirName, ".gitignore")); err != nil {
		t.Errorf(".gitignore missing: %v", err)
	}
	if err := InitWorkspace(root); err == nil {
		t.Error("expected error on re-init")
	}
}
