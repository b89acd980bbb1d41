package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level Guidepost config.
	WorkspaceDirName = ".guidepost"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the Guidepost overlay server.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Browser     BrowserConfig     `yaml:"browser"`
	Walkthrough WalkthroughConfig `yaml:"walkthrough"`
	Agent       AgentConfig       `yaml:"agent"`
	Storage     StorageConfig     `yaml:"storage"`
	Facts       FactsConfig       `yaml:"facts"`
	HTTP        HTTPConfig        `yaml:"http"`
	MCP         MCPConfig         `yaml:"mcp"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// BrowserConfig configures how the DOM driver attaches to or launches Chrome.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the server launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Viewport width for the driven page (default: 1920).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for the driven page (default: 1080).
	ViewportHeight int `yaml:"viewport_height"`
	// Interval (ms) at which the injected overlay event buffer is drained.
	EventDrainMs int `yaml:"event_drain_ms"`
}

// WalkthroughConfig tunes the tour state machine. The delays are knobs,
// not contracts; settle always runs before resolution and grace always
// runs before skipping an unresolved step.
type WalkthroughConfig struct {
	// Path of the persisted walkthrough slot file.
	SlotPath string `yaml:"slot_path"`
	// Pause (ms) after navigation before resolving a step's query, so the
	// destination page's elements can mount.
	SettleMs int `yaml:"settle_ms"`
	// Delay (ms) before auto-advancing past a step whose query never resolved.
	GraceMs int `yaml:"grace_ms"`
	// Polling interval (ms) for the page-change watcher.
	WatcherIntervalMs int `yaml:"watcher_interval_ms"`
}

// AgentConfig configures the remote assistant endpoint.
type AgentConfig struct {
	// Base URL of the agent service (e.g., https://agent.example.com).
	BaseURL string `yaml:"base_url"`
	// Mode selects the request shape: "orchestrator" (default) sends the
	// context-rich body, "simple" sends {message, context, config} for
	// agents that do their own context management.
	Mode string `yaml:"mode"`
	// Name of the environment variable holding the bearer token.
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	// Sampling temperature forwarded to the agent.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// Extra system instructions forwarded with every request.
	Instructions string `yaml:"instructions"`
	// Host framework hint (e.g., "react", "vue") forwarded with every request.
	Framework string `yaml:"framework"`
	// Per-request deadline for non-streaming calls (e.g., "30s").
	RequestTimeout string `yaml:"request_timeout"`
	// Deadline for streaming calls (e.g., "300s").
	StreamTimeout string `yaml:"stream_timeout"`
	// Retry attempts for non-streaming transport failures.
	MaxRetries int `yaml:"max_retries"`
}

// StorageConfig configures the sqlite message store.
type StorageConfig struct {
	// Directory for the message database. ":memory:" keeps it in-process.
	DataDir string `yaml:"data_dir"`
}

// FactsConfig controls the embedded telemetry fact engine.
type FactsConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// HTTPConfig configures the UI-facing HTTP/SSE API.
type HTTPConfig struct {
	// Port for the embedding UI API. 0 disables the HTTP surface.
	Port int `yaml:"port"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "guidepost",
			Version: "0.1.0",
			LogFile: "guidepost.log",
		},
		Browser: BrowserConfig{
			AutoStart:                true,
			DefaultNavigationTimeout: "15s",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
			EventDrainMs:             500,
		},
		Walkthrough: WalkthroughConfig{
			SlotPath:          "walkthrough.json",
			SettleMs:          500,
			GraceMs:           1000,
			WatcherIntervalMs: 250,
		},
		Agent: AgentConfig{
			APIKeyEnv:      "GUIDEPOST_AGENT_TOKEN",
			Temperature:    0.2,
			MaxTokens:      1024,
			RequestTimeout: "30s",
			StreamTimeout:  "300s",
			MaxRetries:     3,
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		Facts: FactsConfig{
			Enable:          true,
			FactBufferLimit: 2048,
		},
		HTTP: HTTPConfig{
			Port: 8732,
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .guidepost/config.yaml file.
// Returns the workspace root directory (parent of .guidepost/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .guidepost/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	// Layer 1: Workspace config (if not disabled)
	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	// Layer 2: Explicit config file (--config flag)
	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .guidepost/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# Guidepost project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# agent:
#   base_url: "https://agent.example.com"
#   model: "gpt-4o-mini"
#   framework: "react"

# walkthrough:
#   settle_ms: 500
#   grace_ms: 1000

# browser:
#   headless: false
#   viewport_width: 1280
#   viewport_height: 720
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (logs, walkthrough slots, message db) - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || p == ":memory:" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Walkthrough.SlotPath = resolve(cfg.Walkthrough.SlotPath)
	cfg.Storage.DataDir = resolve(cfg.Storage.DataDir)
	cfg.Facts.SchemaPath = resolve(cfg.Facts.SchemaPath)
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	if c.Walkthrough.SettleMs < 0 || c.Walkthrough.GraceMs < 0 {
		return errors.New("walkthrough delays must not be negative")
	}
	return nil
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	if b.DefaultNavigationTimeout == "" {
		return 15 * time.Second
	}
	d, err := time.ParseDuration(b.DefaultNavigationTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

// DrainInterval returns the overlay event drain interval with a sane default.
func (b BrowserConfig) DrainInterval() time.Duration {
	if b.EventDrainMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(b.EventDrainMs) * time.Millisecond
}

// SettleDelay returns the settle pause before step resolution.
func (w WalkthroughConfig) SettleDelay() time.Duration {
	if w.SettleMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(w.SettleMs) * time.Millisecond
}

// GraceDelay returns the delay before skipping an unresolved step.
func (w WalkthroughConfig) GraceDelay() time.Duration {
	if w.GraceMs <= 0 {
		return time.Second
	}
	return time.Duration(w.GraceMs) * time.Millisecond
}

// WatcherInterval returns the page-change polling interval.
func (w WalkthroughConfig) WatcherInterval() time.Duration {
	if w.WatcherIntervalMs <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(w.WatcherIntervalMs) * time.Millisecond
}

// Timeout returns the parsed non-streaming request deadline.
func (a AgentConfig) Timeout() time.Duration {
	if a.RequestTimeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(a.RequestTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// StreamDeadline returns the parsed streaming request deadline.
func (a AgentConfig) StreamDeadline() time.Duration {
	if a.StreamTimeout == "" {
		return 300 * time.Second
	}
	d, err := time.ParseDuration(a.StreamTimeout)
	if err != nil {
		return 300 * time.Second
	}
	return d
}

// SimpleMode reports whether requests use the plain chat shape.
func (a AgentConfig) SimpleMode() bool {
	return a.Mode == "simple"
}

// Retries returns the retry attempt count with a sane default.
func (a AgentConfig) Retries() int {
	if a.MaxRetries <= 0 {
		return 3
	}
	return a.MaxRetries
}

// Token reads the bearer token from the configured environment variable.
// Returns empty string when unset; the agent client then omits the header.
func (a AgentConfig) Token() string {
	if a.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(a.APIKeyEnv)
}
