// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigrun-chat configuration.
type Config struct {
	Ollama    OllamaConfig    `toml:"ollama" json:"ollama"`
	Engine    EngineConfig    `toml:"engine" json:"engine"`
	Workspace WorkspaceConfig `toml:"workspace" json:"workspace"`
	Server    ServerConfig    `toml:"server" json:"server"`
	UI        UIConfig        `toml:"ui" json:"ui"`
	Logging   LoggingConfig   `toml:"logging" json:"logging"`
}

// OllamaConfig configures the inference backend.
type OllamaConfig struct {
	// URL is the Ollama base URL.
	URL string `toml:"url" json:"url"`
	// Model is the model conversations start with.
	Model string `toml:"model" json:"model"`
	// Timeout bounds one chat request, in seconds.
	Timeout int `toml:"timeout" json:"timeout"`
	// ProbeTimeout bounds a model availability check, in seconds.
	ProbeTimeout int `toml:"probe_timeout" json:"probe_timeout"`
}

// TimeoutDuration returns Timeout as a duration.
func (c OllamaConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// ProbeTimeoutDuration returns ProbeTimeout as a duration.
func (c OllamaConfig) ProbeTimeoutDuration() time.Duration {
	return time.Duration(c.ProbeTimeout) * time.Second
}

// EngineConfig configures the agentic loop.
type EngineConfig struct {
	// MaxRounds is the number of tool rounds before a final answer is forced.
	MaxRounds int `toml:"max_rounds" json:"max_rounds"`
	// Stream requests streaming responses.
	Stream bool `toml:"stream" json:"stream"`
	// ParallelTools dispatches the tool calls of one round concurrently.
	ParallelTools bool `toml:"parallel_tools" json:"parallel_tools"`
	// RecentFiles is how many recently used files are listed with a prompt.
	RecentFiles int `toml:"recent_files" json:"recent_files"`
	// SystemPromptExtra is appended to the system prompt.
	SystemPromptExtra string `toml:"system_prompt_extra" json:"system_prompt_extra"`
}

// WorkspaceConfig configures the workspace and its index.
type WorkspaceConfig struct {
	// Root is the workspace directory. Empty means the working directory.
	Root string `toml:"root" json:"root"`
	// IndexDB is the index database path. Empty stores it under the
	// workspace's .rigrun-chat directory.
	IndexDB string `toml:"index_db" json:"index_db"`
	// Ignore lists extra directory names skipped by tools and the index.
	Ignore []string `toml:"ignore" json:"ignore"`
	// Watch keeps the index current with file system notifications.
	Watch bool `toml:"watch" json:"watch"`
	// MaxFileSize is the largest file tools will read, in bytes.
	MaxFileSize int64 `toml:"max_file_size" json:"max_file_size"`
}

// ServerConfig configures the websocket bridge.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `toml:"addr" json:"addr"`
	// Token is the bearer token clients must present. Required for
	// non-loopback addresses.
	Token string `toml:"token" json:"token"`
	// AllowedOrigins are websocket origin host patterns.
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
	// RateLimit is inbound messages per second per connection.
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	// IdleTimeout closes panels idle this many minutes.
	IdleTimeout int `toml:"idle_timeout" json:"idle_timeout"`
	// MaxPanels bounds concurrently open panels.
	MaxPanels int `toml:"max_panels" json:"max_panels"`
}

// UIConfig configures the terminal surfaces.
type UIConfig struct {
	// Mode is the default surface for the chat command: "tui" or "repl".
	Mode string `toml:"mode" json:"mode"`
	// Markdown renders final answers as markdown.
	Markdown bool `toml:"markdown" json:"markdown"`
	// WordWrap is the markdown wrap width; 0 uses the terminal width.
	WordWrap int `toml:"word_wrap" json:"word_wrap"`
}

// LoggingConfig configures the process log.
type LoggingConfig struct {
	// File receives log output when set. Relative paths are resolved
	// against the config directory.
	File string `toml:"file" json:"file"`
	// Verbose logs every stream fragment and tool result.
	Verbose bool `toml:"verbose" json:"verbose"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Ollama: OllamaConfig{
			URL:          "http://127.0.0.1:11434",
			Model:        "qwen2.5-coder:7b",
			Timeout:      300,
			ProbeTimeout: 5,
		},
		Engine: EngineConfig{
			MaxRounds:   5,
			Stream:      true,
			RecentFiles: 5,
		},
		Workspace: WorkspaceConfig{
			Watch:       true,
			MaxFileSize: 1 << 20,
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8790",
			AllowedOrigins: []string{"localhost:*", "127.0.0.1:*"},
			RateLimit:      5,
			IdleTimeout:    30,
			MaxPanels:      16,
		},
		UI: UIConfig{
			Mode:     "tui",
			Markdown: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the configuration directory: $RIGRUN_CHAT_HOME, or
// ~/.rigrun-chat.
func ConfigDir() (string, error) {
	if dir := os.Getenv("RIGRUN_CHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigrun-chat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// LogFilePath resolves Logging.File against the config directory.
func (c *Config) LogFilePath() (string, error) {
	if c.Logging.File == "" || filepath.IsAbs(c.Logging.File) {
		return c.Logging.File, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Logging.File), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadDotEnv loads KEY=value pairs from .env files into the environment.
// Missing files are skipped and variables already set are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load loads configuration from the config file.
// Tries TOML first, then JSON, and falls back to defaults. Environment
// overrides are applied last, then the result is validated.
func Load() (*Config, error) {
	cfg := Default()

	tomlPath, err := ConfigPathTOML()
	if err != nil {
		return nil, err
	}
	jsonPath, err := ConfigPathJSON()
	if err != nil {
		return nil, err
	}

	switch {
	case fileExists(tomlPath):
		if err := LoadTOML(cfg, tomlPath); err != nil {
			return nil, err
		}
	case fileExists(jsonPath):
		if err := LoadJSON(cfg, jsonPath); err != nil {
			return nil, err
		}
	}

	return finish(cfg)
}

// LoadFile reads the config file over defaults without environment
// overrides or validation, and returns the path it should be saved to.
// Commands that edit and save the file use it, so an invalid file can be
// repaired and overrides are not written back.
func LoadFile() (*Config, string, error) {
	cfg := Default()
	tomlPath, err := ConfigPathTOML()
	if err != nil {
		return nil, "", err
	}
	jsonPath, err := ConfigPathJSON()
	if err != nil {
		return nil, "", err
	}

	switch {
	case fileExists(tomlPath):
		if err := LoadTOML(cfg, tomlPath); err != nil {
			return nil, "", err
		}
		fillDefaults(cfg)
		return cfg, tomlPath, nil
	case fileExists(jsonPath):
		if err := LoadJSON(cfg, jsonPath); err != nil {
			return nil, "", err
		}
		fillDefaults(cfg)
		return cfg, jsonPath, nil
	}
	return cfg, tomlPath, nil
}

// SaveTo writes cfg to path as JSON when path ends in .json, TOML otherwise.
func SaveTo(cfg *Config, path string) error {
	if strings.HasSuffix(path, ".json") {
		return SaveJSON(cfg, path)
	}
	return SaveTOML(cfg, path)
}

// LoadFromPath loads configuration from a specific file. Files ending in
// .json are read as JSON, anything else as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, err
		}
	} else if err := LoadTOML(cfg, path); err != nil {
		return nil, err
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Keys absent from the file keep
// their current values.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %s\n", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file %s: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// fillDefaults fills zero numeric and string values with defaults.
// Booleans are left alone since false is a valid setting.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Ollama.URL == "" {
		cfg.Ollama.URL = defaults.Ollama.URL
	}
	if cfg.Ollama.Model == "" {
		cfg.Ollama.Model = defaults.Ollama.Model
	}
	if cfg.Ollama.Timeout == 0 {
		cfg.Ollama.Timeout = defaults.Ollama.Timeout
	}
	if cfg.Ollama.ProbeTimeout == 0 {
		cfg.Ollama.ProbeTimeout = defaults.Ollama.ProbeTimeout
	}

	if cfg.Engine.MaxRounds == 0 {
		cfg.Engine.MaxRounds = defaults.Engine.MaxRounds
	}

	if cfg.Workspace.MaxFileSize == 0 {
		cfg.Workspace.MaxFileSize = defaults.Workspace.MaxFileSize
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaults.Server.Addr
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = defaults.Server.AllowedOrigins
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = defaults.Server.RateLimit
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaults.Server.IdleTimeout
	}
	if cfg.Server.MaxPanels == 0 {
		cfg.Server.MaxPanels = defaults.Server.MaxPanels
	}

	if cfg.UI.Mode == "" {
		cfg.UI.Mode = defaults.UI.Mode
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML atomically writes cfg as TOML with 0600 permissions, since it
// may hold the server token.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# rigrun-chat configuration file\n")
	buf.WriteString("# Generated by rigrun-chat - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON atomically writes cfg as JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, data, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration. The returned error is a
// ValidateErrors listing every problem.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.Ollama.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("ollama.url", "must be an http or https URL, got %q", c.Ollama.URL)
	}
	if strings.TrimSpace(c.Ollama.Model) == "" {
		add("ollama.model", "must not be empty")
	}
	if c.Ollama.Timeout < 0 {
		add("ollama.timeout", "must not be negative")
	}
	if c.Ollama.ProbeTimeout < 0 {
		add("ollama.probe_timeout", "must not be negative")
	}

	if c.Engine.MaxRounds < 1 || c.Engine.MaxRounds > 50 {
		add("engine.max_rounds", "must be between 1 and 50, got %d", c.Engine.MaxRounds)
	}
	if c.Engine.RecentFiles < 0 {
		add("engine.recent_files", "must not be negative")
	}

	if c.Workspace.Root != "" {
		if info, err := os.Stat(c.Workspace.Root); err != nil || !info.IsDir() {
			add("workspace.root", "%q is not a directory", c.Workspace.Root)
		}
	}
	if c.Workspace.MaxFileSize < 0 {
		add("workspace.max_file_size", "must not be negative")
	}

	host, _, err := net.SplitHostPort(c.Server.Addr)
	if err != nil {
		add("server.addr", "must be host:port, got %q", c.Server.Addr)
	} else if !isLoopback(host) && c.Server.Token == "" {
		add("server.token", "required when server.addr is not a loopback address")
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must not be negative")
	}
	if c.Server.IdleTimeout < 0 {
		add("server.idle_timeout", "must not be negative")
	}
	if c.Server.MaxPanels < 0 {
		add("server.max_panels", "must not be negative")
	}

	switch c.UI.Mode {
	case "tui", "repl":
	default:
		add("ui.mode", "must be \"tui\" or \"repl\", got %q", c.UI.Mode)
	}
	if c.UI.WordWrap < 0 {
		add("ui.word_wrap", "must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - RIGRUN_CHAT_OLLAMA_URL: overrides ollama.url
//   - RIGRUN_CHAT_MODEL: overrides ollama.model
//   - RIGRUN_CHAT_MAX_ROUNDS: overrides engine.max_rounds
//   - RIGRUN_CHAT_WORKSPACE: overrides workspace.root
//   - RIGRUN_CHAT_ADDR: overrides server.addr
//   - RIGRUN_CHAT_TOKEN: overrides server.token
//   - RIGRUN_CHAT_LOG_FILE: overrides logging.file
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGRUN_CHAT_OLLAMA_URL"); v != "" {
		c.Ollama.URL = v
	}
	if v := os.Getenv("RIGRUN_CHAT_MODEL"); v != "" {
		c.Ollama.Model = v
	}
	if v := os.Getenv("RIGRUN_CHAT_MAX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.MaxRounds = n
		} else {
			fmt.Fprintf(os.Stderr, "Warning: ignoring RIGRUN_CHAT_MAX_ROUNDS=%q: not an integer\n", v)
		}
	}
	if v := os.Getenv("RIGRUN_CHAT_WORKSPACE"); v != "" {
		c.Workspace.Root = v
	}
	if v := os.Getenv("RIGRUN_CHAT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("RIGRUN_CHAT_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("RIGRUN_CHAT_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "engine.max_rounds").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		result.WriteString(strings.ToUpper(part[:1]))
		result.WriteString(strings.ToLower(part[1:]))
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"ollama.url",
		"ollama.model",
		"ollama.timeout",
		"ollama.probe_timeout",
		"engine.max_rounds",
		"engine.stream",
		"engine.parallel_tools",
		"engine.recent_files",
		"engine.system_prompt_extra",
		"workspace.root",
		"workspace.index_db",
		"workspace.ignore",
		"workspace.watch",
		"workspace.max_file_size",
		"server.addr",
		"server.token",
		"server.allowed_origins",
		"server.rate_limit",
		"server.idle_timeout",
		"server.max_panels",
		"ui.mode",
		"ui.markdown",
		"ui.word_wrap",
		"logging.file",
		"logging.verbose",
	}
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Workspace.Ignore = append([]string(nil), c.Workspace.Ignore...)
	clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	return &clone
}

// String returns the config as TOML with the server token redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Server.Token != "" {
		safe.Server.Token = "[REDACTED]"
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance, loading it on first
// access. A config that fails to load or validate is reported on stderr and
// replaced by defaults.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal sets the global configuration instance.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state. Tests only.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
