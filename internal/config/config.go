// Package config loads agrindex settings from defaults, an optional JSON
// config file, and AGRINDEX_* environment variables, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Local   LocalConfig
	Remote  RemoteConfig
	Storage StorageConfig
}

type ServerConfig struct {
	Port     int
	MCPPort  int
	APIToken string
}

type BackendConfig struct {
	// Mode is "local", "remote", or "auto".
	Mode string
}

type LocalConfig struct {
	BaseURL    string
	EmbedModel string
	ChatModel  string
}

type RemoteConfig struct {
	BaseURL    string
	APIKey     string
	EmbedModel string
	ChatModel  string
}

type StorageConfig struct {
	DataDir string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		Backend: BackendConfig{
			Mode: "local",
		},
		Local: LocalConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
			ChatModel:  "llama3.2",
		},
		Remote: RemoteConfig{
			EmbedModel: "text-embedding-3-small",
			ChatModel:  "gpt-4o-mini",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "agrindex")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "agrindex-data"
	}
	return filepath.Join(home, ".local", "share", "agrindex")
}

// configPath returns the JSON config file location.
func configPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "agrindex", "config.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "agrindex", "config.json")
}

// Load reads configuration from the JSON config file (when present) with
// AGRINDEX_* environment variables overriding file values.
func Load() (Config, error) {
	return loadWith(configPath(), os.Getenv)
}

// fileConfig mirrors the JSON config file layout. All fields are optional.
type fileConfig struct {
	Port       *int    `json:"port"`
	MCPPort    *int    `json:"mcpPort"`
	APIToken   *string `json:"apiToken"`
	Mode       *string `json:"mode"`
	OllamaURL  *string `json:"ollamaUrl"`
	EmbedModel *string `json:"embedModel"`
	ChatModel  *string `json:"chatModel"`
	RemoteURL  *string `json:"remoteUrl"`
	RemoteKey  *string `json:"remoteApiKey"`
	DataDir    *string `json:"dataDir"`
}

func loadWith(path string, getenv func(string) string) (Config, error) {
	cfg := defaults()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}

	switch cfg.Backend.Mode {
	case "local", "remote", "auto":
	default:
		return Config{}, fmt.Errorf("invalid backend mode %q (want local, remote, or auto)", cfg.Backend.Mode)
	}

	if cfg.Backend.Mode == "remote" && cfg.Remote.APIKey == "" {
		return Config{}, fmt.Errorf("backend mode is remote but no API key is set; " +
			"set it via AGRINDEX_REMOTE_API_KEY or remoteApiKey in the config file")
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if fc.Port != nil {
		cfg.Server.Port = *fc.Port
	}
	if fc.MCPPort != nil {
		cfg.Server.MCPPort = *fc.MCPPort
	}
	if fc.APIToken != nil {
		cfg.Server.APIToken = *fc.APIToken
	}
	if fc.Mode != nil {
		cfg.Backend.Mode = *fc.Mode
	}
	if fc.OllamaURL != nil {
		cfg.Local.BaseURL = *fc.OllamaURL
	}
	if fc.EmbedModel != nil {
		cfg.Local.EmbedModel = *fc.EmbedModel
	}
	if fc.ChatModel != nil {
		cfg.Local.ChatModel = *fc.ChatModel
	}
	if fc.RemoteURL != nil {
		cfg.Remote.BaseURL = *fc.RemoteURL
	}
	if fc.RemoteKey != nil {
		cfg.Remote.APIKey = *fc.RemoteKey
	}
	if fc.DataDir != nil {
		cfg.Storage.DataDir = *fc.DataDir
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("AGRINDEX_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid AGRINDEX_PORT %q: %w", v, err)
		}
		cfg.Server.Port = p
	}
	if v := getenv("AGRINDEX_MCP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid AGRINDEX_MCP_PORT %q: %w", v, err)
		}
		cfg.Server.MCPPort = p
	}
	if v := getenv("AGRINDEX_API_TOKEN"); v != "" {
		cfg.Server.APIToken = v
	}
	if v := getenv("AGRINDEX_BACKEND_MODE"); v != "" {
		cfg.Backend.Mode = v
	}
	if v := getenv("AGRINDEX_OLLAMA_URL"); v != "" {
		cfg.Local.BaseURL = v
	}
	if v := getenv("AGRINDEX_EMBED_MODEL"); v != "" {
		cfg.Local.EmbedModel = v
	}
	if v := getenv("AGRINDEX_CHAT_MODEL"); v != "" {
		cfg.Local.ChatModel = v
	}
	if v := getenv("AGRINDEX_REMOTE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := getenv("AGRINDEX_REMOTE_API_KEY"); v != "" {
		cfg.Remote.APIKey = v
	}
	if v := getenv("AGRINDEX_REMOTE_EMBED_MODEL"); v != "" {
		cfg.Remote.EmbedModel = v
	}
	if v := getenv("AGRINDEX_REMOTE_CHAT_MODEL"); v != "" {
		cfg.Remote.ChatModel = v
	}
	if v := getenv("AGRINDEX_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	return nil
}
