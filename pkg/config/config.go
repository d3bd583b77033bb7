// Package config loads the gateway's process configuration from a YAML
// file, with environment variable overrides, following the teacher's
// cmd/agent bootstrap (godotenv for env loading) generalized with a YAML
// base layer for everything the teacher hard-coded as flags/constants.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type AuthConfig struct {
	BearerToken    string   `yaml:"bearer_token"`
	DeviceWhitelist []string `yaml:"device_whitelist"`
}

// TimeoutConfig is the two-level idle policy (spec.md "Idle policy"):
// IdleWarn is close_connection_no_voice_time, the no-voice duration after
// which the gateway speaks a farewell and sets close_after_chat; IdleClose
// is the additional delta after that before the socket is force-closed.
type TimeoutConfig struct {
	IdleWarn  time.Duration `yaml:"idle_warn"`
	IdleClose time.Duration `yaml:"idle_close"`
}

type ProviderSelection struct {
	VAD    string `yaml:"vad"`
	ASR    string `yaml:"asr"`
	LLM    string `yaml:"llm"`
	TTS    string `yaml:"tts"`
	Intent string `yaml:"intent"`
}

type ReportingConfig struct {
	ASREnable bool `yaml:"report_asr_enable"`
	TTSEnable bool `yaml:"report_tts_enable"`
}

// Config is the process-wide configuration, loaded once at startup.
// Individual connections consume a Snapshot (a value copy) rather than a
// pointer into the live Config, so a live config reload never mutates state
// a connection has already started from (spec.md §5 "Shared resources").
type Config struct {
	mu sync.RWMutex

	ListenAddr  string            `yaml:"listen_addr"`
	Auth        AuthConfig        `yaml:"auth"`
	Timeouts    TimeoutConfig     `yaml:"timeouts"`
	Providers   ProviderSelection `yaml:"providers"`
	Reporting   ReportingConfig   `yaml:"reporting"`
	MCPSettings string            `yaml:"mcp_settings_path"`
	MemoryPath  string            `yaml:"memory_path"`
	BasePrompt  string            `yaml:"base_prompt"`
	Timezone    string            `yaml:"timezone"`
}

// Snapshot is a value copy of Config safe to read without further locking.
type Snapshot = Config

// Load reads a YAML config file from path, then applies any ".env" file in
// the working directory (via godotenv) and process environment overrides
// for a small set of operationally-hot fields (listen address, bearer
// token, idle-close seconds), matching the teacher's env-for-secrets / file-for-structure split.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	_ = godotenv.Load() // best-effort; missing .env is not an error

	if v := os.Getenv("GATEWAY_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("GATEWAY_BEARER_TOKEN"); v != "" {
		c.Auth.BearerToken = v
	}
	if v := os.Getenv("GATEWAY_IDLE_CLOSE_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Timeouts.IdleClose = time.Duration(secs) * time.Second
		}
	}

	applyDefaults(&c)
	return &c, nil
}

func applyDefaults(c *Config) {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8000"
	}
	if c.Timeouts.IdleWarn == 0 {
		c.Timeouts.IdleWarn = 120 * time.Second
	}
	if c.Timeouts.IdleClose == 0 {
		c.Timeouts.IdleClose = 60 * time.Second
	}
	if c.MemoryPath == "" {
		c.MemoryPath = "data/.memory.yaml"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
}

// Snapshot returns a value copy of the configuration for a connection to
// consume once at init time; later reloads of the live Config never affect
// a Snapshot already handed out.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.Auth.DeviceWhitelist = append([]string(nil), c.Auth.DeviceWhitelist...)
	return cp
}

// Reload re-reads the YAML file in place, replacing the live fields under
// lock. Snapshots already taken by in-flight connections are unaffected.
func (c *Config) Reload(path string) error {
	next, err := Load(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ListenAddr = next.ListenAddr
	c.Auth = next.Auth
	c.Timeouts = next.Timeouts
	c.Providers = next.Providers
	c.Reporting = next.Reporting
	c.MCPSettings = next.MCPSettings
	c.MemoryPath = next.MemoryPath
	c.BasePrompt = next.BasePrompt
	c.Timezone = next.Timezone
	return nil
}
