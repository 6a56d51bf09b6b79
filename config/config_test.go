package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/go-playground/assert.v1"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, cfg.MaxConnections, Unlimited)
	assert.Equal(t, cfg.MaxMessageSize, 1<<20)
	assert.Equal(t, cfg.IdleTimeout, 30*time.Minute)
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	cfg, err := Parse([]string{"-port", "9090", "-max-connections", "10", "-idle-timeout", "5s", "-access-log", "console"})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	assert.Equal(t, cfg.Port, 9090)
	assert.Equal(t, cfg.MaxConnections, 10)
	assert.Equal(t, cfg.IdleTimeout, 5*time.Second)
	assert.Equal(t, cfg.AccessLog, "console")
	assert.Equal(t, cfg.Addr(), ":9090")
}

func TestParseYAMLFileEnvAndFlagPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	yamlDoc := `
port: 7000
max_connections: 50
max_message_size: 2048
idle_timeout: 90s
write_timeout: 15
log_format: console
monitor: true
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FASTDISPATCH_MAX_CONNECTIONS", "75")

	cfg, err := Parse([]string{"-config", path, "-port", "7001"})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	assert.Equal(t, cfg.Port, 7001)           // flag beats file
	assert.Equal(t, cfg.MaxConnections, 75)   // env beats file
	assert.Equal(t, cfg.MaxMessageSize, 2048) // file beats default
	assert.Equal(t, cfg.IdleTimeout, 90*time.Second)
	assert.Equal(t, cfg.WriteTimeout, 15*time.Second)
	assert.Equal(t, cfg.LogFormat, "console")
	assert.Equal(t, cfg.Monitor, true)
}

func TestParseJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.json")
	if err := os.WriteFile(path, []byte(`{"port": 6000, "workers": 3, "access_log": "none"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Parse([]string{"-config", path})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	assert.Equal(t, cfg.Port, 6000)
	assert.Equal(t, cfg.Workers, 3)
	assert.Equal(t, cfg.AccessLog, "none")
}

func TestParseInvalid(t *testing.T) {
	tests := [][]string{
		{"-max-connections", "-5"},
		{"-log-format", "xml"},
		{"-access-log", "syslog"},
		{"-max-message-size", "0"},
		{"-config", "/nonexistent/server.yaml"},
		{"-unknown-flag"},
	}

	for _, args := range tests {
		if _, err := Parse(args); err == nil {
			t.Errorf("Expected error for %s", strings.Join(args, " "))
		}
	}
}

func TestManagerNestedKeys(t *testing.T) {
	m := NewManager()
	m.loadFromMap("", map[string]any{
		"server": map[string]any{"port": 8081, "idle": "2m"},
		"debug":  "yes",
	})

	assert.Equal(t, m.GetInt("server.port"), 8081)
	assert.Equal(t, m.GetDuration("server.idle"), 2*time.Minute)
	assert.Equal(t, m.GetBool("debug"), true)
	assert.Equal(t, m.GetString("missing", "fallback"), "fallback")

	var target struct {
		Port int `config:"port"`
	}
	if err := m.Unmarshal("server", &target); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	assert.Equal(t, target.Port, 8081)
}

func TestManagerEnvNesting(t *testing.T) {
	t.Setenv("FASTDISPATCH_SERVER__READ_TIMEOUT", "3s")

	m := NewManager()
	m.LoadFromEnv(EnvPrefix)

	assert.Equal(t, m.GetDuration("server.read_timeout"), 3*time.Second)
}
