package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RANKTREE_MIN_SIZE", "25")
	t.Setenv("RANKTREE_LOG_LEVEL", "debug")
	t.Setenv("RANKTREE_STORE_TYPE", "memory")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Tree.MinSize != 25 {
		t.Errorf("Tree.MinSize = %d, want 25", cfg.Tree.MinSize)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}

	if cfg.Store.Type != "memory" {
		t.Errorf("Store.Type = %s, want memory", cfg.Store.Type)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
fit:
  max_iter: 100
  npseudo: 0
tree:
  alpha: 0.01
  max_depth: 3
log:
  level: warn
  format: json
store:
  type: redis
  redis_url: "redis://cache:6379/2"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Fit.MaxIter != 100 {
		t.Errorf("Fit.MaxIter = %d, want 100", cfg.Fit.MaxIter)
	}

	if cfg.Fit.NPseudo != 0 {
		t.Errorf("Fit.NPseudo = %v, want 0", cfg.Fit.NPseudo)
	}

	// Untouched keys keep their defaults
	if cfg.Fit.Tol != 1e-7 {
		t.Errorf("Fit.Tol = %v, want default 1e-7", cfg.Fit.Tol)
	}

	if cfg.Tree.Alpha != 0.01 {
		t.Errorf("Tree.Alpha = %v, want 0.01", cfg.Tree.Alpha)
	}

	if cfg.Tree.MaxDepth != 3 {
		t.Errorf("Tree.MaxDepth = %d, want 3", cfg.Tree.MaxDepth)
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %s, want json", cfg.Log.Format)
	}

	if cfg.Store.RedisURL != "redis://cache:6379/2" {
		t.Errorf("Store.RedisURL = %s, want redis://cache:6379/2", cfg.Store.RedisURL)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("tree:\n  alpha: 0.01\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("RANKTREE_ALPHA", "0.2")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Tree.Alpha != 0.2 {
		t.Errorf("Tree.Alpha = %v, want 0.2 from env", cfg.Tree.Alpha)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "zero max iter is allowed",
			modify: func(c *Config) {
				c.Fit.MaxIter = 0
			},
			wantErr: false,
		},
		{
			name: "negative max iter",
			modify: func(c *Config) {
				c.Fit.MaxIter = -1
			},
			wantErr: true,
		},
		{
			name: "alpha out of range",
			modify: func(c *Config) {
				c.Tree.Alpha = 1
			},
			wantErr: true,
		},
		{
			name: "zero min size",
			modify: func(c *Config) {
				c.Tree.MinSize = 0
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Log.Level = "invalid"
			},
			wantErr: true,
		},
		{
			name: "invalid store type",
			modify: func(c *Config) {
				c.Store.Type = "invalid"
			},
			wantErr: true,
		},
		{
			name: "kafka without brokers",
			modify: func(c *Config) {
				c.Bus.Type = "kafka"
				c.Bus.KafkaBrokers = " "
			},
			wantErr: true,
		},
		{
			name: "kafka with brokers",
			modify: func(c *Config) {
				c.Bus.Type = "kafka"
				c.Bus.KafkaBrokers = "localhost:9092"
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidation_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Tree.MinSize = 0
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	for _, want := range []string{"min_size", "log format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err.Error(), want)
		}
	}
}
