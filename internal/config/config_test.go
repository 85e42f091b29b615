package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/video-stream/subtitler/internal/config"
)

func TestLoadDefaultsFollowDataPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_PATH", dir)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.UploadPath != filepath.Join(dir, "uploads") {
		t.Fatalf("UploadPath = %q", cfg.UploadPath)
	}
	if cfg.DBPath != filepath.Join(dir, "subtitler.db") {
		t.Fatalf("DBPath = %q", cfg.DBPath)
	}
	if cfg.RetentionDays != 7 {
		t.Fatalf("RetentionDays = %d, want 7", cfg.RetentionDays)
	}
	if cfg.ProgressInterval().Milliseconds() != 500 {
		t.Fatalf("ProgressInterval = %v", cfg.ProgressInterval())
	}
}

func TestLoadFileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
port = 9090
data_path = "` + filepath.ToSlash(dir) + `"
retention_days = 3
log_format = "json"

[translate]
api_base = "https://llm.example.com/"
model = "file-model"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TRANSLATE_MODEL", "env-model")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.RetentionDays != 3 {
		t.Fatalf("RetentionDays = %d, want 3", cfg.RetentionDays)
	}
	if cfg.Translate.Model != "env-model" {
		t.Fatalf("Translate.Model = %q, want env-model", cfg.Translate.Model)
	}
	if cfg.Translate.APIBase != "https://llm.example.com" {
		t.Fatalf("Translate.APIBase = %q", cfg.Translate.APIBase)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b.test" {
		t.Fatalf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.UploadPath != filepath.Join(filepath.FromSlash(filepath.ToSlash(dir)), "uploads") {
		t.Fatalf("UploadPath = %q", cfg.UploadPath)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"port":      func(c *config.Config) { c.Port = 0 },
		"retention": func(c *config.Config) { c.RetentionDays = 0 },
		"format":    func(c *config.Config) { c.LogFormat = "xml" },
		"upload":    func(c *config.Config) { c.MaxUploadMB = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
