package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "medstudy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	fs := Flags("test")
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load returned an unexpected error: %v", err)
	}
	if cfg.DB != "medstudy.db" {
		t.Errorf("Expected db 'medstudy.db', but got '%s'", cfg.DB)
	}
	if cfg.Study.Limit != 20 || !cfg.Study.IncludeNew {
		t.Errorf("Unexpected study defaults %+v", cfg.Study)
	}
	if cfg.Remote.Timeout != 15*time.Second {
		t.Errorf("Expected remote timeout 15s, but got %v", cfg.Remote.Timeout)
	}
	if cfg.Sync.Interval != time.Minute {
		t.Errorf("Expected sync interval 1m, but got %v", cfg.Sync.Interval)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
db: from-file.db
server:
  addr: ":9000"
  token: file-token
study:
  limit: 50
quiz:
  mode: random
  time_limit: 10m
`)
	t.Setenv("MEDSTUDY_SERVER__ADDR", ":9100")
	t.Setenv("MEDSTUDY_STUDY__LIMIT", "40")

	fs := Flags("test")
	if err := fs.Parse([]string{"--config", path, "--study-limit", "5"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load returned an unexpected error: %v", err)
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"file over default", cfg.DB, "from-file.db"},
		{"env over file", cfg.Server.Addr, ":9100"},
		{"file kept without env", cfg.Server.Token, "file-token"},
		{"flag over env", cfg.Study.Limit, 5},
		{"file mode", cfg.Quiz.Mode, "random"},
		{"file duration", cfg.Quiz.TimeLimit, 10 * time.Minute},
		{"default kept", cfg.Log.Format, "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("Expected %v, but got %v", tt.expected, tt.got)
			}
		})
	}
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	path := writeConfig(t, "repos_dir: /srv/repos\n")
	t.Setenv("MEDSTUDY_CONFIG", path)

	fs := Flags("test")
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load returned an unexpected error: %v", err)
	}
	if cfg.ReposDir != "/srv/repos" {
		t.Errorf("Expected repos dir '/srv/repos', but got '%s'", cfg.ReposDir)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"log format", []string{"--log-format", "xml"}, "Format"},
		{"quiz mode", []string{"--quiz-mode", "marathon"}, "Mode"},
		{"study limit", []string{"--study-limit", "0"}, "Limit"},
		{"remote url", []string{"--remote-url", "not a url"}, "URL"},
		{"empty db", []string{"--db", ""}, "DB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := Flags("test")
			if err := fs.Parse(tt.args); err != nil {
				t.Fatal(err)
			}
			_, err := Load(fs)
			if err == nil {
				t.Fatal("Expected an error, but got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error to mention '%s', but got '%v'", tt.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	fs := Flags("test")
	if err := fs.Parse([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(fs); err == nil {
		t.Error("Expected an error for a missing config file, but got nil")
	}
}

func TestLogger(t *testing.T) {
	fs := Flags("test")
	if err := fs.Parse([]string{"--log-format", "json", "--log-level", "warn"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(fs)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	logger := cfg.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "deck", "cardiology")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected info records to be filtered, but got %s", out)
	}
	if !strings.Contains(out, `"deck":"cardiology"`) {
		t.Errorf("Expected a JSON record, but got %s", out)
	}
}
