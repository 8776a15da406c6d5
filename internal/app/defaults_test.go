package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("FILEDROP_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("FILEDROP_HOME", "/custom/filedrop")
		t.Setenv("FILEDROP_SERVER", "https://drop.example.com")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/filedrop" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/filedrop")
		}
		if defaults["log_dir"] != "/custom/filedrop/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/filedrop/log")
		}
		if defaults["server_url"] != "https://drop.example.com" {
			t.Errorf("server_url = %q, want %q", defaults["server_url"], "https://drop.example.com")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("FILEDROP_CONFIG_PATH", "")
		t.Setenv("FILEDROP_HOME", "")
		t.Setenv("FILEDROP_SERVER", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "filedrop.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "filedrop")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}

		wantLog := filepath.Join(wantBase, "log")
		if defaults["log_dir"] != wantLog {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], wantLog)
		}

		if defaults["server_url"] != "http://localhost:8787" {
			t.Errorf("server_url = %q, want %q", defaults["server_url"], "http://localhost:8787")
		}
	})
}
