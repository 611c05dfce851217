package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matheus3301/officechat/internal/config"
)

func TestPathsUnderHome(t *testing.T) {
	base := t.TempDir()
	t.Setenv("OFFICECHAT_HOME", base)

	tests := []struct {
		got, want string
	}{
		{Dir("main"), filepath.Join(base, "profiles", "main")},
		{LockPath("main"), filepath.Join(base, "profiles", "main", "LOCK")},
		{DBPath("main"), filepath.Join(base, "profiles", "main", "officechat.db")},
		{LogPath("main"), filepath.Join(base, "profiles", "main", "logs", "officechatd.log")},
		{ConfigPath(), filepath.Join(base, "config.toml")},
		{EnvPath(), filepath.Join(base, ".env")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("path = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestDefaultBaseDir(t *testing.T) {
	t.Setenv("OFFICECHAT_HOME", "")
	home, _ := os.UserHomeDir()
	if got, want := Dir("main"), filepath.Join(home, ".officechat", "profiles", "main"); got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("OFFICECHAT_HOME", t.TempDir())
	if err := EnsureDir("front-desk"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(LogDir("front-desk"))
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if !info.IsDir() || info.Mode().Perm() != 0700 {
		t.Errorf("log dir mode = %v", info.Mode())
	}
}

func TestResolve(t *testing.T) {
	t.Setenv("OFFICECHAT_HOME", t.TempDir())

	if got := Resolve(""); got != DefaultName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultName)
	}

	cfg := config.Default()
	cfg.DefaultProfile = "nurse"
	if err := config.Save(ConfigPath(), cfg); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "nurse" {
		t.Errorf("Resolve() = %q, want nurse from config", got)
	}
	if got := Resolve("lab"); got != "lab" {
		t.Errorf("Resolve(lab) = %q, flag must win", got)
	}
}
