package platform

import (
	"path/filepath"
	"testing"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLayoutPerOS(t *testing.T) {
	cases := []struct {
		name       string
		goos       string
		env        map[string]string
		base       Base
		wantConfig string
		wantDB     string
	}{
		{
			name:       "linux xdg",
			goos:       "linux",
			env:        map[string]string{"XDG_CONFIG_HOME": "/xdg/config", "XDG_DATA_HOME": "/xdg/data"},
			base:       Base{ConfigDir: "/fallback/config", DataDir: "/fallback/data"},
			wantConfig: filepath.Join("/xdg/config", "taskgate", "config.toml"),
			wantDB:     filepath.Join("/xdg/data", "taskgate", "taskgate.db"),
		},
		{
			name:       "linux without xdg",
			goos:       "linux",
			base:       Base{ConfigDir: "/home/me/.config", DataDir: "/home/me/.local/share"},
			wantConfig: filepath.Join("/home/me/.config", "taskgate", "config.toml"),
			wantDB:     filepath.Join("/home/me/.local/share", "taskgate", "taskgate.db"),
		},
		{
			name:       "windows appdata",
			goos:       "windows",
			env:        map[string]string{"APPDATA": `C:\Roaming`, "LOCALAPPDATA": `C:\Local`},
			base:       Base{ConfigDir: `C:\fallback\config`, DataDir: `C:\fallback\data`},
			wantConfig: filepath.Join(`C:\Roaming`, "taskgate", "config.toml"),
			wantDB:     filepath.Join(`C:\Local`, "taskgate", "taskgate.db"),
		},
		{
			name:       "darwin ignores xdg",
			goos:       "darwin",
			env:        map[string]string{"XDG_CONFIG_HOME": "/ignored", "XDG_DATA_HOME": "/ignored"},
			base:       Base{ConfigDir: "/Users/me/Library/Application Support", DataDir: "/Users/me/Library/Application Support"},
			wantConfig: filepath.Join("/Users/me/Library/Application Support", "taskgate", "config.toml"),
			wantDB:     filepath.Join("/Users/me/Library/Application Support", "taskgate", "taskgate.db"),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Layout(tc.goos, envOf(tc.env), tc.base, "taskgate")
			if err != nil {
				t.Fatalf("Layout() error = %v", err)
			}
			if p.ConfigPath != tc.wantConfig {
				t.Fatalf("config path = %q, want %q", p.ConfigPath, tc.wantConfig)
			}
			if p.DBPath != tc.wantDB {
				t.Fatalf("db path = %q, want %q", p.DBPath, tc.wantDB)
			}
		})
	}
}

func TestLayoutUnknownOSKeepsBase(t *testing.T) {
	p, err := Layout("freebsd", nil, Base{ConfigDir: "/cfg", DataDir: "/data"}, "taskgate")
	if err != nil {
		t.Fatalf("Layout() error = %v", err)
	}
	wantData := filepath.Join("/data", "taskgate")
	if p.DataDir != wantData {
		t.Fatalf("unexpected data dir %q", p.DataDir)
	}
	if p.LogDir != filepath.Join(wantData, "log") {
		t.Fatalf("unexpected log dir %q", p.LogDir)
	}
}

func TestLayoutHomeOverride(t *testing.T) {
	p, err := Layout("linux", envOf(map[string]string{
		HomeEnv:           "/srv/taskgate",
		"XDG_CONFIG_HOME": "/ignored",
	}), Base{}, "taskgate-dev")
	if err != nil {
		t.Fatalf("Layout() error = %v", err)
	}
	want := Paths{
		ConfigPath: filepath.Join("/srv/taskgate", "config.toml"),
		DataDir:    "/srv/taskgate",
		DBPath:     filepath.Join("/srv/taskgate", "taskgate-dev.db"),
		LogDir:     filepath.Join("/srv/taskgate", "log"),
	}
	if p != want {
		t.Fatalf("Layout() = %#v, want %#v", p, want)
	}
}

func TestLayoutRejectsMissingInputs(t *testing.T) {
	if _, err := Layout("darwin", nil, Base{DataDir: "/tmp/data"}, "taskgate"); err == nil {
		t.Fatal("expected error for empty base dirs")
	}
	if _, err := Layout("linux", nil, Base{ConfigDir: "/c", DataDir: "/d"}, "  "); err == nil {
		t.Fatal("expected error for empty app name")
	}
}

func TestDefaultPathsWithOptionsDevMode(t *testing.T) {
	t.Setenv(HomeEnv, "")
	p, err := DefaultPathsWithOptions(Options{DevMode: true})
	if err != nil {
		t.Fatalf("DefaultPathsWithOptions() error = %v", err)
	}
	if filepath.Base(filepath.Dir(p.ConfigPath)) != "taskgate-dev" {
		t.Fatalf("expected dev config dir suffix, got %q", p.ConfigPath)
	}
	if filepath.Base(p.DBPath) != "taskgate-dev.db" {
		t.Fatalf("expected dev db name, got %q", p.DBPath)
	}
}
