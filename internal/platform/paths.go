// Package platform resolves per-OS locations for taskgate config, data and logs.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// HomeEnv pins config, data and logs under one directory when set.
const HomeEnv = "TASKGATE_HOME"

const defaultAppName = "taskgate"

// Paths lists the files and directories one taskgate install uses.
type Paths struct {
	ConfigPath string
	DataDir    string
	DBPath     string
	// LogDir holds dev-mode log files.
	LogDir string
}

// Options selects the install flavor.
type Options struct {
	AppName string
	DevMode bool
}

// Base holds the OS-provided user directories a layout starts from.
type Base struct {
	ConfigDir string
	DataDir   string
}

// DefaultPaths returns the production layout for the default app name.
func DefaultPaths() (Paths, error) {
	return DefaultPathsWithOptions(Options{})
}

// DefaultPathsWithOptions resolves the layout for the running OS and environment.
func DefaultPathsWithOptions(opts Options) (Paths, error) {
	base, err := userBase(runtime.GOOS, os.Getenv)
	if err != nil {
		return Paths{}, err
	}
	return Layout(runtime.GOOS, os.Getenv, base, opts.appName())
}

// Layout computes paths from explicit inputs. getenv may be nil.
func Layout(goos string, getenv func(string) string, base Base, appName string) (Paths, error) {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Paths{}, errors.New("empty app name")
	}
	if home := strings.TrimSpace(getenv(HomeEnv)); home != "" {
		return rooted(filepath.Join(home, "config.toml"), home, appName), nil
	}
	if base.ConfigDir == "" || base.DataDir == "" {
		return Paths{}, errors.New("empty base dirs")
	}

	configRoot, dataRoot := base.ConfigDir, base.DataDir
	for _, o := range overridesFor(goos) {
		if v := strings.TrimSpace(getenv(o.env)); v != "" {
			if o.config {
				configRoot = v
			} else {
				dataRoot = v
			}
		}
	}
	dataDir := filepath.Join(dataRoot, appName)
	return rooted(filepath.Join(configRoot, appName, "config.toml"), dataDir, appName), nil
}

func rooted(configPath, dataDir, appName string) Paths {
	return Paths{
		ConfigPath: configPath,
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, appName+".db"),
		LogDir:     filepath.Join(dataDir, "log"),
	}
}

type override struct {
	env    string
	config bool
}

// overridesFor lists the env vars that relocate the config and data roots.
// macOS and other platforms use the OS defaults as-is.
func overridesFor(goos string) []override {
	switch goos {
	case "linux":
		return []override{{env: "XDG_CONFIG_HOME", config: true}, {env: "XDG_DATA_HOME"}}
	case "windows":
		return []override{{env: "APPDATA", config: true}, {env: "LOCALAPPDATA"}}
	default:
		return nil
	}
}

func userBase(goos string, getenv func(string) string) (Base, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return Base{}, fmt.Errorf("user config dir: %w", err)
	}
	base := Base{ConfigDir: configDir, DataDir: configDir}
	switch goos {
	case "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return Base{}, fmt.Errorf("user home dir: %w", err)
		}
		base.DataDir = filepath.Join(home, ".local", "share")
	case "windows":
		if v := strings.TrimSpace(getenv("LOCALAPPDATA")); v != "" {
			base.DataDir = v
		}
	}
	return base, nil
}

func (o Options) appName() string {
	name := strings.TrimSpace(o.AppName)
	if name == "" {
		name = defaultAppName
	}
	if o.DevMode {
		name += "-dev"
	}
	return name
}
