// Package config loads offsync settings. Every value resolves with the same
// priority: environment variable, then ~/.config/offsync/config.json, then
// the built-in default.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Defaults
const (
	DefaultURL             = "http://localhost:54321"
	DefaultDrainInterval   = 30 * time.Second
	DefaultProbeInterval   = 15 * time.Second
	DefaultRemoteTimeout   = 3 * time.Second
	DefaultLogLevel        = "warn"
	DefaultFocusMinutes    = 25
	configFileName         = "config.json"
	configDirEnv           = "OFFSYNC_CONFIG_DIR"
	defaultLogFileMaxSize  = 10 // megabytes
	defaultLogFileMaxFiles = 3
)

// LogConfig holds logging settings.
type LogConfig struct {
	Level    string `json:"level,omitempty"`
	File     string `json:"file,omitempty"`
	MaxSize  int    `json:"max_size_mb,omitempty"`
	MaxFiles int    `json:"max_files,omitempty"`
}

// SyncConfig holds queue drain settings.
type SyncConfig struct {
	Auto          *bool  `json:"auto,omitempty"`           // nil = default true
	DrainInterval string `json:"drain_interval,omitempty"` // duration string, default "30s"
	ProbeInterval string `json:"probe_interval,omitempty"` // duration string, default "15s"
}

// RemoteConfig holds backend connection settings.
type RemoteConfig struct {
	URL     string `json:"url,omitempty"`
	AnonKey string `json:"anon_key,omitempty"`
	Timeout string `json:"timeout,omitempty"` // duration string, default "3s"
}

// FocusConfig holds focus timer settings.
type FocusConfig struct {
	DefaultMinutes int `json:"default_minutes,omitempty"`
}

// File is the on-disk shape of config.json.
type File struct {
	DataDir string       `json:"data_dir,omitempty"`
	Remote  RemoteConfig `json:"remote"`
	Sync    SyncConfig   `json:"sync"`
	Log     LogConfig    `json:"log"`
	Focus   FocusConfig  `json:"focus"`
}

// Config is the fully resolved configuration.
type Config struct {
	URL            string
	AnonKey        string
	DataDir        string
	DrainInterval  time.Duration
	ProbeInterval  time.Duration
	RemoteTimeout  time.Duration
	AutoSync       bool
	LogLevel       string
	LogFile        string
	LogMaxSizeMB   int
	LogMaxFiles    int
	FocusMinutes   int
	ConfigDir      string
	ConfigFilePath string
}

// Dir returns the config directory, creating it if necessary.
// OFFSYNC_CONFIG_DIR overrides ~/.config/offsync.
func Dir() (string, error) {
	dir := os.Getenv(configDirEnv)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "offsync")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadFile reads config.json. A missing file is an empty config.
func LoadFile() (*File, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, err
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configFileName, err)
	}
	return &f, nil
}

// SaveFile writes config.json atomically (temp file + rename).
func SaveFile(f *File) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "config-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, configFileName))
}

// Load resolves the configuration from the environment and config.json.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	f, err := LoadFile()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		URL:            stringValue("OFFSYNC_URL", f.Remote.URL, DefaultURL),
		AnonKey:        stringValue("OFFSYNC_ANON_KEY", f.Remote.AnonKey, ""),
		DataDir:        stringValue("OFFSYNC_DATA_DIR", f.DataDir, filepath.Join(dir, "data")),
		DrainInterval:  durationValue("OFFSYNC_DRAIN_INTERVAL", f.Sync.DrainInterval, DefaultDrainInterval),
		ProbeInterval:  durationValue("OFFSYNC_PROBE_INTERVAL", f.Sync.ProbeInterval, DefaultProbeInterval),
		RemoteTimeout:  durationValue("OFFSYNC_REMOTE_TIMEOUT", f.Remote.Timeout, DefaultRemoteTimeout),
		AutoSync:       boolValue("OFFSYNC_AUTO_SYNC", f.Sync.Auto, true),
		LogLevel:       strings.ToLower(stringValue("OFFSYNC_LOG_LEVEL", f.Log.Level, DefaultLogLevel)),
		LogFile:        stringValue("OFFSYNC_LOG_FILE", f.Log.File, ""),
		LogMaxSizeMB:   positiveOr(f.Log.MaxSize, defaultLogFileMaxSize),
		LogMaxFiles:    positiveOr(f.Log.MaxFiles, defaultLogFileMaxFiles),
		FocusMinutes:   intValue("OFFSYNC_FOCUS_MINUTES", f.Focus.DefaultMinutes, DefaultFocusMinutes),
		ConfigDir:      dir,
		ConfigFilePath: filepath.Join(dir, configFileName),
	}
	return cfg, nil
}

func stringValue(envKey, fileVal, def string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fileVal != "" {
		return fileVal
	}
	return def
}

// durationValue ignores unparsable or non-positive values at each level.
func durationValue(envKey, fileVal string, def time.Duration) time.Duration {
	if v := os.Getenv(envKey); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	if fileVal != "" {
		if d, err := time.ParseDuration(fileVal); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func intValue(envKey string, fileVal, def int) int {
	if v := os.Getenv(envKey); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return positiveOr(fileVal, def)
}

func boolValue(envKey string, fileVal *bool, def bool) bool {
	if v := parseBoolEnv(envKey); v != nil {
		return *v
	}
	if fileVal != nil {
		return *fileVal
	}
	return def
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := os.Getenv(envKey)
	if v == "" {
		return nil
	}
	v = strings.ToLower(v)
	if v == "1" || v == "true" {
		b := true
		return &b
	}
	if v == "0" || v == "false" {
		b := false
		return &b
	}
	return nil
}

// Keys lists the config.json keys accepted by Set and Get.
var Keys = []string{
	"data_dir",
	"remote.url",
	"remote.anon_key",
	"remote.timeout",
	"sync.auto",
	"sync.drain_interval",
	"sync.probe_interval",
	"log.level",
	"log.file",
	"log.max_size_mb",
	"log.max_files",
	"focus.default_minutes",
}

// ErrUnknownKey is returned by Set and Get for keys not in Keys.
var ErrUnknownKey = errors.New("unknown config key")

// Set parses val for key and stores it in f.
func Set(f *File, key, val string) error {
	switch key {
	case "data_dir":
		f.DataDir = val
	case "remote.url":
		f.Remote.URL = val
	case "remote.anon_key":
		f.Remote.AnonKey = val
	case "remote.timeout", "sync.drain_interval", "sync.probe_interval":
		if d, err := time.ParseDuration(val); err != nil || d <= 0 {
			return fmt.Errorf("invalid duration %q for %s", val, key)
		}
		switch key {
		case "remote.timeout":
			f.Remote.Timeout = val
		case "sync.drain_interval":
			f.Sync.DrainInterval = val
		default:
			f.Sync.ProbeInterval = val
		}
	case "sync.auto":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid bool %q for %s", val, key)
		}
		f.Sync.Auto = &b
	case "log.level":
		f.Log.Level = strings.ToLower(val)
	case "log.file":
		f.Log.File = val
	case "log.max_size_mb", "log.max_files", "focus.default_minutes":
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid positive number %q for %s", val, key)
		}
		switch key {
		case "log.max_size_mb":
			f.Log.MaxSize = n
		case "log.max_files":
			f.Log.MaxFiles = n
		default:
			f.Focus.DefaultMinutes = n
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}

// Get returns the value stored in f for key; unset values are "".
func Get(f *File, key string) (string, error) {
	switch key {
	case "data_dir":
		return f.DataDir, nil
	case "remote.url":
		return f.Remote.URL, nil
	case "remote.anon_key":
		return f.Remote.AnonKey, nil
	case "remote.timeout":
		return f.Remote.Timeout, nil
	case "sync.auto":
		if f.Sync.Auto == nil {
			return "", nil
		}
		return strconv.FormatBool(*f.Sync.Auto), nil
	case "sync.drain_interval":
		return f.Sync.DrainInterval, nil
	case "sync.probe_interval":
		return f.Sync.ProbeInterval, nil
	case "log.level":
		return f.Log.Level, nil
	case "log.file":
		return f.Log.File, nil
	case "log.max_size_mb":
		return itoaOrEmpty(f.Log.MaxSize), nil
	case "log.max_files":
		return itoaOrEmpty(f.Log.MaxFiles), nil
	case "focus.default_minutes":
		return itoaOrEmpty(f.Focus.DefaultMinutes), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
}

func itoaOrEmpty(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}
