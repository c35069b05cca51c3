// Package config loads the anonymizer service configuration.
// Settings come from built-in defaults, then an optional config file (JSON,
// or YAML when the name ends in .yaml/.yml), then a .env file in the working
// directory, then environment variables. Later sources win.
//
// This is the service's own configuration. The redaction settings the
// judge edits live in profiles (see internal/profiles).
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"judicial-anonymizer/internal/logger"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "anonymizer-config.json"

// Config holds the service configuration.
type Config struct {
	BindAddress string `json:"bindAddress" yaml:"bindAddress"`
	Port        int    `json:"port" yaml:"port"`
	LogLevel    string `json:"logLevel" yaml:"logLevel"`

	// APIToken enables bearer authentication on the HTTP API when set.
	APIToken string `json:"apiToken" yaml:"apiToken"`

	// ProfilesPath is the bbolt file holding saved profiles. Empty keeps
	// profiles in memory only.
	ProfilesPath   string `json:"profilesPath" yaml:"profilesPath"`
	DefaultProfile string `json:"defaultProfile" yaml:"defaultProfile"`

	MaxBodyBytes int64 `json:"maxBodyBytes" yaml:"maxBodyBytes"`
	BatchWorkers int   `json:"batchWorkers" yaml:"batchWorkers"`
}

var log = logger.New("CONFIG", "info")

// Load returns config with defaults overridden by the file at path, .env
// and the environment. A missing file is not an error; a malformed one is
// logged and ignored.
func Load(path string) *Config {
	cfg := defaults()
	if path == "" {
		path = DefaultPath
	}
	loadFile(cfg, path)
	loadDotEnv(".env")
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		BindAddress:    "127.0.0.1",
		Port:           8090,
		LogLevel:       "info",
		ProfilesPath:   "profiles.db",
		DefaultProfile: "default",
		MaxBodyBytes:   4 << 20,
		BatchWorkers:   4,
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from operator flag
	if err != nil {
		return // file is optional
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		log.Warnf("load_file", "could not parse %s: %v", path, err)
		return
	}
	log.Infof("load_file", "loaded %s", path)
}

// loadDotEnv exports variables from a .env file without overriding ones
// already set in the environment.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		log.Warnf("load_dotenv", "could not read %s: %v", path, err)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("API_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	if v, ok := os.LookupEnv("PROFILES_PATH"); ok {
		cfg.ProfilesPath = v
	}
	if v := os.Getenv("DEFAULT_PROFILE"); v != "" {
		cfg.DefaultProfile = v
	}
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("BATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchWorkers = n
		}
	}
}
