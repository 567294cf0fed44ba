package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultDBFileName  = ".attachgraph.db"
	DefaultBlobDirName = ".attachgraph-blobs"
	DefaultLogLevel    = "warn"
	DefaultGraphWrites = true

	DefaultAttachmentGCBatchSize           = 500
	DefaultAttachmentMaxOversizeText int64 = 2 << 20
	DefaultAttachmentGCBlobGraceSecs       = 900

	configFileName = ".attachgraph.toml"
	dotEnvFileName = ".env"

	configDirEnvKey          = "ATTACHGRAPH_CONFIG_DIR"
	trustProjectConfigEnvKey = "ATTACHGRAPH_TRUST_PROJECT_CONFIG"
	noDotEnvEnvKey           = "ATTACHGRAPH_NO_DOTENV"

	dbPathEnvKey                    = "ATTACHGRAPH_DB"
	blobDirEnvKey                   = "ATTACHGRAPH_BLOB_DIR"
	logFileEnvKey                   = "ATTACHGRAPH_LOG_FILE"
	graphWritesEnvKey               = "ATTACHGRAPH_GRAPH_WRITES"
	attachmentGCBatchSizeEnvKey     = "ATTACHGRAPH_GC_BATCH_SIZE"
	attachmentMaxOversizeTextEnvKey = "ATTACHGRAPH_MAX_OVERSIZE_TEXT_BYTES"
)

// AttachmentConfig defines runtime configuration for attachment handling.
type AttachmentConfig struct {
	// GraphWrites sends new attachments of messages without legacy ids to the
	// reference graph instead of the legacy flat list.
	GraphWrites          bool  `toml:"graph_writes"`
	GCBatchSize          int   `toml:"gc_batch_size"`
	MaxOversizeTextBytes int64 `toml:"max_oversize_text_bytes"`
	// GCBlobGraceSeconds keeps blob files put this recently when their
	// content row is swept, since a pending upload may share them.
	GCBlobGraceSeconds int `toml:"gc_blob_grace_seconds"`
}

// Config defines runtime configuration for attachgraph.
type Config struct {
	DBPath                   string           `toml:"db_path"`
	BlobDir                  string           `toml:"blob_dir"`
	LogLevel                 string           `toml:"log_level"`
	LogFile                  string           `toml:"log_file"`
	Attachments              AttachmentConfig `toml:"attachments"`
	TrustedProjectConfigPath string           `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		Attachments: AttachmentConfig{
			GraphWrites:          DefaultGraphWrites,
			GCBatchSize:          DefaultAttachmentGCBatchSize,
			MaxOversizeTextBytes: DefaultAttachmentMaxOversizeText,
			GCBlobGraceSeconds:   DefaultAttachmentGCBlobGraceSecs,
		},
	}
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, configFileName), true
}

func envBool(key string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return value, true
}

func trustProjectConfig() bool {
	value, ok := envBool(trustProjectConfigEnvKey)
	return ok && value
}

// loadDotEnv fills unset environment variables from a .env file in the
// working directory. Variables already set keep their value.
func loadDotEnv() error {
	if disabled, ok := envBool(noDotEnvEnvKey); ok && disabled {
		return nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil
	}
	path := filepath.Join(cwd, dotEnvFileName)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

var allowedKeys = []string{
	"db_path",
	"blob_dir",
	"log_level",
	"log_file",
	"attachments.graph_writes",
	"attachments.gc_batch_size",
	"attachments.max_oversize_text_bytes",
	"attachments.gc_blob_grace_seconds",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "db_path":
		return c.DBPath, nil
	case "blob_dir":
		return c.BlobDir, nil
	case "log_level":
		return c.LogLevel, nil
	case "log_file":
		return c.LogFile, nil
	case "attachments.graph_writes":
		return strconv.FormatBool(c.Attachments.GraphWrites), nil
	case "attachments.gc_batch_size":
		return strconv.Itoa(c.Attachments.GCBatchSize), nil
	case "attachments.max_oversize_text_bytes":
		return strconv.FormatInt(c.Attachments.MaxOversizeTextBytes, 10), nil
	case "attachments.gc_blob_grace_seconds":
		return strconv.Itoa(c.Attachments.GCBlobGraceSeconds), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, configFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads .env, then trusted config files, and applies env overrides.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if err := loadFile(filepath.Join(home, configFileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, configFileName)
				info, statErr := os.Stat(projectPath)
				switch {
				case statErr == nil && !info.IsDir():
					if err := loadFile(projectPath, &cfg); err != nil {
						return nil, err
					}
					cfg.TrustedProjectConfigPath = projectPath
				case statErr != nil && !os.IsNotExist(statErr):
					return nil, statErr
				}
			}
		}
	}

	if dbPath := os.Getenv(dbPathEnvKey); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if blobDir := os.Getenv(blobDirEnvKey); blobDir != "" {
		cfg.BlobDir = blobDir
	}
	if logFile := os.Getenv(logFileEnvKey); logFile != "" {
		cfg.LogFile = logFile
	}
	if graphWrites, ok := envBool(graphWritesEnvKey); ok {
		cfg.Attachments.GraphWrites = graphWrites
	}
	if raw := strings.TrimSpace(os.Getenv(attachmentGCBatchSizeEnvKey)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			cfg.Attachments.GCBatchSize = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv(attachmentMaxOversizeTextEnvKey)); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.Attachments.MaxOversizeTextBytes = parsed
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		if cfg.DBPath == "" {
			cfg.DBPath = filepath.Join(cwd, DefaultDBFileName)
		}
		if cfg.BlobDir == "" {
			cfg.BlobDir = filepath.Join(cwd, DefaultBlobDirName)
		}
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	cfg.normalizeAttachmentDefaults()

	return &cfg, nil
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "attachments.max_oversize_text_bytes":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "attachments.gc_batch_size", "attachments.gc_blob_grace_seconds":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "attachments.graph_writes":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		return parsed, nil
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}

func (c *Config) normalizeAttachmentDefaults() {
	if c.Attachments.GCBatchSize <= 0 {
		c.Attachments.GCBatchSize = DefaultAttachmentGCBatchSize
	}
	if c.Attachments.MaxOversizeTextBytes <= 0 {
		c.Attachments.MaxOversizeTextBytes = DefaultAttachmentMaxOversizeText
	}
	if c.Attachments.GCBlobGraceSeconds <= 0 {
		c.Attachments.GCBlobGraceSeconds = DefaultAttachmentGCBlobGraceSecs
	}
}
