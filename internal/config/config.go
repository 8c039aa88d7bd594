package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultAPIURL     = "http://127.0.0.1:7480"
	DefaultDBFileName = ".imgsvc.db"
	DefaultLogLevel   = "info"

	BackendLocal = "local"
	BackendS3    = "s3"

	DefaultObjectDirName        = ".imgsvc-objects"
	DefaultCacheTTL             = 10 * time.Minute
	DefaultCacheMaxEntries      = 10000
	DefaultMaxUploadBytes int64 = 32 * 1024 * 1024
	DefaultSweepGracePeriod     = 10 * time.Minute

	configFileName           = ".imgsvc.toml"
	configDirEnvKey          = "IMGSVC_CONFIG_DIR"
	trustProjectConfigEnvKey = "IMGSVC_TRUST_PROJECT_CONFIG"
)

// Duration is a time.Duration that reads and writes as a Go duration string
// ("90s", "10m") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// CacheConfig tunes the image view cache.
type CacheConfig struct {
	TTL        Duration `toml:"ttl"`
	MaxEntries int      `toml:"max_entries"`
}

// S3Config holds connection settings for the s3 object backend.
type S3Config struct {
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	UseSSL    bool   `toml:"use_ssl"`
	Prefix    string `toml:"prefix"`
}

// ObjectsConfig selects and configures the object store.
type ObjectsConfig struct {
	Backend       string   `toml:"backend"`
	Root          string   `toml:"root"`
	PublicBaseURL string   `toml:"public_base_url"`
	S3            S3Config `toml:"s3"`
}

// UploadsConfig bounds upload requests.
type UploadsConfig struct {
	MaxUploadBytes int64 `toml:"max_upload_bytes"`
}

// SweepConfig tunes orphan sweeps.
type SweepConfig struct {
	GracePeriod Duration `toml:"grace_period"`
}

// Config defines runtime configuration for imgsvc.
type Config struct {
	APIURL                   string        `toml:"api_url"`
	DBPath                   string        `toml:"db_path"`
	LogLevel                 string        `toml:"log_level"`
	Cache                    CacheConfig   `toml:"cache"`
	Objects                  ObjectsConfig `toml:"objects"`
	Uploads                  UploadsConfig `toml:"uploads"`
	Sweep                    SweepConfig   `toml:"sweep"`
	TrustedProjectConfigPath string        `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		APIURL:   DefaultAPIURL,
		DBPath:   "",
		LogLevel: DefaultLogLevel,
		Cache: CacheConfig{
			TTL:        Duration{DefaultCacheTTL},
			MaxEntries: DefaultCacheMaxEntries,
		},
		Objects: ObjectsConfig{
			Backend: BackendLocal,
		},
		Uploads: UploadsConfig{
			MaxUploadBytes: DefaultMaxUploadBytes,
		},
		Sweep: SweepConfig{
			GracePeriod: Duration{DefaultSweepGracePeriod},
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

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

var allowedKeys = []string{
	"api_url",
	"db_path",
	"log_level",
	"cache.ttl",
	"cache.max_entries",
	"objects.backend",
	"objects.root",
	"objects.public_base_url",
	"objects.s3.endpoint",
	"objects.s3.bucket",
	"objects.s3.access_key",
	"objects.s3.secret_key",
	"objects.s3.use_ssl",
	"objects.s3.prefix",
	"uploads.max_upload_bytes",
	"sweep.grace_period",
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

// Get returns the value of a config key. Secrets are masked.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "api_url":
		return c.APIURL, nil
	case "db_path":
		return c.DBPath, nil
	case "log_level":
		return c.LogLevel, nil
	case "cache.ttl":
		return c.Cache.TTL.String(), nil
	case "cache.max_entries":
		return strconv.Itoa(c.Cache.MaxEntries), nil
	case "objects.backend":
		return c.Objects.Backend, nil
	case "objects.root":
		return c.Objects.Root, nil
	case "objects.public_base_url":
		return c.Objects.PublicBaseURL, nil
	case "objects.s3.endpoint":
		return c.Objects.S3.Endpoint, nil
	case "objects.s3.bucket":
		return c.Objects.S3.Bucket, nil
	case "objects.s3.access_key":
		return c.Objects.S3.AccessKey, nil
	case "objects.s3.secret_key":
		if c.Objects.S3.SecretKey == "" {
			return "", nil
		}
		return "********", nil
	case "objects.s3.use_ssl":
		return strconv.FormatBool(c.Objects.S3.UseSSL), nil
	case "objects.s3.prefix":
		return c.Objects.S3.Prefix, nil
	case "uploads.max_upload_bytes":
		return strconv.FormatInt(c.Uploads.MaxUploadBytes, 10), nil
	case "sweep.grace_period":
		return c.Sweep.GracePeriod.String(), nil
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

	// The file may hold S3 credentials.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads config from trusted files and applies env overrides.
func Load() (*Config, error) {
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

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.DBPath == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.DBPath = filepath.Join(cwd, DefaultDBFileName)
		}
	}
	cfg.normalizeDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(envKey string, dst *string) {
		if value := strings.TrimSpace(os.Getenv(envKey)); value != "" {
			*dst = value
		}
	}

	setString("IMGSVC_API_URL", &c.APIURL)
	setString("IMGSVC_DB", &c.DBPath)
	setString("IMGSVC_OBJECT_BACKEND", &c.Objects.Backend)
	setString("IMGSVC_OBJECT_ROOT", &c.Objects.Root)
	setString("IMGSVC_PUBLIC_BASE_URL", &c.Objects.PublicBaseURL)
	setString("IMGSVC_S3_ENDPOINT", &c.Objects.S3.Endpoint)
	setString("IMGSVC_S3_BUCKET", &c.Objects.S3.Bucket)
	setString("IMGSVC_S3_ACCESS_KEY", &c.Objects.S3.AccessKey)
	setString("IMGSVC_S3_SECRET_KEY", &c.Objects.S3.SecretKey)
	setString("IMGSVC_S3_PREFIX", &c.Objects.S3.Prefix)

	if raw := strings.TrimSpace(os.Getenv("IMGSVC_S3_USE_SSL")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid IMGSVC_S3_USE_SSL=%q", raw)
		}
		c.Objects.S3.UseSSL = parsed
	}
	if raw := strings.TrimSpace(os.Getenv("IMGSVC_CACHE_TTL")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid IMGSVC_CACHE_TTL=%q", raw)
		}
		c.Cache.TTL = Duration{parsed}
	}
	if raw := strings.TrimSpace(os.Getenv("IMGSVC_MAX_UPLOAD_BYTES")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("invalid IMGSVC_MAX_UPLOAD_BYTES=%q", raw)
		}
		c.Uploads.MaxUploadBytes = parsed
	}
	return nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Objects.Backend {
	case BackendLocal:
		return nil
	case BackendS3:
		if strings.TrimSpace(c.Objects.S3.Endpoint) == "" {
			return fmt.Errorf("objects.s3.endpoint is required for the s3 backend")
		}
		if strings.TrimSpace(c.Objects.S3.Bucket) == "" {
			return fmt.Errorf("objects.s3.bucket is required for the s3 backend")
		}
		return nil
	default:
		return fmt.Errorf("unknown objects.backend %q (want %s or %s)", c.Objects.Backend, BackendLocal, BackendS3)
	}
}

// ObjectRoot returns the local object directory, defaulting to a directory
// next to the database.
func (c *Config) ObjectRoot() string {
	if root := strings.TrimSpace(c.Objects.Root); root != "" {
		return root
	}
	return filepath.Join(filepath.Dir(c.DBPath), DefaultObjectDirName)
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "uploads.max_upload_bytes":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "cache.max_entries":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "cache.ttl", "sweep.grace_period":
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive duration such as 10m", key)
		}
		return parsed.String(), nil
	case "objects.s3.use_ssl":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		return parsed, nil
	case "objects.backend":
		value = strings.ToLower(value)
		if value != BackendLocal && value != BackendS3 {
			return nil, fmt.Errorf("%s must be %s or %s", key, BackendLocal, BackendS3)
		}
		return value, nil
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

func (c *Config) normalizeDefaults() {
	c.Objects.Backend = strings.ToLower(strings.TrimSpace(c.Objects.Backend))
	if c.Objects.Backend == "" {
		c.Objects.Backend = BackendLocal
	}
	if c.Cache.TTL.Duration <= 0 {
		c.Cache.TTL = Duration{DefaultCacheTTL}
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = DefaultCacheMaxEntries
	}
	if c.Uploads.MaxUploadBytes <= 0 {
		c.Uploads.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Sweep.GracePeriod.Duration <= 0 {
		c.Sweep.GracePeriod = Duration{DefaultSweepGracePeriod}
	}
}
