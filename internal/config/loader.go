package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// configName is the base name of the configuration file.
const configName = "admitgate"

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for admitgate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself,
// which Viper's built-in SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	initViper(viper.GetViper(), configFile, findConfigFile)
}

func initViper(v *viper.Viper, configFile string, find func() string) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := find(); found != "" {
		v.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	// Environment variable support: ADMITGATE_SERVER_HTTP_ADDR
	v.SetEnvPrefix("ADMITGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindNestedEnvKeys(v)
}

// findConfigFile searches ., ~/.admitgate and /etc/admitgate (or
// %ProgramData%\admitgate on Windows) for admitgate.yaml or admitgate.yml.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, "."+configName),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, configName))
		}
	} else {
		paths = append(paths, "/etc/"+configName)
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for admitgate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds the scalar config keys for environment variable support.
// Example: ADMITGATE_STORE_BACKEND overrides store.backend.
// Tiers, routes and upstreams are structured and belong in the config file.
func bindNestedEnvKeys(v *viper.Viper) {
	// Server config
	_ = v.BindEnv("server.http_addr")
	_ = v.BindEnv("server.log_level")
	_ = v.BindEnv("server.tls_cert_file")
	_ = v.BindEnv("server.tls_key_file")

	// Store config. REDIS_URL is the conventional name and is read when
	// ADMITGATE_STORE_REDIS_URL is unset.
	_ = v.BindEnv("store.backend")
	_ = v.BindEnv("store.redis_url", "ADMITGATE_STORE_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("store.prefix")
	_ = v.BindEnv("store.connect_timeout")
	_ = v.BindEnv("store.dial_timeout")
	_ = v.BindEnv("store.read_timeout")
	_ = v.BindEnv("store.write_timeout")
	_ = v.BindEnv("store.max_retries")
	_ = v.BindEnv("store.cleanup_interval")

	// Rate limit config
	_ = v.BindEnv("rate_limit.headers")
	_ = v.BindEnv("rate_limit.trust_user_header")
	_ = v.BindEnv("rate_limit.default_tier")

	_ = v.BindEnv("upstream_timeout")
	_ = v.BindEnv("admin.api_key_hash")

	_ = v.BindEnv("telemetry.stdout")
	_ = v.BindEnv("telemetry.service_name")
	_ = v.BindEnv("telemetry.metric_interval")

	_ = v.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the validated Config.
// Note: Caller can instead use LoadConfigRaw, apply CLI flag overrides
// (e.g. --dev), then call cfg.SetDevDefaults() and cfg.Validate().
func LoadConfig() (*Config, error) {
	return load(viper.GetViper(), true)
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
func LoadConfigRaw() (*Config, error) {
	return load(viper.GetViper(), false)
}

func load(v *viper.Viper, finalize bool) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.setDefaults(v)
	if !finalize {
		return &cfg, nil
	}

	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
