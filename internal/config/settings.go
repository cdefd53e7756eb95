package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// IndexSettings configuration for corpus indexing
type IndexSettings struct {
	Dir             string        `mapstructure:"dir"`              // where the index, metadata and lock live
	DocumentDir     string        `mapstructure:"document_dir"`     // corpus root holding the PageXML files
	ImageDir        string        `mapstructure:"image_dir"`        // page image root; empty means the document dir
	Exclude         []string      `mapstructure:"exclude"`          // discovery exclusion patterns; empty means the defaults
	OptimizeTimeout time.Duration `mapstructure:"optimize_timeout"` // how long optimize waits for an in-progress build
}

// Settings application settings
type Settings struct {
	Transport      string        `mapstructure:"transport"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Auth           AuthSettings  `mapstructure:"auth"`
	Index          IndexSettings `mapstructure:"index"`
	MaxToolResults int           `mapstructure:"max_tool_results"`
	Verbose        bool          `mapstructure:"verbose"`
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("transport", "stdio")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("auth.type", AuthTypeNone)
	v.SetDefault("max_tool_results", 20)
	v.SetDefault("verbose", false)

	// Index defaults
	v.SetDefault("index.dir", "index_dir")
	v.SetDefault("index.document_dir", "xml_dir")
	v.SetDefault("index.image_dir", "")
	v.SetDefault("index.optimize_timeout", 60*time.Second)

	// Environment variables
	v.SetEnvPrefix("PAGESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific env vars for nested config
	_ = v.BindEnv("auth.type", "PAGESEARCH_AUTH_TYPE")
	_ = v.BindEnv("auth.basic.username", "PAGESEARCH_AUTH_BASIC_USERNAME")
	_ = v.BindEnv("auth.basic.password", "PAGESEARCH_AUTH_BASIC_PASSWORD")
	_ = v.BindEnv("auth.api_keys", "PAGESEARCH_AUTH_API_KEYS")

	// Index env var bindings
	_ = v.BindEnv("index.dir", "PAGESEARCH_INDEX_DIR")
	_ = v.BindEnv("index.document_dir", "PAGESEARCH_INDEX_DOCUMENT_DIR")
	_ = v.BindEnv("index.image_dir", "PAGESEARCH_INDEX_IMAGE_DIR")
	_ = v.BindEnv("index.exclude", "PAGESEARCH_INDEX_EXCLUDE")
	_ = v.BindEnv("index.optimize_timeout", "PAGESEARCH_INDEX_OPTIMIZE_TIMEOUT")
	_ = v.BindEnv("max_tool_results", "PAGESEARCH_MAX_TOOL_RESULTS")
	_ = v.BindEnv("verbose", "PAGESEARCH_VERBOSE")

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		_ = v.BindPFlag("transport", flags.Lookup("transport"))
		_ = v.BindPFlag("host", flags.Lookup("host"))
		_ = v.BindPFlag("port", flags.Lookup("port"))
		_ = v.BindPFlag("auth.type", flags.Lookup("auth-type"))
		_ = v.BindPFlag("auth.basic.username", flags.Lookup("auth-basic-username"))
		_ = v.BindPFlag("auth.basic.password", flags.Lookup("auth-basic-password"))
		_ = v.BindPFlag("auth.api_keys", flags.Lookup("auth-api-keys"))

		// Index CLI flags
		_ = v.BindPFlag("index.dir", flags.Lookup("index-dir"))
		_ = v.BindPFlag("index.document_dir", flags.Lookup("documents"))
		_ = v.BindPFlag("index.image_dir", flags.Lookup("images"))
		_ = v.BindPFlag("index.exclude", flags.Lookup("exclude"))
		_ = v.BindPFlag("index.optimize_timeout", flags.Lookup("optimize-timeout"))
		_ = v.BindPFlag("max_tool_results", flags.Lookup("max-tool-results"))
		_ = v.BindPFlag("verbose", flags.Lookup("verbose"))
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	// Handle explicit parsing of API keys if provided via env var as comma-separated string
	apiKeysEnv := os.Getenv("PAGESEARCH_AUTH_API_KEYS")
	if apiKeysEnv != "" {
		if len(settings.Auth.APIKeys) == 0 || (len(settings.Auth.APIKeys) == 1 && strings.Contains(settings.Auth.APIKeys[0], ",")) {
			settings.Auth.APIKeys = strings.Split(apiKeysEnv, ",")
		}
	}

	// Trim spaces from API keys
	for i := range settings.Auth.APIKeys {
		settings.Auth.APIKeys[i] = strings.TrimSpace(settings.Auth.APIKeys[i])
	}

	// Handle explicit parsing of exclusion patterns if provided via env var as comma-separated string
	excludeEnv := os.Getenv("PAGESEARCH_INDEX_EXCLUDE")
	if excludeEnv != "" {
		if len(settings.Index.Exclude) == 0 || (len(settings.Index.Exclude) == 1 && strings.Contains(settings.Index.Exclude[0], ",")) {
			settings.Index.Exclude = strings.Split(excludeEnv, ",")
		}
	}

	// Trim spaces from exclusion patterns
	for i := range settings.Index.Exclude {
		settings.Index.Exclude[i] = strings.TrimSpace(settings.Index.Exclude[i])
	}

	// Filter out empty exclusion patterns
	settings.Index.Exclude = filterEmptyStrings(settings.Index.Exclude)

	// Expand home directory in paths
	settings.Index.Dir = expandHomeDir(settings.Index.Dir)
	settings.Index.DocumentDir = expandHomeDir(settings.Index.DocumentDir)
	settings.Index.ImageDir = expandHomeDir(settings.Index.ImageDir)

	return &settings, nil
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// filterEmptyStrings removes empty strings from a slice
func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete auth config.
func ValidateSettings(s *Settings) error {
	// Validate transport type
	switch s.Transport {
	case "stdio", "sse":
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	hasBasicCreds := s.Auth.Basic.Username != "" || s.Auth.Basic.Password != ""
	hasAPIKeys := len(s.Auth.APIKeys) > 0

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if s.Auth.Basic.Username == "" || s.Auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}

	if s.MaxToolResults <= 0 {
		return errors.New("max-tool-results must be positive")
	}

	// Validate index settings
	if err := validateIndexSettings(&s.Index); err != nil {
		return err
	}

	return nil
}

// validateIndexSettings validates the indexing configuration
func validateIndexSettings(i *IndexSettings) error {
	if i.Dir == "" {
		return errors.New("index-dir cannot be empty")
	}

	if i.DocumentDir == "" {
		return errors.New("documents directory cannot be empty")
	}

	if i.OptimizeTimeout <= 0 {
		return errors.New("optimize-timeout must be positive")
	}

	return nil
}

// ImageRoot returns the directory to scan for page images: the configured
// image dir, or the document dir when none is set.
func (i *IndexSettings) ImageRoot() string {
	if i.ImageDir != "" {
		return i.ImageDir
	}
	return i.DocumentDir
}
