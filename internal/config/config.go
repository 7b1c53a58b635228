// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Storage. One of DatabaseURL or SeedFile is required; the seed file
	// backs an in-memory store for local runs and demos.
	DatabaseURL string `koanf:"database_url"`
	SeedFile    string `koanf:"seed_file"`

	// Redis backs the response cache and shared rate limits. Optional.
	RedisURL string `koanf:"redis_url"`

	// JWT Authentication. Without a secret every request is anonymous.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Media URL resolution
	MediaBaseURL        string   `koanf:"media_base_url"`
	MediaCanonicalHost  string   `koanf:"media_canonical_host"`
	MediaAlternateHosts []string `koanf:"media_alternate_hosts"`

	// Pipeline tuning
	FetchTimeout          time.Duration `koanf:"fetch_timeout"`
	RequestTimeout        time.Duration `koanf:"request_timeout"`
	EnrichmentConcurrency int           `koanf:"enrichment_concurrency"`
	SourceOverfetch       int           `koanf:"source_overfetch"`
	PeopleGroupSize       int           `koanf:"people_group_size"`
	CacheTTL              time.Duration `koanf:"cache_ttl"` // 0 disables the response cache

	// Ranking
	RankingCalibrationPath string `koanf:"ranking_calibration_path"`

	// HTTP surface
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
	SearchRateLimit    int      `koanf:"search_rate_limit"` // requests per minute per viewer

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporter     string  `koanf:"tracing_exporter"`
	TracingEndpoint     string  `koanf:"tracing_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
	TracingInsecure     bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingStorage        = errors.New("DATABASE_URL or SEED_FILE is required")
	ErrInvalidPort           = errors.New("PORT must be a valid integer")
	ErrInvalidInteger        = errors.New("value must be a valid integer")
	ErrInvalidDuration       = errors.New("value must be a valid duration")
	ErrInvalidFloat          = errors.New("value must be a valid number")
	ErrPortOutOfRange        = errors.New("PORT must be between 1 and 65535")
	ErrNonPositiveTimeout    = errors.New("FETCH_TIMEOUT and REQUEST_TIMEOUT must be positive")
	ErrFetchExceedsRequest   = errors.New("FETCH_TIMEOUT must not exceed REQUEST_TIMEOUT")
	ErrInvalidSamplingRate   = errors.New("TRACING_SAMPLING_RATE must be between 0.0 and 1.0")
	ErrInvalidSearchLimit    = errors.New("SEARCH_RATE_LIMIT must be positive")
	ErrInvalidTracingBackend = errors.New("TRACING_EXPORTER must be otlp-http or otlp-grpc")
)

// Default values for non-secret configuration.
const (
	DefaultPort                  = 8080
	DefaultEnv                   = "development"
	DefaultFetchTimeout          = 3 * time.Second
	DefaultRequestTimeout        = 8 * time.Second
	DefaultEnrichmentConcurrency = 8
	DefaultSourceOverfetch       = 2
	DefaultPeopleGroupSize       = 6
	DefaultCacheTTL              = 30 * time.Second
	DefaultSearchRateLimit       = 30
	DefaultTracingExporter       = "otlp-http"
	DefaultTracingSamplingRate   = 0.1
)

// LoadEnvFile loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an
// error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	p := parser{k: k}

	// Try NEARBY_PORT first, then PORT
	port := p.intMulti([]string{"NEARBY_PORT", "PORT"}, "port", DefaultPort)

	cfg := &Config{
		Port:              port,
		Env:               getEnvOrDefaultMulti([]string{"NEARBY_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:       getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		SeedFile:          getEnvOrKoanf("SEED_FILE", k, "seed_file"),
		RedisURL:          getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		JWTSecret:         getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret: getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),

		MediaBaseURL:        getEnvOrKoanf("MEDIA_BASE_URL", k, "media_base_url"),
		MediaCanonicalHost:  getEnvOrKoanf("MEDIA_CANONICAL_HOST", k, "media_canonical_host"),
		MediaAlternateHosts: getEnvListOrKoanf("MEDIA_ALTERNATE_HOSTS", k, "media_alternate_hosts"),

		FetchTimeout:          p.duration("FETCH_TIMEOUT", "fetch_timeout", DefaultFetchTimeout),
		RequestTimeout:        p.duration("REQUEST_TIMEOUT", "request_timeout", DefaultRequestTimeout),
		EnrichmentConcurrency: p.integer("ENRICHMENT_CONCURRENCY", "enrichment_concurrency", DefaultEnrichmentConcurrency),
		SourceOverfetch:       p.integer("SOURCE_OVERFETCH", "source_overfetch", DefaultSourceOverfetch),
		PeopleGroupSize:       p.integer("PEOPLE_GROUP_SIZE", "people_group_size", DefaultPeopleGroupSize),
		CacheTTL:              p.duration("CACHE_TTL", "cache_ttl", DefaultCacheTTL),

		RankingCalibrationPath: getEnvOrKoanf("RANKING_CALIBRATION_PATH", k, "ranking_calibration_path"),

		CORSAllowedOrigins: getEnvListOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),
		SearchRateLimit:    p.integer("SEARCH_RATE_LIMIT", "search_rate_limit", DefaultSearchRateLimit),

		TracingEnabled:      p.flag("TRACING_ENABLED", "tracing_enabled", false),
		TracingExporter:     getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		TracingEndpoint:     getEnvOrKoanf("TRACING_ENDPOINT", k, "tracing_endpoint"),
		TracingSamplingRate: p.number("TRACING_SAMPLING_RATE", "tracing_sampling_rate", DefaultTracingSamplingRate),
		TracingInsecure:     p.flag("TRACING_INSECURE", "tracing_insecure", false),
	}

	// Validate and collect errors
	errs := append(p.errs, cfg.Validate()...)
	return cfg, errs
}

// parser reads typed values, env first, then koanf, then the default, and
// collects parse errors instead of failing on the first.
type parser struct {
	k    *koanf.Koanf
	errs []error
}

func (p *parser) integer(envKey, koanfKey string, def int) int {
	return p.intMulti([]string{envKey}, koanfKey, def)
}

func (p *parser) intMulti(envKeys []string, koanfKey string, def int) int {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				sentinel := ErrInvalidInteger
				if koanfKey == "port" {
					sentinel = ErrInvalidPort
				}
				p.errs = append(p.errs, fmt.Errorf("%s must be a valid integer: %w", key, sentinel))
				return def
			}
			return i
		}
	}
	// A zero from the file falls back to the default.
	if v := p.k.Int(koanfKey); v != 0 {
		return v
	}
	return def
}

func (p *parser) duration(envKey, koanfKey string, def time.Duration) time.Duration {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", envKey, ErrInvalidDuration))
			return def
		}
		return d
	}
	if p.k.Exists(koanfKey) {
		return p.k.Duration(koanfKey)
	}
	return def
}

func (p *parser) number(envKey, koanfKey string, def float64) float64 {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", envKey, ErrInvalidFloat))
			return def
		}
		return f
	}
	if p.k.Exists(koanfKey) {
		return p.k.Float64(koanfKey)
	}
	return def
}

func (p *parser) flag(envKey, koanfKey string, def bool) bool {
	v := def
	if p.k.Exists(koanfKey) {
		v = p.k.Bool(koanfKey)
	}
	if val := os.Getenv(envKey); val != "" {
		// Env var takes precedence over file config
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			v = true
		case "false", "0", "no", "off":
			v = false
		}
	}
	return v
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvListOrKoanf reads a comma-separated environment variable, falling
// back to a YAML list. Blank entries are dropped.
func getEnvListOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) []string {
	raw := k.Strings(koanfKey)
	if val := os.Getenv(envKey); val != "" {
		raw = strings.Split(val, ",")
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// Validate checks that all required configuration values are present and
// in range. Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" && c.SeedFile == "" {
		errs = append(errs, ErrMissingStorage)
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ErrPortOutOfRange)
	}
	if c.FetchTimeout <= 0 || c.RequestTimeout <= 0 {
		errs = append(errs, ErrNonPositiveTimeout)
	} else if c.FetchTimeout > c.RequestTimeout {
		errs = append(errs, ErrFetchExceedsRequest)
	}
	if c.SearchRateLimit <= 0 {
		errs = append(errs, ErrInvalidSearchLimit)
	}
	if c.TracingEnabled {
		if c.TracingSamplingRate < 0 || c.TracingSamplingRate > 1 {
			errs = append(errs, ErrInvalidSamplingRate)
		}
		switch c.TracingExporter {
		case "otlp-http", "otlp-grpc":
		default:
			errs = append(errs, ErrInvalidTracingBackend)
		}
	}

	return errs
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                     strconv.Itoa(c.Port),
		"env":                      c.Env,
		"database_url":             maskDatabaseURL(c.DatabaseURL),
		"seed_file":                orNotSet(c.SeedFile),
		"redis_url":                maskDatabaseURL(c.RedisURL),
		"jwt_secret":               maskSecret(c.JWTSecret),
		"jwt_previous_secret":      maskSecret(c.JWTPreviousSecret),
		"media_base_url":           orNotSet(c.MediaBaseURL),
		"media_canonical_host":     orNotSet(c.MediaCanonicalHost),
		"media_alternate_hosts":    strings.Join(c.MediaAlternateHosts, ","),
		"fetch_timeout":            c.FetchTimeout.String(),
		"request_timeout":          c.RequestTimeout.String(),
		"enrichment_concurrency":   strconv.Itoa(c.EnrichmentConcurrency),
		"source_overfetch":         strconv.Itoa(c.SourceOverfetch),
		"people_group_size":        strconv.Itoa(c.PeopleGroupSize),
		"cache_ttl":                c.CacheTTL.String(),
		"ranking_calibration_path": orNotSet(c.RankingCalibrationPath),
		"cors_allowed_origins":     strings.Join(c.CORSAllowedOrigins, ","),
		"search_rate_limit":        strconv.Itoa(c.SearchRateLimit),
		"tracing_enabled":          strconv.FormatBool(c.TracingEnabled),
		"tracing_exporter":         c.TracingExporter,
		"tracing_endpoint":         orNotSet(c.TracingEndpoint),
		"tracing_sampling_rate":    strconv.FormatFloat(c.TracingSamplingRate, 'f', -1, 64),
	}
}

func orNotSet(s string) string {
	if s == "" {
		return "<not set>"
	}
	return s
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
// Works for postgres://, postgresql:// and redis:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
