package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "ENTITYSYNC_"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config drives every component of the engine and the CLI.
type Config struct {
	APIBase           string        `yaml:"api_base"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	RetryMode         string        `yaml:"retry_mode"`
	AuditCapacity     int           `yaml:"audit_capacity"`
	EntityTypes       []string      `yaml:"entity_types"`
	PermissionPaths   []string      `yaml:"permission_paths"`
	LoginRoute        string        `yaml:"login_route"`
	ConflictPolicy    string        `yaml:"conflict_policy"`
	ResyncConcurrency int           `yaml:"resync_concurrency"`
	SchemaDir         string        `yaml:"schema_dir"`
	CredentialsFile   string        `yaml:"credentials_file"`
	Token             string        `yaml:"token"`
	LogLevel          string        `yaml:"log_level"`
	FeedAddr          string        `yaml:"feed_addr"`
	MockAddr          string        `yaml:"mock_addr"`
	ResyncInterval    time.Duration `yaml:"resync_interval"`
	ResyncJitter      float64       `yaml:"resync_jitter"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		APIBase:           "http://127.0.0.1:8787",
		RequestTimeout:    15 * time.Second,
		MaxRetries:        3,
		BaseDelay:         time.Second,
		RetryMode:         "head",
		AuditCapacity:     1000,
		EntityTypes:       []string{"clients", "leads", "projects", "invoices", "timeEntries", "users"},
		PermissionPaths:   []string{"/users", "/admin"},
		LoginRoute:        "/login",
		ConflictPolicy:    "server-wins",
		ResyncConcurrency: 1,
		LogLevel:          "info",
		FeedAddr:          "127.0.0.1:8788",
		MockAddr:          "127.0.0.1:8787",
		ResyncInterval:    30 * time.Second,
		ResyncJitter:      0.2,
	}
}

// LoadYAML decodes r over the defaults.
func LoadYAML(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Load reads path (empty means defaults only), applies environment overrides
// and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, err
		}
		defer func() { _ = f.Close() }()
		if cfg, err = LoadYAML(f); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ENTITYSYNC_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookupTrim(lookup, name); ok {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookupTrim(lookup, name); ok {
			*dst = splitList(v)
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookupTrim(lookup, name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s=%q: %w", envPrefix, name, v, err))
				return
			}
			*dst = d
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookupTrim(lookup, name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s=%q: %w", envPrefix, name, v, err))
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookupTrim(lookup, name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s=%q: %w", envPrefix, name, v, err))
				return
			}
			*dst = f
		}
	}

	str("API_BASE", &c.APIBase)
	dur("REQUEST_TIMEOUT", &c.RequestTimeout)
	num("MAX_RETRIES", &c.MaxRetries)
	dur("BASE_DELAY", &c.BaseDelay)
	str("RETRY_MODE", &c.RetryMode)
	num("AUDIT_CAPACITY", &c.AuditCapacity)
	list("ENTITY_TYPES", &c.EntityTypes)
	list("PERMISSION_PATHS", &c.PermissionPaths)
	str("LOGIN_ROUTE", &c.LoginRoute)
	str("CONFLICT_POLICY", &c.ConflictPolicy)
	num("RESYNC_CONCURRENCY", &c.ResyncConcurrency)
	str("SCHEMA_DIR", &c.SchemaDir)
	str("CREDENTIALS_FILE", &c.CredentialsFile)
	str("TOKEN", &c.Token)
	str("LOG_LEVEL", &c.LogLevel)
	str("FEED_ADDR", &c.FeedAddr)
	str("MOCK_ADDR", &c.MockAddr)
	dur("RESYNC_INTERVAL", &c.ResyncInterval)
	float("RESYNC_JITTER", &c.ResyncJitter)
	return errors.Join(errs...)
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.APIBase) == "" {
		problems = append(problems, "api_base is required")
	}
	if c.MaxRetries < 0 {
		problems = append(problems, "max_retries must be >= 0")
	}
	if c.BaseDelay < 0 {
		problems = append(problems, "base_delay must be >= 0")
	}
	if c.RequestTimeout < 0 {
		problems = append(problems, "request_timeout must be >= 0")
	}
	switch c.RetryMode {
	case "", "head", "deferred":
	default:
		problems = append(problems, fmt.Sprintf("retry_mode %q is not head or deferred", c.RetryMode))
	}
	switch c.ConflictPolicy {
	case "", "server-wins", "keep-pending":
	default:
		problems = append(problems, fmt.Sprintf("conflict_policy %q is not server-wins or keep-pending", c.ConflictPolicy))
	}
	if c.AuditCapacity < 0 {
		problems = append(problems, "audit_capacity must be >= 0")
	}
	if c.ResyncConcurrency < 0 {
		problems = append(problems, "resync_concurrency must be >= 0")
	}
	if c.ResyncJitter < 0 || c.ResyncJitter > 1 {
		problems = append(problems, "resync_jitter must be within [0, 1]")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func lookupTrim(lookup func(string) (string, bool), name string) (string, bool) {
	v, ok := lookup(envPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
