package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the loader.
const EnvPrefix = "DIFFREVIEW"

// Config represents the diffreview configuration.
type Config struct {
	Provider   string `mapstructure:"provider" json:"provider" validate:"oneof=azure openai anthropic gemini google ollama lmstudio"`
	Model      string `mapstructure:"model" json:"model"`
	Endpoint   string `mapstructure:"endpoint" json:"endpoint" validate:"omitempty,url"`
	APIVersion string `mapstructure:"api_version" json:"api_version"`
	Retries    int    `mapstructure:"retries" json:"retries" validate:"gte=0,lte=10"`
	Format     string `mapstructure:"format" json:"format" validate:"oneof=text json"`

	Dispatch DispatchConfig `mapstructure:"dispatch" json:"dispatch"`
	Review   ReviewConfig   `mapstructure:"review" json:"review"`
	GitHub   GitHubConfig   `mapstructure:"github" json:"github"`
	Ledger   LedgerConfig   `mapstructure:"ledger" json:"ledger"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

// DispatchConfig controls chunk submission.
type DispatchConfig struct {
	Limit     int           `mapstructure:"limit" json:"limit" validate:"gte=1"`
	Delay     time.Duration `mapstructure:"delay" json:"delay" validate:"gte=0s"`
	MaxTokens int           `mapstructure:"max_tokens" json:"max_tokens" validate:"gte=1"`
	Timeout   time.Duration `mapstructure:"timeout" json:"timeout" validate:"gte=0s"`
	Ordered   bool          `mapstructure:"ordered" json:"ordered"`
}

// ReviewConfig controls how the diff is prepared.
type ReviewConfig struct {
	ChunkSize     int           `mapstructure:"chunk_size" json:"chunk_size" validate:"gte=1"`
	MaxInputChars int           `mapstructure:"max_input_chars" json:"max_input_chars" validate:"gte=0"`
	Prime         bool          `mapstructure:"prime" json:"prime"`
	PrimeDelay    time.Duration `mapstructure:"prime_delay" json:"prime_delay" validate:"gte=0s"`
	Redact        bool          `mapstructure:"redact" json:"redact"`
	RedactPaths   []string      `mapstructure:"redact_paths" json:"redact_paths"`
	Exclude       []string      `mapstructure:"exclude" json:"exclude"`
	ContextLines  int           `mapstructure:"context_lines" json:"context_lines" validate:"gte=0"`
	Tokenizer     string        `mapstructure:"tokenizer" json:"tokenizer" validate:"oneof=tiktoken estimate"`
}

// GitHubConfig paces the GitHub client.
type GitHubConfig struct {
	RPS   float64 `mapstructure:"rps" json:"rps" validate:"gte=0"`
	Burst int     `mapstructure:"burst" json:"burst" validate:"gte=1"`
}

// LedgerConfig selects the duplicate-post ledger backend.
type LedgerConfig struct {
	Enabled bool          `mapstructure:"enabled" json:"enabled"`
	Backend string        `mapstructure:"backend" json:"backend" validate:"oneof=file redis"`
	Dir     string        `mapstructure:"dir" json:"dir,omitempty"`
	TTL     time.Duration `mapstructure:"ttl" json:"ttl" validate:"gte=0s"`
	Redis   RedisConfig   `mapstructure:"redis" json:"redis"`
}

// RedisConfig is used when the ledger backend is redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"password,omitempty"`
	DB       int    `mapstructure:"db" json:"db" validate:"gte=0"`
	Prefix   string `mapstructure:"prefix" json:"prefix"`
}

// LogConfig controls the zap logger built by the CLI.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" json:"format" validate:"oneof=console json"`
}

// defaults holds every known key. Durations are strings so a written config
// file stays readable.
var defaults = map[string]any{
	"provider":    "azure",
	"model":       "",
	"endpoint":    "",
	"api_version": "",
	"retries":     0,
	"format":      "text",

	"dispatch.limit":      2,
	"dispatch.delay":      "1s",
	"dispatch.max_tokens": 2000,
	"dispatch.timeout":    "2m",
	"dispatch.ordered":    false,

	"review.chunk_size":      4000,
	"review.max_input_chars": 50000,
	"review.prime":           true,
	"review.prime_delay":     "2s",
	"review.redact":          true,
	"review.redact_paths":    []string{"**/.env", "**/*secrets*"},
	"review.exclude":         []string{},
	"review.context_lines":   3,
	"review.tokenizer":       "tiktoken",

	"github.rps":   5.0,
	"github.burst": 1,

	"ledger.enabled":        true,
	"ledger.backend":        "file",
	"ledger.dir":            "",
	"ledger.ttl":            "720h",
	"ledger.redis.addr":     "localhost:6379",
	"ledger.redis.password": "",
	"ledger.redis.db":       0,
	"ledger.redis.prefix":   "diffreview:ledger:",

	"log.level":  "info",
	"log.format": "console",
}

// envAliases maps keys to additional variable names kept from the Azure
// GitHub Action this tool replaces.
var envAliases = map[string][]string{
	"endpoint": {"OPEN_AI_AZURE_ENDPOINT"},
	"model":    {"OPEN_AI_AZURE_DEPLOYMENT_ID"},
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Provider: "azure",
		Format:   "text",
		Dispatch: DispatchConfig{
			Limit:     2,
			Delay:     time.Second,
			MaxTokens: 2000,
			Timeout:   2 * time.Minute,
		},
		Review: ReviewConfig{
			ChunkSize:     4000,
			MaxInputChars: 50000,
			Prime:         true,
			PrimeDelay:    2 * time.Second,
			Redact:        true,
			RedactPaths:   []string{"**/.env", "**/*secrets*"},
			Exclude:       []string{},
			ContextLines:  3,
			Tokenizer:     "tiktoken",
		},
		GitHub: GitHubConfig{RPS: 5, Burst: 1},
		Ledger: LedgerConfig{
			Enabled: true,
			Backend: "file",
			TTL:     720 * time.Hour,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "diffreview:ledger:",
			},
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Keys returns every settable key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ConfigDir returns the platform-appropriate config directory for diffreview.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "diffreview"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "diffreview"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "diffreview"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "diffreview"), nil
	default:
		return filepath.Join(home, ".config", "diffreview"), nil
	}
}

// ConfigPath returns the full path to the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetConfigType("yaml")
	return v
}

// Loader builds the effective config from defaults, a config file, the
// environment and bound flags.
type Loader struct {
	v    *viper.Viper
	file string
}

// NewLoader returns a Loader reading file, or the default config path when
// file is empty.
func NewLoader(file string) *Loader {
	v := newViper()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		// BindEnv replaces the automatic name, so repeat it first.
		args := append([]string{key, envName(key)}, names...)
		_ = v.BindEnv(args...)
	}
	return &Loader{v: v, file: file}
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// BindFlag makes a changed flag override key.
func (l *Loader) BindFlag(key string, f *pflag.Flag) error {
	if f == nil {
		return fmt.Errorf("binding %s: flag not defined", key)
	}
	if _, ok := defaults[key]; !ok {
		return fmt.Errorf("binding %s: unknown config key", key)
	}
	return l.v.BindPFlag(key, f)
}

// File returns the config file the loader reads, resolving the default path.
func (l *Loader) File() (string, error) {
	if l.file != "" {
		return l.file, nil
	}
	return ConfigPath()
}

// Load reads the config file if present, merges every source and validates
// the result. A missing default config file is not an error; a missing file
// named explicitly is.
func (l *Loader) Load() (*Config, error) {
	path, err := l.File()
	if err != nil {
		return nil, err
	}
	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		if !isNotFound(err) || l.file != "" {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg against its field constraints.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s", fieldPath(fe.Namespace()), constraint(fe)))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// fieldPath turns "Config.Dispatch.Limit" into "Dispatch.Limit".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func constraint(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// Init writes a config file with every default to path. It fails if the file
// already exists.
func Init(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	v := newViper()
	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Set updates a single key in the config file at path, creating the file if
// needed. The key must be known and the resulting config must validate.
func Set(path, key, value string) error {
	key = strings.ToLower(key)
	if _, ok := defaults[key]; !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}

	file := viper.New()
	file.SetConfigFile(path)
	file.SetConfigType("yaml")
	if err := file.ReadInConfig(); err != nil && !isNotFound(err) {
		return fmt.Errorf("reading config file: %w", err)
	}
	parsed, err := parseValue(key, value)
	if err != nil {
		return err
	}
	file.Set(key, parsed)

	merged := newViper()
	if err := merged.MergeConfigMap(file.AllSettings()); err != nil {
		return fmt.Errorf("merging config: %w", err)
	}
	var cfg Config
	if err := merged.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := Validate(&cfg); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := file.WriteConfigAs(path); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}

// parseValue converts value to the type of the key's default. Lists are
// comma separated.
func parseValue(key, value string) (any, error) {
	switch defaults[key].(type) {
	case int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer: %w", key, err)
		}
		return n, nil
	case float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%s must be a number: %w", key, err)
		}
		return f, nil
	case bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false: %w", key, err)
		}
		return b, nil
	case []string:
		if value == "" {
			return []string{}, nil
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	default:
		return value, nil
	}
}
