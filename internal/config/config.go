// Package config loads cmdgate configuration from defaults, the user and
// project TOML files, CMDGATE_* environment variables and flag overrides,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config is the full configuration tree.
type Config struct {
	General       GeneralConfig       `toml:"general" mapstructure:"general"`
	Escalation    EscalationConfig    `toml:"escalation" mapstructure:"escalation"`
	Rules         RulesConfig         `toml:"rules" mapstructure:"rules"`
	Notifications NotificationsConfig `toml:"notifications" mapstructure:"notifications"`
	Daemon        DaemonConfig        `toml:"daemon" mapstructure:"daemon"`
}

// GeneralConfig holds storage and execution settings.
type GeneralConfig struct {
	DatabasePath            string `toml:"database_path" mapstructure:"database_path"`
	DefaultCredits          int64  `toml:"default_credits" mapstructure:"default_credits"`
	DefaultTier             string `toml:"default_tier" mapstructure:"default_tier"`
	ExecutionMode           string `toml:"execution_mode" mapstructure:"execution_mode"`
	ExecutionTimeoutSeconds int    `toml:"execution_timeout_seconds" mapstructure:"execution_timeout_seconds"`
}

// EscalationConfig controls the escalation scheduler.
type EscalationConfig struct {
	Enabled              bool `toml:"enabled" mapstructure:"enabled"`
	DeadlineMinutes      int  `toml:"deadline_minutes" mapstructure:"deadline_minutes"`
	SweepIntervalSeconds int  `toml:"sweep_interval_seconds" mapstructure:"sweep_interval_seconds"`
}

// RulesConfig holds rule engine settings.
type RulesConfig struct {
	// ProbeCommands is the command set used to detect overlapping rules.
	ProbeCommands []string `toml:"probe_commands" mapstructure:"probe_commands"`
}

// NotificationsConfig holds transport credentials and dispatcher tuning.
type NotificationsConfig struct {
	Enabled            bool    `toml:"enabled" mapstructure:"enabled"`
	TelegramBotToken   string  `toml:"telegram_bot_token" mapstructure:"telegram_bot_token"`
	SMTPServer         string  `toml:"smtp_server" mapstructure:"smtp_server"`
	SMTPPort           int     `toml:"smtp_port" mapstructure:"smtp_port"`
	SMTPEmail          string  `toml:"smtp_email" mapstructure:"smtp_email"`
	SMTPPassword       string  `toml:"smtp_password" mapstructure:"smtp_password"`
	RatePerSecond      float64 `toml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst              int     `toml:"burst" mapstructure:"burst"`
	QueueSize          int     `toml:"queue_size" mapstructure:"queue_size"`
	SendTimeoutSeconds int     `toml:"send_timeout_seconds" mapstructure:"send_timeout_seconds"`
}

// DaemonConfig holds daemon process settings.
type DaemonConfig struct {
	LogLevel    string `toml:"log_level" mapstructure:"log_level"`
	MetricsAddr string `toml:"metrics_addr" mapstructure:"metrics_addr"`
	PIDFile     string `toml:"pid_file" mapstructure:"pid_file"`
}

// LoadOptions controls Load.
type LoadOptions struct {
	// ProjectDir locates .cmdgate/config.toml; empty uses the working directory.
	ProjectDir string
	// ConfigPath replaces the project config file when set.
	ConfigPath string
	// FlagOverrides are dotted keys applied last.
	FlagOverrides map[string]any
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			DatabasePath:            "",
			DefaultCredits:          100,
			DefaultTier:             "junior",
			ExecutionMode:           "mock",
			ExecutionTimeoutSeconds: 300,
		},
		Escalation: EscalationConfig{
			Enabled:              true,
			DeadlineMinutes:      60,
			SweepIntervalSeconds: 300,
		},
		Rules: RulesConfig{
			ProbeCommands: []string{
				"ls -la",
				"rm -rf /",
				"git status",
				"cat file.txt",
				"echo hello",
				"mkfs.ext4 /dev/sda",
				":(){ :|:& };:",
			},
		},
		Notifications: NotificationsConfig{
			Enabled:            true,
			SMTPPort:           587,
			RatePerSecond:      5,
			Burst:              10,
			QueueSize:          256,
			SendTimeoutSeconds: 10,
		},
		Daemon: DaemonConfig{
			LogLevel: "info",
		},
	}
}

var (
	validTiers      = []string{"junior", "mid", "senior", "lead"}
	validExecModes  = []string{"mock", "shell"}
	validLogLevels  = []string{"debug", "info", "warn", "warning", "error", "fatal"}
	errInvalidValue = errors.New("invalid value")
)

// Validate checks cfg for out-of-range values.
func Validate(cfg Config) error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(cfg.General.DefaultCredits >= 0, "general.default_credits must be >= 0")
	check(slices.Contains(validTiers, cfg.General.DefaultTier), "general.default_tier must be one of %s", strings.Join(validTiers, ", "))
	check(slices.Contains(validExecModes, cfg.General.ExecutionMode), "general.execution_mode must be one of %s", strings.Join(validExecModes, ", "))
	check(cfg.General.ExecutionTimeoutSeconds > 0, "general.execution_timeout_seconds must be > 0")
	check(cfg.Escalation.DeadlineMinutes > 0, "escalation.deadline_minutes must be > 0")
	check(cfg.Escalation.SweepIntervalSeconds > 0, "escalation.sweep_interval_seconds must be > 0")
	check(cfg.Notifications.SMTPPort >= 0 && cfg.Notifications.SMTPPort <= 65535, "notifications.smtp_port out of range")
	check(cfg.Notifications.RatePerSecond >= 0, "notifications.rate_per_second must be >= 0")
	check(cfg.Notifications.Burst >= 0, "notifications.burst must be >= 0")
	check(cfg.Notifications.QueueSize > 0, "notifications.queue_size must be > 0")
	check(cfg.Notifications.SendTimeoutSeconds > 0, "notifications.send_timeout_seconds must be > 0")
	check(slices.Contains(validLogLevels, strings.ToLower(cfg.Daemon.LogLevel)), "daemon.log_level must be one of %s", strings.Join(validLogLevels, ", "))

	if len(problems) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Load resolves the layered configuration and validates it.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)

	userPath, projectPath := ConfigPaths(opts.ProjectDir, opts.ConfigPath)
	if err := mergeConfigFile(v, userPath); err != nil {
		return Config{}, err
	}
	if err := mergeConfigFile(v, projectPath); err != nil {
		return Config{}, err
	}

	if err := applyEnv(v); err != nil {
		return Config{}, err
	}

	for key, value := range opts.FlagOverrides {
		if _, ok := keyKinds[key]; !ok {
			return Config{}, fmt.Errorf("unsupported config key %q", key)
		}
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigPaths returns the user and project config file paths.
func ConfigPaths(projectDir, override string) (userPath, projectPath string) {
	if home, err := os.UserHomeDir(); err == nil {
		userPath = filepath.Join(home, ".cmdgate", "config.toml")
	}
	return userPath, projectConfigPath(projectDir, override)
}

func projectConfigPath(projectDir, override string) string {
	if override != "" {
		return override
	}
	if projectDir == "" {
		return filepath.Join(".cmdgate", "config.toml")
	}
	return filepath.Join(projectDir, ".cmdgate", "config.toml")
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()
	for key := range keyKinds {
		if val, ok := GetValue(def, key); ok {
			v.SetDefault(key, val)
		}
	}
}

// mergeConfigFile merges a TOML file into v. Missing files are skipped.
func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}

	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := v.MergeConfigMap(raw); err != nil {
		return fmt.Errorf("merge config %s: %w", path, err)
	}
	return nil
}

// envKey maps a dotted key to its environment variable:
// general.default_credits reads CMDGATE_GENERAL_DEFAULT_CREDITS.
func envKey(key string) string {
	return "CMDGATE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func applyEnv(v *viper.Viper) error {
	for key := range keyKinds {
		raw, ok := os.LookupEnv(envKey(key))
		if !ok {
			continue
		}
		val, err := ParseValue(key, raw)
		if err != nil {
			return fmt.Errorf("%s: %w", envKey(key), err)
		}
		v.Set(key, val)
	}
	return nil
}

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindInt64
	kindFloat
	kindBool
	kindStringSlice
)

var keyKinds = map[string]valueKind{
	"general.database_path":             kindString,
	"general.default_credits":           kindInt64,
	"general.default_tier":              kindString,
	"general.execution_mode":            kindString,
	"general.execution_timeout_seconds": kindInt,

	"escalation.enabled":                kindBool,
	"escalation.deadline_minutes":       kindInt,
	"escalation.sweep_interval_seconds": kindInt,

	"rules.probe_commands": kindStringSlice,

	"notifications.enabled":              kindBool,
	"notifications.telegram_bot_token":   kindString,
	"notifications.smtp_server":          kindString,
	"notifications.smtp_port":            kindInt,
	"notifications.smtp_email":           kindString,
	"notifications.smtp_password":        kindString,
	"notifications.rate_per_second":      kindFloat,
	"notifications.burst":                kindInt,
	"notifications.queue_size":           kindInt,
	"notifications.send_timeout_seconds": kindInt,

	"daemon.log_level":    kindString,
	"daemon.metrics_addr": kindString,
	"daemon.pid_file":     kindString,
}

// Keys returns every supported dotted key.
func Keys() []string {
	keys := make([]string, 0, len(keyKinds))
	for k := range keyKinds {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ParseValue converts raw into the type expected by key.
func ParseValue(key, raw string) (any, error) {
	kind, ok := keyKinds[key]
	if !ok {
		return nil, fmt.Errorf("unsupported config key %q", key)
	}
	return parseValueByKind(raw, kind)
}

func parseValueByKind(raw string, kind valueKind) (any, error) {
	raw = strings.TrimSpace(raw)
	switch kind {
	case kindString:
		return raw, nil
	case kindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", errInvalidValue, raw)
		}
		return n, nil
	case kindInt64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", errInvalidValue, raw)
		}
		return n, nil
	case kindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", errInvalidValue, raw)
		}
		return f, nil
	case kindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a boolean", errInvalidValue, raw)
		}
		return b, nil
	case kindStringSlice:
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value kind %d", kind)
	}
}

// GetValue returns the value at a dotted key ("general" or
// "general.default_credits") using the toml tags of Config.
func GetValue(cfg Config, key string) (any, bool) {
	if key == "" {
		return nil, false
	}
	cur := reflect.ValueOf(cfg)
	for _, part := range strings.Split(key, ".") {
		if cur.Kind() != reflect.Struct {
			return nil, false
		}
		field, ok := fieldByTag(cur, part)
		if !ok {
			return nil, false
		}
		cur = field
	}
	return cur.Interface(), true
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// WriteValue sets a dotted key in the TOML file at path, creating the file
// and parent directories as needed. Other keys are preserved.
func WriteValue(path, key string, value any) error {
	if path == "" {
		return fmt.Errorf("config path is required")
	}
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		return fmt.Errorf("key must be section.name, got %q", key)
	}

	doc := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return fmt.Errorf("decode config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	table := doc
	for _, part := range parts[:len(parts)-1] {
		next, exists := table[part]
		if !exists {
			child := map[string]any{}
			table[part] = child
			table = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("config key %q is not a table", part)
		}
		table = child
	}
	table[parts[len(parts)-1]] = value

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	return f.Close()
}
