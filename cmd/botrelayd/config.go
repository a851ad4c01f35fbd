package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const envPrefix = "BOTRELAY_"

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"
	driverPGX      = "pgx"
)

// daemonSections are yaml sections consumed by the daemon itself. Every other
// top-level key is relay configuration.
var daemonSections = []string{"database", "http", "log", "security", "queue", "bots"}

// relaySections are the nested sections of core.Config addressable from the
// environment as BOTRELAY_<SECTION>_<KEY>.
var relaySections = []string{"delivery", "backoff", "directory"}

type seedBot struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	WebhookURL    string   `yaml:"webhook_url"`
	WebhookSecret string   `yaml:"webhook_secret"`
	APIKey        string   `yaml:"api_key"`
	Disabled      bool     `yaml:"disabled"`
	Conversations []string `yaml:"conversations"`
}

type fileConfig struct {
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	HTTP struct {
		Listen string `yaml:"listen"`
	} `yaml:"http"`
	Log struct {
		Environment string `yaml:"environment"`
	} `yaml:"log"`
	Security struct {
		SecretKey string `yaml:"secret_key"`
	} `yaml:"security"`
	Queue struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"queue"`
	Bots []seedBot `yaml:"bots"`
}

type settings struct {
	ConfigPath string
	Driver     string
	DSN        string
	Listen     string
	Migrate    bool
	LogEnv     string
	SecretKey  string
	// TickQueue routes delivery ticks through a go-job queue table instead
	// of the in-process ticker.
	TickQueue bool
	Relay     map[string]any
	Bots      []seedBot
}

func defaultSettings() settings {
	return settings{
		Driver:  driverSQLite,
		DSN:     "file:botrelay.db?_foreign_keys=on",
		Listen:  ":8080",
		Migrate: true,
		LogEnv:  "development",
		Relay:   map[string]any{},
	}
}

// loadSettings layers defaults < config file < BOTRELAY_* environment < flags.
func loadSettings(args []string, environ []string, readFile func(string) ([]byte, error)) (settings, error) {
	out := defaultSettings()

	flags := pflag.NewFlagSet("botrelayd", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a yaml config file")
	dsn := flags.String("dsn", out.DSN, "database connection string")
	driver := flags.String("driver", out.Driver, "database driver: sqlite3, postgres or pgx")
	listen := flags.String("listen", out.Listen, "HTTP listen address")
	migrate := flags.Bool("migrate", out.Migrate, "apply schema migrations on startup")
	logEnv := flags.String("log-env", out.LogEnv, "log format: development or production")
	tickQueue := flags.Bool("tick-queue", out.TickQueue, "schedule delivery ticks through the go-job queue table")
	if err := flags.Parse(args); err != nil {
		return settings{}, err
	}

	env := parseEnviron(environ)
	out.ConfigPath = strings.TrimSpace(*configPath)
	if out.ConfigPath == "" {
		out.ConfigPath = env["config"]
	}

	if out.ConfigPath != "" {
		if readFile == nil {
			return settings{}, fmt.Errorf("botrelayd: no file reader for %s", out.ConfigPath)
		}
		data, err := readFile(out.ConfigPath)
		if err != nil {
			return settings{}, fmt.Errorf("botrelayd: read config: %w", err)
		}
		if err := applyFile(&out, data); err != nil {
			return settings{}, err
		}
	}

	if err := applyEnv(&out, env); err != nil {
		return settings{}, err
	}

	if flags.Changed("dsn") {
		out.DSN = *dsn
	}
	if flags.Changed("driver") {
		out.Driver = *driver
	}
	if flags.Changed("listen") {
		out.Listen = *listen
	}
	if flags.Changed("migrate") {
		out.Migrate = *migrate
	}
	if flags.Changed("log-env") {
		out.LogEnv = *logEnv
	}
	if flags.Changed("tick-queue") {
		out.TickQueue = *tickQueue
	}

	out.Driver = strings.ToLower(strings.TrimSpace(out.Driver))
	switch out.Driver {
	case driverSQLite, driverPostgres, driverPGX:
	default:
		return settings{}, fmt.Errorf("botrelayd: unsupported driver %q", out.Driver)
	}
	if strings.TrimSpace(out.DSN) == "" {
		return settings{}, fmt.Errorf("botrelayd: dsn is required")
	}
	return out, nil
}

func applyFile(out *settings, data []byte) error {
	var typed fileConfig
	if err := yaml.Unmarshal(data, &typed); err != nil {
		return fmt.Errorf("botrelayd: parse config: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("botrelayd: parse config: %w", err)
	}
	for _, section := range daemonSections {
		delete(raw, section)
	}

	if typed.Database.Driver != "" {
		out.Driver = typed.Database.Driver
	}
	if typed.Database.DSN != "" {
		out.DSN = typed.Database.DSN
	}
	if typed.HTTP.Listen != "" {
		out.Listen = typed.HTTP.Listen
	}
	if typed.Log.Environment != "" {
		out.LogEnv = typed.Log.Environment
	}
	if typed.Security.SecretKey != "" {
		out.SecretKey = typed.Security.SecretKey
	}
	if typed.Queue.Enabled {
		out.TickQueue = true
	}
	out.Bots = typed.Bots
	out.Relay = mergeMaps(out.Relay, raw)
	return nil
}

func applyEnv(out *settings, env map[string]string) error {
	overlay := map[string]any{}
	for key, value := range env {
		switch key {
		case "config":
		case "dsn":
			out.DSN = value
		case "driver":
			out.Driver = value
		case "listen":
			out.Listen = value
		case "log_env":
			out.LogEnv = value
		case "secret_key":
			out.SecretKey = value
		case "migrate":
			enabled, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("botrelayd: invalid %sMIGRATE %q", envPrefix, value)
			}
			out.Migrate = enabled
		case "tick_queue":
			enabled, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("botrelayd: invalid %sTICK_QUEUE %q", envPrefix, value)
			}
			out.TickQueue = enabled
		default:
			setRelayKey(overlay, key, envValue(value))
		}
	}
	out.Relay = mergeMaps(out.Relay, overlay)
	return nil
}

func setRelayKey(overlay map[string]any, key string, value any) {
	for _, section := range relaySections {
		if field, ok := strings.CutPrefix(key, section+"_"); ok && field != "" {
			nested, _ := overlay[section].(map[string]any)
			if nested == nil {
				nested = map[string]any{}
				overlay[section] = nested
			}
			nested[field] = value
			return
		}
	}
	overlay[key] = value
}

// envValue keeps durations as strings for the relay config normalizer and
// turns plain integers into ints.
func envValue(raw string) any {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return raw
}

func parseEnviron(environ []string) map[string]string {
	out := map[string]string{}
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, envPrefix))
		if name == "" {
			continue
		}
		out[name] = strings.TrimSpace(value)
	}
	return out
}

func mergeMaps(base map[string]any, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range overlay {
		existing, okExisting := out[key].(map[string]any)
		incoming, okIncoming := value.(map[string]any)
		if okExisting && okIncoming {
			out[key] = mergeMaps(existing, incoming)
			continue
		}
		out[key] = value
	}
	return out
}
