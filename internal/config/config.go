package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

type Config struct {
	Port   string `json:"port"`
	Driver string `json:"driver"` // memory (default) | postgres | badger
	DBURL  string `json:"dbUrl"`
	// Badger: пустая строка = in-memory
	BadgerDir   string `json:"badgerDir"`
	AutoMigrate bool   `json:"autoMigrate"`

	// YAML со стартовой схемой; применяется только к пустому хранилищу
	Bootstrap string `json:"bootstrap"`

	// Пустой список = принимаем любой непустой bearer token
	APITokens []string `json:"apiTokens"`

	Debug            bool `json:"debug"`
	SubscriberBuffer int  `json:"subscriberBuffer"`
}

func def() Config {
	return Config{
		Port:             "8080",
		Driver:           DriverMemory,
		DBURL:            "",
		BadgerDir:        "data",
		AutoMigrate:      true,
		Bootstrap:        "",
		APITokens:        nil,
		Debug:            false,
		SubscriberBuffer: 64,
	}
}

func loadJSON(path string) (Config, error) {
	c := def()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c, nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}
func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		if b, ok := parseBool(v); ok {
			return b
		}
	}
	return fallback
}
func getenvInt(k string, fallback int) int {
	if v, ok := os.LookupEnv(k); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func parseBool(v string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	}
	return false, false
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load applies, in order: defaults, the JSON file named by -config (or jsonPath),
// MINICRM_* environment variables and finally command line flags.
func Load(jsonPath string, args []string) (Config, error) {
	// -config надо знать до чтения остальных флагов
	pre := flag.NewFlagSet("minicrm", flag.ContinueOnError)
	pre.SetOutput(io.Discard)
	configPath := pre.String("config", getenv("MINICRM_CONFIG", jsonPath), "Path to config JSON")
	_ = pre.Parse(filterConfigArg(args))

	cfg := def()
	if st, err := os.Stat(*configPath); err == nil && !st.IsDir() {
		c2, err := loadJSON(*configPath)
		if err != nil {
			return cfg, fmt.Errorf("config %s: %w", *configPath, err)
		}
		cfg = c2
	}

	// ENV overrides
	cfg.Port = getenv("MINICRM_PORT", cfg.Port)
	cfg.Driver = getenv("MINICRM_DRIVER", cfg.Driver)
	cfg.DBURL = getenv("MINICRM_DB_URL", cfg.DBURL)
	cfg.BadgerDir = getenv("MINICRM_BADGER_DIR", cfg.BadgerDir)
	cfg.AutoMigrate = getenvBool("MINICRM_AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.Bootstrap = getenv("MINICRM_BOOTSTRAP", cfg.Bootstrap)
	if v := getenv("MINICRM_API_TOKENS", ""); v != "" {
		cfg.APITokens = splitList(v)
	}
	cfg.Debug = getenvBool("MINICRM_DEBUG", cfg.Debug)
	cfg.SubscriberBuffer = getenvInt("MINICRM_SUBSCRIBER_BUFFER", cfg.SubscriberBuffer)

	// Flags overrides
	fs := flag.NewFlagSet("minicrm", flag.ContinueOnError)
	fs.String("config", *configPath, "Path to config JSON")
	port := fs.String("port", cfg.Port, "HTTP port")
	driver := fs.String("driver", cfg.Driver, "Store driver (memory/postgres/badger)")
	db := fs.String("db", cfg.DBURL, "Postgres URL")
	badgerDir := fs.String("badger-dir", cfg.BadgerDir, "Badger directory (empty = in-memory)")
	auto := fs.String("auto-migrate", strconv.FormatBool(cfg.AutoMigrate), "Create storage tables on start (true/false)")
	boot := fs.String("bootstrap", cfg.Bootstrap, "YAML schema applied to an empty store")
	tokens := fs.String("tokens", strings.Join(cfg.APITokens, ","), "Comma separated API tokens")
	debug := fs.Bool("debug", cfg.Debug, "Development logging")
	buffer := fs.Int("subscriber-buffer", cfg.SubscriberBuffer, "Events queued per live subscriber")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.Port = strings.TrimSpace(*port)
	cfg.Driver = strings.ToLower(strings.TrimSpace(*driver))
	cfg.DBURL = strings.TrimSpace(*db)
	cfg.BadgerDir = strings.TrimSpace(*badgerDir)
	if b, ok := parseBool(*auto); ok {
		cfg.AutoMigrate = b
	}
	cfg.Bootstrap = strings.TrimSpace(*boot)
	cfg.APITokens = splitList(*tokens)
	cfg.Debug = *debug
	cfg.SubscriberBuffer = *buffer

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Driver {
	case DriverMemory, DriverBadger:
	case DriverPostgres:
		if c.DBURL == "" {
			return fmt.Errorf("driver %q needs a database url", c.Driver)
		}
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	if c.Port == "" {
		return fmt.Errorf("port is empty")
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("subscriber buffer must be positive, got %d", c.SubscriberBuffer)
	}
	return nil
}

// filterConfigArg keeps only -config so the first pass ignores flags it does not know.
func filterConfigArg(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-config" || a == "--config":
			out = append(out, a)
			if i+1 < len(args) {
				out = append(out, args[i+1])
				i++
			}
		case strings.HasPrefix(a, "-config=") || strings.HasPrefix(a, "--config="):
			out = append(out, a)
		}
	}
	return out
}
