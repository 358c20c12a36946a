// Package config loads the server configuration from a YAML file and
// applies environment overrides on top, so containerized deployments can
// adjust a checked-in base file without editing it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Account is one terminal login the server accepts on the SIP "93"
// message. Terminals authenticate with an account, patrons with their
// own barcode and PIN.
type Account struct {
	UID         string `yaml:"uid"`
	Password    string `yaml:"password"`
	Institution string `yaml:"institution"`
	// PrintWidth caps the AG print line for terminals with narrow
	// receipt printers; zero means no truncation.
	PrintWidth int `yaml:"print_width"`
}

// AdminUser is one login for the HTTP admin API.
type AdminUser struct {
	Username string `yaml:"username"`
	// Password is a bcrypt hash, never a plaintext password.
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// Admin configures the HTTP admin API. A zero Addr disables it.
type Admin struct {
	Addr      string      `yaml:"addr"`
	JWTSecret string      `yaml:"jwt_secret"`
	Users     []AdminUser `yaml:"users"`
}

// SMTP configures the overdue-notice mailer. A zero Host disables it.
type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config is the full server configuration.
type Config struct {
	// Listen is the SIP TCP listen address, host:port.
	Listen string `yaml:"listen"`
	// Delimiter overrides the variable-field delimiter; first byte is
	// used. Empty means '|'.
	Delimiter string `yaml:"delimiter"`
	// Institution is the AO value this server speaks for.
	Institution string `yaml:"institution"`
	// Timeout and Retries are advertised in the ACS status response.
	Timeout int `yaml:"timeout"`
	Retries int `yaml:"retries"`
	// Renewal is the ACS renewal policy bit of the status response.
	Renewal bool `yaml:"renewal"`
	// ScreenMsg and PrintLine, when set, ride on the ACS status response.
	ScreenMsg string `yaml:"screen_msg"`
	PrintLine string `yaml:"print_line"`

	// MaxConnections caps concurrent SIP connections; zero means no cap.
	MaxConnections int `yaml:"max_connections"`
	// IdleTimeout closes connections with no traffic; zero disables.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// Backend selects the circulation store: "memory", "sqlite" or
	// "postgres".
	Backend string `yaml:"backend"`
	// DBPath is the sqlite database file.
	DBPath string `yaml:"db_path"`
	// DSN is the postgres connection string.
	DSN string `yaml:"dsn"`

	Accounts map[string]Account `yaml:"accounts"`

	Admin Admin `yaml:"admin"`
	SMTP  SMTP  `yaml:"smtp"`
	// OverdueCheckInterval drives the overdue-notice sweep; zero
	// disables it.
	OverdueCheckInterval time.Duration `yaml:"overdue_check_interval"`

	// OTLPEndpoint, when set, exports traces over OTLP gRPC. The
	// SIP_TRACE_STDOUT override prints spans instead.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:      ":6001",
		Institution: "UWOLS",
		Timeout:     60,
		Retries:     3,
		Renewal:     true,
		Backend:     "memory",
		IdleTimeout: 5 * time.Minute,
	}
}

// Load reads path, decodes it over the defaults, applies environment
// overrides and validates the result. An empty path loads defaults plus
// environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SIP_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("SIP_INSTITUTION"); v != "" {
		c.Institution = v
	}
	if v := os.Getenv("SIP_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("SIP_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("SIP_DSN"); v != "" {
		c.DSN = v
	}
	if v := os.Getenv("SIP_ADMIN_ADDR"); v != "" {
		c.Admin.Addr = v
	}
	if v := os.Getenv("SIP_JWT_SECRET"); v != "" {
		c.Admin.JWTSecret = v
	}
	if v := os.Getenv("SIP_OTLP_ENDPOINT"); v != "" {
		c.OTLPEndpoint = v
	}
	if v := os.Getenv("SIP_TRACE_STDOUT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.TraceStdout = b
		}
	}
	if v := os.Getenv("SIP_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConnections = n
		}
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address required")
	}
	switch c.Backend {
	case "memory":
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("config: sqlite backend requires db_path")
		}
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("config: postgres backend requires dsn")
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Timeout < 0 || c.Timeout > 999 {
		return fmt.Errorf("config: timeout must be 0-999, got %d", c.Timeout)
	}
	if c.Retries < 0 || c.Retries > 999 {
		return fmt.Errorf("config: retries must be 0-999, got %d", c.Retries)
	}
	if len(c.Delimiter) > 1 {
		return fmt.Errorf("config: delimiter must be a single character")
	}
	return nil
}

// Account looks up a terminal account by UID. The map key wins over any
// uid field inside the entry.
func (c *Config) Account(uid string) *Account {
	acct, ok := c.Accounts[uid]
	if !ok {
		return nil
	}
	acct.UID = uid
	return &acct
}
