package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sip.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":6001", cfg.Listen)
	require.Equal(t, "memory", cfg.Backend)
	require.Equal(t, 60, cfg.Timeout)
	require.True(t, cfg.Renewal)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":7031"
institution: "MAINLIB"
delimiter: "^"
timeout: 120
retries: 5
max_connections: 32
idle_timeout: 2m
backend: sqlite
db_path: /tmp/circ.db
accounts:
  term1:
    password: secret
    institution: MAINLIB
    print_width: 40
admin:
  addr: ":8080"
  jwt_secret: hush
  users:
    - username: admin
      password: "$2a$10$notarealhash"
      role: admin
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7031", cfg.Listen)
	require.Equal(t, "MAINLIB", cfg.Institution)
	require.Equal(t, "^", cfg.Delimiter)
	require.Equal(t, 120, cfg.Timeout)
	require.Equal(t, 32, cfg.MaxConnections)
	require.Equal(t, 2*time.Minute, cfg.IdleTimeout)
	require.Equal(t, "sqlite", cfg.Backend)

	acct := cfg.Account("term1")
	require.NotNil(t, acct)
	require.Equal(t, "term1", acct.UID)
	require.Equal(t, "secret", acct.Password)
	require.Equal(t, 40, acct.PrintWidth)
	require.Nil(t, cfg.Account("nobody"))

	require.Equal(t, ":8080", cfg.Admin.Addr)
	require.Len(t, cfg.Admin.Users, 1)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIP_LISTEN", ":9999")
	t.Setenv("SIP_INSTITUTION", "ENVLIB")
	t.Setenv("SIP_MAX_CONNECTIONS", "7")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.Listen)
	require.Equal(t, "ENVLIB", cfg.Institution)
	require.Equal(t, 7, cfg.MaxConnections)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"unknown backend", func(c *Config) { c.Backend = "oracle" }},
		{"sqlite without path", func(c *Config) { c.Backend = "sqlite"; c.DBPath = "" }},
		{"postgres without dsn", func(c *Config) { c.Backend = "postgres"; c.DSN = "" }},
		{"timeout too large", func(c *Config) { c.Timeout = 1000 }},
		{"multibyte delimiter", func(c *Config) { c.Delimiter = "||" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mod(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "listen: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
}
