package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) env {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	c, err := load([]string{"-jwt-key", "k"}, envOf(nil), io.Discard)
	require.NoError(t, err)
	require.Equal(t, ":8443", c.Addr)
	require.Equal(t, StoreMemory, c.Store)
	require.Equal(t, 1000, c.QueueMax)
	require.Equal(t, 3, c.QueueRetries)
	require.Equal(t, time.Second, c.QueueRetryDelay)
	require.Equal(t, 5, c.SyncCASRetries)
	require.Equal(t, 256, c.NotifyBuffer)
	require.Equal(t, 20, c.ConflictHistory)
	require.False(t, c.Insecure)
	require.Equal(t, "syncd.db", c.SQLitePath)
	require.Empty(t, c.WSAddr)
	require.Empty(t, c.LogFile)
	require.Empty(t, c.AdminUsers)
}

func TestLoad_AdminUsers(t *testing.T) {
	p := writeFile(t, "jwt_key: k\nadmin_users: [ops, root]\n")
	c, err := load([]string{"-config", p}, envOf(nil), io.Discard)
	require.NoError(t, err)
	require.Equal(t, []string{"ops", "root"}, c.AdminUsers)

	c, err = load([]string{"-config", p}, envOf(map[string]string{"SYNCD_ADMIN_USERS": "alice"}), io.Discard)
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, c.AdminUsers, "env overrides file")

	c, err = load([]string{"-jwt-key", "k", "-admin-users", " bob, ,carol "}, envOf(nil), io.Discard)
	require.NoError(t, err)
	require.Equal(t, []string{"bob", "carol"}, c.AdminUsers)
}

func TestLoad_EnvThenFlags(t *testing.T) {
	e := envOf(map[string]string{
		"SYNCD_JWT_KEY":           "from-env",
		"SYNCD_STORE":             "postgres",
		"SYNCD_DSN":               "postgres://x",
		"SYNCD_QUEUE_MAX":         "10",
		"SYNCD_QUEUE_RETRY_DELAY": "250ms",
		"SYNCD_INSECURE":          "true",
	})
	c, err := load([]string{"-queue-max", "20"}, e, io.Discard)
	require.NoError(t, err)
	require.Equal(t, "from-env", c.JWTKey)
	require.Equal(t, StorePostgres, c.Store)
	require.Equal(t, 20, c.QueueMax, "flag overrides env")
	require.Equal(t, 250*time.Millisecond, c.QueueRetryDelay)
	require.True(t, c.Insecure)
}

func TestLoad_BadEnv(t *testing.T) {
	_, err := load(nil, envOf(map[string]string{"SYNCD_QUEUE_MAX": "lots"}), io.Discard)
	require.ErrorContains(t, err, "SYNCD_QUEUE_MAX")
}

func TestLoad_Validation(t *testing.T) {
	cases := map[string][]string{
		"no key":          {},
		"postgres no dsn": {"-jwt-key", "k", "-store", "postgres"},
		"unknown store":   {"-jwt-key", "k", "-store", "redis"},
		"sqlite no path":  {"-jwt-key", "k", "-store", "sqlite", "-sqlite-path", ""},
		"ws same addr":    {"-jwt-key", "k", "-ws-addr", ":8443"},
		"bad log size":    {"-jwt-key", "k", "-log-file", "x.log", "-log-max-size", "0"},
		"zero queue":      {"-jwt-key", "k", "-queue-max", "0"},
		"neg history":     {"-jwt-key", "k", "-conflict-history", "-1"},
		"no tls":          {"-jwt-key", "k", "-tls-cert", ""},
		"unknown flag":    {"-jwt-key", "k", "-nope"},
	}
	for name, args := range cases {
		_, err := load(args, envOf(nil), io.Discard)
		require.Error(t, err, name)
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "syncd.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_FileLayering(t *testing.T) {
	p := writeFile(t, `
jwt_key: from-file
store: sqlite
sqlite_path: /var/lib/syncd/state.db
ws_addr: ":8080"
queue_max: 50
queue_retry_delay: 2s
conflict_history: 7
`)
	e := envOf(map[string]string{"SYNCD_QUEUE_MAX": "60"})

	c, err := load([]string{"-config", p, "-conflict-history", "9"}, e, io.Discard)
	require.NoError(t, err)
	require.Equal(t, "from-file", c.JWTKey)
	require.Equal(t, StoreSQLite, c.Store)
	require.Equal(t, "/var/lib/syncd/state.db", c.SQLitePath)
	require.Equal(t, ":8080", c.WSAddr)
	require.Equal(t, 60, c.QueueMax, "env overrides file")
	require.Equal(t, 2*time.Second, c.QueueRetryDelay)
	require.Equal(t, 9, c.ConflictHistory, "flag overrides file")
	require.Equal(t, 256, c.NotifyBuffer, "absent key keeps default")
}

func TestLoad_FileFromEnv(t *testing.T) {
	p := writeFile(t, "jwt_key: k\naddr: \":9000\"\n")
	c, err := load(nil, envOf(map[string]string{"SYNCD_CONFIG": p}), io.Discard)
	require.NoError(t, err)
	require.Equal(t, ":9000", c.Addr)
}

func TestLoad_FileErrors(t *testing.T) {
	_, err := load([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, envOf(nil), io.Discard)
	require.ErrorContains(t, err, "config file")

	p := writeFile(t, "jwt_key: k\nqueue_maximum: 5\n")
	_, err = load([]string{"--config=" + p}, envOf(nil), io.Discard)
	require.ErrorContains(t, err, "queue_maximum")
}

func TestReadFile_Empty(t *testing.T) {
	c, err := ReadFile(writeFile(t, ""), Defaults())
	require.NoError(t, err)
	require.Equal(t, Defaults(), c)
}

func TestConfigPath(t *testing.T) {
	none := envOf(nil)
	require.Equal(t, "a.yaml", configPath([]string{"-config", "a.yaml"}, none))
	require.Equal(t, "b.yaml", configPath([]string{"-dev", "--config=b.yaml"}, none))
	require.Equal(t, "", configPath([]string{"--", "-config", "c.yaml"}, none))
	require.Equal(t, "", configPath([]string{"config", "d.yaml"}, none))
	require.Equal(t, "e.yaml", configPath(nil, envOf(map[string]string{"SYNCD_CONFIG": "e.yaml"})))
}
