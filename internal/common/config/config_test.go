package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEnv(t *testing.T) {
	t.Setenv("X_A", "va")
	in := []byte("a: ${X_A:da}\nb: ${X_B:db}\nc: ${X_C}")
	out := string(resolveEnv(in))
	assert.Contains(t, out, "a: va")
	assert.Contains(t, out, "b: db")
	assert.True(t, strings.HasSuffix(out, "c: "))
}

const yamlConfig = `
server:
  port: 8089
  issuer: https://auth.example.com
storage:
  type: db
  database:
    type: sqlite
    dbname: ${X_DB:/tmp/oauthd.db}
oauth:
  access_token_ttl: 30m
  clients:
    - id: c1
      name: Demo
      secret: s3cret
      redirect_uris: ["https://app/cb"]
      allowed_scopes: ["read"]
  users:
    - id: u1
      email: u1@example.com
rate_limit:
  policies:
    token:
      window: 2m
      max_requests: 5
cleanup:
  interval: 1m
`

func TestLoadConfig_YAML(t *testing.T) {
	tmp := t.TempDir()
	old, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(old) })
	require.NoError(t, os.Chdir(tmp))

	file := filepath.Join(tmp, "oauthd.yaml")
	require.NoError(t, os.WriteFile(file, []byte(yamlConfig), 0o644))
	t.Setenv("X_DB", "/data/oauthd.db")

	cfg, path, err := LoadConfig("oauthd.yaml")
	require.NoError(t, err)
	realFile, _ := filepath.EvalSymlinks(file)
	realPath, _ := filepath.EvalSymlinks(path)
	assert.Equal(t, realFile, realPath)

	assert.Equal(t, 8089, cfg.Server.Port)
	assert.Equal(t, "/data/oauthd.db", cfg.Storage.Database.DBName)
	assert.Equal(t, 30*time.Minute, cfg.OAuth.AccessTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.OAuth.CodeTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.OAuth.RefreshWindow)
	assert.Equal(t, PolicyConfig{Window: 2 * time.Minute, MaxRequests: 5}, cfg.RateLimit.Policies[BucketToken])
	assert.Equal(t, DefaultPolicies[BucketAuthorize], cfg.RateLimit.Policies[BucketAuthorize])
	assert.Equal(t, time.Minute, cfg.Cleanup.Interval)
	assert.Equal(t, 100, cfg.Cleanup.BatchSize)
	assert.True(t, cfg.RateLimit.IsEnabled())
	assert.Zero(t, cfg.RateLimit.SweepInterval)
	assert.True(t, cfg.OAuth.ShouldRevokeOnCodeReuse())
	require.Len(t, cfg.OAuth.Clients, 1)
	assert.Equal(t, []string{"https://app/cb"}, cfg.OAuth.Clients[0].RedirectURIs)
}

func TestParse_TOML(t *testing.T) {
	raw := `
[server]
port = 9000

[storage]
type = "memory"

[rate_limit]
enabled = false

[[oauth.clients]]
id = "c1"
secret_hash = "$2a$10$abcdefghijklmnopqrstuv"
redirect_uris = ["https://app/cb"]
`
	cfg, err := Parse([]byte(raw), ".toml")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.False(t, cfg.RateLimit.IsEnabled())
	require.Len(t, cfg.OAuth.Clients, 1)
	assert.Equal(t, "c1", cfg.OAuth.Clients[0].ID)
}

func TestValidate_CollectsProblems(t *testing.T) {
	raw := `
storage:
  type: cassandra
rate_limit:
  store: redis
  sweep_interval: -1s
cleanup:
  mode: sometimes
session:
  secret_key: short
oauth:
  clients:
    - id: c1
      redirect_uris: ["/relative"]
    - id: c1
      secret: x
      redirect_uris: ["https://app/cb#frag"]
`
	_, err := Parse([]byte(raw), ".yaml")
	require.Error(t, err)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	msg := err.Error()
	assert.Contains(t, msg, `unsupported storage.type "cassandra"`)
	assert.Contains(t, msg, "rate_limit.redis.addr is required")
	assert.Contains(t, msg, "rate_limit.sweep_interval must not be negative")
	assert.Contains(t, msg, `unsupported cleanup.mode "sometimes"`)
	assert.Contains(t, msg, "session.secret_key")
	assert.Contains(t, msg, `client "c1" needs secret or secret_hash`)
	assert.Contains(t, msg, "must be absolute")
	assert.Contains(t, msg, `duplicate client id "c1"`)
	assert.Contains(t, msg, "fragment")
}

func TestGetDSN(t *testing.T) {
	pg := DatabaseConfig{Type: "postgres", User: "u", Password: "p", Host: "h", Port: 5432, DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", pg.GetDSN())

	my := DatabaseConfig{Type: "mysql", User: "u", Password: "p", Host: "h", Port: 3306, DBName: "d"}
	assert.Equal(t, "u:p@tcp(h:3306)/d?charset=utf8mb4&parseTime=True&loc=Local", my.GetDSN())

	lite := DatabaseConfig{Type: "sqlite", DBName: ":memory:"}
	assert.Equal(t, ":memory:", lite.GetDSN())

	assert.Equal(t, "", (&DatabaseConfig{Type: "oracle"}).GetDSN())
}

func TestShippedConfigParses(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "..", "configs", "oauthd.yaml"))
	require.NoError(t, err)

	cfg, err := Parse(resolveEnv(data), ".yaml")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.OAuth.CodeTTL)
	assert.Equal(t, 720*time.Hour, cfg.OAuth.RefreshWindow)
	assert.True(t, cfg.OAuth.ShouldRevokeOnCodeReuse())
	require.Len(t, cfg.OAuth.Clients, 1)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Policies[BucketAuthorize].Window)
	assert.Equal(t, 10, cfg.RateLimit.Policies[BucketRevoke].MaxRequests)
}
