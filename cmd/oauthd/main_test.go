package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/amoylab/oauthd/internal/auth/session"
	"github.com/amoylab/oauthd/internal/common/config"
)

const testSecretKey = "0123456789abcdef0123456789abcdef"

func captureOutput(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = old }()

	f()
	_ = w.Close()
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// execute runs the root command with args and returns what the command
// wrote to its output stream
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// flag variables outlive a single Execute
	resetFlags := func() {
		signalRunning = false
		revokeClient = ""
		sessionEmail = ""
		extendBy = time.Hour
		pidFile = ""
	}
	resetFlags()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs([]string{})
		resetFlags()
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oauthd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func sqliteConfig(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "oauthd.db")
	return writeConfig(t, `
logger:
  level: error
storage:
  type: db
  database:
    type: sqlite
    dbname: `+strings.ReplaceAll(dbPath, "\\", "\\\\")+`
session:
  secret_key: `+testSecretKey+`
oauth:
  clients:
    - id: c1
      name: App
      secret: s3cret
      redirect_uris: ["https://app/cb"]
      allowed_scopes: ["read"]
  users:
    - id: u1
      email: u1@example.com
      name: User One
`)
}

// seedTokens opens the configured store directly and issues tokens
func seedTokens(t *testing.T, path string, n int) []string {
	t.Helper()
	cfg, _, err := config.LoadConfig(path)
	require.NoError(t, err)
	a, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	var out []string
	for i := 0; i < n; i++ {
		tok, err := a.tokens.CreateToken(context.Background(), "u1", "c1", "read", 0)
		require.NoError(t, err)
		out = append(out, tok.AccessToken)
	}
	return out
}

func TestRootCmd_Version(t *testing.T) {
	t.Cleanup(func() { rootCmd.SetArgs([]string{}) })
	rootCmd.SetArgs([]string{"version"})
	out := captureOutput(func() { _ = rootCmd.Execute() })
	assert.Contains(t, out, "oauthd version")
}

func TestCommandStructure(t *testing.T) {
	found := make(map[string]*cobra.Command)
	for _, cmd := range rootCmd.Commands() {
		found[cmd.Name()] = cmd
	}
	for _, name := range []string{"version", "test", "serve", "cleanup", "token", "session", "client"} {
		assert.Contains(t, found, name)
	}

	var subs []string
	for _, cmd := range found["token"].Commands() {
		subs = append(subs, cmd.Name())
	}
	assert.ElementsMatch(t, []string{"extend", "revoke-user", "revoke-client"}, subs)

	flags := rootCmd.PersistentFlags()
	assert.NotNil(t, flags.Lookup("conf"))
	assert.NotNil(t, flags.Lookup("pid"))
}

func TestTestCommand(t *testing.T) {
	valid := writeConfig(t, "logger:\n  level: error\n")
	_, err := execute(t, "test", "--conf", valid)
	assert.NoError(t, err)

	invalid := writeConfig(t, "storage:\n  type: mongo\n")
	_, err = execute(t, "test", "--conf", invalid)
	assert.Error(t, err)
}

func TestClientHashSecret(t *testing.T) {
	out, err := execute(t, "client", "hash-secret", "s3cret")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}

func TestSessionIssue(t *testing.T) {
	path := sqliteConfig(t)
	out, err := execute(t, "session", "issue", "u1", "--email", "u1@example.com", "--conf", path)
	require.NoError(t, err)

	svc, err := session.NewService(session.Config{SecretKey: testSecretKey, Duration: time.Hour})
	require.NoError(t, err)
	claims, err := svc.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID())
	assert.Equal(t, "u1@example.com", claims.Email)
}

func TestSessionIssue_RequiresSecret(t *testing.T) {
	path := writeConfig(t, "logger:\n  level: error\n")
	_, err := execute(t, "session", "issue", "u1", "--conf", path)
	assert.Error(t, err)
}

func TestTokenCommands(t *testing.T) {
	path := sqliteConfig(t)
	tokens := seedTokens(t, path, 3)

	out, err := execute(t, "token", "extend", tokens[0], "--by", "2h", "--conf", path)
	require.NoError(t, err)
	assert.Contains(t, out, "token now expires at")

	_, err = execute(t, "token", "extend", "unknown", "--conf", path)
	assert.Error(t, err)

	out, err = execute(t, "token", "revoke-user", "u1", "--client", "other", "--conf", path)
	require.NoError(t, err)
	assert.Equal(t, "revoked 0 tokens\n", out)

	out, err = execute(t, "token", "revoke-user", "u1", "--conf", path)
	require.NoError(t, err)
	assert.Equal(t, "revoked 3 tokens\n", out)

	out, err = execute(t, "token", "revoke-client", "c1", "--conf", path)
	require.NoError(t, err)
	assert.Equal(t, "revoked 0 tokens\n", out)
}

func TestCleanupCommand(t *testing.T) {
	path := sqliteConfig(t)
	out, err := execute(t, "cleanup", "--conf", path)
	require.NoError(t, err)
	assert.Equal(t, "removed 0 tokens and 0 codes\n", out)
}

func TestCleanupCommand_Signal(t *testing.T) {
	var (
		gotPath string
		gotSig  syscall.Signal
	)
	old := sendSignal
	sendSignal = func(path string, sig syscall.Signal) error {
		gotPath, gotSig = path, sig
		return nil
	}
	t.Cleanup(func() { sendSignal = old })

	path := writeConfig(t, "logger:\n  level: error\n")
	pid := filepath.Join(t.TempDir(), "oauthd.pid")
	out, err := execute(t, "cleanup", "--signal", "--pid", pid, "--conf", path)
	require.NoError(t, err)
	assert.Equal(t, pid, gotPath)
	assert.Equal(t, syscall.SIGUSR1, gotSig)
	assert.Contains(t, out, "cleanup requested")
}
