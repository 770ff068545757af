package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "be-proc-approvals", cfg.Service.Name)
	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, 9086, cfg.Server.GRPCPort)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
	assert.Equal(t, "default", cfg.Policy.Source)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Sweep.Interval)
	assert.False(t, cfg.Temporal.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
database:
  host: db.internal
policy:
  source: file
  file: /etc/approvals/policy.yaml
  reload_interval: 30s
`), 0o600))

	t.Setenv("APPROVALS_DATABASE_HOST", "db.override")
	t.Setenv("APPROVALS_SWEEP_INTERVAL", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "db.override", cfg.Database.Host)
	assert.Equal(t, "/etc/approvals/policy.yaml", cfg.Policy.File)
	assert.Equal(t, 30*time.Second, cfg.Policy.ReloadInterval)
	assert.Equal(t, 90*time.Second, cfg.Sweep.Interval)
}

func TestValidate(t *testing.T) {
	t.Setenv("APPROVALS_POLICY_SOURCE", "file")
	_, err := Load("")
	assert.ErrorContains(t, err, "policy.file")

	t.Setenv("APPROVALS_POLICY_SOURCE", "etcd")
	_, err = Load("")
	assert.ErrorContains(t, err, "unknown policy.source")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateDatabaseDriver(t *testing.T) {
	t.Setenv("APPROVALS_DATABASE_DRIVER", "sqlite")
	_, err := Load("")
	assert.ErrorContains(t, err, "unknown database.driver")

	t.Setenv("APPROVALS_DATABASE_DRIVER", "memory")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)

	t.Setenv("APPROVALS_POLICY_SOURCE", "database")
	_, err = Load("")
	assert.ErrorContains(t, err, "needs database.driver postgres")
}
