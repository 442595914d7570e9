package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
api:
  port: 9090
  service_jurisdictions:
    test_service: BULKSCAN
storage:
  containers:
    - name: bulkscan
      jurisdiction: BULKSCAN
    - name: bulkscan-staging
      jurisdiction: BULKSCAN
      test: true
  lease_ttl_seconds: 30
signature:
  algorithm: sha256withrsa
  public_key_file: /keys/bulkscan.pub
upload:
  max_failures: 3
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, 30, cfg.Storage.LeaseTTLSeconds)
	assert.Equal(t, 3, cfg.Upload.MaxFailures)
	assert.Equal(t, []string{"bulkscan", "bulkscan-staging"}, cfg.ContainerNames())

	// defaults fill unset sections
	assert.Equal(t, 5, cfg.Ingestion.ProcessingDelayMinutes)
	assert.Equal(t, 30000, cfg.Ingestion.IntervalMs)
	assert.Equal(t, 120, cfg.Reports.CacheTTLSeconds)
}

func TestLoadConfigEnvOverlay(t *testing.T) {
	path := writeConfig(t, `
storage:
  containers:
    - name: bulkscan
      jurisdiction: BULKSCAN
signature:
  algorithm: none
`)

	t.Setenv("BSP_DB_DSN", "postgres://bulk_scan@db:5432/bulk_scan")
	t.Setenv("BSP_S2S_SECRET", "shh")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://bulk_scan@db:5432/bulk_scan", cfg.Database.DSN)
	assert.Equal(t, "shh", cfg.API.S2SSecret)
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "no containers",
			body: "signature:\n  algorithm: none\n",
		},
		{
			name: "container missing jurisdiction",
			body: `
storage:
  containers:
    - name: bulkscan
signature:
  algorithm: none
`,
		},
		{
			name: "rsa without public key",
			body: `
storage:
  containers:
    - name: bulkscan
      jurisdiction: BULKSCAN
signature:
  algorithm: sha256withrsa
`,
		},
		{
			name: "lease ttl out of range",
			body: `
storage:
  containers:
    - name: bulkscan
      jurisdiction: BULKSCAN
  lease_ttl_seconds: 5
signature:
  algorithm: none
`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestJurisdictionLookup(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{Containers: []ContainerConfig{
		{Name: "bulkscan", Jurisdiction: "BULKSCAN"},
		{Name: "sscs-staging", Jurisdiction: "SSCS", Test: true},
	}}}

	j, ok := cfg.Jurisdiction("bulkscan")
	require.True(t, ok)
	assert.Equal(t, "BULKSCAN", j)

	_, ok = cfg.Jurisdiction("unknown")
	assert.False(t, ok)

	assert.True(t, cfg.IsTestContainer("sscs-staging"))
	assert.False(t, cfg.IsTestContainer("bulkscan"))
}
