package coprocessord

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/fhecoproc-test
callback_secret: topsecret
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":8087", cfg.ListenAddress)
	require.Equal(t, oracleModeSim, cfg.OracleMode)
	require.Equal(t, filepath.Join("/tmp/fhecoproc-test", "journal.db"), cfg.JournalPath)
	require.Equal(t, "oracle", cfg.CallbackAPIKey)
	require.Equal(t, 15*time.Second, cfg.RequestTimeout)
	require.Equal(t, time.Minute, cfg.ExpirySweep)
}

func TestLoadConfigRequiresCallbackSecret(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/fhecoproc-test
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigHTTPOracleValidation(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/fhecoproc-test
callback_secret: topsecret
oracle_mode: http
`)
	_, err := LoadConfig(path)
	require.Error(t, err)

	path = writeConfig(t, `
data_dir: /tmp/fhecoproc-test
callback_secret: topsecret
oracle_mode: http
oracle_endpoint: https://oracle.internal/decrypt
oracle_signer: fhe1qyqszqgpqyqszqgpqyqszqgpqyqszqgp25ec9j
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, oracleModeHTTP, cfg.OracleMode)
}

func TestLoadConfigRejectsUnknownOracleMode(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/fhecoproc-test
callback_secret: topsecret
oracle_mode: quantum
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigSimSignerKeyFromEnv(t *testing.T) {
	t.Setenv("FHECOPROC_TEST_SIM_KEY", "abcd1234")
	path := writeConfig(t, `
data_dir: /tmp/fhecoproc-test
callback_secret: topsecret
sim_signer_key_env: FHECOPROC_TEST_SIM_KEY
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "abcd1234", cfg.SimSignerKey)
}
