package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-clinic-session/internal/config"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{
		"APP_NAME", "ENV", "LOG_LEVEL",
		"API_BASE_URL", "PATIENT_API_BASE_URL", "HTTP_TIMEOUT",
		"CREDENTIAL_STORE", "CREDENTIAL_DB_PATH", "CREDENTIAL_PASSPHRASE",
	} {
		t.Setenv(v, "")
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessionctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	c, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	require.Equal(t, "Clinic Session", c.GetAppName())
	require.Equal(t, "DEV", c.GetEnv())
	require.Equal(t, "info", c.GetLogLevel())
	require.Equal(t, "http://localhost:3001/api", c.GetAPIBaseURL())
	require.Equal(t, c.GetAPIBaseURL(), c.GetPatientAPIBaseURL())
	require.Equal(t, 30*time.Second, c.GetHTTPTimeout())
	require.Equal(t, config.StoreSQLite, c.GetCredentialStore())
	require.Equal(t, "./data/credentials.db", c.GetCredentialDBPath())
	require.Empty(t, c.GetCredentialPassphrase())
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
app_name = "Front Desk"
log_level = "DEBUG"

[api]
base_url = "https://clinic.example.com/api/"
patient_base_url = "https://patients.example.com/api"
timeout = "5s"

[credentials]
store = "memory"
db_path = "/tmp/creds.db"
passphrase = "hunter2"
`)
	c, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "Front Desk", c.GetAppName())
	require.Equal(t, "debug", c.GetLogLevel())
	require.Equal(t, "https://clinic.example.com/api", c.GetAPIBaseURL())
	require.Equal(t, "https://patients.example.com/api", c.GetPatientAPIBaseURL())
	require.Equal(t, 5*time.Second, c.GetHTTPTimeout())
	require.Equal(t, config.StoreMemory, c.GetCredentialStore())
	require.Equal(t, "/tmp/creds.db", c.GetCredentialDBPath())
	require.Equal(t, "hunter2", c.GetCredentialPassphrase())
}

func TestLoad_EnvironmentWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_BASE_URL", "http://env.example.com/api")
	t.Setenv("HTTP_TIMEOUT", "not-a-duration")
	t.Setenv("CREDENTIAL_STORE", "something-else")

	path := writeConfig(t, `
[api]
base_url = "https://file.example.com/api"
`)
	c, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "http://env.example.com/api", c.GetAPIBaseURL())
	require.Equal(t, 30*time.Second, c.GetHTTPTimeout())
	require.Equal(t, config.StoreSQLite, c.GetCredentialStore())
}

func TestLoad_InvalidFile(t *testing.T) {
	clearEnv(t)

	_, err := config.Load(writeConfig(t, "app_name = ["))
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "PROD")

	c := config.New()
	require.Equal(t, "PROD", c.GetEnv())
	require.Equal(t, "http://localhost:3001/api", c.GetAPIBaseURL())
}
