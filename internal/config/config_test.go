package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/mt-route-daemon/internal/decision"
	"github.com/Sh00ty/mt-route-daemon/pkg/routing"
)

func setRequired(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"GCP_PROJECT":           "proj",
		"LOCAL_GCP_REGION":      "us-central1",
		"REMOTE_GCP_REGION":     "us-east4",
		"LOCAL_BGP_ROUTER":      "local-router",
		"REMOTE_BGP_ROUTER":     "remote-router",
		"LOCAL_BGP_REGION":      "us-central1",
		"REMOTE_BGP_REGION":     "us-east4",
		"BGP_PEER_PROJECT":      "net-proj",
		"PRIMARY_PREFIX":        "203.0.113.0/24",
		"SECONDARY_PREFIX":      "198.51.100.0/24",
		"CLOUDFLARE_ACCOUNT_ID": "acc",
		"CLOUDFLARE_API_TOKEN":  "token",
		"DESCRIPTION_SUBSTRING": "mt-gcp",
		"USE_WORKLOAD_IDENTITY": "true",
	} {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.CheckInterval)
	assert.Equal(t, 5, cfg.HealthCheckWindow)
	assert.Equal(t, 3, cfg.HealthCheckThreshold)
	assert.Equal(t, 120*time.Second, cfg.MinStateDwellTime)
	assert.Equal(t, []routing.State{routing.AllHealthy, routing.BothUnhealthy}, cfg.DwellExceptions())
	assert.Equal(t, 10, cfg.MaxConsecutiveFailures)
	assert.Equal(t, uint32(5), cfg.CircuitBreakerThreshold)
	assert.Equal(t, 300*time.Second, cfg.CircuitBreakerTimeout)
	assert.False(t, cfg.RunPassive)
	assert.Empty(t, cfg.Kafka())
	assert.False(t, cfg.JournalEnabled())

	_, err = decision.NewEngine(cfg.Engine())
	assert.NoError(t, err)
}

func TestEmptyExceptionListDisablesExceptions(t *testing.T) {
	setRequired(t)
	t.Setenv("DWELL_TIME_EXCEPTION_STATES", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.DwellExceptions())
}

func TestValidationReportsEveryProblem(t *testing.T) {
	setRequired(t)
	t.Setenv("GCP_PROJECT", "")
	t.Setenv("PRIMARY_PREFIX", "not-a-prefix")
	t.Setenv("HEALTH_CHECK_THRESHOLD", "5")
	t.Setenv("CLOUDFLARE_PRIMARY_PRIORITY", "0")
	t.Setenv("DWELL_TIME_EXCEPTION_STATES", "1,9")

	_, err := Load()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "GCP_PROJECT")
	assert.Contains(t, msg, "invalid PRIMARY_PREFIX")
	assert.Contains(t, msg, "HEALTH_CHECK_THRESHOLD (5) must be less than HEALTH_CHECK_WINDOW (5)")
	assert.Contains(t, msg, "CLOUDFLARE_PRIMARY_PRIORITY")
	assert.Contains(t, msg, "DWELL_TIME_EXCEPTION_STATES")
}

func TestAuthenticationIsRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("USE_WORKLOAD_IDENTITY", "false")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gcp authentication not configured")

	creds := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(creds, []byte("{}"), 0o600))
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", creds)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, creds, cfg.ComputeClient().CredentialsFile)
}

func TestAsymmetricThresholdsAreChecked(t *testing.T) {
	setRequired(t)
	t.Setenv("ASYMMETRIC_HYSTERESIS", "true")
	t.Setenv("HYSTERESIS_HOLD_THRESHOLD", "4")
	t.Setenv("HYSTERESIS_RECOVER_THRESHOLD", "2")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HYSTERESIS_HOLD_THRESHOLD (4) must not exceed")
}

func TestLoadReadsEnvFile(t *testing.T) {
	setRequired(t)
	t.Setenv("GCP_PROJECT", "")
	os.Unsetenv("GCP_PROJECT")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("GCP_PROJECT=from-file\nKAFKA_BROKERS=k1:9092, k2:9092\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("KAFKA_BROKERS")
	})

	cfg, err := Load(envFile, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.GCPProject)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka())
}

func TestPolicyAttemptsPerUpstream(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint(5), cfg.Policy(PolicyGCPHealth).Attempts)
	assert.Equal(t, uint(4), cfg.Policy(PolicyGCPBGP).Attempts)
	assert.Equal(t, uint(2), cfg.Policy(PolicyGCPAdvertisement).Attempts)
	assert.Equal(t, uint(3), cfg.Policy(PolicyCloudflare).Attempts)
	assert.NoError(t, cfg.Policy(PolicyCloudflare).Validate())
}
