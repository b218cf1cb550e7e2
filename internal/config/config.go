package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/vrischmann/envconfig"

	"github.com/Sh00ty/mt-route-daemon/pkg/routing"
)

const (
	dwellExceptionsEnv     = "DWELL_TIME_EXCEPTION_STATES"
	defaultDwellExceptions = "1,4"
)

type Config struct {
	LoggerLevel string `envconfig:"LOGGER_LEVEL,default=info"`
	LogFormat   string `envconfig:"LOG_FORMAT,default=json"`

	GCPProject          string `envconfig:"GCP_PROJECT,optional"`
	GCPCredentials      string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS,optional"`
	UseWorkloadIdentity bool   `envconfig:"USE_WORKLOAD_IDENTITY,default=false"`
	GCPEndpoint         string `envconfig:"GCP_ENDPOINT,optional"`

	LocalRegion     string `envconfig:"LOCAL_GCP_REGION,optional"`
	RemoteRegion    string `envconfig:"REMOTE_GCP_REGION,optional"`
	LocalBGPRouter  string `envconfig:"LOCAL_BGP_ROUTER,optional"`
	RemoteBGPRouter string `envconfig:"REMOTE_BGP_ROUTER,optional"`
	LocalBGPRegion  string `envconfig:"LOCAL_BGP_REGION,optional"`
	RemoteBGPRegion string `envconfig:"REMOTE_BGP_REGION,optional"`
	BGPPeerProject  string `envconfig:"BGP_PEER_PROJECT,optional"`

	PrimaryPrefix   string `envconfig:"PRIMARY_PREFIX,optional"`
	SecondaryPrefix string `envconfig:"SECONDARY_PREFIX,optional"`

	CloudflareAccountID         string `envconfig:"CLOUDFLARE_ACCOUNT_ID,optional"`
	CloudflareAPIToken          string `envconfig:"CLOUDFLARE_API_TOKEN,optional"`
	CloudflareBaseURL           string `envconfig:"CLOUDFLARE_BASE_URL,optional"`
	DescriptionSubstring        string `envconfig:"DESCRIPTION_SUBSTRING,optional"`
	CloudflarePrimaryPriority   int    `envconfig:"CLOUDFLARE_PRIMARY_PRIORITY,default=100"`
	CloudflareSecondaryPriority int    `envconfig:"CLOUDFLARE_SECONDARY_PRIORITY,default=200"`

	CheckInterval          time.Duration `envconfig:"CHECK_INTERVAL,default=60s"`
	MaxConsecutiveFailures int           `envconfig:"MAX_CONSECUTIVE_FAILURES,default=10"`

	MaxRetriesHealthCheck   uint          `envconfig:"MAX_RETRIES_HEALTH_CHECK,default=5"`
	MaxRetriesBGPCheck      uint          `envconfig:"MAX_RETRIES_BGP_CHECK,default=4"`
	MaxRetriesBGPUpdate     uint          `envconfig:"MAX_RETRIES_BGP_UPDATE,default=2"`
	MaxRetriesCloudflare    uint          `envconfig:"MAX_RETRIES_CLOUDFLARE,default=3"`
	InitialBackoff          time.Duration `envconfig:"INITIAL_BACKOFF,default=1s"`
	MaxBackoff              time.Duration `envconfig:"MAX_BACKOFF,default=60s"`
	CircuitBreakerThreshold uint32        `envconfig:"CIRCUIT_BREAKER_THRESHOLD,default=5"`
	CircuitBreakerTimeout   time.Duration `envconfig:"CIRCUIT_BREAKER_TIMEOUT,default=300s"`

	RunPassive bool `envconfig:"RUN_PASSIVE,default=false"`

	State2VerificationThreshold int `envconfig:"STATE_2_VERIFICATION_THRESHOLD,default=2"`
	State3VerificationThreshold int `envconfig:"STATE_3_VERIFICATION_THRESHOLD,default=2"`
	State4VerificationThreshold int `envconfig:"STATE_4_VERIFICATION_THRESHOLD,default=2"`

	HealthCheckWindow          int  `envconfig:"HEALTH_CHECK_WINDOW,default=5"`
	HealthCheckThreshold       int  `envconfig:"HEALTH_CHECK_THRESHOLD,default=3"`
	AsymmetricHysteresis       bool `envconfig:"ASYMMETRIC_HYSTERESIS,default=false"`
	HysteresisHoldThreshold    int  `envconfig:"HYSTERESIS_HOLD_THRESHOLD,default=2"`
	HysteresisRecoverThreshold int  `envconfig:"HYSTERESIS_RECOVER_THRESHOLD,default=4"`

	MinStateDwellTime time.Duration `envconfig:"MIN_STATE_DWELL_TIME,default=120s"`
	// DwellExceptionStates is a comma separated list of state codes; see Load.
	DwellExceptionStates string `envconfig:"DWELL_TIME_EXCEPTION_STATES,optional"`

	GCPAPITimeout        time.Duration `envconfig:"GCP_API_TIMEOUT,default=30s"`
	CloudflareAPITimeout time.Duration `envconfig:"CLOUDFLARE_API_TIMEOUT,default=10s"`

	ProbeAddr  string `envconfig:"PROBE_ADDR,default=0.0.0.0:8080"`
	StatsdAddr string `envconfig:"STATSD_ADDR,optional"`

	KafkaBrokers string `envconfig:"KAFKA_BROKERS,optional"`
	KafkaTopic   string `envconfig:"KAFKA_TOPIC,default=mt-route-daemon.events"`

	DatabaseHost     string `envconfig:"DATABASE_HOST,optional"`
	DatabaseUser     string `envconfig:"DATABASE_USER,optional"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD,optional"`
	DatabasePort     uint16 `envconfig:"DATABASE_PORT,default=5432"`
	DatabaseName     string `envconfig:"DATABASE_NAME,default=postgres"`

	EventBuffer        int           `envconfig:"EVENT_BUFFER,default=256"`
	EventRetryInterval time.Duration `envconfig:"EVENT_RETRY_INTERVAL,default=30s"`
}

// Load reads an optional .env file (only variables not already set are
// taken from it) and then the environment.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		err := godotenv.Load(f)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := Config{}
	if err := envconfig.Init(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read app config: %w", err)
	}
	if _, set := os.LookupEnv(dwellExceptionsEnv); !set {
		cfg.DwellExceptionStates = defaultDwellExceptions
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DwellExceptions returns the parsed exception states; Validate rejects
// a list that does not parse.
func (c Config) DwellExceptions() []routing.State {
	states, _ := routing.ParseStates(c.DwellExceptionStates)
	return states
}

// Kafka returns the broker list, empty when event streaming is off.
func (c Config) Kafka() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (c Config) JournalEnabled() bool {
	return c.DatabaseHost != ""
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	required := []struct {
		name  string
		value string
	}{
		{"GCP_PROJECT", c.GCPProject},
		{"LOCAL_GCP_REGION", c.LocalRegion},
		{"REMOTE_GCP_REGION", c.RemoteRegion},
		{"LOCAL_BGP_ROUTER", c.LocalBGPRouter},
		{"REMOTE_BGP_ROUTER", c.RemoteBGPRouter},
		{"LOCAL_BGP_REGION", c.LocalBGPRegion},
		{"REMOTE_BGP_REGION", c.RemoteBGPRegion},
		{"BGP_PEER_PROJECT", c.BGPPeerProject},
		{"PRIMARY_PREFIX", c.PrimaryPrefix},
		{"SECONDARY_PREFIX", c.SecondaryPrefix},
		{"CLOUDFLARE_ACCOUNT_ID", c.CloudflareAccountID},
		{"CLOUDFLARE_API_TOKEN", c.CloudflareAPIToken},
		{"DESCRIPTION_SUBSTRING", c.DescriptionSubstring},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("missing required environment variable %s", r.name))
		}
	}

	if !c.UseWorkloadIdentity && c.GCPCredentials == "" && c.GCPEndpoint == "" {
		errs = append(errs, errors.New("gcp authentication not configured: set USE_WORKLOAD_IDENTITY=true or GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if !c.UseWorkloadIdentity && c.GCPCredentials != "" {
		if _, err := os.Stat(c.GCPCredentials); err != nil {
			errs = append(errs, fmt.Errorf("gcp credentials file: %w", err))
		}
	}

	for name, prefix := range map[string]string{"PRIMARY_PREFIX": c.PrimaryPrefix, "SECONDARY_PREFIX": c.SecondaryPrefix} {
		if prefix == "" {
			continue
		}
		if _, err := netip.ParsePrefix(prefix); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
		}
	}

	errs = append(errs,
		intRange("CLOUDFLARE_PRIMARY_PRIORITY", c.CloudflarePrimaryPriority, 1, 1000),
		intRange("CLOUDFLARE_SECONDARY_PRIORITY", c.CloudflareSecondaryPriority, 1, 1000),
		intRange("MAX_RETRIES_HEALTH_CHECK", int(c.MaxRetriesHealthCheck), 1, 10),
		intRange("MAX_RETRIES_BGP_CHECK", int(c.MaxRetriesBGPCheck), 1, 10),
		intRange("MAX_RETRIES_BGP_UPDATE", int(c.MaxRetriesBGPUpdate), 1, 10),
		intRange("MAX_RETRIES_CLOUDFLARE", int(c.MaxRetriesCloudflare), 1, 10),
		intRange("CIRCUIT_BREAKER_THRESHOLD", int(c.CircuitBreakerThreshold), 1, 20),
		intRange("STATE_2_VERIFICATION_THRESHOLD", c.State2VerificationThreshold, 1, 10),
		intRange("STATE_3_VERIFICATION_THRESHOLD", c.State3VerificationThreshold, 1, 10),
		intRange("STATE_4_VERIFICATION_THRESHOLD", c.State4VerificationThreshold, 1, 10),
		intRange("HEALTH_CHECK_WINDOW", c.HealthCheckWindow, 3, 10),
		intRange("HEALTH_CHECK_THRESHOLD", c.HealthCheckThreshold, 1, 10),
		intRange("MAX_CONSECUTIVE_FAILURES", c.MaxConsecutiveFailures, 1, 1000),
		intRange("EVENT_BUFFER", c.EventBuffer, 1, 65536),
		durationRange("CHECK_INTERVAL", c.CheckInterval, time.Second, time.Hour),
		durationRange("INITIAL_BACKOFF", c.InitialBackoff, 100*time.Millisecond, time.Minute),
		durationRange("MAX_BACKOFF", c.MaxBackoff, time.Second, 10*time.Minute),
		durationRange("CIRCUIT_BREAKER_TIMEOUT", c.CircuitBreakerTimeout, 30*time.Second, time.Hour),
		durationRange("MIN_STATE_DWELL_TIME", c.MinStateDwellTime, 30*time.Second, 10*time.Minute),
		durationRange("GCP_API_TIMEOUT", c.GCPAPITimeout, 5*time.Second, 5*time.Minute),
		durationRange("CLOUDFLARE_API_TIMEOUT", c.CloudflareAPITimeout, 5*time.Second, 5*time.Minute),
		durationRange("EVENT_RETRY_INTERVAL", c.EventRetryInterval, time.Second, time.Hour),
	)

	if c.InitialBackoff > c.MaxBackoff {
		errs = append(errs, fmt.Errorf("INITIAL_BACKOFF (%s) must not exceed MAX_BACKOFF (%s)", c.InitialBackoff, c.MaxBackoff))
	}
	if c.HealthCheckThreshold >= c.HealthCheckWindow {
		errs = append(errs, fmt.Errorf("HEALTH_CHECK_THRESHOLD (%d) must be less than HEALTH_CHECK_WINDOW (%d)", c.HealthCheckThreshold, c.HealthCheckWindow))
	}
	if c.AsymmetricHysteresis {
		errs = append(errs,
			intRange("HYSTERESIS_HOLD_THRESHOLD", c.HysteresisHoldThreshold, 1, c.HealthCheckWindow),
			intRange("HYSTERESIS_RECOVER_THRESHOLD", c.HysteresisRecoverThreshold, 1, c.HealthCheckWindow),
		)
		if c.HysteresisHoldThreshold > c.HysteresisRecoverThreshold {
			errs = append(errs, fmt.Errorf("HYSTERESIS_HOLD_THRESHOLD (%d) must not exceed HYSTERESIS_RECOVER_THRESHOLD (%d)", c.HysteresisHoldThreshold, c.HysteresisRecoverThreshold))
		}
	}

	if _, err := routing.ParseStates(c.DwellExceptionStates); err != nil {
		errs = append(errs, fmt.Errorf("invalid %s: %w", dwellExceptionsEnv, err))
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}
	if c.JournalEnabled() && c.DatabaseUser == "" {
		errs = append(errs, errors.New("DATABASE_USER is required when DATABASE_HOST is set"))
	}

	return errors.Join(errs...)
}

func intRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, lo, hi, v)
	}
	return nil
}

func durationRange(name string, v, lo, hi time.Duration) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s must be between %s and %s, got %s", name, lo, hi, v)
	}
	return nil
}
