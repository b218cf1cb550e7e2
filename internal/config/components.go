package config

import (
	"github.com/Sh00ty/mt-route-daemon/internal/cloudflare"
	"github.com/Sh00ty/mt-route-daemon/internal/decision"
	"github.com/Sh00ty/mt-route-daemon/internal/events/journal"
	"github.com/Sh00ty/mt-route-daemon/internal/gcp"
	"github.com/Sh00ty/mt-route-daemon/internal/hysteresis"
	"github.com/Sh00ty/mt-route-daemon/internal/resilience"
	"github.com/Sh00ty/mt-route-daemon/internal/verification"
)

func (c Config) Engine() decision.Config {
	return decision.Config{
		Hysteresis: hysteresis.Config{
			Window:           c.HealthCheckWindow,
			Threshold:        c.HealthCheckThreshold,
			Asymmetric:       c.AsymmetricHysteresis,
			HoldThreshold:    c.HysteresisHoldThreshold,
			RecoverThreshold: c.HysteresisRecoverThreshold,
		},
		Verification: verification.Thresholds{
			LocalUnhealthy:  c.State2VerificationThreshold,
			RemoteUnhealthy: c.State3VerificationThreshold,
			BothUnhealthy:   c.State4VerificationThreshold,
		},
		MinDwell:          c.MinStateDwellTime,
		DwellExceptions:   c.DwellExceptions(),
		Passive:           c.RunPassive,
		PrimaryPriority:   c.CloudflarePrimaryPriority,
		SecondaryPriority: c.CloudflareSecondaryPriority,
	}
}

// Policy names match the upstreams each one guards.
const (
	PolicyGCPHealth        = "gcp_health"
	PolicyGCPBGP           = "gcp_bgp"
	PolicyGCPAdvertisement = "gcp_local_advertisement"
	PolicyCloudflare       = "cloudflare"
)

func (c Config) Policy(name string) resilience.Config {
	attempts := c.MaxRetriesHealthCheck
	switch name {
	case PolicyGCPBGP:
		attempts = c.MaxRetriesBGPCheck
	case PolicyGCPAdvertisement:
		attempts = c.MaxRetriesBGPUpdate
	case PolicyCloudflare:
		attempts = c.MaxRetriesCloudflare
	}
	return resilience.Config{
		Name:             name,
		Attempts:         attempts,
		InitialBackoff:   c.InitialBackoff,
		MaxBackoff:       c.MaxBackoff,
		FailureThreshold: c.CircuitBreakerThreshold,
		OpenTimeout:      c.CircuitBreakerTimeout,
	}
}

func (c Config) ComputeClient() gcp.ClientConfig {
	cfg := gcp.ClientConfig{Endpoint: c.GCPEndpoint}
	if !c.UseWorkloadIdentity {
		cfg.CredentialsFile = c.GCPCredentials
	}
	return cfg
}

func (c Config) HealthSource() gcp.SourceConfig {
	return gcp.SourceConfig{
		Project:         c.GCPProject,
		LocalRegion:     c.LocalRegion,
		RemoteRegion:    c.RemoteRegion,
		BGPProject:      c.BGPPeerProject,
		RemoteBGPRegion: c.RemoteBGPRegion,
		RemoteBGPRouter: c.RemoteBGPRouter,
		Timeout:         c.GCPAPITimeout,
	}
}

func (c Config) Advertiser() gcp.AdvertiserConfig {
	return gcp.AdvertiserConfig{
		Project: c.BGPPeerProject,
		Region:  c.LocalBGPRegion,
		Router:  c.LocalBGPRouter,
		Timeout: c.GCPAPITimeout,
	}
}

func (c Config) Cloudflare() cloudflare.Config {
	return cloudflare.Config{
		AccountID:            c.CloudflareAccountID,
		APIToken:             c.CloudflareAPIToken,
		BaseURL:              c.CloudflareBaseURL,
		DescriptionSubstring: c.DescriptionSubstring,
		PrimaryPriority:      c.CloudflarePrimaryPriority,
		SecondaryPriority:    c.CloudflareSecondaryPriority,
		Timeout:              c.CloudflareAPITimeout,
	}
}

func (c Config) Journal() journal.Config {
	return journal.Config{
		User:     c.DatabaseUser,
		Password: c.DatabasePassword,
		Host:     c.DatabaseHost,
		Port:     c.DatabasePort,
		Name:     c.DatabaseName,
	}
}

// Summary is the non-secret part of the configuration, logged at startup.
func (c Config) Summary() map[string]any {
	return map[string]any{
		"gcp_project":            c.GCPProject,
		"local_region":           c.LocalRegion,
		"remote_region":          c.RemoteRegion,
		"local_bgp_router":       c.LocalBGPRouter,
		"remote_bgp_router":      c.RemoteBGPRouter,
		"primary_prefix":         c.PrimaryPrefix,
		"secondary_prefix":       c.SecondaryPrefix,
		"check_interval":         c.CheckInterval.String(),
		"run_passive":            c.RunPassive,
		"health_check_window":    c.HealthCheckWindow,
		"health_check_threshold": c.HealthCheckThreshold,
		"asymmetric_hysteresis":  c.AsymmetricHysteresis,
		"min_state_dwell_time":   c.MinStateDwellTime.String(),
		"dwell_exception_states": c.DwellExceptionStates,
		"workload_identity":      c.UseWorkloadIdentity,
		"event_streaming":        len(c.Kafka()) > 0,
		"event_journal":          c.JournalEnabled(),
	}
}
