package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/mt-route-daemon/internal/cloudflare"
	"github.com/Sh00ty/mt-route-daemon/internal/config"
	"github.com/Sh00ty/mt-route-daemon/internal/daemon"
	"github.com/Sh00ty/mt-route-daemon/internal/decision"
	"github.com/Sh00ty/mt-route-daemon/internal/events"
	"github.com/Sh00ty/mt-route-daemon/internal/events/journal"
	"github.com/Sh00ty/mt-route-daemon/internal/gcp"
	"github.com/Sh00ty/mt-route-daemon/internal/metrics"
	"github.com/Sh00ty/mt-route-daemon/internal/resilience"
)

func loggerLevelFromString(level string) zerolog.Level {
	level = strings.ToLower(level)
	switch level {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	}
	return zerolog.WarnLevel
}

func setupLogger(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if strings.EqualFold(cfg.LogFormat, "console") {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	log.Logger = logger.Level(loggerLevelFromString(cfg.LoggerLevel))
}

func main() {
	os.Exit(run())
}

func run() int {
	once := flag.Bool("once", false, "run a single cycle and exit")
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 1
	}
	setupLogger(cfg)

	policyNames := []string{config.PolicyGCPHealth, config.PolicyGCPBGP, config.PolicyGCPAdvertisement, config.PolicyCloudflare}
	policies := make(map[string]*resilience.Policy, len(policyNames))
	breakers := make([]breaker, 0, len(policyNames))
	for _, name := range policyNames {
		p, err := resilience.New(cfg.Policy(name))
		if err != nil {
			log.Error().Err(err).Msgf("failed to create %s policy", name)
			return 1
		}
		policies[name] = p
		breakers = append(breakers, p)
	}

	compute, err := gcp.NewComputeClient(ctx, cfg.ComputeClient())
	if err != nil {
		log.Error().Err(err).Msg("failed to init gcp client")
		return 1
	}
	source := gcp.NewSource(compute, cfg.HealthSource(), policies[config.PolicyGCPHealth], policies[config.PolicyGCPBGP])
	advertiser := gcp.NewAdvertiser(compute, cfg.Advertiser(), policies[config.PolicyGCPAdvertisement])

	cf, err := cloudflare.New(cfg.Cloudflare(), policies[config.PolicyCloudflare])
	if err != nil {
		log.Error().Err(err).Msg("failed to init cloudflare client")
		return 1
	}

	var m metrics.Metrics = metrics.Nop{}
	if cfg.StatsdAddr != "" {
		statsd := metrics.NewStatsd(cfg.LocalRegion, "apps.mtdaemon.", cfg.StatsdAddr)
		defer statsd.Close()
		m = statsd
	}

	pipeline := newEventPipeline(cfg.EventBuffer, cfg.EventRetryInterval, events.NewGlobalLogSink())
	// flushes queued events before the stores are closed
	defer pipeline.Close()

	if brokers := cfg.Kafka(); len(brokers) > 0 {
		publisher := events.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		pipeline.attach(ctx, "kafka", publisher, func() {
			if err := publisher.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close kafka writer")
			}
		})
		log.Info().Msgf("publishing events to %s on %v", cfg.KafkaTopic, brokers)
	}
	var repo *journal.Repository
	if cfg.JournalEnabled() {
		repo, err = journal.NewRepo(ctx, cfg.Journal())
		if err != nil {
			log.Error().Err(err).Msg("failed to init event journal")
			return 1
		}
		if err = repo.Migrate(ctx); err != nil {
			repo.Close()
			log.Error().Err(err).Msg("failed to migrate event journal")
			return 1
		}
		pipeline.attach(ctx, "journal", repo, repo.Close)
	}

	engine, err := decision.NewEngine(cfg.Engine())
	if err != nil {
		log.Error().Err(err).Msg("failed to create decision engine")
		return 1
	}

	d, err := daemon.New(
		daemon.Config{
			Interval:               cfg.CheckInterval,
			MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
			PrimaryPrefix:          cfg.PrimaryPrefix,
			SecondaryPrefix:        cfg.SecondaryPrefix,
		},
		engine,
		source,
		advertiser,
		cf,
		daemon.WithMetrics(m),
		daemon.WithEventSink(pipeline),
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to create daemon")
		return 1
	}

	serverClose := startProbeServer(cfg.ProbeAddr, d, engine, repo, breakers)
	defer serverClose()

	d.Announce(ctx, events.KindStartup, cfg.Summary())

	err = d.CheckConnectivity(ctx, connectivityChecks(cfg, source, advertiser, cf)...)
	switch {
	case resilience.IsPermanent(err):
		log.Error().Err(err).Msg("upstream rejected the daemon's credentials or configuration")
		d.Announce(context.WithoutCancel(ctx), events.KindShutdown, map[string]any{"reason": "connectivity_test"})
		return 1
	case err != nil:
		log.Warn().Err(err).Msg("connectivity check failed, signals stay unknown until upstreams recover")
	}

	if cfg.RunPassive {
		log.Warn().Msg("running in passive mode: no route changes will be made")
	}

	exitCode := 0
	if *once {
		ev := d.RunCycle(ctx)
		if ev.Outcome == events.OutcomeFailure {
			exitCode = 1
		}
	} else {
		err = d.Run(ctx)
		if err != nil {
			log.Error().Err(err).Msg("daemon stopped")
			if errors.Is(err, daemon.ErrFailureBudgetExhausted) {
				exitCode = 1
			}
		}
	}

	d.Announce(context.WithoutCancel(ctx), events.KindShutdown, map[string]any{
		"cycles":               d.Cycles(),
		"consecutive_failures": d.ConsecutiveFailures(),
	})
	return exitCode
}

// connectivityChecks read each upstream once the way the loop will.
func connectivityChecks(cfg config.Config, source *gcp.Source, advertiser *gcp.Advertiser, cf *cloudflare.Client) []daemon.Check {
	return []daemon.Check{
		{
			Component: "gcp",
			Run: func(ctx context.Context) (map[string]any, error) {
				services, err := source.BackendServices(ctx)
				if err != nil {
					return map[string]any{"project": cfg.GCPProject}, err
				}
				for region, names := range services {
					log.Info().Msgf("%d backend services in %s: %v", len(names), region, names)
				}
				return map[string]any{
					"project":          cfg.GCPProject,
					"backend_services": services,
				}, nil
			},
		},
		{
			Component: "gcp_router",
			Run: func(ctx context.Context) (map[string]any, error) {
				prefixes, err := advertiser.AdvertisedPrefixes(ctx)
				if err != nil {
					return map[string]any{"router": cfg.LocalBGPRouter}, err
				}
				log.Info().Msgf("router %s advertises %v", cfg.LocalBGPRouter, prefixes)
				return map[string]any{
					"router":              cfg.LocalBGPRouter,
					"advertised_prefixes": prefixes,
				}, nil
			},
		},
		{
			Component: "cloudflare",
			Run: func(ctx context.Context) (map[string]any, error) {
				routes, err := cf.OwnedRoutes(ctx)
				if err != nil {
					return nil, err
				}
				owned := make(map[string]int, len(routes))
				for _, r := range routes {
					owned[r.Prefix] = r.Priority
				}
				if len(routes) == 0 {
					log.Warn().Msgf("no magic transit routes match %q", cfg.DescriptionSubstring)
				}
				log.Info().Msgf("%d owned magic transit routes: %v", len(routes), owned)
				return map[string]any{"owned_routes": owned}, nil
			},
		},
	}
}
