package gcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sh00ty/mt-route-daemon/internal/resilience"
	"github.com/Sh00ty/mt-route-daemon/pkg/routing"
)

const (
	healthyState = "HEALTHY"
	peerUp       = "UP"
)

type SourceConfig struct {
	Project      string
	LocalRegion  string
	RemoteRegion string

	// BGP session health is read from the remote region's Cloud Router.
	BGPProject      string
	RemoteBGPRegion string
	RemoteBGPRouter string

	// Timeout bounds every API call.
	Timeout time.Duration
}

// Source reads backend service health in both regions and the BGP session
// state of the remote Cloud Router.
type Source struct {
	api    computeAPI
	cfg    SourceConfig
	health *resilience.Policy
	bgp    *resilience.Policy
}

func NewSource(api computeAPI, cfg SourceConfig, health, bgp *resilience.Policy) *Source {
	return &Source{
		api:    api,
		cfg:    cfg,
		health: health,
		bgp:    bgp,
	}
}

// Snapshot runs the three checks concurrently. A failed check leaves its
// signal Unknown and its error is returned joined with the others.
func (s *Source) Snapshot(ctx context.Context) (routing.HealthSnapshot, error) {
	snap := routing.UnknownSnapshot()

	// No shared context: a failed check must not cancel the other two,
	// every signal is read on its own.
	var (
		g                        errgroup.Group
		localOK, remoteOK, bgpUp bool
		localErr, remoteErr      error
		bgpErr                   error
		peers                    map[string]string
	)
	g.Go(func() error {
		var err error
		localOK, err = s.regionHealthy(ctx, s.cfg.LocalRegion)
		if err != nil {
			localErr = fmt.Errorf("failed to check %s backends: %w", s.cfg.LocalRegion, err)
		}
		return localErr
	})
	g.Go(func() error {
		var err error
		remoteOK, err = s.regionHealthy(ctx, s.cfg.RemoteRegion)
		if err != nil {
			remoteErr = fmt.Errorf("failed to check %s backends: %w", s.cfg.RemoteRegion, err)
		}
		return remoteErr
	})
	g.Go(func() error {
		var err error
		bgpUp, peers, err = s.bgpUp(ctx)
		if err != nil {
			bgpErr = fmt.Errorf("failed to check bgp sessions on %s: %w", s.cfg.RemoteBGPRouter, err)
		}
		return bgpErr
	})
	waitErr := g.Wait()

	if localErr == nil {
		snap.Local = routing.FromBool(localOK)
	}
	if remoteErr == nil {
		snap.Remote = routing.FromBool(remoteOK)
	}
	if bgpErr == nil {
		snap.BGP = routing.FromBool(bgpUp)
	}
	snap.Peers = peers
	if waitErr == nil {
		return snap, nil
	}
	// Wait keeps only the first error
	return snap, errors.Join(localErr, remoteErr, bgpErr)
}

// BackendServices lists the backend service names of both regions.
func (s *Source) BackendServices(ctx context.Context) (map[string][]string, error) {
	out := make(map[string][]string, 2)
	for _, region := range []string{s.cfg.LocalRegion, s.cfg.RemoteRegion} {
		var names []string
		err := s.health.Do(ctx, func(ctx context.Context) error {
			ctx, cancel := s.callContext(ctx)
			defer cancel()

			services, err := s.api.ListBackendServices(ctx, s.cfg.Project, region)
			if err != nil {
				return classify(err)
			}
			names = make([]string, 0, len(services))
			for _, svc := range services {
				names = append(names, svc.Name)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list backend services in %s/%s: %w", s.cfg.Project, region, err)
		}
		out[region] = names
	}
	return out, nil
}

// regionHealthy is true when every instance of every backend of every
// regional backend service reports HEALTHY. A region without backend
// services counts as healthy.
func (s *Source) regionHealthy(ctx context.Context, region string) (bool, error) {
	var healthy bool
	err := s.health.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := s.callContext(ctx)
		defer cancel()

		services, err := s.api.ListBackendServices(ctx, s.cfg.Project, region)
		if err != nil {
			return classify(err)
		}
		healthy = true
		if len(services) == 0 {
			log.Info().Msgf("no backend services in %s/%s, considering healthy", s.cfg.Project, region)
			return nil
		}

		for _, svc := range services {
			for _, backend := range svc.Backends {
				statuses, err := s.api.BackendHealth(ctx, s.cfg.Project, region, svc.Name, backend.Group)
				if err != nil {
					return classify(err)
				}
				if len(statuses) == 0 {
					log.Warn().Msgf("no health status for backend %s of %s in %s", backend.Group, svc.Name, region)
					healthy = false
					continue
				}
				for _, st := range statuses {
					if st.HealthState != healthyState {
						log.Debug().Msgf("instance %s of %s in %s is %s", st.Instance, svc.Name, region, st.HealthState)
						healthy = false
					}
				}
			}
		}
		return nil
	})
	return healthy, err
}

// bgpUp is true when at least one peer of the remote router is UP.
func (s *Source) bgpUp(ctx context.Context) (bool, map[string]string, error) {
	var (
		up    bool
		peers map[string]string
	)
	err := s.bgp.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := s.callContext(ctx)
		defer cancel()

		statuses, err := s.api.BGPPeers(ctx, s.cfg.BGPProject, s.cfg.RemoteBGPRegion, s.cfg.RemoteBGPRouter)
		if err != nil {
			return classify(err)
		}
		up = false
		peers = make(map[string]string, len(statuses))
		for _, p := range statuses {
			peers[p.Name] = p.Status
			if p.Status == peerUp {
				up = true
			}
		}
		if len(statuses) == 0 {
			log.Warn().Msgf("router %s reports no bgp peers", s.cfg.RemoteBGPRouter)
		}
		return nil
	})
	return up, peers, err
}

func (s *Source) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}
