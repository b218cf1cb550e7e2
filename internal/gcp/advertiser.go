package gcp

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	compute "google.golang.org/api/compute/v1"

	"github.com/Sh00ty/mt-route-daemon/internal/resilience"
	"github.com/Sh00ty/mt-route-daemon/pkg/routing"
)

type AdvertiserConfig struct {
	Project string
	Region  string
	Router  string
	Timeout time.Duration
}

// Advertiser adds and removes custom advertised prefixes on the local Cloud Router.
type Advertiser struct {
	api    computeAPI
	cfg    AdvertiserConfig
	policy *resilience.Policy
}

func NewAdvertiser(api computeAPI, cfg AdvertiserConfig, policy *resilience.Policy) *Advertiser {
	return &Advertiser{
		api:    api,
		cfg:    cfg,
		policy: policy,
	}
}

// ApplyAdvertisement makes the router's advertised ranges contain prefix
// (Advertise) or not contain it (Withdraw). The router is patched only when
// its configuration differs. NoChange returns immediately.
func (a *Advertiser) ApplyAdvertisement(ctx context.Context, prefix string, d routing.Directive) error {
	if d == routing.NoChange {
		return nil
	}
	advertise := d == routing.Advertise

	return a.policy.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := a.callContext(ctx)
		defer cancel()

		router, err := a.api.GetRouter(ctx, a.cfg.Project, a.cfg.Region, a.cfg.Router)
		if err != nil {
			return classify(fmt.Errorf("failed to get router %s: %w", a.cfg.Router, err))
		}
		bgp := router.Bgp
		if bgp == nil {
			bgp = &compute.RouterBgp{}
		}

		ranges, changed := updateRanges(bgp.AdvertisedIpRanges, prefix, advertise)
		if !changed {
			log.Debug().Msgf("router %s already in desired state for %s (%s)", a.cfg.Router, prefix, d)
			return nil
		}

		patched := *bgp
		patched.AdvertisedIpRanges = ranges
		// an empty list must still be sent to withdraw the last prefix
		patched.ForceSendFields = append(patched.ForceSendFields, "AdvertisedIpRanges")

		err = a.api.PatchRouter(ctx, a.cfg.Project, a.cfg.Region, a.cfg.Router, &compute.Router{Bgp: &patched})
		if err != nil {
			return classify(fmt.Errorf("failed to patch router %s: %w", a.cfg.Router, err))
		}
		log.Info().Msgf("router %s: %s %s (%d prefixes advertised)", a.cfg.Router, d, prefix, len(ranges))
		return nil
	})
}

// AdvertisedPrefixes lists the custom ranges the router announces.
func (a *Advertiser) AdvertisedPrefixes(ctx context.Context) ([]string, error) {
	var prefixes []string
	err := a.policy.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := a.callContext(ctx)
		defer cancel()

		router, err := a.api.GetRouter(ctx, a.cfg.Project, a.cfg.Region, a.cfg.Router)
		if err != nil {
			return classify(err)
		}
		prefixes = []string{}
		if router.Bgp == nil {
			return nil
		}
		for _, r := range router.Bgp.AdvertisedIpRanges {
			prefixes = append(prefixes, r.Range)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get router %s: %w", a.cfg.Router, err)
	}
	return prefixes, nil
}

func updateRanges(current []*compute.RouterAdvertisedIpRange, prefix string, advertise bool) ([]*compute.RouterAdvertisedIpRange, bool) {
	exists := false
	for _, r := range current {
		if r.Range == prefix {
			exists = true
			break
		}
	}

	switch {
	case advertise && !exists:
		return append(append([]*compute.RouterAdvertisedIpRange(nil), current...), &compute.RouterAdvertisedIpRange{Range: prefix}), true
	case !advertise && exists:
		ranges := make([]*compute.RouterAdvertisedIpRange, 0, len(current))
		for _, r := range current {
			if r.Range != prefix {
				ranges = append(ranges, r)
			}
		}
		return ranges, true
	}
	return current, false
}

func (a *Advertiser) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.cfg.Timeout)
}
