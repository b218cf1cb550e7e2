package gcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	compute "google.golang.org/api/compute/v1"

	"github.com/Sh00ty/mt-route-daemon/internal/resilience"
)

type fakeCompute struct {
	mu sync.Mutex

	services map[string][]*compute.BackendService
	health   map[string][]*compute.HealthStatus
	peers    []*compute.RouterStatusBgpPeerStatus
	router   *compute.Router

	// errs are returned, one per call, before the call succeeds
	listErrs  map[string][]error
	peersErrs []error
	patchErr  error

	listCalls map[string]int
	patches   []*compute.Router
}

func newFakeCompute() *fakeCompute {
	return &fakeCompute{
		services:  map[string][]*compute.BackendService{},
		health:    map[string][]*compute.HealthStatus{},
		listErrs:  map[string][]error{},
		listCalls: map[string]int{},
		router:    &compute.Router{Name: "local-router", Bgp: &compute.RouterBgp{Asn: 64512}},
	}
}

func (f *fakeCompute) ListBackendServices(_ context.Context, _, region string) ([]*compute.BackendService, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls[region]++
	if errs := f.listErrs[region]; len(errs) > 0 {
		f.listErrs[region] = errs[1:]
		return nil, errs[0]
	}
	return f.services[region], nil
}

func (f *fakeCompute) BackendHealth(_ context.Context, _, region, service, group string) ([]*compute.HealthStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health[region+"/"+service+"/"+group], nil
}

func (f *fakeCompute) BGPPeers(context.Context, string, string, string) ([]*compute.RouterStatusBgpPeerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peersErrs) > 0 {
		err := f.peersErrs[0]
		f.peersErrs = f.peersErrs[1:]
		return nil, err
	}
	return f.peers, nil
}

func (f *fakeCompute) GetRouter(context.Context, string, string, string) (*compute.Router, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.router, nil
}

func (f *fakeCompute) PatchRouter(_ context.Context, _, _, _ string, patch *compute.Router) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patchErr != nil {
		return f.patchErr
	}
	f.patches = append(f.patches, patch)
	f.router = &compute.Router{Name: f.router.Name, Bgp: patch.Bgp}
	return nil
}

func (f *fakeCompute) addService(region, name string, groups map[string][]string) {
	svc := &compute.BackendService{Name: name}
	for group, states := range groups {
		svc.Backends = append(svc.Backends, &compute.Backend{Group: group})
		for i, st := range states {
			f.health[region+"/"+name+"/"+group] = append(f.health[region+"/"+name+"/"+group], &compute.HealthStatus{
				HealthState: st,
				Instance:    group + "-" + string(rune('a'+i)),
			})
		}
	}
	f.services[region] = append(f.services[region], svc)
}

func testPolicy(t *testing.T, name string, attempts uint) *resilience.Policy {
	t.Helper()
	p, err := resilience.New(resilience.Config{
		Name:             name,
		Attempts:         attempts,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       time.Millisecond,
		FailureThreshold: 100,
		OpenTimeout:      time.Minute,
	})
	require.NoError(t, err)
	return p
}
