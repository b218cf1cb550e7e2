package cloudflare

import (
	"context"
	"net/http"
	"testing"
	"time"

	cf "github.com/cloudflare/cloudflare-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/mt-route-daemon/internal/resilience"
	"github.com/Sh00ty/mt-route-daemon/pkg/routing"
)

type fakeRoutes struct {
	routes  []cf.MagicTransitStaticRoute
	listErr []error
	updates map[string]cf.MagicTransitStaticRoute
	lists   int
}

func (f *fakeRoutes) ListMagicTransitStaticRoutes(context.Context, string) ([]cf.MagicTransitStaticRoute, error) {
	f.lists++
	if len(f.listErr) > 0 {
		err := f.listErr[0]
		f.listErr = f.listErr[1:]
		return nil, err
	}
	return append([]cf.MagicTransitStaticRoute(nil), f.routes...), nil
}

func (f *fakeRoutes) UpdateMagicTransitStaticRoute(_ context.Context, _, id string, route cf.MagicTransitStaticRoute) (cf.MagicTransitStaticRoute, error) {
	if f.updates == nil {
		f.updates = map[string]cf.MagicTransitStaticRoute{}
	}
	f.updates[id] = route
	for i := range f.routes {
		if f.routes[i].ID == id {
			f.routes[i].Priority = route.Priority
		}
	}
	return route, nil
}

func testClient(t *testing.T, api routesAPI) *Client {
	t.Helper()
	policy, err := resilience.New(resilience.Config{
		Name:             "cloudflare",
		Attempts:         3,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       time.Millisecond,
		FailureThreshold: 10,
		OpenTimeout:      time.Minute,
	})
	require.NoError(t, err)
	return newClient(api, Config{
		AccountID:            "acc",
		DescriptionSubstring: "mt-gcp",
		PrimaryPriority:      100,
		SecondaryPriority:    200,
	}, policy)
}

func routes() []cf.MagicTransitStaticRoute {
	return []cf.MagicTransitStaticRoute{
		{ID: "r1", Prefix: "203.0.113.0/24", Nexthop: "10.0.0.1", Priority: 100, Description: "mt-gcp primary"},
		{ID: "r2", Prefix: "198.51.100.0/24", Nexthop: "10.0.0.2", Priority: 200, Description: "mt-gcp backup"},
		{ID: "r3", Prefix: "192.0.2.0/24", Nexthop: "10.0.0.3", Priority: 50, Description: "unrelated"},
	}
}

func TestApplyPriorityUpdatesOnlyDifferingOwnedRoutes(t *testing.T) {
	api := &fakeRoutes{routes: routes()}
	c := testClient(t, api)

	require.NoError(t, c.ApplyPriority(context.Background(), routing.UseSecondary))
	require.Len(t, api.updates, 1)
	assert.Equal(t, 200, api.updates["r1"].Priority)
	assert.Equal(t, "10.0.0.1", api.updates["r1"].Nexthop)
	assert.Equal(t, "mt-gcp primary", api.updates["r1"].Description)

	res, err := c.SetPriority(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{Matched: 2, Updated: 2}, res)
	assert.Equal(t, 50, api.routes[2].Priority)
}

func TestApplyPriorityNoChangeSkipsAPI(t *testing.T) {
	api := &fakeRoutes{routes: routes()}
	c := testClient(t, api)

	require.NoError(t, c.ApplyPriority(context.Background(), routing.PriorityNoChange))
	assert.Zero(t, api.lists)
}

func TestSetPriorityRejectsOutOfRange(t *testing.T) {
	c := testClient(t, &fakeRoutes{})
	_, err := c.SetPriority(context.Background(), 0)
	assert.Error(t, err)
	_, err = c.SetPriority(context.Background(), 1001)
	assert.Error(t, err)
}

func TestTransientListErrorIsRetried(t *testing.T) {
	api := &fakeRoutes{
		routes:  routes(),
		listErr: []error{&cf.Error{StatusCode: http.StatusTooManyRequests}},
	}
	c := testClient(t, api)

	require.NoError(t, c.ApplyPriority(context.Background(), routing.UsePrimary))
	assert.Equal(t, 2, api.lists)
}

func TestAuthErrorIsNotRetried(t *testing.T) {
	api := &fakeRoutes{listErr: []error{&cf.Error{StatusCode: http.StatusForbidden}}}
	c := testClient(t, api)

	assert.Error(t, c.ApplyPriority(context.Background(), routing.UsePrimary))
	assert.Equal(t, 1, api.lists)
}

func TestOwnedRoutes(t *testing.T) {
	c := testClient(t, &fakeRoutes{routes: routes()})
	owned, err := c.OwnedRoutes(context.Background())
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, "r1", owned[0].ID)
	assert.Equal(t, "r2", owned[1].ID)

	api := &fakeRoutes{routes: routes(), listErr: []error{&cf.Error{StatusCode: http.StatusBadGateway}}}
	owned, err = testClient(t, api).OwnedRoutes(context.Background())
	require.NoError(t, err)
	assert.Len(t, owned, 2)
	assert.Equal(t, 2, api.lists)

	api = &fakeRoutes{listErr: []error{&cf.Error{StatusCode: http.StatusUnauthorized}}}
	_, err = testClient(t, api).OwnedRoutes(context.Background())
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
	assert.Equal(t, 1, api.lists)
}

func TestConfigValidation(t *testing.T) {
	err := Config{PrimaryPriority: 0, SecondaryPriority: 2000}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account id")
	assert.Contains(t, err.Error(), "primary priority")
	assert.Contains(t, err.Error(), "secondary priority")
}
