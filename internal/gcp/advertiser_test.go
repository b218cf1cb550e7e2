package gcp

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"

	"github.com/Sh00ty/mt-route-daemon/pkg/routing"
)

func newAdvertiser(t *testing.T, api computeAPI) *Advertiser {
	t.Helper()
	return NewAdvertiser(api, AdvertiserConfig{
		Project: "net-proj",
		Region:  "us-central1",
		Router:  "local-router",
	}, testPolicy(t, "gcp_local_advertisement", 2))
}

func TestAdvertiseAddsMissingPrefix(t *testing.T) {
	api := newFakeCompute()
	api.router.Bgp.AdvertisedIpRanges = []*compute.RouterAdvertisedIpRange{{Range: "10.0.0.0/24"}}
	a := newAdvertiser(t, api)

	require.NoError(t, a.ApplyAdvertisement(context.Background(), "203.0.113.0/24", routing.Advertise))
	require.Len(t, api.patches, 1)
	assert.Equal(t, int64(64512), api.patches[0].Bgp.Asn)

	prefixes, err := a.AdvertisedPrefixes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/24", "203.0.113.0/24"}, prefixes)

	// second call is a no-op
	require.NoError(t, a.ApplyAdvertisement(context.Background(), "203.0.113.0/24", routing.Advertise))
	assert.Len(t, api.patches, 1)
}

func TestWithdrawRemovesPrefix(t *testing.T) {
	api := newFakeCompute()
	api.router.Bgp.AdvertisedIpRanges = []*compute.RouterAdvertisedIpRange{{Range: "203.0.113.0/24"}}
	a := newAdvertiser(t, api)

	require.NoError(t, a.ApplyAdvertisement(context.Background(), "203.0.113.0/24", routing.Withdraw))
	require.Len(t, api.patches, 1)
	assert.Empty(t, api.patches[0].Bgp.AdvertisedIpRanges)
	assert.Contains(t, api.patches[0].Bgp.ForceSendFields, "AdvertisedIpRanges")

	require.NoError(t, a.ApplyAdvertisement(context.Background(), "203.0.113.0/24", routing.Withdraw))
	assert.Len(t, api.patches, 1)
}

func TestNoChangeTouchesNothing(t *testing.T) {
	api := newFakeCompute()
	api.router = nil
	a := newAdvertiser(t, api)

	require.NoError(t, a.ApplyAdvertisement(context.Background(), "203.0.113.0/24", routing.NoChange))
	assert.Empty(t, api.patches)
}

func TestPatchFailureIsReported(t *testing.T) {
	api := newFakeCompute()
	api.patchErr = &googleapi.Error{Code: http.StatusForbidden}
	a := newAdvertiser(t, api)

	err := a.ApplyAdvertisement(context.Background(), "203.0.113.0/24", routing.Advertise)
	require.Error(t, err)
	var apiErr *googleapi.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Code)
}
