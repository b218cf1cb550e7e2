package gcp

import (
	"context"
	"fmt"

	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
)

// computeAPI is the part of the Compute Engine API the daemon touches.
type computeAPI interface {
	ListBackendServices(ctx context.Context, project, region string) ([]*compute.BackendService, error)
	BackendHealth(ctx context.Context, project, region, service, group string) ([]*compute.HealthStatus, error)
	BGPPeers(ctx context.Context, project, region, router string) ([]*compute.RouterStatusBgpPeerStatus, error)
	GetRouter(ctx context.Context, project, region, router string) (*compute.Router, error)
	PatchRouter(ctx context.Context, project, region, router string, patch *compute.Router) error
}

type ClientConfig struct {
	// CredentialsFile is a service account key; empty means application default credentials.
	CredentialsFile string
	// Endpoint overrides the API endpoint, used against emulators.
	Endpoint string
}

type ComputeClient struct {
	svc *compute.Service
}

func NewComputeClient(ctx context.Context, cfg ClientConfig) (*ComputeClient, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	svc, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute client: %w", err)
	}
	return &ComputeClient{svc: svc}, nil
}

func (c *ComputeClient) ListBackendServices(ctx context.Context, project, region string) ([]*compute.BackendService, error) {
	var services []*compute.BackendService
	err := c.svc.RegionBackendServices.List(project, region).Pages(ctx, func(page *compute.BackendServiceList) error {
		services = append(services, page.Items...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return services, nil
}

func (c *ComputeClient) BackendHealth(ctx context.Context, project, region, service, group string) ([]*compute.HealthStatus, error) {
	resp, err := c.svc.RegionBackendServices.GetHealth(project, region, service, &compute.ResourceGroupReference{
		Group: group,
	}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.HealthStatus, nil
}

func (c *ComputeClient) BGPPeers(ctx context.Context, project, region, router string) ([]*compute.RouterStatusBgpPeerStatus, error) {
	resp, err := c.svc.Routers.GetRouterStatus(project, region, router).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return nil, nil
	}
	return resp.Result.BgpPeerStatus, nil
}

func (c *ComputeClient) GetRouter(ctx context.Context, project, region, router string) (*compute.Router, error) {
	return c.svc.Routers.Get(project, region, router).Context(ctx).Do()
}

func (c *ComputeClient) PatchRouter(ctx context.Context, project, region, router string, patch *compute.Router) error {
	_, err := c.svc.Routers.Patch(project, region, router, patch).Context(ctx).Do()
	return err
}
