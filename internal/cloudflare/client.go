package cloudflare

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cf "github.com/cloudflare/cloudflare-go"
	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/mt-route-daemon/internal/resilience"
	"github.com/Sh00ty/mt-route-daemon/pkg/routing"
)

const (
	MinPriority = 1
	MaxPriority = 1000
)

type routesAPI interface {
	ListMagicTransitStaticRoutes(ctx context.Context, accountID string) ([]cf.MagicTransitStaticRoute, error)
	UpdateMagicTransitStaticRoute(ctx context.Context, accountID, ID string, route cf.MagicTransitStaticRoute) (cf.MagicTransitStaticRoute, error)
}

type Config struct {
	AccountID string
	APIToken  string
	// BaseURL overrides the API endpoint.
	BaseURL string
	// DescriptionSubstring selects the routes the daemon owns.
	DescriptionSubstring string

	PrimaryPriority   int
	SecondaryPriority int

	Timeout time.Duration
}

func (c Config) Validate() error {
	var errs []error
	if c.AccountID == "" {
		errs = append(errs, errors.New("cloudflare account id is required"))
	}
	if c.DescriptionSubstring == "" {
		errs = append(errs, errors.New("route description substring is required"))
	}
	for name, p := range map[string]int{"primary": c.PrimaryPriority, "secondary": c.SecondaryPriority} {
		if p < MinPriority || p > MaxPriority {
			errs = append(errs, fmt.Errorf("%s priority must be in [%d, %d], got %d", name, MinPriority, MaxPriority, p))
		}
	}
	return errors.Join(errs...)
}

// Client steers Magic Transit by rewriting the priority of static routes
// whose description contains the configured substring.
type Client struct {
	api    routesAPI
	cfg    Config
	policy *resilience.Policy
}

func New(cfg Config, policy *resilience.Policy) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []cf.Option{cf.HTTPClient(&http.Client{Timeout: cfg.Timeout})}
	if cfg.BaseURL != "" {
		opts = append(opts, cf.BaseURL(cfg.BaseURL))
	}
	api, err := cf.NewWithAPIToken(cfg.APIToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudflare client: %w", err)
	}
	return newClient(api, cfg, policy), nil
}

func newClient(api routesAPI, cfg Config, policy *resilience.Policy) *Client {
	return &Client{
		api:    api,
		cfg:    cfg,
		policy: policy,
	}
}

// UpdateResult counts what one priority update touched.
type UpdateResult struct {
	Matched int
	Updated int
}

// ApplyPriority sets the priority selected by d on every owned route.
// Routes already at that priority are left alone.
func (c *Client) ApplyPriority(ctx context.Context, d routing.PriorityDirective) error {
	var priority int
	switch d {
	case routing.PriorityNoChange:
		return nil
	case routing.UsePrimary:
		priority = c.cfg.PrimaryPriority
	case routing.UseSecondary:
		priority = c.cfg.SecondaryPriority
	default:
		return fmt.Errorf("unsupported priority directive %s", d)
	}
	_, err := c.SetPriority(ctx, priority)
	return err
}

func (c *Client) SetPriority(ctx context.Context, priority int) (UpdateResult, error) {
	if priority < MinPriority || priority > MaxPriority {
		return UpdateResult{}, fmt.Errorf("priority must be in [%d, %d], got %d", MinPriority, MaxPriority, priority)
	}

	var res UpdateResult
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		routes, err := c.list(ctx)
		if err != nil {
			return err
		}
		res = UpdateResult{}
		for _, route := range routes {
			if !strings.Contains(route.Description, c.cfg.DescriptionSubstring) {
				continue
			}
			res.Matched++
			if route.Priority == priority {
				continue
			}
			if err := c.update(ctx, route, priority); err != nil {
				return err
			}
			res.Updated++
			log.Info().Msgf("magic transit route %s (%s): priority %d -> %d", route.ID, route.Prefix, route.Priority, priority)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	if res.Matched == 0 {
		log.Warn().Msgf("no magic transit routes match description %q", c.cfg.DescriptionSubstring)
	}
	return res, nil
}

// OwnedRoutes returns the routes whose description matches.
func (c *Client) OwnedRoutes(ctx context.Context) ([]cf.MagicTransitStaticRoute, error) {
	var owned []cf.MagicTransitStaticRoute
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		routes, err := c.list(ctx)
		if err != nil {
			return err
		}
		owned = routes[:0]
		for _, r := range routes {
			if strings.Contains(r.Description, c.cfg.DescriptionSubstring) {
				owned = append(owned, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return owned, nil
}

func (c *Client) list(ctx context.Context) ([]cf.MagicTransitStaticRoute, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	routes, err := c.api.ListMagicTransitStaticRoutes(ctx, c.cfg.AccountID)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list magic transit routes: %w", err))
	}
	return routes, nil
}

func (c *Client) update(ctx context.Context, route cf.MagicTransitStaticRoute, priority int) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	update := cf.MagicTransitStaticRoute{
		Prefix:      route.Prefix,
		Nexthop:     route.Nexthop,
		Priority:    priority,
		Description: route.Description,
		Weight:      route.Weight,
		Scope:       route.Scope,
	}
	_, err := c.api.UpdateMagicTransitStaticRoute(ctx, c.cfg.AccountID, route.ID, update)
	if err != nil {
		return classify(fmt.Errorf("failed to update route %s: %w", route.ID, err))
	}
	return nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

func classify(err error) error {
	var apiErr *cf.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity:
		return resilience.Permanent(err)
	}
	return err
}
