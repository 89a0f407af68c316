package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/Tanmayop9/discord-antinuke/internal/logging"
	"github.com/Tanmayop9/discord-antinuke/internal/metrics"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
)

type RESTConfig struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// RESTClient applies remediation actions through the platform's REST API.
type RESTClient struct {
	pool    *HTTPPool
	buckets *RateLimitMonitor
	limiter *rate.Limiter
	cfg     RESTConfig
}

func NewRESTClient(pool *HTTPPool, cfg RESTConfig) *RESTClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://discord.com/api/v10"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 40
	}
	if cfg.Burst < 1 {
		cfg.Burst = 10
	}
	return &RESTClient{
		pool:    pool,
		buckets: NewRateLimitMonitor(),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cfg:     cfg,
	}
}

type route struct {
	name   string
	method string
	path   string
	body   any
	// gone404 treats "unknown resource" as done: the target is already in
	// the requested state.
	gone404 bool
}

func routeFor(tenantID string, action models.ActionType, targetID string) (route, error) {
	switch action {
	case models.ActionBan:
		return route{
			name:   "ban",
			method: fasthttp.MethodPut,
			path:   fmt.Sprintf("/guilds/%s/bans/%s", tenantID, targetID),
			body:   map[string]int{"delete_message_seconds": 0},
		}, nil
	case models.ActionKick:
		return route{
			name:   "kick",
			method: fasthttp.MethodDelete,
			path:   fmt.Sprintf("/guilds/%s/members/%s", tenantID, targetID),
		}, nil
	case models.ActionStripRoles:
		return route{
			name:   "strip_roles",
			method: fasthttp.MethodPatch,
			path:   fmt.Sprintf("/guilds/%s/members/%s", tenantID, targetID),
			body:   map[string][]string{"roles": {}},
		}, nil
	case models.ActionUnban:
		return route{
			name:    "unban",
			method:  fasthttp.MethodDelete,
			path:    fmt.Sprintf("/guilds/%s/bans/%s", tenantID, targetID),
			gone404: true,
		}, nil
	case models.ActionDeleteChannel:
		return route{
			name:    "delete_channel",
			method:  fasthttp.MethodDelete,
			path:    fmt.Sprintf("/channels/%s", targetID),
			gone404: true,
		}, nil
	case models.ActionDeleteRole:
		return route{
			name:    "delete_role",
			method:  fasthttp.MethodDelete,
			path:    fmt.Sprintf("/guilds/%s/roles/%s", tenantID, targetID),
			gone404: true,
		}, nil
	}
	return route{}, fmt.Errorf("action %s: %w", action, models.ErrConfiguration)
}

// ExecuteAction performs one action against one target. Rate limiting and
// 5xx responses surface as models.ErrTransientNetwork.
func (c *RESTClient) ExecuteAction(ctx context.Context, tenantID string, action models.ActionType, targetID, reason string) error {
	if tenantID == "" || targetID == "" {
		return fmt.Errorf("%s: empty tenant or target id: %w", action, models.ErrConfiguration)
	}
	r, err := routeFor(tenantID, action, targetID)
	if err != nil {
		return err
	}

	err = c.do(ctx, tenantID, r, reason)
	metrics.PlatformRequests.WithLabelValues(r.name, metrics.Outcome(err)).Inc()
	return err
}

func (c *RESTClient) do(ctx context.Context, tenantID string, r route, reason string) error {
	if ok, wait := c.buckets.CanExecute(r.name, tenantID); !ok {
		return fmt.Errorf("%s rate limited for %s: %w", r.name, wait, models.ErrTransientNetwork)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w: %w", r.name, models.ErrTransientNetwork, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.cfg.BaseURL + r.path)
	req.Header.SetMethod(r.method)
	req.Header.Set("Authorization", "Bot "+c.cfg.Token)
	if reason != "" {
		req.Header.Set("X-Audit-Log-Reason", url.PathEscape(reason))
	}
	if r.body != nil {
		body, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", r.name, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	if err := c.pool.GetClient().DoDeadline(req, resp, deadline); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return fmt.Errorf("%s %s: timed out: %w", r.name, r.path, models.ErrTransientNetwork)
		}
		return fmt.Errorf("%s %s: %w: %w", r.name, r.path, models.ErrTransientNetwork, err)
	}

	c.buckets.UpdateFromFastHTTPResponse(resp, r.name, tenantID)

	status := resp.StatusCode()
	logging.Debug("[REST] %s %s -> %d in %d µs", r.method, r.path, status, time.Since(start).Microseconds())

	switch {
	case status >= 200 && status < 300:
		return nil
	case status == fasthttp.StatusNotFound && r.gone404:
		return nil
	case status == fasthttp.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("%s %s: status %d: %w", r.name, r.path, status, models.ErrTransientNetwork)
	default:
		return fmt.Errorf("%s %s: status %d: %s", r.name, r.path, status, truncate(resp.Body(), 200))
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
