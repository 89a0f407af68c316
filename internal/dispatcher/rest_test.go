package dispatcher

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/Tanmayop9/discord-antinuke/internal/models"
)

type recorded struct {
	method string
	path   string
	reason string
	auth   string
	body   string
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []recorded
	status   int
	headers  map[string]string
}

func (f *fakeAPI) handle(ctx *fasthttp.RequestCtx) {
	f.mu.Lock()
	f.requests = append(f.requests, recorded{
		method: string(ctx.Method()),
		path:   string(ctx.Path()),
		reason: string(ctx.Request.Header.Peek("X-Audit-Log-Reason")),
		auth:   string(ctx.Request.Header.Peek("Authorization")),
		body:   string(ctx.PostBody()),
	})
	status := f.status
	for k, v := range f.headers {
		ctx.Response.Header.Set(k, v)
	}
	f.mu.Unlock()

	if status == 0 {
		status = fasthttp.StatusNoContent
	}
	ctx.SetStatusCode(status)
}

func (f *fakeAPI) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestClient(t *testing.T, api *fakeAPI) *RESTClient {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: api.handle}
	go srv.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { _ = ln.Close() })

	pool := NewHTTPPool(2, func(string) (net.Conn, error) { return ln.Dial() })
	return NewRESTClient(pool, RESTConfig{
		BaseURL:           "http://discord.test/api/v10",
		Token:             "secret",
		Timeout:           time.Second,
		RequestsPerSecond: 1000,
		Burst:             100,
	})
}

func TestExecuteActionRoutes(t *testing.T) {
	cases := []struct {
		action models.ActionType
		method string
		path   string
		body   string
	}{
		{models.ActionBan, "PUT", "/api/v10/guilds/g1/bans/u1", `{"delete_message_seconds":0}`},
		{models.ActionKick, "DELETE", "/api/v10/guilds/g1/members/u1", ""},
		{models.ActionStripRoles, "PATCH", "/api/v10/guilds/g1/members/u1", `{"roles":[]}`},
		{models.ActionUnban, "DELETE", "/api/v10/guilds/g1/bans/u1", ""},
		{models.ActionDeleteChannel, "DELETE", "/api/v10/channels/u1", ""},
		{models.ActionDeleteRole, "DELETE", "/api/v10/guilds/g1/roles/u1", ""},
	}

	api := &fakeAPI{}
	client := newTestClient(t, api)

	for _, tc := range cases {
		t.Run(tc.action.String(), func(t *testing.T) {
			err := client.ExecuteAction(context.Background(), "g1", tc.action, "u1", "Antinuke: test")
			require.NoError(t, err)

			got := api.last()
			assert.Equal(t, tc.method, got.method)
			assert.Equal(t, tc.path, got.path)
			assert.Equal(t, tc.body, got.body)
			assert.Equal(t, "Bot secret", got.auth)
			assert.Equal(t, "Antinuke:%20test", got.reason)
		})
	}
}

func TestExecuteActionRejectsBadInput(t *testing.T) {
	api := &fakeAPI{}
	client := newTestClient(t, api)

	err := client.ExecuteAction(context.Background(), "g1", models.ActionType(99), "u1", "")
	assert.ErrorIs(t, err, models.ErrConfiguration)

	err = client.ExecuteAction(context.Background(), "g1", models.ActionBan, "", "")
	assert.ErrorIs(t, err, models.ErrConfiguration)

	assert.Zero(t, api.count())
}

func TestExecuteActionStatusHandling(t *testing.T) {
	t.Run("server error is transient", func(t *testing.T) {
		client := newTestClient(t, &fakeAPI{status: 502})
		err := client.ExecuteAction(context.Background(), "g1", models.ActionBan, "u1", "")
		assert.ErrorIs(t, err, models.ErrTransientNetwork)
	})

	t.Run("forbidden is permanent", func(t *testing.T) {
		client := newTestClient(t, &fakeAPI{status: 403})
		err := client.ExecuteAction(context.Background(), "g1", models.ActionKick, "u1", "")
		require.Error(t, err)
		assert.NotErrorIs(t, err, models.ErrTransientNetwork)
		assert.Contains(t, err.Error(), "status 403")
	})

	t.Run("unknown target counts as deleted", func(t *testing.T) {
		client := newTestClient(t, &fakeAPI{status: 404})
		assert.NoError(t, client.ExecuteAction(context.Background(), "g1", models.ActionDeleteChannel, "c1", ""))
		assert.Error(t, client.ExecuteAction(context.Background(), "g1", models.ActionBan, "u1", ""))
	})
}

func TestExecuteActionHonoursRateLimit(t *testing.T) {
	api := &fakeAPI{
		status:  fasthttp.StatusTooManyRequests,
		headers: map[string]string{"Retry-After": "30"},
	}
	client := newTestClient(t, api)

	err := client.ExecuteAction(context.Background(), "g1", models.ActionBan, "u1", "")
	assert.ErrorIs(t, err, models.ErrTransientNetwork)
	require.Equal(t, 1, api.count())

	// The bucket is exhausted; the next call fails without a request.
	err = client.ExecuteAction(context.Background(), "g1", models.ActionBan, "u2", "")
	assert.ErrorIs(t, err, models.ErrTransientNetwork)
	assert.Equal(t, 1, api.count())

	// Other tenants use their own bucket.
	api.mu.Lock()
	api.status = 0
	api.mu.Unlock()
	assert.NoError(t, client.ExecuteAction(context.Background(), "g2", models.ActionBan, "u1", ""))
}

func TestRateLimitMonitorResets(t *testing.T) {
	rlm := NewRateLimitMonitor()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rlm.now = func() time.Time { return now }

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)
	resp.Header.Set("X-RateLimit-Remaining", "0")
	resp.Header.Set("X-RateLimit-Limit", "5")
	resp.Header.Set("X-RateLimit-Reset-After", "1.5")
	rlm.UpdateFromFastHTTPResponse(resp, "ban", "g1")

	ok, wait := rlm.CanExecute("ban", "g1")
	assert.False(t, ok)
	assert.Equal(t, 1500*time.Millisecond, wait)
	assert.Equal(t, 5, rlm.GetBucket("ban", "g1").Limit)

	now = now.Add(2 * time.Second)
	ok, _ = rlm.CanExecute("ban", "g1")
	assert.True(t, ok)
}

func TestHTTPPoolRoundRobin(t *testing.T) {
	pool := NewHTTPPool(3, nil)
	first := pool.GetClient()
	pool.GetClient()
	pool.GetClient()
	assert.Same(t, first, pool.GetClient())
	assert.Equal(t, 3, pool.Size())
}
