package dispatcher

import (
	"crypto/tls"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

// HTTPPool spreads outbound REST calls over a fixed set of keep-alive clients.
type HTTPPool struct {
	clients []*fasthttp.Client
	next    atomic.Uint32
}

// NewHTTPPool builds size clients. A non-nil dial replaces the network
// dialer, which tests use to route requests to an in-memory listener.
func NewHTTPPool(size int, dial fasthttp.DialFunc) *HTTPPool {
	if size < 1 {
		size = 1
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(128),
	}

	clients := make([]*fasthttp.Client, size)
	for i := range clients {
		clients[i] = &fasthttp.Client{
			MaxConnsPerHost:     512,
			MaxIdleConnDuration: 90 * time.Second,
			ReadTimeout:         5 * time.Second,
			WriteTimeout:        5 * time.Second,
			MaxConnWaitTimeout:  time.Second,
			MaxResponseBodySize: 4 * 1024 * 1024,

			// Remediation calls are not idempotent from the audit log's
			// point of view; retries are left to the caller.
			MaxIdemponentCallAttempts: 1,

			DialDualStack:            true,
			TLSConfig:                tlsConfig,
			NoDefaultUserAgentHeader: true,
			Dial:                     dial,
		}
	}

	return &HTTPPool{clients: clients}
}

func (hp *HTTPPool) GetClient() *fasthttp.Client {
	n := hp.next.Add(1) - 1
	return hp.clients[int(n)%len(hp.clients)]
}

func (hp *HTTPPool) Size() int {
	return len(hp.clients)
}

// Warmup opens a connection per client so the first punishment does not pay
// for the TLS handshake. It reports how many clients answered.
func (hp *HTTPPool) Warmup(url string) int {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	ok := 0
	for _, client := range hp.clients {
		req.SetRequestURI(url)
		req.Header.SetMethod(fasthttp.MethodGet)

		if err := client.DoTimeout(req, resp, 2*time.Second); err == nil && resp.StatusCode() < 500 {
			ok++
		}
		resp.Reset()
	}
	return ok
}
