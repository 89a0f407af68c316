package metrics

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// HealthFunc reports component health for /healthz.
type HealthFunc func() (report interface{}, healthy bool)

// Server exposes /metrics and /healthz over fasthttp.
type Server struct {
	addr    string
	health  HealthFunc
	metrics fasthttp.RequestHandler
	srv     *fasthttp.Server
}

func NewServer(addr string, health HealthFunc) *Server {
	s := &Server{
		addr:    addr,
		health:  health,
		metrics: fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()),
	}
	s.srv = &fasthttp.Server{
		Handler:               s.handle,
		Name:                  "antinuke",
		NoDefaultServerHeader: true,
	}
	return s
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/metrics":
		s.metrics(ctx)
	case "/healthz":
		s.handleHealth(ctx)
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	var report interface{} = map[string]string{"status": "ok"}
	healthy := true
	if s.health != nil {
		report, healthy = s.health()
	}

	body, err := json.Marshal(report)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	if !healthy {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	}
	ctx.SetBody(body)
}

// Serve runs until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe(s.addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		_ = s.srv.Shutdown()
		return ctx.Err()
	}
}

func (s *Server) String() string {
	return "metrics-server"
}
