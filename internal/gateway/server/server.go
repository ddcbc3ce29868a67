// Package server is the fasthttp front of the link gateway: the public
// redirect endpoint, the create API and the admin API, all tenant-scoped
// by the request host.
package server

import (
	"context"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/linkmesh/engine/internal/common/requestid"
	"github.com/linkmesh/engine/internal/gateway/clientip"
	"github.com/linkmesh/engine/internal/gateway/device"
	"github.com/linkmesh/engine/internal/gateway/metrics"
	"github.com/linkmesh/engine/internal/gateway/tenant"
	"github.com/linkmesh/engine/internal/shortener/admin"
	"github.com/linkmesh/engine/internal/shortener/creator"
	"github.com/linkmesh/engine/internal/shortener/resolver"
	"github.com/linkmesh/engine/pkg/types"
)

const apiPrefix = "/api/links"

// ClickEmitter is the fire-and-forget click pipeline entry point. The
// redirect path never waits on it and never observes its failures.
type ClickEmitter interface {
	Emit(event *types.ClickEvent)
}

// Options carry the request-scoped extraction settings.
type Options struct {
	// ClientIPHeaders are consulted in order for the real client address.
	ClientIPHeaders []string
	// CountryHeader names an edge-provided ISO country header (optional).
	CountryHeader string
}

// Server routes gateway requests. All dependencies are injected; Clicks
// and ReadyCheck may be nil.
type Server struct {
	resolver *resolver.Resolver
	creator  *creator.Coordinator
	admin    *admin.Service
	tenants  *tenant.Resolver
	devices  *device.Classifier
	clicks   ClickEmitter
	metrics  *metrics.Metrics
	opts     Options
	logger   *zap.Logger

	// readyCheck probes the critical dependencies for /ready. Nil means
	// always ready.
	readyCheck func(ctx context.Context) error
}

// New creates a Server.
func New(
	res *resolver.Resolver,
	cre *creator.Coordinator,
	adm *admin.Service,
	tenants *tenant.Resolver,
	devices *device.Classifier,
	clicks ClickEmitter,
	m *metrics.Metrics,
	opts Options,
	readyCheck func(ctx context.Context) error,
	logger *zap.Logger,
) *Server {
	return &Server{
		resolver:   res,
		creator:    cre,
		admin:      adm,
		tenants:    tenants,
		devices:    devices,
		clicks:     clicks,
		metrics:    m,
		opts:       opts,
		readyCheck: readyCheck,
		logger:     logger,
	}
}

// HandleRequest is the fasthttp entry point.
func (s *Server) HandleRequest(ctx *fasthttp.RequestCtx) {
	reqID := requestid.Generate(string(ctx.Request.Header.Peek("X-Request-ID")))
	ctx.Response.Header.Set("X-Request-ID", reqID)

	logger := s.logger.With(zap.String("request_id", reqID))

	path := string(ctx.Path())
	switch {
	case path == "/health":
		s.handleHealth(ctx)
		return
	case path == "/ready":
		s.handleReady(ctx)
		return
	}

	s.metrics.RequestStarted()
	defer s.metrics.RequestFinished()

	tenantID, ok := s.tenants.Resolve(string(ctx.Host()))
	if !ok {
		logger.Warn("Request for unmapped host", zap.ByteString("host", ctx.Host()))
		s.writeError(ctx, fasthttp.StatusNotFound, "Unknown host")
		return
	}
	logger = logger.With(zap.Int64("tenant_id", tenantID))

	switch {
	case path == apiPrefix:
		s.handleLinksCollection(ctx, tenantID, logger)
	case strings.HasPrefix(path, apiPrefix+"/"):
		s.handleLinksItem(ctx, tenantID, strings.TrimPrefix(path, apiPrefix+"/"), logger)
	default:
		s.handleRedirect(ctx, tenantID, logger)
	}
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Content-Type", "text/plain")
	ctx.Response.SetStatusCode(fasthttp.StatusOK)
	ctx.Response.SetBodyString("OK")
}

func (s *Server) handleReady(ctx *fasthttp.RequestCtx) {
	if s.readyCheck != nil {
		probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.readyCheck(probeCtx); err != nil {
			s.writeError(ctx, fasthttp.StatusServiceUnavailable, "Not ready")
			return
		}
	}
	ctx.Response.Header.Set("Content-Type", "text/plain")
	ctx.Response.SetStatusCode(fasthttp.StatusOK)
	ctx.Response.SetBodyString("OK")
}

// handleRedirect serves GET /{code}. The 302 is written before any
// telemetry work; click emission is non-blocking and its failures never
// reach the client.
func (s *Server) handleRedirect(ctx *fasthttp.RequestCtx, tenantID int64, logger *zap.Logger) {
	if !ctx.IsGet() && !ctx.IsHead() {
		s.writeError(ctx, fasthttp.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	code := strings.TrimPrefix(string(ctx.Path()), "/")
	if code == "" || strings.ContainsRune(code, '/') {
		s.metrics.Redirect("invalid")
		s.writeError(ctx, fasthttp.StatusNotFound, "Not found")
		return
	}

	start := time.Now()
	res, err := s.resolver.Resolve(ctx, tenantID, code, time.Now().UTC())
	if err != nil {
		s.writeResolveError(ctx, err, code, logger)
		return
	}
	s.metrics.ObserveResolve(res.FromCache, time.Since(start))
	s.metrics.Redirect("redirect")

	// Redirects must never be cached: liveness can flip at any moment.
	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.Response.Header.Set("Location", res.Destination)
	ctx.Response.SetStatusCode(fasthttp.StatusFound)

	s.emitClick(ctx, tenantID, code, res)
}

func (s *Server) writeResolveError(ctx *fasthttp.RequestCtx, err error, code string, logger *zap.Logger) {
	switch {
	case isErr(err, types.ErrInvalidCode):
		s.metrics.Redirect("invalid")
		s.writeError(ctx, fasthttp.StatusNotFound, "Not found")
	case isErr(err, types.ErrNotFound):
		s.metrics.Redirect("not_found")
		s.writeError(ctx, fasthttp.StatusNotFound, "Not found")
	case isErr(err, types.ErrGone):
		s.metrics.Redirect("gone")
		s.writeError(ctx, fasthttp.StatusGone, "Gone")
	default:
		s.metrics.Redirect("error")
		logger.Error("Resolve failed", zap.String("code", code), zap.Error(err))
		s.writeError(ctx, fasthttp.StatusServiceUnavailable, "Service unavailable")
	}
}

func (s *Server) emitClick(ctx *fasthttp.RequestCtx, tenantID int64, code string, res *resolver.Resolution) {
	if s.clicks == nil {
		return
	}

	userAgent := string(ctx.UserAgent())
	event := &types.ClickEvent{
		LinkID:      res.LinkID,
		TenantID:    tenantID,
		Code:        code,
		Destination: res.Destination,
		ClientIP:    clientip.Extract(ctx, s.opts.ClientIPHeaders),
		UserAgent:   userAgent,
		Referrer:    string(ctx.Request.Header.Peek("Referer")),
	}
	if s.opts.CountryHeader != "" {
		event.Country = strings.ToUpper(string(ctx.Request.Header.Peek(s.opts.CountryHeader)))
	}
	if s.devices != nil {
		event.DeviceClass = s.devices.Classify(userAgent)
		event.BrowserFamily, event.OSFamily = s.devices.Families(userAgent)
	}

	s.clicks.Emit(event)
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, statusCode int, message string) {
	ctx.Response.Header.Set("Content-Type", "text/plain")
	ctx.Response.SetStatusCode(statusCode)
	ctx.Response.SetBodyString(message)
}
