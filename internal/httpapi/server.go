// Package httpapi is the HTTP front door: WebRTC offer/answer exchange over
// POST /connect, liveness and metrics endpoints, and static asset serving
// for the browser client. It owns no protocol state itself; everything it
// serves is read from the Lobby or delegated to signalling.Admission.
package httpapi

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"lanrelay/internal/lobby"
	"lanrelay/internal/signalling"
)

// Server is the Echo application serving admission and operational
// endpoints.
type Server struct {
	echo      *echo.Echo
	admission *signalling.Admission
	lob       *lobby.Lobby
	logger    *slog.Logger
	limiter   *ipRateLimiter
}

// Config bundles the construction-time dependencies and options for New.
type Config struct {
	Admission *signalling.Admission
	Lobby     *lobby.Lobby
	Logger    *slog.Logger
	// StaticDir, if non-empty, is served at the web root below the API
	// routes below (e.g. the browser client bundle).
	StaticDir string
	// RatePerSecond/RateBurst configure the per-IP token bucket gating
	// POST /connect. Zero disables rate limiting (used in tests).
	RatePerSecond rate.Limit
	RateBurst     int
}

// New constructs the Echo application and registers routes.
func New(cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e.Use(middleware.Recover())

	s := &Server{echo: e, admission: cfg.Admission, lob: cfg.Lobby, logger: logger}
	e.Use(s.requestLogger())
	if cfg.RatePerSecond > 0 {
		s.limiter = newIPRateLimiter(cfg.RatePerSecond, cfg.RateBurst)
	}
	s.registerRoutes(cfg.StaticDir)
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) registerRoutes(staticDir string) {
	s.echo.POST("/connect", s.handleConnect)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", s.handleMetrics)
	if staticDir != "" {
		s.echo.Static("/", staticDir)
	}
}

// Run starts the HTTPS server on addr with the given TLS configuration and
// blocks until ctx is cancelled or startup fails.
func (s *Server) Run(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.echo.Listener = tls.NewListener(ln, tlsConfig)

	errCh := make(chan error, 1)
	go func() {
		err := s.echo.StartServer(&http.Server{})
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

// requestLogger returns Echo middleware that logs each HTTP request via
// slog, mirroring the per-connection structured logging used elsewhere in
// this stack.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			s.logger.Debug("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", c.RealIP(),
			)
			return nil
		}
	}
}

type connectRequest struct {
	SDP string `json:"sdp"`
	Tag string `json:"tag"`
}

type malformedResponse struct {
	Malformed string `json:"Malformed"`
}

// handleConnect decodes the offer, rate-limits by remote IP, hands off to
// signalling.Admission, and responds with the answer or a Malformed error.
func (s *Server) handleConnect(c echo.Context) error {
	if s.limiter != nil && !s.limiter.Allow(c.RealIP()) {
		return c.JSON(http.StatusTooManyRequests, malformedResponse{Malformed: "rate limited"})
	}

	var req connectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, malformedResponse{Malformed: err.Error()})
	}

	// A caller-supplied tag is used verbatim for log correlation; absent
	// one, a fresh UUID identifies this connect attempt (the remote IP
	// alone may be shared by several clients behind the same NAT).
	tag := req.Tag
	if tag == "" {
		tag = uuid.NewString()
	}

	answer, err := s.admission.CreateAnswer(c.Request().Context(), req.SDP, tag)
	if err != nil {
		return c.JSON(http.StatusBadRequest, malformedResponse{Malformed: err.Error()})
	}
	return c.JSON(http.StatusOK, answer)
}

type healthResponse struct {
	Status  string `json:"status"`
	Members int    `json:"members"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Members: s.lob.MemberCount()})
}

type metricsResponse struct {
	Members        int    `json:"members"`
	BroadcastCount uint64 `json:"broadcast_count"`
	BytesRelayed   uint64 `json:"bytes_relayed"`
}

func (s *Server) handleMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, metricsResponse{
		Members:        s.lob.MemberCount(),
		BroadcastCount: s.lob.BroadcastCount(),
		BytesRelayed:   s.lob.BytesRelayed(),
	})
}
