package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/amoylab/oauthd/internal/auth/cleanup"
	"github.com/amoylab/oauthd/internal/auth/client"
	"github.com/amoylab/oauthd/internal/auth/code"
	"github.com/amoylab/oauthd/internal/auth/session"
	"github.com/amoylab/oauthd/internal/auth/token"
	"github.com/amoylab/oauthd/internal/common/cnst"
	"github.com/amoylab/oauthd/internal/common/config"
	"github.com/amoylab/oauthd/internal/common/errorx"
	"github.com/amoylab/oauthd/internal/i18n"
	"github.com/amoylab/oauthd/internal/ratelimit"
	"github.com/amoylab/oauthd/internal/server/middleware"
	"github.com/amoylab/oauthd/pkg/metrics"
)

type (
	// Deps are the collaborators the HTTP surface is built from. Limiter,
	// Sampler, Metrics and I18n are optional.
	Deps struct {
		Config   *config.Config
		Clients  *client.Registry
		Codes    *code.Issuer
		Tokens   *token.Manager
		Sessions *session.Service
		Limiter  *ratelimit.Limiter
		Sampler  *cleanup.Sampler
		Metrics  *metrics.Metrics
		I18n     *i18n.I18n
	}

	// Server is the OAuth HTTP API
	Server struct {
		logger    *zap.Logger
		cfg       *config.Config
		deps      Deps
		router    *gin.Engine
		httpSrv   *http.Server
		responder *middleware.Responder
		openapi   *openapi3.T
	}
)

// New builds the router with its interceptor chains
func New(ctx context.Context, logger *zap.Logger, deps Deps) (*Server, error) {
	if deps.Config == nil || deps.Clients == nil || deps.Codes == nil || deps.Tokens == nil || deps.Sessions == nil {
		return nil, errors.New("server: missing dependency")
	}
	cfg := deps.Config

	doc, err := buildOpenAPI(ctx, cfg.Session.CookieName)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	s := &Server{
		logger:    logger.Named("server"),
		cfg:       cfg,
		deps:      deps,
		router:    router,
		responder: middleware.NewResponder(logger, deps.I18n),
		openapi:   doc,
	}
	s.router.Use(otelgin.Middleware(cnst.AppName))
	s.router.Use(s.globalChain().Handlers()...)
	s.registerRoutes()

	s.httpSrv = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s, nil
}

// globalChain runs on every request, matched or not
func (s *Server) globalChain() middleware.Chain {
	chain := middleware.NewChain(
		middleware.RequestID{},
		middleware.NewAccessLog(s.logger),
		middleware.NewRecovery(s.logger, s.responder),
	)
	if s.deps.Metrics != nil {
		chain = chain.Append(middleware.Func("metrics", s.deps.Metrics.Middleware()))
	}
	chain = chain.Append(
		middleware.SecurityHeaders{HSTS: strings.HasPrefix(s.cfg.Server.Issuer, "https://")},
		middleware.NewCORS(s.cfg.CORS),
	)
	if s.cfg.Cleanup.Mode == cnst.CleanupModeSampled && s.deps.Sampler != nil {
		chain = chain.Append(middleware.NewCleanupSampler(s.deps.Sampler))
	}
	return chain
}

// rateLimit returns the limiter of one bucket, or nil when limiting is off
func (s *Server) rateLimit(bucket string) middleware.Interceptor {
	if s.deps.Limiter == nil || !s.cfg.RateLimit.IsEnabled() {
		return nil
	}
	policy := ratelimit.PolicyFromConfig(s.cfg.RateLimit.Policies[bucket])
	return middleware.NewRateLimit(s.logger, s.deps.Limiter, bucket, policy, s.responder, s.deps.Metrics)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health_check", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Health check passed.",
		})
	})
	s.router.GET("/.well-known/oauth-authorization-server", s.handleServerMetadata)
	s.router.GET("/openapi.json", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.openapi)
	})
	if s.deps.Metrics != nil && s.cfg.Metrics.Enabled && s.cfg.Metrics.Addr == "" {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	var (
		state    = middleware.NewStateValidation(s.responder)
		sessions = middleware.NewSessionAuth(s.deps.Sessions, s.cfg.Session.CookieName, s.responder)
		clients  = middleware.NewClientAuth(s.deps.Clients, s.responder)
		bearer   = middleware.NewBearerAuth(s.deps.Tokens, s.responder)
	)

	g := s.router.Group("/oauth")
	authorize := middleware.NewChain(s.rateLimit(config.BucketAuthorize), state, sessions)
	g.GET("/authorize", authorize.Then(s.handleAuthorizeConsent)...)
	g.POST("/authorize", authorize.Then(s.handleAuthorizeDecision)...)
	g.POST("/token", middleware.NewChain(s.rateLimit(config.BucketToken), clients).Then(s.handleToken)...)
	g.POST("/validate", middleware.NewChain(s.rateLimit(config.BucketValidate), bearer).Then(s.handleValidate)...)
	g.GET("/userinfo", middleware.NewChain(s.rateLimit(config.BucketUserInfo), bearer).Then(s.handleUserInfo)...)
	g.POST("/revoke", middleware.NewChain(s.rateLimit(config.BucketRevoke), clients).Then(s.handleRevoke)...)

	s.router.NoRoute(func(c *gin.Context) {
		s.responder.Abort(c, errorx.ErrNotFound)
	})
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in the background. A listener failure is logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting server", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("failed to start server", zap.Error(err))
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpSrv.Shutdown(ctx)
}
