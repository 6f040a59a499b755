// Package http is the web edge: gin routes, the signed session cookie,
// and the interactive login flow. Handlers stay thin, the workflows live
// in internal/usecase.
package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"cloudgate/internal/config"
	"cloudgate/internal/domain"
	"cloudgate/internal/infra/aad"
	"cloudgate/internal/infra/auth/oidc"
	"cloudgate/internal/infra/tokencache"
	"cloudgate/internal/usecase"
)

const sessionTTL = 8 * time.Hour

type Server struct {
	cfg config.Config
	r   *gin.Engine

	credStore domain.CredentialStore
	subs      *usecase.SubscriptionService
	resolver  *oidc.Resolver

	sessions   *sessionManager
	flows      *flowTable
	httpClient *http.Client
	appTokens  *aad.AppTokenSource
}

type ServerDeps struct {
	CredentialStore domain.CredentialStore
	Subscriptions   *usecase.SubscriptionService
	Resolver        *oidc.Resolver
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout()}
	s := &Server{
		cfg:        cfg,
		r:          r,
		credStore:  deps.CredentialStore,
		subs:       deps.Subscriptions,
		resolver:   deps.Resolver,
		sessions:   newSessionManager(cfg.SessionSecret, sessionTTL, strings.HasPrefix(cfg.RedirectURL, "https://")),
		flows:      newFlowTable(),
		httpClient: httpClient,
		appTokens:  aad.NewAppTokenSource(deps.Resolver, cfg.ClientID, cfg.ClientSecret, httpClient),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := s.r.Group("/auth")
	{
		auth.GET("/login", s.handleLogin)
		auth.GET("/callback", s.handleCallback)
		auth.POST("/callback", s.handleCallback)
		auth.GET("/logout", s.handleLogout)
	}

	api := s.r.Group("/api", s.requireSession)
	{
		api.GET("/subscriptions", s.handleListSubscriptions)
		api.POST("/subscriptions/:id/connect", s.handleConnect)
		api.POST("/subscriptions/:id/disconnect", s.handleDisconnect)
		api.POST("/subscriptions/:id/repair", s.handleRepair)
	}
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}

// Handler exposes the router. Tests drive it through httptest.
func (s *Server) Handler() http.Handler {
	return s.r
}

const principalKey = "principal"

func (s *Server) requireSession(c *gin.Context) {
	principal, err := s.sessions.Principal(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
			Code:     "login_required",
			Message:  "no valid session",
			LoginURL: "/auth/login",
		})
		return
	}
	c.Set(principalKey, principal)
	c.Next()
}

func currentPrincipal(c *gin.Context) domain.Principal {
	principal, _ := c.MustGet(principalKey).(domain.Principal)
	return principal
}

// tokenProviderFor builds the per-request token source for the signed-in
// user: the tenant authority is resolved fresh and the token cache is
// bound to the user's key in the shared credential store.
func (s *Server) tokenProviderFor(c *gin.Context, principal domain.Principal) (usecase.TokenProvider, error) {
	authority, err := s.resolver.Resolve(c.Request.Context(), principal.TenantID)
	if err != nil {
		return nil, err
	}
	cache := tokencache.New(s.credStore, principal.UserKey, s.cfg.TokenStoreStrictWrites)
	source := aad.NewTokenSource(authority, s.cfg.ClientID, s.cfg.ClientSecret, cache, s.httpClient)
	return tokenProvider{source: source, app: s.appTokens}, nil
}

// tokenProvider adapts the aad token sources to the usecase port, which
// deals in bare access tokens. Silent acquisition is bound to the
// session tenant's authority; app-only acquisition resolves the target
// directory per call.
type tokenProvider struct {
	source *aad.TokenSource
	app    *aad.AppTokenSource
}

func (p tokenProvider) AcquireSilent(ctx context.Context, resource string) (string, error) {
	tok, err := p.source.AcquireSilent(ctx, resource)
	return tok.AccessToken, err
}

func (p tokenProvider) AcquireAppOnly(ctx context.Context, directoryID, resource string) (string, error) {
	tok, err := p.app.Acquire(ctx, directoryID, resource)
	return tok.AccessToken, err
}
