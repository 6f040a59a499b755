package http

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cloudgate/internal/domain"
	"cloudgate/internal/infra/aad"
	"cloudgate/internal/infra/auth/oidc"
	"cloudgate/internal/infra/tokencache"
	"cloudgate/internal/usecase"
)

type errorResponse struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	DirectoryID string `json:"directory_id,omitempty"`
	LoginURL    string `json:"login_url,omitempty"`
}

type subscriptionResponse struct {
	ID          string    `json:"id"`
	DirectoryID string    `json:"directory_id"`
	ConnectedBy string    `json:"connected_by"`
	ConnectedOn time.Time `json:"connected_on"`
	NeedsRepair bool      `json:"needs_repair"`
}

func loginURLForDirectory(directoryID string) string {
	return "/auth/login?directory_id=" + url.QueryEscape(directoryID)
}

// handleLogin starts an interactive sign-in against the requested
// directory (default "common"). The authority is resolved fresh for this
// attempt and pinned in the flow table until the callback consumes it.
func (s *Server) handleLogin(c *gin.Context) {
	directoryID := c.DefaultQuery("directory_id", "common")
	authority, err := s.resolver.Resolve(c.Request.Context(), directoryID)
	if err != nil {
		c.JSON(http.StatusBadGateway, errorResponse{Code: "authority_resolution", Message: err.Error()})
		return
	}

	state := uuid.NewString()
	nonce := uuid.NewString()
	s.flows.Put(state, loginFlow{Authority: authority, Tenant: directoryID, Nonce: nonce})

	query := url.Values{
		"client_id":     {s.cfg.ClientID},
		"response_type": {"code id_token"},
		"response_mode": {"form_post"},
		"redirect_uri":  {s.cfg.RedirectURL},
		"resource":      {s.cfg.ResourceManagerAudience},
		"state":         {state},
		"nonce":         {nonce},
		"prompt":        {"select_account"},
	}
	c.Redirect(http.StatusFound, authority.AuthorizationEndpoint+"?"+query.Encode())
}

// handleCallback finishes the sign-in: state lookup, ID-token
// verification against the pinned authority, code redemption into the
// user's token cache, session cookie.
func (s *Server) handleCallback(c *gin.Context) {
	if errCode := c.Request.FormValue("error"); errCode != "" {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: errCode, Message: c.Request.FormValue("error_description")})
		return
	}
	flow, ok := s.flows.Take(c.Request.FormValue("state"))
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_state", Message: "unknown or expired login flow"})
		return
	}
	idToken := c.Request.FormValue("id_token")
	code := c.Request.FormValue("code")
	if idToken == "" || code == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_callback", Message: "missing id_token or code"})
		return
	}

	verifier := oidc.NewVerifier(flow.Authority, s.cfg.ClientID, s.cfg.TrustedIssuerPrefix, s.httpClient).
		WithClockSkew(s.cfg.IDTokenClockSkew())
	principal, err := verifier.Verify(c.Request.Context(), idToken, flow.Nonce)
	if err != nil {
		reason := "invalid_token"
		if errors.Is(err, domain.ErrUntrustedIssuer) {
			reason = "untrusted_issuer"
		}
		c.JSON(http.StatusUnauthorized, errorResponse{Code: reason, Message: err.Error()})
		return
	}

	cache := tokencache.New(s.credStore, principal.UserKey, s.cfg.TokenStoreStrictWrites)
	source := aad.NewTokenSource(flow.Authority, s.cfg.ClientID, s.cfg.ClientSecret, cache, s.httpClient)
	if _, err := source.AcquireByAuthorizationCode(c.Request.Context(), code, s.cfg.RedirectURL, s.cfg.ResourceManagerAudience); err != nil {
		c.JSON(http.StatusBadGateway, errorResponse{Code: "code_redemption", Message: err.Error()})
		return
	}

	if err := s.sessions.Issue(c.Writer, principal); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "session", Message: err.Error()})
		return
	}
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) handleLogout(c *gin.Context) {
	s.sessions.Clear(c.Writer)
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) handleListSubscriptions(c *gin.Context) {
	principal := currentPrincipal(c)
	tokens, err := s.tokenProviderFor(c, principal)
	if err != nil {
		c.JSON(http.StatusBadGateway, errorResponse{Code: "authority_resolution", Message: err.Error()})
		return
	}
	subs, err := s.subs.List(c.Request.Context(), tokens, principal)
	if err != nil {
		c.JSON(http.StatusBadGateway, errorResponse{Code: "list_failed", Message: err.Error()})
		return
	}
	out := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, subscriptionResponse{
			ID:          sub.ID,
			DirectoryID: sub.DirectoryID,
			ConnectedBy: sub.ConnectedBy,
			ConnectedOn: sub.ConnectedOn,
			NeedsRepair: sub.NeedsRepair,
		})
	}
	c.JSON(http.StatusOK, gin.H{"value": out})
}

// handleConnect resolves the owning directory first: connecting a
// subscription from another directory requires signing in against that
// directory, which the 409 answer points the client at.
func (s *Server) handleConnect(c *gin.Context) {
	principal := currentPrincipal(c)
	subscriptionID := c.Param("id")
	tokens, err := s.tokenProviderFor(c, principal)
	if err != nil {
		c.JSON(http.StatusBadGateway, errorResponse{Code: "authority_resolution", Message: err.Error()})
		return
	}

	directoryID, err := s.subs.DirectoryFor(c.Request.Context(), principal, subscriptionID)
	var mismatch *usecase.DirectoryMismatchError
	if errors.As(err, &mismatch) {
		c.JSON(http.StatusConflict, errorResponse{
			Code:        "directory_mismatch",
			Message:     mismatch.Error(),
			DirectoryID: mismatch.DirectoryID,
			LoginURL:    loginURLForDirectory(mismatch.DirectoryID),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, errorResponse{Code: "directory_probe", Message: err.Error()})
		return
	}

	if err := s.subs.Connect(c.Request.Context(), tokens, principal, subscriptionID, directoryID); err != nil {
		s.writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	principal := currentPrincipal(c)
	tokens, err := s.tokenProviderFor(c, principal)
	if err != nil {
		c.JSON(http.StatusBadGateway, errorResponse{Code: "authority_resolution", Message: err.Error()})
		return
	}
	if err := s.subs.Disconnect(c.Request.Context(), tokens, principal, c.Param("id")); err != nil {
		s.writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

func (s *Server) handleRepair(c *gin.Context) {
	principal := currentPrincipal(c)
	tokens, err := s.tokenProviderFor(c, principal)
	if err != nil {
		c.JSON(http.StatusBadGateway, errorResponse{Code: "authority_resolution", Message: err.Error()})
		return
	}
	if err := s.subs.Repair(c.Request.Context(), tokens, principal, c.Param("id")); err != nil {
		s.writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "repaired"})
}

func (s *Server) writeWorkflowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrSilentAuthFailed):
		c.JSON(http.StatusUnauthorized, errorResponse{
			Code:     "login_required",
			Message:  err.Error(),
			LoginURL: loginURLForDirectory(currentPrincipal(c).TenantID),
		})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, errorResponse{Code: "forbidden", Message: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Code: "not_found", Message: err.Error()})
	default:
		c.JSON(http.StatusBadGateway, errorResponse{Code: "upstream", Message: err.Error()})
	}
}
