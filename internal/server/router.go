package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fieldsetapp/fieldset/backend/internal/auth"
	"github.com/fieldsetapp/fieldset/backend/internal/forms"
	"github.com/fieldsetapp/fieldset/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const identityContextKey = "fieldset_identity"

// manageSegment is the reserved first path segment for owner-only routes.
// Slugs never collide with it because generated slugs always end in a digit
// suffix.
const manageSegment = "manage"

var (
	errMissingSessionManager = errors.New("session manager dependency required")
	errMissingUsersService   = errors.New("users service dependency required")
	errMissingFormsService   = errors.New("forms service dependency required")
)

// GoogleVerifier checks a Google ID token and returns its verified claims.
type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

// Dependencies wires the HTTP layer. GoogleVerifier may be nil, which
// disables the Google sign-in route.
type Dependencies struct {
	Sessions       *auth.SessionManager
	GoogleVerifier GoogleVerifier
	Users          *users.Service
	Forms          *forms.Service
	Dispatcher     *SubmissionDispatcher
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router for the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Forms == nil {
		return nil, errMissingFormsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewSubmissionDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions:     deps.Sessions,
		verifier:     deps.GoogleVerifier,
		usersService: deps.Users,
		formsService: deps.Forms,
		dispatcher:   dispatcher,
		logger:       logger,
	}
	router.Use(handler.resolveIdentity)

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)
	router.POST("/auth/google", handler.handleGoogleAuth)
	router.POST("/auth/logout", handler.handleLogout)
	router.GET("/auth/me", handler.handleCurrentUser)

	router.POST("/forms", handler.handleCreateForm)
	router.GET("/forms", handler.handleListForms)
	router.GET("/forms/:slug", handler.handleGetFormBySlug)
	router.POST("/forms/:slug", handler.handleSubmitForm)

	// Management paths share the /forms/:slug wildcard with the public form
	// routes, so the "manage" segment is dispatched inside the handlers.
	router.GET("/forms/:slug/:id", handler.handleManageGet)
	router.PUT("/forms/:slug/:id", handler.handleManageUpdate)
	router.DELETE("/forms/:slug/:id", handler.handleManageDelete)
	router.GET("/forms/:slug/:id/:sub", handler.handleManageSub)

	router.GET("/stats", handler.handleStats)

	return router, nil
}

type httpHandler struct {
	sessions     *auth.SessionManager
	verifier     GoogleVerifier
	usersService *users.Service
	formsService *forms.Service
	dispatcher   *SubmissionDispatcher
	logger       *zap.Logger
}

// resolveIdentity attaches the requester identity when a valid session
// accompanies the request. Anonymous and invalid sessions both continue
// without one; routes that need authentication reject later.
func (h *httpHandler) resolveIdentity(c *gin.Context) {
	identity, err := h.sessions.IdentityFromRequest(c.Request)
	if err == nil {
		c.Set(identityContextKey, &identity)
	} else if !errors.Is(err, auth.ErrMissingSessionToken) {
		h.logger.Debug("session rejected", zap.Error(err))
	}
	c.Next()
}

// identity returns the resolved requester identity, nil when anonymous.
func (h *httpHandler) identity(c *gin.Context) *auth.Identity {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return nil
	}
	identity, ok := value.(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}

// requireIdentity resolves the identity or ends the request with 401.
func (h *httpHandler) requireIdentity(c *gin.Context) (*auth.Identity, bool) {
	identity := h.identity(c)
	if identity == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication_required"})
		return nil, false
	}
	return identity, true
}

// writeServiceError maps forms service failures onto the HTTP contract.
// Internal failures are logged with detail and surfaced generically.
func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	var serviceErr *forms.ServiceError
	if !errors.As(err, &serviceErr) {
		h.logger.Error("unclassified failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	switch serviceErr.Kind() {
	case forms.ErrorKindValidationFailed:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"code":    serviceErr.Code(),
			"details": serviceErr.Details(),
		})
	case forms.ErrorKindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "code": serviceErr.Code()})
	case forms.ErrorKindAccessDenied:
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied", "code": serviceErr.Code()})
	case forms.ErrorKindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "code": serviceErr.Code()})
	default:
		h.logger.Error("forms service failure", zap.String("code", serviceErr.Code()), zap.Error(serviceErr))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

// requestMeta captures best-effort transport metadata for a submission.
func requestMeta(c *gin.Context) forms.RequestMeta {
	ip := c.GetHeader("X-Forwarded-For")
	if ip == "" {
		ip = c.GetHeader("X-Real-IP")
	}
	if ip == "" {
		ip = c.ClientIP()
	}
	return forms.RequestMeta{
		IP:        ip,
		UserAgent: c.GetHeader("User-Agent"),
	}
}
