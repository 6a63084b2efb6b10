// Package httpapi is the HTTP front door: request plumbing around the
// challenge engine and the developer registry. It holds no invariant of its
// own beyond translating between wire shapes and engine calls.
package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	payauth "github.com/safu-labs/payauth"
	"github.com/safu-labs/payauth/devauth"
)

// Server exposes the public API.
type Server struct {
	engine *payauth.Service
	devs   *devauth.Registry
	log    *slog.Logger
}

// New creates the HTTP server facade.
func New(engine *payauth.Service, devs *devauth.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: engine, devs: devs, log: log}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), cors())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.POST("/challenge", s.createChallenge)
	api.GET("/poll-auth", s.pollAuth)

	dev := api.Group("/dev")
	dev.POST("/signup", s.devSignup)
	dev.POST("/login", s.devLogin)
	dev.GET("/me", s.devMe)
	dev.POST("/rotate-key", s.devRotateKey)

	return router
}

// challengeRequest is the body of POST /api/challenge.
type challengeRequest struct {
	WebhookURL     string `json:"webhookUrl"`
	AmountLamports uint64 `json:"amountLamports"`
}

// challengeResponse mirrors the wire shape the original dashboard polls
// against: expiry as epoch milliseconds.
type challengeResponse struct {
	ID             string `json:"id"`
	Recipient      string `json:"recipient"`
	AmountLamports uint64 `json:"amountLamports"`
	ExpiresAt      int64  `json:"expiresAt"`
}

func (s *Server) createChallenge(c *gin.Context) {
	project, ok := s.devs.ProjectByAPIKey(c.GetHeader("X-API-Key"))
	if !ok {
		abortWithCode(c, http.StatusUnauthorized, payauth.ErrCodeInvalidAPIKey)
		return
	}

	var req challengeRequest
	// An empty body is a valid request with defaults.
	_ = c.ShouldBindJSON(&req)

	view, err := s.engine.IssueChallenge(c.Request.Context(), project, payauth.IssueOptions{
		AmountLamports: req.AmountLamports,
		WebhookURL:     req.WebhookURL,
	})
	if err != nil {
		s.log.Error("challenge issuance failed", "project", project.ID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "challenge_failed"})
		return
	}
	c.JSON(http.StatusOK, challengeResponse{
		ID:             view.ID,
		Recipient:      view.Recipient,
		AmountLamports: view.AmountLamports,
		ExpiresAt:      view.ExpiresAt.UnixMilli(),
	})
}

func (s *Server) pollAuth(c *gin.Context) {
	id := c.Query("id")
	result, err := s.engine.PollStatus(c.Request.Context(), id)
	if err != nil {
		s.log.Error("poll failed", "challenge", id, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "poll_failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// projectRequest carries optional project policy on signup. The webhook
// secret is accepted here but never echoed back in any response.
type projectRequest struct {
	Name           string `json:"name"`
	MinLamports    uint64 `json:"minLamports"`
	ChallengeTTLMs int64  `json:"challengeTtlMs"`
	Commitment     string `json:"commitment"`
	WebhookURL     string `json:"webhookUrl"`
	WebhookSecret  string `json:"webhookSecret"`
}

type signupRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Project  projectRequest `json:"project"`
}

func (s *Server) devSignup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		abortWithCode(c, http.StatusBadRequest, payauth.ErrCodeMissingFields)
		return
	}
	result, err := s.devs.Signup(req.Email, req.Password, payauth.Project{
		Name:          req.Project.Name,
		MinLamports:   req.Project.MinLamports,
		ChallengeTTL:  time.Duration(req.Project.ChallengeTTLMs) * time.Millisecond,
		Commitment:    req.Project.Commitment,
		WebhookURL:    req.Project.WebhookURL,
		WebhookSecret: req.Project.WebhookSecret,
	})
	if err != nil {
		writeAuthError(c, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, result)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) devLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		abortWithCode(c, http.StatusBadRequest, payauth.ErrCodeMissingFields)
		return
	}
	result, err := s.devs.Login(req.Email, req.Password)
	if err != nil {
		writeAuthError(c, err, http.StatusUnauthorized)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) devMe(c *gin.Context) {
	claims, ok := s.bearerClaims(c)
	if !ok {
		return
	}
	project, ok := s.devs.Project(claims.ProjectID)
	if !ok {
		abortWithCode(c, http.StatusNotFound, payauth.ErrCodeProjectMissing)
		return
	}
	keys := s.devs.KeysForProject(project.ID)
	var latest *devauth.APIKey
	if len(keys) > 0 {
		latest = &keys[len(keys)-1]
	}
	c.JSON(http.StatusOK, gin.H{"project": project, "apiKey": latest})
}

func (s *Server) devRotateKey(c *gin.Context) {
	claims, ok := s.bearerClaims(c)
	if !ok {
		return
	}
	project, ok := s.devs.Project(claims.ProjectID)
	if !ok {
		abortWithCode(c, http.StatusNotFound, payauth.ErrCodeProjectMissing)
		return
	}
	c.JSON(http.StatusOK, gin.H{"apiKey": s.devs.RotateKey(project.ID)})
}

func (s *Server) bearerClaims(c *gin.Context) (*devauth.DevClaims, bool) {
	auth := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		abortWithCode(c, http.StatusUnauthorized, payauth.ErrCodeUnauthorized)
		return nil, false
	}
	claims, ok := s.devs.VerifyDevToken(token)
	if !ok {
		abortWithCode(c, http.StatusUnauthorized, payauth.ErrCodeUnauthorized)
		return nil, false
	}
	return claims, true
}

func abortWithCode(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

// writeAuthError maps typed engine errors onto their codes; anything else is
// an opaque 500.
func writeAuthError(c *gin.Context, err error, status int) {
	if authErr, ok := err.(*payauth.AuthError); ok {
		c.JSON(status, gin.H{"error": authErr.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

// cors allows the static dashboard and demo pages to call the API from any
// origin, mirroring the permissive posture of the original front door.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
