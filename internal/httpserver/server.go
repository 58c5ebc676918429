// Package httpserver exposes the sync trigger and the per-user API over gin
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mixelka/mailtriage/internal/database"
	"github.com/mixelka/mailtriage/internal/email"
	"github.com/mixelka/mailtriage/internal/metrics"
	"github.com/mixelka/mailtriage/internal/orchestrator"
	"github.com/mixelka/mailtriage/internal/screening"
	"github.com/mixelka/mailtriage/pkg/models"
)

// Syncer is satisfied by *orchestrator.Orchestrator
type Syncer interface {
	RunBatch(ctx context.Context) (*orchestrator.BatchReport, error)
	Status(ctx context.Context, userID int64, accountID *int64) ([]orchestrator.AccountStatus, error)
	ResetUserStuck(ctx context.Context, userID int64, accountID *int64) (int64, error)
	MarkRead(ctx context.Context, userID, emailID int64) (*models.Email, bool, error)
}

// Screener is satisfied by *screening.Manager
type Screener interface {
	RecordDecision(ctx context.Context, userID int64, sender string, decision models.Decision, apply bool) (*models.ScreeningDecision, int, error)
	Undo(ctx context.Context, userID int64, sender string) (int64, error)
	List(ctx context.Context, userID int64) ([]*models.ScreeningDecision, error)
}

// Store is satisfied by *database.DB
type Store interface {
	CreateAccount(ctx context.Context, account *models.EmailAccount) error
	ListAccountsByUser(ctx context.Context, userID int64) ([]*models.EmailAccount, error)
	GetAccountForUser(ctx context.Context, userID, id int64) (*models.EmailAccount, error)
	SetAccountActive(ctx context.Context, id int64, active bool) error
	UpdateCredentials(ctx context.Context, id int64, secret, accessToken string, expiresAt *time.Time) error
	ListEmailsByView(ctx context.Context, userID int64, view models.View, limit, offset int) ([]*models.Email, error)
}

// ConnectionTester is satisfied by *email.Factory
type ConnectionTester interface {
	TestConnection(ctx context.Context, account *models.EmailAccount) error
}

// Encrypter is satisfied by *vault.Vault
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Options server settings
type Options struct {
	JWTSecret    string
	CronSecret   string
	BatchTimeout time.Duration // Deadline of a triggered batch
}

// Server HTTP API
type Server struct {
	syncer   Syncer
	screener Screener
	store    Store
	tester   ConnectionTester
	secrets  Encrypter
	resolve  func(ctx context.Context, address string) (string, int, error)
	opts     Options
	logger   *slog.Logger
	engine   *gin.Engine
}

// New creates the server and registers all routes
func New(opts Options, syncer Syncer, screener Screener, store Store, tester ConnectionTester, secrets Encrypter, logger *slog.Logger) *Server {
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 55 * time.Second
	}

	s := &Server{
		syncer:   syncer,
		screener: screener,
		store:    store,
		tester:   tester,
		secrets:  secrets,
		resolve:  email.ResolveIMAPServer,
		opts:     opts,
		logger:   logger.With("component", "http"),
	}
	s.engine = s.routes()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), metrics.GinMiddleware())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Scheduler
	trigger := r.Group("/api/sync/trigger", cronAuth(s.opts.CronSecret))
	{
		trigger.POST("", s.handleTrigger)
		trigger.GET("", s.handleTrigger)
	}

	// End users
	api := r.Group("/api", userAuth(s.opts.JWTSecret))
	{
		api.GET("/sync/status", s.handleStatus)
		api.POST("/sync/reset", s.handleReset)

		api.POST("/screening/undo", s.handleUndo)
		api.POST("/screening/decisions", s.handleRecordDecision)
		api.GET("/screening/decisions", s.handleListDecisions)

		api.POST("/accounts", s.handleCreateAccount)
		api.GET("/accounts", s.handleListAccounts)
		api.DELETE("/accounts/:id", s.handleDeleteAccount)
		api.PUT("/accounts/:id/credentials", s.handleUpdateCredentials)

		api.GET("/emails", s.handleListEmails)
		api.POST("/emails/:id/read", s.handleMarkRead)
	}

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// writeError maps domain errors onto status codes
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, database.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	case errors.Is(err, screening.ErrInvalidSender), errors.Is(err, screening.ErrInvalidDecision):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, email.ErrAuthFailed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "authentication failed"})
	case errors.Is(err, email.ErrNetworkUnreachable), errors.Is(err, email.ErrTimeout):
		c.JSON(http.StatusBadGateway, gin.H{"error": "mail server unreachable"})
	case errors.Is(err, email.ErrUnsupportedProvider):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// optionalID parses an optional int64 query or body value
func optionalID(raw string) (*int64, bool) {
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, false
	}
	return &id, true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
