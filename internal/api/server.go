// Package api exposes the ledger over HTTP. Handlers are thin: they decode,
// call into the core ledgers, and translate the closed error set into
// status codes. All domain checks live in internal/ledger.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keystone-robotics/provenance/internal/identity"
	"github.com/keystone-robotics/provenance/internal/journal"
	"github.com/keystone-robotics/provenance/internal/ledger"
)

// Config holds the HTTP-surface configuration.
type Config struct {
	CORSOrigins  []string
	RateLimitRPS int
	RateBurst    int

	// AdminSecret signs and verifies admin bearer tokens. Admin routes
	// are disabled when empty.
	AdminSecret string
}

// Server wires the ledger subsystems into a gin router.
type Server struct {
	attest   *ledger.AttestationLedger
	stake    *ledger.StakeLedger
	guard    *ledger.Guard
	registry identity.Registry
	journal  journal.Journal
	cfg      Config
	logger   *zap.Logger
}

// NewServer creates a Server over the given subsystems.
func NewServer(attest *ledger.AttestationLedger, stake *ledger.StakeLedger, guard *ledger.Guard, registry identity.Registry, jrnl journal.Journal, cfg Config, logger *zap.Logger) *Server {
	return &Server{
		attest:   attest,
		stake:    stake,
		guard:    guard,
		registry: registry,
		journal:  jrnl,
		cfg:      cfg,
		logger:   logger,
	}
}

// Router builds the gin engine with all routes and middleware mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(PrometheusMiddleware())

	corsCfg := cors.DefaultConfig()
	if len(s.cfg.CORSOrigins) > 0 {
		corsCfg.AllowOrigins = s.cfg.CORSOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	r.Use(cors.New(corsCfg))

	if s.cfg.RateLimitRPS > 0 {
		burst := s.cfg.RateBurst
		if burst <= 0 {
			burst = s.cfg.RateLimitRPS * 2
		}
		r.Use(RateLimiter(s.cfg.RateLimitRPS, burst))
	}

	r.GET("/healthz", s.Healthz)
	r.GET("/metrics", MetricsHandler())

	v1 := r.Group("/v1")
	{
		v1.POST("/attestations/batch", s.SubmitBatch)
		v1.POST("/attestations/single", s.SubmitSingle)
		v1.POST("/attestations/verify", s.VerifyAttestation)
		v1.GET("/attestations/batches/:id", s.GetBatch)

		v1.GET("/agents/:id/trust", s.GetTrustProfile)
		v1.GET("/agents/:id/nonce", s.GetNonce)

		v1.POST("/stakes/:id", s.Stake)
		v1.POST("/stakes/:id/increase", s.IncreaseStake)
		v1.POST("/stakes/:id/withdraw", s.Unstake)
		v1.GET("/stakes/:id", s.GetStake)

		v1.POST("/slashes", s.ProposeSlash)
		v1.POST("/slashes/:id/execute", s.ExecuteSlash)
		v1.GET("/slashes/:id", s.GetProposal)

		v1.GET("/journal", s.JournalOverview)
		v1.GET("/journal/verify", s.JournalVerify)
		v1.GET("/journal/entries/:idx", s.JournalEntry)
	}

	if s.cfg.AdminSecret != "" {
		admin := v1.Group("/admin", AdminAuth(s.cfg.AdminSecret))
		{
			admin.POST("/pause", s.Pause)
			admin.POST("/unpause", s.Unpause)
			admin.PUT("/score-config", s.SetScoreConfig)
			admin.PUT("/slash-delay", s.SetSlashDelay)
			admin.POST("/slashers", s.AddSlasher)
			admin.DELETE("/slashers/:addr", s.RemoveSlasher)
			admin.POST("/slashes/:id/cancel", s.CancelSlash)
		}
	}
	return r
}

// Healthz reports liveness plus the pause state.
func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"paused": s.guard.Paused(),
	})
}

// requestID tags every request with a correlation id, echoed in the
// response headers and available to handlers for logging.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// fail translates a ledger error into an HTTP response.
func (s *Server) fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// statusFor maps the closed ledger error set onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrNotAdmin),
		errors.Is(err, ledger.ErrNotOperator),
		errors.Is(err, ledger.ErrNotSlasher):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrAgentNotFound),
		errors.Is(err, ledger.ErrBatchNotFound),
		errors.Is(err, ledger.ErrStakeNotFound),
		errors.Is(err, ledger.ErrProposalNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ledger.ErrRootAlreadyExists),
		errors.Is(err, ledger.ErrProposalFinalized),
		errors.Is(err, ledger.ErrTimelockNotPassed),
		errors.Is(err, ledger.ErrStakeLocked),
		errors.Is(err, ledger.ErrAgentNotVerified):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidParameter),
		errors.Is(err, ledger.ErrBatchTooLarge),
		errors.Is(err, ledger.ErrInsufficientStake),
		errors.Is(err, ledger.ErrBelowMinimumStake):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
