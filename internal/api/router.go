// Package api wires the HTTP surface: auth, posts, integrations, webhooks,
// autoposts, media, and the billing webhook.
//
// Route grouping philosophy:
//   - /api/auth/ and /api/webhooks/stripe are public. Auth issues the
//     credentials everything else requires, and Stripe signs its own
//     requests; both paths are also exempt from the permission guard.
//   - Everything else under /api/ requires a bearer credential (user JWT or
//     organization API key) and declares the permission rules the guard
//     evaluates before the handler runs.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/publora/publora/internal/auth"
	"github.com/publora/publora/internal/autopost"
	"github.com/publora/publora/internal/billing"
	"github.com/publora/publora/internal/concurrency"
	"github.com/publora/publora/internal/config"
	"github.com/publora/publora/internal/crypto"
	"github.com/publora/publora/internal/db/models"
	"github.com/publora/publora/internal/db/repositories"
	"github.com/publora/publora/internal/jobs"
	"github.com/publora/publora/internal/middleware"
	"github.com/publora/publora/internal/permissions"
	"github.com/publora/publora/internal/queue"
	"github.com/publora/publora/internal/social"
	"github.com/publora/publora/internal/social/providers"
	"github.com/publora/publora/internal/storage"
	"github.com/publora/publora/internal/webhooks"

	// Import storage backends to register them
	_ "github.com/publora/publora/internal/storage/local"
	_ "github.com/publora/publora/internal/storage/s3"
)

// Server bundles the wired application services behind the router. The caller
// (cmd/server) owns its lifecycle and must call Shutdown on termination.
type Server struct {
	cfg *config.Config
	db  *sql.DB

	users         *repositories.UserRepository
	orgs          *repositories.OrganizationRepository
	posts         *repositories.PostRepository
	integrations  *repositories.IntegrationRepository
	subscriptions *repositories.SubscriptionRepository
	hooks         *repositories.WebhookRepository
	autoposts     *repositories.AutoPostRepository

	jwt        *auth.JWTManager
	cipher     *crypto.TokenCipher
	queue      *queue.Client
	perms      *permissions.Service
	workflow   *autopost.Workflow
	stripe     *billing.StripeHandler
	store      storage.Storage
	registry   *social.Registry
	dispatcher *webhooks.Dispatcher
}

// Shutdown drains background services. Call after the HTTP listener has
// stopped so in-flight requests finish first.
func (s *Server) Shutdown() error {
	return s.dispatcher.Close()
}

// usageReader adapts the repositories to the permission engine's read surface
type usageReader struct {
	integrations  *repositories.IntegrationRepository
	posts         *repositories.PostRepository
	hooks         *repositories.WebhookRepository
	subscriptions *repositories.SubscriptionRepository
}

func (u *usageReader) CountActiveIntegrations(ctx context.Context, orgID string) (int, error) {
	return u.integrations.CountActive(ctx, orgID)
}

func (u *usageReader) CountPostsSince(ctx context.Context, orgID string, since time.Time) (int, error) {
	return u.posts.CountSince(ctx, orgID, since)
}

func (u *usageReader) CountWebhooks(ctx context.Context, orgID string) (int, error) {
	return u.hooks.Count(ctx, orgID)
}

func (u *usageReader) LatestSubscription(ctx context.Context, orgID string) (*models.Subscription, error) {
	return u.subscriptions.GetLatest(ctx, orgID)
}

// NewRouter builds the Gin engine and the wired Server
func NewRouter(cfg *config.Config, db *sql.DB, rdb *redis.Client) (*gin.Engine, *Server, error) {
	store, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize storage backend: %w", err)
	}

	cipher, err := crypto.CipherFromKey(cfg.Auth.EncryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize token cipher: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize jwt manager: %w", err)
	}

	s := &Server{
		cfg:           cfg,
		db:            db,
		users:         repositories.NewUserRepository(db),
		orgs:          repositories.NewOrganizationRepository(db),
		posts:         repositories.NewPostRepository(db),
		integrations:  repositories.NewIntegrationRepository(db),
		subscriptions: repositories.NewSubscriptionRepository(db),
		hooks:         repositories.NewWebhookRepository(db),
		autoposts:     repositories.NewAutoPostRepository(db),
		jwt:           jwtMgr,
		cipher:        cipher,
		queue:         queue.NewClient(rdb),
		store:         store,
	}

	s.perms = permissions.NewService(&usageReader{
		integrations:  s.integrations,
		posts:         s.posts,
		hooks:         s.hooks,
		subscriptions: s.subscriptions,
	}, cfg.Billing.Configured(), nil)

	s.dispatcher = webhooks.NewDispatcher(s.hooks, 10*time.Second)
	s.stripe = billing.NewStripeHandler(s.subscriptions, cfg.Billing.WebhookSecret, cfg.Billing.PriceTiers)
	s.workflow = autopost.NewWorkflow(s.autoposts, s.posts, s.queue, autopost.NewFeedFetcher(nil), nil)
	s.registry = BuildProviderRegistry(cfg, rdb)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", s.handleHealth)

	// locally stored media is served straight from disk
	if cfg.Storage.DefaultBackend == "local" {
		router.Static("/media", cfg.Storage.Local.BasePath)
	}

	public := router.Group("/api")
	public.Use(middleware.RateLimitMiddleware(rdb, middleware.AuthRateLimitConfig()))
	{
		public.POST("/auth/register", s.handleRegister)
		public.POST("/auth/login", s.handleLogin)
	}
	router.POST("/api/webhooks/stripe", s.handleStripeWebhook)

	authed := router.Group("/api")
	authed.Use(middleware.RateLimitMiddleware(rdb, middleware.DefaultRateLimitConfig()))
	authed.Use(middleware.AuthMiddleware(jwtMgr, s.users, s.orgs))
	{
		billingURL := cfg.Frontend.BillingURL

		postGuard := middleware.Guard(s.perms, billingURL,
			permissions.Rule{Action: permissions.ActionCreate, Section: permissions.SectionPostsPerMonth})
		authed.POST("/posts", postGuard, s.handleCreatePosts)
		authed.GET("/posts", s.handleListPosts)
		authed.GET("/posts/:id", s.handleGetPost)
		authed.DELETE("/posts/:id", s.handleDeletePost)

		channelGuard := middleware.Guard(s.perms, billingURL,
			permissions.Rule{Action: permissions.ActionCreate, Section: permissions.SectionChannel})
		authed.POST("/integrations", channelGuard, s.handleCreateIntegration)
		authed.GET("/integrations", s.handleListIntegrations)
		authed.DELETE("/integrations/:id", s.handleDeleteIntegration)

		hookGuard := middleware.Guard(s.perms, billingURL,
			permissions.Rule{Action: permissions.ActionCreate, Section: permissions.SectionWebhooks})
		authed.POST("/webhooks", hookGuard, s.handleCreateWebhook)
		authed.GET("/webhooks", s.handleListWebhooks)
		authed.DELETE("/webhooks/:id", s.handleDeleteWebhook)

		autopostGuard := middleware.Guard(s.perms, billingURL,
			permissions.Rule{Action: permissions.ActionCreate, Section: permissions.SectionPostsPerMonth})
		authed.POST("/autoposts", autopostGuard, s.handleCreateAutopost)
		authed.GET("/autoposts", s.handleListAutoposts)
		authed.POST("/autoposts/:id/deactivate", s.handleDeactivateAutopost)
		authed.DELETE("/autoposts/:id", s.handleDeleteAutopost)

		authed.POST("/media", s.handleUploadMedia)
	}

	return router, s, nil
}

// BuildProviderRegistry assembles the social adapter registry from the
// configured OAuth credentials. The worker and the API share this wiring.
func BuildProviderRegistry(cfg *config.Config, rdb *redis.Client) *social.Registry {
	oauth := make(map[string]providers.OAuthCredentials, len(cfg.Providers))
	for name, p := range cfg.Providers {
		oauth[name] = providers.OAuthCredentials{ClientID: p.ClientID, ClientSecret: p.ClientSecret}
	}

	var opts []concurrency.Option
	if rdb != nil {
		opts = append(opts, concurrency.WithRedis(rdb))
	}
	return providers.BuildRegistry(providers.Deps{
		Limiter: concurrency.NewRegistry(opts...),
		OAuth:   oauth,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()

	if err := s.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": err.Error()})
		return
	}

	health, err := s.queue.CheckForStuckWaitingJobs(ctx, jobs.QueuePosts)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "queue": err.Error()})
		return
	}
	if !health.Valid {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "stuck_jobs": health.Stuck})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
