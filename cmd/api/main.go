package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattendance/internal/attendance"
	"qrattendance/internal/config"
	"qrattendance/internal/handler"
	"qrattendance/internal/httpmiddleware"
	"qrattendance/internal/identity"
	"qrattendance/internal/metrics"
	"qrattendance/internal/qrtoken"
	"qrattendance/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	log.Printf("starting with %s", cfg)

	db, err := store.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	var redisClient *store.Redis
	if cfg.RedisEnabled() {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
	}

	codec, err := qrtoken.New(cfg.QRTokenKey)
	if err != nil {
		return err
	}

	users := identity.NewStore(db, cfg.BcryptCost)
	if err := seedTeacher(users, cfg); err != nil {
		return err
	}

	att := attendance.NewService(db, users, codec, attendance.Options{
		ConfirmBaseURL:      cfg.ConfirmBaseURL,
		SessionTTL:          cfg.SessionTTL,
		LegacyCourseCheckin: cfg.LegacyCheckin,
		AbsenteePolicy:      cfg.AbsenteePolicy,
	})
	h := handler.New(db, redisClient, users, att, handler.Config{
		JWTSigningKey: cfg.JWTSigningKey,
		JWTIssuer:     cfg.JWTIssuer,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(metrics.GinMiddleware())
	if cfg.RateLimitPerMin > 0 {
		r.Use(httpmiddleware.RateLimit(newLimiter(cfg, redisClient)))
	} else {
		log.Println("rate limiting disabled")
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.Routes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func newLimiter(cfg config.App, redisClient *store.Redis) httpmiddleware.Limiter {
	if cfg.RateLimitStore == "redis" && redisClient != nil {
		log.Println("rate limiting backed by redis")
		return httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
	}
	return httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
}

// seedTeacher creates the configured default teacher account on first start.
func seedTeacher(users *identity.Store, cfg config.App) error {
	if cfg.SeedEmail == "" || cfg.SeedPassword == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	u, created, err := users.EnsureUser(ctx, cfg.SeedEmail, cfg.SeedPassword, identity.RoleTeacher)
	if err != nil {
		return err
	}
	if created {
		log.Printf("seeded teacher account %s", u.Email)
	}
	return nil
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
