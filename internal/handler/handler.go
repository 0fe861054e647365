// Package handler exposes the attendance engine over HTTP.
package handler

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"qrattendance/internal/attendance"
	"qrattendance/internal/auth"
	"qrattendance/internal/identity"
	"qrattendance/internal/store"
)

// Config carries the token settings used by login and refresh.
type Config struct {
	JWTSigningKey string
	JWTIssuer     string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type Handler struct {
	db    *store.DB
	redis *store.Redis // nil when redis is not configured
	users *identity.Store
	att   *attendance.Service
	cfg   Config
}

func New(db *store.DB, redis *store.Redis, users *identity.Store, att *attendance.Service, cfg Config) *Handler {
	return &Handler{db: db, redis: redis, users: users, att: att, cfg: cfg}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)

	r.POST("/register", h.Register)
	r.POST("/login", h.Login)
	r.POST("/token/refresh", h.Refresh)

	authed := r.Group("/", auth.BearerAuth(h.cfg.JWTSigningKey, h.cfg.JWTIssuer))
	authed.POST("/generate_qr", h.GenerateQR)
	authed.POST("/confirm_attendance", h.ConfirmAttendance)
	authed.GET("/qrcodes", h.ActiveSessions)
	authed.GET("/available_qrcodes", h.ActiveSessions)
	authed.GET("/qrcodes/:email", h.TeacherSessions)
	authed.GET("/attendances/:email", h.StudentAttendance)

	teacher := authed.Group("/", auth.RequireRole(identity.RoleTeacher))
	teacher.GET("/attendance/:course", h.CourseAttendance)
	teacher.GET("/absentees", h.Absentees)
	teacher.POST("/sessions/:id/retire", h.RetireSession)
	teacher.GET("/sessions/:id/attendance", h.SessionAttendance)
	teacher.GET("/sessions/:id/absentees", h.SessionAbsentees)
	teacher.GET("/sessions/:id/qr", h.SessionQR)
	teacher.PUT("/courses/:course/roster", h.SetRoster)
	teacher.GET("/courses/:course/roster", h.GetRoster)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	ctx := c.Request.Context()
	dbHealthy := h.db.Healthy(ctx)
	status := http.StatusOK
	body := gin.H{"status": "ok", "db": dbHealthy}
	if h.redis != nil {
		redisHealthy := h.redis.Healthy(ctx)
		body["redis"] = redisHealthy
		if !redisHealthy {
			status = http.StatusServiceUnavailable
		}
	}
	if !dbHealthy {
		status = http.StatusServiceUnavailable
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

// ---------- Errors ----------

// writeError maps engine and identity errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status, msg := classify(err)
	c.JSON(status, gin.H{"error": msg})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, attendance.ErrInvalidArgument),
		errors.Is(err, identity.ErrInvalidEmail),
		errors.Is(err, identity.ErrWeakPassword),
		errors.Is(err, identity.ErrInvalidRole):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, attendance.ErrUnauthorized):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, attendance.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, attendance.ErrConflict), errors.Is(err, identity.ErrEmailTaken):
		return http.StatusConflict, err.Error()
	default:
		log.Printf("internal error: %v", err)
		return http.StatusInternalServerError, "server_error"
	}
}

func forbidden(c *gin.Context, msg string) {
	c.JSON(http.StatusForbidden, gin.H{"error": msg})
}

// callerMatches reports whether an email supplied in a request names the
// authenticated caller. An empty email always matches.
func callerMatches(claims auth.Claims, email string) bool {
	return email == "" || identity.NormalizeEmail(email) == identity.NormalizeEmail(claims.Email)
}

func mustClaims(c *gin.Context) auth.Claims {
	claims, _ := auth.ClaimsFrom(c)
	return claims
}
