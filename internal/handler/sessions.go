package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"qrattendance/internal/attendance"
	"qrattendance/internal/identity"
)

// ---------- Sessions ----------

type generateRequest struct {
	Email   string `json:"email"`
	Course  string `json:"course"`
	QRValue string `json:"qr_value"`
}

// GenerateQR creates a session for the calling teacher. A supplied qr_value
// is used as the confirm page the token is appended to.
func (h *Handler) GenerateQR(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims := mustClaims(c)
	if !callerMatches(claims, req.Email) {
		forbidden(c, "email does not match the authenticated user")
		return
	}
	sess, err := h.att.CreateSessionWithURL(c.Request.Context(), claims.Subject, req.Course, req.QRValue)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "QR Code saved successfully",
		"qr_id":   sess.ID,
		"user_id": sess.CreatedBy,
		"session": sess,
	})
}

func (h *Handler) ActiveSessions(c *gin.Context) {
	sessions, err := h.att.ListActiveSessions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// TeacherSessions lists the caller's own sessions; other teachers' lists are forbidden.
func (h *Handler) TeacherSessions(c *gin.Context) {
	claims := mustClaims(c)
	if claims.Role != identity.RoleTeacher || !callerMatches(claims, c.Param("email")) {
		forbidden(c, "forbidden")
		return
	}
	sessions, err := h.att.GetSessionsByTeacher(c.Request.Context(), claims.Subject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handler) RetireSession(c *gin.Context) {
	sess, err := h.att.RetireSession(c.Request.Context(), mustClaims(c).Subject, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) SessionAttendance(c *gin.Context) {
	sess, ok := h.ownedSession(c)
	if !ok {
		return
	}
	attendees, err := h.att.GetAttendanceBySession(c.Request.Context(), sess.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, attendees)
}

func (h *Handler) SessionAbsentees(c *gin.Context) {
	sess, ok := h.ownedSession(c)
	if !ok {
		return
	}
	absentees, err := h.att.GetSessionAbsentees(c.Request.Context(), sess.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, absentees)
}

// SessionQR renders the session's QR value as a PNG.
func (h *Handler) SessionQR(c *gin.Context) {
	sess, ok := h.ownedSession(c)
	if !ok {
		return
	}
	png, err := qrcode.Encode(sess.QRValue, qrcode.Medium, 256)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) ownedSession(c *gin.Context) (attendance.Session, bool) {
	sess, err := h.att.GetOwnedSession(c.Request.Context(), mustClaims(c).Subject, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return attendance.Session{}, false
	}
	return sess, true
}
