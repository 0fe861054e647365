package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"qrattendance/internal/attendance"
	"qrattendance/internal/identity"
)

// ---------- Check-in ----------

type confirmRequest struct {
	Email  string `json:"email"`
	Token  string `json:"token"`
	Course string `json:"course"`
}

// ConfirmAttendance answers with a success flag and message only; a repeated
// check-in looks exactly like the first one.
func (h *Handler) ConfirmAttendance(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}
	if req.Token == "" {
		req.Token = c.Query("token")
	}
	claims := mustClaims(c)
	if !callerMatches(claims, req.Email) {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "email does not match the authenticated user"})
		return
	}
	_, _, err := h.att.ConfirmAttendance(c.Request.Context(), claims.Subject, attendance.CheckinRef{
		Token:  req.Token,
		Course: req.Course,
	})
	if err != nil {
		status, msg := classify(err)
		c.JSON(status, gin.H{"success": false, "message": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Attendance confirmed"})
}

// ---------- Ledger ----------

// StudentAttendance returns a student's history. Students may read only
// their own; teachers may read anyone's.
func (h *Handler) StudentAttendance(c *gin.Context) {
	claims := mustClaims(c)
	email := c.Param("email")
	if claims.Role != identity.RoleTeacher && !callerMatches(claims, email) {
		forbidden(c, "forbidden")
		return
	}
	u, err := h.users.GetByEmail(c.Request.Context(), email)
	if err != nil {
		writeError(c, err)
		return
	}
	if u == nil || u.Role != identity.RoleStudent {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}
	items, err := h.att.GetAttendanceByStudent(c.Request.Context(), u.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	if strings.EqualFold(c.Query("group"), "course") {
		c.JSON(http.StatusOK, attendance.GroupByCourse(items))
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) CourseAttendance(c *gin.Context) {
	items, err := h.att.GetAttendanceByCourse(c.Request.Context(), mustClaims(c).Subject, c.Param("course"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// ---------- Absentees ----------

func (h *Handler) Absentees(c *gin.Context) {
	var (
		items []attendance.Absentee
		err   error
	)
	if course := c.Query("course"); course != "" {
		items, err = h.att.GetAbsentees(c.Request.Context(), course)
	} else {
		items, err = h.att.GetAllAbsentees(c.Request.Context())
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

type rosterRequest struct {
	Emails []string `json:"emails" binding:"required"`
}

func (h *Handler) SetRoster(c *gin.Context) {
	var req rosterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entries, err := h.att.SetRoster(c.Request.Context(), mustClaims(c).Subject, c.Param("course"), req.Emails)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) GetRoster(c *gin.Context) {
	entries, err := h.att.GetRoster(c.Request.Context(), c.Param("course"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
