package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
)

func (h *Handler) recentActivity(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a number", "kind": attendance.KindValidation})
			return
		}
		limit = parsed
	}
	evts, err := h.Attendance.RecentActivity(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evts})
}

func (h *Handler) studentAttendance(c *gin.Context) {
	actor := h.actor(c)
	studentID := c.Param("id")
	if !actor.Role.Staff() && actor.ID != studentID {
		c.JSON(http.StatusForbidden, gin.H{"error": "students may only view their own attendance", "kind": attendance.KindUnauthorized})
		return
	}
	sum, err := h.Attendance.StudentAttendance(c.Request.Context(), studentID, c.Query("course_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
