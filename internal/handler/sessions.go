package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/geo"
	"rollcall/internal/qr"
)

// sessionView hides the token, code and geofence from students; they reach
// a session by scanning, not by listing.
type sessionView struct {
	*attendance.Session
	Token           string               `json:"token,omitempty"`
	NumericCode     string               `json:"numeric_code,omitempty"`
	AllowedLocation *attendance.Geofence `json:"allowed_location,omitempty"`
	CheckInURL      string               `json:"checkin_url,omitempty"`
	Location        *geo.Reading         `json:"issuer_location,omitempty"`
}

func (h *Handler) view(actor attendance.Actor, s *attendance.Session) sessionView {
	v := sessionView{Session: s}
	if actor.Role.Staff() {
		v.Token = s.Token
		v.NumericCode = s.NumericCode
		v.AllowedLocation = &s.AllowedLocation
		if u, err := qr.CheckInURL(h.PublicBaseURL, s.Token); err == nil {
			v.CheckInURL = u
		}
	}
	return v
}

func (h *Handler) createSession(c *gin.Context) {
	var req struct {
		CourseID string         `json:"course_id" binding:"required"`
		Location *locationInput `json:"location"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	loc, err := h.resolve(c, req.Location)
	if err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "location resolution timed out, try again", "kind": attendance.KindLocationUnavailable})
		return
	}
	sess, err := h.Attendance.CreateSession(c.Request.Context(), h.actor(c), req.CourseID, loc)
	if err != nil {
		h.fail(c, err)
		return
	}
	v := h.view(h.actor(c), sess)
	v.Location = loc
	c.JSON(http.StatusCreated, v)
}

func (h *Handler) getSession(c *gin.Context) {
	sess, err := h.Attendance.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(h.actor(c), sess))
}

func (h *Handler) endSession(c *gin.Context) {
	sess, err := h.Attendance.EndSession(c.Request.Context(), h.actor(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(h.actor(c), sess))
}

func (h *Handler) sessionQR(c *gin.Context) {
	sess, err := h.Attendance.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	png, err := qr.PNG(h.PublicBaseURL, sess.Token, qr.DefaultSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) publishQR(c *gin.Context) {
	if !h.CDN.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}
	sess, err := h.Attendance.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !sess.OpenAt(time.Now()) {
		c.JSON(http.StatusGone, gin.H{"error": "attendance session has expired", "kind": attendance.KindExpired})
		return
	}
	png, err := qr.PNG(h.PublicBaseURL, sess.Token, qr.DefaultSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	res, err := h.CDN.UploadPNG(ctx, "session-"+sess.ID, png)
	if err != nil {
		h.Logger.Error("qr upload failed", "session", sess.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": res.SecureURL, "public_id": res.PublicID, "expires_at": sess.ExpiresAt})
}
