package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/geo"
)

func (h *Handler) checkIn(c *gin.Context) {
	var req struct {
		Token    string            `json:"token"`
		Code     string            `json:"code"`
		Location *locationInput    `json:"location"`
		Metadata map[string]string `json:"metadata" binding:"max=16"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	actor := h.actor(c)

	loc, err := h.resolve(c, req.Location)
	if err != nil {
		// Nothing is written for an attempt the client gave up on.
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "location resolution timed out, try again", "kind": attendance.KindLocationUnavailable})
		return
	}

	meta := map[string]string{}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if ua := c.GetHeader("User-Agent"); ua != "" {
		meta["user_agent"] = ua
	}
	meta["client_ip"] = c.ClientIP()

	dec, err := h.Attendance.CheckIn(c.Request.Context(), attendance.CheckInRequest{
		Token:     req.Token,
		Code:      req.Code,
		StudentID: actor.ID,
		Location:  loc,
		Metadata:  meta,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	writeDecision(c, dec, loc)
}

func writeDecision(c *gin.Context, dec attendance.Decision, loc *geo.Reading) {
	body := gin.H{
		"accepted": dec.Accepted,
		"reason":   dec.Reason,
		"record":   dec.Record,
	}
	if dec.DistanceM != nil {
		body["distance_m"] = *dec.DistanceM
	}
	if loc != nil && loc.Warning != "" {
		body["warning"] = loc.Warning
	}
	if dec.Duplicate() {
		body["duplicate"] = true
		body["scanned_at"] = dec.Record.ScannedAt
		c.JSON(http.StatusOK, body)
		return
	}
	c.JSON(http.StatusCreated, body)
}

func (h *Handler) recordManual(c *gin.Context) {
	var req struct {
		StudentID string            `json:"student_id" binding:"required"`
		Reason    string            `json:"reason"`
		Metadata  map[string]string `json:"metadata" binding:"max=16"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	dec, err := h.Attendance.RecordManual(c.Request.Context(), h.actor(c), attendance.ManualMark{
		SessionID: c.Param("id"),
		StudentID: req.StudentID,
		Reason:    req.Reason,
		Metadata:  req.Metadata,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	writeDecision(c, dec, nil)
}

func (h *Handler) listRecords(c *gin.Context) {
	recs, err := h.Attendance.ListForSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	actor := h.actor(c)
	if !actor.Role.Staff() {
		own := []attendance.Record{}
		for _, r := range recs {
			if r.StudentID == actor.ID {
				own = append(own, r)
			}
		}
		recs = own
	}
	c.JSON(http.StatusOK, gin.H{"records": recs, "count": len(recs)})
}

func (h *Handler) liveCount(c *gin.Context) {
	n, err := h.Attendance.LiveCount(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "count": n})
}

func (h *Handler) absentees(c *gin.Context) {
	students, err := h.Attendance.Absentees(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students, "count": len(students)})
}
