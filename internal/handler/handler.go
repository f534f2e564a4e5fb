// Package handler exposes the attendance core over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/cloudinary"
	"rollcall/internal/geo"
	"rollcall/internal/metrics"
)

const defaultResolveTimeout = 60 * time.Second

// LocationResolver finds where a client is.
type LocationResolver interface {
	Resolve(ctx context.Context, device geo.Locator, clientIP string) (geo.Reading, error)
}

// DeviceLocators returns the locator of a registered classroom device.
type DeviceLocators func(deviceID string) geo.Locator

// Checker reports backend health.
type Checker interface {
	Healthy(ctx context.Context) bool
}

// Handler wires HTTP routes to the attendance service.
type Handler struct {
	Attendance     *attendance.Service
	Resolver       LocationResolver
	Devices        DeviceLocators
	CDN            *cloudinary.Client
	PublicBaseURL  string
	ResolveTimeout time.Duration
	Health         map[string]Checker
	Logger         *slog.Logger
}

// Middlewares applied on top of authentication.
type Middlewares struct {
	Auth         gin.HandlerFunc
	CheckInLimit gin.HandlerFunc
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter, mw Middlewares) {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	if mw.CheckInLimit == nil {
		mw.CheckInLimit = func(c *gin.Context) { c.Next() }
	}
	staff := auth.RequireRole(attendance.RoleHOC, attendance.RoleLecturer, attendance.RoleAdmin)

	r.GET("/healthz", h.healthz)

	v1 := r.Group("/v1", mw.Auth)
	v1.POST("/sessions", staff, h.createSession)
	v1.GET("/sessions/:id", h.getSession)
	v1.POST("/sessions/:id/end", staff, h.endSession)
	v1.GET("/sessions/:id/qr.png", staff, h.sessionQR)
	v1.POST("/sessions/:id/qr/publish", staff, h.publishQR)
	v1.POST("/sessions/:id/manual", staff, h.recordManual)
	v1.GET("/sessions/:id/records", h.listRecords)
	v1.GET("/sessions/:id/count", h.liveCount)
	v1.GET("/sessions/:id/absentees", staff, h.absentees)
	v1.POST("/checkins", auth.RequireRole(attendance.RoleStudent), mw.CheckInLimit, h.checkIn)
	v1.GET("/activity", h.recentActivity)
	v1.GET("/students/:id/attendance", h.studentAttendance)
}

func (h *Handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, chk := range h.Health {
		ok := chk != nil && chk.Healthy(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// locationInput is how a client describes where it is: GPS fixes captured
// on the device, or the id of a classroom device reachable over MQTT.
type locationInput struct {
	Fixes    []fixInput `json:"fixes" binding:"omitempty,max=3,dive"`
	DeviceID string     `json:"device_id"`
}

type fixInput struct {
	Latitude  float64 `json:"latitude" binding:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" binding:"gte=-180,lte=180"`
	Accuracy  float64 `json:"accuracy" binding:"gte=0"`
}

// resolve returns the client's location, or nil when none could be found.
// A cancelled or timed out request is reported through err.
func (h *Handler) resolve(c *gin.Context, in *locationInput) (*geo.Reading, error) {
	if h.Resolver == nil {
		return nil, nil
	}
	var device geo.Locator
	if in != nil {
		switch {
		case len(in.Fixes) > 0:
			fixes := make([]geo.Reading, 0, len(in.Fixes))
			for _, f := range in.Fixes {
				fixes = append(fixes, geo.Reading{Latitude: f.Latitude, Longitude: f.Longitude, Accuracy: f.Accuracy})
			}
			device = geo.NewFixes(fixes...)
		case in.DeviceID != "" && h.Devices != nil:
			device = h.Devices(in.DeviceID)
		}
	}

	timeout := h.ResolveTimeout
	if timeout <= 0 {
		timeout = defaultResolveTimeout
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	rd, err := h.Resolver.Resolve(ctx, device, c.ClientIP())
	if err != nil {
		// Only our own deadline or the client going away counts as a timeout;
		// an upstream client timeout is just an unavailable location.
		if ctx.Err() != nil {
			metrics.LocationResolutions.WithLabelValues("timeout").Inc()
			return nil, err
		}
		metrics.LocationResolutions.WithLabelValues("unavailable").Inc()
		h.Logger.Info("location unavailable", "ip", c.ClientIP(), "error", err)
		return nil, nil
	}
	metrics.LocationResolutions.WithLabelValues(string(rd.Source)).Inc()
	return &rd, nil
}

func (h *Handler) actor(c *gin.Context) attendance.Actor {
	a, _ := auth.ActorFrom(c)
	return a
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": attendance.KindValidation})
}

func statusFor(kind attendance.Kind) int {
	switch kind {
	case attendance.KindValidation:
		return http.StatusBadRequest
	case attendance.KindNotFound:
		return http.StatusNotFound
	case attendance.KindExpired:
		return http.StatusGone
	case attendance.KindOutOfRange, attendance.KindUnauthorized:
		return http.StatusForbidden
	case attendance.KindConflict:
		return http.StatusConflict
	case attendance.KindLocationUnavailable:
		return http.StatusUnprocessableEntity
	case attendance.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err using the domain taxonomy.
func (h *Handler) fail(c *gin.Context, err error) {
	var de *attendance.Error
	if !errors.As(err, &de) {
		h.Logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": de.Error(), "kind": de.Kind}
	switch de.Kind {
	case attendance.KindOutOfRange:
		body["distance_m"] = math.Round(de.Distance)
		body["radius_m"] = de.Radius
	case attendance.KindTransient:
		h.Logger.Error("storage unavailable", "path", c.FullPath(), "error", err)
		body["error"] = "temporarily unavailable, retry"
	}
	c.JSON(statusFor(de.Kind), body)
}
