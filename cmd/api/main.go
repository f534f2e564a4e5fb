package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/cloudinary"
	"rollcall/internal/config"
	"rollcall/internal/directory"
	"rollcall/internal/discovery"
	"rollcall/internal/feed"
	"rollcall/internal/geo"
	"rollcall/internal/handler"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/store"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.App) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}
	if cfg.Production() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func runHTTP(cfg config.App, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.InitSchema(ctx); err != nil {
		return err
	}

	dir := directory.New(db)
	if cfg.DirectorySeed != "" {
		n, err := dir.LoadSeed(ctx, cfg.DirectorySeed)
		if err != nil {
			return err
		}
		logger.Info("directory seeded", "path", cfg.DirectorySeed, "rows", n)
	}

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	var activity feed.Feed
	if cfg.FeedBackend == "memory" {
		activity = feed.NewMemory(cfg.FeedCapacity)
	} else {
		activity = feed.NewRedis(redisClient.Client, "", cfg.FeedCapacity)
	}

	svc := attendance.NewService(attendance.NewRepository(db), dir, attendance.Options{
		SessionTTL:     cfg.SessionTTL,
		GeofenceRadius: cfg.GeofenceRadius,
		Feed:           activity,
		Logger:         logger,
	})

	var sweeper *attendance.Sweeper
	if cfg.SweepInAPI {
		sweeper = attendance.NewSweeper(svc, cfg.SweepSchedule, logger)
		svc.SetScheduler(sweeper)
		if err := sweeper.Start(ctx); err != nil {
			return err
		}
	}

	warmCtx, cancelWarm := context.WithTimeout(ctx, 5*time.Second)
	if err := svc.WarmFeed(warmCtx); err != nil {
		logger.Warn("activity feed not warmed", "error", err)
	}
	cancelWarm()

	resolver := &geo.Resolver{
		Attempts:       cfg.GPSAttempts,
		AttemptTimeout: cfg.GPSAttemptTimeout,
		AcceptAccuracy: cfg.GPSAcceptAccuracy,
		WarnAccuracy:   cfg.GPSWarnAccuracy,
		RetryInterval:  cfg.GPSRetryInterval,
		IP:             geo.NewIPAPIClient(cfg.IPGeoURL),
		Geocoder:       geo.NewNominatimClient(cfg.GeocoderURL, cfg.GeocoderUserAgent),
		Logger:         logger,
	}

	var devices handler.DeviceLocators
	if cfg.MQTTBroker != "" {
		client, err := connectMQTT(cfg, logger)
		if err != nil {
			logger.Warn("classroom devices unavailable", "broker", cfg.MQTTBroker, "error", err)
		} else {
			defer client.Disconnect(250)
			devices = func(deviceID string) geo.Locator {
				return geo.NewMQTTLocator(client, geo.DefaultTopicPrefix, deviceID)
			}
		}
	}

	cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	if cdn.Configured() {
		logger.Info("cloudinary configured", "cloud", cfg.CloudinaryCloudName)
	} else {
		logger.Info("cloudinary not configured, QR publishing disabled")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))
	r.Use(securityHeaders())

	ipLimit := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	checkInLimit := httpmiddleware.NewTokenBucket(cfg.CheckInLimitPerMin, cfg.CheckInLimitPerMin)
	r.Use(ipLimit.Middleware(httpmiddleware.ByClientIP))
	go pruneLimiters(ctx, ipLimit, checkInLimit)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handler.Handler{
		Attendance:    svc,
		Resolver:      resolver,
		Devices:       devices,
		CDN:           cdn,
		PublicBaseURL: cfg.PublicBaseURL,
		Health: map[string]handler.Checker{
			"db":    db,
			"redis": redisClient,
		},
		Logger: logger,
	}
	h.Register(r, handler.Middlewares{
		Auth:         auth.Authenticate(cfg.JWTSigningKey, cfg.JWTIssuer),
		CheckInLimit: checkInLimit.Middleware(byActor),
	})

	// Check-ins may spend up to the full GPS budget resolving a location.
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.MDNSEnabled {
		port, _ := strconv.Atoi(cfg.HTTPPort)
		adv, err := discovery.Advertise(port, []string{"env=" + cfg.Env}, logger)
		if err != nil {
			logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer adv.Shutdown()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.HTTPPort, "db", cfg.DatabaseDriver, "feed", cfg.FeedBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", "error", err)
	}
	if sweeper != nil {
		select {
		case <-sweeper.Stop().Done():
		case <-shutdownCtx.Done():
		}
	}
	logger.Info("server exited")
	return nil
}

func connectMQTT(cfg config.App, logger *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})
	client := mqtt.NewClient(opts)
	if tok := client.Connect(); tok.WaitTimeout(10*time.Second) && tok.Error() != nil {
		return nil, tok.Error()
	} else if !client.IsConnected() {
		return nil, errors.New("mqtt connect timed out")
	}
	logger.Info("connected to mqtt broker", "broker", cfg.MQTTBroker)
	return client, nil
}

// byActor limits check-ins per authenticated student.
func byActor(c *gin.Context) string {
	if a, ok := auth.ActorFrom(c); ok {
		return a.ID
	}
	return ""
}

func pruneLimiters(ctx context.Context, limiters ...*httpmiddleware.TokenBucket) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, l := range limiters {
				l.Prune()
			}
		}
	}
}

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
