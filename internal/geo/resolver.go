package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"
)

// Resolver defaults.
const (
	DefaultAttempts       = 3
	DefaultAttemptTimeout = 15 * time.Second
	DefaultAcceptAccuracy = 50.0
	DefaultWarnAccuracy   = 100.0
	DefaultRetryInterval  = 500 * time.Millisecond

	geocodeTimeout   = 5 * time.Second
	maxBackoffFactor = 4
)

var errImprecise = errors.New("gps fix not precise enough")

// Resolver produces the best-effort location of a client: device GPS first,
// IP geolocation as fallback, optionally enriched with an address.
type Resolver struct {
	Attempts       int
	AttemptTimeout time.Duration
	AcceptAccuracy float64
	WarnAccuracy   float64
	RetryInterval  time.Duration

	IP       IPLookup
	Geocoder ReverseGeocoder
	Logger   *slog.Logger
}

// Resolve returns a reading for the client. It fails only with ErrLocationUnavailable,
// when no device fix was obtained and IP geolocation was impossible too.
func (r *Resolver) Resolve(ctx context.Context, device Locator, clientIP string) (Reading, error) {
	if device != nil {
		if rd, ok := r.fromDevice(ctx, device); ok {
			r.enrich(ctx, &rd)
			return rd, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return Reading{}, fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}
	if r.IP == nil || clientIP == "" {
		return Reading{}, ErrLocationUnavailable
	}

	rd, err := r.IP.LocateIP(ctx, clientIP)
	if err != nil {
		r.logger().Warn("ip geolocation failed", "ip", clientIP, "error", err)
		return Reading{}, fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}
	rd.Source = SourceIP
	rd.Accuracy = IPAccuracyMeters
	if rd.Warning == "" {
		rd.Warning = ipWarning
	}
	r.enrich(ctx, &rd)
	return rd, nil
}

// fromDevice runs the bounded GPS retry loop and reports the best fix seen.
func (r *Resolver) fromDevice(ctx context.Context, device Locator) (Reading, bool) {
	attempts := r.attempts()
	perAttempt := r.attemptTimeout()

	gpsCtx, cancel := context.WithTimeout(ctx, r.gpsBudget())
	defer cancel()

	var best *Reading
	attempt := 0
	op := func() error {
		attempt++
		actx, acancel := context.WithTimeout(gpsCtx, perAttempt)
		rd, err := device.Locate(actx)
		acancel()
		if err != nil {
			r.logger().Debug("gps attempt failed", "attempt", attempt, "error", err)
			return err
		}
		rd.Source = SourceGPS
		if best == nil || rd.Accuracy < best.Accuracy {
			kept := rd
			best = &kept
		}
		if rd.Accuracy < r.acceptAccuracy() {
			return nil
		}
		r.logger().Debug("gps fix imprecise", "attempt", attempt, "accuracy_m", rd.Accuracy)
		return errImprecise
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(r.backOff(), uint64(attempts-1)), gpsCtx)
	_ = backoff.Retry(op, policy)

	if best == nil {
		r.logger().Info("gps unavailable, falling back to ip", "attempts", attempt)
		return Reading{}, false
	}
	rd := *best
	if rd.Accuracy > r.warnAccuracy() {
		rd.Warning = fmt.Sprintf("low GPS accuracy: ±%.0fm", rd.Accuracy)
	}
	return rd, true
}

// enrich adds an address; failures leave the coordinates untouched.
func (r *Resolver) enrich(ctx context.Context, rd *Reading) {
	if r.Geocoder == nil || rd.Address != "" {
		return
	}
	gctx, cancel := context.WithTimeout(ctx, geocodeTimeout)
	defer cancel()
	addr, err := r.Geocoder.Reverse(gctx, rd.Point())
	if err != nil {
		r.logger().Debug("reverse geocode failed", "error", err)
		return
	}
	rd.Address = addr
}

func (r *Resolver) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retryInterval()
	b.MaxInterval = maxBackoffFactor * b.InitialInterval
	b.MaxElapsedTime = 0
	return b
}

// gpsBudget covers every attempt at its full timeout plus the longest
// randomized wait between attempts.
func (r *Resolver) gpsBudget() time.Duration {
	attempts := r.attempts()
	maxWait := time.Duration(float64(maxBackoffFactor*r.retryInterval()) * (1 + backoff.DefaultRandomizationFactor))
	return time.Duration(attempts)*r.attemptTimeout() + time.Duration(attempts-1)*maxWait
}

func (r *Resolver) attempts() int {
	if r.Attempts <= 0 {
		return DefaultAttempts
	}
	return r.Attempts
}

func (r *Resolver) attemptTimeout() time.Duration {
	if r.AttemptTimeout <= 0 {
		return DefaultAttemptTimeout
	}
	return r.AttemptTimeout
}

func (r *Resolver) acceptAccuracy() float64 {
	if r.AcceptAccuracy <= 0 {
		return DefaultAcceptAccuracy
	}
	return r.AcceptAccuracy
}

func (r *Resolver) warnAccuracy() float64 {
	if r.WarnAccuracy <= 0 {
		return DefaultWarnAccuracy
	}
	return r.WarnAccuracy
}

func (r *Resolver) retryInterval() time.Duration {
	if r.RetryInterval <= 0 {
		return DefaultRetryInterval
	}
	return r.RetryInterval
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
