package attendance

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"

	"rollcall/internal/feed"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultSessionTTL     = 10 * time.Minute
	DefaultGeofenceRadius = 500.0
)

// Directory is the read-only course and student catalogue.
type Directory interface {
	Course(ctx context.Context, id string) (*Course, error)
	Student(ctx context.Context, id string) (*Student, error)
	Roster(ctx context.Context, department, level string) ([]Student, error)
}

// Scheduler arms a close for a session at its expiry.
type Scheduler interface {
	Schedule(s Session)
}

// Options tunes a Service.
type Options struct {
	SessionTTL     time.Duration
	GeofenceRadius float64
	Feed           feed.Feed
	Logger         *slog.Logger
}

// Service coordinates session issuance, admission and the ledger.
type Service struct {
	repo     *Repository
	dir      Directory
	feed     feed.Feed
	timer    Scheduler
	logger   *slog.Logger
	validate *validator.Validate
	ttl      time.Duration
	radius   float64
	now      func() time.Time
	newCode  func() (string, error)
}

// NewService creates a service backed by a repository and a directory.
func NewService(repo *Repository, dir Directory, opts Options) *Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.GeofenceRadius <= 0 {
		opts.GeofenceRadius = DefaultGeofenceRadius
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		dir:      dir,
		feed:     opts.Feed,
		logger:   opts.Logger,
		validate: validator.New(),
		ttl:      opts.SessionTTL,
		radius:   opts.GeofenceRadius,
		now:      func() time.Time { return time.Now().UTC() },
		newCode:  newCode,
	}
}

// SetScheduler registers the in-process expiry timer.
func (s *Service) SetScheduler(sch Scheduler) {
	s.timer = sch
}

// Session returns a session by id.
func (s *Service) Session(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, newError(KindValidation, "session id required")
	}
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, transient("load session", err)
	}
	if sess == nil {
		return nil, newError(KindNotFound, "session not found")
	}
	return sess, nil
}

func (s *Service) course(ctx context.Context, id string) (*Course, error) {
	c, err := s.dir.Course(ctx, id)
	if err != nil {
		return nil, transient("load course", err)
	}
	if c == nil {
		return nil, newError(KindNotFound, "course not found")
	}
	return c, nil
}

func (s *Service) student(ctx context.Context, id string) (*Student, error) {
	st, err := s.dir.Student(ctx, id)
	if err != nil {
		return nil, transient("load student", err)
	}
	if st == nil {
		return nil, newError(KindNotFound, "student not found")
	}
	return st, nil
}

// authorizeScope checks the actor may act on the course.
func authorizeScope(a Actor, c *Course) error {
	switch a.Role {
	case RoleAdmin:
		return nil
	case RoleLecturer:
		if a.Department == c.Department {
			return nil
		}
	case RoleHOC:
		if a.Department == c.Department && a.Level == c.Level {
			return nil
		}
	default:
		return newError(KindUnauthorized, "role %q cannot manage attendance", a.Role)
	}
	return newError(KindUnauthorized, "cross-department session")
}

// newToken returns 128 random bits, hex encoded.
func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

var codeSpace = big.NewInt(1_000_000)

// newCode returns a uniformly drawn six digit code.
func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
