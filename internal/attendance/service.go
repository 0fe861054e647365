// Package attendance issues course-scoped attendance sessions, verifies
// student check-ins against them and derives who attended and who did not.
package attendance

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"qrattendance/internal/identity"
	"qrattendance/internal/metrics"
	"qrattendance/internal/qrtoken"
	"qrattendance/internal/store"
)

const maxCourseLen = 200

// Directory resolves callers and students. identity.Store satisfies it.
type Directory interface {
	GetByID(ctx context.Context, id string) (*identity.User, error)
	GetByEmail(ctx context.Context, email string) (*identity.User, error)
	ListStudents(ctx context.Context) ([]identity.User, error)
}

// Options tune session validity and absentee derivation.
type Options struct {
	// ConfirmBaseURL is the confirm page the token is appended to.
	ConfirmBaseURL string
	// SessionTTL bounds how long a session accepts check-ins and is listed
	// as active. Zero disables the cutoff.
	SessionTTL time.Duration
	// LegacyCourseCheckin allows resolving a check-in by course label when
	// no token is supplied.
	LegacyCourseCheckin bool
	// AbsenteePolicy selects the expected set for courses without a roster.
	AbsenteePolicy string
	Now            func() time.Time
}

// Service is the attendance engine.
type Service struct {
	repo  *repository
	dir   Directory
	codec *qrtoken.Codec
	opts  Options
}

// NewService wires the engine to storage, the identity directory and the token codec.
func NewService(db *store.DB, dir Directory, codec *qrtoken.Codec, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SessionTTL < 0 {
		opts.SessionTTL = 0
	}
	switch opts.AbsenteePolicy {
	case PolicyParticipants, PolicyAllStudents:
	default:
		opts.AbsenteePolicy = PolicyParticipants
	}
	return &Service{repo: newRepository(db), dir: dir, codec: codec, opts: opts}
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC().Truncate(time.Microsecond)
}

// CreateSession issues a session for course using the configured confirm page.
func (s *Service) CreateSession(ctx context.Context, teacherID, course string) (Session, error) {
	return s.CreateSessionWithURL(ctx, teacherID, course, "")
}

// CreateSessionWithURL issues a session whose QR value points at baseURL, or
// at the configured confirm page when baseURL is empty.
func (s *Service) CreateSessionWithURL(ctx context.Context, teacherID, course, baseURL string) (Session, error) {
	teacher, err := s.requireRole(ctx, teacherID, identity.RoleTeacher)
	if err != nil {
		return Session{}, err
	}
	course, err = normalizeCourse(course)
	if err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = s.opts.ConfirmBaseURL
	}

	id := uuid.New()
	token := s.codec.Encode(id)
	qrValue, err := BuildQRValue(baseURL, token)
	if err != nil {
		return Session{}, err
	}
	sess := Session{
		ID:           id.String(),
		Course:       course,
		CreatedBy:    teacher.ID,
		TeacherEmail: teacher.Email,
		CreatedAt:    s.now(),
		Token:        token,
		QRValue:      qrValue,
	}
	if err := s.repo.insertSession(ctx, sess); err != nil {
		if store.IsUniqueViolation(err) {
			return Session{}, fmt.Errorf("%w: session id collision", ErrConflict)
		}
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	metrics.SessionsCreated.Inc()
	log.Printf("session %s created for course %q by %s", sess.ID, sess.Course, teacher.Email)
	return sess, nil
}

// GetSessionsByTeacher lists a teacher's sessions, newest first, retired included.
func (s *Service) GetSessionsByTeacher(ctx context.Context, teacherID string) ([]Session, error) {
	sessions, err := s.repo.sessionsByTeacher(ctx, teacherID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// GetSessionByToken resolves a token to a session that still accepts
// check-ins. Every failure is ErrSessionNotFound.
func (s *Service) GetSessionByToken(ctx context.Context, token string) (Session, error) {
	id, err := s.codec.Decode(strings.TrimSpace(token))
	if err != nil {
		return Session{}, ErrSessionNotFound
	}
	sess, err := s.repo.sessionByID(ctx, id.String())
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || !s.open(*sess) {
		return Session{}, ErrSessionNotFound
	}
	return *sess, nil
}

// GetSession loads a session by id regardless of its state.
func (s *Service) GetSession(ctx context.Context, sessionID string) (Session, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return Session{}, ErrSessionNotFound
	}
	sess, err := s.repo.sessionByID(ctx, id.String())
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return Session{}, ErrSessionNotFound
	}
	return *sess, nil
}

// GetOwnedSession loads a session and checks it was created by teacherID.
func (s *Service) GetOwnedSession(ctx context.Context, teacherID, sessionID string) (Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.CreatedBy != teacherID {
		return Session{}, fmt.Errorf("%w: session belongs to another teacher", ErrUnauthorized)
	}
	return sess, nil
}

// ListActiveSessions lists sessions that still accept check-ins, newest first.
func (s *Service) ListActiveSessions(ctx context.Context) ([]Session, error) {
	sessions, err := s.repo.activeSessions(ctx, s.cutoff())
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

// RetireSession stops a session from accepting check-ins. Only the owner may
// retire it; retiring twice keeps the first timestamp.
func (s *Service) RetireSession(ctx context.Context, teacherID, sessionID string) (Session, error) {
	sess, err := s.GetOwnedSession(ctx, teacherID, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.Retired() {
		return sess, nil
	}
	at := s.now()
	changed, err := s.repo.retireSession(ctx, sess.ID, at)
	if err != nil {
		return Session{}, fmt.Errorf("retire session: %w", err)
	}
	if changed {
		log.Printf("session %s retired", sess.ID)
	}
	return s.GetSession(ctx, sess.ID)
}

// cutoff is the oldest creation time still accepting check-ins; zero means none.
func (s *Service) cutoff() time.Time {
	if s.opts.SessionTTL == 0 {
		return time.Time{}
	}
	return s.now().Add(-s.opts.SessionTTL)
}

func (s *Service) open(sess Session) bool {
	if sess.Retired() {
		return false
	}
	if c := s.cutoff(); !c.IsZero() && sess.CreatedAt.Before(c) {
		return false
	}
	return true
}

func (s *Service) requireRole(ctx context.Context, userID, role string) (*identity.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing caller", ErrUnauthorized)
	}
	u, err := s.dir.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve caller: %w", err)
	}
	if u == nil || u.Role != role {
		return nil, fmt.Errorf("%w: %s role required", ErrUnauthorized, role)
	}
	return u, nil
}

func normalizeCourse(course string) (string, error) {
	course = strings.TrimSpace(course)
	if course == "" {
		return "", invalid("course is required")
	}
	if utf8.RuneCountInString(course) > maxCourseLen {
		return "", invalid("course exceeds %d characters", maxCourseLen)
	}
	return course, nil
}

// BuildQRValue appends token to the confirm page URL. Any query or fragment
// on base is dropped.
func BuildQRValue(base, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", invalid("qr base url must be an absolute http(s) url")
	}
	u.RawQuery = url.Values{"token": {token}}.Encode()
	u.Fragment = ""
	return u.String(), nil
}
