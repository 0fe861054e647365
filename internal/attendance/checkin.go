package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"qrattendance/internal/identity"
	"qrattendance/internal/metrics"
)

// ConfirmAttendance records that studentID attended the session ref points
// at. A repeated call for the same pair returns OutcomeAlreadyConfirmed with
// the first record.
func (s *Service) ConfirmAttendance(ctx context.Context, studentID string, ref CheckinRef) (Outcome, Record, error) {
	outcome, rec, err := s.confirm(ctx, studentID, ref)

	label := string(outcome)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		label = metrics.OutcomeNotFound
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidArgument):
		label = metrics.OutcomeRejected
	case err != nil:
		label = metrics.OutcomeError
	}
	metrics.CheckinsTotal.WithLabelValues(label).Inc()
	if err != nil && label == metrics.OutcomeError {
		log.Printf("check-in by %s failed: %v", studentID, err)
	} else if err == nil {
		log.Printf("check-in %s: student %s session %s", outcome, studentID, rec.SessionID)
	}
	return outcome, rec, err
}

func (s *Service) confirm(ctx context.Context, studentID string, ref CheckinRef) (Outcome, Record, error) {
	if _, err := s.requireRole(ctx, studentID, identity.RoleStudent); err != nil {
		return "", Record{}, err
	}
	sess, err := s.resolve(ctx, ref)
	if err != nil {
		return "", Record{}, err
	}

	rec := Record{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		StudentID:   studentID,
		ConfirmedAt: s.now(),
	}
	inserted, err := s.repo.insertRecordIfAbsent(ctx, rec)
	if err != nil {
		return "", Record{}, fmt.Errorf("insert check-in: %w", err)
	}
	if inserted {
		return OutcomeConfirmed, rec, nil
	}
	existing, err := s.repo.recordFor(ctx, sess.ID, studentID)
	if err != nil {
		return "", Record{}, fmt.Errorf("load check-in: %w", err)
	}
	if existing == nil {
		return "", Record{}, fmt.Errorf("check-in for session %s skipped but no record exists", sess.ID)
	}
	return OutcomeAlreadyConfirmed, *existing, nil
}

// resolve picks the session for a check-in. The token wins when present; the
// course label is consulted only in legacy mode.
func (s *Service) resolve(ctx context.Context, ref CheckinRef) (Session, error) {
	if token := strings.TrimSpace(ref.Token); token != "" {
		return s.GetSessionByToken(ctx, token)
	}
	course := strings.TrimSpace(ref.Course)
	if course == "" || !s.opts.LegacyCourseCheckin {
		return Session{}, invalid("token is required")
	}
	sess, err := s.repo.latestActiveByCourse(ctx, course, s.cutoff())
	if err != nil {
		return Session{}, fmt.Errorf("resolve course session: %w", err)
	}
	if sess == nil {
		return Session{}, ErrSessionNotFound
	}
	return *sess, nil
}
