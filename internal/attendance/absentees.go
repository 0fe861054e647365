package attendance

import (
	"context"
	"fmt"
	"log"
	"sort"

	"qrattendance/internal/identity"
)

// GetAbsentees returns the expected students of course with no check-in on
// any session of that course. Missed is the number of sessions held.
func (s *Service) GetAbsentees(ctx context.Context, course string) ([]Absentee, error) {
	course, err := normalizeCourse(course)
	if err != nil {
		return nil, err
	}
	held, err := s.repo.courseSessionCount(ctx, course)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	if held == 0 {
		return []Absentee{}, nil
	}
	expected, err := s.expected(ctx, course)
	if err != nil {
		return nil, err
	}
	attended, err := s.repo.courseParticipants(ctx, course)
	if err != nil {
		return nil, fmt.Errorf("course participants: %w", err)
	}
	present := make(map[string]bool, len(attended))
	for _, ref := range attended {
		present[ref.ID] = true
	}
	return complement(course, expected, present, held), nil
}

// GetSessionAbsentees returns the expected students of the session's course
// who did not check in to this session.
func (s *Service) GetSessionAbsentees(ctx context.Context, sessionID string) ([]Absentee, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	expected, err := s.expected(ctx, sess.Course)
	if err != nil {
		return nil, err
	}
	attended, err := s.repo.attendanceBySession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("session attendance: %w", err)
	}
	present := make(map[string]bool, len(attended))
	for _, a := range attended {
		present[a.StudentID] = true
	}
	return complement(sess.Course, expected, present, 1), nil
}

// GetAllAbsentees runs GetAbsentees for every course with at least one session.
func (s *Service) GetAllAbsentees(ctx context.Context) ([]Absentee, error) {
	courses, err := s.repo.courses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	res := []Absentee{}
	for _, c := range courses {
		items, err := s.GetAbsentees(ctx, c)
		if err != nil {
			return nil, err
		}
		res = append(res, items...)
	}
	return res, nil
}

// expected is the roster when one exists, else the configured fallback set.
func (s *Service) expected(ctx context.Context, course string) ([]studentRef, error) {
	roster, err := s.repo.roster(ctx, course)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	if len(roster) > 0 {
		refs := make([]studentRef, 0, len(roster))
		for _, e := range roster {
			refs = append(refs, studentRef{ID: e.StudentID, Email: e.Email})
		}
		return refs, nil
	}
	if s.opts.AbsenteePolicy == PolicyAllStudents {
		users, err := s.dir.ListStudents(ctx)
		if err != nil {
			return nil, fmt.Errorf("list students: %w", err)
		}
		refs := make([]studentRef, 0, len(users))
		for _, u := range users {
			refs = append(refs, studentRef{ID: u.ID, Email: u.Email})
		}
		return refs, nil
	}
	refs, err := s.repo.courseParticipants(ctx, course)
	if err != nil {
		return nil, fmt.Errorf("course participants: %w", err)
	}
	return refs, nil
}

func complement(course string, expected []studentRef, present map[string]bool, missed int) []Absentee {
	res := []Absentee{}
	for _, ref := range expected {
		if present[ref.ID] {
			continue
		}
		res = append(res, Absentee{StudentID: ref.ID, Email: ref.Email, Course: course, Missed: missed})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Email < res[j].Email })
	return res
}

// SetRoster adds students, by email, to the expected set of course. Existing
// entries are kept.
func (s *Service) SetRoster(ctx context.Context, teacherID, course string, emails []string) ([]RosterEntry, error) {
	if _, err := s.requireRole(ctx, teacherID, identity.RoleTeacher); err != nil {
		return nil, err
	}
	course, err := normalizeCourse(course)
	if err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return nil, invalid("at least one email is required")
	}
	seen := map[string]bool{}
	ids := make([]string, 0, len(emails))
	for _, email := range emails {
		u, err := s.dir.GetByEmail(ctx, identity.NormalizeEmail(email))
		if err != nil {
			return nil, fmt.Errorf("resolve student: %w", err)
		}
		if u == nil || u.Role != identity.RoleStudent {
			return nil, invalid("%s is not a registered student", email)
		}
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		ids = append(ids, u.ID)
	}
	if err := s.repo.addRosterEntries(ctx, course, ids, s.now()); err != nil {
		return nil, fmt.Errorf("save roster: %w", err)
	}
	log.Printf("roster %q: %d students submitted", course, len(ids))
	return s.GetRoster(ctx, course)
}

// GetRoster lists the explicit expected students of course.
func (s *Service) GetRoster(ctx context.Context, course string) ([]RosterEntry, error) {
	course, err := normalizeCourse(course)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.roster(ctx, course)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	return entries, nil
}
