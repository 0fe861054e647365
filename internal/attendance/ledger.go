package attendance

import (
	"context"
	"fmt"
	"sort"

	"qrattendance/internal/identity"
)

// GetAttendanceByStudent returns a student's check-ins, oldest first.
func (s *Service) GetAttendanceByStudent(ctx context.Context, studentID string) ([]StudentAttendance, error) {
	items, err := s.repo.attendanceByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("student attendance: %w", err)
	}
	return items, nil
}

// GetAttendanceBySession returns who checked in to a session, in arrival order.
func (s *Service) GetAttendanceBySession(ctx context.Context, sessionID string) ([]Attendee, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	items, err := s.repo.attendanceBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session attendance: %w", err)
	}
	return items, nil
}

// GetAttendanceByCourse returns check-ins across all of a teacher's sessions
// labelled course.
func (s *Service) GetAttendanceByCourse(ctx context.Context, teacherID, course string) ([]Attendee, error) {
	if _, err := s.requireRole(ctx, teacherID, identity.RoleTeacher); err != nil {
		return nil, err
	}
	course, err := normalizeCourse(course)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.attendanceByTeacherCourse(ctx, teacherID, course)
	if err != nil {
		return nil, fmt.Errorf("course attendance: %w", err)
	}
	return items, nil
}

// GroupByCourse buckets a student's history by course, courses sorted by name
// and entries keeping their order.
func GroupByCourse(items []StudentAttendance) []CourseGroup {
	idx := map[string]int{}
	groups := []CourseGroup{}
	for _, it := range items {
		i, ok := idx[it.Course]
		if !ok {
			i = len(groups)
			idx[it.Course] = i
			groups = append(groups, CourseGroup{Course: it.Course})
		}
		groups[i].Attendances = append(groups[i].Attendances, it)
	}
	sort.SliceStable(groups, func(a, b int) bool { return groups[a].Course < groups[b].Course })
	return groups
}
