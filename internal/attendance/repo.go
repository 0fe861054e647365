package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"qrattendance/internal/store"
)

// repository persists sessions, check-ins and rosters. It is unexported so
// that check-in rows can only be written through Service.ConfirmAttendance.
type repository struct {
	db *store.DB
}

func newRepository(db *store.DB) *repository {
	return &repository{db: db}
}

const sessionColumns = `s.id, s.course, s.created_by, u.email, s.created_at, s.token, s.qr_value, s.retired_at
	FROM sessions s JOIN users u ON u.id = s.created_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		sess    Session
		retired sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.Course, &sess.CreatedBy, &sess.TeacherEmail, &sess.CreatedAt, &sess.Token, &sess.QRValue, &retired); err != nil {
		return Session{}, err
	}
	if retired.Valid {
		t := retired.Time
		sess.RetiredAt = &t
	}
	return sess, nil
}

func (r *repository) insertSession(ctx context.Context, sess Session) error {
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO sessions (id, course, created_by, created_at, token, qr_value)
		VALUES (?, ?, ?, ?, ?, ?)
	`), sess.ID, sess.Course, sess.CreatedBy, sess.CreatedAt, sess.Token, sess.QRValue)
	return err
}

// sessionByID returns nil when the session does not exist.
func (r *repository) sessionByID(ctx context.Context, id string) (*Session, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`SELECT `+sessionColumns+` WHERE s.id = ?`), id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

func (r *repository) sessionsByTeacher(ctx context.Context, teacherID string) ([]Session, error) {
	return r.listSessions(ctx, `SELECT `+sessionColumns+`
		WHERE s.created_by = ?
		ORDER BY s.created_at DESC, s.id`, teacherID)
}

// activeSessions lists unretired sessions created at or after since; a zero
// since disables the cutoff.
func (r *repository) activeSessions(ctx context.Context, since time.Time) ([]Session, error) {
	if since.IsZero() {
		return r.listSessions(ctx, `SELECT `+sessionColumns+`
			WHERE s.retired_at IS NULL
			ORDER BY s.created_at DESC, s.id`)
	}
	return r.listSessions(ctx, `SELECT `+sessionColumns+`
		WHERE s.retired_at IS NULL AND s.created_at >= ?
		ORDER BY s.created_at DESC, s.id`, since)
}

// latestActiveByCourse returns nil when no unretired session carries the label.
func (r *repository) latestActiveByCourse(ctx context.Context, course string, since time.Time) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` WHERE s.course = ? AND s.retired_at IS NULL`
	args := []any{course}
	if !since.IsZero() {
		query += ` AND s.created_at >= ?`
		args = append(args, since)
	}
	query += ` ORDER BY s.created_at DESC, s.id LIMIT 1`
	sess, err := scanSession(r.db.Client.QueryRowContext(ctx, r.db.Rebind(query), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

func (r *repository) listSessions(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sess)
	}
	return res, rows.Err()
}

// retireSession stamps retired_at once; it reports false when already retired.
func (r *repository) retireSession(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		UPDATE sessions SET retired_at = ? WHERE id = ? AND retired_at IS NULL
	`), at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// insertRecordIfAbsent is the single write path for check-ins. The unique
// (session_id, student_id) constraint decides races: exactly one caller sees
// inserted == true.
func (r *repository) insertRecordIfAbsent(ctx context.Context, rec Record) (bool, error) {
	res, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO attendance_records (id, session_id, student_id, confirmed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`), rec.ID, rec.SessionID, rec.StudentID, rec.ConfirmedAt)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *repository) recordFor(ctx context.Context, sessionID, studentID string) (*Record, error) {
	var rec Record
	err := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, session_id, student_id, confirmed_at
		FROM attendance_records WHERE session_id = ? AND student_id = ?
	`), sessionID, studentID).Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.ConfirmedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *repository) attendanceByStudent(ctx context.Context, studentID string) ([]StudentAttendance, error) {
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(`
		SELECT s.course, a.session_id, a.confirmed_at
		FROM attendance_records a JOIN sessions s ON s.id = a.session_id
		WHERE a.student_id = ?
		ORDER BY a.confirmed_at ASC, a.id
	`), studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []StudentAttendance{}
	for rows.Next() {
		var item StudentAttendance
		if err := rows.Scan(&item.Course, &item.SessionID, &item.ConfirmedAt); err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

func (r *repository) attendanceBySession(ctx context.Context, sessionID string) ([]Attendee, error) {
	return r.listAttendees(ctx, `
		SELECT a.session_id, a.student_id, u.email, a.confirmed_at
		FROM attendance_records a JOIN users u ON u.id = a.student_id
		WHERE a.session_id = ?
		ORDER BY a.confirmed_at ASC, a.id
	`, sessionID)
}

func (r *repository) attendanceByTeacherCourse(ctx context.Context, teacherID, course string) ([]Attendee, error) {
	return r.listAttendees(ctx, `
		SELECT a.session_id, a.student_id, u.email, a.confirmed_at
		FROM attendance_records a
		JOIN sessions s ON s.id = a.session_id
		JOIN users u ON u.id = a.student_id
		WHERE s.created_by = ? AND s.course = ?
		ORDER BY a.confirmed_at ASC, a.id
	`, teacherID, course)
}

func (r *repository) listAttendees(ctx context.Context, query string, args ...any) ([]Attendee, error) {
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Attendee{}
	for rows.Next() {
		var a Attendee
		if err := rows.Scan(&a.SessionID, &a.StudentID, &a.Email, &a.ConfirmedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// courseParticipants returns the distinct students with a check-in on any
// session carrying the course label.
func (r *repository) courseParticipants(ctx context.Context, course string) ([]studentRef, error) {
	return r.listStudents(ctx, `
		SELECT DISTINCT u.id, u.email
		FROM attendance_records a
		JOIN sessions s ON s.id = a.session_id
		JOIN users u ON u.id = a.student_id
		WHERE s.course = ?
	`, course)
}

func (r *repository) listStudents(ctx context.Context, query string, args ...any) ([]studentRef, error) {
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []studentRef
	for rows.Next() {
		var ref studentRef
		if err := rows.Scan(&ref.ID, &ref.Email); err != nil {
			return nil, err
		}
		res = append(res, ref)
	}
	return res, rows.Err()
}

func (r *repository) courseSessionCount(ctx context.Context, course string) (int, error) {
	var n int
	err := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM sessions WHERE course = ?`), course).Scan(&n)
	return n, err
}

func (r *repository) courses(ctx context.Context) ([]string, error) {
	rows, err := r.db.Client.QueryContext(ctx, `SELECT DISTINCT course FROM sessions ORDER BY course`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *repository) addRosterEntries(ctx context.Context, course string, studentIDs []string, at time.Time) error {
	tx, err := r.db.Client.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt := r.db.Rebind(`
		INSERT INTO roster (course, student_id, added_at)
		VALUES (?, ?, ?)
		ON CONFLICT (course, student_id) DO NOTHING
	`)
	for _, id := range studentIDs {
		if _, err := tx.ExecContext(ctx, stmt, course, id, at); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (r *repository) roster(ctx context.Context, course string) ([]RosterEntry, error) {
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(`
		SELECT ro.course, ro.student_id, u.email, ro.added_at
		FROM roster ro JOIN users u ON u.id = ro.student_id
		WHERE ro.course = ?
		ORDER BY u.email
	`), course)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []RosterEntry{}
	for rows.Next() {
		var e RosterEntry
		if err := rows.Scan(&e.Course, &e.StudentID, &e.Email, &e.AddedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
