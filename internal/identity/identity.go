// Package identity stores user accounts and verifies their credentials.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"qrattendance/internal/store"
)

// Roles a user can hold. A role is fixed at registration.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRole        = errors.New("role must be teacher or student")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists users in the shared database.
type Store struct {
	db    *store.DB
	cost  int
	dummy []byte
}

// NewStore creates a store hashing passwords with the given bcrypt cost.
func NewStore(db *store.DB, cost int) *Store {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("unused-password"), cost)
	return &Store{db: db, cost: cost, dummy: dummy}
}

// NormalizeEmail lower-cases and trims an address; emails compare case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a user. Role defaults to student when empty.
func (s *Store) Register(ctx context.Context, email, password, role string) (User, error) {
	email = NormalizeEmail(email)
	addr, err := mail.ParseAddress(email)
	// bare addresses only, no display name or angle brackets
	if err != nil || email == "" || addr.Name != "" || NormalizeEmail(addr.Address) != email {
		return User{}, ErrInvalidEmail
	}
	if len(password) < 8 {
		return User{}, ErrWeakPassword
	}
	if role == "" {
		role = RoleStudent
	}
	if role != RoleTeacher && role != RoleStudent {
		return User{}, ErrInvalidRole
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{
		ID:           uuid.NewString(),
		Email:        email,
		Role:         role,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	_, err = s.db.Client.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO users (id, email, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), u.ID, u.Email, u.PasswordHash, u.Role, u.CreatedAt)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// Authenticate checks an email/password pair.
func (s *Store) Authenticate(ctx context.Context, email, password string) (User, error) {
	u, err := s.GetByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	if u == nil {
		// Burn comparable time so unknown emails are not distinguishable.
		_ = bcrypt.CompareHashAndPassword(s.dummy, []byte(password))
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return *u, nil
}

// EnsureUser registers the account unless the email already exists.
func (s *Store) EnsureUser(ctx context.Context, email, password, role string) (User, bool, error) {
	existing, err := s.GetByEmail(ctx, email)
	if err != nil {
		return User{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}
	u, err := s.Register(ctx, email, password, role)
	if errors.Is(err, ErrEmailTaken) {
		existing, err = s.GetByEmail(ctx, email)
		if err != nil || existing == nil {
			return User{}, false, err
		}
		return *existing, false, nil
	}
	return u, err == nil, err
}

// GetByID returns nil when the user does not exist.
func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	return s.getOne(ctx, `SELECT id, email, password_hash, role, created_at FROM users WHERE id = ?`, id)
}

// GetByEmail returns nil when no user has that email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getOne(ctx, `SELECT id, email, password_hash, role, created_at FROM users WHERE email = ?`, NormalizeEmail(email))
}

// ListStudents returns every student ordered by email.
func (s *Store) ListStudents(ctx context.Context) ([]User, error) {
	rows, err := s.db.Client.QueryContext(ctx, s.db.Rebind(`
		SELECT id, email, password_hash, role, created_at
		FROM users WHERE role = ?
		ORDER BY email
	`), RoleStudent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (s *Store) getOne(ctx context.Context, query, arg string) (*User, error) {
	var u User
	err := s.db.Client.QueryRowContext(ctx, s.db.Rebind(query), arg).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
