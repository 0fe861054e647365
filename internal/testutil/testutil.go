// Package testutil provides in-memory databases and fixtures for package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"qrattendance/internal/auth"
	"qrattendance/internal/identity"
	"qrattendance/internal/qrtoken"
	"qrattendance/internal/store"
)

const (
	Password  = "password123"
	QRKey     = "test-qr-key"
	JWTKey    = "test-jwt-key"
	JWTIssuer = "test-issuer"
)

// OpenDB returns a migrated, private in-memory sqlite database.
func OpenDB(t testing.TB) *store.DB {
	t.Helper()
	d, err := store.NewDB(store.DriverSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// Users returns an identity store hashing with the cheapest bcrypt cost.
func Users(db *store.DB) *identity.Store {
	return identity.NewStore(db, bcrypt.MinCost)
}

// Codec returns a token codec keyed with QRKey.
func Codec(t testing.TB) *qrtoken.Codec {
	t.Helper()
	c, err := qrtoken.New(QRKey)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	return c
}

// CreateUser registers email with Password and role.
func CreateUser(t testing.TB, users *identity.Store, email, role string) identity.User {
	t.Helper()
	u, err := users.Register(context.Background(), email, Password, role)
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return u
}

// Bearer returns an Authorization header value for u signed with JWTKey.
func Bearer(t testing.TB, u identity.User) string {
	t.Helper()
	pair, err := auth.Issue(u.ID, u.Role, u.Email, JWTIssuer, JWTKey, time.Hour, 24*time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + pair.AccessToken
}
