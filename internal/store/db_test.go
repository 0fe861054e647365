package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func openMemory(t *testing.T, name string) *DB {
	t.Helper()
	d, err := NewDB(DriverSQLite, "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestRebind(t *testing.T) {
	pg := &DB{Driver: DriverPostgres}
	got := pg.Rebind(`SELECT * FROM t WHERE a = ? AND b = ? LIMIT ?`)
	want := `SELECT * FROM t WHERE a = $1 AND b = $2 LIMIT $3`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	lite := &DB{Driver: DriverSQLite}
	if q := lite.Rebind(`SELECT ?`); q != `SELECT ?` {
		t.Fatalf("sqlite query should be unchanged, got %q", q)
	}
}

func TestNewDBRejectsUnknownDriver(t *testing.T) {
	if _, err := NewDB("mysql", "x"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestMigrationsApplyOnce(t *testing.T) {
	d := openMemory(t, "store_migrations")
	ctx := context.Background()

	if err := d.migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var count int
	if err := d.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 applied migration, got %d", count)
	}
	if !d.Healthy(ctx) {
		t.Fatalf("expected healthy db")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	d := openMemory(t, "store_unique")
	ctx := context.Background()
	insert := `INSERT INTO users (id, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	if _, err := d.Client.ExecContext(ctx, insert, "u1", "a@example.com", "x", "student", now); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := d.Client.ExecContext(ctx, insert, "u2", "a@example.com", "x", "student", now)
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if IsUniqueViolation(errors.New("boom")) || IsUniqueViolation(nil) {
		t.Fatalf("plain errors are not unique violations")
	}
}

func TestIsUniqueViolationPostgres(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: "23505"}, true},
		{fmt.Errorf("insert user: %w", &pgconn.PgError{Code: "23505"}), true},
		{fmt.Errorf("insert check-in: %w", &pgconn.PgError{Code: "23503"}), false},
		{&pgconn.PgError{Code: "40001"}, false},
	}
	for _, tc := range cases {
		if got := IsUniqueViolation(tc.err); got != tc.want {
			t.Fatalf("%v: expected %v, got %v", tc.err, tc.want, got)
		}
	}
}

func TestNilRedisIsUnhealthy(t *testing.T) {
	var r *Redis
	if r.Healthy(context.Background()) {
		t.Fatalf("nil redis should be unhealthy")
	}
	if NewRedis("") != nil {
		t.Fatalf("empty address should disable redis")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close nil redis: %v", err)
	}
}
