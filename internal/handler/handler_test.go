package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"qrattendance/internal/attendance"
	"qrattendance/internal/identity"
	"qrattendance/internal/store"
	"qrattendance/internal/testutil"
)

type server struct {
	t      *testing.T
	router *gin.Engine
	users  *identity.Store
}

func newServer(t *testing.T) *server {
	t.Helper()
	return newServerWithRedis(t, nil)
}

func newServerWithRedis(t *testing.T, redis *store.Redis) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.OpenDB(t)
	users := testutil.Users(db)
	att := attendance.NewService(db, users, testutil.Codec(t), attendance.Options{
		ConfirmBaseURL: "http://localhost:3000/confirm",
	})
	h := New(db, redis, users, att, Config{
		JWTSigningKey: testutil.JWTKey,
		JWTIssuer:     testutil.JWTIssuer,
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
	})
	r := gin.New()
	h.Routes(r)
	return &server{t: t, router: r, users: users}
}

func (s *server) do(method, path, authz string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func TestRegisterLoginRefresh(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/register", "", gin.H{"email": "T1@School.edu", "password": "password123", "role": "teacher"})
	expectStatus(t, w, http.StatusCreated)
	if got := decode[map[string]any](t, w); got["role"] != "teacher" || got["email"] != "t1@school.edu" {
		t.Fatalf("unexpected register response %v", got)
	}
	expectStatus(t, s.do(http.MethodPost, "/register", "", gin.H{"email": "t1@school.edu", "password": "password123"}), http.StatusConflict)
	expectStatus(t, s.do(http.MethodPost, "/register", "", gin.H{"email": "x@school.edu", "password": "password123", "role": "admin"}), http.StatusBadRequest)
	expectStatus(t, s.do(http.MethodPost, "/register", "", gin.H{"email": "x@school.edu"}), http.StatusBadRequest)

	expectStatus(t, s.do(http.MethodPost, "/login", "", gin.H{"email": "t1@school.edu", "password": "wrong-password"}), http.StatusUnauthorized)
	w = s.do(http.MethodPost, "/login", "", gin.H{"email": "t1@school.edu", "password": "password123"})
	expectStatus(t, w, http.StatusOK)
	login := decode[map[string]any](t, w)
	if login["token_type"] != "bearer" || login["role"] != "teacher" || login["access_token"] == "" {
		t.Fatalf("unexpected login response %v", login)
	}

	access, _ := login["access_token"].(string)
	refresh, _ := login["refresh_token"].(string)
	expectStatus(t, s.do(http.MethodGet, "/qrcodes", "Bearer "+access, nil), http.StatusOK)
	expectStatus(t, s.do(http.MethodPost, "/token/refresh", "", gin.H{"refresh_token": access}), http.StatusUnauthorized)
	w = s.do(http.MethodPost, "/token/refresh", "", gin.H{"refresh_token": refresh})
	expectStatus(t, w, http.StatusOK)
	if got := decode[map[string]any](t, w); got["access_token"] == "" {
		t.Fatalf("refresh should issue a new access token: %v", got)
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	s := newServer(t)
	for _, path := range []string{"/qrcodes", "/available_qrcodes", "/absentees", "/attendances/a@b.c"} {
		expectStatus(t, s.do(http.MethodGet, path, "", nil), http.StatusUnauthorized)
	}
	expectStatus(t, s.do(http.MethodPost, "/confirm_attendance", "Bearer nope", gin.H{"token": "x"}), http.StatusUnauthorized)
}

func TestCheckinFlow(t *testing.T) {
	s := newServer(t)
	t1 := testutil.CreateUser(t, s.users, "t1@school.edu", identity.RoleTeacher)
	t2 := testutil.CreateUser(t, s.users, "t2@school.edu", identity.RoleTeacher)
	s1 := testutil.CreateUser(t, s.users, "s1@school.edu", identity.RoleStudent)
	s2 := testutil.CreateUser(t, s.users, "s2@school.edu", identity.RoleStudent)
	teacher, other, student, peer := testutil.Bearer(t, t1), testutil.Bearer(t, t2), testutil.Bearer(t, s1), testutil.Bearer(t, s2)

	expectStatus(t, s.do(http.MethodPost, "/generate_qr", student, gin.H{"course": "Algorithms"}), http.StatusForbidden)
	expectStatus(t, s.do(http.MethodPost, "/generate_qr", teacher, gin.H{"email": t2.Email, "course": "Algorithms"}), http.StatusForbidden)
	expectStatus(t, s.do(http.MethodPost, "/generate_qr", teacher, gin.H{"course": " "}), http.StatusBadRequest)

	w := s.do(http.MethodPost, "/generate_qr", teacher, gin.H{"email": t1.Email, "course": "Algorithms"})
	expectStatus(t, w, http.StatusCreated)
	created := decode[struct {
		QRID    string             `json:"qr_id"`
		Session attendance.Session `json:"session"`
	}](t, w)
	sess := created.Session
	if created.QRID != sess.ID || sess.Token == "" {
		t.Fatalf("unexpected generate response %+v", created)
	}
	if sess.QRValue != "http://localhost:3000/confirm?token="+sess.Token {
		t.Fatalf("unexpected qr value %q", sess.QRValue)
	}

	w = s.do(http.MethodGet, "/available_qrcodes", student, nil)
	expectStatus(t, w, http.StatusOK)
	if active := decode[[]attendance.Session](t, w); len(active) != 1 || active[0].TeacherEmail != t1.Email {
		t.Fatalf("unexpected active sessions %+v", active)
	}

	first := s.do(http.MethodPost, "/confirm_attendance", student, gin.H{"email": s1.Email, "token": sess.Token})
	expectStatus(t, first, http.StatusOK)
	second := s.do(http.MethodPost, "/confirm_attendance", student, gin.H{"token": sess.Token})
	expectStatus(t, second, http.StatusOK)
	if first.Body.String() != second.Body.String() {
		t.Fatalf("repeat check-in must look like the first: %s vs %s", first.Body, second.Body)
	}
	if got := decode[map[string]any](t, first); got["success"] != true {
		t.Fatalf("expected success, got %v", got)
	}

	w = s.do(http.MethodPost, "/confirm_attendance", teacher, gin.H{"token": sess.Token})
	expectStatus(t, w, http.StatusForbidden)
	if got := decode[map[string]any](t, w); got["success"] != false {
		t.Fatalf("expected failure flag, got %v", got)
	}
	expectStatus(t, s.do(http.MethodPost, "/confirm_attendance", peer, gin.H{"token": sess.Token + "x"}), http.StatusNotFound)
	expectStatus(t, s.do(http.MethodPost, "/confirm_attendance", peer, gin.H{"email": s1.Email, "token": sess.Token}), http.StatusForbidden)

	w = s.do(http.MethodGet, "/sessions/"+sess.ID+"/attendance", teacher, nil)
	expectStatus(t, w, http.StatusOK)
	if attendees := decode[[]attendance.Attendee](t, w); len(attendees) != 1 || attendees[0].Email != s1.Email {
		t.Fatalf("unexpected attendees %+v", attendees)
	}
	expectStatus(t, s.do(http.MethodGet, "/sessions/"+sess.ID+"/attendance", other, nil), http.StatusForbidden)
	expectStatus(t, s.do(http.MethodGet, "/sessions/"+sess.ID+"/attendance", student, nil), http.StatusForbidden)

	w = s.do(http.MethodGet, "/sessions/"+sess.ID+"/qr", teacher, nil)
	expectStatus(t, w, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected png, got %q", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("body is not a png")
	}

	expectStatus(t, s.do(http.MethodGet, "/qrcodes/"+t1.Email, teacher, nil), http.StatusOK)
	expectStatus(t, s.do(http.MethodGet, "/qrcodes/"+t1.Email, other, nil), http.StatusForbidden)

	w = s.do(http.MethodGet, "/attendances/"+s1.Email+"?group=course", student, nil)
	expectStatus(t, w, http.StatusOK)
	if groups := decode[[]attendance.CourseGroup](t, w); len(groups) != 1 || groups[0].Course != "Algorithms" {
		t.Fatalf("unexpected groups %+v", groups)
	}
	expectStatus(t, s.do(http.MethodGet, "/attendances/"+s1.Email, peer, nil), http.StatusForbidden)
	expectStatus(t, s.do(http.MethodGet, "/attendances/"+s1.Email, teacher, nil), http.StatusOK)
	expectStatus(t, s.do(http.MethodGet, "/attendances/ghost@school.edu", teacher, nil), http.StatusNotFound)

	w = s.do(http.MethodGet, "/attendance/Algorithms", teacher, nil)
	expectStatus(t, w, http.StatusOK)
	if items := decode[[]attendance.Attendee](t, w); len(items) != 1 {
		t.Fatalf("unexpected course attendance %+v", items)
	}

	expectStatus(t, s.do(http.MethodPost, "/sessions/"+sess.ID+"/retire", other, nil), http.StatusForbidden)
	expectStatus(t, s.do(http.MethodPost, "/sessions/"+sess.ID+"/retire", teacher, nil), http.StatusOK)
	expectStatus(t, s.do(http.MethodPost, "/confirm_attendance", peer, gin.H{"token": sess.Token}), http.StatusNotFound)
}

func TestAbsenteesAndRoster(t *testing.T) {
	s := newServer(t)
	t1 := testutil.CreateUser(t, s.users, "t1@school.edu", identity.RoleTeacher)
	a := testutil.CreateUser(t, s.users, "a@school.edu", identity.RoleStudent)
	b := testutil.CreateUser(t, s.users, "b@school.edu", identity.RoleStudent)
	teacher := testutil.Bearer(t, t1)

	w := s.do(http.MethodPost, "/generate_qr", teacher, gin.H{"course": "Compilers"})
	expectStatus(t, w, http.StatusCreated)
	sess := decode[struct {
		Session attendance.Session `json:"session"`
	}](t, w).Session

	expectStatus(t, s.do(http.MethodPut, "/courses/Compilers/roster", teacher, gin.H{"emails": []string{a.Email, b.Email}}), http.StatusOK)
	expectStatus(t, s.do(http.MethodPut, "/courses/Compilers/roster", teacher, gin.H{"emails": []string{"ghost@school.edu"}}), http.StatusBadRequest)
	expectStatus(t, s.do(http.MethodPut, "/courses/Compilers/roster", testutil.Bearer(t, a), gin.H{"emails": []string{b.Email}}), http.StatusForbidden)

	expectStatus(t, s.do(http.MethodPost, "/confirm_attendance", testutil.Bearer(t, a), gin.H{"token": sess.Token}), http.StatusOK)

	w = s.do(http.MethodGet, "/absentees?course=Compilers", teacher, nil)
	expectStatus(t, w, http.StatusOK)
	absent := decode[[]attendance.Absentee](t, w)
	if len(absent) != 1 || absent[0].Email != b.Email || absent[0].Missed != 1 {
		t.Fatalf("unexpected absentees %+v", absent)
	}
	w = s.do(http.MethodGet, "/absentees", teacher, nil)
	expectStatus(t, w, http.StatusOK)
	if all := decode[[]attendance.Absentee](t, w); len(all) != 1 {
		t.Fatalf("unexpected absentees %+v", all)
	}

	w = s.do(http.MethodGet, fmt.Sprintf("/sessions/%s/absentees", sess.ID), teacher, nil)
	expectStatus(t, w, http.StatusOK)
	if absent := decode[[]attendance.Absentee](t, w); len(absent) != 1 || absent[0].StudentID != b.ID {
		t.Fatalf("unexpected session absentees %+v", absent)
	}

	w = s.do(http.MethodGet, "/courses/Compilers/roster", teacher, nil)
	expectStatus(t, w, http.StatusOK)
	if roster := decode[[]attendance.RosterEntry](t, w); len(roster) != 2 {
		t.Fatalf("unexpected roster %+v", roster)
	}
}

func TestHealthz(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/healthz", "", nil)
	expectStatus(t, w, http.StatusOK)
	body := decode[map[string]any](t, w)
	if body["db"] != true {
		t.Fatalf("expected healthy db, got %v", body)
	}
	if _, ok := body["redis"]; ok {
		t.Fatalf("redis should be omitted when not configured: %v", body)
	}
}

func TestHealthzReportsConfiguredRedis(t *testing.T) {
	redis := store.NewRedis("127.0.0.1:1")
	t.Cleanup(func() { redis.Close() })
	s := newServerWithRedis(t, redis)

	w := s.do(http.MethodGet, "/healthz", "", nil)
	expectStatus(t, w, http.StatusServiceUnavailable)
	body := decode[map[string]any](t, w)
	if body["redis"] != false || body["status"] != "degraded" {
		t.Fatalf("unreachable redis should degrade health: %v", body)
	}
	if body["db"] != true {
		t.Fatalf("db should still report healthy: %v", body)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{attendance.ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", attendance.ErrUnauthorized), http.StatusForbidden},
		{attendance.ErrInvalidArgument, http.StatusBadRequest},
		{identity.ErrWeakPassword, http.StatusBadRequest},
		{identity.ErrInvalidCredentials, http.StatusUnauthorized},
		{identity.ErrEmailTaken, http.StatusConflict},
		{attendance.ErrConflict, http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := classify(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
	if _, msg := classify(errors.New("pq: secret detail")); msg != "server_error" {
		t.Fatalf("internal errors must not leak, got %q", msg)
	}
}
