package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"classledger/internal/actor"
	"classledger/internal/advisor"
	"classledger/internal/attendance"
	"classledger/internal/auth"
	"classledger/internal/day"
	"classledger/internal/notify"
	"classledger/internal/roster"
)

const (
	testKey    = "api-test-key"
	testIssuer = "classledger-test"
)

var classA = roster.Class{Batch: "2023-2027", Level: "2ndYear", Term: "Sem3", Section: "A"}

type env struct {
	router *gin.Engine
	hub    *notify.Hub
	disp   *notify.Dispatcher
}

func newEnv(t *testing.T, checks map[string]HealthCheck) *env {
	t.Helper()
	return newLimitedEnv(t, checks, 1000)
}

func newLimitedEnv(t *testing.T, checks map[string]HealthCheck, perMinute int) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := roster.NewMemoryDirectory()
	for i, roll := range []string{"R1", "R2", "R3"} {
		_ = dir.UpsertStudent(context.Background(), roster.Student{
			ID: "s" + string(rune('1'+i)), RollNo: roll, Name: "Student " + roll, Department: "CSE", Class: classA,
		})
	}
	advStore := advisor.NewMemoryStore(
		advisor.Faculty{ID: "F1", Name: "Faculty 1", Department: "CSE"},
		advisor.Faculty{ID: "F2", Name: "Faculty 2", Department: "CSE"},
	)
	advisors := advisor.NewService(advStore, advisor.NewSynchronizer(advStore, nil, nil), advisor.Options{})

	offset, err := day.ParseOffset("+05:30")
	if err != nil {
		t.Fatalf("offset: %v", err)
	}
	fixed := time.Date(2024, 3, 12, 4, 30, 0, 0, time.UTC)
	hub := notify.NewHub(8, nil)
	disp := notify.NewDispatcher(notify.NewLocal(hub), time.Second, nil)
	att := attendance.NewService(attendance.NewMemoryStore(), roster.NewResolver(dir), advisors,
		day.NewNormalizer(offset, func() time.Time { return fixed }),
		attendance.Options{Notifier: disp})

	r := NewRouter(Deps{
		Attendance:      att,
		Advisors:        advisors,
		Hub:             hub,
		Checks:          checks,
		SigningKey:      testKey,
		Issuer:          testIssuer,
		RateLimitPerMin: perMinute,
		KeepAlive:       time.Hour,
	})
	return &env{router: r, hub: hub, disp: disp}
}

func token(t *testing.T, a actor.Actor) string {
	t.Helper()
	tok, _, err := auth.Issue(a, testIssuer, testKey, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (e *env) do(t *testing.T, method, path, tok string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

var (
	adminActor = actor.Actor{ID: "admin1", Role: actor.RoleAdmin, Department: "CSE"}
	f1         = actor.Actor{ID: "F1", Role: actor.RoleFaculty, Department: "CSE"}
	f2         = actor.Actor{ID: "F2", Role: actor.RoleFaculty, Department: "CSE"}
	s1         = actor.Actor{ID: "s1", Role: actor.RoleStudent, Department: "CSE"}
	s2         = actor.Actor{ID: "s2", Role: actor.RoleStudent, Department: "CSE"}
)

func classBody(extra map[string]any) map[string]any {
	body := map[string]any{
		"department": "CSE",
		"batch":      classA.Batch,
		"level":      classA.Level,
		"term":       classA.Term,
		"section":    classA.Section,
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

func historyPath(extra string) string {
	return "/v1/attendance/history?department=CSE&batch=" + classA.Batch + "&level=" + classA.Level +
		"&term=" + classA.Term + "&section=" + classA.Section + extra
}

func TestAttendanceFlow(t *testing.T) {
	e := newEnv(t, nil)
	admin, fac1, fac2 := token(t, adminActor), token(t, f1), token(t, f2)

	code, body := e.do(t, http.MethodPost, "/v1/advisors/assign", admin, classBody(map[string]any{"faculty_id": "F1"}))
	if code != http.StatusCreated {
		t.Fatalf("assign: expected 201, got %d %v", code, body)
	}

	code, body = e.do(t, http.MethodPost, "/v1/attendance/mark", fac2, classBody(map[string]any{"absentees": []string{"R2"}}))
	if code != http.StatusForbidden || body["error"] != "Unauthorized" {
		t.Fatalf("non-advisor mark: expected 403 Unauthorized, got %d %v", code, body)
	}

	code, body = e.do(t, http.MethodPost, "/v1/attendance/mark", fac1, classBody(map[string]any{"absentees": []string{"r2"}}))
	if code != http.StatusCreated || body["written"] != float64(3) || body["absent"] != float64(1) {
		t.Fatalf("mark: expected 201 with 3 written, got %d %v", code, body)
	}

	code, body = e.do(t, http.MethodPost, "/v1/attendance/mark", fac1, classBody(nil))
	if code != http.StatusConflict || body["error"] != "AlreadyMarked" {
		t.Fatalf("second mark: expected 409 AlreadyMarked, got %d %v", code, body)
	}

	code, body = e.do(t, http.MethodGet, historyPath(""), fac1, nil)
	if code != http.StatusOK || body["absent"] != float64(1) || body["present"] != float64(2) {
		t.Fatalf("history: got %d %v", code, body)
	}

	code, body = e.do(t, http.MethodPost, "/v1/students/me/reason", token(t, s2), map[string]any{"reason": "fever"})
	if code != http.StatusOK || body["reason"] != "fever" || body["updated_by"] != "student" {
		t.Fatalf("reason: got %d %v", code, body)
	}
	code, body = e.do(t, http.MethodPost, "/v1/students/me/reason", token(t, s1), map[string]any{"reason": "late bus"})
	if code != http.StatusUnprocessableEntity || body["error"] != "reasonOnlyWhenAbsent" {
		t.Fatalf("reason while present: got %d %v", code, body)
	}

	code, body = e.do(t, http.MethodPut, "/v1/attendance/edit", fac1, classBody(map[string]any{"absentees": []string{}}))
	if code != http.StatusOK || body["present"] != float64(3) {
		t.Fatalf("edit: got %d %v", code, body)
	}

	code, body = e.do(t, http.MethodGet, "/v1/students/me/attendance?from=2024-03-01&to=2024-03-12", token(t, s2), nil)
	recs, _ := body["records"].([]any)
	if code != http.StatusOK || len(recs) != 1 {
		t.Fatalf("student history: got %d %v", code, body)
	}
	if rec := recs[0].(map[string]any); rec["status"] != "Present" || rec["reason"] != nil {
		t.Fatalf("edit should clear the reason, got %v", rec)
	}
	e.disp.Wait()
}

func TestRequestBoundary(t *testing.T) {
	e := newEnv(t, nil)
	fac1 := token(t, f1)

	cases := []struct {
		name   string
		method string
		path   string
		tok    string
		body   any
		want   int
		code   string
	}{
		{"no token", http.MethodGet, historyPath(""), "", nil, http.StatusUnauthorized, "Unauthorized"},
		{"student on staff route", http.MethodPost, "/v1/attendance/mark", token(t, s1), classBody(nil), http.StatusForbidden, "Unauthorized"},
		{"missing class field", http.MethodPost, "/v1/attendance/mark", fac1, map[string]any{"department": "CSE"}, http.StatusBadRequest, "Invalid"},
		{"bad date", http.MethodGet, historyPath("&day=12/03/2024"), token(t, adminActor), nil, http.StatusBadRequest, "InvalidDate"},
		{"edit before mark", http.MethodPut, "/v1/attendance/edit", token(t, adminActor), classBody(nil), http.StatusConflict, "NothingToEdit"},
		{"past day", http.MethodPost, "/v1/attendance/mark", token(t, adminActor), classBody(map[string]any{"day": "2024-03-11"}), http.StatusUnprocessableEntity, "onlyTodayAllowed"},
		{"unknown roll", http.MethodPost, "/v1/attendance/mark", token(t, adminActor), classBody(map[string]any{"absentees": []string{"R9"}}), http.StatusUnprocessableEntity, "UnknownRollNumber"},
		{"faculty on admin route", http.MethodGet, "/v1/advisors", fac1, nil, http.StatusForbidden, "Unauthorized"},
		{"unknown assignment", http.MethodDelete, "/v1/advisors/nope", token(t, adminActor), nil, http.StatusNotFound, "NotFound"},
	}
	for _, tc := range cases {
		code, body := e.do(t, tc.method, tc.path, tc.tok, tc.body)
		if code != tc.want || body["error"] != tc.code {
			t.Fatalf("%s: expected %d %s, got %d %v", tc.name, tc.want, tc.code, code, body)
		}
	}
}

func TestAdvisorRoutes(t *testing.T) {
	e := newEnv(t, nil)
	admin := token(t, adminActor)

	code, body := e.do(t, http.MethodPost, "/v1/advisors/assign", admin, classBody(map[string]any{"faculty_id": "F1"}))
	if code != http.StatusCreated {
		t.Fatalf("assign F1: got %d %v", code, body)
	}
	code, body = e.do(t, http.MethodPost, "/v1/advisors/assign", admin, classBody(map[string]any{"faculty_id": "F1"}))
	if code != http.StatusOK || body["unchanged"] != true {
		t.Fatalf("same faculty should be unchanged, got %d %v", code, body)
	}
	code, body = e.do(t, http.MethodPost, "/v1/advisors/assign", admin, classBody(map[string]any{"faculty_id": "F2"}))
	if code != http.StatusCreated || body["replaced"] == nil {
		t.Fatalf("assign F2: got %d %v", code, body)
	}
	active := body["assignment"].(map[string]any)["id"].(string)

	code, body = e.do(t, http.MethodGet, "/v1/faculty/F1/assignments", token(t, f1), nil)
	if entries, _ := body["assignments"].([]any); code != http.StatusOK || len(entries) != 0 {
		t.Fatalf("F1 cache should be empty, got %d %v", code, body)
	}
	code, body = e.do(t, http.MethodGet, "/v1/faculty/F2/assignments", token(t, f2), nil)
	if entries, _ := body["assignments"].([]any); code != http.StatusOK || len(entries) != 1 {
		t.Fatalf("F2 cache should hold one entry, got %d %v", code, body)
	}
	if code, _ = e.do(t, http.MethodGet, "/v1/faculty/F2/assignments", token(t, f1), nil); code != http.StatusForbidden {
		t.Fatalf("reading another faculty's cache: expected 403, got %d", code)
	}

	code, body = e.do(t, http.MethodGet, "/v1/advisors?active_only=true", admin, nil)
	if list, _ := body["assignments"].([]any); code != http.StatusOK || len(list) != 1 {
		t.Fatalf("list active: got %d %v", code, body)
	}

	if code, body = e.do(t, http.MethodPost, "/v1/advisors/"+active+"/deactivate", admin, nil); code != http.StatusOK {
		t.Fatalf("deactivate: got %d %v", code, body)
	}
	code, body = e.do(t, http.MethodPost, "/v1/advisors/"+active+"/deactivate", admin, nil)
	if code != http.StatusConflict || body["error"] != "AlreadyInactive" {
		t.Fatalf("second deactivate: got %d %v", code, body)
	}
	if code, body = e.do(t, http.MethodPost, "/v1/faculty/F2/assignments/rebuild", admin, nil); code != http.StatusOK {
		t.Fatalf("rebuild: got %d %v", code, body)
	}
	if code, _ = e.do(t, http.MethodDelete, "/v1/advisors/"+active, admin, nil); code != http.StatusOK {
		t.Fatalf("remove: got %d", code)
	}
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, map[string]HealthCheck{
		"db":    func(context.Context) bool { return true },
		"redis": func(context.Context) bool { return false },
	})
	code, body := e.do(t, http.MethodGet, "/healthz", "", nil)
	if code != http.StatusServiceUnavailable || body["db"] != true || body["redis"] != false {
		t.Fatalf("expected degraded health, got %d %v", code, body)
	}
}

func TestChangeStream(t *testing.T) {
	e := newEnv(t, nil)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/students/me/changes?access_token="+token(t, s2), nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func(prefix string) string {
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), prefix) {
				return lines.Text()
			}
		}
		t.Fatalf("stream ended before %q: %v", prefix, lines.Err())
		return ""
	}
	next("event:ready")

	e.hub.Deliver(notify.Event{Recipient: "s1", ClassKey: classA.Key(), Day: "2024-03-12", Status: "Present"})
	e.hub.Deliver(notify.Event{Recipient: "s2", ClassKey: classA.Key(), Day: "2024-03-12", Status: "Absent"})

	next("event:change")
	data := next("data:")
	var evt map[string]string
	if err := json.Unmarshal([]byte(strings.TrimPrefix(data, "data:")), &evt); err != nil {
		t.Fatalf("decode event %q: %v", data, err)
	}
	if evt["status"] != "Absent" || evt["day"] != "2024-03-12" || evt["class_key"] != classA.Key() {
		t.Fatalf("unexpected event %v", evt)
	}

	if code, _ := e.do(t, http.MethodGet, "/v1/students/me/changes", token(t, f1), nil); code != http.StatusUnauthorized && code != http.StatusForbidden {
		t.Fatalf("faculty must not open a student stream, got %d", code)
	}
}

func TestRateLimit(t *testing.T) {
	admin := token(t, adminActor)

	e := newLimitedEnv(t, nil, 2)
	for i := 0; i < 2; i++ {
		if code, body := e.do(t, http.MethodGet, "/v1/advisors", admin, nil); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d %v", i, code, body)
		}
	}
	if code, body := e.do(t, http.MethodGet, "/v1/advisors", admin, nil); code != http.StatusTooManyRequests || body["error"] != "RateLimited" {
		t.Fatalf("expected 429 RateLimited, got %d %v", code, body)
	}

	e = newLimitedEnv(t, nil, 0)
	for i := 0; i < 20; i++ {
		if code, body := e.do(t, http.MethodGet, "/v1/advisors", admin, nil); code != http.StatusOK {
			t.Fatalf("a zero limit disables limiting, request %d got %d %v", i, code, body)
		}
	}
}
